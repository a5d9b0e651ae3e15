// Package workspace derives the isolation boundary for one manifest: a
// stable key from the bot token plus the chat the bot stores files in.
// It also keeps the small local cache of bindings and last-known-good
// manifest snapshots.
package workspace

import (
	"crypto/md5" //nolint:gosec // stable namespace key, not authentication
	"encoding/hex"
)

// Workspace scopes every engine operation. No cross-workspace reads or
// writes are possible: the key namespaces local state and the chat id
// selects the remote store.
type Workspace struct {
	Key    string
	ChatID int64
}

// KeyFor derives the stable workspace key for a bot token: the first 16
// hex characters of its md5 digest. Deterministic, one-way.
func KeyFor(token string) string {
	sum := md5.Sum([]byte(token)) //nolint:gosec
	return hex.EncodeToString(sum[:])[:16]
}

// Resolve builds the workspace for a token and chat binding.
func Resolve(token string, chatID int64) Workspace {
	return Workspace{Key: KeyFor(token), ChatID: chatID}
}
