// Package sync keeps exactly one consistent remote copy of the manifest
// per workspace. The manifest lives as a document on a pinned chat
// message; commits follow an upload-then-pin protocol with rollback, and
// "most recently pinned wins" is the only cross-client conflict rule.
package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/cloudpin/cloudpin/index"
	"github.com/cloudpin/cloudpin/logging"
	"github.com/cloudpin/cloudpin/telegram"
	"github.com/cloudpin/cloudpin/workspace"
)

// nowFunc is the time source, replaceable in tests.
var nowFunc = time.Now

// Transport is the slice of the messaging backend the engine needs.
// *telegram.Client satisfies it.
type Transport interface {
	SendDocument(ctx context.Context, chatID int64, filename, caption string, data []byte) (telegram.SentDocument, error)
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
	PinMessage(ctx context.Context, chatID, messageID int64) error
	UnpinMessage(ctx context.Context, chatID, messageID int64) error
	PinnedMessage(ctx context.Context, chatID int64) (*telegram.PinnedDocument, error)
}

// State is the engine's synchronization state.
type State int

const (
	// StateUnsynced is the initial state: no remote manifest loaded yet.
	StateUnsynced State = iota
	// StateSynced means the local manifest equals the last committed
	// remote one.
	StateSynced
	// StateMutating means a commit is in flight.
	StateMutating
	// StateSyncFailed means a commit failed after a partial remote
	// mutation. Only a resync recovers.
	StateSyncFailed
)

func (s State) String() string {
	switch s {
	case StateUnsynced:
		return "unsynced"
	case StateSynced:
		return "synced"
	case StateMutating:
		return "mutating"
	case StateSyncFailed:
		return "sync_failed"
	}
	return "unknown"
}

// Engine reconciles the local in-memory manifest with the remote pinned
// one for a single workspace. One caller at a time: concurrent fetches or
// commits are rejected with ErrBusy, never queued.
type Engine struct {
	tr Transport
	ws workspace.Workspace

	mu    gosync.Mutex
	busy  bool
	state State
	idx   *index.Index

	// lastWrittenPin is the manifest message this engine last wrote or
	// adopted. A resync that finds a different pinned message reveals
	// another writer; adopting that manifest acknowledges the conflict,
	// so the same shadowing is reported once.
	lastWrittenPin int64
}

// NewEngine creates an engine for the given workspace. It starts unsynced;
// call Fetch before committing.
func NewEngine(tr Transport, ws workspace.Workspace) *Engine {
	return &Engine{
		tr:    tr,
		ws:    ws,
		state: StateUnsynced,
		idx:   index.New(),
	}
}

// State returns the current synchronization state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Snapshot returns a copy of the local manifest for reads. It reflects
// the last successful fetch or commit, never an in-flight mutation.
func (e *Engine) Snapshot() *index.Index {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.idx.Clone()
}

// Workspace returns the workspace this engine is bound to.
func (e *Engine) Workspace() workspace.Workspace {
	return e.ws
}

// acquire claims the single-flight slot. When forCommit is set the engine
// must currently be synced and transitions to mutating.
func (e *Engine) acquire(forCommit bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy {
		return ErrBusy
	}
	if forCommit {
		if e.state != StateSynced {
			return fmt.Errorf("%w (state %s)", ErrNotSynced, e.state)
		}
		e.state = StateMutating
	}
	e.busy = true
	return nil
}

// release hands back the single-flight slot and applies the outcome.
// idx is swapped in only when non-nil.
func (e *Engine) release(next State, idx *index.Index, writtenPin int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.busy = false
	e.state = next
	if idx != nil {
		e.idx = idx
	}
	if writtenPin != 0 {
		e.lastWrittenPin = writtenPin
	}
}

// ResyncResult reports the outcome of a resync.
type ResyncResult struct {
	// Conflict is set when the remote pinned message differs from the
	// one this engine wrote last: another client has committed in the
	// meantime and its manifest is now authoritative.
	Conflict bool
	// PinnedMessageID is the authoritative manifest message, zero when
	// the workspace is empty.
	PinnedMessageID int64
	// Reset is set when a corrupt manifest was discarded via AllowReset.
	Reset bool
}

// ResyncOptions tunes Resync behavior.
type ResyncOptions struct {
	// AllowReset treats an undecodable pinned manifest as an empty
	// workspace instead of failing. The corrupt message stays pinned
	// until the next commit replaces it.
	AllowReset bool
}

// Fetch locates the pinned manifest, downloads it, and replaces the local
// copy. No pinned message means first use: the engine becomes synced over
// an empty manifest. A pinned manifest that fails to decode returns
// ErrRemoteIndexCorrupt and leaves the state unchanged.
func (e *Engine) Fetch(ctx context.Context) error {
	_, err := e.Resync(ctx, ResyncOptions{})
	return err
}

// Resync re-runs Fetch from any state. It recovers from SyncFailed and
// picks up commits made by other clients sharing the workspace, reporting
// those as a conflict rather than silently adopting them.
func (e *Engine) Resync(ctx context.Context, opts ResyncOptions) (ResyncResult, error) {
	if err := e.acquire(false); err != nil {
		return ResyncResult{}, err
	}

	l := logging.Sub("engine").With("workspace", e.ws.Key)

	keepState := func() State {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.state
	}

	pinned, err := e.tr.PinnedMessage(ctx, e.ws.ChatID)
	if err != nil {
		e.release(keepState(), nil, 0)
		return ResyncResult{}, fmt.Errorf("locate pinned manifest: %w", err)
	}

	if pinned == nil {
		// First use of the workspace: empty manifest, not an error.
		l.Info("no pinned manifest, starting empty", "chatID", e.ws.ChatID)
		e.release(StateSynced, index.New(), 0)
		return ResyncResult{}, nil
	}

	payload, err := e.tr.DownloadFile(ctx, pinned.FileID)
	if err != nil {
		e.release(keepState(), nil, 0)
		return ResyncResult{}, fmt.Errorf("download pinned manifest: %w", err)
	}

	result := ResyncResult{
		PinnedMessageID: pinned.MessageID,
	}
	e.mu.Lock()
	lastWritten := e.lastWrittenPin
	e.mu.Unlock()
	result.Conflict = lastWritten != 0 && lastWritten != pinned.MessageID

	idx, err := index.Unmarshal(payload)
	if err != nil {
		if !opts.AllowReset {
			l.Error("pinned manifest is corrupt", "messageID", pinned.MessageID, "err", err)
			e.release(keepState(), nil, 0)
			return ResyncResult{}, fmt.Errorf("%w: %v", ErrRemoteIndexCorrupt, err)
		}
		l.Warn("pinned manifest is corrupt, resetting to empty", "messageID", pinned.MessageID, "err", err)
		idx = index.New()
		result.Reset = true
	}

	if result.Conflict {
		l.Warn("pinned manifest written by another client",
			"pinnedMessageID", pinned.MessageID, "lastWritten", lastWritten)
	}

	idx.PinnedMessageID = pinned.MessageID
	e.release(StateSynced, idx, pinned.MessageID)
	l.Info("manifest synced", "entries", idx.Len(), "messageID", pinned.MessageID)
	return result, nil
}
