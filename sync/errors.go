package sync

import (
	"errors"
	"fmt"
)

var (
	// ErrNotSynced means the engine has no confirmed remote manifest to
	// mutate. Run Fetch or Resync first.
	ErrNotSynced = errors.New("sync: engine is not synced")

	// ErrBusy means another fetch or commit is in flight. Commits are
	// serialized per workspace; there is no queueing.
	ErrBusy = errors.New("sync: operation already in flight")

	// ErrRemoteIndexCorrupt means a pinned manifest exists but cannot be
	// decoded. The engine refuses commits until a resync succeeds, or
	// until the caller resyncs with AllowReset to start over empty.
	ErrRemoteIndexCorrupt = errors.New("sync: remote manifest is corrupt")

	// ErrUploadFailed is a transport failure while uploading file
	// content. Nothing was committed locally or remotely; retry freely.
	ErrUploadFailed = errors.New("sync: file upload failed")

	// ErrIndexCommitFailed means the file upload succeeded but writing
	// or pinning the updated manifest did not. The uploaded file is
	// orphaned remotely and the engine parks in SyncFailed until a
	// resync.
	ErrIndexCommitFailed = errors.New("sync: manifest commit failed")

	// ErrEntryExists rejects an add whose remote name is already taken.
	// Pass Force to overwrite.
	ErrEntryExists = errors.New("sync: entry already exists")

	// ErrEntryNotFound is returned for operations on unknown remote names.
	ErrEntryNotFound = errors.New("sync: entry not found")
)

// DuplicateContentError is advisory: the candidate file's content already
// exists in the manifest under another name. Callers may retry the add
// with AllowDuplicate set.
type DuplicateContentError struct {
	RemoteName string
}

func (e *DuplicateContentError) Error() string {
	return fmt.Sprintf("sync: identical content already stored as %q", e.RemoteName)
}
