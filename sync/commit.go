package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudpin/cloudpin/index"
	"github.com/cloudpin/cloudpin/logging"
)

// AddRequest describes one file to add to the workspace.
type AddRequest struct {
	// RemoteName is the manifest key. Defaults to OriginalName.
	RemoteName string
	// OriginalName is the filename the bytes were uploaded under.
	OriginalName string
	// Data is the full file content.
	Data []byte
	// Force overwrites an existing entry with the same remote name.
	Force bool
	// AllowDuplicate proceeds even when identical content is already
	// stored under another name.
	AllowDuplicate bool
}

// CommitAdd uploads a file and commits the updated manifest. Valid only
// when synced. The live manifest is replaced only after the new manifest
// message is pinned; any earlier failure leaves it untouched. A failure
// after the file upload leaves an orphaned remote file (unreferenced but
// retrievable) and parks the engine in SyncFailed.
func (e *Engine) CommitAdd(ctx context.Context, req AddRequest) (index.Entry, error) {
	if req.RemoteName == "" {
		req.RemoteName = req.OriginalName
	}
	if req.RemoteName == "" {
		return index.Entry{}, fmt.Errorf("sync: add: remote name is required")
	}

	if err := e.acquire(true); err != nil {
		return index.Entry{}, err
	}

	l := logging.Sub("engine").With("workspace", e.ws.Key, "remoteName", req.RemoteName)

	// Pre-flight checks against the committed manifest: both abort
	// before any remote call, so state just returns to synced.
	cur := func() *index.Index {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.idx.Clone()
	}()

	if cur.Has(req.RemoteName) && !req.Force {
		e.release(StateSynced, nil, 0)
		return index.Entry{}, fmt.Errorf("%w: %q", ErrEntryExists, req.RemoteName)
	}

	hash := index.HashBytes(req.Data)
	if !req.AllowDuplicate {
		if existing, ok := cur.FindByHash(hash); ok && existing.RemoteName != req.RemoteName {
			e.release(StateSynced, nil, 0)
			return index.Entry{}, &DuplicateContentError{RemoteName: existing.RemoteName}
		}
	}

	// Step 1: upload the file content. Failure here is a safe no-op.
	uploadedAt := nowFunc().UTC().Truncate(time.Second)
	caption := fmt.Sprintf("%s · %s", req.RemoteName, uploadedAt.Format("2006-01-02 15:04:05"))
	sent, err := e.tr.SendDocument(ctx, e.ws.ChatID, req.OriginalName, caption, req.Data)
	if err != nil {
		l.Warn("file upload failed", "err", err)
		e.release(StateSynced, nil, 0)
		return index.Entry{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	entry := index.Entry{
		RemoteName:   req.RemoteName,
		OriginalName: req.OriginalName,
		SizeBytes:    uint64(len(req.Data)),
		ContentHash:  hash,
		UploadedAt:   uploadedAt,
		FileID:       sent.FileID,
	}

	// Steps 2-5: commit the updated manifest copy.
	next := cur.Clone()
	next.Put(entry)
	if err := e.commitManifest(ctx, l, next); err != nil {
		return index.Entry{}, err
	}

	l.Info("entry added", "size", entry.SizeBytes, "fileID", entry.FileID)
	return entry, nil
}

// CommitRemove removes an entry from the manifest and commits it. The
// remote file content is never deleted; only the manifest stops
// referencing it. Valid only when synced.
func (e *Engine) CommitRemove(ctx context.Context, remoteName string) error {
	if err := e.acquire(true); err != nil {
		return err
	}

	l := logging.Sub("engine").With("workspace", e.ws.Key, "remoteName", remoteName)

	next := func() *index.Index {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.idx.Clone()
	}()

	if !next.Remove(remoteName) {
		e.release(StateSynced, nil, 0)
		return fmt.Errorf("%w: %q", ErrEntryNotFound, remoteName)
	}

	if err := e.commitManifest(ctx, l, next); err != nil {
		return err
	}

	l.Info("entry removed, remote content retained")
	return nil
}

// commitManifest serializes next, sends it as a new document message,
// pins it, and best-effort unpins the previous manifest message. On
// success the live manifest is swapped for next. On failure the engine
// parks in SyncFailed and the live manifest is left untouched.
// Must be called with the single-flight slot held in the mutating state.
func (e *Engine) commitManifest(ctx context.Context, l *slog.Logger, next *index.Index) error {
	prevPin := next.PinnedMessageID

	payload, err := index.Marshal(next)
	if err != nil {
		l.Error("manifest serialization failed", "err", err)
		e.release(StateSyncFailed, nil, 0)
		return fmt.Errorf("%w: %v", ErrIndexCommitFailed, err)
	}

	filename := fmt.Sprintf("%s.index.json", e.ws.Key)
	caption := fmt.Sprintf("manifest · %d entries", next.Len())
	sent, err := e.tr.SendDocument(ctx, e.ws.ChatID, filename, caption, payload)
	if err != nil {
		l.Error("manifest write failed", "err", err)
		e.release(StateSyncFailed, nil, 0)
		return fmt.Errorf("%w: %v", ErrIndexCommitFailed, err)
	}

	if err := e.tr.PinMessage(ctx, e.ws.ChatID, sent.MessageID); err != nil {
		l.Error("manifest pin failed", "messageID", sent.MessageID, "err", err)
		e.release(StateSyncFailed, nil, 0)
		return fmt.Errorf("%w: %v", ErrIndexCommitFailed, err)
	}

	// The new manifest is authoritative from here on. Unpinning the old
	// message is best-effort: a second pinned message is a recoverable
	// inconsistency, the newest pin wins.
	if prevPin != 0 {
		if err := e.tr.UnpinMessage(ctx, e.ws.ChatID, prevPin); err != nil {
			l.Warn("unpin of previous manifest failed", "messageID", prevPin, "err", err)
		}
	}

	next.PinnedMessageID = sent.MessageID
	e.release(StateSynced, next, sent.MessageID)
	return nil
}

// Download fetches the content of a stored file by remote name.
func (e *Engine) Download(ctx context.Context, remoteName string) ([]byte, index.Entry, error) {
	entry, ok := e.Snapshot().Get(remoteName)
	if !ok {
		return nil, index.Entry{}, fmt.Errorf("%w: %q", ErrEntryNotFound, remoteName)
	}
	data, err := e.tr.DownloadFile(ctx, entry.FileID)
	if err != nil {
		return nil, index.Entry{}, fmt.Errorf("download %q: %w", remoteName, err)
	}
	return data, entry, nil
}
