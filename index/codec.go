package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrFormat marks a manifest payload that cannot be decoded: malformed
// JSON, a missing version tag, or a version this build does not know.
// Not retryable without manual intervention.
var ErrFormat = errors.New("index: bad manifest format")

// wireIndex is the exchange form of the manifest. Entries are keyed by
// remote name; the name is not repeated inside the entry object.
type wireIndex struct {
	Version *int             `json:"version"`
	Entries map[string]Entry `json:"entries"`
}

// Marshal serializes the manifest payload. Serialization is deterministic:
// encoding/json emits map keys in sorted order, and timestamps are
// normalized to UTC with second precision before encoding.
func Marshal(idx *Index) ([]byte, error) {
	w := wireIndex{
		Version: &idx.Version,
		Entries: make(map[string]Entry, len(idx.entries)),
	}
	for name, e := range idx.entries {
		e.UploadedAt = normalize(e.UploadedAt)
		w.Entries[name] = e
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	return b, nil
}

// Unmarshal decodes a manifest payload. The caller owns attaching the
// pinned message id; the payload itself never carries it.
func Unmarshal(data []byte) (*Index, error) {
	var w wireIndex
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if w.Version == nil {
		return nil, fmt.Errorf("%w: missing version field", ErrFormat)
	}
	if *w.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrFormat, *w.Version)
	}

	idx := New()
	for name, e := range w.Entries {
		if name == "" {
			return nil, fmt.Errorf("%w: entry with empty remote name", ErrFormat)
		}
		e.RemoteName = name
		e.UploadedAt = normalize(e.UploadedAt)
		idx.entries[name] = e
	}
	return idx, nil
}

// normalize pins timestamps to UTC second precision so that a marshal →
// unmarshal round trip yields a value-equal manifest.
func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
