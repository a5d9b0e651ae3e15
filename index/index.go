// Package index holds the in-memory file manifest and its wire codec.
// The manifest is pure data: no network or filesystem access happens here.
package index

import (
	"sort"
	"time"
)

// FormatVersion is the only manifest payload version this build understands.
const FormatVersion = 1

// Entry is one stored file's metadata. FileID is the opaque handle issued
// by the transport on upload and never changes afterwards.
type Entry struct {
	RemoteName   string    `json:"-"`
	OriginalName string    `json:"original_name"`
	SizeBytes    uint64    `json:"size_bytes"`
	ContentHash  string    `json:"content_hash"`
	UploadedAt   time.Time `json:"uploaded_at"`
	FileID       string    `json:"file_id"`
}

// Index is the full manifest for one workspace. PinnedMessageID identifies
// the chat message currently holding the serialized manifest; zero means no
// message is pinned yet. It travels next to the payload, never inside it.
type Index struct {
	Version         int
	PinnedMessageID int64

	entries map[string]Entry
}

// New returns an empty manifest at the current format version.
func New() *Index {
	return &Index{
		Version: FormatVersion,
		entries: make(map[string]Entry),
	}
}

// Len returns the number of entries.
func (idx *Index) Len() int {
	return len(idx.entries)
}

// Get looks up an entry by remote name.
func (idx *Index) Get(remoteName string) (Entry, bool) {
	e, ok := idx.entries[remoteName]
	return e, ok
}

// Has reports whether an entry with the given remote name exists.
func (idx *Index) Has(remoteName string) bool {
	_, ok := idx.entries[remoteName]
	return ok
}

// Put inserts or replaces the entry under its remote name.
func (idx *Index) Put(e Entry) {
	if idx.entries == nil {
		idx.entries = make(map[string]Entry)
	}
	idx.entries[e.RemoteName] = e
}

// Remove deletes the entry with the given remote name. It reports whether
// an entry was actually removed.
func (idx *Index) Remove(remoteName string) bool {
	if _, ok := idx.entries[remoteName]; !ok {
		return false
	}
	delete(idx.entries, remoteName)
	return true
}

// Entries returns all entries sorted by remote name.
func (idx *Index) Entries() []Entry {
	out := make([]Entry, 0, len(idx.entries))
	for _, e := range idx.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemoteName < out[j].RemoteName })
	return out
}

// FindByHash returns the first entry whose content hash matches.
// Iteration order is name order so the result is stable.
func (idx *Index) FindByHash(hash string) (Entry, bool) {
	if hash == "" {
		return Entry{}, false
	}
	for _, e := range idx.Entries() {
		if e.ContentHash == hash {
			return e, true
		}
	}
	return Entry{}, false
}

// TotalSize returns the sum of all entry sizes in bytes.
func (idx *Index) TotalSize() uint64 {
	var total uint64
	for _, e := range idx.entries {
		total += e.SizeBytes
	}
	return total
}

// Clone returns a deep copy. Commits mutate a clone and swap it in only
// after the remote side confirms, so the live manifest never holds an
// uncommitted change.
func (idx *Index) Clone() *Index {
	cp := &Index{
		Version:         idx.Version,
		PinnedMessageID: idx.PinnedMessageID,
		entries:         make(map[string]Entry, len(idx.entries)),
	}
	for k, v := range idx.entries {
		cp.entries[k] = v
	}
	return cp
}

// Equal reports whether two manifests hold the same committed content.
// PinnedMessageID is part of the comparison: two equal payloads pinned
// under different messages are different manifests.
func (idx *Index) Equal(other *Index) bool {
	if idx == nil || other == nil {
		return idx == other
	}
	if idx.Version != other.Version || idx.PinnedMessageID != other.PinnedMessageID {
		return false
	}
	if len(idx.entries) != len(other.entries) {
		return false
	}
	for name, a := range idx.entries {
		b, ok := other.entries[name]
		if !ok {
			return false
		}
		if a.RemoteName != b.RemoteName ||
			a.OriginalName != b.OriginalName ||
			a.SizeBytes != b.SizeBytes ||
			a.ContentHash != b.ContentHash ||
			a.FileID != b.FileID ||
			!a.UploadedAt.Equal(b.UploadedAt) {
			return false
		}
	}
	return true
}
