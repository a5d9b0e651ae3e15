package index

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntry(name string, size uint64) Entry {
	return Entry{
		RemoteName:   name,
		OriginalName: name,
		SizeBytes:    size,
		ContentHash:  HashBytes([]byte(name)),
		UploadedAt:   time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC),
		FileID:       "file-" + name,
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	idx := New()
	idx.Put(testEntry("report.pdf", 2048))
	idx.Put(testEntry("photo.jpg", 512))
	idx.Put(testEntry("notes/today.txt", 17))

	data, err := Marshal(idx)
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.True(t, idx.Equal(got), "decode(encode(idx)) must equal idx")

	// And once more: re-serializing yields identical bytes.
	data2, err := Marshal(got)
	require.NoError(t, err)
	assert.Equal(t, data, data2)
}

func TestMarshal_NormalizesTimestamps(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	e := testEntry("a.txt", 1)
	e.UploadedAt = time.Date(2025, 6, 1, 17, 30, 45, 999999999, loc)

	idx := New()
	idx.Put(e)

	data, err := Marshal(idx)
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	entry, ok := got.Get("a.txt")
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC), entry.UploadedAt)
}

func TestMarshal_WireFormat(t *testing.T) {
	idx := New()
	idx.Put(testEntry("a.txt", 10))

	data, err := Marshal(idx)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "version")
	assert.Contains(t, raw, "entries")

	var entries map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw["entries"], &entries))
	require.Contains(t, entries, "a.txt")
	for _, key := range []string{"original_name", "size_bytes", "content_hash", "uploaded_at", "file_id"} {
		assert.Contains(t, entries["a.txt"], key)
	}
}

func TestUnmarshal_EmptyIndex(t *testing.T) {
	got, err := Unmarshal([]byte(`{"version":1,"entries":{}}`))
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len())
}

func TestUnmarshal_BadPayloads(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not json", "pinned something else"},
		{"truncated", `{"version":1,"entr`},
		{"missing version", `{"entries":{}}`},
		{"unsupported version", `{"version":2,"entries":{}}`},
		{"empty entry name", `{"version":1,"entries":{"":{"file_id":"x"}}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tc.data))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrFormat)
		})
	}
}

func TestClone_Isolated(t *testing.T) {
	idx := New()
	idx.Put(testEntry("a.txt", 1))
	idx.PinnedMessageID = 42

	cp := idx.Clone()
	cp.Put(testEntry("b.txt", 2))
	cp.Remove("a.txt")
	cp.PinnedMessageID = 43

	assert.Equal(t, 1, idx.Len())
	assert.True(t, idx.Has("a.txt"))
	assert.False(t, idx.Has("b.txt"))
	assert.Equal(t, int64(42), idx.PinnedMessageID)
}

func TestFindByHash(t *testing.T) {
	idx := New()
	a := testEntry("a.txt", 1)
	a.ContentHash = HashBytes([]byte("same content"))
	idx.Put(a)

	hit, ok := idx.FindByHash(HashBytes([]byte("same content")))
	require.True(t, ok)
	assert.Equal(t, "a.txt", hit.RemoteName)

	_, ok = idx.FindByHash(HashBytes([]byte("other content")))
	assert.False(t, ok)

	_, ok = idx.FindByHash("")
	assert.False(t, ok, "empty hash must never match")
}
