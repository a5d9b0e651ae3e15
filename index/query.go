package index

import (
	"sort"
	"strings"

	"github.com/maruel/natural"
	"golang.org/x/text/cases"
)

// SortKey selects the ordering of a listing.
type SortKey string

const (
	SortByName SortKey = "name"
	SortBySize SortKey = "size"
	SortByDate SortKey = "date"
)

var folder = cases.Fold()

// Search returns the entries whose remote name contains the query,
// case-folded. An empty query matches everything.
func Search(entries []Entry, query string) []Entry {
	if query == "" {
		return entries
	}
	q := folder.String(query)
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if strings.Contains(folder.String(e.RemoteName), q) {
			out = append(out, e)
		}
	}
	return out
}

// Sort orders entries in place by the given key. Name ordering is natural
// ("file2" before "file10"); ties on size or date fall back to name so the
// result is stable across runs.
func Sort(entries []Entry, key SortKey, descending bool) {
	var less func(i, j int) bool
	switch key {
	case SortBySize:
		less = func(i, j int) bool {
			if entries[i].SizeBytes != entries[j].SizeBytes {
				return entries[i].SizeBytes < entries[j].SizeBytes
			}
			return natural.Less(entries[i].RemoteName, entries[j].RemoteName)
		}
	case SortByDate:
		less = func(i, j int) bool {
			if !entries[i].UploadedAt.Equal(entries[j].UploadedAt) {
				return entries[i].UploadedAt.Before(entries[j].UploadedAt)
			}
			return natural.Less(entries[i].RemoteName, entries[j].RemoteName)
		}
	default:
		less = func(i, j int) bool {
			return natural.Less(entries[i].RemoteName, entries[j].RemoteName)
		}
	}
	if descending {
		inner := less
		less = func(i, j int) bool { return inner(j, i) }
	}
	sort.SliceStable(entries, less)
}
