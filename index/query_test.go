package index

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func names(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.RemoteName
	}
	return out
}

func TestSearch_CaseFolded(t *testing.T) {
	entries := []Entry{
		testEntry("Report-Final.PDF", 1),
		testEntry("photo.jpg", 2),
		testEntry("old-report.txt", 3),
	}

	got := Search(entries, "report")
	assert.Equal(t, []string{"Report-Final.PDF", "old-report.txt"}, names(got))

	got = Search(entries, "")
	assert.Len(t, got, 3)

	got = Search(entries, "zzz")
	assert.Empty(t, got)
}

func TestSort_NaturalNames(t *testing.T) {
	entries := []Entry{
		testEntry("file10.txt", 1),
		testEntry("file2.txt", 1),
		testEntry("file1.txt", 1),
	}

	Sort(entries, SortByName, false)
	assert.Equal(t, []string{"file1.txt", "file2.txt", "file10.txt"}, names(entries))

	Sort(entries, SortByName, true)
	assert.Equal(t, []string{"file10.txt", "file2.txt", "file1.txt"}, names(entries))
}

func TestSort_SizeAndDate(t *testing.T) {
	a := testEntry("a.txt", 300)
	b := testEntry("b.txt", 100)
	c := testEntry("c.txt", 200)
	b.UploadedAt = b.UploadedAt.Add(2 * time.Hour)
	c.UploadedAt = c.UploadedAt.Add(time.Hour)

	entries := []Entry{a, b, c}
	Sort(entries, SortBySize, false)
	assert.Equal(t, []string{"b.txt", "c.txt", "a.txt"}, names(entries))

	Sort(entries, SortByDate, true)
	assert.Equal(t, []string{"b.txt", "c.txt", "a.txt"}, names(entries))
}

func TestSort_TiesFallBackToName(t *testing.T) {
	entries := []Entry{
		testEntry("b2.txt", 5),
		testEntry("b10.txt", 5),
		testEntry("a.txt", 5),
	}
	Sort(entries, SortBySize, false)
	assert.Equal(t, []string{"a.txt", "b2.txt", "b10.txt"}, names(entries))
}
