package http

import (
	"net/http"
	"os"

	"github.com/samber/lo"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/cloudpin/cloudpin/index"
	"github.com/cloudpin/cloudpin/logging"
)

// statsResponse aggregates workspace statistics.
type statsResponse struct {
	FileCount    int                  `json:"fileCount"`
	TotalBytes   uint64               `json:"totalBytes"`
	AverageBytes uint64               `json:"averageBytes"`
	Largest      []fileItem           `json:"largest"`
	Recent       []fileItem           `json:"recent"`
	State        string               `json:"state"`
	Offline      bool                 `json:"offline"`
	DiskTotal    uint64               `json:"diskTotal"`
	DiskFree     uint64               `json:"diskFree"`
	RecentErrors []logging.ErrorEntry `json:"recentErrors"`
}

const statsTopN = 5

// handleStats handles GET /api/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	idx, offline, ok := sess.listingIndex()
	if !ok {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "no chat bound", Code: "chat_unbound"})
		return
	}

	entries := idx.Entries()
	total := lo.SumBy(entries, func(e index.Entry) uint64 { return e.SizeBytes })

	resp := statsResponse{
		FileCount:    len(entries),
		TotalBytes:   total,
		State:        sess.currentEngine().State().String(),
		Offline:      offline,
		RecentErrors: logging.RecentErrors(),
	}
	if len(entries) > 0 {
		resp.AverageBytes = total / uint64(len(entries))
	}

	largest := append([]index.Entry(nil), entries...)
	index.Sort(largest, index.SortBySize, true)
	resp.Largest = lo.Map(firstN(largest, statsTopN), func(e index.Entry, _ int) fileItem { return toItem(e) })

	recent := append([]index.Entry(nil), entries...)
	index.Sort(recent, index.SortByDate, true)
	resp.Recent = lo.Map(firstN(recent, statsTopN), func(e index.Entry, _ int) fileItem { return toItem(e) })

	// Local scratch disk, where folder archives are staged.
	if usage, err := disk.UsageWithContext(r.Context(), os.TempDir()); err == nil {
		resp.DiskTotal = usage.Total
		resp.DiskFree = usage.Free
	}

	if resp.RecentErrors == nil {
		resp.RecentErrors = []logging.ErrorEntry{}
	}

	writeJSON(w, http.StatusOK, resp)
}

func firstN(entries []index.Entry, n int) []index.Entry {
	if len(entries) < n {
		return entries
	}
	return entries[:n]
}
