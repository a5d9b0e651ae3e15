package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cloudpin/cloudpin/sync"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	// ExistingName is set for duplicate-content rejections: the remote
	// name already holding identical bytes.
	ExistingName string `json:"existingName,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// writeSyncError maps engine errors onto HTTP statuses. Transport-level
// failures come back as 502 because retrying is safe and the local state
// is intact.
func writeSyncError(w http.ResponseWriter, err error) {
	var dup *sync.DuplicateContentError
	switch {
	case errors.As(err, &dup):
		writeJSON(w, http.StatusConflict, errorResponse{
			Error: err.Error(), Code: "duplicate_content", ExistingName: dup.RemoteName,
		})
	case errors.Is(err, sync.ErrEntryExists):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "entry_exists"})
	case errors.Is(err, sync.ErrEntryNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, sync.ErrBusy):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "busy"})
	case errors.Is(err, sync.ErrNotSynced):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "not_synced"})
	case errors.Is(err, sync.ErrRemoteIndexCorrupt):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error(), Code: "remote_index_corrupt"})
	case errors.Is(err, sync.ErrUploadFailed):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error(), Code: "upload_failed"})
	case errors.Is(err, sync.ErrIndexCommitFailed):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error(), Code: "index_commit_failed"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}
