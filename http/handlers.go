package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/cloudpin/cloudpin/archiver"
	"github.com/cloudpin/cloudpin/index"
	"github.com/cloudpin/cloudpin/sync"
	"github.com/cloudpin/cloudpin/telegram"
)

// fileItem is one manifest entry in API responses.
type fileItem struct {
	RemoteName   string    `json:"remoteName"`
	OriginalName string    `json:"originalName"`
	SizeBytes    uint64    `json:"sizeBytes"`
	ContentHash  string    `json:"contentHash"`
	UploadedAt   time.Time `json:"uploadedAt"`
	FileID       string    `json:"fileId"`
}

func toItem(e index.Entry) fileItem {
	return fileItem{
		RemoteName:   e.RemoteName,
		OriginalName: e.OriginalName,
		SizeBytes:    e.SizeBytes,
		ContentHash:  e.ContentHash,
		UploadedAt:   e.UploadedAt,
		FileID:       e.FileID,
	}
}

// handleChats handles GET /api/chats: the chats the bot can store into.
func (s *Server) handleChats(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	chats, err := sess.backend.KnownChats(r.Context())
	if err != nil {
		logger().Error("chat discovery failed", "workspace", sess.key, "err", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "chat discovery failed", Code: "transport"})
		return
	}
	if chats == nil {
		chats = []telegram.Chat{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

type bindChatRequest struct {
	ChatID int64 `json:"chatId"`
}

// handleBindChat handles POST /api/chat: selects the chat backing this
// workspace and syncs against it.
func (s *Server) handleBindChat(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	var req bindChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChatID == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "chatId is required"})
		return
	}

	s.bindEngine(r.Context(), sess, req.ChatID)

	if s.cache != nil {
		err := s.cache.SaveBinding(workspaceBinding(sess, req.ChatID))
		if err != nil {
			logger().Warn("binding save failed", "workspace", sess.key, "err", err)
		}
	}

	eng := sess.currentEngine()
	logger().Info("chat bound", "workspace", sess.key, "chatID", req.ChatID, "state", eng.State().String())
	writeJSON(w, http.StatusOK, map[string]any{
		"chatId": req.ChatID,
		"state":  eng.State().String(),
		"synced": eng.State() == sync.StateSynced,
	})
}

// listingIndex picks the manifest to serve reads from: the live engine
// snapshot, or the cached offline copy when the remote side was
// unreachable at bind time.
func (sess *session) listingIndex() (*index.Index, bool, bool) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.engine == nil {
		return nil, false, false
	}
	if sess.offline != nil && sess.engine.State() != sync.StateSynced {
		return sess.offline.Clone(), true, true
	}
	return sess.engine.Snapshot(), false, true
}

// handleListFiles handles GET /api/files?q=<search>&sort=<name|size|date>&order=<asc|desc>
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	idx, offline, ok := sess.listingIndex()
	if !ok {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "no chat bound", Code: "chat_unbound"})
		return
	}

	entries := idx.Entries()
	total := len(entries)
	entries = index.Search(entries, r.URL.Query().Get("q"))

	key := index.SortKey(r.URL.Query().Get("sort"))
	desc := r.URL.Query().Get("order") == "desc"
	index.Sort(entries, key, desc)

	items := make([]fileItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, toItem(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":   items,
		"total":   total,
		"offline": offline,
	})
}

// handleUpload handles POST /api/files (multipart): file plus optional
// remote_name, force, and allow_duplicate fields.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	eng := sess.currentEngine()
	if eng == nil {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "no chat bound", Code: "chat_unbound"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, telegram.MaxDocumentSize+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "read upload: " + err.Error()})
		return
	}

	req := sync.AddRequest{
		RemoteName:     r.FormValue("remote_name"),
		OriginalName:   header.Filename,
		Data:           data,
		Force:          parseBool(r.FormValue("force")),
		AllowDuplicate: parseBool(r.FormValue("allow_duplicate")),
	}

	entry, err := eng.CommitAdd(r.Context(), req)
	if err != nil {
		writeSyncError(w, err)
		return
	}
	s.persistSnapshot(sess)
	writeJSON(w, http.StatusCreated, toItem(entry))
}

// handleDownload handles GET /api/files/{name}/download.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	eng := sess.currentEngine()
	if eng == nil {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "no chat bound", Code: "chat_unbound"})
		return
	}

	name := mux.Vars(r)["name"]
	data, entry, err := eng.Download(r.Context(), name)
	if err != nil {
		writeSyncError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", `attachment; filename="`+entry.RemoteName+`"`)
	w.Write(data) //nolint:errcheck
}

// handleDelete handles DELETE /api/files/{name}. Only the manifest entry
// goes away; the remote content is retained.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	eng := sess.currentEngine()
	if eng == nil {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "no chat bound", Code: "chat_unbound"})
		return
	}

	name := mux.Vars(r)["name"]
	if err := eng.CommitRemove(r.Context(), name); err != nil {
		writeSyncError(w, err)
		return
	}
	s.persistSnapshot(sess)
	writeJSON(w, http.StatusOK, map[string]string{"removed": name})
}

type resyncRequest struct {
	AllowReset bool `json:"allowReset"`
}

// handleResync handles POST /api/resync: re-fetches the remote manifest
// from any state and surfaces conflicts with other writers.
func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	eng := sess.currentEngine()
	if eng == nil {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "no chat bound", Code: "chat_unbound"})
		return
	}

	var req resyncRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck // empty body means defaults
	}

	res, err := eng.Resync(r.Context(), sync.ResyncOptions{AllowReset: req.AllowReset})
	if err != nil {
		writeSyncError(w, err)
		return
	}

	sess.mu.Lock()
	sess.offline = nil
	sess.mu.Unlock()
	s.persistSnapshot(sess)

	writeJSON(w, http.StatusOK, map[string]any{
		"conflict":        res.Conflict,
		"reset":           res.Reset,
		"pinnedMessageId": res.PinnedMessageID,
		"entries":         eng.Snapshot().Len(),
	})
}

type uploadFolderRequest struct {
	Path       string `json:"path"`
	RemoteName string `json:"remoteName"`
	Force      bool   `json:"force"`
}

// handleUploadFolder handles POST /api/folders: zips a server-local folder
// and commits the archive as a single file.
func (s *Server) handleUploadFolder(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	eng := sess.currentEngine()
	if eng == nil {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "no chat bound", Code: "chat_unbound"})
		return
	}

	var req uploadFolderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "path is required"})
		return
	}

	data, zipName, err := archiver.ZipFolder(r.Context(), req.Path)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "archive_failed"})
		return
	}

	remoteName := req.RemoteName
	if remoteName == "" {
		remoteName = zipName
	}

	entry, err := eng.CommitAdd(r.Context(), sync.AddRequest{
		RemoteName:   remoteName,
		OriginalName: zipName,
		Data:         data,
		Force:        req.Force,
	})
	if err != nil {
		writeSyncError(w, err)
		return
	}
	s.persistSnapshot(sess)
	writeJSON(w, http.StatusCreated, toItem(entry))
}

func parseBool(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b
}
