// Package http exposes the store as a JSON API: session login with a bot
// token, chat discovery and binding, file listing, upload, download,
// delete, resync, folder archiving, and stats.
package http

import (
	"context"
	"net/http"
	gosync "sync"

	"github.com/gorilla/mux"

	"github.com/cloudpin/cloudpin/index"
	"github.com/cloudpin/cloudpin/sync"
	"github.com/cloudpin/cloudpin/telegram"
	"github.com/cloudpin/cloudpin/workspace"
)

// Backend is everything the API needs from the messaging platform for one
// bot token. *telegram.Client satisfies it.
type Backend interface {
	sync.Transport
	Me(ctx context.Context) (telegram.Bot, error)
	KnownChats(ctx context.Context) ([]telegram.Chat, error)
	// Close releases the backend's background resources. Required so
	// clients dialed for rejected or redundant logins do not leak.
	Close()
}

// Config wires the server's collaborators.
type Config struct {
	// Cache persists chat bindings and manifest snapshots. Optional.
	Cache *workspace.Cache
	// Dial opens a backend for a bot token. Defaults to telegram.New.
	Dial func(token string) Backend
	// Secret signs session tokens.
	Secret []byte
}

// Server carries the API state: one session per workspace key.
type Server struct {
	cache  *workspace.Cache
	dial   func(token string) Backend
	secret []byte

	mu       gosync.Mutex
	sessions map[string]*session
}

// session is the live state for one authenticated workspace.
type session struct {
	mu      gosync.Mutex
	token   string
	key     string
	backend Backend
	bot     telegram.Bot

	// engine is nil until a chat is bound.
	engine *sync.Engine

	// offline holds a decoded cache snapshot served read-only when the
	// remote side is unreachable. Cleared by any successful fetch.
	offline *index.Index
}

// NewServer creates the API server.
func NewServer(cfg Config) *Server {
	dial := cfg.Dial
	if dial == nil {
		dial = func(token string) Backend { return telegram.New(token) }
	}
	return &Server{
		cache:    cfg.Cache,
		dial:     dial,
		secret:   cfg.Secret,
		sessions: make(map[string]*session),
	}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(requestLogger)

	r.HandleFunc("/api/login", s.handleLogin).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.requireSession)
	api.HandleFunc("/chats", s.handleChats).Methods(http.MethodGet)
	api.HandleFunc("/chat", s.handleBindChat).Methods(http.MethodPost)
	api.HandleFunc("/files", s.handleListFiles).Methods(http.MethodGet)
	api.HandleFunc("/files", s.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/files/{name}/download", s.handleDownload).Methods(http.MethodGet)
	api.HandleFunc("/files/{name}", s.handleDelete).Methods(http.MethodDelete)
	api.HandleFunc("/resync", s.handleResync).Methods(http.MethodPost)
	api.HandleFunc("/folders", s.handleUploadFolder).Methods(http.MethodPost)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	return r
}

// getSession returns the live session for a workspace key.
func (s *Server) getSession(key string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[key]
}

// putSession registers a session. When a concurrent login already
// registered one for the same key, the established session wins and is
// returned instead.
func (s *Server) putSession(sess *session) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[sess.key]; ok {
		return existing
	}
	s.sessions[sess.key] = sess
	return sess
}

func workspaceBinding(sess *session, chatID int64) workspace.Binding {
	return workspace.Binding{Key: sess.key, Token: sess.token, ChatID: chatID}
}

// persistSnapshot writes the engine's current manifest to the local cache
// for offline reads. Best-effort.
func (s *Server) persistSnapshot(sess *session) {
	eng := sess.currentEngine()
	if s.cache == nil || eng == nil {
		return
	}
	payload, err := index.Marshal(eng.Snapshot())
	if err != nil {
		return
	}
	if err := s.cache.SaveSnapshot(sess.key, payload); err != nil {
		logger().Warn("snapshot save failed", "workspace", sess.key, "err", err)
	}
}
