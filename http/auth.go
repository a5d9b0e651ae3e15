package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cloudpin/cloudpin/index"
	"github.com/cloudpin/cloudpin/sync"
	"github.com/cloudpin/cloudpin/workspace"
)

const sessionCookie = "cloudpin_session"

const sessionTTL = 24 * time.Hour

type ctxKey int

const sessionKey ctxKey = 0

// sessionFrom returns the session attached by requireSession.
func sessionFrom(r *http.Request) *session {
	sess, _ := r.Context().Value(sessionKey).(*session)
	return sess
}

func (s *Server) issueToken(key string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   key,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(sessionTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Server) parseToken(raw string) (string, error) {
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse session token: %w", err)
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", errors.New("session token has no subject")
	}
	return claims.Subject, nil
}

// sessionToken pulls the raw token from the cookie or the Authorization
// header.
func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// requireSession authenticates the request and attaches the live session.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := sessionToken(r)
		if raw == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing session", Code: "unauthorized"})
			return
		}
		key, err := s.parseToken(raw)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid session", Code: "unauthorized"})
			return
		}
		sess := s.getSession(key)
		if sess == nil {
			// Server restarted since the token was issued.
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "session expired, log in again", Code: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, sess)))
	})
}

type loginRequest struct {
	Token string `json:"token"`
}

type loginResponse struct {
	Workspace string `json:"workspace"`
	BotName   string `json:"botName"`
	Username  string `json:"botUsername"`
	ChatBound bool   `json:"chatBound"`
	ChatID    int64  `json:"chatId,omitempty"`
	Synced    bool   `json:"synced"`
	Offline   bool   `json:"offline"`
}

// handleLogin validates a bot token, restores any saved chat binding, and
// issues a session token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bot token is required"})
		return
	}

	// A live session means this token already passed validation; dialing
	// another backend would only leak it.
	key := workspace.KeyFor(req.Token)
	sess := s.getSession(key)
	if sess == nil {
		backend := s.dial(req.Token)
		bot, err := backend.Me(r.Context())
		if err != nil {
			backend.Close()
			logger().Warn("login rejected", "err", err)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "bot token rejected", Code: "bad_token"})
			return
		}
		fresh := &session{token: req.Token, key: key, backend: backend, bot: bot}
		if sess = s.putSession(fresh); sess != fresh {
			// Lost a login race for the same workspace.
			backend.Close()
		}
	}

	resp := loginResponse{Workspace: key, BotName: sess.bot.Name, Username: sess.bot.Username}

	// Restore a saved chat binding, if any, and sync eagerly.
	if s.cache != nil && sess.currentEngine() == nil {
		if b, err := s.cache.Binding(key); err == nil && b != nil {
			s.bindEngine(r.Context(), sess, b.ChatID)
		}
	}

	if eng := sess.currentEngine(); eng != nil {
		resp.ChatBound = true
		resp.ChatID = eng.Workspace().ChatID
		resp.Synced = eng.State() == sync.StateSynced
		sess.mu.Lock()
		resp.Offline = sess.offline != nil
		sess.mu.Unlock()
	}

	raw, err := s.issueToken(key)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "session issue failed"})
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    raw,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sessionTTL.Seconds()),
	})

	logger().Info("login", "workspace", key, "bot", sess.bot.Username, "chatBound", resp.ChatBound)
	writeJSON(w, http.StatusOK, resp)
}

func (sess *session) currentEngine() *sync.Engine {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.engine
}

// bindEngine creates the engine for a chat and performs the initial fetch.
// On a transport failure the cached snapshot, when present, is kept for
// offline reads; a corrupt remote manifest leaves the engine unsynced for
// the caller to resolve via resync.
func (s *Server) bindEngine(ctx context.Context, sess *session, chatID int64) {
	ws := workspace.Workspace{Key: sess.key, ChatID: chatID}
	eng := sync.NewEngine(sess.backend, ws)

	err := eng.Fetch(ctx)

	sess.mu.Lock()
	sess.engine = eng
	sess.offline = nil
	sess.mu.Unlock()

	switch {
	case err == nil:
		s.persistSnapshot(sess)
	case errors.Is(err, sync.ErrRemoteIndexCorrupt):
		logger().Error("remote manifest corrupt", "workspace", sess.key, "err", err)
	default:
		logger().Warn("initial fetch failed, trying cached snapshot", "workspace", sess.key, "err", err)
		s.loadOfflineSnapshot(sess)
	}
}

// loadOfflineSnapshot decodes the cached manifest for read-only use.
func (s *Server) loadOfflineSnapshot(sess *session) {
	if s.cache == nil {
		return
	}
	payload, savedAt, err := s.cache.Snapshot(sess.key)
	if err != nil || payload == nil {
		return
	}
	idx, err := index.Unmarshal(payload)
	if err != nil {
		logger().Warn("cached snapshot unreadable", "workspace", sess.key, "err", err)
		return
	}
	sess.mu.Lock()
	sess.offline = idx
	sess.mu.Unlock()
	logger().Info("serving cached snapshot offline", "workspace", sess.key, "savedAt", savedAt)
}
