package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	gosync "sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudpin/cloudpin/telegram"
	"github.com/cloudpin/cloudpin/workspace"
)

// fakeBackend is an in-memory messaging platform with a single pinned
// message slot per chat, like the real one.
type fakeBackend struct {
	mu       gosync.Mutex
	badToken bool
	failAll  bool // every transport call errors

	nextMsg  int64
	nextFile int
	files    map[string][]byte
	msgs     map[int64]string // message id -> file id
	pinned   map[int64]*telegram.PinnedDocument

	closes int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		files:  make(map[string][]byte),
		msgs:   make(map[int64]string),
		pinned: make(map[int64]*telegram.PinnedDocument),
	}
}

func (f *fakeBackend) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
}

func (f *fakeBackend) closeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *fakeBackend) Me(ctx context.Context) (telegram.Bot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.badToken {
		return telegram.Bot{}, &telegram.APIError{Code: 401, Description: "Unauthorized"}
	}
	return telegram.Bot{ID: 7, Name: "Cloud Bot", Username: "cloud_bot"}, nil
}

func (f *fakeBackend) KnownChats(ctx context.Context) ([]telegram.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, fmt.Errorf("fake: network down")
	}
	return []telegram.Chat{{ID: 99, Kind: "private", Title: "Ada (@ada)"}}, nil
}

func (f *fakeBackend) SendDocument(ctx context.Context, chatID int64, filename, caption string, data []byte) (telegram.SentDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return telegram.SentDocument{}, fmt.Errorf("fake: network down")
	}
	f.nextFile++
	f.nextMsg++
	fileID := fmt.Sprintf("file-%d", f.nextFile)
	f.files[fileID] = append([]byte(nil), data...)
	f.msgs[f.nextMsg] = fileID
	return telegram.SentDocument{MessageID: f.nextMsg, FileID: fileID}, nil
}

func (f *fakeBackend) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, fmt.Errorf("fake: network down")
	}
	data, ok := f.files[fileID]
	if !ok {
		return nil, fmt.Errorf("fake: no such file %q", fileID)
	}
	return append([]byte(nil), data...), nil
}

func (f *fakeBackend) PinMessage(ctx context.Context, chatID, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return fmt.Errorf("fake: network down")
	}
	f.pinned[chatID] = &telegram.PinnedDocument{MessageID: messageID, FileID: f.msgs[messageID]}
	return nil
}

func (f *fakeBackend) UnpinMessage(ctx context.Context, chatID, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return fmt.Errorf("fake: network down")
	}
	if p := f.pinned[chatID]; p != nil && p.MessageID == messageID {
		delete(f.pinned, chatID)
	}
	return nil
}

func (f *fakeBackend) PinnedMessage(ctx context.Context, chatID int64) (*telegram.PinnedDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, fmt.Errorf("fake: network down")
	}
	p := f.pinned[chatID]
	if p == nil {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

type apiClient struct {
	t    *testing.T
	base string
	hc   *http.Client
}

func newAPIClient(t *testing.T, base string) *apiClient {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &apiClient{t: t, base: base, hc: &http.Client{Jar: jar}}
}

// do sends a request and decodes the JSON response into a generic map.
func (c *apiClient) do(method, path string, body any) (int, map[string]any) {
	c.t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.base+path, r)
	require.NoError(c.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.hc.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(c.t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

// upload posts a multipart file to /api/files.
func (c *apiClient) upload(filename string, data []byte, fields map[string]string) (int, map[string]any) {
	c.t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(c.t, w.WriteField(k, v))
	}
	part, err := w.CreateFormFile("file", filename)
	require.NoError(c.t, err)
	_, err = part.Write(data)
	require.NoError(c.t, err)
	require.NoError(c.t, w.Close())

	req, err := http.NewRequest(http.MethodPost, c.base+"/api/files", &buf)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := c.hc.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(c.t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (c *apiClient) download(name string) (int, []byte) {
	c.t.Helper()
	resp, err := c.hc.Get(c.base + "/api/files/" + name + "/download")
	require.NoError(c.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return resp.StatusCode, data
}

func newTestServer(t *testing.T, cache *workspace.Cache, backend *fakeBackend) *httptest.Server {
	t.Helper()
	srv := NewServer(Config{
		Cache:  cache,
		Dial:   func(token string) Backend { return backend },
		Secret: []byte("0123456789abcdef0123456789abcdef"),
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func openTestCache(t *testing.T) *workspace.Cache {
	t.Helper()
	cache, err := workspace.OpenCache(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestLogin_BadToken(t *testing.T) {
	backend := newFakeBackend()
	backend.badToken = true
	ts := newTestServer(t, nil, backend)
	c := newAPIClient(t, ts.URL)

	status, body := c.do(http.MethodPost, "/api/login", map[string]string{"token": "bad"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "bad_token", body["code"])
	assert.Equal(t, 1, backend.closeCalls(), "rejected login must dispose the dialed backend")
}

func TestLogin_ReusesSession(t *testing.T) {
	backend := newFakeBackend()
	dials := 0
	srv := NewServer(Config{
		Dial:   func(token string) Backend { dials++; return backend },
		Secret: []byte("0123456789abcdef0123456789abcdef"),
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	c := newAPIClient(t, ts.URL)

	status, _ := c.do(http.MethodPost, "/api/login", map[string]string{"token": "12345:TESTTOKEN"})
	require.Equal(t, http.StatusOK, status)

	// A second login for the same workspace rides the live session
	// instead of dialing another backend.
	status, body := c.do(http.MethodPost, "/api/login", map[string]string{"token": "12345:TESTTOKEN"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, dials)
	assert.Equal(t, 0, backend.closeCalls())
	assert.Equal(t, "Cloud Bot", body["botName"])
	assert.Equal(t, "cloud_bot", body["botUsername"])
}

func TestSnapshotPersistDuringRebind(t *testing.T) {
	cache := openTestCache(t)
	backend := newFakeBackend()
	srv := NewServer(Config{
		Cache:  cache,
		Dial:   func(token string) Backend { return backend },
		Secret: []byte("0123456789abcdef0123456789abcdef"),
	})
	sess := &session{token: "12345:TESTTOKEN", key: "a1b2c3d4e5f60718", backend: backend}
	srv.putSession(sess)

	// Rebinding swaps the session's engine while snapshot persistence
	// reads it; both must go through the session lock.
	var wg gosync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			srv.bindEngine(context.Background(), sess, 99)
		}()
		go func() {
			defer wg.Done()
			srv.persistSnapshot(sess)
		}()
	}
	wg.Wait()

	require.NotNil(t, sess.currentEngine())
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t, nil, newFakeBackend())
	c := newAPIClient(t, ts.URL)

	status, body := c.do(http.MethodGet, "/api/files", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", body["code"])
}

func TestFileLifecycle(t *testing.T) {
	ts := newTestServer(t, openTestCache(t), newFakeBackend())
	c := newAPIClient(t, ts.URL)

	status, body := c.do(http.MethodPost, "/api/login", map[string]string{"token": "12345:TESTTOKEN"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Cloud Bot", body["botName"])
	assert.Equal(t, false, body["chatBound"])

	status, body = c.do(http.MethodGet, "/api/chats", nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body["chats"], 1)

	// Reads before a chat is bound are rejected.
	status, body = c.do(http.MethodGet, "/api/files", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "chat_unbound", body["code"])

	status, body = c.do(http.MethodPost, "/api/chat", map[string]any{"chatId": 99})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["synced"])

	status, body = c.upload("notes.txt", []byte("hello world"), nil)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "notes.txt", body["remoteName"])
	assert.Equal(t, float64(11), body["sizeBytes"])

	status, body = c.do(http.MethodGet, "/api/files", nil)
	require.Equal(t, http.StatusOK, status)
	items := body["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, false, body["offline"])

	status, data := c.download("notes.txt")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "hello world", string(data))

	status, body = c.do(http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["fileCount"])
	assert.Equal(t, float64(11), body["totalBytes"])
	assert.Equal(t, "synced", body["state"])

	status, body = c.do(http.MethodDelete, "/api/files/notes.txt", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "notes.txt", body["removed"])

	status, body = c.do(http.MethodGet, "/api/files", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["items"])

	status, body = c.do(http.MethodDelete, "/api/files/notes.txt", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["code"])
}

func TestUpload_Conflicts(t *testing.T) {
	ts := newTestServer(t, nil, newFakeBackend())
	c := newAPIClient(t, ts.URL)

	status, _ := c.do(http.MethodPost, "/api/login", map[string]string{"token": "12345:TESTTOKEN"})
	require.Equal(t, http.StatusOK, status)
	status, _ = c.do(http.MethodPost, "/api/chat", map[string]any{"chatId": 99})
	require.Equal(t, http.StatusOK, status)

	status, _ = c.upload("a.txt", []byte("content-a"), nil)
	require.Equal(t, http.StatusCreated, status)

	// Same name without force.
	status, body := c.upload("a.txt", []byte("other"), nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "entry_exists", body["code"])

	status, _ = c.upload("a.txt", []byte("other"), map[string]string{"force": "true"})
	assert.Equal(t, http.StatusCreated, status)

	// Same bytes under a different name.
	status, body = c.upload("b.txt", []byte("other"), nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "duplicate_content", body["code"])
	assert.Equal(t, "a.txt", body["existingName"])

	status, _ = c.upload("b.txt", []byte("other"), map[string]string{"allow_duplicate": "true"})
	assert.Equal(t, http.StatusCreated, status)
}

func TestResync(t *testing.T) {
	backend := newFakeBackend()
	ts := newTestServer(t, nil, backend)
	c := newAPIClient(t, ts.URL)

	status, _ := c.do(http.MethodPost, "/api/login", map[string]string{"token": "12345:TESTTOKEN"})
	require.Equal(t, http.StatusOK, status)
	status, _ = c.do(http.MethodPost, "/api/chat", map[string]any{"chatId": 99})
	require.Equal(t, http.StatusOK, status)
	status, _ = c.upload("a.txt", []byte("content-a"), nil)
	require.Equal(t, http.StatusCreated, status)

	status, body := c.do(http.MethodPost, "/api/resync", map[string]any{})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["conflict"])
	assert.Equal(t, false, body["reset"])
	assert.Equal(t, float64(1), body["entries"])
}

func TestOfflineSnapshot(t *testing.T) {
	cache := openTestCache(t)
	backend := newFakeBackend()

	// First run: bind and upload so a binding and snapshot land in the
	// cache.
	ts := newTestServer(t, cache, backend)
	c := newAPIClient(t, ts.URL)
	status, _ := c.do(http.MethodPost, "/api/login", map[string]string{"token": "12345:TESTTOKEN"})
	require.Equal(t, http.StatusOK, status)
	status, _ = c.do(http.MethodPost, "/api/chat", map[string]any{"chatId": 99})
	require.Equal(t, http.StatusOK, status)
	status, _ = c.upload("notes.txt", []byte("hello"), nil)
	require.Equal(t, http.StatusCreated, status)
	ts.Close()

	// Second run: the platform is unreachable, but login still restores
	// the binding and the cached manifest serves reads.
	backend.mu.Lock()
	backend.failAll = true
	backend.mu.Unlock()
	ts2 := newTestServer(t, cache, backend)
	c2 := newAPIClient(t, ts2.URL)

	status, body := c2.do(http.MethodPost, "/api/login", map[string]string{"token": "12345:TESTTOKEN"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["chatBound"])
	assert.Equal(t, false, body["synced"])
	assert.Equal(t, true, body["offline"])

	status, body = c2.do(http.MethodGet, "/api/files", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["offline"])
	items := body["items"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "notes.txt", item["remoteName"])
}
