// Package telegram is a minimal Bot API client covering the handful of
// calls the store needs: token check, chat discovery, document upload and
// download, and pinned-message management.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/marusama/semaphore/v2"

	"github.com/cloudpin/cloudpin/logging"
)

const (
	defaultBaseURL = "https://api.telegram.org"

	// MaxDocumentSize is the Bot API upload cap.
	MaxDocumentSize = 2 << 30

	// Download links derived from getFile stay valid for at least an
	// hour; cache the resolved paths a bit under that.
	filePathTTL = 45 * time.Minute

	defaultMaxInFlight = 4
)

// APIError is a Bot API level failure (ok=false in the envelope).
type APIError struct {
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: api error %d: %s", e.Code, e.Description)
}

// Client talks to the Bot API for a single bot token.
type Client struct {
	token   string
	baseURL string
	httpc   *http.Client
	sem     semaphore.Semaphore
	paths   *ttlcache.Cache[string, string]
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API host. Used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpc = hc }
}

// WithMaxInFlight bounds concurrent Bot API calls.
func WithMaxInFlight(n int) Option {
	return func(c *Client) { c.sem = semaphore.New(n) }
}

// New creates a client for the given bot token.
func New(token string, opts ...Option) *Client {
	c := &Client{
		token:   token,
		baseURL: defaultBaseURL,
		httpc:   &http.Client{Timeout: 90 * time.Second},
		sem:     semaphore.New(defaultMaxInFlight),
		paths: ttlcache.New(
			ttlcache.WithTTL[string, string](filePathTTL),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.paths.Start()
	return c
}

// Close releases background resources.
func (c *Client) Close() {
	c.paths.Stop()
}

func (c *Client) methodURL(method string) string {
	return c.baseURL + "/bot" + c.token + "/" + method
}

func (c *Client) fileURL(filePath string) string {
	return c.baseURL + "/file/bot" + c.token + "/" + filePath
}

// envelope is the standard Bot API response wrapper.
type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

// call posts form values to a Bot API method and decodes the result into
// out (which may be nil when only success matters).
func (c *Client) call(ctx context.Context, method string, params url.Values, out any) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer c.sem.Release(1)

	var body io.Reader
	if params != nil {
		body = bytes.NewBufferString(params.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), body)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	if params != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	return decodeEnvelope(method, resp.Body, out)
}

func decodeEnvelope(method string, r io.Reader, out any) error {
	var env envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return fmt.Errorf("telegram %s: decode response: %w", method, err)
	}
	if !env.OK {
		return fmt.Errorf("telegram %s: %w", method, &APIError{Code: env.ErrorCode, Description: env.Description})
	}
	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}

// Bot describes the bot behind the token, from getMe.
type Bot struct {
	ID       int64  `json:"id"`
	Name     string `json:"first_name"`
	Username string `json:"username"`
}

// Me validates the token and returns the bot identity.
func (c *Client) Me(ctx context.Context) (Bot, error) {
	var bot Bot
	if err := c.call(ctx, "getMe", nil, &bot); err != nil {
		return Bot{}, err
	}
	return bot, nil
}

// SentDocument identifies an uploaded document: the chat message carrying
// it and the file handle needed to fetch the bytes back.
type SentDocument struct {
	MessageID int64
	FileID    string
}

type message struct {
	MessageID int64 `json:"message_id"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	Document *struct {
		FileID   string `json:"file_id"`
		FileName string `json:"file_name"`
		FileSize int64  `json:"file_size"`
	} `json:"document"`
}

// SendDocument uploads data as a document message. The returned file id is
// the only way to retrieve the bytes later.
func (c *Client) SendDocument(ctx context.Context, chatID int64, filename, caption string, data []byte) (SentDocument, error) {
	if len(data) > MaxDocumentSize {
		return SentDocument{}, fmt.Errorf("telegram sendDocument: %q exceeds the %d byte upload cap", filename, MaxDocumentSize)
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return SentDocument{}, fmt.Errorf("telegram sendDocument: %w", err)
	}
	defer c.sem.Release(1)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return SentDocument{}, fmt.Errorf("telegram sendDocument: %w", err)
	}
	if caption != "" {
		if err := w.WriteField("caption", caption); err != nil {
			return SentDocument{}, fmt.Errorf("telegram sendDocument: %w", err)
		}
	}
	part, err := w.CreateFormFile("document", filename)
	if err != nil {
		return SentDocument{}, fmt.Errorf("telegram sendDocument: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return SentDocument{}, fmt.Errorf("telegram sendDocument: %w", err)
	}
	if err := w.Close(); err != nil {
		return SentDocument{}, fmt.Errorf("telegram sendDocument: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL("sendDocument"), &buf)
	if err != nil {
		return SentDocument{}, fmt.Errorf("telegram sendDocument: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return SentDocument{}, fmt.Errorf("telegram sendDocument: %w", err)
	}
	defer resp.Body.Close()

	var msg message
	if err := decodeEnvelope("sendDocument", resp.Body, &msg); err != nil {
		return SentDocument{}, err
	}
	if msg.Document == nil {
		return SentDocument{}, fmt.Errorf("telegram sendDocument: response message has no document")
	}

	logging.Sub("telegram").Debug("document sent",
		"chatID", chatID, "filename", filename, "messageID", msg.MessageID, "size", len(data))
	return SentDocument{MessageID: msg.MessageID, FileID: msg.Document.FileID}, nil
}

// DownloadFile fetches the bytes behind a file id. Resolved download paths
// are cached so repeated fetches skip the getFile round trip.
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	filePath := ""
	if item := c.paths.Get(fileID); item != nil {
		filePath = item.Value()
	}

	if filePath == "" {
		var info struct {
			FilePath string `json:"file_path"`
		}
		params := url.Values{"file_id": {fileID}}
		if err := c.call(ctx, "getFile", params, &info); err != nil {
			return nil, err
		}
		if info.FilePath == "" {
			return nil, fmt.Errorf("telegram getFile: empty file_path for %s", fileID)
		}
		filePath = info.FilePath
		c.paths.Set(fileID, filePath, ttlcache.DefaultTTL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.fileURL(filePath), nil)
	if err != nil {
		return nil, fmt.Errorf("telegram download: %w", err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// A stale cached path yields 404; drop it so the next attempt
		// resolves a fresh one.
		c.paths.Delete(fileID)
		return nil, fmt.Errorf("telegram download: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("telegram download: %w", err)
	}
	return data, nil
}

// PinMessage pins a chat message without notifying chat members.
func (c *Client) PinMessage(ctx context.Context, chatID, messageID int64) error {
	params := url.Values{
		"chat_id":              {strconv.FormatInt(chatID, 10)},
		"message_id":           {strconv.FormatInt(messageID, 10)},
		"disable_notification": {"true"},
	}
	return c.call(ctx, "pinChatMessage", params, nil)
}

// UnpinMessage unpins a specific chat message.
func (c *Client) UnpinMessage(ctx context.Context, chatID, messageID int64) error {
	params := url.Values{
		"chat_id":    {strconv.FormatInt(chatID, 10)},
		"message_id": {strconv.FormatInt(messageID, 10)},
	}
	return c.call(ctx, "unpinChatMessage", params, nil)
}

// PinnedDocument is the document attached to a chat's pinned message.
type PinnedDocument struct {
	MessageID int64
	FileID    string
}

// PinnedMessage returns the chat's current pinned document, or nil when
// nothing is pinned or the pinned message carries no document.
func (c *Client) PinnedMessage(ctx context.Context, chatID int64) (*PinnedDocument, error) {
	var chat struct {
		PinnedMessage *message `json:"pinned_message"`
	}
	params := url.Values{"chat_id": {strconv.FormatInt(chatID, 10)}}
	if err := c.call(ctx, "getChat", params, &chat); err != nil {
		return nil, err
	}
	if chat.PinnedMessage == nil || chat.PinnedMessage.Document == nil {
		return nil, nil
	}
	return &PinnedDocument{
		MessageID: chat.PinnedMessage.MessageID,
		FileID:    chat.PinnedMessage.Document.FileID,
	}, nil
}
