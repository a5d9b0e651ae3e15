package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/asdine/storm/v3"
	"github.com/mitchellh/go-homedir"

	"github.com/cloudpin/cloudpin/logging"
)

// Binding is the saved chat selection for a workspace. It lets a returning
// user skip chat discovery.
type Binding struct {
	Key       string `storm:"id"`
	Token     string
	ChatID    int64
	CreatedAt time.Time
}

// Snapshot is a last-known-good serialized manifest, kept for offline
// reads only. It is never authoritative: a successful fetch always
// supersedes it.
type Snapshot struct {
	Key     string `storm:"id"`
	Payload []byte
	SavedAt time.Time
}

// Cache is the local per-user state database.
type Cache struct {
	db *storm.DB
}

// DefaultCachePath returns the cache database location under the user's
// home directory.
func DefaultCachePath() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".cloudpin", "cache.db"), nil
}

// OpenCache opens (or creates) the cache database at path.
func OpenCache(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := storm.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	logging.Sub("cache").Info("cache opened", "path", path)
	return &Cache{db: db}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// SaveBinding stores or replaces the chat binding for a workspace.
func (c *Cache) SaveBinding(b Binding) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	if err := c.db.Save(&b); err != nil {
		return fmt.Errorf("save binding: %w", err)
	}
	logging.Sub("cache").Debug("binding saved", "workspace", b.Key, "chatID", b.ChatID)
	return nil
}

// Binding returns the saved binding for a workspace key, or nil when none
// exists.
func (c *Cache) Binding(key string) (*Binding, error) {
	var b Binding
	err := c.db.One("Key", key, &b)
	if err == storm.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load binding: %w", err)
	}
	return &b, nil
}

// DeleteBinding removes the binding for a workspace key. Removing a
// missing binding is a no-op.
func (c *Cache) DeleteBinding(key string) error {
	err := c.db.DeleteStruct(&Binding{Key: key})
	if err != nil && err != storm.ErrNotFound {
		return fmt.Errorf("delete binding: %w", err)
	}
	return nil
}

// SaveSnapshot stores the last-known-good manifest payload for offline
// reads.
func (c *Cache) SaveSnapshot(key string, payload []byte) error {
	s := Snapshot{Key: key, Payload: payload, SavedAt: time.Now().UTC()}
	if err := c.db.Save(&s); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	logging.Sub("cache").Debug("snapshot saved", "workspace", key, "bytes", len(payload))
	return nil
}

// Snapshot returns the cached manifest payload and when it was saved, or
// nil when no snapshot exists.
func (c *Cache) Snapshot(key string) ([]byte, time.Time, error) {
	var s Snapshot
	err := c.db.One("Key", key, &s)
	if err == storm.ErrNotFound {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("load snapshot: %w", err)
	}
	return s.Payload, s.SavedAt, nil
}
