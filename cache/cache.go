// Package cache stores compiled packages keyed by a digest of their
// inputs, so that unchanged projects are not recompiled.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

// ErrClosed is returned by operations on a closed cache.
var ErrClosed = errors.New("cache is closed")

var log = commonlog.GetLogger("vavoomc.cache")

// Cache is a SQLite-backed store of compiled packages.
type Cache struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// Open opens the cache database at dbPath, creating it if needed.
func Open(dbPath string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent builds
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS packages (
		key TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		data BLOB NOT NULL,
		created INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened cache %s", dbPath)
	return &Cache{db: db, dbPath: dbPath}, nil
}

// Key derives a cache key from a package name and its inputs. Inputs are
// length-prefixed so that moving bytes between them changes the key.
func Key(name string, inputs ...[]byte) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d:%s", len(name), name)
	for _, in := range inputs {
		fmt.Fprintf(h, "%d:", len(in))
		h.Write(in)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Path returns the database file the cache was opened on.
func (c *Cache) Path() string { return c.dbPath }

// Close closes the database connection.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// Get returns the data stored under key. The boolean is false on a miss.
func (c *Cache) Get(key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil, false, ErrClosed
	}

	var data []byte
	err := c.db.QueryRow("SELECT data FROM packages WHERE key = ?", key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debugf("miss %s", key)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("querying cache: %w", err)
	}
	log.Debugf("hit %s", key)
	return data, true, nil
}

// Put stores data under key, replacing any previous entry.
func (c *Cache) Put(key, name string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return ErrClosed
	}

	_, err := c.db.Exec(
		"INSERT OR REPLACE INTO packages (key, name, data, created) VALUES (?, ?, ?, ?)",
		key, name, data, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving %s: %w", name, err)
	}
	return nil
}

// Delete removes every entry for the named package and reports how many
// were dropped.
func (c *Cache) Delete(name string) (int, error) {
	return c.exec("DELETE FROM packages WHERE name = ?", name)
}

// Purge removes every entry.
func (c *Cache) Purge() (int, error) {
	return c.exec("DELETE FROM packages")
}

func (c *Cache) exec(query string, args ...any) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return 0, ErrClosed
	}

	res, err := c.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting cache entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
