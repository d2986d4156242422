// Package cache stores compiled programs in SQLite, keyed by a hash of
// the source text and the options that affect code generation.
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

	"github.com/chazu/milan/compiler"
	"github.com/chazu/milan/vm"
)

var log = commonlog.GetLogger("milan.cache")

// ErrNotFound indicates no program is cached under the key.
var ErrNotFound = errors.New("cache: not found")

// Cache handles SQLite storage for compiled program images.
type Cache struct {
	db   *sql.DB
	path string
	mu   sync.Mutex

	now func() time.Time
}

// Key returns the cache key for source compiled with opts.
func Key(source string, opts compiler.Options) string {
	h := sha256.New()
	h.Write([]byte(opts.Key()))
	h.Write([]byte{0})
	h.Write([]byte(source))
	return hex.EncodeToString(h.Sum(nil))
}

// Open opens or creates the cache database at path.
func Open(path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS programs (
		key     TEXT PRIMARY KEY,
		image   BLOB NOT NULL,
		created INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Cache{db: db, path: path, now: time.Now}, nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Get returns the program cached under key, or ErrNotFound.
func (c *Cache) Get(key string) (*vm.Program, error) {
	var data []byte
	err := c.db.QueryRow("SELECT image FROM programs WHERE key = ?", key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying program: %w", err)
	}

	prog, err := vm.UnmarshalProgram(data)
	if err != nil {
		// A stale or corrupt entry is a miss; the caller recompiles and
		// overwrites it.
		log.Warningf("dropping unreadable entry %s: %s", key, err)
		return nil, ErrNotFound
	}
	log.Debugf("hit %s", key)
	return prog, nil
}

// Put stores prog under key, replacing any previous entry.
func (c *Cache) Put(key string, prog *vm.Program) error {
	data, err := vm.MarshalProgram(prog)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err = c.db.Exec(
		"INSERT OR REPLACE INTO programs (key, image, created) VALUES (?, ?, ?)",
		key, data, c.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving program: %w", err)
	}
	return nil
}

// Prune deletes entries stored before cutoff and reports how many were
// removed.
func (c *Cache) Prune(cutoff time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.Exec("DELETE FROM programs WHERE created < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("pruning: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning: %w", err)
	}
	return int(n), nil
}

// Len returns the number of cached programs.
func (c *Cache) Len() (int, error) {
	var n int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM programs").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting programs: %w", err)
	}
	return n, nil
}

// Compile returns the cached program for source, compiling and storing
// it on a miss. Compile errors are never cached.
func (c *Cache) Compile(source string, opts compiler.Options) (*vm.Program, bool, error) {
	key := Key(source, opts)
	if prog, err := c.Get(key); err == nil {
		return prog, true, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	res, err := compiler.Compile(source, opts)
	if err != nil {
		return nil, false, err
	}
	if err := c.Put(key, res.Program); err != nil {
		return nil, false, err
	}
	return res.Program, false, nil
}
