package s4pp

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"
)

// KeyStore resolves a wire key identifier to its shared secret bytes
// (spec.md §6: "KeyStore.lookup(keyid) → key_bytes | NotFound"). The
// returned bytes are borrowed read-only for the duration of one HMAC or
// cipher operation; implementations must never log them.
type KeyStore interface {
	Lookup(keyID string) ([]byte, error)
}

// MemKeyStore is a mutex-protected in-memory KeyStore, suitable for tests
// and small fixed-credential deployments.
type MemKeyStore struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

// NewMemKeyStore builds an empty in-memory key store.
func NewMemKeyStore() *MemKeyStore {
	return &MemKeyStore{keys: make(map[string][]byte)}
}

// Put installs or replaces the secret for keyID.
func (m *MemKeyStore) Put(keyID string, secret []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[keyID] = secret
}

// Lookup implements KeyStore.
func (m *MemKeyStore) Lookup(keyID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.keys[keyID]
	if !ok {
		return nil, ErrUnknownKeyID
	}
	return key, nil
}

// SQLiteKeyStore resolves key identifiers from a `modernc.org/sqlite`
// database, schema `keys(keyid TEXT PRIMARY KEY, secret BLOB NOT NULL)`.
type SQLiteKeyStore struct {
	db *sql.DB
}

// OpenSQLiteKeyStore opens or creates the key database at dsn and ensures
// its schema and pragmas.
func OpenSQLiteKeyStore(dsn string) (*SQLiteKeyStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", p, err)
		}
	}
	schema := `
CREATE TABLE IF NOT EXISTS keys (
  keyid  TEXT PRIMARY KEY,
  secret BLOB NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteKeyStore{db: db}, nil
}

// Put installs or replaces the secret for keyID.
func (s *SQLiteKeyStore) Put(keyID string, secret []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO keys(keyid, secret) VALUES(?, ?)
		 ON CONFLICT(keyid) DO UPDATE SET secret=excluded.secret`,
		keyID, secret)
	return err
}

// Lookup implements KeyStore.
func (s *SQLiteKeyStore) Lookup(keyID string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var secret []byte
	err := s.db.QueryRowContext(ctx, `SELECT secret FROM keys WHERE keyid=?`, keyID).Scan(&secret)
	if err == sql.ErrNoRows {
		return nil, ErrUnknownKeyID
	}
	if err != nil {
		return nil, err
	}
	return secret, nil
}

// Close closes the underlying database handle.
func (s *SQLiteKeyStore) Close() error { return s.db.Close() }

// CachingKeyStore wraps any KeyStore with a bounded LRU cache keyed by
// keyid. Cache hits and misses are never logged with the key bytes
// themselves (spec.md §5 shared-resource policy: "must not be copied into
// logs or error reports").
type CachingKeyStore struct {
	backend KeyStore
	cache   *lru.Cache[string, []byte]
}

// NewCachingKeyStore wraps backend with an LRU cache holding up to size
// entries.
func NewCachingKeyStore(backend KeyStore, size int) (*CachingKeyStore, error) {
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &CachingKeyStore{backend: backend, cache: cache}, nil
}

// Lookup implements KeyStore, consulting the cache before the backend.
func (c *CachingKeyStore) Lookup(keyID string) ([]byte, error) {
	if key, ok := c.cache.Get(keyID); ok {
		return key, nil
	}
	key, err := c.backend.Lookup(keyID)
	if err != nil {
		return nil, err
	}
	c.cache.Add(keyID, key)
	return key, nil
}
