package s4pp

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMemKeyStore_PutLookup(t *testing.T) {
	ks := NewMemKeyStore()
	if _, err := ks.Lookup("nope"); err != ErrUnknownKeyID {
		t.Errorf("got %v, want ErrUnknownKeyID", err)
	}

	ks.Put("k1", []byte("secret"))
	got, err := ks.Lookup("k1")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "secret" {
		t.Errorf("got %q, want %q", got, "secret")
	}
}

func TestSQLiteKeyStore_PutLookup(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "s4pp-keystore-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	dbPath := filepath.Join(tmpDir, "keys.db")
	store, err := OpenSQLiteKeyStore(dbPath)
	if err != nil {
		t.Fatalf("OpenSQLiteKeyStore failed: %v", err)
	}
	defer store.Close()

	if _, err := store.Lookup("missing"); err != ErrUnknownKeyID {
		t.Errorf("got %v, want ErrUnknownKeyID", err)
	}

	if err := store.Put("k1", []byte("secret-one")); err != nil {
		t.Fatal(err)
	}
	got, err := store.Lookup("k1")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "secret-one" {
		t.Errorf("got %q, want %q", got, "secret-one")
	}

	// Put again overwrites rather than erroring.
	if err := store.Put("k1", []byte("secret-two")); err != nil {
		t.Fatal(err)
	}
	got, err = store.Lookup("k1")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "secret-two" {
		t.Errorf("got %q, want %q", got, "secret-two")
	}
}

func TestSQLiteKeyStore_Persistence(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "s4pp-keystore-persist-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	dbPath := filepath.Join(tmpDir, "keys.db")
	store, err := OpenSQLiteKeyStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Put("persisted", []byte("value")); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenSQLiteKeyStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	got, err := reopened.Lookup("persisted")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "value" {
		t.Errorf("got %q, want %q", got, "value")
	}
}

type countingKeyStore struct {
	lookups int
	secret  []byte
}

func (c *countingKeyStore) Lookup(keyID string) ([]byte, error) {
	c.lookups++
	if keyID != "k1" {
		return nil, ErrUnknownKeyID
	}
	return c.secret, nil
}

func TestCachingKeyStore_HitsBackendOnceThenCaches(t *testing.T) {
	backend := &countingKeyStore{secret: []byte("cached-secret")}
	cache, err := NewCachingKeyStore(backend, 8)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		got, err := cache.Lookup("k1")
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != "cached-secret" {
			t.Errorf("got %q, want %q", got, "cached-secret")
		}
	}
	if backend.lookups != 1 {
		t.Errorf("backend.Lookup called %d times, want 1 (cache should absorb repeats)", backend.lookups)
	}
}

func TestCachingKeyStore_PropagatesMiss(t *testing.T) {
	backend := &countingKeyStore{secret: []byte("cached-secret")}
	cache, err := NewCachingKeyStore(backend, 8)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Lookup("unknown"); err != ErrUnknownKeyID {
		t.Errorf("got %v, want ErrUnknownKeyID", err)
	}
}
