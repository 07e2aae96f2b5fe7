package storage

import (
	"errors"
	"testing"
)

func TestMemDBRoundTrip(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("get missing: got %v, want ErrKeyNotFound", err)
	}
	has, err := db.Has([]byte("missing"))
	if err != nil || has {
		t.Fatalf("has missing = %v, %v; want false", has, err)
	}

	if err := db.Put([]byte("key"), []byte("value")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := db.Get([]byte("key"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "value" {
		t.Fatalf("get = %q, want %q", got, "value")
	}
	has, err = db.Has([]byte("key"))
	if err != nil || !has {
		t.Fatalf("has = %v, %v; want true", has, err)
	}
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	value := []byte("original")
	if err := db.Put([]byte("key"), value); err != nil {
		t.Fatalf("put: %v", err)
	}
	value[0] = 'X'

	got, err := db.Get([]byte("key"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "original" {
		t.Fatalf("stored value mutated through caller slice: %q", got)
	}

	// Mutating the returned slice must not corrupt the store either.
	got[0] = 'Y'
	again, err := db.Get([]byte("key"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(again) != "original" {
		t.Fatalf("stored value mutated through returned slice: %q", again)
	}
}

func TestMemDBDelete(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	if err := db.Put([]byte("key"), []byte("value")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := db.Delete([]byte("key")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Get([]byte("key")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("get after delete: got %v, want ErrKeyNotFound", err)
	}
	has, err := db.Has([]byte("key"))
	if err != nil || has {
		t.Fatalf("has after delete = %v, %v; want false", has, err)
	}

	// Deleting an absent key is a no-op.
	if err := db.Delete([]byte("missing")); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}

func TestMemDBOverwrite(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	if err := db.Put([]byte("key"), []byte("one")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := db.Put([]byte("key"), []byte("two")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := db.Get([]byte("key"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "two" {
		t.Fatalf("get = %q, want %q", got, "two")
	}
}
