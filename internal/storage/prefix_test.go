package storage

import (
	"errors"
	"testing"
)

// writeThrough hides MemoryDB's Batcher so PrefixDB falls back to
// individual writes.
type writeThrough struct{ DB }

func TestPrefixDB(t *testing.T) {
	t.Run("atomic", func(t *testing.T) {
		testDB(t, NewPrefixDB(NewMemory(), []byte("ns/")))
	})
	t.Run("write through", func(t *testing.T) {
		testDB(t, NewPrefixDB(writeThrough{NewMemory()}, []byte("ns/")))
	})
}

func TestPrefixDB_Isolation(t *testing.T) {
	inner := NewMemory()
	a := NewPrefixDB(inner, []byte("a/"))
	b := NewPrefixDB(inner, []byte("b/"))

	a.Put([]byte("k"), []byte("from-a"))
	b.Put([]byte("k"), []byte("from-b"))

	got, _ := a.Get([]byte("k"))
	if string(got) != "from-a" {
		t.Fatalf("a.Get = %q", got)
	}
	raw, err := inner.Get([]byte("b/k"))
	if err != nil || string(raw) != "from-b" {
		t.Fatalf("inner b/k = %q, %v", raw, err)
	}

	var keys []string
	a.ForEach(nil, func(key, _ []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	if len(keys) != 1 || keys[0] != "k" {
		t.Fatalf("a.ForEach keys = %v, want [k]", keys)
	}
}

func TestPrefixDB_DeleteAll(t *testing.T) {
	inner := NewMemory()
	a := NewPrefixDB(inner, []byte("a/"))
	b := NewPrefixDB(inner, []byte("b/"))
	for _, k := range []string{"1", "2", "3"} {
		a.Put([]byte(k), []byte("v"))
	}
	b.Put([]byte("keep"), []byte("v"))

	if err := a.DeleteAll(); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if _, err := a.Get([]byte("1")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("a/1 err = %v", err)
	}
	if ok, _ := b.Has([]byte("keep")); !ok {
		t.Fatal("DeleteAll crossed namespaces")
	}
	if err := NewPrefixDB(inner, []byte("empty/")).DeleteAll(); err != nil {
		t.Fatalf("DeleteAll on empty namespace: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ok, _ := b.Has([]byte("keep")); !ok {
		t.Fatal("PrefixDB.Close closed the inner db")
	}
}
