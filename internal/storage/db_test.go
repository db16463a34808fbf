package storage

import (
	"bytes"
	"errors"
	"testing"
)

// testDB runs the shared test suite against a DB implementation.
func testDB(t *testing.T, db DB) {
	t.Helper()

	t.Run("PutGetOverwrite", func(t *testing.T) {
		db.Put([]byte("k"), []byte("first"))
		db.Put([]byte("k"), []byte("second"))
		val, err := db.Get([]byte("k"))
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		if !bytes.Equal(val, []byte("second")) {
			t.Errorf("Get() = %q, want %q", val, "second")
		}
	})

	t.Run("GetNonexistent", func(t *testing.T) {
		if _, err := db.Get([]byte("nonexistent")); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get() err = %v, want ErrNotFound", err)
		}
	})

	t.Run("HasDelete", func(t *testing.T) {
		db.Put([]byte("del"), []byte("v"))
		if ok, _ := db.Has([]byte("del")); !ok {
			t.Fatal("Has() = false for existing key")
		}
		if err := db.Delete([]byte("del")); err != nil {
			t.Fatalf("Delete() error: %v", err)
		}
		if ok, _ := db.Has([]byte("del")); ok {
			t.Error("key present after Delete()")
		}
		if err := db.Delete([]byte("never-existed")); err != nil {
			t.Errorf("Delete() nonexistent key error: %v", err)
		}
	})

	t.Run("ValueIsCopied", func(t *testing.T) {
		v := []byte("abc")
		db.Put([]byte("copy"), v)
		v[0] = 'x'
		got, _ := db.Get([]byte("copy"))
		if string(got) != "abc" {
			t.Errorf("stored value aliased caller buffer: %q", got)
		}
	})

	t.Run("ForEachOrdered", func(t *testing.T) {
		db.Put([]byte("prefix/c"), []byte("3"))
		db.Put([]byte("prefix/a"), []byte("1"))
		db.Put([]byte("prefix/b"), []byte("2"))
		db.Put([]byte("other/x"), []byte("4"))

		var got []string
		err := db.ForEach([]byte("prefix/"), func(key, value []byte) error {
			got = append(got, string(key)+"="+string(value))
			return nil
		})
		if err != nil {
			t.Fatalf("ForEach() error: %v", err)
		}
		want := []string{"prefix/a=1", "prefix/b=2", "prefix/c=3"}
		if len(got) != len(want) {
			t.Fatalf("ForEach() = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("ForEach()[%d] = %s, want %s", i, got[i], want[i])
			}
		}
	})

	t.Run("ForEachStop", func(t *testing.T) {
		stop := errors.New("stop")
		n := 0
		err := db.ForEach([]byte("prefix/"), func(_, _ []byte) error {
			n++
			return stop
		})
		if !errors.Is(err, stop) || n != 1 {
			t.Errorf("ForEach() = %v after %d calls", err, n)
		}
	})

	t.Run("Batch", func(t *testing.T) {
		batcher, ok := db.(Batcher)
		if !ok {
			t.Skip("not a Batcher")
		}
		db.Put([]byte("batch/old"), []byte("x"))
		b := batcher.NewBatch()
		b.Put([]byte("batch/a"), []byte("1"))
		b.Delete([]byte("batch/old"))
		if ok, _ := db.Has([]byte("batch/a")); ok {
			t.Fatal("batch write visible before Commit")
		}
		if err := b.Commit(); err != nil {
			t.Fatalf("Commit() error: %v", err)
		}
		if ok, _ := db.Has([]byte("batch/a")); !ok {
			t.Error("batch put missing after Commit")
		}
		if ok, _ := db.Has([]byte("batch/old")); ok {
			t.Error("batch delete not applied")
		}
	})
}

func TestMemoryDB(t *testing.T) {
	db := NewMemory()
	defer db.Close()
	testDB(t, db)
}

func TestBadgerDB(t *testing.T) {
	db, err := NewBadger(t.TempDir())
	if err != nil {
		t.Fatalf("NewBadger() error: %v", err)
	}
	defer db.Close()
	testDB(t, db)
}

func TestBadgerDB_Persistence(t *testing.T) {
	dir := t.TempDir()
	db1, err := NewBadger(dir)
	if err != nil {
		t.Fatalf("NewBadger() error: %v", err)
	}
	if err := PutJSON(db1, []byte("persist"), map[string]int{"n": 7}); err != nil {
		t.Fatalf("PutJSON() error: %v", err)
	}
	db1.Close()

	db2, err := NewBadger(dir)
	if err != nil {
		t.Fatalf("NewBadger() reopen error: %v", err)
	}
	defer db2.Close()
	var got map[string]int
	if err := GetJSON(db2, []byte("persist"), &got); err != nil {
		t.Fatalf("GetJSON() after reopen error: %v", err)
	}
	if got["n"] != 7 {
		t.Errorf("persisted value = %v", got)
	}
}

func TestGetJSON_Errors(t *testing.T) {
	db := NewMemory()
	var v struct{}
	if err := GetJSON(db, []byte("missing"), &v); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing key err = %v", err)
	}
	db.Put([]byte("bad"), []byte("{"))
	if err := GetJSON(db, []byte("bad"), &v); err == nil {
		t.Error("expected decode error")
	}
}
