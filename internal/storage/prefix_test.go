package storage

import (
	"errors"
	"fmt"
	"testing"
)

func TestPrefixDB_Isolation(t *testing.T) {
	inner := NewMemory()
	mbox := NewPrefixDB(inner, []byte("mbox/"))
	peers := NewPrefixDB(inner, []byte("peer/"))

	if err := mbox.Put([]byte("topic-a"), []byte("envelope")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := peers.Put([]byte("topic-a"), []byte("record")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := mbox.Get([]byte("topic-a"))
	if err != nil || string(got) != "envelope" {
		t.Fatalf("mbox.Get = %q, %v", got, err)
	}
	got, err = inner.Get([]byte("peer/topic-a"))
	if err != nil || string(got) != "record" {
		t.Fatalf("inner.Get = %q, %v", got, err)
	}
	if ok, _ := mbox.Has([]byte("peer/topic-a")); ok {
		t.Fatal("mbox should not see the peer namespace")
	}

	if err := mbox.Delete([]byte("topic-a")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := mbox.Get([]byte("topic-a")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after Delete: got %v, want ErrNotFound", err)
	}
}

func TestPrefixDB_ForEachStripsPrefix(t *testing.T) {
	db := NewPrefixDB(NewMemory(), []byte("mbox/"))
	db.Put([]byte("t1/001"), []byte("a"))
	db.Put([]byte("t1/002"), []byte("b"))
	db.Put([]byte("t2/001"), []byte("c"))

	var keys []string
	err := db.ForEach([]byte("t1/"), func(key, _ []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if len(keys) != 2 || keys[0] != "t1/001" || keys[1] != "t1/002" {
		t.Fatalf("keys = %v, want [t1/001 t1/002]", keys)
	}
}

func TestPrefixDB_ForEachStopEarly(t *testing.T) {
	db := NewPrefixDB(NewMemory(), []byte("p/"))
	for i := 0; i < 10; i++ {
		db.Put([]byte(fmt.Sprintf("k%d", i)), []byte("v"))
	}

	stop := errors.New("stop")
	count := 0
	err := db.ForEach(nil, func(_, _ []byte) error {
		count++
		if count == 3 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) || count != 3 {
		t.Fatalf("err=%v count=%d, want stop after 3", err, count)
	}
}

func TestPrefixDB_Clear(t *testing.T) {
	inner := NewMemory()
	a := NewPrefixDB(inner, []byte("a/"))
	b := NewPrefixDB(inner, []byte("b/"))
	a.Put([]byte("k1"), []byte("v1"))
	a.Put([]byte("k2"), []byte("v2"))
	b.Put([]byte("k1"), []byte("other"))

	if err := a.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if ok, _ := a.Has([]byte("k1")); ok {
		t.Fatal("a still has k1")
	}
	if got, err := b.Get([]byte("k1")); err != nil || string(got) != "other" {
		t.Fatalf("b.Get = %q, %v", got, err)
	}
	if err := NewPrefixDB(inner, []byte("empty/")).Clear(); err != nil {
		t.Fatalf("Clear on empty: %v", err)
	}
}

func TestPrefixDB_Batch(t *testing.T) {
	tests := []struct {
		name  string
		inner DB
	}{
		{"memory batcher", NewMemory()},
		{"fallback", noBatchDB{NewMemory()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := NewPrefixDB(tt.inner, []byte("mbox/"))
			db.Put([]byte("old"), []byte("x"))

			b := db.NewBatch()
			b.Put([]byte("new"), []byte("y"))
			b.Delete([]byte("old"))

			if ok, _ := db.Has([]byte("new")); ok {
				t.Fatal("batch applied before Commit")
			}
			if err := b.Commit(); err != nil {
				t.Fatalf("Commit: %v", err)
			}
			if ok, _ := db.Has([]byte("old")); ok {
				t.Error("old should be deleted")
			}
			if got, err := tt.inner.Get([]byte("mbox/new")); err != nil || string(got) != "y" {
				t.Errorf("inner new = %q, %v", got, err)
			}
		})
	}
}

func TestPrefixDB_CloseIsNoop(t *testing.T) {
	inner := NewMemory()
	db := NewPrefixDB(inner, []byte("x/"))
	db.Put([]byte("key"), []byte("val"))
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got, err := inner.Get([]byte("x/key")); err != nil || string(got) != "val" {
		t.Fatalf("inner.Get after Close = %q, %v", got, err)
	}
}

// noBatchDB hides the Batcher implementation of the wrapped DB.
type noBatchDB struct{ DB }
