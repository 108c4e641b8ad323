package p2p

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ScopeLift/umbra-v2-experimental/internal/storage"
	"github.com/libp2p/go-libp2p/core/peer"
)

func TestAddressBook_RememberLookupForget(t *testing.T) {
	book := NewAddressBook(storage.NewMemory())
	id := peer.ID("relay-1")
	rec := PeerRecord{
		ID:       id.String(),
		Addrs:    []string{"/ip4/10.0.0.7/tcp/4101"},
		LastSeen: time.Now().Unix(),
		Source:   "seed",
	}
	if err := book.Remember(rec); err != nil {
		t.Fatalf("Remember: %v", err)
	}

	got, err := book.Lookup(id)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.ID != rec.ID || got.Source != "seed" || len(got.Addrs) != 1 || got.Addrs[0] != rec.Addrs[0] {
		t.Errorf("Lookup = %+v, want %+v", got, rec)
	}

	rec.Source = "mdns"
	book.Remember(rec)
	if n, _ := book.Len(); n != 1 {
		t.Errorf("refresh added a record, len=%d", n)
	}
	if got, _ := book.Lookup(id); got.Source != "mdns" {
		t.Errorf("Source = %q, want mdns", got.Source)
	}

	if err := book.Forget(id); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if _, err := book.Lookup(id); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Lookup after Forget: %v, want ErrNotFound", err)
	}
}

func TestAddressBook_PruneStale(t *testing.T) {
	book := NewAddressBook(storage.NewMemory())
	now := time.Now()
	book.Remember(PeerRecord{ID: "fresh", LastSeen: now.Unix()})
	book.Remember(PeerRecord{ID: "stale", LastSeen: now.Add(-48 * time.Hour).Unix()})

	pruned, err := book.PruneStale(forgetAfter)
	if err != nil {
		t.Fatalf("PruneStale: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}
	all, err := book.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 1 || all[0].ID != "fresh" {
		t.Errorf("remaining = %+v", all)
	}
}

func TestAddressBook_Limit(t *testing.T) {
	book := NewAddressBook(storage.NewMemory())
	now := time.Now().Unix()
	for i := 0; i < addressBookLimit; i++ {
		if err := book.Remember(PeerRecord{ID: fmt.Sprintf("relay-%03d", i), LastSeen: now}); err != nil {
			t.Fatalf("Remember %d: %v", i, err)
		}
	}

	book.Remember(PeerRecord{ID: "relay-new", LastSeen: now})
	if n, _ := book.Len(); n != addressBookLimit {
		t.Errorf("len = %d, want %d", n, addressBookLimit)
	}
	if err := book.Remember(PeerRecord{ID: "relay-000", LastSeen: now, Source: "gossip"}); err != nil {
		t.Fatalf("refresh at limit: %v", err)
	}
	if got, _ := book.Lookup(peer.ID("relay-000")); got.Source != "gossip" {
		t.Errorf("Source = %q, want gossip", got.Source)
	}
}

func TestAddressBook_Empty(t *testing.T) {
	all, err := NewAddressBook(storage.NewMemory()).All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("expected no records, got %d", len(all))
	}
}

func TestRecords_SkipsCorrupt(t *testing.T) {
	db := storage.NewMemory()
	recs := records[PeerRecord]{db: db, prefix: "peer/"}
	recs.put("ok", PeerRecord{ID: "ok"})
	db.Put([]byte("peer/bad"), []byte("{"))

	all, err := recs.all()
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 1 || all[0].ID != "ok" {
		t.Errorf("all = %+v", all)
	}
	if _, err := recs.get("bad"); err == nil {
		t.Error("get on corrupt record should fail")
	}
}
