package p2p

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ScopeLift/umbra-v2-experimental/internal/storage"
	"github.com/libp2p/go-libp2p/core/peer"
)

func TestNode_BeforeStart(t *testing.T) {
	n := New(Config{ListenAddr: "127.0.0.1"})
	if n.Host() != nil || n.ID() != "" || n.Addrs() != nil {
		t.Error("host details should be empty before Start")
	}
	if err := n.Publish(context.Background(), []byte("x")); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Publish: got %v, want ErrNotStarted", err)
	}
	if err := n.DisconnectPeer(peer.ID("x")); !errors.Is(err, ErrNotStarted) {
		t.Errorf("DisconnectPeer: got %v, want ErrNotStarted", err)
	}
	if err := n.Stop(); err != nil {
		t.Errorf("Stop before Start: %v", err)
	}
}

func TestNode_Rendezvous(t *testing.T) {
	if got := New(Config{NetworkID: "sepolia"}).rendezvous(); got != "stealth-relay/sepolia" {
		t.Errorf("rendezvous = %q", got)
	}
	if got := New(Config{}).rendezvous(); got != "stealth-relay" {
		t.Errorf("rendezvous = %q", got)
	}
}

func TestPeerSet_SourceSticks(t *testing.T) {
	s := newPeerSet()
	id := peer.ID("relay-1")

	s.add(id, "")
	s.add(id, "seed")
	s.add(id, "mdns")
	if s.len() != 1 {
		t.Fatalf("len = %d, want 1", s.len())
	}
	if src := s.list()[0].Source; src != "seed" {
		t.Errorf("Source = %q, want seed", src)
	}
	s.remove(id)
	if s.len() != 0 {
		t.Errorf("len after remove = %d", s.len())
	}
}

func TestLoadIdentity_Stable(t *testing.T) {
	dir := t.TempDir()
	k1, err := loadIdentity(dir)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	k2, err := loadIdentity(dir)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if !k1.Equals(k2) {
		t.Error("identity changed between loads")
	}
	info, err := os.Stat(filepath.Join(dir, identityFile))
	if err != nil {
		t.Fatalf("stat key: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("key file mode = %v", info.Mode().Perm())
	}

	os.WriteFile(filepath.Join(dir, identityFile), []byte("garbage"), 0600)
	if _, err := loadIdentity(dir); err == nil {
		t.Error("corrupt identity should fail to load")
	}
}

// --- Multi-node ---

func startNode(t *testing.T, cfg Config) *Node {
	t.Helper()
	cfg.ListenAddr = "127.0.0.1"
	cfg.NoDiscover = true
	n := New(cfg)
	if err := n.Start(); err != nil {
		t.Fatalf("start node: %v", err)
	}
	t.Cleanup(func() { n.Stop() })
	return n
}

// link dials a from b and gives GossipSub time to build its mesh.
func link(t *testing.T, a, b *Node) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.Host().Connect(ctx, peer.AddrInfo{ID: a.ID(), Addrs: a.Host().Addrs()}); err != nil {
		t.Fatalf("connect nodes: %v", err)
	}
	time.Sleep(300 * time.Millisecond)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestNode_PublishTooLarge(t *testing.T) {
	n := startNode(t, Config{})
	if err := n.Publish(context.Background(), make([]byte, MaxMessageSize+1)); err == nil {
		t.Fatal("oversized publish should fail")
	}
}

func TestTwoNodes_Gossip(t *testing.T) {
	a := startNode(t, Config{})
	b := New(Config{ListenAddr: "127.0.0.1", NoDiscover: true})
	var received atomic.Value
	b.SetMessageHandler(func(from peer.ID, data []byte) {
		if from == a.ID() {
			received.Store(data)
		}
	})
	if err := b.Start(); err != nil {
		t.Fatalf("start b: %v", err)
	}
	t.Cleanup(func() { b.Stop() })
	link(t, a, b)

	payload := []byte(`{"topic":"abc","message":"AAEC"}`)
	waitFor(t, "federated message", func() bool {
		a.Publish(context.Background(), payload)
		v, ok := received.Load().([]byte)
		return ok && bytes.Equal(v, payload)
	})
}

func TestTwoNodes_ConnectionTracking(t *testing.T) {
	a := startNode(t, Config{})
	b := startNode(t, Config{})
	link(t, a, b)

	waitFor(t, "both sides to track each other", func() bool {
		return a.PeerCount() == 1 && b.PeerCount() == 1
	})
	if src := b.Peers()[0].Source; src != "outbound" {
		t.Errorf("dialer source = %q, want outbound", src)
	}
	if src := a.Peers()[0].Source; src != "inbound" {
		t.Errorf("listener source = %q, want inbound", src)
	}

	for _, c := range b.Host().Network().ConnsToPeer(a.ID()) {
		c.Close()
	}
	waitFor(t, "disconnect", func() bool { return b.PeerCount() == 0 })
}

func TestTwoNodes_SeedAndAddressBook(t *testing.T) {
	a := startNode(t, Config{})
	db := storage.NewMemory()
	b := startNode(t, Config{DB: db, Seeds: a.Addrs()[:1]})

	if b.PeerCount() != 1 {
		t.Fatalf("seed should connect during Start, peers=%d", b.PeerCount())
	}
	b.rememberPeers()

	rec, err := NewAddressBook(db).Lookup(a.ID())
	if err != nil {
		t.Fatalf("Lookup seed: %v", err)
	}
	if len(rec.Addrs) == 0 {
		t.Error("remembered seed has no addresses")
	}
}

func TestNode_RejoinFromAddressBook(t *testing.T) {
	a := startNode(t, Config{})
	db := storage.NewMemory()
	book := NewAddressBook(db)
	var addrs []string
	for _, ma := range a.Host().Addrs() {
		addrs = append(addrs, ma.String())
	}
	book.Remember(PeerRecord{ID: a.ID().String(), Addrs: addrs, LastSeen: time.Now().Unix(), Source: "seed"})

	b := startNode(t, Config{DB: db})
	waitFor(t, "rejoin", func() bool { return b.PeerCount() == 1 })
}
