package p2p

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Peer is a connected relay.
type Peer struct {
	ID          peer.ID
	ConnectedAt time.Time
	Source      string // seed, mdns, inbound, outbound, gossip, book
}

// peerSet tracks connected relays.
type peerSet struct {
	mu sync.RWMutex
	m  map[peer.ID]Peer
}

func newPeerSet() *peerSet {
	return &peerSet{m: make(map[peer.ID]Peer)}
}

// add records id. The first non-empty source seen for a peer sticks.
func (s *peerSet) add(id peer.ID, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.m[id]
	if !ok {
		p = Peer{ID: id, ConnectedAt: time.Now()}
	}
	if p.Source == "" {
		p.Source = source
	}
	s.m[id] = p
}

func (s *peerSet) remove(id peer.ID) {
	s.mu.Lock()
	delete(s.m, id)
	s.mu.Unlock()
}

func (s *peerSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// list returns the peers ordered by connection time.
func (s *peerSet) list() []Peer {
	s.mu.RLock()
	out := make([]Peer, 0, len(s.m))
	for _, p := range s.m {
		out = append(out, p)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

// connEvents keeps the peer set in step with the host's connections. The
// dialing side starts the handshake; the listener answers it through the
// stream handler.
func (n *Node) connEvents() *network.NotifyBundle {
	return &network.NotifyBundle{
		ConnectedF: func(_ network.Network, c network.Conn) {
			id := c.RemotePeer()
			if id == n.host.ID() {
				return
			}
			if c.Stat().Direction == network.DirOutbound {
				n.peers.add(id, "outbound")
				go n.greet(id)
				return
			}
			n.peers.add(id, "inbound")
		},
		DisconnectedF: func(net network.Network, c network.Conn) {
			id := c.RemotePeer()
			if len(net.ConnsToPeer(id)) == 0 {
				n.peers.remove(id)
			}
		},
	}
}

// mdnsFound adapts a func to the mDNS notifee interface.
type mdnsFound func(peer.AddrInfo)

func (f mdnsFound) HandlePeerFound(pi peer.AddrInfo) { f(pi) }

// dialDiscovered connects to a relay found on the LAN unless the node is
// full.
func (n *Node) dialDiscovered(pi peer.AddrInfo) {
	if pi.ID == n.host.ID() {
		return
	}
	if max := n.config.MaxPeers; max > 0 && n.peers.len() >= max {
		return
	}
	if n.dial(pi, peerConnectTimeout) == nil {
		n.peers.add(pi.ID, "mdns")
	}
}

func (n *Node) dial(pi peer.AddrInfo, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(n.ctx, timeout)
	defer cancel()
	return n.host.Connect(ctx, pi)
}

// dialSeeds tries every seed once and returns how many connected.
func (n *Node) dialSeeds() int {
	connected := 0
	for _, addr := range n.config.Seeds {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			logger().Warn().Str("addr", addr).Err(err).Msg("Bad seed address")
			continue
		}
		if err := n.dial(*pi, seedDialTimeout); err != nil {
			logger().Warn().Str("peer", shortID(pi.ID)).Err(err).Msg("Seed connect failed")
			continue
		}
		n.peers.add(pi.ID, "seed")
		logger().Info().Str("peer", shortID(pi.ID)).Msg("Seed connected")
		connected++
	}
	return connected
}

// retrySeeds redials the seeds whenever the node has no peers.
func (n *Node) retrySeeds() {
	t := time.NewTicker(seedRetryInterval)
	defer t.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-t.C:
			if n.peers.len() == 0 {
				logger().Info().Int("seeds", len(n.config.Seeds)).Msg("No peers, retrying seeds...")
				n.dialSeeds()
			}
		}
	}
}

// rememberPeers writes every connected relay to the address book.
func (n *Node) rememberPeers() {
	if n.book == nil || n.host == nil {
		return
	}
	now := time.Now().Unix()
	for _, p := range n.peers.list() {
		addrs := n.host.Peerstore().Addrs(p.ID)
		rec := PeerRecord{ID: p.ID.String(), LastSeen: now, Source: p.Source}
		for _, a := range addrs {
			rec.Addrs = append(rec.Addrs, a.String())
		}
		n.book.Remember(rec)
	}
}

// rejoin dials the relays remembered from earlier runs.
func (n *Node) rejoin() {
	n.book.PruneStale(forgetAfter)
	recs, err := n.book.All()
	if err != nil {
		return
	}
	for _, rec := range recs {
		id, err := peer.Decode(rec.ID)
		if err != nil || id == n.host.ID() || n.bans.IsBanned(id) {
			continue
		}
		pi := peer.AddrInfo{ID: id}
		for _, a := range rec.Addrs {
			if full, err := peer.AddrInfoFromString(fmt.Sprintf("%s/p2p/%s", a, rec.ID)); err == nil {
				pi.Addrs = append(pi.Addrs, full.Addrs...)
			}
		}
		if len(pi.Addrs) > 0 && n.dial(pi, peerConnectTimeout) == nil {
			n.peers.add(id, "book")
		}
	}
}

// maintain periodically saves peers and sweeps expired bans.
func (n *Node) maintain() {
	remember := time.NewTicker(rememberInterval)
	sweep := time.NewTicker(banSweepInterval)
	defer remember.Stop()
	defer sweep.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-remember.C:
			if n.book != nil {
				n.rememberPeers()
				n.book.PruneStale(forgetAfter)
			}
		case <-sweep.C:
			n.bans.sweep()
		}
	}
}
