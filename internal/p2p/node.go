// Package p2p federates relay servers over libp2p. Each relay joins one
// GossipSub topic and re-publishes every locally accepted message to it, so
// a wallet and a dApp attached to different relays still reach each other.
package p2p

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	ulog "github.com/ScopeLift/umbra-v2-experimental/internal/log"
	"github.com/ScopeLift/umbra-v2-experimental/internal/storage"
	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/rs/zerolog"
)

// TopicRelayMessages carries irn_publish payloads between relays.
const TopicRelayMessages = "/stealth-relay/messages/1.0.0"

// MaxMessageSize bounds one federated message. Relay envelopes are small;
// the limit leaves room for the JSON wrapper.
const MaxMessageSize = 256 * 1024

const (
	peerConnectTimeout = 5 * time.Second
	seedDialTimeout    = 10 * time.Second
	seedRetryInterval  = 10 * time.Second
	banSweepInterval   = 10 * time.Minute
)

// ErrNotStarted is returned by operations that need a running host.
var ErrNotStarted = errors.New("federation node not started")

// Config holds federation node configuration.
type Config struct {
	ListenAddr string
	Port       int
	Seeds      []string // multiaddrs ending in /p2p/<id>
	MaxPeers   int
	NoDiscover bool       // disable mDNS
	DB         storage.DB // address book and bans; nil keeps them in memory
	NetworkID  string     // separates federations sharing a LAN
	DataDir    string     // holds the identity key; empty means ephemeral
}

// Node is one relay's membership in the federation.
type Node struct {
	config Config
	ctx    context.Context
	cancel context.CancelFunc

	host  host.Host
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	mdns  io.Closer

	handler func(peer.ID, []byte)
	peers   *peerSet
	bans    *Bans
	book    *AddressBook // nil without a DB
}

// New creates a federation node. Nothing listens until Start.
func New(cfg Config) *Node {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
		peers:  newPeerSet(),
	}
	n.bans = NewBans(cfg.DB, func(id peer.ID) { n.DisconnectPeer(id) })
	if cfg.DB != nil {
		n.book = NewAddressBook(cfg.DB)
	}
	return n
}

func logger() *zerolog.Logger {
	l := ulog.WithComponent("p2p")
	return &l
}

// rendezvous is the mDNS service name, scoped by network id.
func (n *Node) rendezvous() string {
	if n.config.NetworkID == "" {
		return "stealth-relay"
	}
	return "stealth-relay/" + n.config.NetworkID
}

// Start brings up the host, joins the relay topic and begins dialing
// seeds, remembered relays and mDNS neighbours.
func (n *Node) Start() error {
	if err := n.bans.Load(); err != nil {
		logger().Warn().Err(err).Msg("Loading bans failed")
	}

	opts := []libp2p.Option{
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/%s/tcp/%d", n.config.ListenAddr, n.config.Port)),
		libp2p.ConnectionGater(n.bans),
	}
	if n.config.DataDir != "" {
		key, err := loadIdentity(n.config.DataDir)
		if err != nil {
			return fmt.Errorf("load p2p identity: %w", err)
		}
		opts = append(opts, libp2p.Identity(key))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return fmt.Errorf("create libp2p host: %w", err)
	}
	n.host = h
	h.Network().Notify(n.connEvents())
	h.SetStreamHandler(HelloProtocol, n.answerHello)

	if err := n.join(); err != nil {
		h.Close()
		return err
	}
	go n.readLoop()

	if len(n.config.Seeds) > 0 {
		logger().Info().Int("seeds", len(n.config.Seeds)).Msg("Connecting to relay seeds...")
		n.dialSeeds()
		go n.retrySeeds()
	}
	if n.book != nil {
		go n.rejoin()
	}
	if !n.config.NoDiscover {
		svc := mdns.NewMdnsService(h, n.rendezvous(), mdnsFound(n.dialDiscovered))
		if err := svc.Start(); err != nil {
			logger().Warn().Err(err).Msg("mDNS discovery unavailable")
		} else {
			n.mdns = svc
		}
	}
	go n.maintain()
	return nil
}

func (n *Node) join() error {
	ps, err := pubsub.NewGossipSub(n.ctx, n.host, pubsub.WithMaxMessageSize(MaxMessageSize))
	if err != nil {
		return fmt.Errorf("create pubsub: %w", err)
	}
	if n.topic, err = ps.Join(TopicRelayMessages); err != nil {
		return fmt.Errorf("join relay topic: %w", err)
	}
	if n.sub, err = n.topic.Subscribe(); err != nil {
		return fmt.Errorf("subscribe relay topic: %w", err)
	}
	return nil
}

// Stop saves the address book and shuts the host down.
func (n *Node) Stop() error {
	n.rememberPeers()
	n.cancel()
	if n.mdns != nil {
		n.mdns.Close()
	}
	if n.sub != nil {
		n.sub.Cancel()
	}
	if n.topic != nil {
		n.topic.Close()
	}
	if n.host == nil {
		return nil
	}
	return n.host.Close()
}

// SetMessageHandler registers the callback for messages gossiped by other
// relays. Set it before Start.
func (n *Node) SetMessageHandler(fn func(from peer.ID, data []byte)) {
	n.handler = fn
}

// Publish gossips data to every federated relay.
func (n *Node) Publish(ctx context.Context, data []byte) error {
	if n.topic == nil {
		return ErrNotStarted
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("federated message too large: %d bytes", len(data))
	}
	return n.topic.Publish(ctx, data)
}

func (n *Node) readLoop() {
	for {
		msg, err := n.sub.Next(n.ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == n.host.ID() {
			continue
		}
		n.deliver(msg)
	}
}

func (n *Node) deliver(msg *pubsub.Message) {
	defer func() {
		if r := recover(); r != nil {
			logger().Error().Interface("panic", r).Msg("Federated message handler panicked")
		}
	}()
	n.peers.add(msg.ReceivedFrom, "gossip")
	if n.handler != nil {
		n.handler(msg.ReceivedFrom, msg.Data)
	}
}

// Penalize scores a misbehaving relay; enough offenses ban it.
func (n *Node) Penalize(id peer.ID, score int, reason string) {
	n.bans.Penalize(id, score, reason)
}

// IsBanned reports whether id is currently banned.
func (n *Node) IsBanned(id peer.ID) bool {
	return n.bans.IsBanned(id)
}

// Bans exposes the ban list.
func (n *Node) Bans() *Bans {
	return n.bans
}

// DisconnectPeer closes every connection to id.
func (n *Node) DisconnectPeer(id peer.ID) error {
	if n.host == nil {
		return ErrNotStarted
	}
	n.peers.remove(id)
	return n.host.Network().ClosePeer(id)
}

// Host returns the libp2p host, nil before Start.
func (n *Node) Host() host.Host {
	return n.host
}

// ID returns this relay's peer ID, empty before Start.
func (n *Node) ID() peer.ID {
	if n.host == nil {
		return ""
	}
	return n.host.ID()
}

// Addrs returns dialable multiaddrs including the /p2p suffix.
func (n *Node) Addrs() []string {
	if n.host == nil {
		return nil
	}
	var out []string
	for _, a := range n.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, n.host.ID()))
	}
	return out
}

// PeerCount returns the number of connected relays.
func (n *Node) PeerCount() int {
	return n.peers.len()
}

// Peers returns the connected relays, oldest connection first.
func (n *Node) Peers() []Peer {
	return n.peers.list()
}

func shortID(id peer.ID) string {
	s := id.String()
	if len(s) > 16 {
		return s[:16]
	}
	return s
}
