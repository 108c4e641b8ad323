package p2p

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

const (
	// HelloProtocol is the stream protocol relays greet each other on.
	HelloProtocol = protocol.ID("/stealth-relay/hello/1.0.0")

	// ProtocolVersion is advertised in every hello.
	ProtocolVersion uint32 = 1

	// MinProtocolVersion is the oldest peer version accepted.
	MinProtocolVersion uint32 = 1

	helloTimeout  = 10 * time.Second
	maxHelloBytes = 4096
)

var (
	ErrNetworkMismatch = errors.New("federation network mismatch")
	ErrVersionTooOld   = errors.New("protocol version too old")
)

// Hello is the first message two federating relays exchange.
type Hello struct {
	Version   uint32 `json:"version"`
	NetworkID string `json:"networkId"`
	Mailbox   bool   `json:"mailbox"` // stores messages for offline subscribers
}

func (n *Node) hello() Hello {
	return Hello{
		Version:   ProtocolVersion,
		NetworkID: n.config.NetworkID,
		Mailbox:   n.config.DB != nil,
	}
}

// compatible reports why a peer's hello is unacceptable, or nil.
func (n *Node) compatible(h Hello) error {
	if h.NetworkID != n.config.NetworkID {
		return fmt.Errorf("%w: peer=%q local=%q", ErrNetworkMismatch, h.NetworkID, n.config.NetworkID)
	}
	if h.Version < MinProtocolVersion {
		return fmt.Errorf("%w: peer=%d min=%d", ErrVersionTooOld, h.Version, MinProtocolVersion)
	}
	return nil
}

// exchange sends ours and reads theirs. The dialer writes first.
func exchange(s network.Stream, ours Hello, dialer bool) (Hello, error) {
	var theirs Hello
	s.SetDeadline(time.Now().Add(helloTimeout))
	read := func() error {
		return json.NewDecoder(io.LimitReader(s, maxHelloBytes)).Decode(&theirs)
	}
	write := func() error {
		return json.NewEncoder(s).Encode(ours)
	}
	steps := []func() error{read, write}
	if dialer {
		steps = []func() error{write, s.CloseWrite, read}
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return Hello{}, err
		}
	}
	return theirs, nil
}

// answerHello serves inbound hellos.
func (n *Node) answerHello(s network.Stream) {
	defer s.Close()
	id := s.Conn().RemotePeer()
	theirs, err := exchange(s, n.hello(), false)
	if err != nil {
		logger().Debug().Err(err).Str("peer", shortID(id)).Msg("Hello exchange failed")
		return
	}
	n.judge(id, theirs)
}

// greet opens a hello stream to a relay we dialed. Peers that do not
// speak the protocol are tolerated.
func (n *Node) greet(id peer.ID) {
	s, err := n.host.NewStream(n.ctx, id, HelloProtocol)
	if err != nil {
		logger().Debug().Str("peer", shortID(id)).Msg("Peer does not speak the relay hello, tolerating")
		return
	}
	defer s.Close()
	theirs, err := exchange(s, n.hello(), true)
	if err != nil {
		logger().Debug().Err(err).Str("peer", shortID(id)).Msg("Hello exchange failed")
		return
	}
	n.judge(id, theirs)
}

// judge bans and drops a relay whose hello is incompatible.
func (n *Node) judge(id peer.ID, h Hello) {
	err := n.compatible(h)
	if err == nil {
		return
	}
	logger().Warn().Str("peer", shortID(id)).Err(err).Msg("Hello rejected, banning peer")
	n.bans.Penalize(id, ScoreHandshake, err.Error())
	n.DisconnectPeer(id)
}
