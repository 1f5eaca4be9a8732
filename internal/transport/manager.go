// Package transport carries party messages between peers over a libp2p
// stream protocol. Wire format: newline-delimited JSON, one message per
// stream, acknowledged synchronously by the receiver.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/partyplay/partyplay/internal/party"
	"github.com/partyplay/partyplay/internal/proto"
)

const (
	// ackTimeout is how long Send waits for the receiver's transport ACK.
	ackTimeout = 10 * time.Second

	// outQueueCap bounds the per-peer outbound FIFO. A peer that falls
	// this far behind gets its oldest frames dropped.
	outQueueCap = 64

	wireTypeMsg = "msg"
	wireTypeAck = "ack"
)

// wireEnvelope is the on-stream frame around a party message.
type wireEnvelope struct {
	Type string         `json:"type"` // msg|ack
	ID   string         `json:"id"`   // uuid4, echoed in the ack
	Seq  int64          `json:"seq"`  // monotonic counter per sender
	Msg  *party.Message `json:"msg,omitempty"`
}

// Handler receives every decoded incoming party message.
type Handler func(fromPeer string, msg *party.Message)

// Manager owns the party stream protocol: point sends with ACKs,
// broadcast, peer↔member bindings and connect/disconnect notifications.
type Manager struct {
	host   host.Host
	selfID string

	seq int64 // atomic outbound counter

	// Per-peer send serialization. Within one peer, messages leave in
	// call order; a snapshot can never overtake the join decision that
	// preceded it.
	sendMu sync.Mutex
	perMu  map[string]*sync.Mutex
	queues map[string]chan *party.Message

	handlerMu sync.RWMutex
	handler   Handler

	// Peer → admitted member binding, set after a join is accepted.
	bindMu  sync.RWMutex
	members map[string]string

	// Lifecycle callbacks, invoked off the libp2p notify goroutine.
	OnConnected    func(peerID string)
	OnDisconnected func(peerID string)
}

// New registers the party protocol handler and connection notifications
// on the given host.
func New(h host.Host) *Manager {
	m := &Manager{
		host:    h,
		selfID:  h.ID().String(),
		perMu:   map[string]*sync.Mutex{},
		queues:  map[string]chan *party.Message{},
		members: map[string]string{},
	}
	h.SetStreamHandler(protocol.ID(proto.PartyProtoID), m.handleIncoming)
	h.Network().Notify(&network.NotifyBundle{
		ConnectedF: func(_ network.Network, c network.Conn) {
			if m.OnConnected != nil {
				go m.OnConnected(c.RemotePeer().String())
			}
		},
		DisconnectedF: func(_ network.Network, c network.Conn) {
			if m.OnDisconnected != nil {
				go m.OnDisconnected(c.RemotePeer().String())
			}
		},
	})
	log.Printf("MQ: registered handler for %s", proto.PartyProtoID)
	return m
}

// SelfID returns the local peer ID.
func (m *Manager) SelfID() string { return m.selfID }

// SetHandler installs the incoming message dispatcher.
func (m *Manager) SetHandler(h Handler) {
	m.handlerMu.Lock()
	m.handler = h
	m.handlerMu.Unlock()
}

// BindMember records which member a peer authenticated as.
func (m *Manager) BindMember(peerID, memberID string) {
	m.bindMu.Lock()
	m.members[peerID] = memberID
	m.bindMu.Unlock()
}

// MemberForPeer resolves a peer's member binding.
func (m *Manager) MemberForPeer(peerID string) (string, bool) {
	m.bindMu.RLock()
	defer m.bindMu.RUnlock()
	id, ok := m.members[peerID]
	return id, ok
}

// PeerForMember resolves the most recent peer a member connected from.
func (m *Manager) PeerForMember(memberID string) (string, bool) {
	m.bindMu.RLock()
	defer m.bindMu.RUnlock()
	for p, mem := range m.members {
		if mem == memberID {
			return p, true
		}
	}
	return "", false
}

// IsConnected reports whether the peer has a live connection.
func (m *Manager) IsConnected(peerID string) bool {
	pid, err := peer.Decode(peerID)
	if err != nil {
		return false
	}
	return m.host.Network().Connectedness(pid) == network.Connected
}

// ConnectedPeers lists all peers with a live connection.
func (m *Manager) ConnectedPeers() []string {
	var out []string
	for _, pid := range m.host.Network().Peers() {
		if m.host.Network().Connectedness(pid) == network.Connected {
			out = append(out, pid.String())
		}
	}
	return out
}

// Connect dials the peer directly (mDNS usually already connected us).
func (m *Manager) Connect(ctx context.Context, peerID string) error {
	pid, err := peer.Decode(peerID)
	if err != nil {
		return fmt.Errorf("transport: invalid peer id %q: %w", peerID, err)
	}
	return m.host.Connect(ctx, peer.AddrInfo{ID: pid})
}

// Send opens a stream to the peer, writes the message and waits up to
// ackTimeout for the transport ACK. Sends to the same peer are serialized
// so delivery order matches call order.
func (m *Manager) Send(ctx context.Context, peerID string, msg *party.Message) error {
	pid, err := peer.Decode(peerID)
	if err != nil {
		return fmt.Errorf("transport: invalid peer id %q: %w", peerID, err)
	}

	mu := m.peerMutex(peerID)
	mu.Lock()
	defer mu.Unlock()

	env := wireEnvelope{
		Type: wireTypeMsg,
		ID:   uuid.NewString(),
		Seq:  atomic.AddInt64(&m.seq, 1),
		Msg:  msg,
	}

	dialCtx, cancel := context.WithTimeout(ctx, ackTimeout)
	defer cancel()

	stream, err := m.host.NewStream(dialCtx, pid, protocol.ID(proto.PartyProtoID))
	if err != nil {
		return fmt.Errorf("transport: open stream to %s: %w", peerID, err)
	}
	defer stream.Close()

	if err := json.NewEncoder(stream).Encode(env); err != nil {
		return fmt.Errorf("transport: encode %s: %w", msg.Type, err)
	}

	var ack wireEnvelope
	_ = stream.SetReadDeadline(time.Now().Add(ackTimeout))
	if err := json.NewDecoder(bufio.NewReader(stream)).Decode(&ack); err != nil {
		return fmt.Errorf("transport: waiting for ack from %s: %w", peerID, err)
	}
	if ack.ID != env.ID {
		return fmt.Errorf("transport: ack id mismatch (got %s, want %s)", ack.ID, env.ID)
	}
	return nil
}

// Enqueue puts the message on the peer's outbound FIFO and returns
// immediately. One goroutine per peer drains the queue, so messages to
// the same peer are delivered in enqueue order even though the caller
// never blocks. When the queue is full the oldest frame is dropped to
// make room; the newest state is always the one worth delivering.
func (m *Manager) Enqueue(peerID string, msg *party.Message) {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	q, ok := m.queues[peerID]
	if !ok {
		q = make(chan *party.Message, outQueueCap)
		m.queues[peerID] = q
		go m.drainQueue(peerID, q)
	}
	for {
		select {
		case q <- msg:
			return
		default:
		}
		select {
		case old := <-q:
			log.Printf("MQ: outbound queue to %s full, dropping %s", peerID[:8], old.Type)
		default:
		}
	}
}

func (m *Manager) drainQueue(peerID string, q chan *party.Message) {
	for msg := range q {
		ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
		if err := m.Send(ctx, peerID, msg); err != nil {
			log.Printf("MQ: queued %s to %s failed: %v", msg.Type, peerID[:8], err)
		}
		cancel()
	}
}

// handleIncoming reads one envelope, ACKs it immediately and dispatches
// the payload. Malformed frames are dropped; the dispatch loop never
// crashes on bad input.
func (m *Manager) handleIncoming(stream network.Stream) {
	defer stream.Close()

	remotePeer := stream.Conn().RemotePeer().String()

	_ = stream.SetReadDeadline(time.Now().Add(30 * time.Second))
	var env wireEnvelope
	if err := json.NewDecoder(bufio.NewReader(stream)).Decode(&env); err != nil {
		log.Printf("MQ: decode error from %s: %v", remotePeer[:8], err)
		return
	}
	if env.Type != wireTypeMsg || env.Msg == nil {
		log.Printf("MQ: dropping frame type %q from %s", env.Type, remotePeer[:8])
		return
	}

	ack := wireEnvelope{Type: wireTypeAck, ID: env.ID, Seq: env.Seq}
	_ = stream.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := json.NewEncoder(stream).Encode(ack); err != nil {
		log.Printf("MQ: ack write error to %s: %v", remotePeer[:8], err)
		// Keep dispatching; the bytes made it here.
	}

	m.handlerMu.RLock()
	h := m.handler
	m.handlerMu.RUnlock()
	if h != nil {
		h(remotePeer, env.Msg)
	}
}

func (m *Manager) peerMutex(peerID string) *sync.Mutex {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	mu, ok := m.perMu[peerID]
	if !ok {
		mu = &sync.Mutex{}
		m.perMu[peerID] = mu
	}
	return mu
}

// Forget drops the peer's member binding and send-order state, typically
// after the member's session ends.
func (m *Manager) Forget(peerID string) {
	m.bindMu.Lock()
	delete(m.members, peerID)
	m.bindMu.Unlock()
	m.sendMu.Lock()
	delete(m.perMu, peerID)
	if q, ok := m.queues[peerID]; ok {
		delete(m.queues, peerID)
		close(q)
	}
	m.sendMu.Unlock()
}
