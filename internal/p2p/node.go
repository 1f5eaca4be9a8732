// Package p2p owns the libp2p host: persistent identity, LAN discovery
// via mDNS, and the gossipsub channel on which hosts advertise their
// sessions to nearby guests.
package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	logging "github.com/ipfs/go-log/v2"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"

	"github.com/partyplay/partyplay/internal/proto"
	"github.com/partyplay/partyplay/internal/util"
)

// peerAddrTTL is how long advertised peer addresses stay dialable in the
// peerstore; advertisements refresh it well within this window.
const peerAddrTTL = 2 * time.Minute

func init() {
	// Silence noisy libp2p subsystems — dial failures and backoff errors
	// go to stderr by default and pollute terminal output.
	logging.SetLogLevel("swarm2", "error")
	logging.SetLogLevel("autonat", "warn")
}

// Node is the local libp2p peer plus its presence machinery.
type Node struct {
	Host  host.Host
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription
}

type mdnsNotifee struct {
	h host.Host
}

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), util.DefaultConnectTimeout)
	defer cancel()
	_ = n.h.Connect(ctx, pi)
}

// loadOrCreateKey loads a persistent identity key from disk,
// or generates a new Ed25519 key and saves it on first run.
func loadOrCreateKey(keyFile string) (crypto.PrivKey, bool, error) {
	data, err := os.ReadFile(keyFile)
	if err == nil {
		priv, err := crypto.UnmarshalPrivateKey(data)
		if err == nil {
			return priv, false, nil
		}
		log.Printf("WARNING: corrupt identity key at %s: %v (generating new key)", keyFile, err)
	}

	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, false, err
	}

	raw, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, false, fmt.Errorf("marshal identity key: %w", err)
	}

	if dir := filepath.Dir(keyFile); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, false, fmt.Errorf("create key directory: %w", err)
		}
	}

	if err := os.WriteFile(keyFile, raw, 0600); err != nil {
		return nil, false, fmt.Errorf("save identity key: %w", err)
	}

	return priv, true, nil
}

// New builds the libp2p host, starts mDNS discovery and joins the
// session-presence gossip topic.
func New(ctx context.Context, listenPort int, keyFile string) (*Node, error) {
	priv, isNew, err := loadOrCreateKey(keyFile)
	if err != nil {
		return nil, err
	}
	if isNew {
		log.Printf("Generated new identity key: %s", keyFile)
	} else {
		log.Printf("Loaded identity key: %s", keyFile)
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", listenPort)),
	)
	if err != nil {
		return nil, err
	}

	md := mdns.NewMdnsService(h, proto.MdnsTag, &mdnsNotifee{h: h})
	if err := md.Start(); err != nil {
		_ = h.Close()
		return nil, err
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	topic, err := ps.Join(proto.PresenceTopic)
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	sub, err := topic.Subscribe()
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	return &Node{Host: h, ps: ps, topic: topic, sub: sub}, nil
}

func (n *Node) Close() error {
	return n.Host.Close()
}

func (n *Node) ID() string {
	return n.Host.ID().String()
}

// Advertise announces a hosted session on the presence topic, including
// the host's LAN-reachable addresses so guests can dial without relying
// on mDNS having connected them first.
func (n *Node) Advertise(ctx context.Context, sessionID, hostName string) {
	msg := proto.AdvertiseMsg{
		Type:      proto.TypeAdvertise,
		PeerID:    n.ID(),
		SessionID: sessionID,
		HostName:  hostName,
		Addrs:     n.lanAddrs(),
		TS:        proto.NowMillis(),
	}
	b, _ := json.Marshal(msg)
	_ = n.topic.Publish(ctx, b)
}

// lanAddrs filters the host's multiaddresses down to ones another device
// on the same network can actually dial.
func (n *Node) lanAddrs() []string {
	var out []string
	for _, a := range n.Host.Addrs() {
		ip, err := manet.ToIP(a)
		if err != nil {
			continue
		}
		if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			continue
		}
		out = append(out, a.String())
	}
	return out
}

// addPeerAddrs parses multiaddr strings and adds them to the peerstore so
// a later dial to the advertising peer can succeed.
func (n *Node) addPeerAddrs(peerID string, addrs []string) {
	if len(addrs) == 0 {
		return
	}
	pid, err := peer.Decode(peerID)
	if err != nil {
		return
	}
	var parsed []ma.Multiaddr
	for _, s := range addrs {
		a, err := ma.NewMultiaddr(s)
		if err != nil {
			continue
		}
		if ip, err := manet.ToIP(a); err == nil && ip.IsLoopback() {
			continue
		}
		parsed = append(parsed, a)
	}
	if len(parsed) > 0 {
		n.Host.Peerstore().AddAddrs(pid, parsed, peerAddrTTL)
	}
}

// PublishGone announces that a hosted session has ended.
func (n *Node) PublishGone(ctx context.Context, sessionID string) {
	msg := proto.AdvertiseMsg{
		Type:      proto.TypeGone,
		PeerID:    n.ID(),
		SessionID: sessionID,
		TS:        proto.NowMillis(),
	}
	b, _ := json.Marshal(msg)
	_ = n.topic.Publish(ctx, b)
}

// StartAdvertiseLoop re-announces the session every interval until the
// context is cancelled, then publishes a gone message.
func (n *Node) StartAdvertiseLoop(ctx context.Context, sessionID, hostName string, interval time.Duration) {
	go func() {
		n.Advertise(ctx, sessionID, hostName)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				goneCtx, cancel := context.WithTimeout(context.Background(), util.DefaultSendTimeout)
				n.PublishGone(goneCtx, sessionID)
				cancel()
				return
			case <-t.C:
				n.Advertise(ctx, sessionID, hostName)
			}
		}
	}()
}

// RunDiscoveryLoop reads session advertisements off the presence topic
// and feeds them to the directory plus an optional event callback.
func (n *Node) RunDiscoveryLoop(ctx context.Context, dir *Directory, onEvent func(proto.AdvertiseMsg)) {
	go func() {
		for {
			m, err := n.sub.Next(ctx)
			if err != nil {
				return
			}

			var am proto.AdvertiseMsg
			if err := json.Unmarshal(m.Data, &am); err != nil {
				continue
			}
			if am.PeerID == "" || am.Type == "" || am.SessionID == "" {
				continue
			}
			if am.PeerID == n.ID() {
				continue
			}

			switch am.Type {
			case proto.TypeAdvertise:
				n.addPeerAddrs(am.PeerID, am.Addrs)
				dir.Upsert(am.SessionID, am.PeerID, am.HostName)
			case proto.TypeGone:
				dir.Remove(am.SessionID)
			}

			if onEvent != nil {
				onEvent(am)
			}
		}
	}()
}
