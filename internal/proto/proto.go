package proto

import "time"

const (
	// Gossipsub topic for party advertisement. Hosts publish periodic
	// announcements; guests subscribe to discover joinable parties.
	PresenceTopic = "partyplay.presence.v1"

	// mDNS service tag for LAN discovery.
	MdnsTag = "partyplay-mdns"

	// libp2p stream protocol ID for party messages (join, vote, skip,
	// snapshot, nowPlaying, search). Newline-delimited JSON with a
	// transport ACK per message.
	PartyProtoID = "/partyplay/party/1.0.0"
)

const (
	TypeAdvertise = "advertise"
	TypeGone      = "gone"
)

// AdvertiseMsg is published on the presence topic by a hosting peer.
type AdvertiseMsg struct {
	Type      string   `json:"type"` // advertise|gone
	PeerID    string   `json:"peerId"`
	SessionID string   `json:"sessionId"`
	HostName  string   `json:"hostName,omitempty"`
	Addrs     []string `json:"addrs,omitempty"` // host multiaddrs, LAN-reachable only
	TS        int64    `json:"ts"`
}

func NowMillis() int64 { return time.Now().UnixMilli() }
