package party

import "github.com/partyplay/partyplay/internal/location"

// Message type constants for the party wire protocol.
const (
	TypeJoinRequest  = "joinRequest"
	TypeJoinDecision = "joinDecision"
	TypeVote         = "vote"
	TypeSkipRequest  = "skipRequest"
	TypeSnapshot     = "stateSnapshot"
	TypeNowPlaying   = "nowPlaying"
	TypeSearch       = "searchRequest"
	TypeResults      = "searchResults"
	TypeAddSong      = "addSongRequest"
)

// Message is the tagged-union envelope for all party messages. Exactly one
// payload field is set, matching Type. Messages are newline-delimited JSON
// on the stream.
type Message struct {
	Type       string         `json:"type"`
	Join       *JoinRequest   `json:"join,omitempty"`
	Decision   *JoinDecision  `json:"decision,omitempty"`
	Vote       *Vote          `json:"vote,omitempty"`
	Skip       *SkipRequest   `json:"skip,omitempty"`
	Snapshot   *Snapshot      `json:"snapshot,omitempty"`
	NowPlaying *NowPlaying    `json:"nowPlaying,omitempty"`
	Search     *SearchRequest `json:"search,omitempty"`
	Results    *SearchResults `json:"results,omitempty"`
	AddSong    *AddSong       `json:"addSong,omitempty"`
}

// JoinRequest is sent by a guest asking for admission.
type JoinRequest struct {
	SessionID   string               `json:"sessionId"`
	JoinCode    string               `json:"joinCode"`
	MemberID    string               `json:"memberId"`
	DisplayName string               `json:"displayName"`
	HasPlayback bool                 `json:"hasPlayback"`
	Location    *location.Coordinate `json:"location,omitempty"`
}

// JoinDecision is the host's answer to a JoinRequest.
type JoinDecision struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	MemberID string `json:"memberId"`
}

// Vote is a guest's up/down vote on a queue item.
type Vote struct {
	MemberID  string        `json:"memberId"`
	ItemID    string        `json:"itemId"`
	Direction VoteDirection `json:"direction"`
	Timestamp int64         `json:"timestamp"` // unix millis
}

// SkipRequest asks the host to skip an item.
type SkipRequest struct {
	MemberID  string `json:"memberId"`
	ItemID    string `json:"itemId"`
	Timestamp int64  `json:"timestamp"` // unix millis
}

// Snapshot is the full authoritative state plus a per-recipient projection
// of private limiter state. Cooldowns maps item ID to remaining seconds;
// zero entries are omitted.
type Snapshot struct {
	State          PartyState     `json:"state"`
	Cooldowns      map[string]int `json:"cooldowns,omitempty"`
	RemainingSlots *int           `json:"remainingActionSlots,omitempty"`
}

// NowPlaying is the playback tick broadcast to all guests.
type NowPlaying struct {
	ItemID          string  `json:"itemId,omitempty"`
	IsPlaying       bool    `json:"isPlaying"`
	PositionSeconds float64 `json:"positionSeconds"`
	SentAt          int64   `json:"sentAt"` // unix millis
}

// SearchRequest is a host-mediated catalog search from a guest.
type SearchRequest struct {
	MemberID string `json:"memberId"`
	Query    string `json:"query"`
}

// SearchResults carries catalog hits back to the requesting guest.
type SearchResults struct {
	Query  string        `json:"query"`
	Tracks []TrackResult `json:"tracks"`
}

// TrackResult is one catalog hit.
type TrackResult struct {
	TrackID     string `json:"trackId"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	ArtworkURL  string `json:"artworkUrl,omitempty"`
	DurationSec int    `json:"durationSec"`
}

// AddSong asks the host to append a track to the queue.
type AddSong struct {
	MemberID string `json:"memberId"`
	TrackID  string `json:"trackId"`
}
