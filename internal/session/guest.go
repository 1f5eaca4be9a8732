package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/partyplay/partyplay/internal/location"
	"github.com/partyplay/partyplay/internal/party"
)

// ErrJoinTimeout means no decision arrived within the join window.
var ErrJoinTimeout = errors.New("join request timed out")

// GuestConfig assembles a guest-side session.
type GuestConfig struct {
	MemberID    string
	DisplayName string
	HasPlayback bool
	Location    location.Provider
	Transport   Transport
	// JoinTimeout bounds how long Join waits for a decision. Default 10s.
	JoinTimeout time.Duration
	// OnSnapshot fires on every state snapshot from the host. Optional.
	OnSnapshot func(party.Snapshot)
	// OnNowPlaying fires on playback ticks. Optional.
	OnNowPlaying func(party.NowPlaying)
}

// GuestController mirrors the host's authoritative state on a guest
// device. Every snapshot wholesale replaces the local view.
type GuestController struct {
	cfg GuestConfig

	mu       sync.Mutex
	hostPeer string
	admitted bool
	snap     *party.Snapshot
	now      *party.NowPlaying

	// decision belongs to the newest join attempt; starting a new attempt
	// swaps it out, so stale decisions can no longer resolve anything.
	decision chan party.JoinDecision

	results chan party.SearchResults
}

func NewGuest(cfg GuestConfig) *GuestController {
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 10 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = location.None()
	}
	return &GuestController{
		cfg:     cfg,
		results: make(chan party.SearchResults, 1),
	}
}

// Deliver feeds an incoming host message into the guest. Safe to call
// from transport goroutines.
func (g *GuestController) Deliver(fromPeer string, msg *party.Message) {
	switch msg.Type {
	case party.TypeJoinDecision:
		if msg.Decision != nil {
			g.resolveDecision(fromPeer, *msg.Decision)
		}
	case party.TypeSnapshot:
		if msg.Snapshot != nil {
			g.applySnapshot(*msg.Snapshot)
		}
	case party.TypeNowPlaying:
		if msg.NowPlaying != nil {
			g.applyNowPlaying(*msg.NowPlaying)
		}
	case party.TypeResults:
		if msg.Results != nil {
			select {
			case g.results <- *msg.Results:
			default:
			}
		}
	default:
		log.Printf("GUEST: ignoring message type %q from %s", msg.Type, fromPeer)
	}
}

// Join parses a scanned QR payload, resolves the host peer and runs one
// admission attempt. A new attempt invalidates any outstanding one.
func (g *GuestController) Join(ctx context.Context, payload string, resolveHost func(sessionID string) (string, bool)) error {
	sessionID, joinCode, err := party.ParseJoinPayload(payload)
	if err != nil {
		return err
	}
	hostPeer, ok := resolveHost(sessionID)
	if !ok {
		return fmt.Errorf("session %s is not advertised nearby", sessionID)
	}

	req := party.JoinRequest{
		SessionID:   sessionID,
		JoinCode:    joinCode,
		MemberID:    g.cfg.MemberID,
		DisplayName: g.cfg.DisplayName,
		HasPlayback: g.cfg.HasPlayback,
	}
	if fix, ok := g.cfg.Location.Current(); ok {
		req.Location = &fix
	}

	g.mu.Lock()
	ch := make(chan party.JoinDecision, 1)
	g.decision = ch
	g.hostPeer = hostPeer
	g.admitted = false
	g.mu.Unlock()

	msg := &party.Message{Type: party.TypeJoinRequest, Join: &req}
	if err := g.cfg.Transport.Send(ctx, hostPeer, msg); err != nil {
		return fmt.Errorf("send join request: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(g.cfg.JoinTimeout):
		return ErrJoinTimeout
	case d := <-ch:
		if !d.Accepted {
			return fmt.Errorf("join rejected: %s", d.Reason)
		}
		g.mu.Lock()
		g.admitted = true
		g.mu.Unlock()
		log.Printf("GUEST: admitted to session %s", sessionID)
		return nil
	}
}

func (g *GuestController) resolveDecision(fromPeer string, d party.JoinDecision) {
	g.mu.Lock()
	if fromPeer != g.hostPeer {
		g.mu.Unlock()
		log.Printf("GUEST: ignoring join decision from %s (current attempt targets %s)", fromPeer, g.hostPeer)
		return
	}
	ch := g.decision
	g.decision = nil
	g.mu.Unlock()
	if ch == nil {
		// Stale decision from an abandoned attempt.
		return
	}
	select {
	case ch <- d:
	default:
	}
}

func (g *GuestController) applySnapshot(s party.Snapshot) {
	g.mu.Lock()
	g.snap = &s
	g.mu.Unlock()
	if g.cfg.OnSnapshot != nil {
		g.cfg.OnSnapshot(s)
	}
}

func (g *GuestController) applyNowPlaying(np party.NowPlaying) {
	g.mu.Lock()
	g.now = &np
	g.mu.Unlock()
	if g.cfg.OnNowPlaying != nil {
		g.cfg.OnNowPlaying(np)
	}
}

// State returns the latest snapshot, or nil before the first one.
func (g *GuestController) State() *party.Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snap
}

// NowPlaying returns the latest playback tick, or nil.
func (g *GuestController) NowPlaying() *party.NowPlaying {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.now
}

// Admitted reports whether the last join attempt succeeded.
func (g *GuestController) Admitted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.admitted
}

func (g *GuestController) host() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.admitted || g.hostPeer == "" {
		return "", errors.New("not admitted to a session")
	}
	return g.hostPeer, nil
}

// Vote sends an up/down vote to the host.
func (g *GuestController) Vote(ctx context.Context, itemID string, dir party.VoteDirection) error {
	hostPeer, err := g.host()
	if err != nil {
		return err
	}
	v := party.Vote{MemberID: g.cfg.MemberID, ItemID: itemID, Direction: dir, Timestamp: time.Now().UnixMilli()}
	return g.cfg.Transport.Send(ctx, hostPeer, &party.Message{Type: party.TypeVote, Vote: &v})
}

// RequestSkip asks the host to skip an item.
func (g *GuestController) RequestSkip(ctx context.Context, itemID string) error {
	hostPeer, err := g.host()
	if err != nil {
		return err
	}
	s := party.SkipRequest{MemberID: g.cfg.MemberID, ItemID: itemID, Timestamp: time.Now().UnixMilli()}
	return g.cfg.Transport.Send(ctx, hostPeer, &party.Message{Type: party.TypeSkipRequest, Skip: &s})
}

// Search runs a host-mediated catalog search and waits for the results.
func (g *GuestController) Search(ctx context.Context, query string) ([]party.TrackResult, error) {
	hostPeer, err := g.host()
	if err != nil {
		return nil, err
	}

	// Drain any stale result set from a previous search.
	select {
	case <-g.results:
	default:
	}

	req := party.SearchRequest{MemberID: g.cfg.MemberID, Query: query}
	if err := g.cfg.Transport.Send(ctx, hostPeer, &party.Message{Type: party.TypeSearch, Search: &req}); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Second):
		return nil, errors.New("search timed out")
	case res := <-g.results:
		return res.Tracks, nil
	}
}

// AddSong asks the host to append a catalog track to the queue.
func (g *GuestController) AddSong(ctx context.Context, trackID string) error {
	hostPeer, err := g.host()
	if err != nil {
		return err
	}
	a := party.AddSong{MemberID: g.cfg.MemberID, TrackID: trackID}
	return g.cfg.Transport.Send(ctx, hostPeer, &party.Message{Type: party.TypeAddSong, AddSong: &a})
}
