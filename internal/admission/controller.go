// Package admission validates join requests against the hosting session
// and manages member lifecycle: new admissions, reconnections and the
// deferred delivery of join decisions.
package admission

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/partyplay/partyplay/internal/location"
	"github.com/partyplay/partyplay/internal/party"
)

// Config bounds the admission waits and retries.
type Config struct {
	// ProximityRadiusM is the maximum great-circle distance between host
	// and guest fixes.
	ProximityRadiusM float64
	// FixWaitTimeout bounds how long a join request waits for the host to
	// obtain a location fix.
	FixWaitTimeout time.Duration
	// FixPollInterval is the polling step inside FixWaitTimeout.
	FixPollInterval time.Duration
	// DeliverAttempts bounds the decision send retries.
	DeliverAttempts int
	// DeliverBackoff is the pause between delivery attempts.
	DeliverBackoff time.Duration
}

// DefaultConfig matches the production admission behavior.
func DefaultConfig() Config {
	return Config{
		ProximityRadiusM: 65,
		FixWaitTimeout:   6 * time.Second,
		FixPollInterval:  300 * time.Millisecond,
		DeliverAttempts:  8,
		DeliverBackoff:   500 * time.Millisecond,
	}
}

// PeerLink is the slice of the transport the controller needs to deliver
// a decision: connection visibility and a point send.
type PeerLink interface {
	IsConnected(peerID string) bool
	Send(ctx context.Context, peerID string, msg *party.Message) error
}

// Controller checks join requests and admits members into PartyState. It
// must only be called from the session owner goroutine; it shares the
// authoritative state with the other engines.
type Controller struct {
	cfg       Config
	sessionID string
	joinCode  string
	hostLoc   location.Provider
	state     *party.PartyState

	sleep func(time.Duration)
}

// New creates a controller bound to the hosting session identity.
func New(sessionID, joinCode string, state *party.PartyState, hostLoc location.Provider, cfg Config) *Controller {
	return &Controller{
		cfg:       cfg,
		sessionID: sessionID,
		joinCode:  joinCode,
		hostLoc:   hostLoc,
		state:     state,
		sleep:     time.Sleep,
	}
}

// Decide runs the admission checks in order and, on success, admits the
// member (updating in place on reconnection — the headcount never grows
// for a member ID already known). The host fix comes in as an argument:
// WaitForHostFix can block for seconds and belongs off the owner
// goroutine, while Decide mutates shared state and belongs on it.
func (c *Controller) Decide(req party.JoinRequest, hostFix location.Coordinate, hasFix bool) party.JoinDecision {
	reject := func(reason string) party.JoinDecision {
		log.Printf("JOIN: rejected %s (%s): %s", req.DisplayName, req.MemberID, reason)
		return party.JoinDecision{Accepted: false, Reason: reason, MemberID: req.MemberID}
	}

	if req.SessionID != c.sessionID {
		return reject("wrong session")
	}
	if req.JoinCode != c.joinCode {
		return reject("wrong join code")
	}

	if !hasFix || req.Location == nil {
		return reject("location missing")
	}
	dist := location.DistanceMeters(hostFix, *req.Location)
	if dist > c.cfg.ProximityRadiusM {
		return reject(fmt.Sprintf("too far: %.0fm away (limit %.0fm)", dist, c.cfg.ProximityRadiusM))
	}

	now := time.Now().UnixMilli()
	if m := c.state.FindMember(req.MemberID); m != nil {
		// Reconnection: refresh fields, never re-count.
		m.DisplayName = req.DisplayName
		m.HasPlayback = req.HasPlayback
		m.Admitted = true
		m.LastSeen = now
		log.Printf("JOIN: %s (%s) reconnected", req.DisplayName, req.MemberID)
	} else {
		c.state.Members = append(c.state.Members, &party.Member{
			ID:          req.MemberID,
			DisplayName: req.DisplayName,
			Admitted:    true,
			HasPlayback: req.HasPlayback,
			LastSeen:    now,
		})
		log.Printf("JOIN: admitted %s (%s), %d members", req.DisplayName, req.MemberID, len(c.state.Members))
	}
	return party.JoinDecision{Accepted: true, MemberID: req.MemberID}
}

// WaitForHostFix polls the host's positioning provider up to
// FixWaitTimeout. It fails fast when authorization is denied or
// restricted — no amount of waiting will produce a fix then. Safe to
// call from any goroutine; it only reads the provider.
func (c *Controller) WaitForHostFix(ctx context.Context) (location.Coordinate, bool) {
	deadline := time.Now().Add(c.cfg.FixWaitTimeout)
	for {
		switch c.hostLoc.Authorization() {
		case location.AuthDenied, location.AuthRestricted:
			return location.Coordinate{}, false
		}
		if fix, ok := c.hostLoc.Current(); ok {
			return fix, true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return location.Coordinate{}, false
		}
		c.sleep(c.cfg.FixPollInterval)
	}
}

// DeliverDecision sends the decision once the transport reports the peer
// as connected. Accept-and-immediately-send races the transport's
// connection completion, so the send is retried with backoff up to the
// configured attempt count.
func (c *Controller) DeliverDecision(ctx context.Context, link PeerLink, peerID string, d party.JoinDecision) error {
	msg := &party.Message{Type: party.TypeJoinDecision, Decision: &d}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.DeliverAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !link.IsConnected(peerID) {
			lastErr = fmt.Errorf("peer %s not connected", peerID)
			c.sleep(c.cfg.DeliverBackoff)
			continue
		}
		if err := link.Send(ctx, peerID, msg); err != nil {
			lastErr = err
			c.sleep(c.cfg.DeliverBackoff)
			continue
		}
		return nil
	}
	return fmt.Errorf("deliver join decision to %s: %w", peerID, lastErr)
}
