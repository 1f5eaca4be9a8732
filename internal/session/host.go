// Package session owns the party lifecycle on both sides: the host's
// authoritative controller and the guest's mirror. All host state is
// mutated from a single owner goroutine fed by a command channel.
package session

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/partyplay/partyplay/internal/admission"
	"github.com/partyplay/partyplay/internal/location"
	"github.com/partyplay/partyplay/internal/party"
	"github.com/partyplay/partyplay/internal/playback"
	"github.com/partyplay/partyplay/internal/queue"
	"github.com/partyplay/partyplay/internal/ratelimit"
	"github.com/partyplay/partyplay/internal/snapshot"
	"github.com/partyplay/partyplay/internal/storage"
	"github.com/partyplay/partyplay/internal/voting"
)

// Transport is the slice of the peer messaging layer the session needs.
// Enqueue must deliver messages to one peer in enqueue order.
type Transport interface {
	IsConnected(peerID string) bool
	Send(ctx context.Context, peerID string, msg *party.Message) error
	Enqueue(peerID string, msg *party.Message)
	BindMember(peerID, memberID string)
	MemberForPeer(peerID string) (string, bool)
	ConnectedPeers() []string
}

// Journal records party history. *storage.DB satisfies it; tests use a
// fake.
type Journal interface {
	AppendJournal(e storage.JournalEntry) error
}

// HostConfig assembles a hosting session.
type HostConfig struct {
	HostName  string
	Settings  party.Settings
	Admission admission.Config
	Location  location.Provider
	Transport Transport
	Journal   Journal         // optional
	Player    playback.Engine // optional
	Catalog   *playback.Catalog
	// SeedTracks is how many catalog tracks the fresh queue starts with.
	SeedTracks int
	// Monitor receives local UI events. Optional.
	Monitor func(event string, data any)
}

// HostController is the authoritative session owner. External callers
// post work through the command channel; engines are never touched from
// any other goroutine.
type HostController struct {
	cfg       HostConfig
	sessionID string
	joinCode  string

	state  *party.PartyState
	queue  *queue.Engine
	limits *ratelimit.Limiter
	votes  *voting.Engine
	adm    *admission.Controller
	bcast  *snapshot.Broadcaster

	pendingSkips []*party.PendingSkipRequest

	ctx  context.Context
	cmds chan func()
	quit chan struct{}
}

// NewHost creates and seeds a hosting session. Run must be started before
// any message is processed.
func NewHost(cfg HostConfig) *HostController {
	if cfg.Catalog == nil {
		cfg.Catalog = playback.NewCatalog()
	}
	if cfg.Location == nil {
		cfg.Location = location.None()
	}

	h := &HostController{
		cfg:       cfg,
		sessionID: admission.NewSessionID(),
		joinCode:  admission.NewJoinCode(),
		queue:     queue.New(),
		limits:    ratelimit.New(cfg.Settings.MaxConcurrentActions, cfg.Settings.Cooldown()),
		ctx:       context.Background(),
		cmds:      make(chan func(), 256),
		quit:      make(chan struct{}),
	}
	h.state = &party.PartyState{
		SessionID: h.sessionID,
		HostName:  cfg.HostName,
		CreatedAt: time.Now().UnixMilli(),
	}
	h.votes = voting.New(h.queue, h.limits, cfg.Settings, h.state.AdmittedGuestCount)
	h.adm = admission.New(h.sessionID, h.joinCode, h.state, cfg.Location, cfg.Admission)
	h.bcast = snapshot.New(cfg.Transport, cfg.Transport)

	for _, t := range cfg.Catalog.Seed(cfg.SeedTracks) {
		h.queue.Append(h.newItem(t, "host"))
	}

	if cfg.Player != nil {
		cfg.Player.OnTrackEnd(func(trackID string) {
			h.post(func() { h.trackEnded() })
		})
		cfg.Player.OnTick(func(st playback.TickState) {
			h.post(func() { h.publishNowPlaying(st) })
		})
		if cur, ok := h.queue.Current(); ok {
			cfg.Player.Load(cur.TrackID, cur.DurationSec)
		}
	}

	log.Printf("GROUP: hosting session %s (join code %s)", h.sessionID, h.joinCode)
	return h
}

// SessionID returns the public session identifier.
func (h *HostController) SessionID() string { return h.sessionID }

// JoinCode returns the admission secret shown only on the host screen.
func (h *HostController) JoinCode() string { return h.joinCode }

// JoinPayload returns the string encoded into the on-screen QR code.
func (h *HostController) JoinPayload() string {
	return party.EncodeJoinPayload(h.sessionID, h.joinCode)
}

// Run processes commands until the context ends. All engine access
// happens on this goroutine.
func (h *HostController) Run(ctx context.Context) {
	h.ctx = ctx
	defer close(h.quit)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.cmds:
			cmd()
		}
	}
}

func (h *HostController) post(fn func()) {
	select {
	case h.cmds <- fn:
	case <-h.quit:
	}
}

// do posts fn and waits for it to finish on the owner goroutine.
func (h *HostController) do(fn func()) {
	done := make(chan struct{})
	h.post(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
	case <-h.quit:
	}
}

// Deliver feeds an incoming peer message into the session. Safe to call
// from transport goroutines.
func (h *HostController) Deliver(fromPeer string, msg *party.Message) {
	h.post(func() { h.handleMessage(fromPeer, msg) })
}

func (h *HostController) handleMessage(fromPeer string, msg *party.Message) {
	switch msg.Type {
	case party.TypeJoinRequest:
		if msg.Join != nil {
			h.handleJoin(fromPeer, *msg.Join)
		}
	case party.TypeVote:
		if msg.Vote != nil {
			h.handleVote(fromPeer, *msg.Vote)
		}
	case party.TypeSkipRequest:
		if msg.Skip != nil {
			h.handleSkipRequest(*msg.Skip)
		}
	case party.TypeSearch:
		if msg.Search != nil {
			h.handleSearch(fromPeer, *msg.Search)
		}
	case party.TypeAddSong:
		if msg.AddSong != nil {
			h.handleAddSong(*msg.AddSong)
		}
	default:
		log.Printf("GROUP: ignoring message type %q from %s", msg.Type, fromPeer)
	}
}

// handleJoin runs in three phases. The host fix wait can take seconds,
// so it runs off-loop; the admission decision mutates shared state, so
// it runs on-loop; and the member is only bound into the broadcast set
// after the decision is on the wire, so no snapshot triggered by an
// unrelated event can overtake the pending decision.
func (h *HostController) handleJoin(fromPeer string, req party.JoinRequest) {
	go func() {
		fix, ok := h.adm.WaitForHostFix(h.ctx)
		h.post(func() { h.decideJoin(fromPeer, req, fix, ok) })
	}()
}

func (h *HostController) decideJoin(fromPeer string, req party.JoinRequest, fix location.Coordinate, hasFix bool) {
	d := h.adm.Decide(req, fix, hasFix)
	go func() {
		if err := h.adm.DeliverDecision(h.ctx, h.cfg.Transport, fromPeer, d); err != nil {
			log.Printf("JOIN: decision delivery failed: %v", err)
			return
		}
		if d.Accepted {
			h.post(func() { h.finishJoin(fromPeer, req) })
		}
	}()
}

func (h *HostController) finishJoin(fromPeer string, req party.JoinRequest) {
	h.cfg.Transport.BindMember(fromPeer, req.MemberID)
	h.journal(storage.JournalEntry{Kind: "joined", Member: req.MemberID, Detail: req.DisplayName})
	h.monitor("memberJoined", req.MemberID)
	h.broadcast()
}

// MemberLeft marks the peer's member as no longer admitted, keeping the
// member record for a later reconnection. Wired to the transport's
// disconnect notifications.
func (h *HostController) MemberLeft(peerID, memberID string) {
	h.post(func() {
		m := h.state.FindMember(memberID)
		if m == nil || !m.Admitted {
			return
		}
		m.Admitted = false
		m.LastSeen = time.Now().UnixMilli()
		log.Printf("GROUP: member %s (peer %s) disconnected, %d admitted", memberID, peerID, h.state.AdmittedGuestCount())
		h.monitor("memberLeft", memberID)
		h.broadcast()
	})
}

func (h *HostController) handleVote(fromPeer string, v party.Vote) {
	if m := h.state.FindMember(v.MemberID); m == nil || !m.Admitted {
		log.Printf("VOTE: ignoring vote from unadmitted member %s", v.MemberID)
		return
	}
	res := h.votes.CastVote(v)
	if !res.Accepted {
		// Resync the voter so their UI reflects the rejection reason's
		// underlying state (cooldowns, slots).
		h.sendSnapshotTo(fromPeer, v.MemberID)
		return
	}
	if out := res.Outcome; out != nil && !out.Pending {
		h.journalOutcome(out.Kind, out.ItemID)
		h.monitor("voteOutcome", out)
	}
	if out := res.Outcome; out != nil && out.Pending {
		h.monitor("pendingOutcome", h.votes.PendingOutcomes())
	}
	h.broadcast()
}

func (h *HostController) handleSearch(fromPeer string, req party.SearchRequest) {
	tracks := h.cfg.Catalog.Search(req.Query, 20)
	results := party.SearchResults{Query: req.Query, Tracks: make([]party.TrackResult, len(tracks))}
	for i, t := range tracks {
		results.Tracks[i] = party.TrackResult{
			TrackID:     t.ID,
			Title:       t.Title,
			Artist:      t.Artist,
			ArtworkURL:  t.ArtworkURL,
			DurationSec: t.DurationSec,
		}
	}
	h.cfg.Transport.Enqueue(fromPeer, &party.Message{Type: party.TypeResults, Results: &results})
}

func (h *HostController) handleAddSong(req party.AddSong) {
	if m := h.state.FindMember(req.MemberID); m == nil || !m.Admitted {
		return
	}
	track, ok := h.cfg.Catalog.Get(req.TrackID)
	if !ok {
		log.Printf("GROUP: add request for unknown track %s", req.TrackID)
		return
	}
	item := h.newItem(track, req.MemberID)
	h.queue.Append(item)
	h.journal(storage.JournalEntry{Kind: "added", ItemID: item.ID, Title: item.Title, Artist: item.Artist, Member: req.MemberID})

	// First track of an empty party starts playback.
	if h.cfg.Player != nil && h.cfg.Player.State().TrackID == "" {
		if cur, ok := h.queue.Current(); ok {
			h.cfg.Player.Load(cur.TrackID, cur.DurationSec)
		}
	}
	h.broadcast()
}

func (h *HostController) newItem(t playback.Track, addedBy string) *party.QueueItem {
	return &party.QueueItem{
		ID:          uuid.NewString(),
		TrackID:     t.ID,
		Title:       t.Title,
		Artist:      t.Artist,
		ArtworkURL:  t.ArtworkURL,
		DurationSec: t.DurationSec,
		AddedBy:     addedBy,
		AddedAt:     time.Now().UnixMilli(),
	}
}

// trackEnded advances the cursor when the player runs out and loads the
// next track.
func (h *HostController) trackEnded() {
	if cur, ok := h.queue.Current(); ok {
		h.journal(storage.JournalEntry{Kind: "played", ItemID: cur.ID, Title: cur.Title, Artist: cur.Artist})
	}
	h.queue.Advance()
	h.loadCurrent()
	h.broadcast()
}

func (h *HostController) loadCurrent() {
	if h.cfg.Player == nil {
		return
	}
	if cur, ok := h.queue.Current(); ok {
		h.cfg.Player.Load(cur.TrackID, cur.DurationSec)
	} else {
		h.cfg.Player.Load("", 0)
	}
}

func (h *HostController) publishNowPlaying(st playback.TickState) {
	np := party.NowPlaying{
		IsPlaying:       st.IsPlaying,
		PositionSeconds: float64(st.PositionSec),
		SentAt:          time.Now().UnixMilli(),
	}
	if cur, ok := h.queue.Current(); ok && cur.TrackID == st.TrackID {
		np.ItemID = cur.ID
	}
	msg := &party.Message{Type: party.TypeNowPlaying, NowPlaying: &np}
	for _, peerID := range h.cfg.Transport.ConnectedPeers() {
		if _, bound := h.cfg.Transport.MemberForPeer(peerID); !bound {
			continue
		}
		h.cfg.Transport.Enqueue(peerID, msg)
	}
	h.monitor("nowPlaying", np)
}

// syncState republishes the queue engine's truth into the wire-facing
// aggregate before every broadcast.
func (h *HostController) syncState() {
	h.state.Queue = h.queue.Items()
	if cur, ok := h.queue.Current(); ok {
		h.state.NowPlayingID = cur.ID
	} else {
		h.state.NowPlayingID = ""
	}
}

func (h *HostController) broadcast() {
	h.syncState()
	h.bcast.Broadcast(h.state, h.limits)
	h.monitor("queueChanged", nil)
}

func (h *HostController) sendSnapshotTo(peerID, memberID string) {
	h.syncState()
	snap := snapshot.Personalize(h.state, h.limits, memberID)
	h.cfg.Transport.Enqueue(peerID, &party.Message{Type: party.TypeSnapshot, Snapshot: &snap})
}

func (h *HostController) journal(e storage.JournalEntry) {
	if h.cfg.Journal == nil {
		return
	}
	e.SessionID = h.sessionID
	if err := h.cfg.Journal.AppendJournal(e); err != nil {
		log.Printf("GROUP: journal write failed: %v", err)
	}
}

func (h *HostController) journalOutcome(kind party.OutcomeKind, itemID string) {
	entry := storage.JournalEntry{ItemID: itemID, Detail: "vote threshold"}
	switch kind {
	case party.OutcomeRemove:
		entry.Kind = "removed"
		for _, it := range h.votes.RecentlyRemoved() {
			if it.ID == itemID {
				entry.Title = it.Title
				entry.Artist = it.Artist
			}
		}
	case party.OutcomeSendToEnd:
		entry.Kind = "sent_to_end"
	case party.OutcomePromoteBehindCurrent:
		entry.Kind = "promoted"
	}
	if it := h.state.FindItem(itemID); it != nil {
		entry.Title = it.Title
		entry.Artist = it.Artist
	}
	h.journal(entry)
}

func (h *HostController) monitor(event string, data any) {
	if h.cfg.Monitor != nil {
		h.cfg.Monitor(event, data)
	}
}
