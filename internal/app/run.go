// Package app wires the subsystems into a running host or guest process.
package app

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/partyplay/partyplay/internal/admission"
	"github.com/partyplay/partyplay/internal/config"
	"github.com/partyplay/partyplay/internal/location"
	"github.com/partyplay/partyplay/internal/p2p"
	"github.com/partyplay/partyplay/internal/party"
	"github.com/partyplay/partyplay/internal/playback"
	"github.com/partyplay/partyplay/internal/session"
	"github.com/partyplay/partyplay/internal/storage"
	"github.com/partyplay/partyplay/internal/transport"
	"github.com/partyplay/partyplay/internal/viewer"
)

// Options selects what this process does.
type Options struct {
	DataDir string
	CfgPath string
	Cfg     config.Config
	// JoinPayload is the scanned QR content; empty means host mode.
	JoinPayload string
}

type runtime struct {
	cfg  config.Config
	db   *storage.DB
	node *p2p.Node
	mq   *transport.Manager
	dir  *p2p.Directory
	loc  *location.Static
}

// Run starts a host session or joins one, then blocks until the context
// ends.
func Run(ctx context.Context, opt Options) error {
	rt, err := setup(ctx, opt)
	if err != nil {
		return err
	}
	defer rt.close()

	if opt.JoinPayload == "" {
		return rt.runHost(ctx, opt)
	}
	return rt.runGuest(ctx, opt)
}

func setup(ctx context.Context, opt Options) (*runtime, error) {
	cfg := opt.Cfg

	db, err := storage.Open(opt.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	keyFile := filepath.Join(opt.DataDir, cfg.Identity.KeyFile)
	node, err := p2p.New(ctx, cfg.P2P.ListenPort, keyFile)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("start p2p node: %w", err)
	}
	log.Printf("P2P: peer ID %s", node.ID())

	mq := transport.New(node.Host)
	dir := p2p.NewDirectory()
	node.RunDiscoveryLoop(ctx, dir, nil)

	return &runtime{
		cfg:  cfg,
		db:   db,
		node: node,
		mq:   mq,
		dir:  dir,
		loc:  staticLocation(cfg.Location),
	}, nil
}

func (rt *runtime) close() {
	_ = rt.node.Close()
	_ = rt.db.Close()
}

// deviceMemberID returns the stable per-device member ID, minting one on
// first run.
func (rt *runtime) deviceMemberID() (string, error) {
	id, err := rt.db.GetMeta("member_id")
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := rt.db.SetMeta("member_id", id); err != nil {
		return "", err
	}
	return id, nil
}

func staticLocation(lc config.Location) *location.Static {
	auth := location.AuthAuthorized
	switch lc.Authorization {
	case "denied":
		auth = location.AuthDenied
	case "restricted":
		auth = location.AuthRestricted
	case "undetermined":
		auth = location.AuthUnknown
	}
	return &location.Static{
		Pos:    location.Coordinate{Lat: lc.Lat, Lng: lc.Lon},
		HasFix: lc.HasFix,
		Auth:   auth,
	}
}

func (rt *runtime) runHost(ctx context.Context, opt Options) error {
	admCfg := admission.DefaultConfig()
	admCfg.ProximityRadiusM = float64(rt.cfg.Party.ProximityRadiusM)

	player := playback.NewDemoEngine()
	defer player.Close()

	var monitor *viewer.Server
	host := session.NewHost(session.HostConfig{
		HostName:   rt.cfg.Profile.DisplayName,
		Settings:   rt.cfg.Settings(),
		Admission:  admCfg,
		Location:   rt.loc,
		Transport:  rt.mq,
		Journal:    rt.db,
		Player:     player,
		Catalog:    playback.NewCatalog(),
		SeedTracks: rt.cfg.Party.SeedTracks,
		Monitor: func(event string, data any) {
			if monitor != nil {
				monitor.Publish(viewer.Event{Type: event, Data: data})
			}
		},
	})

	monitor = viewer.New(rt.cfg.Viewer.HTTPAddr, host.Snapshot)
	if err := monitor.Start(); err != nil {
		return fmt.Errorf("start viewer: %w", err)
	}
	defer monitor.Close()
	monitor.ResetHistory()

	rt.mq.SetHandler(host.Deliver)

	// Disconnects mark the bound member as away so the vote thresholds
	// track who is actually present; the member record survives for a
	// later reconnection.
	rt.mq.OnConnected = func(peerID string) {
		log.Printf("APP: peer %s connected", peerID)
	}
	rt.mq.OnDisconnected = func(peerID string) {
		if memberID, ok := rt.mq.MemberForPeer(peerID); ok {
			host.MemberLeft(peerID, memberID)
			rt.mq.Forget(peerID)
		}
	}

	if err := rt.db.RecordParty(host.SessionID(), rt.cfg.Profile.DisplayName, "host"); err != nil {
		log.Printf("APP: record party failed: %v", err)
	}
	defer func() {
		if err := rt.db.EndParty(host.SessionID()); err != nil {
			log.Printf("APP: end party failed: %v", err)
		}
	}()

	interval := time.Duration(rt.cfg.P2P.AdvertiseIntervalSec) * time.Second
	rt.node.StartAdvertiseLoop(ctx, host.SessionID(), rt.cfg.Profile.DisplayName, interval)

	// Live settings: edits to the config file reach the running session.
	if w, err := config.Watch(opt.CfgPath, func(c config.Config) {
		if err := host.UpdateSettings(c.Settings()); err != nil {
			log.Printf("APP: settings reload rejected: %v", err)
		}
	}); err == nil {
		defer w.Close()
	} else {
		log.Printf("APP: config watch disabled: %v", err)
	}

	log.Println("────────────────────────────────────────")
	log.Printf("Hosting party %s", host.SessionID())
	log.Printf("Join code: %s", host.JoinCode())
	log.Printf("QR payload: %s", host.JoinPayload())
	log.Println("────────────────────────────────────────")

	host.Run(ctx)
	return nil
}

func (rt *runtime) runGuest(ctx context.Context, opt Options) error {
	memberID, err := rt.deviceMemberID()
	if err != nil {
		return err
	}

	guest := session.NewGuest(session.GuestConfig{
		MemberID:    memberID,
		DisplayName: rt.cfg.Profile.DisplayName,
		HasPlayback: false,
		Location:    rt.loc,
		Transport:   rt.mq,
		OnSnapshot: func(s party.Snapshot) {
			log.Printf("GUEST: queue has %d tracks, %d members", len(s.State.Queue), len(s.State.Members))
		},
	})
	rt.mq.SetHandler(guest.Deliver)

	// The host's advertisement may not have arrived yet; give discovery a
	// few seconds before giving up.
	resolve := func(sessionID string) (string, bool) {
		deadline := time.Now().Add(15 * time.Second)
		for time.Now().Before(deadline) && ctx.Err() == nil {
			if s, ok := rt.dir.Lookup(sessionID); ok {
				return s.HostPeer, true
			}
			time.Sleep(500 * time.Millisecond)
		}
		return "", false
	}

	if err := guest.Join(ctx, opt.JoinPayload, resolve); err != nil {
		return fmt.Errorf("join party: %w", err)
	}

	if snap := guest.State(); snap != nil {
		if err := rt.db.RecordParty(snap.State.SessionID, snap.State.HostName, "guest"); err != nil {
			log.Printf("APP: record party failed: %v", err)
		}
	}

	<-ctx.Done()
	return nil
}
