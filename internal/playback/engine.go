// Package playback drives track progress for the host. The demo engine
// simulates playback against a built-in catalog; a real player backend
// would implement the same Engine surface.
package playback

import (
	"log"
	"sync"
	"time"
)

// TickState is a point-in-time view of the player.
type TickState struct {
	TrackID     string `json:"track_id"`
	PositionSec int    `json:"position_sec"`
	DurationSec int    `json:"duration_sec"`
	IsPlaying   bool   `json:"is_playing"`
}

// Engine is the host-side player surface the session controller drives.
type Engine interface {
	// Load swaps the current track and resets position. An empty track ID
	// stops playback.
	Load(trackID string, durationSec int)
	Play()
	Pause()
	State() TickState
	// OnTrackEnd fires once when the loaded track runs out.
	OnTrackEnd(fn func(trackID string))
	// OnTick fires once per second while a track is loaded.
	OnTick(fn func(TickState))
	Close()
}

// DemoEngine advances a simulated play position once per second. Tick
// handlers run to completion on the engine goroutine, so a slow handler
// delays the next tick instead of overlapping it.
type DemoEngine struct {
	mu      sync.Mutex
	state   TickState
	onEnd   func(string)
	onTick  func(TickState)
	stop    chan struct{}
	stopped bool
}

func NewDemoEngine() *DemoEngine {
	e := &DemoEngine{stop: make(chan struct{})}
	go e.run()
	return e
}

func (e *DemoEngine) Load(trackID string, durationSec int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if trackID == "" {
		e.state = TickState{}
		return
	}
	e.state = TickState{TrackID: trackID, DurationSec: durationSec, IsPlaying: true}
	log.Printf("PLAYBACK: loaded %s (%ds)", trackID, durationSec)
}

func (e *DemoEngine) Play() {
	e.mu.Lock()
	if e.state.TrackID != "" {
		e.state.IsPlaying = true
	}
	e.mu.Unlock()
}

func (e *DemoEngine) Pause() {
	e.mu.Lock()
	e.state.IsPlaying = false
	e.mu.Unlock()
}

func (e *DemoEngine) State() TickState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *DemoEngine) OnTrackEnd(fn func(string)) {
	e.mu.Lock()
	e.onEnd = fn
	e.mu.Unlock()
}

func (e *DemoEngine) OnTick(fn func(TickState)) {
	e.mu.Lock()
	e.onTick = fn
	e.mu.Unlock()
}

func (e *DemoEngine) Close() {
	e.mu.Lock()
	if !e.stopped {
		e.stopped = true
		close(e.stop)
	}
	e.mu.Unlock()
}

func (e *DemoEngine) run() {
	t := time.NewTicker(1 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-t.C:
			e.tick()
		}
	}
}

func (e *DemoEngine) tick() {
	e.mu.Lock()
	if e.state.TrackID == "" || !e.state.IsPlaying {
		e.mu.Unlock()
		return
	}
	e.state.PositionSec++
	st := e.state
	onTick := e.onTick
	var onEnd func(string)
	var ended string
	if st.PositionSec >= st.DurationSec {
		ended = st.TrackID
		onEnd = e.onEnd
		e.state = TickState{}
	}
	e.mu.Unlock()

	if onTick != nil {
		onTick(st)
	}
	if onEnd != nil {
		onEnd(ended)
	}
}
