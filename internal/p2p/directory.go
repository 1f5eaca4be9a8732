package p2p

import (
	"sync"
	"time"
)

// SeenSession is a nearby session learned from a host's advertisement.
type SeenSession struct {
	SessionID string    `json:"session_id"`
	HostPeer  string    `json:"host_peer"`
	HostName  string    `json:"host_name"`
	LastSeen  time.Time `json:"last_seen"`
}

// SessionEvent is fanned out to directory listeners on every change.
type SessionEvent struct {
	Type      string        `json:"type"` // update|remove|snapshot
	SessionID string        `json:"session_id,omitempty"`
	Session   *SeenSession  `json:"session,omitempty"`
	Sessions  []SeenSession `json:"sessions,omitempty"`
}

// Directory tracks the sessions currently advertised on the LAN. A guest
// consults it to resolve a scanned session ID to the host's peer ID.
type Directory struct {
	mu        sync.Mutex
	sessions  map[string]SeenSession
	listeners []chan SessionEvent
	staleTTL  time.Duration
}

func NewDirectory() *Directory {
	return &Directory{
		sessions:  map[string]SeenSession{},
		listeners: make([]chan SessionEvent, 0),
		staleTTL:  30 * time.Second,
	}
}

func (d *Directory) Upsert(sessionID, hostPeer, hostName string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := SeenSession{
		SessionID: sessionID,
		HostPeer:  hostPeer,
		HostName:  hostName,
		LastSeen:  time.Now(),
	}
	d.sessions[sessionID] = s
	d.notifyListeners(SessionEvent{Type: "update", SessionID: sessionID, Session: &s})
}

func (d *Directory) Remove(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sessions[sessionID]; !ok {
		return
	}
	delete(d.sessions, sessionID)
	d.notifyListeners(SessionEvent{Type: "remove", SessionID: sessionID})
}

// Lookup resolves an advertised session. Stale entries (no advertisement
// within the TTL) are treated as gone.
func (d *Directory) Lookup(sessionID string) (SeenSession, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[sessionID]
	if !ok {
		return SeenSession{}, false
	}
	if time.Since(s.LastSeen) > d.staleTTL {
		delete(d.sessions, sessionID)
		return SeenSession{}, false
	}
	return s, true
}

// List returns all fresh sessions, pruning stale ones as a side effect.
func (d *Directory) List() []SeenSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]SeenSession, 0, len(d.sessions))
	for id, s := range d.sessions {
		if time.Since(s.LastSeen) > d.staleTTL {
			delete(d.sessions, id)
			continue
		}
		out = append(out, s)
	}
	return out
}

// Subscribe returns a channel that receives directory changes. The first
// event is a snapshot of the current sessions.
func (d *Directory) Subscribe() chan SessionEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := make(chan SessionEvent, 16)
	d.listeners = append(d.listeners, ch)

	snap := make([]SeenSession, 0, len(d.sessions))
	for _, s := range d.sessions {
		snap = append(snap, s)
	}
	ch <- SessionEvent{Type: "snapshot", Sessions: snap}
	return ch
}

func (d *Directory) Unsubscribe(ch chan SessionEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, l := range d.listeners {
		if l == ch {
			d.listeners = append(d.listeners[:i], d.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

func (d *Directory) notifyListeners(ev SessionEvent) {
	for _, ch := range d.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
}
