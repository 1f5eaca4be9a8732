// Package viewer serves a local monitor feed for the host UI: current
// party state over HTTP and a live event stream over WebSocket.
package viewer

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/partyplay/partyplay/internal/party"
	"github.com/partyplay/partyplay/internal/util"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 65536,
	// The feed binds to localhost; the host UI connects from a webview.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event is one monitor feed entry.
type Event struct {
	Type string `json:"type"`
	TS   int64  `json:"ts"`
	Data any    `json:"data,omitempty"`
}

// client is one WebSocket subscriber. A dedicated writer goroutine
// drains out, so Publish never blocks on a slow socket.
type client struct {
	conn *websocket.Conn
	out  chan Event
	quit chan struct{}
}

// Server is the local monitor endpoint. New WebSocket clients first get
// a replay of recent events, then live updates.
type Server struct {
	addr    string
	current func() *party.Snapshot

	mu      sync.Mutex
	clients map[*client]struct{}
	recent  *util.RingBuffer[Event]

	srv *http.Server
}

func New(addr string, current func() *party.Snapshot) *Server {
	return &Server{
		addr:    addr,
		current: current,
		clients: map[*client]struct{}{},
		recent:  util.NewRingBuffer[Event](100),
	}
}

// Start binds the listener and serves in the background. An empty addr
// disables the viewer.
func (s *Server) Start() error {
	if s.addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/ws", s.handleWS)

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.srv = &http.Server{Handler: mux}
	log.Printf("VIEWER: listening on http://%s", ln.Addr())
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("VIEWER: serve error: %v", err)
		}
	}()
	return nil
}

func (s *Server) Close() error {
	if s.srv == nil {
		return nil
	}
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		s.drop(c)
	}
	return s.srv.Close()
}

// Publish appends the event to the replay buffer and queues it to every
// connected client. The enqueue never blocks: a client whose buffer has
// filled up stopped reading long ago and gets dropped.
func (s *Server) Publish(ev Event) {
	if ev.TS == 0 {
		ev.TS = time.Now().UnixMilli()
	}

	s.mu.Lock()
	s.recent.Push(ev)
	var dead []*client
	for c := range s.clients {
		select {
		case c.out <- ev:
		default:
			dead = append(dead, c)
		}
	}
	s.mu.Unlock()
	for _, c := range dead {
		log.Printf("VIEWER: dropping client with full event buffer")
		s.drop(c)
	}
}

// ResetHistory clears the replay buffer, called when a new party starts
// so clients don't see the previous session's events.
func (s *Server) ResetHistory() {
	s.mu.Lock()
	s.recent.Reset()
	s.mu.Unlock()
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	snap := s.current()
	if snap == nil {
		http.Error(w, `{"error":"no active party"}`, http.StatusNotFound)
		return
	}
	_ = json.NewEncoder(w).Encode(snap)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("VIEWER: WebSocket upgrade error: %v", err)
		return
	}

	// The buffer holds a full replay plus live headroom.
	c := &client{conn: conn, out: make(chan Event, 256), quit: make(chan struct{})}

	// Queue the replay before registering, so live events published in
	// between land behind it in order.
	s.mu.Lock()
	for _, ev := range s.recent.Snapshot() {
		c.out <- ev
	}
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	go s.writeLoop(c)

	// Reader loop only exists to notice the close.
	go func() {
		defer s.drop(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) writeLoop(c *client) {
	for {
		select {
		case <-c.quit:
			return
		case ev := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
			if err := c.conn.WriteJSON(ev); err != nil {
				s.drop(c)
				return
			}
		}
	}
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	_, ok := s.clients[c]
	if ok {
		delete(s.clients, c)
	}
	s.mu.Unlock()
	if ok {
		close(c.quit)
		_ = c.conn.Close()
	}
}
