// Package stream serves evaluation results over HTTP and pushes each new
// result to websocket clients.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chosenoffset/mal/pkg/mal/emit"
	"github.com/chosenoffset/mal/pkg/mal/value"
)

// Result is the JSON form of one emitted event.
type Result struct {
	ID        string      `json:"id"`
	Cycle     string      `json:"cycle"`
	Metric    string      `json:"metric"`
	Kind      emit.Kind   `json:"kind"`
	ValueKind string      `json:"value_kind,omitempty"`
	Value     interface{} `json:"value,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type jsonSample struct {
	Name      string            `json:"name"`
	Labels    map[string]string `json:"labels"`
	Value     *float64          `json:"value"`
	Timestamp int64             `json:"timestamp"`
}

// Program describes one compiled metric for /api/programs.
type Program struct {
	Metric      string `json:"metric"`
	Source      string `json:"source"`
	Disassembly string `json:"disassembly"`
}

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Server holds the latest result per metric and fans new results out to
// websocket clients. It implements emit.Handler.
type Server struct {
	port       int
	server     *http.Server
	upgrader   websocket.Upgrader
	logger     *log.Logger
	maxClients int

	clientsMu sync.RWMutex
	clients   map[*client]struct{}

	mu       sync.RWMutex
	latest   map[string]Result
	programs func() []Program

	updates chan Result

	lifeMu sync.Mutex
	stop   chan struct{}
}

func NewServer(port int, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		port:       port,
		logger:     logger,
		maxClients: 100,
		clients:    make(map[*client]struct{}),
		latest:     make(map[string]Result),
		updates:    make(chan Result, 256),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return origin == fmt.Sprintf("http://localhost:%d", port) ||
				origin == fmt.Sprintf("http://127.0.0.1:%d", port)
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	s.lifeMu.Lock()
	s.startBroadcast()
	s.lifeMu.Unlock()
	return s
}

// startBroadcast runs a broadcast loop unless one is already running.
// s.lifeMu must be held.
func (s *Server) startBroadcast() {
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	go s.broadcast(s.stop)
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/results", s.handleResults)
	mux.HandleFunc("/api/programs", s.handlePrograms)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Start binds the configured port and serves in the background until
// Stop. A stopped server can be started again.
func (s *Server) Start() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.server != nil {
		return nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.server = srv
	s.startBroadcast()

	s.logger.Printf("Starting MAL result stream on :%d", s.port)
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Stream server error: %v", err)
		}
	}()
	return nil
}

// Stop closes every websocket client and shuts the listener down.
func (s *Server) Stop() error {
	s.lifeMu.Lock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	srv := s.server
	s.server = nil
	s.lifeMu.Unlock()

	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// SetProgramsProvider sets the function /api/programs reports.
func (s *Server) SetProgramsProvider(fn func() []Program) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.programs = fn
}

// Handle records ev as the latest result of its metric and queues it for
// websocket clients. Updates are dropped while the queue is full.
func (s *Server) Handle(ev emit.Event) error {
	r := encodeEvent(ev)

	s.mu.Lock()
	s.latest[r.Metric] = r
	s.mu.Unlock()

	select {
	case s.updates <- r:
	default:
	}
	return nil
}

// Latest returns the most recent result of every metric, sorted by metric.
func (s *Server) Latest() []Result {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Result, 0, len(s.latest))
	for _, r := range s.latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metric < out[j].Metric })
	return out
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Latest())
}

func (s *Server) handlePrograms(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	provider := s.programs
	s.mu.RUnlock()

	programs := []Program{}
	if provider != nil {
		programs = provider()
	}
	writeJSON(w, programs)
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ok",
		"data":   data,
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	count := len(s.clients)
	s.clientsMu.RUnlock()
	if count >= s.maxClients {
		http.Error(w, "Maximum clients reached", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("WebSocket upgrade error: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.clientsMu.Unlock()

	go s.writeLoop(c)
	s.readLoop(c)
}

// readLoop drains client messages so pongs and close frames are seen.
func (s *Server) readLoop(c *client) {
	defer s.drop(c)

	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Printf("WebSocket read error: %v", err)
			}
			return
		}
	}
}

// writeLoop is the only writer of c.conn.
func (s *Server) writeLoop(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) drop(c *client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
}

func (s *Server) broadcast(stop <-chan struct{}) {
	for {
		select {
		case r := <-s.updates:
			data, err := json.Marshal(map[string]interface{}{"type": "result", "data": r})
			if err != nil {
				s.logger.Printf("Error marshaling result: %v", err)
				continue
			}
			s.clientsMu.RLock()
			var slow []*client
			for c := range s.clients {
				select {
				case c.send <- data:
				default:
					slow = append(slow, c)
				}
			}
			s.clientsMu.RUnlock()
			for _, c := range slow {
				s.drop(c)
			}
		case <-stop:
			s.clientsMu.RLock()
			clients := make([]*client, 0, len(s.clients))
			for c := range s.clients {
				clients = append(clients, c)
			}
			s.clientsMu.RUnlock()
			for _, c := range clients {
				s.drop(c)
			}
			return
		}
	}
}

func encodeEvent(ev emit.Event) Result {
	r := Result{
		ID:        ev.ID.String(),
		Cycle:     ev.Cycle.String(),
		Metric:    ev.Metric,
		Kind:      ev.Kind,
		Timestamp: ev.Timestamp,
	}
	if ev.Err != nil {
		r.Error = ev.Err.Error()
		return r
	}
	r.ValueKind = ev.Value.Kind().String()
	r.Value = encodeValue(ev.Value)
	return r
}

func encodeValue(v value.Value) interface{} {
	if n, ok := v.Number(); ok {
		return finite(n)
	}
	if t, ok := v.Tags(); ok {
		return t
	}
	sf, ok := v.Family()
	if !ok || sf.IsEmpty() {
		return []jsonSample{}
	}
	out := make([]jsonSample, len(sf.Samples))
	for i, s := range sf.Samples {
		out[i] = jsonSample{Name: s.Name, Labels: s.Labels, Value: finite(s.Value), Timestamp: s.Timestamp}
	}
	return out
}

// finite returns nil for values JSON cannot represent.
func finite(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
