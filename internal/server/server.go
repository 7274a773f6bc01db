package server

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/shaunagostinho/pytes-bridge/internal/config"
	"github.com/shaunagostinho/pytes-bridge/internal/poller"
	"github.com/shaunagostinho/pytes-bridge/internal/publish"
	"github.com/shaunagostinho/pytes-bridge/internal/record"
)

// Source is what the server reads cycle data from; *poller.Scheduler
// satisfies it.
type Source interface {
	Latest() (record.CycleResult, bool)
	Status() poller.Status
}

// Server exposes the latest cycle over HTTP and streams published values to
// WebSocket clients. It is also a publish.Sink.
type Server struct {
	cfg   *config.Config
	webFS fs.FS
	id    string

	mu     sync.RWMutex
	source Source

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to WebSocket clients. A client receives
// one Frame with Cycle set on connect, then one per published target.
type Frame struct {
	Target    string              `json:"target,omitempty"`
	Values    []frameValue        `json:"values,omitempty"`
	Cycle     *record.CycleResult `json:"cycle,omitempty"`
	Available *bool               `json:"available,omitempty"`
	Stamp     int64               `json:"stamp"` // Unix ms
}

type frameValue struct {
	Entity string `json:"entity"`
	Field  string `json:"field"`
	Value  string `json:"value"`
	Unit   string `json:"unit,omitempty"`
}

// StatusResponse is returned by /api/status.
type StatusResponse struct {
	poller.Status
	Instance   string  `json:"instance"`
	Batteries  int     `json:"batteries"`
	CapacityAh float64 `json:"capacityAh"`
	Transport  string  `json:"transport"`
}

// New creates a new Server. webFS may be nil. Attach a Source before
// serving requests.
func New(cfg *config.Config, webFS fs.FS) *Server {
	return &Server{
		cfg:     cfg,
		webFS:   webFS,
		id:      uuid.NewString(),
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Attach sets the Source read by the HTTP handlers. The scheduler publishes
// into the server, so the two are wired after construction.
func (s *Server) Attach(src Source) {
	s.mu.Lock()
	s.source = src
	s.mu.Unlock()
}

func (s *Server) latest() (record.CycleResult, bool) {
	s.mu.RLock()
	src := s.source
	s.mu.RUnlock()
	if src == nil {
		return record.CycleResult{}, false
	}
	return src.Latest()
}

func (s *Server) status() poller.Status {
	s.mu.RLock()
	src := s.source
	s.mu.RUnlock()
	if src == nil {
		return poller.Status{State: poller.StateIdle.String()}
	}
	return src.Status()
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	if s.webFS != nil {
		mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	}
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/latest", s.handleLatest)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/config", s.handleConfig)
	return mux
}

// Run serves HTTP until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s", s.cfg.Server.ListenAddr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Name() string { return "websocket" }

// Publish implements publish.Sink.
func (s *Server) Publish(t publish.Target, values []publish.Value) {
	frame := Frame{
		Target: t.Key(),
		Values: make([]frameValue, len(values)),
		Stamp:  time.Now().UnixMilli(),
	}
	for i, v := range values {
		frame.Values[i] = frameValue{Entity: v.Entity, Field: string(v.Field), Value: v.Payload()}
		if v.Present() {
			frame.Values[i].Unit = v.Unit
		}
	}
	s.broadcast(frame)
}

// SetAvailable implements publish.AvailabilitySink.
func (s *Server) SetAvailable(up bool) {
	s.broadcast(Frame{Available: &up, Stamp: time.Now().UnixMilli()})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()

	log.Printf("[ws] client connected (%d total)", n)

	if res, ok := s.latest(); ok {
		if data, err := json.Marshal(Frame{Cycle: &res, Stamp: time.Now().UnixMilli()}); err == nil {
			client.send <- data
		}
	}

	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reads only detect the close.
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			s.clientsMu.Unlock()
			close(client.send)
			log.Printf("[ws] client disconnected (%d total)", n)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	res, ok := s.latest()
	if !ok {
		http.Error(w, "no cycle completed yet", http.StatusNotFound)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, StatusResponse{
		Status:     s.status(),
		Instance:   s.id,
		Batteries:  s.cfg.Rack.NumBatteries,
		CapacityAh: s.cfg.Rack.CapacityAh,
		Transport:  s.cfg.Serial.Type,
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data, err := s.cfg.ToJSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}
