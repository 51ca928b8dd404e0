// Package dashboard is a browser operator console for a running monitor. It
// streams entries and lifecycle transitions over a websocket and accepts
// grant/deny decisions from connected operators.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ppiankov/monmon/internal/eventlog"
	"github.com/ppiankov/monmon/internal/logging"
	"github.com/ppiankov/monmon/internal/monitor"
)

const (
	DefaultAddr = "127.0.0.1:8089"

	maxClients   = 100
	queueSize    = 256
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

// Message types sent to and received from clients.
const (
	TypeHello              = "hello"
	TypeEntry              = "entry"
	TypeTransition         = "transition"
	TypePermissionRequired = "permission_required"
	TypeDecision           = "decision"
	TypeError              = "error"
)

// Target is the monitor surface the console reads and drives.
type Target interface {
	GrantPermission(granted bool) error
	State() monitor.State
	Pending() string
	SessionID() string
}

// Message is one websocket frame.
type Message struct {
	Type      string          `json:"type"`
	Time      time.Time       `json:"ts"`
	SessionID string          `json:"session_id,omitempty"`
	State     string          `json:"state,omitempty"`
	Event     string          `json:"event,omitempty"`
	Condition string          `json:"condition,omitempty"`
	Details   string          `json:"details,omitempty"`
	Entry     *eventlog.Entry `json:"entry,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Decision is the frame an operator sends to resolve a pause.
type Decision struct {
	Type    string `json:"type"`
	Granted bool   `json:"granted"`
}

// client serializes writes to one connection.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(messageType, data)
}

// Server is the console. It is a monitor.Notifier, a monitor.Observer and an
// eventlog.Sink, so one value wired into a monitor sees everything.
type Server struct {
	logger   logging.Logger
	upgrader websocket.Upgrader

	targetMu sync.RWMutex
	target   Target

	clientsMu sync.RWMutex
	clients   map[*client]bool

	queue    chan Message
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a Server and starts its broadcast loop. Call Close to stop it.
func New(logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop{}
	}
	s := &Server{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin:     sameHostOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*client]bool),
		queue:   make(chan Message, queueSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.broadcast()
	return s
}

// SetTarget attaches the monitor decisions are forwarded to.
func (s *Server) SetTarget(t Target) {
	s.targetMu.Lock()
	s.target = t
	s.targetMu.Unlock()
}

func (s *Server) getTarget() Target {
	s.targetMu.RLock()
	defer s.targetMu.RUnlock()
	return s.target
}

// Handler returns the console's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// ListenAndServe serves the console on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves the console on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("dashboard listening", logging.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close stops the broadcast loop and disconnects every client.
func (s *Server) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done

	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for c := range s.clients {
		c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
		delete(s.clients, c)
	}
	return nil
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// WriteEntry implements eventlog.Sink.
func (s *Server) WriteEntry(e eventlog.Entry) error {
	s.publish(Message{Type: TypeEntry, Time: e.Timestamp, SessionID: s.sessionID(), Entry: &e})
	return nil
}

// Transition implements monitor.Observer.
func (s *Server) Transition(t monitor.Transition) {
	s.publish(Message{
		Type:      TypeTransition,
		Time:      t.Time,
		SessionID: t.SessionID,
		State:     t.To.String(),
		Event:     string(t.Event),
		Condition: t.Condition,
		Details:   t.Details,
	})
}

// PermissionRequired implements monitor.Notifier.
func (s *Server) PermissionRequired(condition string) {
	s.publish(Message{
		Type:      TypePermissionRequired,
		Time:      time.Now().UTC(),
		SessionID: s.sessionID(),
		State:     monitor.StatePaused.String(),
		Condition: condition,
	})
}

func (s *Server) sessionID() string {
	if t := s.getTarget(); t != nil {
		return t.SessionID()
	}
	return ""
}

// publish queues a message without blocking the monitor. A full queue drops
// the message.
func (s *Server) publish(m Message) {
	select {
	case s.queue <- m:
	default:
		s.logger.Warn("dashboard queue full, dropping message", logging.String("type", m.Type))
	}
}

func (s *Server) broadcast() {
	defer close(s.done)
	for {
		select {
		case m := <-s.queue:
			s.broadcastMessage(m)
		case <-s.stop:
			return
		}
	}
}

func (s *Server) broadcastMessage(m Message) {
	s.clientsMu.RLock()
	if len(s.clients) == 0 {
		s.clientsMu.RUnlock()
		return
	}
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.RUnlock()

	data, err := json.Marshal(m)
	if err != nil {
		s.logger.Error("marshal dashboard message", logging.Err(err))
		return
	}

	var failed []*client
	for _, c := range clients {
		if err := c.write(websocket.TextMessage, data); err != nil {
			c.conn.Close()
			failed = append(failed, c)
		}
	}

	if len(failed) > 0 {
		s.clientsMu.Lock()
		for _, c := range failed {
			delete(s.clients, c)
		}
		s.clientsMu.Unlock()
	}
}

// status is the snapshot sent on connect and served at /api/status.
func (s *Server) status() Message {
	m := Message{Type: TypeHello, Time: time.Now().UTC()}
	if t := s.getTarget(); t != nil {
		m.SessionID = t.SessionID()
		m.State = t.State().String()
		m.Condition = t.Pending()
	}
	return m
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.status())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.Clients() >= maxClients {
		http.Error(w, "Maximum clients reached", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", logging.Err(err))
		return
	}
	c := &client{conn: conn}
	defer conn.Close()

	// Register and greet under the client's write lock so the greeting is
	// always the first frame.
	hello, _ := json.Marshal(s.status())
	c.mu.Lock()
	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = conn.WriteMessage(websocket.TextMessage, hello)
	c.mu.Unlock()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, c)
		s.clientsMu.Unlock()
	}()
	if err != nil {
		return
	}

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debug("websocket read error", logging.Err(err))
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(readTimeout))
			s.handleFrame(c, data)
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-readDone:
			return
		case <-s.stop:
			return
		}
	}
}

// handleFrame applies a decision frame and reports failures to the sender.
func (s *Server) handleFrame(c *client, data []byte) {
	var d Decision
	if err := json.Unmarshal(data, &d); err != nil || d.Type != TypeDecision {
		s.reply(c, "unsupported message")
		return
	}

	t := s.getTarget()
	if t == nil {
		s.reply(c, "no monitor attached")
		return
	}
	if err := t.GrantPermission(d.Granted); err != nil {
		s.reply(c, err.Error())
		return
	}
	s.logger.Info("operator decision received", logging.Bool("granted", d.Granted))
}

func (s *Server) reply(c *client, msg string) {
	data, _ := json.Marshal(Message{Type: TypeError, Time: time.Now().UTC(), Error: msg})
	c.write(websocket.TextMessage, data)
}

// sameHostOrigin accepts requests without an Origin header and browser
// requests from the host serving the console.
func sameHostOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}
