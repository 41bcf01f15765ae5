// Package server implements the tiledeck host: an HTTP server that upgrades
// authenticated websocket connections, keeps a registry of live client
// sessions, pushes layout/catalog/language snapshots and periodic telemetry,
// dispatches inbound action requests, and coordinates file pushes.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tiledeck/internal/protocol"
	"tiledeck/internal/transfer"
)

// WSConn is the subset of *websocket.Conn the server uses. Tests substitute
// channel-backed fakes.
type WSConn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// DeckSource supplies the current language, catalog and active layout for
// hello and broadcast snapshots.
type DeckSource interface {
	Snapshot() (lang string, catalog []protocol.CatalogEntry, layout protocol.Layout)
}

// Executor runs one catalog action. Ids are opaque to the server.
type Executor interface {
	Execute(actionID string) error
}

// Sampler produces one telemetry snapshot per metrics tick.
type Sampler interface {
	Sample() (protocol.Metrics, error)
}

// History receives bookkeeping events. All methods are best effort; the
// server logs failures and moves on. A nil History disables bookkeeping.
type History interface {
	SessionOpened(id, remote string, at time.Time) error
	SessionClosed(id string, at time.Time) error
	TransferRecorded(name, direction, outcome string, bytes int64, at time.Time) error
	UploadRecorded(name string, bytes int64, at time.Time) error
}

var ErrUnauthorized = errors.New("unauthorized")

// ErrNoClient is returned by file operations when the addressed session is
// gone or no session is connected.
var ErrNoClient = errors.New("no connected client")

type Server struct {
	token   string
	tickets *TicketManager
	deck    DeckSource
	exec    Executor
	sampler Sampler
	history History

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool

	outbox   *transfer.Outbox
	upgrader websocket.Upgrader
	logger   *log.Logger
}

type session struct {
	id      string
	conn    WSConn
	remote  string
	created time.Time
	writeMu sync.Mutex
}

func (s *session) send(msg *protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return s.write(data)
}

func (s *session) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// New builds a server around its collaborators. tickets may be nil to
// accept only the static token.
func New(token string, tickets *TicketManager, deck DeckSource, exec Executor, sampler Sampler) *Server {
	return &Server{
		token:    token,
		tickets:  tickets,
		deck:     deck,
		exec:     exec,
		sampler:  sampler,
		sessions: make(map[string]*session),
		outbox:   transfer.NewOutbox(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: log.New(io.Discard, "", 0),
	}
}

// SetLogger replaces the server logger. A nil logger discards output.
func (s *Server) SetLogger(logger *log.Logger) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s.logger = logger
	s.outbox.SetLogger(logger)
}

// SetHistory attaches a bookkeeping sink.
func (s *Server) SetHistory(h History) { s.history = h }

// Outbox exposes the push coordinator, mainly for tests.
func (s *Server) Outbox() *transfer.Outbox { return s.outbox }

// ServeWS authenticates and upgrades one client connection, then serves it
// until it closes. Failed auth is rejected before any session exists.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.ServeConn(conn, r.RemoteAddr)
}

func (s *Server) authorize(r *http.Request) error {
	q := r.URL.Query()
	if tok := q.Get("token"); tok != "" {
		if subtle.ConstantTimeCompare([]byte(tok), []byte(s.token)) == 1 {
			return nil
		}
		return ErrUnauthorized
	}
	if ticket := q.Get("ticket"); ticket != "" && s.tickets != nil {
		if err := s.tickets.Verify(ticket); err == nil {
			return nil
		}
	}
	return ErrUnauthorized
}

// ServeConn registers an authenticated connection and runs its receive loop.
// The hello snapshot is sent under the session write lock taken before the
// session becomes visible to broadcasts, so hello is always the first
// message a client receives.
func (s *Server) ServeConn(conn WSConn, remote string) {
	sess := &session{
		id:      uuid.NewString(),
		conn:    conn,
		remote:  remote,
		created: time.Now(),
	}

	sess.writeMu.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sess.writeMu.Unlock()
		_ = conn.Close()
		return
	}
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	hello := s.helloMessage()
	data, err := protocol.Encode(hello)
	if err == nil {
		err = conn.WriteMessage(websocket.TextMessage, data)
	}
	sess.writeMu.Unlock()

	s.recordSessionOpened(sess)
	s.logger.Printf("session %s connected from %s", sess.id, remote)

	defer func() {
		s.unregister(sess)
		_ = conn.Close()
		s.recordSessionClosed(sess)
		s.logger.Printf("session %s closed", sess.id)
	}()
	if err != nil {
		return
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		msg, ok := protocol.Decode(data)
		if !ok {
			continue
		}
		s.dispatch(sess, msg)
	}
}

// dispatch routes one inbound message. Unknown types are ignored; a failure
// in a handler never tears down the session.
func (s *Server) dispatch(sess *session, msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeAction:
		if msg.ActionID == "" || s.exec == nil {
			return
		}
		if err := s.exec.Execute(msg.ActionID); err != nil {
			s.logger.Printf("action %q: %v", msg.ActionID, err)
		}
	case protocol.TypePCFileAccept:
		s.outbox.Resolve(msg.ID, true)
	case protocol.TypePCFileReject:
		s.outbox.Resolve(msg.ID, false)
	default:
		// ignore
	}
}

func (s *Server) helloMessage() *protocol.Message {
	lang, catalog, layout := s.deck.Snapshot()
	host, _ := os.Hostname()
	return &protocol.Message{
		Type:    protocol.TypeHello,
		Lang:    lang,
		PCName:  host,
		Actions: catalog,
		Layout:  ptrLayout(layout.Normalize()),
	}
}

func ptrLayout(l protocol.Layout) *protocol.Layout { return &l }

func (s *Server) unregister(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.sessions[sess.id]; ok && cur == sess {
		delete(s.sessions, sess.id)
	}
}

func (s *Server) snapshot() []*session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// AnyConnected returns the id of some connected session, if one exists.
func (s *Server) AnyConnected() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.sessions {
		return id, true
	}
	return "", false
}

// SessionCount reports the number of live sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// BroadcastJSON sends one message to every connected session, best effort.
// A failure on one session is logged and never blocks delivery to others.
func (s *Server) BroadcastJSON(msg *protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		s.logger.Printf("broadcast encode: %v", err)
		return
	}
	for _, sess := range s.snapshot() {
		if err := sess.write(data); err != nil {
			s.logger.Printf("broadcast to %s: %v", sess.id, err)
		}
	}
}

// BroadcastLayout pushes the current active layout to all sessions. Called
// out of band whenever the deck config changes.
func (s *Server) BroadcastLayout() {
	_, _, layout := s.deck.Snapshot()
	s.BroadcastJSON(&protocol.Message{
		Type:   protocol.TypeLayout,
		Layout: ptrLayout(layout.Normalize()),
	})
}

// BroadcastLanguage pushes the current language to all sessions.
func (s *Server) BroadcastLanguage() {
	lang, _, _ := s.deck.Snapshot()
	s.BroadcastJSON(&protocol.Message{Type: protocol.TypeLang, Lang: lang})
}

// RunMetrics broadcasts one telemetry sample per second until ctx is
// cancelled. A sampling failure skips the tick; the loop never dies.
func (s *Server) RunMetrics(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if s.sampler == nil {
			continue
		}
		sample, err := s.sampler.Sample()
		if err != nil {
			s.logger.Printf("metrics sample: %v", err)
			continue
		}
		s.BroadcastJSON(&protocol.Message{Type: protocol.TypeMetrics, Metrics: sample})
	}
}

func (s *Server) sendFunc(sessionID string) (transfer.SendFunc, bool) {
	s.mu.Lock()
	sess := s.sessions[sessionID]
	s.mu.Unlock()
	if sess == nil {
		return nil, false
	}
	return sess.send, true
}

// OfferFile runs the handshake-gated push of path to one session.
func (s *Server) OfferFile(ctx context.Context, sessionID, path string) (transfer.Outcome, error) {
	send, ok := s.sendFunc(sessionID)
	if !ok {
		return transfer.Declined, ErrNoClient
	}
	outcome, err := s.outbox.Offer(ctx, send, path)
	s.recordTransfer(path, "offer", outcome, err)
	return outcome, err
}

// PushFile runs the ungated push of path to one session.
func (s *Server) PushFile(ctx context.Context, sessionID, path string) error {
	send, ok := s.sendFunc(sessionID)
	if !ok {
		return ErrNoClient
	}
	err := s.outbox.Push(ctx, send, path)
	outcome := transfer.Sent
	if err != nil {
		outcome = transfer.Declined
	}
	s.recordTransfer(path, "push", outcome, err)
	return err
}

// Shutdown closes every session. Each connection gets a close frame, then
// is force-closed; the whole sweep is bounded so a stuck channel can never
// hang process exit.
func (s *Server) Shutdown(timeout time.Duration) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		bye := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown")
		for _, sess := range s.snapshot() {
			sess.writeMu.Lock()
			_ = sess.conn.WriteMessage(websocket.CloseMessage, bye)
			sess.writeMu.Unlock()
			_ = sess.conn.Close()
		}
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		// Force-abort whatever is left.
		for _, sess := range s.snapshot() {
			_ = sess.conn.Close()
		}
	}
}
