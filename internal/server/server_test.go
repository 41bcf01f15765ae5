package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tiledeck/internal/protocol"
)

type frame struct {
	msgType int
	data    []byte
}

type fakeConn struct {
	in     chan frame
	out    chan frame
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan frame, 64),
		out:    make(chan frame, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadJSON(v any) error {
	mt, data, err := c.ReadMessage()
	if err != nil {
		return err
	}
	if mt != websocket.TextMessage {
		return errors.New("expected text message")
	}
	return json.Unmarshal(data, v)
}

func (c *fakeConn) WriteJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.TextMessage, b)
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.in:
		return f.msgType, f.data, nil
	case <-c.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	select {
	case c.out <- frame{messageType, cp}:
		return nil
	case <-c.closed:
		return errors.New("connection closed")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) inject(t *testing.T, msg *protocol.Message) {
	t.Helper()
	data, err := protocol.Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	c.in <- frame{websocket.TextMessage, data}
}

func (c *fakeConn) next(t *testing.T) *protocol.Message {
	t.Helper()
	select {
	case f := <-c.out:
		msg, ok := protocol.Decode(f.data)
		if !ok {
			t.Fatalf("server sent undecodable frame: %s", f.data)
		}
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a server frame")
		return nil
	}
}

// brokenConn accepts the hello write, then fails every write after it.
type brokenConn struct {
	writes int32
	closed chan struct{}
	once   sync.Once
}

func newBrokenConn() *brokenConn {
	return &brokenConn{closed: make(chan struct{})}
}

func (c *brokenConn) ReadJSON(v any) error  { return errors.New("not implemented") }
func (c *brokenConn) WriteJSON(v any) error { return errors.New("broken pipe") }

func (c *brokenConn) ReadMessage() (int, []byte, error) {
	<-c.closed
	return 0, nil, errors.New("connection closed")
}

func (c *brokenConn) WriteMessage(messageType int, data []byte) error {
	if atomic.AddInt32(&c.writes, 1) > 1 {
		return errors.New("broken pipe")
	}
	return nil
}

func (c *brokenConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type fakeDeck struct {
	lang    string
	catalog []protocol.CatalogEntry
	layout  protocol.Layout
}

func (d *fakeDeck) Snapshot() (string, []protocol.CatalogEntry, protocol.Layout) {
	return d.lang, d.catalog, d.layout
}

type fakeExec struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (e *fakeExec) Execute(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ids = append(e.ids, id)
	return e.err
}

func (e *fakeExec) executed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.ids...)
}

func testDeck() *fakeDeck {
	return &fakeDeck{
		lang: "en",
		catalog: []protocol.CatalogEntry{
			{ID: "launch:calc", Label: "Calculator"},
			{ID: "media:playpause", Label: "Play"},
		},
		layout: protocol.Layout{Rows: 2, Cols: 3},
	}
}

func newTestServer(deck DeckSource, exec Executor) *Server {
	return New("secret", NewTicketManager("secret"), deck, exec, nil)
}

func serveAsync(s *Server, conn WSConn) chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.ServeConn(conn, "test")
	}()
	return done
}

func waitSessions(t *testing.T, s *Server, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for s.SessionCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("session count stuck at %d, want %d", s.SessionCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServeWSRejectsBadToken(t *testing.T) {
	s := newTestServer(testDeck(), nil)
	ts := httptest.NewServer(http.HandlerFunc(s.ServeWS))
	defer ts.Close()

	for _, q := range []string{"", "?token=wrong", "?ticket=garbage"} {
		resp, err := http.Get(ts.URL + q)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("query %q: status %d, want 401", q, resp.StatusCode)
		}
	}
	if s.SessionCount() != 0 {
		t.Fatalf("rejected dials left %d sessions", s.SessionCount())
	}
}

func TestServeWSAcceptsTokenAndTicket(t *testing.T) {
	s := newTestServer(testDeck(), nil)
	ts := httptest.NewServer(http.HandlerFunc(s.ServeWS))
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	ticket, err := s.tickets.Issue(time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	for _, q := range []string{"?token=secret", "?ticket=" + ticket} {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL+q, nil)
		if err != nil {
			t.Fatalf("dial %q: %v", q, err)
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read hello: %v", err)
		}
		msg, ok := protocol.Decode(data)
		if !ok || msg.Type != protocol.TypeHello {
			t.Fatalf("first frame %s, want hello", data)
		}
		conn.Close()
	}
}

func TestHelloIsFirstFrameWithNormalizedLayout(t *testing.T) {
	s := newTestServer(testDeck(), nil)
	conn := newFakeConn()
	done := serveAsync(s, conn)

	hello := conn.next(t)
	if hello.Type != protocol.TypeHello {
		t.Fatalf("first frame is %s, want hello", hello.Type)
	}
	if hello.Lang != "en" || len(hello.Actions) != 2 {
		t.Fatalf("hello snapshot wrong: lang=%q actions=%d", hello.Lang, len(hello.Actions))
	}
	if hello.Layout == nil || len(hello.Layout.Cells) != 6 {
		t.Fatalf("hello layout not normalized: %+v", hello.Layout)
	}
	if hello.PCName == "" {
		hn, _ := os.Hostname()
		if hn != "" {
			t.Fatal("hello missing pc name")
		}
	}

	conn.Close()
	<-done
}

func TestDispatchActionRunsExecutor(t *testing.T) {
	exec := &fakeExec{}
	s := newTestServer(testDeck(), exec)
	conn := newFakeConn()
	done := serveAsync(s, conn)
	conn.next(t) // hello

	conn.inject(t, &protocol.Message{Type: protocol.TypeAction, ActionID: "launch:calc"})
	conn.inject(t, &protocol.Message{Type: protocol.TypeAction}) // no id, dropped
	conn.in <- frame{websocket.TextMessage, []byte("not json")}  // dropped
	conn.inject(t, &protocol.Message{Type: protocol.TypeAction, ActionID: "media:playpause"})

	deadline := time.Now().Add(3 * time.Second)
	for len(exec.executed()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("executor saw %v", exec.executed())
		}
		time.Sleep(5 * time.Millisecond)
	}
	got := exec.executed()
	if got[0] != "launch:calc" || got[1] != "media:playpause" {
		t.Fatalf("executor saw %v", got)
	}

	conn.Close()
	<-done
}

func TestExecutorFailureKeepsSession(t *testing.T) {
	exec := &fakeExec{err: errors.New("spawn failed")}
	s := newTestServer(testDeck(), exec)
	conn := newFakeConn()
	done := serveAsync(s, conn)
	conn.next(t) // hello

	conn.inject(t, &protocol.Message{Type: protocol.TypeAction, ActionID: "launch:broken"})
	deadline := time.Now().Add(3 * time.Second)
	for len(exec.executed()) < 1 {
		if time.Now().After(deadline) {
			t.Fatal("action never dispatched")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if s.SessionCount() != 1 {
		t.Fatal("failed action tore down the session")
	}

	conn.Close()
	<-done
}

func TestBroadcastSurvivesBrokenSession(t *testing.T) {
	s := newTestServer(testDeck(), nil)

	good := newFakeConn()
	doneGood := serveAsync(s, good)
	good.next(t) // hello

	bad := newBrokenConn()
	doneBad := serveAsync(s, bad)
	waitSessions(t, s, 2)

	s.BroadcastLayout()
	msg := good.next(t)
	if msg.Type != protocol.TypeLayout {
		t.Fatalf("got %s, want layout", msg.Type)
	}
	if msg.Layout == nil || len(msg.Layout.Cells) != 6 {
		t.Fatalf("broadcast layout not normalized: %+v", msg.Layout)
	}

	s.BroadcastLanguage()
	if msg := good.next(t); msg.Type != protocol.TypeLang || msg.Lang != "en" {
		t.Fatalf("got %+v, want lang en", msg)
	}

	good.Close()
	bad.Close()
	<-doneGood
	<-doneBad
}

func TestRunMetricsBroadcastsEverySecond(t *testing.T) {
	cpu := 12.5
	sampler := samplerFunc(func() (protocol.Metrics, error) {
		return protocol.Metrics{CPUPct: &cpu}, nil
	})
	s := New("secret", nil, testDeck(), nil, sampler)

	conn := newFakeConn()
	done := serveAsync(s, conn)
	conn.next(t) // hello

	ctx, cancel := context.WithCancel(context.Background())
	go s.RunMetrics(ctx)

	msg := conn.next(t)
	if msg.Type != protocol.TypeMetrics {
		t.Fatalf("got %s, want metrics", msg.Type)
	}
	if msg.CPUPct == nil || *msg.CPUPct != 12.5 {
		t.Fatalf("metrics payload wrong: %+v", msg.Metrics)
	}

	cancel()
	conn.Close()
	<-done
}

type samplerFunc func() (protocol.Metrics, error)

func (f samplerFunc) Sample() (protocol.Metrics, error) { return f() }

func TestRunMetricsSkipsFailedSamples(t *testing.T) {
	var calls int
	var mu sync.Mutex
	sampler := samplerFunc(func() (protocol.Metrics, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return protocol.Metrics{}, errors.New("sensor offline")
		}
		return protocol.Metrics{}, nil
	})
	s := New("secret", nil, testDeck(), nil, sampler)

	conn := newFakeConn()
	done := serveAsync(s, conn)
	conn.next(t) // hello

	ctx, cancel := context.WithCancel(context.Background())
	go s.RunMetrics(ctx)

	// The first tick errors and sends nothing; the second delivers.
	msg := conn.next(t)
	if msg.Type != protocol.TypeMetrics {
		t.Fatalf("got %s, want metrics", msg.Type)
	}

	cancel()
	conn.Close()
	<-done
}

func TestOfferFileHandshakeRoundTrip(t *testing.T) {
	s := newTestServer(testDeck(), nil)
	s.Outbox().Timeout = 5 * time.Second

	conn := newFakeConn()
	done := serveAsync(s, conn)
	conn.next(t) // hello
	id, ok := s.AnyConnected()
	if !ok {
		t.Fatal("no session registered")
	}

	path := filepath.Join(t.TempDir(), "share.txt")
	if err := os.WriteFile(path, []byte("payload"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	type result struct {
		outcome int
		err     error
	}
	results := make(chan result, 1)
	go func() {
		outcome, err := s.OfferFile(context.Background(), id, path)
		results <- result{int(outcome), err}
	}()

	offer := conn.next(t)
	if offer.Type != protocol.TypePCFileOffer || offer.Name != "share.txt" || offer.Size != 7 {
		t.Fatalf("bad offer: %+v", offer)
	}
	conn.inject(t, &protocol.Message{Type: protocol.TypePCFileAccept, ID: offer.ID})

	if msg := conn.next(t); msg.Type != protocol.TypePCFileBegin {
		t.Fatalf("got %s, want begin", msg.Type)
	}
	if msg := conn.next(t); msg.Type != protocol.TypePCFileChunk || msg.SeqValue() != 0 {
		t.Fatalf("got %+v, want chunk 0", msg)
	}
	if msg := conn.next(t); msg.Type != protocol.TypePCFileEnd {
		t.Fatalf("got %s, want end", msg.Type)
	}

	r := <-results
	if r.err != nil || r.outcome != 1 {
		t.Fatalf("offer finished outcome=%d err=%v", r.outcome, r.err)
	}

	conn.Close()
	<-done
}

func TestOfferFileRejectStopsStream(t *testing.T) {
	s := newTestServer(testDeck(), nil)
	s.Outbox().Timeout = 5 * time.Second

	conn := newFakeConn()
	done := serveAsync(s, conn)
	conn.next(t) // hello
	id, _ := s.AnyConnected()

	path := filepath.Join(t.TempDir(), "share.txt")
	if err := os.WriteFile(path, []byte("payload"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	errs := make(chan error, 1)
	go func() {
		outcome, err := s.OfferFile(context.Background(), id, path)
		if outcome != 0 {
			err = errors.New("expected Declined")
		}
		errs <- err
	}()

	offer := conn.next(t)
	conn.inject(t, &protocol.Message{Type: protocol.TypePCFileReject, ID: offer.ID})
	if err := <-errs; err != nil {
		t.Fatalf("offer: %v", err)
	}
	select {
	case f := <-conn.out:
		t.Fatalf("rejected offer still streamed: %s", f.data)
	case <-time.After(100 * time.Millisecond):
	}

	conn.Close()
	<-done
}

func TestFileOperationsWithoutClient(t *testing.T) {
	s := newTestServer(testDeck(), nil)
	if _, err := s.OfferFile(context.Background(), "ghost", "x"); !errors.Is(err, ErrNoClient) {
		t.Fatalf("offer: %v", err)
	}
	if err := s.PushFile(context.Background(), "ghost", "x"); !errors.Is(err, ErrNoClient) {
		t.Fatalf("push: %v", err)
	}
}

func TestShutdownClosesSessionsAndRejectsNew(t *testing.T) {
	s := newTestServer(testDeck(), nil)

	conn := newFakeConn()
	done := serveAsync(s, conn)
	conn.next(t) // hello

	s.Shutdown(time.Second)
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("session loop did not exit on shutdown")
	}
	if s.SessionCount() != 0 {
		t.Fatalf("%d sessions survived shutdown", s.SessionCount())
	}

	late := newFakeConn()
	s.ServeConn(late, "late")
	select {
	case <-late.closed:
	default:
		t.Fatal("connection accepted after shutdown")
	}
}
