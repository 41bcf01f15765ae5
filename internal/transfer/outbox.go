package transfer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tiledeck/internal/protocol"
)

// ChunkSize is the raw chunk size streamed per frame. 12 KiB of binary
// becomes 16 KiB of base64, keeping the encoded frame well under typical
// websocket frame limits.
const ChunkSize = 12 * 1024

// DecisionTimeout bounds how long an offer waits for the client's
// accept/reject reply.
const DecisionTimeout = 30 * time.Second

// SendFunc delivers one message to a single client. Sends for one transfer
// are issued strictly sequentially; the func may be called from the
// offering goroutine only.
type SendFunc func(*protocol.Message) error

// Outcome is the terminal result of an Offer.
type Outcome int

const (
	// Declined means the client rejected the offer or the decision timed out.
	Declined Outcome = iota
	// Sent means the client accepted and every chunk plus the end marker
	// was delivered.
	Sent
)

var (
	// ErrNotFound is returned when the offered path does not exist or is
	// not a regular file.
	ErrNotFound = errors.New("transfer: file not found")
)

// Outbox coordinates host-initiated pushes. Accept/reject replies arrive on
// the session's inbound loop and are correlated back to the waiting Offer
// through a pending-decision table keyed by transfer id.
type Outbox struct {
	mu      sync.Mutex
	pending map[string]chan bool

	// Timeout overrides DecisionTimeout when positive. Tests shrink it.
	Timeout time.Duration

	logger *log.Logger
}

// NewOutbox returns an Outbox with no pending decisions.
func NewOutbox() *Outbox {
	return &Outbox{
		pending: make(map[string]chan bool),
		logger:  log.New(io.Discard, "", 0),
	}
}

// SetLogger replaces the outbox logger. A nil logger discards output.
func (o *Outbox) SetLogger(logger *log.Logger) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	o.logger = logger
}

// Resolve completes the pending decision for a transfer id. Unknown ids are
// ignored: the offer may have timed out and removed itself already.
func (o *Outbox) Resolve(id string, accepted bool) {
	o.mu.Lock()
	ch := o.pending[id]
	delete(o.pending, id)
	o.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- accepted:
	default:
	}
}

func (o *Outbox) register(id string) chan bool {
	ch := make(chan bool, 1)
	o.mu.Lock()
	o.pending[id] = ch
	o.mu.Unlock()
	return ch
}

func (o *Outbox) unregister(id string) {
	o.mu.Lock()
	delete(o.pending, id)
	o.mu.Unlock()
}

// NewTransferID returns a fresh random 128-bit identifier in compact hex
// form, matching the ids the original host emits.
func NewTransferID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Offer runs the handshake-gated push: pc_file_offer, wait for the
// decision, then pc_file_begin + sequenced pc_file_chunk frames +
// pc_file_end. A reject or timeout returns Declined with nothing streamed.
// A send failure mid-stream aborts the transfer; there is no retry or
// resume.
func (o *Outbox) Offer(ctx context.Context, send SendFunc, path string) (Outcome, error) {
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return Declined, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	id := NewTransferID()
	decision := o.register(id)
	defer o.unregister(id)

	offer := &protocol.Message{
		Type: protocol.TypePCFileOffer,
		ID:   id,
		Name: SanitizeName(filepath.Base(path)),
		Size: fi.Size(),
	}
	if err := send(offer); err != nil {
		return Declined, fmt.Errorf("send offer: %w", err)
	}

	timeout := o.Timeout
	if timeout <= 0 {
		timeout = DecisionTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var accepted bool
	select {
	case accepted = <-decision:
	case <-timer.C:
		o.logger.Printf("offer %s: no decision within %s", id, timeout)
	case <-ctx.Done():
		return Declined, ctx.Err()
	}
	if !accepted {
		return Declined, nil
	}

	if err := send(&protocol.Message{Type: protocol.TypePCFileBegin, ID: id}); err != nil {
		return Declined, fmt.Errorf("send begin: %w", err)
	}
	if err := streamChunks(ctx, send, protocol.TypePCFileChunk, id, path); err != nil {
		return Declined, err
	}
	if err := send(&protocol.Message{Type: protocol.TypePCFileEnd, ID: id}); err != nil {
		return Declined, fmt.Errorf("send end: %w", err)
	}
	return Sent, nil
}

// Push runs the ungated sub-protocol: file_start, sequenced file_chunk
// frames, file_end. The receiver persists without being asked.
func (o *Outbox) Push(ctx context.Context, send SendFunc, path string) error {
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	id := NewTransferID()
	start := &protocol.Message{
		Type: protocol.TypeFileStart,
		ID:   id,
		Name: SanitizeName(filepath.Base(path)),
	}
	if err := send(start); err != nil {
		return fmt.Errorf("send start: %w", err)
	}
	if err := streamChunks(ctx, send, protocol.TypeFileChunk, id, path); err != nil {
		return err
	}
	if err := send(&protocol.Message{Type: protocol.TypeFileEnd, ID: id}); err != nil {
		return fmt.Errorf("send end: %w", err)
	}
	return nil
}

// streamChunks reads path sequentially and emits one chunk frame per
// ChunkSize bytes, seq starting at 0 and incrementing by exactly one.
func streamChunks(ctx context.Context, send SendFunc, msgType, id, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer f.Close()

	buf := make([]byte, ChunkSize)
	seq := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := f.Read(buf)
		if n > 0 {
			s := seq
			msg := &protocol.Message{
				Type: msgType,
				ID:   id,
				Seq:  &s,
				Data: base64.StdEncoding.EncodeToString(buf[:n]),
			}
			if err := send(msg); err != nil {
				return fmt.Errorf("send chunk %d: %w", seq, err)
			}
			seq++
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read source: %w", err)
		}
	}
}
