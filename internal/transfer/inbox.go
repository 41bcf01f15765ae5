package transfer

import (
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Inbox reassembles chunked transfers into files under Dir. Chunks must
// arrive exactly in sequence; any gap aborts that transfer and deletes the
// partial output. Both the gated pc_file_* stream and the ungated file_*
// stream feed the same Inbox, keyed by transfer id.
type Inbox struct {
	// Dir is the destination directory. Created on first use.
	Dir string

	// OnStarted, OnCompleted and OnAborted observe transfer lifecycle.
	// Nil callbacks are skipped. Called with the inbox lock held, so they
	// must not call back into the Inbox.
	OnStarted   func(id, name string)
	OnCompleted func(id, path string, bytes int64)
	OnAborted   func(id, reason string)

	mu       sync.Mutex
	sessions map[string]*inboundSession
	logger   *log.Logger
}

type inboundSession struct {
	id        string
	name      string
	partPath  string
	finalPath string
	sink      *os.File
	nextSeq   int
	received  int64
}

// NewInbox returns an Inbox writing into dir.
func NewInbox(dir string) *Inbox {
	return &Inbox{
		Dir:      dir,
		sessions: make(map[string]*inboundSession),
		logger:   log.New(io.Discard, "", 0),
	}
}

// SetLogger replaces the inbox logger. A nil logger discards output.
func (in *Inbox) SetLogger(logger *log.Logger) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	in.logger = logger
}

// Start opens a fresh sink for a transfer. A second start for an id already
// receiving discards the first partial sink first; the old transfer is
// treated as stale, never resumed.
func (in *Inbox) Start(id, name string) error {
	if id == "" {
		return nil
	}
	in.mu.Lock()
	defer in.mu.Unlock()

	if old := in.sessions[id]; old != nil {
		in.discardLocked(old)
		delete(in.sessions, id)
	}

	if err := os.MkdirAll(in.Dir, 0o755); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}
	clean := SanitizeName(name)
	finalPath := UniquePath(filepath.Join(in.Dir, clean))
	partPath := finalPath + ".part"

	sink, err := os.Create(partPath)
	if err != nil {
		return fmt.Errorf("open sink: %w", err)
	}
	in.sessions[id] = &inboundSession{
		id:        id,
		name:      clean,
		partPath:  partPath,
		finalPath: finalPath,
		sink:      sink,
	}
	if in.OnStarted != nil {
		in.OnStarted(id, clean)
	}
	return nil
}

// Chunk appends one sequenced chunk. No session for the id is a no-op, not
// an error. A sequence mismatch or a decode/write failure aborts the
// transfer and deletes the partial file.
func (in *Inbox) Chunk(id string, seq int, data string) {
	in.mu.Lock()
	defer in.mu.Unlock()

	s := in.sessions[id]
	if s == nil {
		return
	}
	if seq != s.nextSeq {
		in.abortLocked(s, "out-of-order sequence")
		return
	}
	if data == "" {
		return
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		in.abortLocked(s, "bad chunk encoding")
		return
	}
	if _, err := s.sink.Write(raw); err != nil {
		in.abortLocked(s, fmt.Sprintf("write failed: %v", err))
		return
	}
	s.nextSeq++
	s.received += int64(len(raw))
}

// End closes and commits a transfer. No session for the id is a no-op. The
// sink is written as "<name>.part" and renamed into place here, so a file
// under Dir is only ever visible complete.
func (in *Inbox) End(id string) {
	in.mu.Lock()
	defer in.mu.Unlock()

	s := in.sessions[id]
	if s == nil {
		return
	}
	delete(in.sessions, id)

	if err := s.sink.Sync(); err != nil {
		in.logger.Printf("transfer %s: sync: %v", id, err)
	}
	if err := s.sink.Close(); err != nil {
		in.logger.Printf("transfer %s: close: %v", id, err)
	}
	if err := os.Rename(s.partPath, s.finalPath); err != nil {
		in.removeQuiet(s.partPath)
		if in.OnAborted != nil {
			in.OnAborted(id, fmt.Sprintf("commit failed: %v", err))
		}
		return
	}
	if in.OnCompleted != nil {
		in.OnCompleted(id, s.finalPath, s.received)
	}
}

// Abort force-discards a transfer, if one is live for the id.
func (in *Inbox) Abort(id, reason string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if s := in.sessions[id]; s != nil {
		in.abortLocked(s, reason)
	}
}

// CloseAll discards every live transfer. Called on disconnect: a transfer
// cannot resume across connections, so partial data is useless.
func (in *Inbox) CloseAll() {
	in.mu.Lock()
	defer in.mu.Unlock()
	for id, s := range in.sessions {
		in.discardLocked(s)
		delete(in.sessions, id)
	}
}

// Active reports how many transfers are currently receiving.
func (in *Inbox) Active() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.sessions)
}

func (in *Inbox) abortLocked(s *inboundSession, reason string) {
	delete(in.sessions, s.id)
	in.discardLocked(s)
	in.logger.Printf("transfer %s (%s) aborted: %s", s.id, s.name, reason)
	if in.OnAborted != nil {
		in.OnAborted(s.id, reason)
	}
}

// discardLocked closes the sink and deletes the partial file, swallowing
// secondary errors. Cleanup is best effort.
func (in *Inbox) discardLocked(s *inboundSession) {
	_ = s.sink.Close()
	in.removeQuiet(s.partPath)
}

func (in *Inbox) removeQuiet(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		in.logger.Printf("cleanup %s: %v", path, err)
	}
}
