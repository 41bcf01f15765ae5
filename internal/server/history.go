package server

import (
	"os"
	"path/filepath"
	"time"

	"tiledeck/internal/transfer"
)

// Bookkeeping hooks. Failures are logged, never propagated: history is an
// audit trail, not part of the message path.

func (s *Server) recordSessionOpened(sess *session) {
	if s.history == nil {
		return
	}
	if err := s.history.SessionOpened(sess.id, sess.remote, sess.created); err != nil {
		s.logger.Printf("history: session opened: %v", err)
	}
}

func (s *Server) recordSessionClosed(sess *session) {
	if s.history == nil {
		return
	}
	if err := s.history.SessionClosed(sess.id, time.Now()); err != nil {
		s.logger.Printf("history: session closed: %v", err)
	}
}

func (s *Server) recordTransfer(path, direction string, outcome transfer.Outcome, sendErr error) {
	if s.history == nil {
		return
	}
	label := "declined"
	switch {
	case sendErr != nil:
		label = "failed"
	case outcome == transfer.Sent:
		label = "sent"
	}
	var size int64
	if fi, err := os.Stat(path); err == nil {
		size = fi.Size()
	}
	name := transfer.SanitizeName(filepath.Base(path))
	if err := s.history.TransferRecorded(name, direction, label, size, time.Now()); err != nil {
		s.logger.Printf("history: transfer: %v", err)
	}
}

func (s *Server) recordUpload(name string, bytes int64) {
	if s.history == nil {
		return
	}
	if err := s.history.UploadRecorded(name, bytes, time.Now()); err != nil {
		s.logger.Printf("history: upload: %v", err)
	}
}
