package pairing

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingIsEmpty(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "pairing"))
	addr, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if addr != "" {
		t.Fatalf("missing file yielded %q", addr)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "pairing")
	s := NewStore(path)

	const addr = "ws://192.168.1.20:8765/ws?token=abc"
	if err := s.Save(addr); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != addr {
		t.Fatalf("loaded %q", got)
	}

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if fi.Mode().Perm() != 0o600 {
		t.Fatalf("pairing file mode %v, want 0600", fi.Mode().Perm())
	}
}

func TestClearRemovesAndIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairing")
	s := NewStore(path)
	if err := s.Save("ws://host/ws?token=t"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if addr, _ := s.Load(); addr != "" {
		t.Fatalf("cleared store still loads %q", addr)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("second clear: %v", err)
	}
}
