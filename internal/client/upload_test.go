package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDeriveUploadURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"ws://192.168.1.20:8765/ws?token=abc", "http://192.168.1.20:8765/upload?token=abc"},
		{"wss://deck.example.com/ws?token=abc", "https://deck.example.com/upload?token=abc"},
		{"ws://192.168.1.20:8765/ws", "http://192.168.1.20:8765/upload"},
	}
	for _, c := range cases {
		got, err := DeriveUploadURL(c.in)
		if err != nil {
			t.Errorf("DeriveUploadURL(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("DeriveUploadURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}

	if _, err := DeriveUploadURL("http://example.com"); err == nil {
		t.Error("non-websocket scheme accepted")
	}
	if _, err := DeriveUploadURL("://bad"); err == nil {
		t.Error("unparsable address accepted")
	}
}

func TestUploadSendsFileAndReturnsFinalName(t *testing.T) {
	var gotName, gotToken, gotBody string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/upload" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		gotName = r.Header.Get("X-Filename")
		gotToken = r.URL.Query().Get("token")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		fmt.Fprintln(w, `{"ok":true,"file":"notes (1).txt"}`)
	}))
	defer ts.Close()

	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("body"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	script := &dialScript{errs: []error{errors.New("upload test does not dial")}}
	c := New(t.TempDir())
	c.SetDialer(script.dial)
	addr := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=sekrit"
	c.Connect(addr)
	defer c.Disconnect(true)

	final, err := c.Upload(context.Background(), path)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if final != "notes (1).txt" {
		t.Fatalf("final name %q", final)
	}
	if gotName != "notes.txt" || gotToken != "sekrit" || gotBody != "body" {
		t.Fatalf("server saw name=%q token=%q body=%q", gotName, gotToken, gotBody)
	}
}

func TestUploadWithoutPairing(t *testing.T) {
	c := New(t.TempDir())
	if _, err := c.Upload(context.Background(), "whatever"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}
