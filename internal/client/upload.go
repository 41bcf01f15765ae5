package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// DeriveUploadURL turns a pinned websocket address into the HTTP upload
// endpoint, carrying the token query through. ws becomes http and wss
// becomes https.
func DeriveUploadURL(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("parse address: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	q := url.Values{}
	if tok := u.Query().Get("token"); tok != "" {
		q.Set("token", tok)
	}
	u.Path = "/upload"
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Upload streams path to the host's upload endpoint and returns the final
// server-side filename after de-duplication.
func (c *Client) Upload(ctx context.Context, path string) (string, error) {
	c.mu.Lock()
	addr := c.addr
	c.mu.Unlock()
	if addr == "" {
		return "", ErrNotConnected
	}
	target, err := DeriveUploadURL(addr)
	if err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, f)
	if err != nil {
		return "", err
	}
	req.ContentLength = fi.Size()
	req.Header.Set("X-Filename", filepath.Base(path))
	req.Header.Set("Content-Type", "application/octet-stream")

	httpClient := &http.Client{Timeout: 5 * time.Minute}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload: HTTP %d", resp.StatusCode)
	}

	var ack struct {
		OK   bool   `json:"ok"`
		File string `json:"file"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return "", fmt.Errorf("decode ack: %w", err)
	}
	if !ack.OK {
		return "", fmt.Errorf("upload rejected")
	}
	return ack.File, nil
}
