package server

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"tiledeck/internal/transfer"
)

type uploadResponse struct {
	OK   bool   `json:"ok"`
	File string `json:"file"`
}

// UploadHandler accepts a raw byte stream via PUT plus an X-Filename header
// and writes it into dir, de-duplicating the name on collision. Uploads
// authenticate with the static token only; pairing tickets are scoped to
// the websocket handshake.
func (s *Server) UploadHandler(dir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		tok := r.URL.Query().Get("token")
		if subtle.ConstantTimeCompare([]byte(tok), []byte(s.token)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		name := transfer.SanitizeName(r.Header.Get("X-Filename"))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			http.Error(w, "error", http.StatusInternalServerError)
			return
		}
		dest := transfer.UniquePath(filepath.Join(dir, name))

		f, err := os.Create(dest)
		if err != nil {
			http.Error(w, "error", http.StatusInternalServerError)
			return
		}
		n, err := io.Copy(f, r.Body)
		cerr := f.Close()
		if err != nil || cerr != nil {
			_ = os.Remove(dest)
			http.Error(w, "error", http.StatusInternalServerError)
			s.logger.Printf("upload %s failed: copy=%v close=%v", name, err, cerr)
			return
		}

		final := filepath.Base(dest)
		s.recordUpload(final, n)
		s.logger.Printf("upload saved: %s (%d bytes)", final, n)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(uploadResponse{OK: true, File: final})
	}
}

// RootHandler answers a plain liveness line, handy for manual checks.
func RootHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "tiledeck host OK")
	}
}
