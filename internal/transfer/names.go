// Package transfer implements both directions of the chunked file-transfer
// protocol: the host-side Outbox that offers and streams files, and the
// receiver-side Inbox that reassembles them in strict sequence order.
package transfer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const fallbackName = "upload.bin"

var invalidNameChars = `\/:*?"<>|`

// SanitizeName strips path separators and traversal sequences from a
// filename and replaces characters that are invalid on common filesystems.
// An empty result falls back to "upload.bin".
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	for _, r := range name {
		if strings.ContainsRune(invalidNameChars, r) {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}
	name = strings.ReplaceAll(b.String(), "..", "_")
	if strings.TrimSpace(name) == "" {
		return fallbackName
	}
	return name
}

// UniquePath returns path if it is free, otherwise "name (1).ext",
// "name (2).ext" and so on. After 10000 collisions it gives up on pretty
// names and appends a random suffix.
func UniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(filepath.Base(path), ext)

	for i := 1; i < 10000; i++ {
		cand := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", base, i, ext))
		if _, err := os.Stat(cand); os.IsNotExist(err) {
			return cand
		}
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%s%s", base, uuid.NewString(), ext))
}
