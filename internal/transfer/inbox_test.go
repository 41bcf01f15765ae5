package transfer

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("read dir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestInboxReassemblesInOrder(t *testing.T) {
	dir := t.TempDir()
	in := NewInbox(dir)

	var gotPath string
	var gotBytes int64
	in.OnCompleted = func(id, path string, bytes int64) {
		gotPath = path
		gotBytes = bytes
	}

	if err := in.Start("t1", "notes.txt"); err != nil {
		t.Fatalf("start: %v", err)
	}
	in.Chunk("t1", 0, b64("hello "))
	in.Chunk("t1", 1, b64("world"))
	in.End("t1")

	if gotPath != filepath.Join(dir, "notes.txt") {
		t.Fatalf("completed path %q", gotPath)
	}
	if gotBytes != 11 {
		t.Fatalf("completed bytes %d", gotBytes)
	}
	data, err := os.ReadFile(gotPath)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("content %q", data)
	}
	for _, name := range listDir(t, dir) {
		if strings.HasSuffix(name, ".part") {
			t.Fatalf("partial file %s left behind", name)
		}
	}
}

func TestInboxOutOfOrderAborts(t *testing.T) {
	dir := t.TempDir()
	in := NewInbox(dir)

	var reason string
	in.OnAborted = func(id, r string) { reason = r }

	if err := in.Start("t1", "notes.txt"); err != nil {
		t.Fatalf("start: %v", err)
	}
	in.Chunk("t1", 0, b64("hello "))
	in.Chunk("t1", 2, b64("world"))

	if reason == "" {
		t.Fatal("gap did not abort the transfer")
	}
	if in.Active() != 0 {
		t.Fatalf("aborted transfer still active")
	}
	if names := listDir(t, dir); len(names) != 0 {
		t.Fatalf("partial output survived the abort: %v", names)
	}

	// Late frames for the dead id must be ignored.
	in.Chunk("t1", 3, b64("x"))
	in.End("t1")
	if names := listDir(t, dir); len(names) != 0 {
		t.Fatalf("late frames resurrected the transfer: %v", names)
	}
}

func TestInboxDuplicateStartDiscardsFirst(t *testing.T) {
	dir := t.TempDir()
	in := NewInbox(dir)

	if err := in.Start("t1", "a.txt"); err != nil {
		t.Fatalf("start: %v", err)
	}
	in.Chunk("t1", 0, b64("stale"))
	if err := in.Start("t1", "b.txt"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	in.Chunk("t1", 0, b64("fresh"))
	in.End("t1")

	data, err := os.ReadFile(filepath.Join(dir, "b.txt"))
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if string(data) != "fresh" {
		t.Fatalf("content %q", data)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.txt.part")); !os.IsNotExist(err) {
		t.Fatalf("stale partial still present")
	}
}

func TestInboxUnknownIDIsNoop(t *testing.T) {
	in := NewInbox(t.TempDir())
	in.Chunk("ghost", 0, b64("x"))
	in.End("ghost")
	in.Abort("ghost", "whatever")
}

func TestInboxCloseAllDropsPartials(t *testing.T) {
	dir := t.TempDir()
	in := NewInbox(dir)

	for _, id := range []string{"t1", "t2"} {
		if err := in.Start(id, id+".bin"); err != nil {
			t.Fatalf("start %s: %v", id, err)
		}
		in.Chunk(id, 0, b64("data"))
	}
	in.CloseAll()

	if in.Active() != 0 {
		t.Fatalf("%d transfers survived CloseAll", in.Active())
	}
	if names := listDir(t, dir); len(names) != 0 {
		t.Fatalf("partials survived CloseAll: %v", names)
	}
}

func TestInboxCollisionGetsSuffixedName(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "photo.jpg"), []byte("old"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	in := NewInbox(dir)

	var gotPath string
	in.OnCompleted = func(id, path string, bytes int64) { gotPath = path }

	if err := in.Start("t1", "photo.jpg"); err != nil {
		t.Fatalf("start: %v", err)
	}
	in.Chunk("t1", 0, b64("new"))
	in.End("t1")

	if filepath.Base(gotPath) != "photo (1).jpg" {
		t.Fatalf("collision produced %q", filepath.Base(gotPath))
	}
	old, _ := os.ReadFile(filepath.Join(dir, "photo.jpg"))
	if string(old) != "old" {
		t.Fatalf("existing file was overwritten")
	}
}
