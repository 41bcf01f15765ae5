// Package action executes catalog actions. Ids are opaque strings with a
// routing prefix: "launch:" and "run:" start programs, "media:" injects
// media keys, "obs:" drives OBS Studio. The last two are platform hooks;
// hosts without an implementation log and drop them.
package action

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
)

// MediaFunc injects one media key command ("playpause", "next", "prev",
// "stop", "mute", "volup", "voldown").
type MediaFunc func(cmd string) error

// OBSFunc forwards one OBS control id (everything after "obs:").
type OBSFunc func(cmd string) error

// Executor routes action ids to their handlers.
type Executor struct {
	// Media and OBS are optional platform hooks.
	Media MediaFunc
	OBS   OBSFunc

	logger *log.Logger
}

// NewExecutor returns an executor with no platform hooks installed.
func NewExecutor() *Executor {
	return &Executor{logger: log.New(io.Discard, "", 0)}
}

// SetLogger replaces the executor logger. A nil logger discards output.
func (e *Executor) SetLogger(logger *log.Logger) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	e.logger = logger
}

// Execute runs one action id. Unknown prefixes are logged and ignored; a
// remote client must not learn the host's action vocabulary by error
// probing.
func (e *Executor) Execute(actionID string) error {
	id := strings.TrimSpace(actionID)
	if id == "" {
		return nil
	}
	lower := strings.ToLower(id)

	switch {
	case strings.HasPrefix(lower, "obs:"):
		if e.OBS == nil {
			e.logger.Printf("obs action ignored (no handler): %s", id)
			return nil
		}
		return e.OBS(id[len("obs:"):])

	case strings.HasPrefix(lower, "media:"):
		cmd := strings.TrimSpace(id[len("media:"):])
		if e.Media == nil {
			e.logger.Printf("media action ignored (no handler): %s", cmd)
			return nil
		}
		return e.Media(strings.ToLower(cmd))

	case strings.HasPrefix(lower, "run:"), strings.HasPrefix(lower, "runorfocus:"):
		raw := id[strings.Index(id, ":")+1:]
		return e.run(raw)

	case strings.HasPrefix(lower, "launch:"), strings.HasPrefix(lower, "launchorfocus:"):
		app := strings.TrimSpace(id[strings.Index(id, ":")+1:])
		if app == "" {
			return nil
		}
		return e.run(app)

	default:
		e.logger.Printf("unknown action prefix: %s", id)
		return nil
	}
}

// run starts a detached process. The raw spec is "target" or
// "target || args", with environment variables expanded and optional
// quoting around the target.
func (e *Executor) run(raw string) error {
	target, args := ParseTargetAndArgs(raw)
	if target == "" {
		return nil
	}
	cmd := exec.Command(target, args...)
	if fi, err := os.Stat(target); err == nil && !fi.IsDir() {
		cmd.Dir = dirOf(target)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %q: %w", target, err)
	}
	// Detach: reap in the background so the child never zombies.
	go func() { _ = cmd.Wait() }()
	e.logger.Printf("started %s (pid %d)", target, cmd.Process.Pid)
	return nil
}

// ParseTargetAndArgs splits an action target spec. "a || b c" separates
// target from arguments explicitly; otherwise a leading quoted segment is
// the target and the rest its arguments.
func ParseTargetAndArgs(raw string) (string, []string) {
	raw = os.ExpandEnv(strings.TrimSpace(raw))
	if raw == "" {
		return "", nil
	}
	if target, rest, ok := strings.Cut(raw, "||"); ok {
		return unquote(target), splitArgs(rest)
	}
	if raw[0] == '"' {
		if end := strings.IndexByte(raw[1:], '"'); end >= 0 {
			target := strings.TrimSpace(raw[1 : end+1])
			return target, splitArgs(raw[end+2:])
		}
	}
	return unquote(raw), nil
}

func splitArgs(s string) []string {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

func dirOf(path string) string {
	if i := strings.LastIndexByte(path, os.PathSeparator); i > 0 {
		return path[:i]
	}
	return ""
}
