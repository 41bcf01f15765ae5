package action

import (
	"errors"
	"os"
	"reflect"
	"testing"
)

func TestParseTargetAndArgs(t *testing.T) {
	cases := []struct {
		in         string
		wantTarget string
		wantArgs   []string
	}{
		{"notepad", "notepad", nil},
		{"  notepad  ", "notepad", nil},
		{"app || --flag value", "app", []string{"--flag", "value"}},
		{`"C:\Program Files\app.exe" --min`, `C:\Program Files\app.exe`, []string{"--min"}},
		{`"quoted target"`, "quoted target", nil},
		{"app ||", "app", nil},
		{"", "", nil},
	}
	for _, c := range cases {
		target, args := ParseTargetAndArgs(c.in)
		if target != c.wantTarget || !reflect.DeepEqual(args, c.wantArgs) {
			t.Errorf("ParseTargetAndArgs(%q) = %q %v, want %q %v",
				c.in, target, args, c.wantTarget, c.wantArgs)
		}
	}
}

func TestParseTargetExpandsEnv(t *testing.T) {
	os.Setenv("TILEDECK_TEST_BIN", "/usr/bin/env")
	defer os.Unsetenv("TILEDECK_TEST_BIN")
	target, _ := ParseTargetAndArgs("$TILEDECK_TEST_BIN")
	if target != "/usr/bin/env" {
		t.Fatalf("env not expanded: %q", target)
	}
}

func TestExecuteRoutesMedia(t *testing.T) {
	var got []string
	e := NewExecutor()
	e.Media = func(cmd string) error {
		got = append(got, cmd)
		return nil
	}
	for _, id := range []string{"media:playpause", "MEDIA:Next", "media: mute "} {
		if err := e.Execute(id); err != nil {
			t.Fatalf("execute %q: %v", id, err)
		}
	}
	want := []string{"playpause", "next", "mute"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("media handler saw %v, want %v", got, want)
	}
}

func TestExecuteRoutesOBS(t *testing.T) {
	var got string
	e := NewExecutor()
	e.OBS = func(cmd string) error {
		got = cmd
		return nil
	}
	if err := e.Execute("obs:scene-2"); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got != "scene-2" {
		t.Fatalf("obs handler saw %q", got)
	}
}

func TestExecuteMissingHandlersAreSilent(t *testing.T) {
	e := NewExecutor()
	for _, id := range []string{"media:next", "obs:scene-1", "bogus:thing", "", "   "} {
		if err := e.Execute(id); err != nil {
			t.Fatalf("execute %q: %v", id, err)
		}
	}
}

func TestExecuteHandlerErrorPropagates(t *testing.T) {
	boom := errors.New("no media bus")
	e := NewExecutor()
	e.Media = func(cmd string) error { return boom }
	if err := e.Execute("media:next"); !errors.Is(err, boom) {
		t.Fatalf("got %v, want handler error", err)
	}
}

func TestExecuteLaunchStartsProcess(t *testing.T) {
	if _, err := os.Stat("/usr/bin/true"); err != nil {
		t.Skip("/usr/bin/true not available")
	}
	e := NewExecutor()
	if err := e.Execute("launch:/usr/bin/true"); err != nil {
		t.Fatalf("launch: %v", err)
	}
	if err := e.Execute("run:/usr/bin/true || --ignored"); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestExecuteLaunchMissingBinary(t *testing.T) {
	e := NewExecutor()
	if err := e.Execute("launch:/definitely/not/here"); err == nil {
		t.Fatal("missing binary started without error")
	}
}
