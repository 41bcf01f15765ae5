package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tiledeck/internal/client"
	"tiledeck/internal/logger"
	"tiledeck/internal/pairing"
	"tiledeck/internal/protocol"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "pair":
		pairCmd(os.Args[2:])
	case "connect":
		connectCmd(os.Args[2:])
	case "send":
		sendCmd(os.Args[2:])
	case "upload":
		uploadCmd(os.Args[2:])
	case "forget":
		forgetCmd(os.Args[2:])
	case "version", "--version", "-version":
		fmt.Printf("tiledeck %s (%s) %s\n", version, commit, date)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("tiledeck <command> [args]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  pair     Save a host URL and verify it answers")
	fmt.Println("  connect  Connect to the paired host and stream events")
	fmt.Println("  send     Trigger one action on the paired host")
	fmt.Println("  upload   Upload a file to the paired host")
	fmt.Println("  forget   Drop the saved pairing")
	fmt.Println("  version  Print version")
}

func newClient(downloads string, debug bool) *client.Client {
	logger.Init("", debug)
	c := client.New(downloads)
	c.SetLogger(logger.Bridge("client"))
	path, err := pairing.DefaultPath()
	if err != nil {
		log.Fatalf("pairing path: %v", err)
	}
	c.Store = pairing.NewStore(path)
	return c
}

func storedAddr(c *client.Client) string {
	addr, err := c.Store.Load()
	if err != nil {
		log.Fatalf("pairing: %v", err)
	}
	if addr == "" {
		log.Fatal("not paired; run: tiledeck pair <ws-url>")
	}
	return addr
}

// waitConnected blocks until the client reaches Connected or permanently
// fails the first dial.
func waitConnected(c *client.Client, timeout time.Duration) error {
	states := make(chan client.Status, 8)
	c.OnState = func(st client.Status) { states <- st }
	defer func() { c.OnState = nil }()

	deadline := time.After(timeout)
	for {
		select {
		case st := <-states:
			switch st.State {
			case client.Connected:
				return nil
			case client.ConnError:
				return errors.New(st.LastError)
			}
		case <-deadline:
			return errors.New("timed out waiting for connection")
		}
	}
}

func pairCmd(args []string) {
	fs := flag.NewFlagSet("pair", flag.ExitOnError)
	downloads := fs.String("downloads", "downloads", "directory for received files")
	debug := fs.Bool("debug", false, "debug logging")
	fs.Parse(args)
	if fs.NArg() != 1 {
		log.Fatal("usage: tiledeck pair <ws-url>")
	}

	c := newClient(*downloads, *debug)
	if err := waitFirst(c, fs.Arg(0)); err != nil {
		log.Fatalf("pair: %v", err)
	}
	fmt.Printf("Paired with %s\n", fs.Arg(0))
	c.Disconnect(true)
}

func waitFirst(c *client.Client, addr string) error {
	done := make(chan error, 1)
	c.OnHello = func(lang, pcName string, catalog []protocol.CatalogEntry, layout protocol.Layout) {
		fmt.Printf("Host: %s (%d actions, %dx%d grid, lang %s)\n",
			pcName, len(catalog), layout.Rows, layout.Cols, lang)
	}
	c.OnState = func(st client.Status) {
		switch st.State {
		case client.Connected:
			done <- nil
		case client.ConnError:
			done <- errors.New(st.LastError)
		}
	}
	c.Pair(addr)
	select {
	case err := <-done:
		return err
	case <-time.After(15 * time.Second):
		return errors.New("timed out")
	}
}

func connectCmd(args []string) {
	fs := flag.NewFlagSet("connect", flag.ExitOnError)
	addr := fs.String("addr", "", "host URL (defaults to the saved pairing)")
	downloads := fs.String("downloads", "downloads", "directory for received files")
	metricsOut := fs.Bool("metrics", false, "print metrics frames")
	debug := fs.Bool("debug", false, "debug logging")
	fs.Parse(args)

	c := newClient(*downloads, *debug)
	if *addr == "" {
		*addr = storedAddr(c)
	}

	c.OnState = func(st client.Status) {
		if st.LastError != "" {
			fmt.Printf("[%s] %s (attempt %d): %s\n", time.Now().Format("15:04:05"), st.State, st.Attempt, st.LastError)
			return
		}
		fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05"), st.State)
	}
	c.OnHello = func(lang, pcName string, catalog []protocol.CatalogEntry, layout protocol.Layout) {
		fmt.Printf("hello from %s: %d actions, %dx%d grid, lang %s\n",
			pcName, len(catalog), layout.Rows, layout.Cols, lang)
	}
	c.OnLayout = func(layout protocol.Layout) {
		fmt.Printf("layout updated: %dx%d\n", layout.Rows, layout.Cols)
	}
	c.OnLang = func(lang string) {
		fmt.Printf("language: %s\n", lang)
	}
	c.OnFileSaved = func(path string, bytes int64) {
		fmt.Printf("received %s (%d bytes)\n", path, bytes)
	}
	if *metricsOut {
		c.OnMetrics = func(m protocol.Metrics) {
			if m.CPUPct != nil {
				fmt.Printf("cpu %.1f%%\n", *m.CPUPct)
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c.Connect(*addr)
	<-ctx.Done()
	c.Disconnect(true)
}

func sendCmd(args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	addr := fs.String("addr", "", "host URL (defaults to the saved pairing)")
	debug := fs.Bool("debug", false, "debug logging")
	fs.Parse(args)
	if fs.NArg() != 1 {
		log.Fatal("usage: tiledeck send <action-id>")
	}

	c := newClient(os.TempDir(), *debug)
	if *addr == "" {
		*addr = storedAddr(c)
	}
	c.Connect(*addr)
	if err := waitConnected(c, 15*time.Second); err != nil {
		log.Fatalf("connect: %v", err)
	}
	if err := c.SendAction(fs.Arg(0)); err != nil {
		log.Fatalf("send: %v", err)
	}
	fmt.Printf("sent %s\n", fs.Arg(0))
	c.Disconnect(true)
}

func uploadCmd(args []string) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	addr := fs.String("addr", "", "host URL (defaults to the saved pairing)")
	debug := fs.Bool("debug", false, "debug logging")
	fs.Parse(args)
	if fs.NArg() != 1 {
		log.Fatal("usage: tiledeck upload <file>")
	}

	c := newClient(os.TempDir(), *debug)
	if *addr == "" {
		*addr = storedAddr(c)
	}
	c.Connect(*addr)
	if err := waitConnected(c, 15*time.Second); err != nil {
		log.Fatalf("connect: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	name, err := c.Upload(ctx, fs.Arg(0))
	if err != nil {
		log.Fatalf("upload: %v", err)
	}
	fmt.Printf("uploaded as %s\n", name)
	c.Disconnect(true)
}

func forgetCmd(args []string) {
	fs := flag.NewFlagSet("forget", flag.ExitOnError)
	fs.Parse(args)

	c := newClient(os.TempDir(), false)
	c.ForgetPairing()
	fmt.Println("pairing cleared")
}
