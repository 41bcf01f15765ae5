package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"tiledeck/internal/action"
	"tiledeck/internal/config"
	"tiledeck/internal/devutil"
	"tiledeck/internal/logger"
	"tiledeck/internal/metrics"
	"tiledeck/internal/qr"
	"tiledeck/internal/server"
	"tiledeck/internal/store"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cfgPath := flag.String("config", "tiledeck.toml", "settings file")
	addrFlag := flag.String("addr", "", "listen address (overrides config)")
	tokenFlag := flag.String("token", "", "pairing token (overrides config)")
	printQR := flag.Bool("qr", true, "print pairing QR code to terminal")
	debug := flag.Bool("debug", false, "debug logging")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("tiledeckd %s (%s) %s\n", version, commit, date)
		return
	}

	cfg, err := config.LoadSettings(*cfgPath)
	if err != nil {
		log.Fatalf("settings: %v", err)
	}
	if *addrFlag != "" {
		cfg.Addr = *addrFlag
	}
	if *tokenFlag != "" {
		cfg.Token = *tokenFlag
	}
	if *debug {
		cfg.Debug = true
	}

	logHandler := logger.Init(filepath.Join(cfg.LogDir, "tiledeckd"), cfg.Debug)
	defer logHandler.Close()

	token := cfg.Token
	if token == "" {
		token = randomToken()
		slog.Info("no token configured, generated one for this run", "token", token)
	}

	deck, err := config.LoadDeck(cfg.DeckPath)
	if err != nil {
		slog.Error("deck load failed", "path", cfg.DeckPath, "error", err)
		os.Exit(1)
	}

	hist, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("history store open failed", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer hist.Close()

	exec := action.NewExecutor()
	exec.SetLogger(logger.Bridge("action"))

	tickets := server.NewTicketManager(token)
	srv := server.New(token, tickets, deck, exec, metrics.NewSystemSampler())
	srv.SetLogger(logger.Bridge("server"))
	srv.SetHistory(hist)
	srv.Outbox().SetLogger(logger.Bridge("transfer"))

	addr, err := resolveAddr(cfg.Addr)
	if err != nil {
		slog.Error("listen address", "addr", cfg.Addr, "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.ServeWS)
	mux.HandleFunc("/upload", srv.UploadHandler(cfg.UploadsDir))
	mux.HandleFunc("/", server.RootHandler())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go srv.RunMetrics(ctx)
	go func() {
		err := deck.Watch(ctx, logger.Bridge("watch"), func() {
			srv.BroadcastLayout()
			srv.BroadcastLanguage()
		})
		if err != nil {
			slog.Warn("deck watch unavailable, edits need a restart", "error", err)
		}
	}()

	share := shareURL(addr, token)
	fmt.Printf("Pair: %s\n", share)
	if *printQR {
		_ = qr.RenderANSI(os.Stdout, share)
		fmt.Println()
	}
	if ticket, err := tickets.Issue(5 * time.Minute); err == nil {
		slog.Info("guest pairing url issued", "url", guestURL(addr, ticket), "ttl", "5m")
	}

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	slog.Info("tiledeckd listening", "addr", addr)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		slog.Error("http server", "error", err)
		os.Exit(1)
	}

	slog.Info("shutting down")
	srv.Shutdown(2 * time.Second)
	shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutCtx)
}

func randomToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		log.Fatalf("token: %v", err)
	}
	return hex.EncodeToString(b)
}

// resolveAddr fills in a free port when the configured port is 0.
func resolveAddr(addr string) (string, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", err
	}
	if port == 0 {
		port, err = devutil.PickFreePort(8765)
		if err != nil {
			return "", err
		}
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

func shareURL(addr, token string) string {
	return "ws://" + shareHostPort(addr) + "/ws?token=" + token
}

func guestURL(addr, ticket string) string {
	return "ws://" + shareHostPort(addr) + "/ws?ticket=" + ticket
}

// shareHostPort swaps a wildcard listen host for an address a tablet on
// the LAN can actually reach.
func shareHostPort(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = lanIP()
	}
	return net.JoinHostPort(host, port)
}

func lanIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "127.0.0.1"
}
