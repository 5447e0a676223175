// Directory server daemon.
//
// The accept loop runs on a background goroutine; the main goroutine runs
// the administrative command prompt (discover/ping/exit) and a signal
// watcher, mirroring the one-main-admin-thread / one-accept-thread shape
// of the reference implementation.
//
// Usage:
//
//	dirserverd [--port=9000]  Run the server
//	dirserverd --help         Show help
package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/anhduc-dev/dirshare/config"
	"github.com/anhduc-dev/dirshare/internal/dirserver"
	klog "github.com/anhduc-dev/dirshare/internal/log"
	"github.com/anhduc-dev/dirshare/internal/store"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

func main() {
	// ── 1. Load config (defaults → file → flags) ────────────────────────
	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// ── 2. Init logger ───────────────────────────────────────────────────
	logFile := cfg.Log.File
	if logFile == "" {
		logsDir := cfg.LogsDir()
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating logs dir: %v\n", err)
			os.Exit(1)
		}
		logFile = logsDir + "/dirserverd.log"
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	logger := klog.WithComponent("dirserverd")

	// ── 3. Open the metadata store ───────────────────────────────────────
	db, err := store.OpenBadger(cfg.DBDir())
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBDir()).Msg("failed to open database")
	}

	// ── 4. Start the server ──────────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.DirServer.ListenAddr, cfg.DirServer.Port)
	srv := dirserver.New(addr, db)
	if err := srv.Listen(); err != nil {
		logger.Fatal().Err(err).Str("addr", addr).Msg("failed to bind listener")
	}
	go srv.Start()

	logger.Info().Str("addr", srv.Addr()).Msg("directory server started")

	// ── 5. Watch for OS shutdown signals in the background ──────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	quit := make(chan struct{})
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		close(quit)
	}()

	// ── 6. Run the admin prompt on the main goroutine ────────────────────
	runAdminPrompt(srv, logger, quit)

	if err := srv.Shutdown(); err != nil {
		logger.Warn().Err(err).Msg("error during shutdown")
	}
	logger.Info().Msg("goodbye")
}

// runAdminPrompt reads discover/ping/exit commands from stdin until the
// operator types exit, stdin closes, or quit fires. No readline library
// appears anywhere in the pack, so this stays on bufio.Scanner.
func runAdminPrompt(srv *dirserver.Server, logger zerolog.Logger, quit <-chan struct{}) {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		printAdminPrompt()
		for scanner.Scan() {
			lines <- scanner.Text()
			printAdminPrompt()
		}
		close(lines)
	}()

	for {
		select {
		case <-quit:
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !dispatchAdminCommand(srv, logger, line) {
				return
			}
		}
	}
}

// printAdminPrompt writes the admin prompt, but only when stdin is an
// interactive terminal, so a scripted/piped session doesn't get its
// output cluttered with prompt text.
func printAdminPrompt() {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Print("Enter discover <hostname>/ ping <hostname>/ exit: ")
	}
}

// dispatchAdminCommand runs one admin command. It returns false when the
// prompt should stop (an "exit" command was issued).
func dispatchAdminCommand(srv *dirserver.Server, logger zerolog.Logger, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}

	switch strings.ToLower(fields[0]) {
	case "discover":
		if len(fields) != 2 {
			logger.Warn().Msg("usage: discover <hostname>")
			return true
		}
		files, err := srv.Discover(fields[1])
		if err != nil {
			logger.Error().Err(err).Msg("discover failed")
			return true
		}
		if len(files) == 0 {
			logger.Info().Str("hostname", fields[1]).Msg("no files found for client")
		} else {
			logger.Info().Str("hostname", fields[1]).Strs("files", files).Msg("files published by client")
		}

	case "ping":
		if len(fields) != 2 {
			logger.Warn().Msg("usage: ping <hostname>")
			return true
		}
		online := srv.Ping(fields[1])
		if len(online) == 0 {
			logger.Info().Str("hostname", fields[1]).Msg("client is OFFLINE")
			return true
		}
		logger.Info().Str("hostname", fields[1]).Int("count", len(online)).Msg("client is ONLINE")
		for _, inst := range online {
			logger.Info().Str("ip", inst.IP).Int("port", inst.Port).Msg("-")
		}

	case "exit":
		logger.Info().Msg("shutting down server")
		return false

	default:
		logger.Warn().Str("command", line).Msg("invalid command")
	}
	return true
}
