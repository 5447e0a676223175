// Peer node client.
//
// Maintains a control connection to a directory server, serves files to
// other peers, and exposes an interactive command loop for
// publish/fetch/list/download operations. The graphical front-end this
// console stands in for is out of scope; this loop plays the "observer"
// role described for it — it only calls the controller's public
// operations and renders whatever comes back.
//
// Usage:
//
//	peernode --server=127.0.0.1:9000  Join a directory server
//	peernode --help                   Show help
package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/anhduc-dev/dirshare/config"
	"github.com/anhduc-dev/dirshare/internal/identity"
	klog "github.com/anhduc-dev/dirshare/internal/log"
	"github.com/anhduc-dev/dirshare/internal/peernode"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// sharedFilesCache holds the most recent result of the background
// list_shared_files poll (spec §4.7: requested on connect and every 5s
// while connected, never more than one request in flight). The "list"
// command reads this cache instead of issuing its own one-shot request.
var sharedFilesCache atomic.Value // []peernode.SharedFile

func main() {
	os.Exit(runMain())
}

func runMain() int {
	cfg, _, err := loadPeerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logFile := cfg.Log.File
	if logFile == "" {
		logsDir := cfg.LogsDir()
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating logs dir: %v\n", err)
			return 1
		}
		logFile = logsDir + "/peernode.log"
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		return 1
	}
	logger := klog.WithComponent("peernode")

	hostname := cfg.PeerNode.ClientName
	p2pPort := cfg.PeerNode.P2PPort
	if hostname == "" || p2pPort == 0 {
		id, err := identity.Allocate(cfg.IdentityFilePath())
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to auto-allocate identity")
		}
		if hostname == "" {
			hostname = id.Name
		}
		if p2pPort == 0 {
			p2pPort = id.P2PPort
		}
	}

	if err := os.MkdirAll(cfg.DownloadsDir(), 0755); err != nil {
		logger.Fatal().Err(err).Msg("failed to create downloads dir")
	}

	node := peernode.New()
	if err := node.Connect(cfg.PeerNode.ServerAddr, p2pPort, hostname); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to directory server")
	}
	logger.Info().Str("server", cfg.PeerNode.ServerAddr).Str("hostname", hostname).Int("p2p_port", p2pPort).Msg("joined directory server")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	quit := make(chan struct{})
	go watchReconnect(node, cfg, logger, quit)
	go node.PollSharedFiles(quit, func(files []peernode.SharedFile) { sharedFilesCache.Store(files) })
	go func() {
		<-sigCh
		close(quit)
	}()

	runCommandLoop(node, cfg, logger, quit)

	node.Disconnect()
	logger.Info().Msg("goodbye")
	return 0
}

func loadPeerConfig() (*config.Config, *config.Flags, error) {
	return config.LoadPeer()
}

// watchReconnect polls NeedsReconnect every 5 seconds and retries Connect
// using the node's own stored identity, logging retries at INFO rather
// than ERROR to avoid noise while the directory server is down.
func watchReconnect(node *peernode.Node, cfg *config.Config, logger zerolog.Logger, quit <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			if !node.NeedsReconnect() || node.Connected() {
				continue
			}
			serverAddr, p2pPort, clientName := node.LastArgs()
			logger.Info().Str("hostname", clientName).Msg("attempting reconnect")
			if err := node.Connect(serverAddr, p2pPort, clientName); err != nil {
				logger.Info().Err(err).Msg("reconnect attempt failed, will retry")
			}
		}
	}
}

func runCommandLoop(node *peernode.Node, cfg *config.Config, logger zerolog.Logger, quit <-chan struct{}) {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		printPrompt()
		for scanner.Scan() {
			lines <- scanner.Text()
			printPrompt()
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
			if !dispatchCommand(node, cfg, logger, line) {
				return
			}
		}
	}
}

// printPrompt writes the command prompt, but only when stdin is an
// interactive terminal — printing it while scripted/piped just clutters
// redirected output or log files.
func printPrompt() {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Print("peer> ")
	}
}

// humanizeModified renders an ISO-8601 last_modified timestamp as a
// relative time ("3 days ago") for display, falling back to the raw
// string if it doesn't parse (last_modified is self-reported and never
// validated, so a malformed value must not crash the command loop).
func humanizeModified(raw string) string {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return raw
	}
	return humanize.Time(t)
}

func dispatchCommand(node *peernode.Node, cfg *config.Config, logger zerolog.Logger, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}

	switch strings.ToLower(fields[0]) {
	case "publish":
		if len(fields) < 3 {
			logger.Warn().Msg("usage: publish <local-path> <alias> [overwrite]")
			return true
		}
		overwrite := len(fields) > 3 && strings.EqualFold(fields[3], "overwrite")
		reply, err := node.Publish(fields[1], fields[2], overwrite)
		if err != nil {
			logger.Error().Err(err).Msg("publish failed")
			return true
		}
		logger.Info().Interface("reply", reply).Msg("publish result")

	case "fetch":
		if len(fields) != 2 {
			logger.Warn().Msg("usage: fetch <fname>")
			return true
		}
		peers, err := node.FetchPeerList(fields[1])
		if err != nil {
			logger.Error().Err(err).Msg("fetch failed")
			return true
		}
		logger.Info().Int("count", len(peers)).Msg("peers advertising file")
		for _, p := range peers {
			logger.Info().Str("hostname", p.Hostname).Str("ip", p.IP).Int("port", p.Port).Msg("-")
		}

	case "list":
		files, _ := sharedFilesCache.Load().([]peernode.SharedFile)
		if files == nil {
			logger.Info().Msg("no shared-files data yet, still polling the directory server")
			return true
		}
		for _, f := range files {
			logger.Info().Str("fname", f.FName).Int("peers", f.PeerCount).
				Str("size", humanize.Bytes(uint64(f.FileSize))).
				Str("last_modified", humanizeModified(f.LastModified)).Msg("-")
		}

	case "download":
		switch len(fields) {
		case 2:
			// download <fname>: fetch every peer advertising it and download
			// from all of them sequentially (spec §4.7), collecting
			// per-peer failures instead of aborting on the first one.
			fname := fields[1]
			peers, err := node.FetchPeerList(fname)
			if err != nil {
				logger.Error().Err(err).Msg("fetch failed")
				return true
			}
			if len(peers) == 0 {
				logger.Info().Str("fname", fname).Msg("no peers advertising file")
				return true
			}
			results := peernode.DownloadSelected(peers, cfg.DownloadsDir())
			for _, r := range results {
				if r.Err != nil {
					logger.Error().Str("hostname", r.Peer.Hostname).Err(r.Err).Msg("download failed")
					continue
				}
				logger.Info().Str("hostname", r.Peer.Hostname).Str("destination", r.Destination).Msg("download complete")
			}

		case 5:
			// download <hostname> <ip> <port> <lname>: download from one
			// explicitly named peer, bypassing fetch.
			port, err := strconv.Atoi(fields[3])
			if err != nil {
				logger.Warn().Msg("port must be numeric")
				return true
			}
			peer := peernode.PeerRef{Hostname: fields[1], IP: fields[2], Port: port, LName: fields[4]}
			dest := filepath.Join(cfg.DownloadsDir(), filepath.Base(fields[4]))
			if err := peernode.DownloadFromPeer(peer, dest); err != nil {
				logger.Error().Err(err).Msg("download failed")
				return true
			}
			logger.Info().Str("destination", dest).Msg("download complete")

		default:
			logger.Warn().Msg("usage: download <fname> | download <hostname> <ip> <port> <lname>")
		}

	case "exit":
		return false

	default:
		logger.Warn().Str("command", line).Msg("invalid command")
	}
	return true
}
