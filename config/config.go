// Package config handles application configuration for both roles of the
// system: the directory server and the peer node.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Config holds runtime configuration shared by both cmd/dirserverd and
// cmd/peernode. Each binary only reads the sub-config relevant to its role.
type Config struct {
	// Core
	DataDir string `conf:"datadir"`

	// Directory server settings
	DirServer DirServerConfig

	// Peer node settings
	PeerNode PeerNodeConfig

	// Logging
	Log LogConfig
}

// DirServerConfig holds directory-server settings.
type DirServerConfig struct {
	ListenAddr string `conf:"dirserver.listen"` // interface to bind, e.g. 0.0.0.0
	Port       int    `conf:"dirserver.port"`
}

// PeerNodeConfig holds peer-node settings.
type PeerNodeConfig struct {
	ServerAddr   string `conf:"peer.server"`       // directory server host:port to join
	P2PPort      int    `conf:"peer.p2p_port"`     // serving-side listen port; 0 means auto-allocate
	ClientName   string `conf:"peer.client_name"`  // hostname identity; empty means auto-allocate
	DownloadDir  string `conf:"peer.download_dir"` // where fetched files land
	IdentityFile string `conf:"peer.identity_file"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.dirshare
//	macOS:   ~/Library/Application Support/Dirshare
//	Windows: %APPDATA%\Dirshare
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dirshare"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Dirshare")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Dirshare")
		}
		return filepath.Join(home, "AppData", "Roaming", "Dirshare")
	default:
		return filepath.Join(home, ".dirshare")
	}
}

// DBDir returns the directory server's metadata store directory.
func (c *Config) DBDir() string {
	return filepath.Join(c.DataDir, "db")
}

// DownloadsDir returns the peer node's default download directory.
func (c *Config) DownloadsDir() string {
	if c.PeerNode.DownloadDir != "" {
		return c.PeerNode.DownloadDir
	}
	return filepath.Join(c.DataDir, "downloads")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// IdentityFilePath returns where the peer's auto-identity counter lives.
func (c *Config) IdentityFilePath() string {
	if c.PeerNode.IdentityFile != "" {
		return c.PeerNode.IdentityFile
	}
	return filepath.Join(c.DataDir, "identity.counter")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "dirshare.conf")
}
