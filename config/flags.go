package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// Flags holds parsed command-line flags, shared by both binaries; each only
// reads the fields relevant to its own role.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	DataDir string
	Config  string

	// Directory server
	DirListenAddr string
	DirPort       int

	// Peer node
	PeerServer       string
	PeerP2PPort      int
	PeerClientName   string
	PeerDownloadDir  string
	PeerIdentityFile string

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Remaining args
	Args []string

	// Explicitly-set bool flags (for true/false overrides).
	SetLogJSON bool
}

// ParseDirServerFlags parses command-line flags for cmd/dirserverd.
func ParseDirServerFlags() *Flags {
	f := &Flags{}
	fs := flag.NewFlagSet("dirserverd", flag.ContinueOnError)

	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")
	fs.BoolVar(&f.Version, "v", false, "Show version (shorthand)")

	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")

	fs.StringVar(&f.DirListenAddr, "listen", "", "Listen address")
	fs.IntVar(&f.DirPort, "port", 0, "Listen port")

	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	fs.Usage = func() { printDirServerUsage() }

	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	f.SetLogJSON = isFlagSet(fs, "log-json")
	f.Args = fs.Args()
	return f
}

// ParsePeerFlags parses command-line flags for cmd/peernode.
func ParsePeerFlags() *Flags {
	f := &Flags{}
	fs := flag.NewFlagSet("peernode", flag.ContinueOnError)

	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")
	fs.BoolVar(&f.Version, "v", false, "Show version (shorthand)")

	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")

	fs.StringVar(&f.PeerServer, "server", "", "Directory server host:port")
	fs.IntVar(&f.PeerP2PPort, "p2p-port", 0, "Serving listen port (0 = auto-allocate)")
	fs.StringVar(&f.PeerClientName, "name", "", "Hostname identity (blank = auto-allocate)")
	fs.StringVar(&f.PeerDownloadDir, "download-dir", "", "Directory for fetched files")
	fs.StringVar(&f.PeerIdentityFile, "identity-file", "", "Auto-identity counter file path")

	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	fs.Usage = func() { printPeerUsage() }

	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	f.SetLogJSON = isFlagSet(fs, "log-json")
	f.Args = fs.Args()

	for _, arg := range f.Args {
		if strings.HasPrefix(arg, "-") {
			fmt.Fprintf(os.Stderr, "Error: flag %q was not parsed (positional argument stopped parsing)\n", arg)
			os.Exit(1)
		}
	}

	return f
}

// ApplyFlags applies command-line flags to a Config struct.
func ApplyFlags(cfg *Config, f *Flags) {
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}

	if f.DirListenAddr != "" {
		cfg.DirServer.ListenAddr = f.DirListenAddr
	}
	if f.DirPort != 0 {
		cfg.DirServer.Port = f.DirPort
	}

	if f.PeerServer != "" {
		cfg.PeerNode.ServerAddr = f.PeerServer
	}
	if f.PeerP2PPort != 0 {
		cfg.PeerNode.P2PPort = f.PeerP2PPort
	}
	if f.PeerClientName != "" {
		cfg.PeerNode.ClientName = f.PeerClientName
	}
	if f.PeerDownloadDir != "" {
		cfg.PeerNode.DownloadDir = f.PeerDownloadDir
	}
	if f.PeerIdentityFile != "" {
		cfg.PeerNode.IdentityFile = f.PeerIdentityFile
	}

	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
}

// isFlagSet checks if a flag was explicitly set.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func printDirServerUsage() {
	usage := `dirserverd - centralized directory server for peer file sharing

Usage:
  dirserverd [options]
  dirserverd --help

Commands:
  --help, -h      Show this help message
  --version, -v   Show version information

Core Options:
  --datadir       Data directory (default: ~/.dirshare)
  --config, -c    Config file path (default: <datadir>/dirshare.conf)

Server Options:
  --listen        Listen address (default: 0.0.0.0)
  --port          Listen port (default: 9000)

Logging Options:
  --log-level     Log level: debug, info, warn, error (default: info)
  --log-file      Log file path (default: <datadir>/logs/dirserverd.log;
                  logs also go to stdout)
  --log-json      Output logs as JSON

Examples:
  # Start with defaults
  dirserverd

  # Listen on a specific port
  dirserverd --port=9001

Note:
  Data directories and a default config file are created automatically on
  first start.
`
	fmt.Print(usage)
}

func printPeerUsage() {
	usage := `peernode - peer client for centralized-directory file sharing

Usage:
  peernode [options]
  peernode --help

Commands:
  --help, -h      Show this help message
  --version, -v   Show version information

Core Options:
  --datadir       Data directory (default: ~/.dirshare)
  --config, -c    Config file path (default: <datadir>/dirshare.conf)

Peer Options:
  --server          Directory server host:port (default: 127.0.0.1:9000)
  --p2p-port        Serving listen port (0 = auto-allocate: 1111, 2222, ...)
  --name            Hostname identity (blank = auto-allocate: a, b, c, ...)
  --download-dir    Directory for fetched files (default: <datadir>/downloads)
  --identity-file   Auto-identity counter file (default: <datadir>/identity.counter)

Logging Options:
  --log-level     Log level: debug, info, warn, error (default: info)
  --log-file      Log file path (default: <datadir>/logs/peernode.log;
                  logs also go to stdout)
  --log-json      Output logs as JSON

Examples:
  # Join a directory server with an auto-allocated identity
  peernode --server=directory.example.com:9000

  # Join with an explicit hostname and serving port
  peernode --server=directory.example.com:9000 --name=alice --p2p-port=5000
`
	fmt.Print(usage)
}

// Load loads directory-server configuration with the following precedence:
// 1. Default values
// 2. Auto-create data dirs + default config (idempotent)
// 3. Config file
// 4. Command-line flags
func Load() (*Config, *Flags, error) {
	flags := ParseDirServerFlags()

	if flags.Help {
		printDirServerUsage()
		os.Exit(0)
	}
	if flags.Version {
		fmt.Println("dirserverd version 0.1.0")
		os.Exit(0)
	}

	cfg := Default()
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}

	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, nil, fmt.Errorf("applying config file: %w", err)
	}

	ApplyFlags(cfg, flags)
	if err := Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, flags, nil
}

// LoadPeer loads peer-node configuration with the same precedence as Load.
func LoadPeer() (*Config, *Flags, error) {
	flags := ParsePeerFlags()

	if flags.Help {
		printPeerUsage()
		os.Exit(0)
	}
	if flags.Version {
		fmt.Println("peernode version 0.1.0")
		os.Exit(0)
	}

	cfg := Default()
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}

	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, nil, fmt.Errorf("applying config file: %w", err)
	}

	ApplyFlags(cfg, flags)
	if err := Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, flags, nil
}

// EnsureDataDirs creates the data directory structure and a default config
// file if they don't already exist. This is idempotent -- safe to call on
// every startup.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.DBDir(),
		cfg.DownloadsDir(),
		cfg.LogsDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}

	return nil
}
