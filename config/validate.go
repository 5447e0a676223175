package config

import "fmt"

// Validate checks config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.DirServer.Port < 0 || cfg.DirServer.Port > 65535 {
		return fmt.Errorf("dirserver.port must be in range [0, 65535]")
	}
	if cfg.PeerNode.P2PPort < 0 || cfg.PeerNode.P2PPort > 65535 {
		return fmt.Errorf("peer.p2p_port must be in range [0, 65535]")
	}
	return nil
}
