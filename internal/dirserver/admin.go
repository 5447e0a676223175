package dirserver

import "sort"

// ActiveEntry is one row of ListActive's output.
type ActiveEntry struct {
	Hostname string `json:"hostname"`
	IP       string `json:"ip"`
	Port     int    `json:"port"`
}

// Discover returns the fnames hostname currently has registered.
func (s *Server) Discover(hostname string) ([]string, error) {
	return s.idx.ListFilesByHostname(hostname)
}

// Ping returns the current multiset of (ip, p2p_port) instances live under
// hostname, straight from the in-memory ActiveSessions table.
func (s *Server) Ping(hostname string) []ActiveEntry {
	instances := s.active.InstancesOf(hostname)
	out := make([]ActiveEntry, len(instances))
	for i, inst := range instances {
		out[i] = ActiveEntry{Hostname: inst.Hostname, IP: inst.IP, Port: inst.Port}
	}
	return out
}

// ListActive returns every live session across every hostname, sorted by
// (hostname, ip, port) for deterministic admin output.
func (s *Server) ListActive() []ActiveEntry {
	var out []ActiveEntry
	for _, hostname := range s.active.Hostnames() {
		for _, inst := range s.active.InstancesOf(hostname) {
			out = append(out, ActiveEntry{Hostname: inst.Hostname, IP: inst.IP, Port: inst.Port})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Hostname != b.Hostname {
			return a.Hostname < b.Hostname
		}
		if a.IP != b.IP {
			return a.IP < b.IP
		}
		return a.Port < b.Port
	})
	return out
}

// Shutdown stops accepting new connections and closes the underlying store.
// It is idempotent: calling it twice is safe, the second call just observes
// an already-stopped listener and an already-closed store.
func (s *Server) Shutdown() error {
	if err := s.Stop(); err != nil {
		s.logger.Warn().Err(err).Msg("error stopping listener during shutdown")
	}
	return s.idx.Close()
}
