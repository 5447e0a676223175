package dirserver

import (
	"sync"

	"github.com/anhduc-dev/dirshare/pkg/types"
)

// ActiveSessions tracks which (ip, port) instances are currently connected
// under each hostname. Unlike the metadata index it is never persisted: it
// exists only to answer "who's online right now" for the admin console, and
// is rebuilt from scratch on every server restart as peers say hello again.
type ActiveSessions struct {
	mu      sync.Mutex
	byHost  map[string][]types.PeerIdentity
}

// NewActiveSessions creates an empty session table.
func NewActiveSessions() *ActiveSessions {
	return &ActiveSessions{byHost: make(map[string][]types.PeerIdentity)}
}

// Add registers id as a live instance of its hostname.
func (a *ActiveSessions) Add(id types.PeerIdentity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byHost[id.Hostname] = append(a.byHost[id.Hostname], id)
}

// Remove drops one instance of id from its hostname's set. If it was the
// last instance for that hostname, the hostname key itself is removed.
func (a *ActiveSessions) Remove(id types.PeerIdentity) {
	a.mu.Lock()
	defer a.mu.Unlock()

	instances := a.byHost[id.Hostname]
	for i, inst := range instances {
		if inst == id {
			instances = append(instances[:i], instances[i+1:]...)
			break
		}
	}
	if len(instances) == 0 {
		delete(a.byHost, id.Hostname)
	} else {
		a.byHost[id.Hostname] = instances
	}
}

// InstancesOf returns a snapshot of the live instances registered under
// hostname, in registration order.
func (a *ActiveSessions) InstancesOf(hostname string) []types.PeerIdentity {
	a.mu.Lock()
	defer a.mu.Unlock()
	instances := a.byHost[hostname]
	out := make([]types.PeerIdentity, len(instances))
	copy(out, instances)
	return out
}

// Hostnames returns every hostname with at least one live instance.
func (a *ActiveSessions) Hostnames() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.byHost))
	for h := range a.byHost {
		out = append(out, h)
	}
	return out
}

// Count returns the total number of live instances across all hostnames.
func (a *ActiveSessions) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := 0
	for _, instances := range a.byHost {
		total += len(instances)
	}
	return total
}
