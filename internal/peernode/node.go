package peernode

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anhduc-dev/dirshare/internal/log"
	"github.com/anhduc-dev/dirshare/internal/protocol"
)

// heartbeatInterval is how often the heartbeat worker pings the server.
const heartbeatInterval = 5 * time.Second

// connectArgs records what Connect was called with, so auto-reconnect can
// replay the exact same identity.
type connectArgs struct {
	serverAddr string
	p2pPort    int
	clientName string
}

// Node is a peer's control client: the TCP session to the directory server,
// its serving-side listener, and the heartbeat worker that keeps both
// honest.
type Node struct {
	ctrlMu sync.Mutex // guards conn/r; every send+receive pair holds this for its whole duration
	conn   net.Conn
	r      *bufio.Reader

	serving *ServingListener

	connected      atomic.Bool
	needsReconnect atomic.Bool
	stopping       atomic.Bool

	hostname string
	p2pPort  int

	lastArgs connectArgs
	hbWG     sync.WaitGroup
}

// New creates a peer node. It does nothing network-visible until Connect.
func New() *Node {
	return &Node{}
}

// Connected reports whether the control connection is currently live.
func (n *Node) Connected() bool {
	return n.connected.Load()
}

// NeedsReconnect reports whether the heartbeat worker detected a dead
// connection and wants the controller to retry Connect.
func (n *Node) NeedsReconnect() bool {
	return n.needsReconnect.Load()
}

// Hostname returns the identity this node last connected as.
func (n *Node) Hostname() string {
	return n.hostname
}

// LastArgs returns the (serverAddr, p2pPort, clientName) the node last
// connected with, for auto-reconnect to replay the identical identity.
func (n *Node) LastArgs() (serverAddr string, p2pPort int, clientName string) {
	return n.lastArgs.serverAddr, n.lastArgs.p2pPort, n.lastArgs.clientName
}

// Connect dials the directory server, starts the serving listener, and
// begins the heartbeat worker. Connecting while already connected is a
// conflict.
func (n *Node) Connect(serverAddr string, p2pPort int, clientName string) error {
	if n.connected.Load() {
		return fmt.Errorf("already connected")
	}

	// A reconnect attempt finds the serving listener from the original
	// Connect still running (only the control socket died); starting a
	// second listener on the same port would fail to bind.
	serving := n.serving
	startedServing := false
	if serving == nil {
		var err error
		serving, err = ListenServing(fmt.Sprintf("0.0.0.0:%d", p2pPort))
		if err != nil {
			return fmt.Errorf("start serving listener: %w", err)
		}
		go serving.Serve()
		startedServing = true
		time.Sleep(200 * time.Millisecond) // let the listener finish binding
	}

	conn, err := net.Dial("tcp", serverAddr)
	if err != nil {
		if startedServing {
			serving.Stop()
		}
		return fmt.Errorf("dial directory server: %w", err)
	}

	hello := protocol.Message{"action": protocol.ActionHello, "hostname": clientName, "p2p_port": p2pPort}
	if err := protocol.Encode(conn, hello); err != nil {
		conn.Close()
		if startedServing {
			serving.Stop()
		}
		return fmt.Errorf("send hello: %w", err)
	}
	r := protocol.NewReader(conn)
	reply, err := protocol.Decode(r)
	if err != nil {
		conn.Close()
		if startedServing {
			serving.Stop()
		}
		return fmt.Errorf("receive hello reply: %w", err)
	}
	if reply["status"] != protocol.StatusSuccess {
		conn.Close()
		if startedServing {
			serving.Stop()
		}
		return fmt.Errorf("hello rejected: %v", reply["message"])
	}

	n.conn = conn
	n.r = r
	n.serving = serving
	n.hostname = clientName
	n.p2pPort = p2pPort
	n.lastArgs = connectArgs{serverAddr: serverAddr, p2pPort: p2pPort, clientName: clientName}
	n.connected.Store(true)
	n.stopping.Store(false)

	n.hbWG.Add(1)
	go n.heartbeatLoop()

	log.PeerNode.Info().Str("server", serverAddr).Str("hostname", clientName).Msg("connected and ready")
	return nil
}

// Disconnect tears down the control connection and serving listener and
// clears the auto-reconnect flag.
func (n *Node) Disconnect() {
	n.needsReconnect.Store(false)
	n.stopping.Store(true)

	n.ctrlMu.Lock()
	if n.conn != nil {
		n.conn.Close()
	}
	n.ctrlMu.Unlock()

	n.hbWG.Wait()

	if n.serving != nil {
		n.serving.Stop()
	}
	n.connected.Store(false)
}

// heartbeatLoop pings the server every 5 seconds under ctrlMu. A failed
// ping marks the node needing reconnection and exits the loop; retrying is
// left to the caller (cmd/peernode's watchReconnect).
func (n *Node) heartbeatLoop() {
	defer n.hbWG.Done()
	// The interval is waited out in short slices so a stop set by
	// Disconnect ends the loop promptly rather than a full interval later.
	const stopPoll = 100 * time.Millisecond
	for {
		for waited := time.Duration(0); waited < heartbeatInterval; waited += stopPoll {
			if n.stopping.Load() {
				return
			}
			time.Sleep(stopPoll)
		}
		if n.stopping.Load() {
			return
		}

		n.ctrlMu.Lock()
		err := protocol.Encode(n.conn, protocol.Message{"action": protocol.ActionPing})
		if err == nil {
			_, err = protocol.Decode(n.r)
		}
		n.ctrlMu.Unlock()

		if err != nil {
			if n.stopping.Load() {
				return
			}
			log.PeerNode.Warn().Err(err).Msg("heartbeat failed, server is down, triggering auto-reconnect")
			n.needsReconnect.Store(true)
			n.connected.Store(false)
			n.ctrlMu.Lock()
			if n.conn != nil {
				n.conn.Close()
			}
			n.ctrlMu.Unlock()
			return
		}
	}
}

// sendRecv sends msg on the control socket and returns the paired reply,
// holding ctrlMu for the whole round trip so the heartbeat worker never
// interleaves with a user operation.
func (n *Node) sendRecv(msg protocol.Message) (protocol.Message, error) {
	n.ctrlMu.Lock()
	defer n.ctrlMu.Unlock()

	if n.conn == nil {
		return nil, fmt.Errorf("not connected")
	}
	if err := protocol.Encode(n.conn, msg); err != nil {
		return nil, fmt.Errorf("send %s: %w", protocol.Action(msg), err)
	}
	reply, err := protocol.Decode(n.r)
	if err != nil {
		return nil, fmt.Errorf("receive reply to %s: %w", protocol.Action(msg), err)
	}
	return reply, nil
}
