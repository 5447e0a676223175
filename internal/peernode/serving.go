// Package peernode implements the peer side of the directory protocol: the
// serving listener that streams local files to other peers, and the
// control client that talks to the directory server.
package peernode

import (
	"net"
	"os"
	"sync"
	"time"

	"github.com/anhduc-dev/dirshare/internal/log"
	"github.com/anhduc-dev/dirshare/internal/protocol"
)

const (
	servingAcceptPoll = 1 * time.Second
	chunkSize         = 4 << 10 // 4 KiB
	listenerJoinLimit = 2 * time.Second
)

// ServingListener accepts raw get_file requests from other peers and
// streams local files back with no framing: end-of-stream is the only
// end-of-file signal, by design (see package peernode/controller.go for the
// receiving side).
type ServingListener struct {
	ln       net.Listener
	mu       sync.Mutex
	stopping bool
	wg       sync.WaitGroup
}

// ListenServing binds the serving listener on addr (typically
// "0.0.0.0:<p2p_port>").
func ListenServing(addr string) (*ServingListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &ServingListener{ln: ln}, nil
}

// Addr returns the bound listener address.
func (s *ServingListener) Addr() string {
	return s.ln.Addr().String()
}

// Serve runs the accept loop until Stop is called.
func (s *ServingListener) Serve() {
	for {
		s.mu.Lock()
		stopping := s.stopping
		s.mu.Unlock()
		if stopping {
			return
		}

		if tc, ok := s.ln.(*net.TCPListener); ok {
			tc.SetDeadline(time.Now().Add(servingAcceptPoll))
		}

		conn, err := s.ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			serveGetFile(conn)
		}()
	}
}

// Stop closes the listener and waits up to listenerJoinLimit for in-flight
// transfers to finish; a transfer still running past the deadline is left
// to finish or fail on its own rather than blocking shutdown indefinitely.
func (s *ServingListener) Stop() error {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
	err := s.ln.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(listenerJoinLimit):
	}
	return err
}

// serveGetFile handles one accepted connection: read one framed request,
// and if it is a well-formed get_file for a path that exists, stream the
// file raw in chunkSize pieces. Any other case closes silently — the
// protocol has no error channel for the data stream.
func serveGetFile(conn net.Conn) {
	defer conn.Close()

	msg, err := protocol.Decode(protocol.NewReader(conn))
	if err != nil {
		return
	}
	if protocol.Action(msg) != protocol.ActionGetFile {
		return
	}
	req, ok := protocol.ParseGetFile(msg)
	if !ok {
		return
	}

	f, err := os.Open(req.LName)
	if err != nil {
		log.PeerNode.Debug().Str("lname", req.LName).Err(err).Msg("get_file request for missing path")
		return
	}
	defer f.Close()

	buf := make([]byte, chunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if _, werr := conn.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}
