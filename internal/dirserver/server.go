// Package dirserver implements the centralized directory server: the
// rendezvous point peers register their shared files with and query for
// other peers holding a given file. It never touches file bytes itself.
package dirserver

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/anhduc-dev/dirshare/internal/log"
	"github.com/anhduc-dev/dirshare/internal/store"
	"github.com/rs/zerolog"
)

// acceptPollInterval bounds how long Accept blocks before re-checking the
// stop flag, the same polling idiom the teacher's P2P node uses around its
// context-cancellation tickers.
const acceptPollInterval = 1 * time.Second

// Server is the directory server: it accepts peer control connections,
// drives each through the hello/publish/fetch/list_shared_files/ping
// protocol, and keeps the metadata index and active-session table.
type Server struct {
	addr   string
	idx    *store.Index
	active *ActiveSessions
	logger zerolog.Logger

	ln       net.Listener
	stopping bool
	mu       sync.Mutex
	wg       sync.WaitGroup
}

// New creates a directory server backed by db, which the server wraps in a
// metadata Index. Callers open db before New. Stop leaves db open;
// Shutdown closes it.
func New(addr string, db store.DB) *Server {
	return &Server{
		addr:   addr,
		idx:    store.NewIndex(db),
		active: NewActiveSessions(),
		logger: log.DirServer,
	}
}

// Listen binds the server's listening socket without starting the accept
// loop, so callers can discover the bound address (useful for addr ":0" in
// tests) before Start.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("dirserver listen: %w", err)
	}
	s.ln = ln
	return nil
}

// Addr returns the bound listener address. Valid only after Listen.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

// ActiveSessions exposes the live-session table for admin queries.
func (s *Server) ActiveSessions() *ActiveSessions {
	return s.active
}

// Index exposes the metadata index for admin queries.
func (s *Server) Index() *store.Index {
	return s.idx
}

// Start runs the accept loop until Stop is called. It blocks, so callers
// typically invoke it in its own goroutine.
func (s *Server) Start() error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.logger.Info().Str("addr", s.Addr()).Msg("directory server listening")

	for {
		s.mu.Lock()
		stopping := s.stopping
		s.mu.Unlock()
		if stopping {
			return nil
		}

		if tc, ok := s.ln.(*net.TCPListener); ok {
			tc.SetDeadline(time.Now().Add(acceptPollInterval))
		}

		conn, err := s.ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			s.mu.Lock()
			stopping = s.stopping
			s.mu.Unlock()
			if stopping {
				return nil
			}
			s.logger.Warn().Err(err).Msg("accept failed")
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sess := newSession(conn, s.idx, s.active, s.logger)
			sess.serve()
		}()
	}
}

// Stop signals the accept loop to exit, closes the listener, and waits for
// in-flight sessions to finish cleaning up.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	s.wg.Wait()
	return err
}
