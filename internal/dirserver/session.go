package dirserver

import (
	"bufio"
	"io"
	"net"

	"github.com/anhduc-dev/dirshare/internal/protocol"
	"github.com/anhduc-dev/dirshare/internal/store"
	"github.com/anhduc-dev/dirshare/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// sessionState is the session's position in the control-stream lifecycle.
type sessionState int

const (
	stateAwaitHello sessionState = iota
	stateReady
	stateClosed
)

// session handles one peer's control-stream connection end to end: the
// mandatory hello handshake, the publish/fetch/list_shared_files/ping
// dispatch loop, and guaranteed deregistration on close.
type session struct {
	conn     net.Conn
	r        *bufio.Reader
	idx      *store.Index
	active   *ActiveSessions
	log      zerolog.Logger
	state    sessionState
	identity types.PeerIdentity
}

func newSession(conn net.Conn, idx *store.Index, active *ActiveSessions, log zerolog.Logger) *session {
	sid := uuid.New().String()
	return &session{
		conn:   conn,
		r:      protocol.NewReader(conn),
		idx:    idx,
		active: active,
		log:    log.With().Str("session_id", sid).Logger(),
		state:  stateAwaitHello,
	}
}

// serve drives the session to completion. It never returns an error to the
// caller: all failures are logged and result in the connection closing.
func (s *session) serve() {
	remote := s.conn.RemoteAddr().String()
	defer s.cleanup(remote)

	if !s.awaitHello(remote) {
		return
	}

	for {
		msg, err := protocol.Decode(s.r)
		if err != nil {
			if err != io.EOF {
				s.log.Warn().Str("peer", remote).Err(err).Msg("control stream read failed")
			}
			return
		}

		action := protocol.Action(msg)
		if action != protocol.ActionPing {
			s.log.Info().Str("peer", remote).Str("action", action).Msg("received message")
		}

		reply := s.dispatch(action, msg)
		if err := protocol.Encode(s.conn, reply); err != nil {
			s.log.Warn().Str("peer", remote).Err(err).Msg("control stream write failed")
			return
		}
	}
}

// awaitHello reads the peer's first message, which must be a valid hello;
// on success it registers the peer in the active-session table and replies.
// It returns false if the handshake failed, in which case the connection
// should be closed.
func (s *session) awaitHello(remote string) bool {
	msg, err := protocol.Decode(s.r)
	if err != nil || protocol.Action(msg) != protocol.ActionHello {
		s.log.Warn().Str("peer", remote).Msg("expected hello message first")
		protocol.Encode(s.conn, protocol.Error("expected hello message"))
		return false
	}

	hello, ok := protocol.ParseHello(msg)
	if !ok {
		protocol.Encode(s.conn, protocol.Error("hello requires hostname and p2p_port"))
		return false
	}

	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}

	s.identity = types.PeerIdentity{Hostname: hello.Hostname, IP: host, Port: hello.P2PPort}
	s.active.Add(s.identity)
	s.state = stateReady
	s.log = s.log.With().Str("hostname", hello.Hostname).Logger()
	s.log.Info().Str("peer", remote).Int("p2p_port", hello.P2PPort).Msg("peer said hello")

	return protocol.Encode(s.conn, protocol.Success("Hello from server!", nil)) == nil
}

func (s *session) dispatch(action string, msg protocol.Message) protocol.Message {
	switch action {
	case protocol.ActionPublish:
		return s.handlePublish(msg)
	case protocol.ActionFetch:
		return s.handleFetch(msg)
	case protocol.ActionListSharedFiles:
		return s.handleListSharedFiles()
	case protocol.ActionPing:
		return protocol.Success("pong", nil)
	default:
		return protocol.Error("Invalid action")
	}
}

func (s *session) handlePublish(msg protocol.Message) protocol.Message {
	req, ok := protocol.ParsePublish(msg)
	if !ok {
		return protocol.Error("Missing lname or fname")
	}

	entry := types.FileEntry{
		FName:        req.FName,
		Hostname:     s.identity.Hostname,
		IP:           s.identity.IP,
		Port:         s.identity.Port,
		LName:        req.LName,
		FileSize:     req.FileSize,
		LastModified: req.LastModified,
	}

	existing, found, err := s.idx.Get(req.FName, s.identity.Hostname, s.identity.IP, s.identity.Port)
	if err != nil {
		s.log.Error().Err(err).Msg("lookup failed during publish")
		return protocol.Error("internal error")
	}

	if found {
		samePath := existing.LName == req.LName
		unchanged := samePath && existing.FileSize == req.FileSize && existing.LastModified == req.LastModified
		switch {
		case unchanged:
			return protocol.Message{"status": protocol.StatusUnchanged, "message": "File " + req.FName + " is already up to date for this client."}
		case !samePath && !req.AllowOverwrite:
			return protocol.Message{
				"status":         protocol.StatusConflict,
				"message":        "Alias '" + req.FName + "' is already published for this client.",
				"existing_lname": existing.LName,
			}
		}
	}

	outcome, err := s.idx.Register(entry)
	if err != nil {
		s.log.Error().Err(err).Msg("register failed")
		return protocol.Error("internal error")
	}

	if !found {
		s.log.Info().Str("fname", req.FName).Msg("publishing new file")
		return protocol.Message{"status": protocol.StatusCreated, "message": "File " + req.FName + " published successfully", "result": outcome.String()}
	}
	s.log.Info().Str("fname", req.FName).Msg("overwrote published alias")
	return protocol.Message{"status": protocol.StatusUpdated, "message": "File " + req.FName + " metadata updated.", "result": outcome.String()}
}

func (s *session) handleFetch(msg protocol.Message) protocol.Message {
	req, ok := protocol.ParseFetch(msg)
	if !ok {
		return protocol.Error("Missing fname")
	}

	peers, err := s.idx.ListPeersFor(req.FName)
	if err != nil {
		s.log.Error().Err(err).Msg("list_peers_for failed")
		return protocol.Error("internal error")
	}

	peerList := make([]protocol.Message, 0, len(peers))
	for _, p := range peers {
		peerList = append(peerList, protocol.Message{
			"fname":         p.FName,
			"hostname":      p.Hostname,
			"ip":            p.IP,
			"port":          p.Port,
			"lname":         p.LName,
			"file_size":     p.FileSize,
			"last_modified": p.LastModified,
		})
	}
	return protocol.Success("", protocol.Message{"peer_list": peerList})
}

func (s *session) handleListSharedFiles() protocol.Message {
	files, err := s.idx.ListAllShared()
	if err != nil {
		s.log.Error().Err(err).Msg("list_all_shared failed")
		return protocol.Error("Unable to load shared files")
	}

	out := make([]protocol.Message, 0, len(files))
	for _, f := range files {
		out = append(out, protocol.Message{
			"fname":         f.FName,
			"peer_count":    f.PeerCount,
			"file_size":     f.FileSize,
			"last_modified": f.LastModified,
		})
	}
	return protocol.Success("", protocol.Message{"files": out})
}

// cleanup deregisters the session's identity (if hello ever completed) and
// closes the connection. It always runs, even on panics or early returns,
// so a crashed or disconnected peer never leaves stale directory rows.
func (s *session) cleanup(remote string) {
	if s.state == stateReady {
		s.active.Remove(s.identity)

		removed, err := s.idx.DeleteEntriesForPeer(s.identity.Hostname, s.identity.IP, s.identity.Port)
		if err != nil {
			s.log.Error().Err(err).Msg("deregistration failed")
		} else {
			total := 0
			for _, n := range removed {
				total += n
			}
			if total > 0 {
				s.log.Info().Int("count", total).Msg("deregistered file entries for disconnected client")
			}
		}
	}
	s.state = stateClosed
	s.conn.Close()
	s.log.Info().Str("peer", remote).Msg("closed connection")
}
