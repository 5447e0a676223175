package dirserver

import (
	"net"
	"testing"
	"time"

	"github.com/anhduc-dev/dirshare/internal/protocol"
	"github.com/anhduc-dev/dirshare/internal/store"
)

// dialWithRetry tolerates the small race between srv.Start() launching in
// its own goroutine and the listener actually accepting connections.
func dialWithRetry(addr string) (net.Conn, error) {
	var lastErr error
	for i := 0; i < 20; i++ {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		time.Sleep(10 * time.Millisecond)
	}
	return nil, lastErr
}

func startTestServer(t *testing.T) *Server {
	t.Helper()
	srv := New("127.0.0.1:0", store.NewMemStore())
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen() error: %v", err)
	}
	go srv.Start()
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func dialAndHello(t *testing.T, addr, hostname string, p2pPort int) *session {
	t.Helper()
	conn, err := dialWithRetry(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := protocol.Encode(conn, protocol.Message{"action": protocol.ActionHello, "hostname": hostname, "p2p_port": p2pPort}); err != nil {
		t.Fatalf("encode hello: %v", err)
	}
	reply, err := protocol.Decode(protocol.NewReader(conn))
	if err != nil {
		t.Fatalf("decode hello reply: %v", err)
	}
	if reply["status"] != protocol.StatusSuccess {
		t.Fatalf("hello reply = %v", reply)
	}
	return &session{conn: conn, r: protocol.NewReader(conn)}
}

func TestServerPublishFetchAndDeregister(t *testing.T) {
	srv := startTestServer(t)

	s1 := dialAndHello(t, srv.Addr(), "alpha", 5000)
	defer s1.conn.Close()

	if err := protocol.Encode(s1.conn, protocol.Message{
		"action": protocol.ActionPublish, "fname": "movie.mp4", "lname": "/home/alpha/movie.mp4",
		"file_size": 1024, "last_modified": "2024-01-01T00:00:00Z",
	}); err != nil {
		t.Fatalf("encode publish: %v", err)
	}
	reply, err := protocol.Decode(s1.r)
	if err != nil {
		t.Fatalf("decode publish reply: %v", err)
	}
	if reply["status"] != protocol.StatusCreated {
		t.Fatalf("publish reply = %v", reply)
	}

	s2 := dialAndHello(t, srv.Addr(), "beta", 5001)
	defer s2.conn.Close()

	if err := protocol.Encode(s2.conn, protocol.Message{"action": protocol.ActionFetch, "fname": "movie.mp4"}); err != nil {
		t.Fatalf("encode fetch: %v", err)
	}
	reply, err = protocol.Decode(s2.r)
	if err != nil {
		t.Fatalf("decode fetch reply: %v", err)
	}
	peerList, _ := reply["peer_list"].([]any)
	if len(peerList) != 1 {
		t.Fatalf("fetch peer_list = %v, want 1 entry", reply["peer_list"])
	}

	// Close s1's connection, triggering deregistration.
	s1.conn.Close()
	time.Sleep(100 * time.Millisecond)

	if err := protocol.Encode(s2.conn, protocol.Message{"action": protocol.ActionFetch, "fname": "movie.mp4"}); err != nil {
		t.Fatalf("encode fetch: %v", err)
	}
	reply, err = protocol.Decode(s2.r)
	if err != nil {
		t.Fatalf("decode fetch reply after disconnect: %v", err)
	}
	peerList, _ = reply["peer_list"].([]any)
	if len(peerList) != 0 {
		t.Fatalf("fetch peer_list after disconnect = %v, want empty", reply["peer_list"])
	}
}

func TestServerPublishUnchangedConflictOverwrite(t *testing.T) {
	srv := startTestServer(t)
	s := dialAndHello(t, srv.Addr(), "alpha", 5000)
	defer s.conn.Close()

	publish := func(lname string, allowOverwrite bool) protocol.Message {
		if err := protocol.Encode(s.conn, protocol.Message{
			"action": protocol.ActionPublish, "fname": "r.pdf", "lname": lname,
			"file_size": 12, "last_modified": "2024-11-04T00:00:00Z", "allow_overwrite": allowOverwrite,
		}); err != nil {
			t.Fatalf("encode publish: %v", err)
		}
		reply, err := protocol.Decode(s.r)
		if err != nil {
			t.Fatalf("decode publish reply: %v", err)
		}
		return reply
	}

	// First publish: no prior entry, so "created" with a result field.
	reply := publish("/a/r.pdf", false)
	if reply["status"] != protocol.StatusCreated {
		t.Fatalf("first publish = %v, want status created", reply)
	}
	if reply["result"] != "inserted" {
		t.Fatalf("first publish result = %v, want \"inserted\"", reply["result"])
	}

	// Republish with identical (fname, lname, file_size, last_modified):
	// unchanged, store untouched.
	reply = publish("/a/r.pdf", false)
	if reply["status"] != protocol.StatusUnchanged {
		t.Fatalf("identical republish = %v, want status unchanged", reply)
	}
	entry, found, err := srv.Index().Get("r.pdf", "alpha", "127.0.0.1", 5000)
	if err != nil || !found || entry.LName != "/a/r.pdf" {
		t.Fatalf("store after unchanged republish = %+v, %v, %v", entry, found, err)
	}

	// Different lname, allow_overwrite false: conflict, store untouched.
	reply = publish("/b/r.pdf", false)
	if reply["status"] != protocol.StatusConflict {
		t.Fatalf("conflicting republish = %v, want status conflict", reply)
	}
	if reply["existing_lname"] != "/a/r.pdf" {
		t.Fatalf("conflict reply existing_lname = %v, want /a/r.pdf", reply["existing_lname"])
	}
	entry, found, err = srv.Index().Get("r.pdf", "alpha", "127.0.0.1", 5000)
	if err != nil || !found || entry.LName != "/a/r.pdf" {
		t.Fatalf("store after conflicting republish = %+v, %v, %v", entry, found, err)
	}

	// Different lname, allow_overwrite true: updated, result field present.
	reply = publish("/b/r.pdf", true)
	if reply["status"] != protocol.StatusUpdated {
		t.Fatalf("overwrite republish = %v, want status updated", reply)
	}
	if reply["result"] != "updated" {
		t.Fatalf("overwrite republish result = %v, want \"updated\"", reply["result"])
	}
	entry, found, err = srv.Index().Get("r.pdf", "alpha", "127.0.0.1", 5000)
	if err != nil || !found || entry.LName != "/b/r.pdf" {
		t.Fatalf("store after overwrite = %+v, %v, %v", entry, found, err)
	}
}

func TestServerPingAndInvalidAction(t *testing.T) {
	srv := startTestServer(t)
	s := dialAndHello(t, srv.Addr(), "gamma", 6000)
	defer s.conn.Close()

	if err := protocol.Encode(s.conn, protocol.Message{"action": protocol.ActionPing}); err != nil {
		t.Fatalf("encode ping: %v", err)
	}
	reply, err := protocol.Decode(s.r)
	if err != nil || reply["message"] != "pong" {
		t.Fatalf("ping reply = %v, %v", reply, err)
	}

	if err := protocol.Encode(s.conn, protocol.Message{"action": "bogus"}); err != nil {
		t.Fatalf("encode bogus: %v", err)
	}
	reply, err = protocol.Decode(s.r)
	if err != nil || reply["status"] != protocol.StatusError {
		t.Fatalf("bogus action reply = %v, %v", reply, err)
	}
}

func TestServerRejectsMissingHello(t *testing.T) {
	srv := startTestServer(t)
	conn, err := dialWithRetry(srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := protocol.Encode(conn, protocol.Message{"action": protocol.ActionPing}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	reply, err := protocol.Decode(protocol.NewReader(conn))
	if err != nil || reply["status"] != protocol.StatusError {
		t.Fatalf("reply = %v, %v, want error", reply, err)
	}
}

func TestAdminDiscoverPingListActive(t *testing.T) {
	srv := startTestServer(t)

	s1 := dialAndHello(t, srv.Addr(), "alpha", 5000)
	defer s1.conn.Close()
	if err := protocol.Encode(s1.conn, protocol.Message{
		"action": protocol.ActionPublish, "fname": "doc.pdf", "lname": "/a/doc.pdf",
		"file_size": 1, "last_modified": "t",
	}); err != nil {
		t.Fatalf("encode publish: %v", err)
	}
	if _, err := protocol.Decode(s1.r); err != nil {
		t.Fatalf("decode publish reply: %v", err)
	}

	files, err := srv.Discover("alpha")
	if err != nil || len(files) != 1 || files[0] != "doc.pdf" {
		t.Fatalf("Discover() = %v, %v", files, err)
	}

	pings := srv.Ping("alpha")
	if len(pings) != 1 || pings[0].Port != 5000 {
		t.Fatalf("Ping() = %v", pings)
	}

	active := srv.ListActive()
	if len(active) != 1 || active[0].Hostname != "alpha" {
		t.Fatalf("ListActive() = %v", active)
	}
}
