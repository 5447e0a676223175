package peernode

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/anhduc-dev/dirshare/internal/dirserver"
	"github.com/anhduc-dev/dirshare/internal/store"
)

func startTestDirServer(t *testing.T) *dirserver.Server {
	t.Helper()
	srv := dirserver.New("127.0.0.1:0", store.NewMemStore())
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen() error: %v", err)
	}
	go srv.Start()
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := ListenServing("127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	_, port := hostPort(t, ln.Addr())
	ln.Stop()
	return port
}

func TestConnectPublishDisconnect(t *testing.T) {
	srv := startTestDirServer(t)
	n := New()

	port := freePort(t)
	if err := n.Connect(srv.Addr(), port, "alpha"); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer n.Disconnect()

	if !n.Connected() {
		t.Fatal("Connected() = false after successful Connect")
	}

	dir := t.TempDir()
	localPath := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(localPath, []byte("hello"), 0644); err != nil {
		t.Fatalf("write local file: %v", err)
	}

	reply, err := n.Publish(localPath, "notes", false)
	if err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	if reply["status"] != "created" {
		t.Fatalf("Publish() reply = %v", reply)
	}

	peers, err := n.FetchPeerList("notes.txt")
	if err != nil {
		t.Fatalf("FetchPeerList() error: %v", err)
	}
	if len(peers) != 1 || peers[0].Hostname != "alpha" {
		t.Fatalf("FetchPeerList() = %v", peers)
	}

	files, err := n.ListSharedFiles()
	if err != nil {
		t.Fatalf("ListSharedFiles() error: %v", err)
	}
	if len(files) != 1 || files[0].FName != "notes.txt" {
		t.Fatalf("ListSharedFiles() = %v", files)
	}
}

func TestConnectTwiceConflicts(t *testing.T) {
	srv := startTestDirServer(t)
	n := New()
	port := freePort(t)

	if err := n.Connect(srv.Addr(), port, "beta"); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer n.Disconnect()

	if err := n.Connect(srv.Addr(), port, "beta"); err == nil {
		t.Fatal("second Connect() while already connected should fail")
	}
}

func TestDisconnectDeregistersFromServer(t *testing.T) {
	srv := startTestDirServer(t)
	n := New()
	port := freePort(t)

	if err := n.Connect(srv.Addr(), port, "gamma"); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	dir := t.TempDir()
	localPath := filepath.Join(dir, "a.bin")
	os.WriteFile(localPath, []byte("x"), 0644)
	if _, err := n.Publish(localPath, "a", false); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	n.Disconnect()
	if n.Connected() {
		t.Fatal("Connected() = true after Disconnect")
	}

	time.Sleep(50 * time.Millisecond)
	peers, err := srv.Index().ListPeersFor("a.bin")
	if err != nil {
		t.Fatalf("ListPeersFor() error: %v", err)
	}
	if len(peers) != 0 {
		t.Fatalf("ListPeersFor() after disconnect = %v, want empty", peers)
	}
}
