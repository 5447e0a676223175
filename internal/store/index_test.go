package store

import (
	"testing"

	"github.com/anhduc-dev/dirshare/pkg/types"
)

func entry(fname, hostname, ip string, port int, lname string, size int64, mtime string) types.FileEntry {
	return types.FileEntry{
		FName: fname, Hostname: hostname, IP: ip, Port: port,
		LName: lname, FileSize: size, LastModified: mtime,
	}
}

// testIndex runs the shared test suite against an Index backed by db.
func testIndex(t *testing.T, db DB) {
	t.Helper()
	idx := NewIndex(db)

	t.Run("RegisterInsertsThenUpdates", func(t *testing.T) {
		outcome, err := idx.Register(entry("a.txt", "alpha", "127.0.0.1", 4000, "/tmp/a.txt", 12, "2024-11-04T00:00:00Z"))
		if err != nil {
			t.Fatalf("Register() error: %v", err)
		}
		if outcome != Inserted {
			t.Errorf("Register() outcome = %v, want Inserted", outcome)
		}

		outcome, err = idx.Register(entry("a.txt", "alpha", "127.0.0.1", 4000, "/tmp/a2.txt", 99, "2024-11-05T00:00:00Z"))
		if err != nil {
			t.Fatalf("Register() error: %v", err)
		}
		if outcome != Updated {
			t.Errorf("Register() outcome = %v, want Updated", outcome)
		}

		got, ok, err := idx.Get("a.txt", "alpha", "127.0.0.1", 4000)
		if err != nil || !ok {
			t.Fatalf("Get() = %v, %v, %v", got, ok, err)
		}
		if got.LName != "/tmp/a2.txt" || got.FileSize != 99 {
			t.Errorf("Get() after update = %+v", got)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, ok, err := idx.Get("nope.txt", "alpha", "127.0.0.1", 4000)
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		if ok {
			t.Error("Get() for missing entry should return ok=false")
		}
	})

	t.Run("ListPeersForOrdering", func(t *testing.T) {
		idx.Register(entry("shared.iso", "zeta", "10.0.0.3", 5000, "/z", 1, "t"))
		idx.Register(entry("shared.iso", "alpha", "10.0.0.1", 6000, "/a1", 1, "t"))
		idx.Register(entry("shared.iso", "alpha", "10.0.0.1", 5000, "/a2", 1, "t"))

		peers, err := idx.ListPeersFor("shared.iso")
		if err != nil {
			t.Fatalf("ListPeersFor() error: %v", err)
		}
		if len(peers) != 3 {
			t.Fatalf("ListPeersFor() returned %d entries, want 3", len(peers))
		}
		for i := 1; i < len(peers); i++ {
			prev, cur := peers[i-1], peers[i]
			if prev.Hostname > cur.Hostname ||
				(prev.Hostname == cur.Hostname && prev.IP > cur.IP) ||
				(prev.Hostname == cur.Hostname && prev.IP == cur.IP && prev.Port > cur.Port) {
				t.Errorf("ListPeersFor() not ordered by (hostname,ip,port): %+v before %+v", prev, cur)
			}
		}
	})

	t.Run("ListAllSharedAggregates", func(t *testing.T) {
		idx.Register(entry("movie.mp4", "alpha", "127.0.0.1", 4001, "/m1", 1000, "2024-01-01T00:00:00Z"))
		idx.Register(entry("movie.mp4", "beta", "127.0.0.1", 4002, "/m2", 2000, "2024-02-01T00:00:00Z"))

		files, err := idx.ListAllShared()
		if err != nil {
			t.Fatalf("ListAllShared() error: %v", err)
		}
		var found *types.SharedFile
		for i := range files {
			if files[i].FName == "movie.mp4" {
				found = &files[i]
			}
		}
		if found == nil {
			t.Fatal("ListAllShared() did not include movie.mp4")
		}
		if found.PeerCount != 2 {
			t.Errorf("PeerCount = %d, want 2", found.PeerCount)
		}
		if found.FileSize != 2000 {
			t.Errorf("FileSize = %d, want max 2000", found.FileSize)
		}
		for i := 1; i < len(files); i++ {
			if files[i-1].FName > files[i].FName {
				t.Errorf("ListAllShared() not ordered by fname")
			}
		}
	})

	t.Run("ListFilesByHostname", func(t *testing.T) {
		idx.Register(entry("doc.pdf", "gamma", "127.0.0.1", 7000, "/d", 1, "t"))
		idx.Register(entry("doc2.pdf", "gamma", "127.0.0.1", 7000, "/d2", 1, "t"))

		files, err := idx.ListFilesByHostname("gamma")
		if err != nil {
			t.Fatalf("ListFilesByHostname() error: %v", err)
		}
		if len(files) != 2 || files[0] != "doc.pdf" || files[1] != "doc2.pdf" {
			t.Errorf("ListFilesByHostname() = %v", files)
		}

		none, err := idx.ListFilesByHostname("nobody")
		if err != nil || len(none) != 0 {
			t.Errorf("ListFilesByHostname(nobody) = %v, %v", none, err)
		}
	})

	t.Run("DeleteEntriesForPeer", func(t *testing.T) {
		idx.Register(entry("x1.txt", "delta", "127.0.0.1", 8000, "/x1", 1, "t"))
		idx.Register(entry("x2.txt", "delta", "127.0.0.1", 8000, "/x2", 1, "t"))
		idx.Register(entry("x1.txt", "epsilon", "127.0.0.1", 9000, "/other", 1, "t"))

		removed, err := idx.DeleteEntriesForPeer("delta", "127.0.0.1", 8000)
		if err != nil {
			t.Fatalf("DeleteEntriesForPeer() error: %v", err)
		}
		if removed["x1.txt"] != 1 || removed["x2.txt"] != 1 {
			t.Errorf("DeleteEntriesForPeer() removed = %v", removed)
		}
		total := 0
		for _, n := range removed {
			total += n
		}
		if total != 2 {
			t.Errorf("DeleteEntriesForPeer() total removed = %d, want 2", total)
		}

		if _, ok, _ := idx.Get("x1.txt", "delta", "127.0.0.1", 8000); ok {
			t.Error("deleted entry still present")
		}
		if _, ok, _ := idx.Get("x1.txt", "epsilon", "127.0.0.1", 9000); !ok {
			t.Error("unrelated peer's entry was wrongly removed")
		}

		peers, err := idx.ListPeersFor("x1.txt")
		if err != nil {
			t.Fatalf("ListPeersFor() error: %v", err)
		}
		for _, p := range peers {
			if p.Hostname == "delta" {
				t.Error("list_peers_for still mentions the deregistered peer")
			}
		}
	})

	t.Run("DeleteEntriesForPeerNoRows", func(t *testing.T) {
		removed, err := idx.DeleteEntriesForPeer("nobody", "0.0.0.0", 1)
		if err != nil {
			t.Fatalf("DeleteEntriesForPeer() error: %v", err)
		}
		if len(removed) != 0 {
			t.Errorf("DeleteEntriesForPeer() on empty peer = %v, want empty", removed)
		}
	})

	t.Run("FetchAll", func(t *testing.T) {
		all, err := idx.FetchAll()
		if err != nil {
			t.Fatalf("FetchAll() error: %v", err)
		}
		if len(all) == 0 {
			t.Error("FetchAll() returned no entries after prior registrations")
		}
	})
}

func TestIndexOverMemStore(t *testing.T) {
	db := NewMemStore()
	defer db.Close()
	testIndex(t, db)
}

func TestIndexOverBadgerStore(t *testing.T) {
	dir := t.TempDir()
	db, err := OpenBadger(dir)
	if err != nil {
		t.Fatalf("OpenBadger() error: %v", err)
	}
	defer db.Close()
	testIndex(t, db)
}

func TestIndexPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	db1, err := OpenBadger(dir)
	if err != nil {
		t.Fatalf("OpenBadger() error: %v", err)
	}
	idx1 := NewIndex(db1)
	idx1.Register(entry("keep.bin", "alpha", "127.0.0.1", 4000, "/keep", 42, "2024-01-01T00:00:00Z"))
	db1.Close()

	db2, err := OpenBadger(dir)
	if err != nil {
		t.Fatalf("OpenBadger() reopen error: %v", err)
	}
	defer db2.Close()
	idx2 := NewIndex(db2)

	got, ok, err := idx2.Get("keep.bin", "alpha", "127.0.0.1", 4000)
	if err != nil || !ok {
		t.Fatalf("Get() after reopen = %v, %v, %v", got, ok, err)
	}
	if got.FileSize != 42 {
		t.Errorf("persisted entry FileSize = %d, want 42", got.FileSize)
	}
}
