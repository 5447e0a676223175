package peernode

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCoerceExtension(t *testing.T) {
	cases := []struct{ alias, localPath, want string }{
		{"report", "/a/report.pdf", "report.pdf"},
		{"report.txt", "/a/report.pdf", "report.pdf"},
		{"report", "/a/noext", "report"},
	}
	for _, c := range cases {
		if got := coerceExtension(c.alias, c.localPath); got != c.want {
			t.Errorf("coerceExtension(%q, %q) = %q, want %q", c.alias, c.localPath, got, c.want)
		}
	}
}

func TestUniqueDestPath(t *testing.T) {
	dir := t.TempDir()
	used := make(map[string]bool)

	first := uniqueDestPath(dir, "movie.mp4", used)
	if first != filepath.Join(dir, "movie.mp4") {
		t.Errorf("first uniqueDestPath = %q", first)
	}
	used[first] = true

	second := uniqueDestPath(dir, "movie.mp4", used)
	if second != filepath.Join(dir, "movie_1.mp4") {
		t.Errorf("second uniqueDestPath = %q", second)
	}
	used[second] = true

	third := uniqueDestPath(dir, "movie.mp4", used)
	if third != filepath.Join(dir, "movie_2.mp4") {
		t.Errorf("third uniqueDestPath = %q", third)
	}
}

func TestUniqueDestPathSkipsExistingFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "doc.pdf"), []byte("x"), 0644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	got := uniqueDestPath(dir, "doc.pdf", map[string]bool{})
	if got != filepath.Join(dir, "doc_1.pdf") {
		t.Errorf("uniqueDestPath with existing file = %q", got)
	}
}

func TestDownloadSelectedCollectsFailuresWithoutAborting(t *testing.T) {
	dir := t.TempDir()
	peers := []PeerRef{
		{Hostname: "ghost1", IP: "127.0.0.1", Port: 1, LName: "irrelevant.bin"},
		{Hostname: "ghost2", IP: "127.0.0.1", Port: 1, LName: "irrelevant2.bin"},
	}

	results := DownloadSelected(peers, dir)
	if len(results) != 2 {
		t.Fatalf("DownloadSelected() returned %d results, want 2", len(results))
	}
	for _, r := range results {
		if r.Err == nil {
			t.Errorf("expected dial failure for %s, got nil error", r.Peer.Hostname)
		}
	}
	if results[0].Destination == results[1].Destination {
		t.Errorf("destinations collided: %q", results[0].Destination)
	}
}
