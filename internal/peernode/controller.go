package peernode

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anhduc-dev/dirshare/internal/protocol"
)

// sharedFilesPollInterval is how often Node.PollSharedFiles refreshes
// its cached view while connected.
const sharedFilesPollInterval = 5 * time.Second

// downloadConnectTimeout bounds the peer-to-peer dial in DownloadFromPeer.
const downloadConnectTimeout = 10 * time.Second

// PeerRef is one entry of a fetch's peer_list: where to find a file and
// what local name the owning peer stores it under.
type PeerRef struct {
	Hostname string
	IP       string
	Port     int
	LName    string
}

// Publish announces localPath under alias to the directory server. fname is
// coerced to share localPath's extension, replacing alias's own if present.
func (n *Node) Publish(localPath, alias string, allowOverwrite bool) (protocol.Message, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("local path does not exist: %w", err)
	}

	fname := coerceExtension(alias, localPath)
	msg := protocol.Message{
		"action":          protocol.ActionPublish,
		"lname":           localPath,
		"fname":           fname,
		"file_size":       info.Size(),
		"last_modified":   time.Now().UTC().Format("2006-01-02T15:04:05Z"),
		"allow_overwrite": allowOverwrite,
	}
	return n.sendRecv(msg)
}

// coerceExtension replaces alias's extension with localPath's, if
// localPath has one.
func coerceExtension(alias, localPath string) string {
	ext := filepath.Ext(localPath)
	if ext == "" {
		return alias
	}
	base := strings.TrimSuffix(alias, filepath.Ext(alias))
	return base + ext
}

// FetchPeerList asks the directory server who holds fname.
func (n *Node) FetchPeerList(fname string) ([]PeerRef, error) {
	reply, err := n.sendRecv(protocol.Message{"action": protocol.ActionFetch, "fname": fname})
	if err != nil {
		return nil, err
	}
	if reply["status"] != protocol.StatusSuccess {
		return nil, fmt.Errorf("fetch failed: %v", reply["message"])
	}

	raw, _ := reply["peer_list"].([]any)
	out := make([]PeerRef, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		port, _ := m["port"].(float64)
		hostname, _ := m["hostname"].(string)
		ip, _ := m["ip"].(string)
		lname, _ := m["lname"].(string)
		out = append(out, PeerRef{Hostname: hostname, IP: ip, Port: int(port), LName: lname})
	}
	return out, nil
}

// SharedFile mirrors the directory's list_all_shared aggregate row.
type SharedFile struct {
	FName        string
	PeerCount    int
	FileSize     int64
	LastModified string
}

// ListSharedFiles asks the directory server for the full catalog.
func (n *Node) ListSharedFiles() ([]SharedFile, error) {
	reply, err := n.sendRecv(protocol.Message{"action": protocol.ActionListSharedFiles})
	if err != nil {
		return nil, err
	}
	if reply["status"] != protocol.StatusSuccess {
		return nil, fmt.Errorf("list_shared_files failed: %v", reply["message"])
	}
	raw, ok := reply["files"].([]any)
	if !ok {
		return nil, fmt.Errorf("list_shared_files returned a non-list files field")
	}

	out := make([]SharedFile, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		peerCount, _ := m["peer_count"].(float64)
		fileSize, _ := m["file_size"].(float64)
		fname, _ := m["fname"].(string)
		lastMod, _ := m["last_modified"].(string)
		out = append(out, SharedFile{FName: fname, PeerCount: int(peerCount), FileSize: int64(fileSize), LastModified: lastMod})
	}
	return out, nil
}

// PollSharedFiles requests list_shared_files on an initial call and every
// sharedFilesPollInterval afterward, delivering each successful result to
// onUpdate, until stop is closed. At most one request is ever in flight.
func (n *Node) PollSharedFiles(stop <-chan struct{}, onUpdate func([]SharedFile)) {
	ticker := time.NewTicker(sharedFilesPollInterval)
	defer ticker.Stop()

	poll := func() {
		files, err := n.ListSharedFiles()
		if err == nil {
			onUpdate(files)
		}
	}

	poll()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			poll()
		}
	}
}

// DownloadFromPeer opens a raw connection to peer, requests its lname, and
// streams the unframed response into destination until end-of-stream. A
// partial file left by a timeout or mid-transfer error is not cleaned up;
// callers that care must remove it themselves.
func DownloadFromPeer(peer PeerRef, destination string) error {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", peer.IP, peer.Port), downloadConnectTimeout)
	if err != nil {
		return fmt.Errorf("dial peer %s: %w", peer.Hostname, err)
	}
	defer conn.Close()

	if err := protocol.Encode(conn, protocol.Message{"action": protocol.ActionGetFile, "lname": peer.LName}); err != nil {
		return fmt.Errorf("send get_file: %w", err)
	}

	out, err := os.Create(destination)
	if err != nil {
		return fmt.Errorf("create destination %s: %w", destination, err)
	}
	defer out.Close()

	buf := make([]byte, chunkSize)
	for {
		n, rerr := conn.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write destination: %w", werr)
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("read from peer: %w", rerr)
		}
	}
}

// DownloadResult reports the outcome of one peer selection in a multi-peer
// fetch.
type DownloadResult struct {
	Peer        PeerRef
	Destination string
	Err         error
}

// DownloadSelected computes a unique destination path per peer (appending
// "_1", "_2", ... to the base name until free) inside destDir and performs
// the downloads sequentially. A failure on one selection does not abort the
// rest; all results — successes and failures — are returned together.
func DownloadSelected(peers []PeerRef, destDir string) []DownloadResult {
	results := make([]DownloadResult, 0, len(peers))
	used := make(map[string]bool)

	for _, p := range peers {
		dest := uniqueDestPath(destDir, filepath.Base(p.LName), used)
		used[dest] = true

		err := DownloadFromPeer(p, dest)
		results = append(results, DownloadResult{Peer: p, Destination: dest, Err: err})
	}
	return results
}

// uniqueDestPath finds a filename in dir not in used and not already on
// disk, appending _1, _2, ... before the extension as needed.
func uniqueDestPath(dir, base string, used map[string]bool) string {
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	candidate := filepath.Join(dir, base)
	for i := 1; ; i++ {
		if !used[candidate] {
			if _, err := os.Stat(candidate); os.IsNotExist(err) {
				return candidate
			}
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
	}
}
