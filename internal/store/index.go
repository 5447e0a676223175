package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/anhduc-dev/dirshare/pkg/types"
)

// key prefixes within the DB keyspace.
const (
	entryPrefix = "e\x00" // e\x00fname\x00hostname\x00ip\x00port -> FileEntry JSON
	peerPrefix  = "p\x00" // p\x00hostname\x00ip\x00port\x00fname -> "" (secondary index)
	sep         = "\x00"
)

// RegisterOutcome reports whether Register inserted a new row or updated
// an existing one.
type RegisterOutcome int

const (
	Inserted RegisterOutcome = iota
	Updated
)

// String renders the outcome the way the directory session forwards it to
// the publishing peer in the reply's "result" field.
func (o RegisterOutcome) String() string {
	if o == Updated {
		return "updated"
	}
	return "inserted"
}

// Index is the peer×file metadata index required by spec: a composite-key
// directory of FileEntry rows, layered over a DB the way the teacher's
// PrefixDB layers a namespace over a raw DB.
type Index struct {
	db DB
}

// NewIndex wraps db with the directory's composite-key encoding.
func NewIndex(db DB) *Index {
	return &Index{db: db}
}

// Close releases the underlying store.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// portStr zero-pads port to a fixed 5-digit width so that lexicographic
// key order agrees with numeric port order (ports fit in 16 bits, so 5
// digits always suffices).
func portStr(port int) string {
	return fmt.Sprintf("%05d", port)
}

func entryKey(fname, hostname, ip string, port int) []byte {
	return []byte(entryPrefix + fname + sep + hostname + sep + ip + sep + portStr(port))
}

func entryKeyPrefixForFile(fname string) []byte {
	return []byte(entryPrefix + fname + sep)
}

func peerKey(hostname, ip string, port int, fname string) []byte {
	return []byte(peerPrefix + hostname + sep + ip + sep + portStr(port) + sep + fname)
}

func peerKeyPrefix(hostname, ip string, port int) []byte {
	return []byte(peerPrefix + hostname + sep + ip + sep + portStr(port) + sep)
}

func hostnamePeerKeyPrefix(hostname string) []byte {
	return []byte(peerPrefix + hostname + sep)
}

// Register upserts entry by its (fname, hostname, ip, port) key, reporting
// whether it created a new row or updated an existing one.
func (idx *Index) Register(entry types.FileEntry) (RegisterOutcome, error) {
	var outcome RegisterOutcome
	err := idx.db.Update(func(txn DB) error {
		key := entryKey(entry.FName, entry.Hostname, entry.IP, entry.Port)
		existed, err := txn.Has(key)
		if err != nil {
			return err
		}
		if existed {
			outcome = Updated
		} else {
			outcome = Inserted
		}

		body, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		if err := txn.Put(key, body); err != nil {
			return err
		}
		return txn.Put(peerKey(entry.Hostname, entry.IP, entry.Port, entry.FName), nil)
	})
	return outcome, err
}

// Get returns the entry registered under (fname, hostname, ip, port), or
// (zero, false, nil) if no such entry exists.
func (idx *Index) Get(fname, hostname, ip string, port int) (types.FileEntry, bool, error) {
	body, err := idx.db.Get(entryKey(fname, hostname, ip, port))
	if err == ErrNotFound {
		return types.FileEntry{}, false, nil
	}
	if err != nil {
		return types.FileEntry{}, false, err
	}
	var entry types.FileEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		return types.FileEntry{}, false, fmt.Errorf("unmarshal entry: %w", err)
	}
	return entry, true, nil
}

// ListPeersFor returns every entry advertising fname, ordered by
// (hostname, ip, port) — the natural order of the composite key.
func (idx *Index) ListPeersFor(fname string) ([]types.FileEntry, error) {
	var entries []types.FileEntry
	err := idx.db.ForEach(entryKeyPrefixForFile(fname), func(_, value []byte) error {
		var entry types.FileEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			return fmt.Errorf("unmarshal entry: %w", err)
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ListAllShared aggregates the index by fname: peer_count = COUNT(*),
// file_size/last_modified = the max observed across peers, ordered by
// fname. Display-only per spec — not used for any directory decision.
func (idx *Index) ListAllShared() ([]types.SharedFile, error) {
	agg := make(map[string]*types.SharedFile)
	var order []string

	err := idx.db.ForEach([]byte(entryPrefix), func(_, value []byte) error {
		var entry types.FileEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			return fmt.Errorf("unmarshal entry: %w", err)
		}
		sf, ok := agg[entry.FName]
		if !ok {
			sf = &types.SharedFile{FName: entry.FName}
			agg[entry.FName] = sf
			order = append(order, entry.FName)
		}
		sf.PeerCount++
		if entry.FileSize > sf.FileSize {
			sf.FileSize = entry.FileSize
		}
		if entry.LastModified > sf.LastModified {
			sf.LastModified = entry.LastModified
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(order)
	out := make([]types.SharedFile, 0, len(order))
	for _, fname := range order {
		out = append(out, *agg[fname])
	}
	return out, nil
}

// ListFilesByHostname returns the distinct fnames published by hostname,
// ordered.
func (idx *Index) ListFilesByHostname(hostname string) ([]string, error) {
	seen := make(map[string]bool)
	err := idx.db.ForEach(hostnamePeerKeyPrefix(hostname), func(key, _ []byte) error {
		// key: p\x00hostname\x00ip\x00port\x00fname
		parts := strings.SplitN(string(key), sep, 5)
		if len(parts) != 5 {
			return nil
		}
		seen[parts[4]] = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(seen))
	for fname := range seen {
		out = append(out, fname)
	}
	sort.Strings(out)
	return out, nil
}

// DeleteEntriesForPeer removes every row owned by (hostname, ip, port) and
// returns the number of rows removed per fname. All reads and writes run
// inside one transaction so a concurrent fetch never observes a
// half-completed deregistration.
func (idx *Index) DeleteEntriesForPeer(hostname, ip string, port int) (map[string]int, error) {
	removed := make(map[string]int)
	err := idx.db.Update(func(txn DB) error {
		var fnames []string
		if err := txn.ForEach(peerKeyPrefix(hostname, ip, port), func(key, _ []byte) error {
			parts := strings.SplitN(string(key), sep, 5)
			if len(parts) != 5 {
				return nil
			}
			fnames = append(fnames, parts[4])
			return nil
		}); err != nil {
			return err
		}

		for _, fname := range fnames {
			if err := txn.Delete(entryKey(fname, hostname, ip, port)); err != nil {
				return err
			}
			if err := txn.Delete(peerKey(hostname, ip, port, fname)); err != nil {
				return err
			}
			removed[fname]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// FetchAll returns every entry in the index, in no particular order.
func (idx *Index) FetchAll() ([]types.FileEntry, error) {
	var entries []types.FileEntry
	err := idx.db.ForEach([]byte(entryPrefix), func(_, value []byte) error {
		var entry types.FileEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			return fmt.Errorf("unmarshal entry: %w", err)
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
