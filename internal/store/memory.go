package store

import (
	"sort"
	"strings"
	"sync"
)

// MemStore implements DB with an in-memory map, guarded by a mutex so it
// is safe for the concurrent directory sessions that use it in tests
// (unlike the single-writer test fakes it's adapted from).
type MemStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemStore creates a new in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

func (m *MemStore) Get(key []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(key)
}

func (m *MemStore) getLocked(key []byte) ([]byte, error) {
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemStore) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putLocked(key, value)
}

func (m *MemStore) putLocked(key, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	m.data[string(key)] = v
	return nil
}

func (m *MemStore) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(key)
}

func (m *MemStore) deleteLocked(key []byte) error {
	delete(m.data, string(key))
	return nil
}

func (m *MemStore) Has(key []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasLocked(key)
}

func (m *MemStore) hasLocked(key []byte) (bool, error) {
	_, ok := m.data[string(key)]
	return ok, nil
}

func (m *MemStore) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forEachLocked(prefix, fn)
}

// forEachLocked visits every key with the given prefix in ascending byte
// order, matching Badger's sorted iteration so callers that rely on key
// order (e.g. ListPeersFor's (hostname, ip, port) ordering) behave the
// same against either backend.
func (m *MemStore) forEachLocked(prefix []byte, fn func(key, value []byte) error) error {
	p := string(prefix)
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if strings.HasPrefix(k, p) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn([]byte(k), m.data[k]); err != nil {
			return err
		}
	}
	return nil
}

// Update runs fn while holding the store's mutex for its whole duration,
// emulating Badger's transaction atomicity for an in-memory backend that
// has no native transaction support.
func (m *MemStore) Update(fn func(txn DB) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&memTxn{store: m})
}

func (m *MemStore) Close() error {
	return nil
}

// memTxn is the DB view handed to Update's callback; it reuses the
// *Locked helpers (getLocked, putLocked, ...) since the outer mutex is held for the
// whole transaction.
type memTxn struct {
	store *MemStore
}

func (t *memTxn) Get(key []byte) ([]byte, error) { return t.store.getLocked(key) }
func (t *memTxn) Put(key, value []byte) error    { return t.store.putLocked(key, value) }
func (t *memTxn) Delete(key []byte) error        { return t.store.deleteLocked(key) }
func (t *memTxn) Has(key []byte) (bool, error)    { return t.store.hasLocked(key) }
func (t *memTxn) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return t.store.forEachLocked(prefix, fn)
}
func (t *memTxn) Update(fn func(txn DB) error) error { return fn(t) }
func (t *memTxn) Close() error                        { return nil }
