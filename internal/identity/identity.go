// Package identity allocates peer node identities (client name + p2p port)
// from a monotonically increasing, file-persisted counter, so repeated
// launches on one machine hand out distinct, stable identities without any
// user input.
package identity

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// basePort and portStep define the port formula: counter N maps to
// p2p_port = basePort + portStep*(N-1).
const (
	basePort = 1111
	portStep = 1111
)

// lockRetryInterval and lockRetryAttempts bound how long Allocate waits for
// another process's launcher to release the counter file's lock before
// giving up. Several peer launches racing to read-increment-write the same
// counter file must not hand out the same identity twice.
const (
	lockRetryInterval = 20 * time.Millisecond
	lockRetryAttempts = 250 // ~5s worst case
)

// Identity is an allocated (client_name, p2p_port) pair.
type Identity struct {
	Counter  int
	Name     string
	P2PPort  int
}

// Allocate reads the counter persisted at path, increments it, writes it
// back, and returns the identity for the new counter value. If path does
// not exist, allocation starts from counter 1.
//
// The read-increment-write sequence is guarded by an O_EXCL lock file
// alongside path, retried with a short backoff, so two peer launchers
// racing on the same counter file never hand out the same identity.
func Allocate(path string) (Identity, error) {
	unlock, err := acquireLock(path + ".lock")
	if err != nil {
		return Identity{}, err
	}
	defer unlock()

	counter, err := readCounter(path)
	if err != nil {
		return Identity{}, err
	}
	counter++

	if err := writeCounter(path, counter); err != nil {
		return Identity{}, err
	}

	return Identity{
		Counter: counter,
		Name:    EncodeName(counter),
		P2PPort: basePort + portStep*(counter-1),
	}, nil
}

// acquireLock creates lockPath exclusively, retrying on EEXIST until another
// holder releases it or lockRetryAttempts is exhausted. The returned func
// releases the lock by removing lockPath.
func acquireLock(lockPath string) (func(), error) {
	for attempt := 0; ; attempt++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			f.Close()
			return func() { os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("acquire identity counter lock: %w", err)
		}
		if attempt >= lockRetryAttempts {
			return nil, fmt.Errorf("acquire identity counter lock at %s: timed out waiting for another process to release it", lockPath)
		}
		time.Sleep(lockRetryInterval)
	}
}

// EncodeName renders n (n >= 1) as a base-26 spreadsheet-column-style name:
// 1 -> "a", 26 -> "z", 27 -> "aa", 28 -> "ab", etc.
func EncodeName(n int) string {
	if n < 1 {
		return ""
	}
	var sb strings.Builder
	letters := make([]byte, 0, 8)
	for n > 0 {
		n--
		letters = append(letters, byte('a'+n%26))
		n /= 26
	}
	for i := len(letters) - 1; i >= 0; i-- {
		sb.WriteByte(letters[i])
	}
	return sb.String()
}

func readCounter(path string) (int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read identity counter: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse identity counter at %s: %w", path, err)
	}
	return n, nil
}

func writeCounter(path string, n int) error {
	if err := os.WriteFile(path, []byte(strconv.Itoa(n)), 0644); err != nil {
		return fmt.Errorf("write identity counter: %w", err)
	}
	return nil
}
