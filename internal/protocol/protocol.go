// Package protocol implements the framed length-prefixed message codec
// shared by the directory control stream and the peer-to-peer data stream.
//
// Every message is a 4-byte big-endian unsigned length L followed by
// exactly L bytes of UTF-8 JSON encoding a string-keyed object. There is
// no back-channel and no embedded zero-length framing.
package protocol

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// maxFrameSize bounds the length prefix to guard against a malicious or
// corrupt peer claiming an absurd body size.
const maxFrameSize = 64 << 20 // 64 MiB

// ErrFrameTooLarge is returned when a decoded length prefix exceeds maxFrameSize.
var ErrFrameTooLarge = errors.New("protocol: frame exceeds maximum size")

// ErrShortFrame wraps io.ErrUnexpectedEOF and is returned when the stream
// closes partway through a header or body, as opposed to cleanly between
// frames (reported as io.EOF). Callers use errors.Is(err, io.EOF) to tell
// "no more messages" apart from "the peer misbehaved mid-frame".
var ErrShortFrame = fmt.Errorf("protocol: truncated frame: %w", io.ErrUnexpectedEOF)

// Message is the untyped wire representation: a JSON object with string keys.
type Message map[string]any

// Encode writes one framed message to w. The header and body are written
// in a single Write call so the frame cannot be observed half-written by
// a concurrent reader on the same logical stream.
func Encode(w io.Writer, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("protocol: marshal message: %w", err)
	}

	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(body)))
	copy(buf[4:], body)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("protocol: write frame: %w", err)
	}
	return nil
}

// Decode reads one framed message from r. It returns io.EOF (unwrapped,
// checkable with errors.Is) when the stream closes cleanly before any
// bytes of a new frame arrive. Any other short read — the stream closing
// mid-header or mid-body — is reported as a distinct, wrapped error so
// callers can tell "no more messages" apart from "the peer misbehaved."
func Decode(r io.Reader) (Message, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, ErrShortFrame
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > maxFrameSize {
		return nil, ErrFrameTooLarge
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, ErrShortFrame
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("protocol: decode json: %w", err)
	}
	return msg, nil
}

// NewReader wraps r with buffering sized for the small control-stream
// messages this protocol carries. Peer data streams (raw file bytes) never
// go through a NewReader reader after the initial get_file request frame.
func NewReader(r io.Reader) *bufio.Reader {
	return bufio.NewReaderSize(r, 4096)
}
