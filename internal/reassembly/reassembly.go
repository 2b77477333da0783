// Package reassembly reconstructs TLS handshake messages from the
// record layer. It accumulates record fragments per 4-tuple until a
// complete Client Hello is available, skipping interleaved
// non-handshake records, and signals sessions that end before the
// declared handshake length is reached.
package reassembly

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ccie14019/shadow-ai-signatures/internal/capture"
)

const (
	recordHeaderLen    = 5
	handshakeHeaderLen = 4

	contentTypeHandshake = 22
	handshakeClientHello = 1

	// Record payloads are bounded by RFC 8446 (2^14 plus expansion
	// slack some stacks emit).
	maxRecordLen = 1<<14 + 256

	maxHandshakeLen = 1 << 16
)

var (
	// ErrNotAHandshake marks a session whose first record is not a
	// TLS handshake record or whose first handshake message is not a
	// Client Hello. The session is discarded, not retried.
	ErrNotAHandshake = errors.New("reassembly: not a TLS handshake")

	// ErrIncompleteSession marks a session that ended before the
	// declared handshake length arrived.
	ErrIncompleteSession = errors.New("reassembly: incomplete session")
)

// Handshake is the reassembled first handshake message of one session,
// including the 4-byte handshake header.
type Handshake struct {
	Key capture.FlowKey
	Raw []byte
}

// SessionError localizes a per-session failure to its 4-tuple.
type SessionError struct {
	Key capture.FlowKey
	Err error
}

func (e SessionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Key, e.Err)
}

func (e SessionError) Unwrap() error { return e.Err }

// Config controls session abandonment.
type Config struct {
	// SessionWindow is the number of frames (across all sessions)
	// a session may go without new bytes before it is declared
	// abandoned. Zero selects the default.
	SessionWindow uint64
}

// DefaultConfig returns the default reassembler configuration.
func DefaultConfig() Config {
	return Config{SessionWindow: 64}
}

type session struct {
	pending  []byte // record-layer bytes not yet consumed
	hello    []byte // handshake message bytes, header included
	need     int    // total handshake bytes needed, -1 until header seen
	lastSeen uint64 // frame counter at last byte of progress
}

// Reassembler consumes frames in capture order and yields complete
// Client Hello messages. Only the first handshake per 4-tuple is
// produced; later frames for a finished flow are dropped.
type Reassembler struct {
	cfg       Config
	sessions  map[capture.FlowKey]*session
	done      map[capture.FlowKey]bool
	abandoned []SessionError
	clock     uint64
}

// New creates a reassembler.
func New(cfg Config) *Reassembler {
	if cfg.SessionWindow == 0 {
		cfg.SessionWindow = DefaultConfig().SessionWindow
	}
	return &Reassembler{
		cfg:      cfg,
		sessions: make(map[capture.FlowKey]*session),
		done:     make(map[capture.FlowKey]bool),
	}
}

// Feed consumes one frame. It returns a complete handshake when the
// frame finishes one, nil while the session is still in progress, or a
// SessionError wrapping ErrNotAHandshake when the flow turns out not
// to carry a Client Hello. Errors apply to that one session only.
func (r *Reassembler) Feed(f capture.Frame) (*Handshake, error) {
	r.clock++
	r.evictStale()

	if r.done[f.Key] {
		return nil, nil
	}

	s := r.sessions[f.Key]
	if s == nil {
		s = &session{need: -1}
		r.sessions[f.Key] = s
	}
	s.pending = append(s.pending, f.Payload...)
	s.lastSeen = r.clock

	hello, err := s.advance()
	if err != nil {
		delete(r.sessions, f.Key)
		r.done[f.Key] = true
		return nil, SessionError{Key: f.Key, Err: err}
	}
	if hello == nil {
		return nil, nil
	}

	delete(r.sessions, f.Key)
	r.done[f.Key] = true
	return &Handshake{Key: f.Key, Raw: hello}, nil
}

// Flush declares every in-progress session abandoned and returns their
// errors together with any sessions evicted earlier by the window.
// The reassembler may be reused afterwards.
func (r *Reassembler) Flush() []SessionError {
	out := r.abandoned
	r.abandoned = nil
	for key := range r.sessions {
		out = append(out, SessionError{Key: key, Err: ErrIncompleteSession})
		delete(r.sessions, key)
		r.done[key] = true
	}
	return out
}

func (r *Reassembler) evictStale() {
	for key, s := range r.sessions {
		if r.clock-s.lastSeen > r.cfg.SessionWindow {
			r.abandoned = append(r.abandoned, SessionError{Key: key, Err: ErrIncompleteSession})
			delete(r.sessions, key)
			r.done[key] = true
		}
	}
}

// advance consumes complete records from the pending buffer and
// returns the handshake message once it is whole.
func (s *session) advance() ([]byte, error) {
	for len(s.pending) >= recordHeaderLen {
		contentType := s.pending[0]
		version := binary.BigEndian.Uint16(s.pending[1:3])
		length := int(binary.BigEndian.Uint16(s.pending[3:5]))

		// A stream that does not open with a plausible TLS record
		// is not a handshake at all.
		if version < 0x0300 || version > 0x0304 || length == 0 || length > maxRecordLen {
			return nil, ErrNotAHandshake
		}
		if len(s.pending) < recordHeaderLen+length {
			return nil, nil // record split across frames
		}

		body := s.pending[recordHeaderLen : recordHeaderLen+length]
		s.pending = s.pending[recordHeaderLen+length:]

		// Alerts or application data, before or interleaved with the
		// handshake, are skipped, not errors.
		if contentType != contentTypeHandshake {
			continue
		}

		s.hello = append(s.hello, body...)

		if s.need < 0 && len(s.hello) >= handshakeHeaderLen {
			if s.hello[0] != handshakeClientHello {
				return nil, ErrNotAHandshake
			}
			msgLen := int(s.hello[1])<<16 | int(s.hello[2])<<8 | int(s.hello[3])
			if msgLen > maxHandshakeLen {
				return nil, ErrNotAHandshake
			}
			s.need = handshakeHeaderLen + msgLen
		}

		if s.need > 0 && len(s.hello) >= s.need {
			return s.hello[:s.need], nil
		}
	}
	return nil, nil
}
