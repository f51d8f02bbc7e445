// Package call holds the live-call state machine and the audio scheduling
// primitives shared by human-to-human and AI calls.
package call

import (
	"errors"
	"sync"
	"time"
)

type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateEnded      State = "ended"
	StateError      State = "error"
)

var ErrBadTransition = errors.New("invalid call state transition")

// CaptureSource supplies microphone frames as 16kHz mono int16 samples.
// A source that cannot open the device fails on construction; that failure
// aborts the call before any signaling happens.
type CaptureSource interface {
	ReadFrame() ([]int16, error)
	Close() error
}

// PlaybackSink plays 24kHz mono int16 samples at a scheduled time.
type PlaybackSink interface {
	PlayAt(samples []int16, at time.Time) error
	Close() error
}

// Session tracks one call, per-pair for direct calls or host-directed for AI
// calls.
type Session struct {
	mu     sync.Mutex
	state  State
	peerID string
	isAI   bool
	clock  Clock
}

func NewSession(peerID string, isAI bool) *Session {
	return &Session{state: StateIdle, peerID: peerID, isAI: isAI}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) PeerID() string { return s.peerID }
func (s *Session) IsAI() bool     { return s.isAI }

// Begin moves idle → connecting.
func (s *Session) Begin() error {
	return s.transition(StateConnecting, StateIdle)
}

// Activate moves connecting → active; first received audio activates a call.
func (s *Session) Activate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateActive {
		return nil
	}
	if s.state != StateConnecting {
		return ErrBadTransition
	}
	s.state = StateActive
	return nil
}

// End terminates the call from any live state.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateConnecting || s.state == StateActive {
		s.state = StateEnded
	}
}

// Fail marks the call as failed (media device or transport error).
func (s *Session) Fail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateError
}

// Live reports whether audio should still be pumped.
func (s *Session) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateConnecting || s.state == StateActive
}

// Schedule assigns a playback slot for a received chunk via the session's
// monotonic clock.
func (s *Session) Schedule(now time.Time, d time.Duration) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.Schedule(now, d)
}

func (s *Session) transition(to State, from ...State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range from {
		if s.state == f {
			s.state = to
			return nil
		}
	}
	return ErrBadTransition
}
