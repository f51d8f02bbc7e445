package client

import (
	"errors"
	"log"
	"time"

	"teletab/internal/ai"
	"teletab/internal/bus"
	"teletab/internal/call"
	"teletab/internal/models"
)

var ErrCallInProgress = errors.New("a call is already in progress")

// liveConnector is satisfied by responders that support realtime audio
// sessions (the Gemini client does; test fakes usually don't).
type liveConnector interface {
	ConnectLive() (*ai.LiveSession, error)
}

// StartCall begins an outgoing call on a thread. For a human peer it
// publishes CALL_INIT and starts streaming captured audio; for a bot thread
// it opens a live session with the voice model. The caller owns opening the
// media devices, so a missing microphone aborts before any signaling.
func (c *Client) StartCall(threadID string, mic call.CaptureSource, speaker call.PlaybackSink) (*call.Session, error) {
	c.mu.Lock()
	if c.session != nil && c.session.Live() {
		c.mu.Unlock()
		return nil, ErrCallInProgress
	}
	t := c.threads.Find(threadID)
	if t == nil {
		c.mu.Unlock()
		return nil, ErrNoSuchThread
	}
	kind := t.Kind
	peerID := t.TargetUserID

	session := call.NewSession(peerID, kind.IsBot())
	c.session = session
	c.speaker = speaker
	from := c.user
	from.Password = ""
	c.mu.Unlock()

	if err := session.Begin(); err != nil {
		return nil, err
	}

	if kind.IsBot() {
		return session, c.startAICall(session, mic, speaker)
	}

	c.sub.Publish(&bus.CallInit{TargetID: peerID, From: from})
	go c.capturePump(session, mic, peerID)
	return session, nil
}

// AcceptCall answers an incoming call from a peer and starts streaming.
func (c *Client) AcceptCall(from models.User, mic call.CaptureSource, speaker call.PlaybackSink) (*call.Session, error) {
	c.mu.Lock()
	if c.session != nil && c.session.Live() {
		c.mu.Unlock()
		return nil, ErrCallInProgress
	}
	session := call.NewSession(from.ID, false)
	c.session = session
	c.speaker = speaker
	c.mu.Unlock()

	if err := session.Begin(); err != nil {
		return nil, err
	}
	go c.capturePump(session, mic, from.ID)
	return session, nil
}

// RejectCall declines an incoming call.
func (c *Client) RejectCall(from models.User) {
	c.sub.Publish(&bus.CallReject{TargetID: from.ID, SenderID: c.user.ID})
}

// Hangup terminates the current call and tells the peer.
func (c *Client) Hangup() {
	c.mu.Lock()
	session := c.session
	speaker := c.speaker
	c.session = nil
	c.speaker = nil
	c.mu.Unlock()

	if session == nil {
		return
	}
	session.End()
	if speaker != nil {
		speaker.Close()
	}
	if !session.IsAI() && session.PeerID() != "" {
		c.sub.Publish(&bus.CallHangup{TargetID: session.PeerID(), SenderID: c.user.ID})
	}
}

// capturePump streams microphone frames to the peer until the call ends.
func (c *Client) capturePump(session *call.Session, mic call.CaptureSource, peerID string) {
	defer mic.Close()
	for session.Live() {
		frame, err := mic.ReadFrame()
		if err != nil {
			session.Fail()
			return
		}
		c.sub.Publish(&bus.VoiceData{
			TargetID: peerID,
			SenderID: c.user.ID,
			Data:     call.EncodeFrame(frame),
		})
	}
}

func (c *Client) startAICall(session *call.Session, mic call.CaptureSource, speaker call.PlaybackSink) error {
	lc, ok := c.responder.(liveConnector)
	if !ok {
		session.Fail()
		return errors.New("responder does not support live audio")
	}
	live, err := lc.ConnectLive()
	if err != nil {
		session.Fail()
		return err
	}
	session.Activate()

	// Uplink: mic frames to the model.
	go func() {
		defer mic.Close()
		defer live.Close()
		for session.Live() {
			frame, err := mic.ReadFrame()
			if err != nil {
				session.Fail()
				return
			}
			buf := make([]byte, len(frame)*2)
			for i, s := range frame {
				buf[i*2] = byte(s)
				buf[i*2+1] = byte(s >> 8)
			}
			if err := live.SendAudio(buf); err != nil {
				session.Fail()
				return
			}
		}
	}()

	// Downlink: model audio through the playback clock.
	go func() {
		for session.Live() {
			pcm, _, err := live.Recv()
			if err != nil {
				session.End()
				return
			}
			if len(pcm) == 0 {
				continue
			}
			c.playChunk(session, speaker, call.BytesToSamples(pcm))
		}
	}()
	return nil
}

// handleCallEnd tears down the active call when the peer rejects or hangs
// up. Only the session's own peer may end it.
func (c *Client) handleCallEnd(targetID, senderID string) {
	if targetID != c.user.ID {
		return
	}
	c.mu.Lock()
	session := c.session
	speaker := c.speaker
	if session == nil || session.PeerID() != senderID {
		c.mu.Unlock()
		return
	}
	c.session = nil
	c.speaker = nil
	c.mu.Unlock()

	session.End()
	if speaker != nil {
		speaker.Close()
	}
}

// handleVoiceData plays a received voice frame if it belongs to the current
// call. First audio from the peer activates a connecting call.
func (c *Client) handleVoiceData(ev *bus.VoiceData) {
	if ev.TargetID != c.user.ID {
		return
	}
	c.mu.Lock()
	session := c.session
	speaker := c.speaker
	c.mu.Unlock()

	if session == nil || speaker == nil || !session.Live() || session.PeerID() != ev.SenderID {
		return
	}
	samples, err := call.DecodeFrame(ev.Data)
	if err != nil {
		log.Printf("bad voice frame from %s: %v", ev.SenderID, err)
		return
	}
	session.Activate()
	c.playChunk(session, speaker, samples)
}

func (c *Client) playChunk(session *call.Session, speaker call.PlaybackSink, samples []int16) {
	d := call.ChunkDuration(len(samples), call.PlaybackRate)
	at := session.Schedule(time.Now(), d)
	if err := speaker.PlayAt(samples, at); err != nil {
		log.Printf("playback: %v", err)
	}
}
