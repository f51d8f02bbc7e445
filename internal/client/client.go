// Package client implements the sync engine: one Client is one simulated
// tab, mapping local actions to bus events and inbound bus events to thread
// and presence mutations.
package client

import (
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"teletab/internal/ai"
	"teletab/internal/bus"
	"teletab/internal/call"
	"teletab/internal/models"
	"teletab/internal/presence"
	"teletab/internal/store"
	"teletab/internal/threads"
)

type Client struct {
	Store     store.Store
	Tracker   *presence.Tracker
	responder ai.Responder
	bus       *bus.Bus
	sub       *bus.Subscription

	// mu serializes every thread-collection mutation. Bus handlers run to
	// completion under it, mirroring the single-threaded event loop of the
	// original environment.
	mu         sync.Mutex
	user       models.User
	threads    *threads.Collection
	aiInflight map[string]bool

	// Live call state.
	session  *call.Session
	speaker  call.PlaybackSink
	incoming chan models.User

	typingLimiter *rate.Limiter

	stopOnce sync.Once
	done     chan struct{}
}

// New builds a client for an authenticated user. Start must be called before
// the client sees bus traffic.
func New(user models.User, st store.Store, b *bus.Bus, responder ai.Responder, heartbeat time.Duration) *Client {
	return &Client{
		Store:         st,
		Tracker:       presence.NewTracker(heartbeat),
		responder:     responder,
		bus:           b,
		user:          user,
		aiInflight:    make(map[string]bool),
		incoming:      make(chan models.User, 4),
		typingLimiter: rate.NewLimiter(rate.Every(time.Second), 2),
		done:          make(chan struct{}),
	}
}

// User returns the current profile snapshot.
func (c *Client) User() models.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// Threads returns a snapshot of the thread list in display order. Message
// logs are copied too; the live collection keeps mutating under the event
// loop after this returns.
func (c *Client) Threads() []models.ChatThread {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.ChatThread, len(c.threads.All()))
	copy(out, c.threads.All())
	for i := range out {
		out[i].Messages = append([]models.Message(nil), out[i].Messages...)
		out[i].MemberIDs = append([]string(nil), out[i].MemberIDs...)
	}
	return out
}

// IncomingCalls delivers call prompts addressed to this user.
func (c *Client) IncomingCalls() <-chan models.User {
	return c.incoming
}

// Start loads the persisted thread snapshot, attaches to the bus, asks
// everyone to re-announce, and begins heartbeating.
func (c *Client) Start() error {
	stored, err := c.Store.LoadThreads(c.user.ID)
	if err != nil {
		return err
	}
	history, err := c.Store.LoadGlobalHistory()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.threads = threads.Load(stored, history)
	c.mu.Unlock()

	c.sub = c.bus.Subscribe()
	c.sub.Publish(&bus.RequestSync{})

	go c.eventLoop()
	go c.heartbeatLoop()
	return nil
}

// Logout announces offline, stops the heartbeat, detaches from the bus and
// clears the session pointer.
func (c *Client) Logout() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.sub.Publish(&bus.PresenceOffline{ID: c.user.ID})
		c.sub.Close()
		c.Store.ClearSession()
	})
}

func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(c.Tracker.Heartbeat())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.announce()
			c.Tracker.Sweep()
		case <-c.done:
			return
		}
	}
}

func (c *Client) announce() {
	u := c.User()
	u.LastSeen = time.Now().UnixMilli()
	u.Password = ""
	c.sub.Publish(&bus.Presence{User: u})
}

func (c *Client) eventLoop() {
	for ev := range c.sub.Events() {
		c.handleEvent(ev)
	}
}

func (c *Client) handleEvent(ev bus.Event) {
	switch ev := ev.(type) {
	case *bus.Presence:
		c.Tracker.Upsert(ev.User)
		c.setPeerOnline(ev.User.ID, true)
	case *bus.PresenceOffline:
		c.Tracker.Remove(ev.ID)
		c.setPeerOnline(ev.ID, false)
	case *bus.RequestSync:
		c.announce()
	case *bus.PeerMessage:
		c.handlePeerMessage(ev)
	case *bus.GlobalMessage:
		c.handleGlobalMessage(ev)
	case *bus.UserUpdate:
		c.handleUserUpdate(ev)
	case *bus.EditMessage:
		c.handleEdit(ev)
	case *bus.DeleteMessage:
		// Reserved tag; deletion stays local-only in this revision.
	case *bus.Typing:
		c.handleTyping(ev)
	case *bus.CallInit:
		if ev.TargetID == c.user.ID {
			select {
			case c.incoming <- ev.From:
			default:
			}
		}
	case *bus.CallReject:
		c.handleCallEnd(ev.TargetID, ev.SenderID)
	case *bus.CallHangup:
		c.handleCallEnd(ev.TargetID, ev.SenderID)
	case *bus.VoiceData:
		c.handleVoiceData(ev)
	default:
		log.Printf("ignoring unexpected bus event %T", ev)
	}
}

func (c *Client) setPeerOnline(userID string, online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t := c.threads.Find(models.DirectThreadID(userID)); t != nil {
		t.IsOnline = online
	}
}

// persist serializes the whole thread collection and the shared global
// history. Whole-snapshot writes, last writer wins. Storage failures are
// logged and the client keeps running from memory.
func (c *Client) persist() {
	if err := c.Store.SaveThreads(c.user.ID, c.threads.All()); err != nil {
		log.Printf("warning: thread snapshot not persisted: %v", err)
		return
	}
	if err := c.Store.SaveGlobalHistory(c.threads.GlobalHistory()); err != nil {
		log.Printf("warning: global history not persisted: %v", err)
	}
}
