// Package threads maintains a user's conversation collection: an ordered
// list of threads, most recently active first, with the well-known global
// and self-notes threads guaranteed to exist.
package threads

import (
	"time"

	"github.com/google/uuid"
	"teletab/internal/models"
)

const avatarBase = "https://api.dicebear.com/7.x"

// Collection is not safe for concurrent use; the owning client processes
// events to completion one at a time, so no locking is needed here.
type Collection struct {
	threads []models.ChatThread
}

// Initial returns the thread set a brand-new user starts with.
func Initial() []models.ChatThread {
	return []models.ChatThread{
		{
			ID:          models.GlobalThreadID,
			Kind:        models.KindGlobal,
			Name:        "Global Chat",
			Avatar:      avatarBase + "/identicon/svg?seed=global",
			Description: "Shared channel for everyone on this machine",
			IsOnline:    true,
		},
		{
			ID:          "bot_assistant",
			Kind:        models.KindAssistant,
			Name:        "AI Assistant",
			Avatar:      avatarBase + "/bottts/svg?seed=assistant",
			Description: "General-purpose assistant",
			Messages: []models.Message{
				{
					ID:        "m1",
					Role:      models.RoleModel,
					Text:      "Welcome! Open a contact to chat with other users or AI bots.",
					Timestamp: time.Now().UnixMilli(),
				},
			},
			IsOnline: true,
		},
	}
}

// Bots lists the AI contacts available beyond the default assistant.
func Bots() []models.ChatThread {
	return []models.ChatThread{
		{
			ID:          "bot_artist",
			Kind:        models.KindArtist,
			Name:        "Artist Bot",
			Avatar:      avatarBase + "/bottts/svg?seed=artist",
			Description: "Generates images from a description",
			IsOnline:    true,
		},
		{
			ID:          "bot_search",
			Kind:        models.KindSearch,
			Name:        "Search Bot",
			Avatar:      avatarBase + "/bottts/svg?seed=search",
			Description: "Looks things up on the web",
			IsOnline:    true,
		},
		{
			ID:          "bot_voice",
			Kind:        models.KindVoice,
			Name:        "Voice Bot",
			Avatar:      avatarBase + "/bottts/svg?seed=voice",
			Description: "Replies with synthesized speech",
			IsOnline:    true,
		},
	}
}

// Load builds a collection from a persisted snapshot. A nil snapshot yields
// the initial set. The self-notes thread is synthesized if missing, and the
// shared global history overwrites the global thread's log so a fresh tab
// inherits it.
func Load(stored []models.ChatThread, globalHistory []models.Message) *Collection {
	ts := stored
	if ts == nil {
		ts = Initial()
	}

	c := &Collection{threads: ts}
	if c.Find(models.SelfNotesThreadID) == nil {
		c.threads = append(c.threads, models.ChatThread{
			ID:          models.SelfNotesThreadID,
			Kind:        models.KindHuman,
			Name:        "Saved Messages",
			Avatar:      avatarBase + "/initials/svg?seed=Saved",
			Description: "Personal notes, never shared",
		})
	}
	if globalHistory != nil {
		if g := c.Find(models.GlobalThreadID); g != nil {
			g.Messages = globalHistory
		}
	}
	return c
}

// All returns the threads in display order. Callers must not retain the
// slice across mutations.
func (c *Collection) All() []models.ChatThread {
	return c.threads
}

func (c *Collection) Find(id string) *models.ChatThread {
	for i := range c.threads {
		if c.threads[i].ID == id {
			return &c.threads[i]
		}
	}
	return nil
}

// MoveToFront promotes a thread to most-recently-active position.
func (c *Collection) MoveToFront(id string) {
	for i := range c.threads {
		if c.threads[i].ID == id {
			t := c.threads[i]
			c.threads = append(c.threads[:i], c.threads[i+1:]...)
			c.threads = append([]models.ChatThread{t}, c.threads...)
			return
		}
	}
}

// Append adds a message to the identified thread. Returns false when the
// thread does not exist.
func (c *Collection) Append(threadID string, msg models.Message) bool {
	t := c.Find(threadID)
	if t == nil {
		return false
	}
	t.Messages = append(t.Messages, msg)
	return true
}

// AppendGlobal adds a message to the global thread and truncates its log to
// the bounded history size.
func (c *Collection) AppendGlobal(msg models.Message) {
	g := c.Find(models.GlobalThreadID)
	if g == nil {
		return
	}
	g.Messages = append(g.Messages, msg)
	if n := len(g.Messages); n > models.GlobalHistoryLimit {
		g.Messages = g.Messages[n-models.GlobalHistoryLimit:]
	}
}

// GlobalHistory returns the global thread's current message log.
func (c *Collection) GlobalHistory() []models.Message {
	if g := c.Find(models.GlobalThreadID); g != nil {
		return g.Messages
	}
	return nil
}

// EnsureDirect resolves the direct thread for a peer, creating it at the
// front of the list when absent. The thread id derives from the peer's user
// id so both sides converge on the same conversation.
func (c *Collection) EnsureDirect(peer models.User) *models.ChatThread {
	id := models.DirectThreadID(peer.ID)
	if t := c.Find(id); t != nil {
		return t
	}
	desc := peer.Bio
	if desc == "" {
		desc = "Direct chat"
	}
	t := models.ChatThread{
		ID:           id,
		Kind:         models.KindHuman,
		Name:         peer.Username,
		Avatar:       peer.Avatar,
		Description:  desc,
		TargetUserID: peer.ID,
	}
	c.threads = append([]models.ChatThread{t}, c.threads...)
	return &c.threads[0]
}

// EnsureGroup resolves a group thread by the id carried in the event,
// creating it at the front when this tab has never seen the group.
func (c *Collection) EnsureGroup(id, name string, memberIDs []string) *models.ChatThread {
	if t := c.Find(id); t != nil {
		return t
	}
	if name == "" {
		name = "Group"
	}
	t := models.ChatThread{
		ID:          id,
		Kind:        models.KindHuman,
		Name:        name,
		Avatar:      avatarBase + "/initials/svg?seed=" + name,
		Description: "Group chat",
		IsGroup:     true,
		MemberIDs:   memberIDs,
	}
	c.threads = append([]models.ChatThread{t}, c.threads...)
	return &c.threads[0]
}

// NewGroup creates a group thread owned by creator, seeded with a system
// message, and places it at the front.
func (c *Collection) NewGroup(name string, creator models.User, memberIDs []string) *models.ChatThread {
	id := "group_" + uuid.NewString()
	t := models.ChatThread{
		ID:          id,
		Kind:        models.KindHuman,
		Name:        name,
		Avatar:      avatarBase + "/initials/svg?seed=" + name,
		Description: "Group: " + name,
		Messages: []models.Message{
			{
				ID:        "init_" + id,
				Role:      models.RoleModel,
				Text:      "Group \"" + name + "\" created",
				Timestamp: time.Now().UnixMilli(),
			},
		},
		IsGroup:   true,
		MemberIDs: append([]string{creator.ID}, memberIDs...),
	}
	c.threads = append([]models.ChatThread{t}, c.threads...)
	return &c.threads[0]
}

// AddThread places an externally built thread at the front, replacing any
// existing thread with the same id.
func (c *Collection) AddThread(t models.ChatThread) {
	for i := range c.threads {
		if c.threads[i].ID == t.ID {
			c.threads = append(c.threads[:i], c.threads[i+1:]...)
			break
		}
	}
	c.threads = append([]models.ChatThread{t}, c.threads...)
}

// EditMessage rewrites the text of every message with the given id across
// all threads, marking them edited. Applying the same edit twice yields the
// same state. Returns how many messages were touched.
func (c *Collection) EditMessage(messageID, newText string) int {
	edited := 0
	for i := range c.threads {
		for j := range c.threads[i].Messages {
			if c.threads[i].Messages[j].ID == messageID {
				c.threads[i].Messages[j].Text = newText
				c.threads[i].Messages[j].IsEdited = true
				edited++
			}
		}
	}
	return edited
}

// DeleteMessage removes every message with the given id. Deletion is a
// local-only action; a stale snapshot from another tab can resurrect the
// message.
func (c *Collection) DeleteMessage(messageID string) {
	for i := range c.threads {
		msgs := c.threads[i].Messages
		kept := msgs[:0]
		for _, m := range msgs {
			if m.ID != messageID {
				kept = append(kept, m)
			}
		}
		c.threads[i].Messages = kept
	}
}

// PatchUser renames and re-avatars any thread pointing at the updated user.
func (c *Collection) PatchUser(u models.User) {
	for i := range c.threads {
		if c.threads[i].TargetUserID == u.ID {
			c.threads[i].Name = u.Username
			c.threads[i].Avatar = u.Avatar
		}
	}
}

// SetTyping flips the typing indicator on the direct thread for a sender.
func (c *Collection) SetTyping(senderID string, isTyping bool) {
	if t := c.Find(models.DirectThreadID(senderID)); t != nil {
		t.IsTyping = isTyping
	}
}
