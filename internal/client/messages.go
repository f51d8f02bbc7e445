package client

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"teletab/internal/bus"
	"teletab/internal/models"
	"teletab/internal/threads"
)

var ErrNoSuchThread = errors.New("no such thread")

// SendMessage appends a message to a thread, promotes the thread, persists,
// and routes the matching bus event or AI call. Self-notes stay local.
func (c *Client) SendMessage(threadID, text, audioURL, imageURL string) (models.Message, error) {
	c.mu.Lock()
	t := c.threads.Find(threadID)
	if t == nil {
		c.mu.Unlock()
		return models.Message{}, ErrNoSuchThread
	}

	msg := models.Message{
		ID:         models.NewMessageID(c.user.ID),
		Role:       models.RoleUser,
		SenderID:   c.user.ID,
		SenderName: c.user.Username,
		Text:       text,
		AudioURL:   audioURL,
		ImageURL:   imageURL,
		Timestamp:  time.Now().UnixMilli(),
	}
	// History for AI dispatch excludes the message being sent; the prompt
	// joins the conversation as its own final turn.
	history := append([]models.Message(nil), t.Messages...)
	t.Messages = append(t.Messages, msg)

	kind := t.Kind
	isGroup := t.IsGroup
	groupName := t.Name
	memberIDs := append([]string(nil), t.MemberIDs...)
	targetUserID := t.TargetUserID

	c.threads.MoveToFront(threadID)
	c.persist()
	sender := c.user
	sender.Password = ""
	c.mu.Unlock()

	switch {
	case threadID == models.SelfNotesThreadID:
		// Personal notes never touch the bus.
	case kind == models.KindGlobal:
		c.sub.Publish(&bus.GlobalMessage{
			ID:         msg.ID,
			SenderID:   sender.ID,
			SenderName: sender.Username,
			Text:       text,
			AudioURL:   audioURL,
			ImageURL:   imageURL,
		})
	case isGroup:
		c.sub.Publish(&bus.PeerMessage{
			ID:        msg.ID,
			IsGroup:   true,
			GroupID:   threadID,
			GroupName: groupName,
			MemberIDs: memberIDs,
			Sender:    sender,
			Text:      text,
			AudioURL:  audioURL,
			ImageURL:  imageURL,
		})
	case kind == models.KindHuman && targetUserID != "":
		c.sub.Publish(&bus.PeerMessage{
			ID:           msg.ID,
			TargetUserID: targetUserID,
			Sender:       sender,
			Text:         text,
			AudioURL:     audioURL,
			ImageURL:     imageURL,
		})
	case kind.IsBot():
		c.dispatchAI(threadID, kind, text, history)
	}
	return msg, nil
}

// dispatchAI runs one generation for a bot thread. At most one generation is
// in flight per thread; a send that races an outstanding one keeps the user
// message but skips the duplicate request.
func (c *Client) dispatchAI(threadID string, kind models.ThreadKind, text string, history []models.Message) {
	c.mu.Lock()
	if c.aiInflight[threadID] {
		c.mu.Unlock()
		return
	}
	c.aiInflight[threadID] = true
	c.mu.Unlock()

	go func() {
		reply, err := c.responder.Generate(context.Background(), kind, text, history)

		var audioURL string
		if err == nil && kind == models.KindVoice && reply.Text != "" {
			if pcm, ttsErr := c.responder.SynthesizeSpeech(context.Background(), reply.Text); ttsErr == nil && len(pcm) > 0 {
				audioURL = "data:audio/pcm;base64," + base64.StdEncoding.EncodeToString(pcm)
			}
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.aiInflight, threadID)

		msg := models.Message{
			ID:        models.NewMessageID("ai"),
			Role:      models.RoleModel,
			Timestamp: time.Now().UnixMilli(),
		}
		if err != nil {
			// Surface the failure in the thread instead of dropping it.
			msg.Text = "Reply failed (" + err.Error() + "). Send again to retry."
		} else {
			msg.Text = reply.Text
			msg.ImageURL = reply.ImageURL
			msg.AudioURL = audioURL
		}
		if c.threads.Append(threadID, msg) {
			c.persist()
		}
	}()
}

// EditMessage rewrites a message everywhere it appears, locally and on every
// other tab.
func (c *Client) EditMessage(messageID, newText string) {
	c.mu.Lock()
	if c.threads.EditMessage(messageID, newText) > 0 {
		c.persist()
	}
	c.mu.Unlock()
	c.sub.Publish(&bus.EditMessage{MessageID: messageID, NewText: newText})
}

// DeleteMessage removes a message locally. Deletion is not broadcast; the
// message can come back through another tab's snapshot.
func (c *Client) DeleteMessage(messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threads.DeleteMessage(messageID)
	c.persist()
}

// CreateGroup starts a group thread with the given members plus the creator.
func (c *Client) CreateGroup(name string, memberIDs []string) models.ChatThread {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.threads.NewGroup(name, c.user, memberIDs)
	c.persist()
	return *t
}

// OpenDirect resolves (or creates) the direct thread for a peer and promotes
// it.
func (c *Client) OpenDirect(peer models.User) models.ChatThread {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.threads.EnsureDirect(peer)
	t.IsOnline = c.Tracker.IsOnline(peer.ID)
	id := t.ID
	c.threads.MoveToFront(id)
	c.persist()
	return *c.threads.Find(id)
}

// AddBot adds one of the AI contacts to the thread list.
func (c *Client) AddBot(botID string) (models.ChatThread, error) {
	for _, b := range threads.Bots() {
		if b.ID == botID {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.threads.AddThread(b)
			c.persist()
			return b, nil
		}
	}
	return models.ChatThread{}, ErrNoSuchThread
}

// Typing publishes a typing indicator for a direct thread, rate-limited so
// keystroke storms don't flood the bus.
func (c *Client) Typing(threadID string, isTyping bool) {
	c.mu.Lock()
	t := c.threads.Find(threadID)
	var target string
	if t != nil {
		target = t.TargetUserID
	}
	c.mu.Unlock()
	if target == "" {
		return
	}
	if isTyping && !c.typingLimiter.Allow() {
		return
	}
	c.sub.Publish(&bus.Typing{SenderID: c.user.ID, TargetUserID: target, IsTyping: isTyping})
}

// UpdateProfile saves a profile change to the session, the registry and
// every other tab.
func (c *Client) UpdateProfile(updated models.User) error {
	if err := c.Store.UpdateUser(&updated); err != nil {
		return err
	}
	c.Store.SetSessionUser(&updated)

	c.mu.Lock()
	c.user = updated
	c.mu.Unlock()

	snapshot := updated
	snapshot.Password = ""
	c.sub.Publish(&bus.UserUpdate{User: snapshot})
	return nil
}

// Contacts lists every registered user except the local one.
func (c *Client) Contacts() ([]models.User, error) {
	users, err := c.Store.ListUsers()
	if err != nil {
		return nil, err
	}
	out := users[:0]
	for _, u := range users {
		if u.ID != c.user.ID {
			u.Password = ""
			out = append(out, u)
		}
	}
	return out, nil
}

func (c *Client) handlePeerMessage(ev *bus.PeerMessage) {
	if !c.addressedToMe(ev) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var t *models.ChatThread
	if ev.IsGroup {
		t = c.threads.EnsureGroup(ev.GroupID, ev.GroupName, ev.MemberIDs)
	} else {
		t = c.threads.EnsureDirect(ev.Sender)
		t.IsOnline = c.Tracker.IsOnline(ev.Sender.ID)
		t.IsTyping = false
	}

	id := ev.ID
	if id == "" {
		id = models.NewMessageID(ev.Sender.ID)
	}
	t.Messages = append(t.Messages, models.Message{
		ID:         id,
		Role:       models.RoleModel,
		SenderID:   ev.Sender.ID,
		SenderName: ev.Sender.Username,
		Text:       ev.Text,
		AudioURL:   ev.AudioURL,
		ImageURL:   ev.ImageURL,
		Timestamp:  time.Now().UnixMilli(),
	})
	c.persist()
}

func (c *Client) addressedToMe(ev *bus.PeerMessage) bool {
	if ev.IsGroup {
		for _, id := range ev.MemberIDs {
			if id == c.user.ID {
				return true
			}
		}
		return false
	}
	return ev.TargetUserID == c.user.ID
}

func (c *Client) handleGlobalMessage(ev *bus.GlobalMessage) {
	if ev.SenderID == c.user.ID {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threads.AppendGlobal(models.Message{
		ID:         ev.ID,
		Role:       models.RoleModel,
		SenderID:   ev.SenderID,
		SenderName: ev.SenderName,
		Text:       ev.Text,
		AudioURL:   ev.AudioURL,
		ImageURL:   ev.ImageURL,
		Timestamp:  time.Now().UnixMilli(),
	})
	c.persist()
}

func (c *Client) handleUserUpdate(ev *bus.UserUpdate) {
	c.Tracker.Patch(ev.User)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threads.PatchUser(ev.User)
	c.persist()
}

func (c *Client) handleEdit(ev *bus.EditMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.threads.EditMessage(ev.MessageID, ev.NewText) > 0 {
		c.persist()
	}
}

func (c *Client) handleTyping(ev *bus.Typing) {
	if ev.TargetUserID != c.user.ID {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threads.SetTyping(ev.SenderID, ev.IsTyping)
}
