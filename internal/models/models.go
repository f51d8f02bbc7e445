package models

import (
	"fmt"
	"time"
)

// ThreadKind identifies what kind of participant sits on the other side of
// a thread. Bot kinds double as the AI model variant to use.
type ThreadKind string

const (
	KindAssistant ThreadKind = "assistant"
	KindArtist    ThreadKind = "artist"
	KindSearch    ThreadKind = "search"
	KindVoice     ThreadKind = "voice"
	KindHuman     ThreadKind = "human"
	KindGlobal    ThreadKind = "global"
)

// IsBot reports whether the thread participant is an AI variant rather than
// a human peer or the global channel.
func (k ThreadKind) IsBot() bool {
	return k != KindHuman && k != KindGlobal
}

// Well-known thread ids. The global thread and the self-notes thread exist
// exactly once per user's collection; direct threads derive their id from
// the peer's user id so both sides resolve the same conversation.
const (
	GlobalThreadID    = "global_chat_all"
	SelfNotesThreadID = "saved_messages_id"
)

// GlobalHistoryLimit caps the global channel's message log.
const GlobalHistoryLimit = 100

// DirectThreadID derives the thread id for a direct conversation with the
// given peer.
func DirectThreadID(peerID string) string {
	return "human_" + peerID
}

// NewMessageID builds a sender-scoped message id. Time plus sender id keeps
// ids unique enough across independently running tabs.
func NewMessageID(senderID string) string {
	return fmt.Sprintf("m_%d_%s", time.Now().UnixMilli(), senderID)
}

type Settings struct {
	Notifications bool   `json:"notifications"`
	ShowOnline    bool   `json:"showOnline"`
	Background    string `json:"background,omitempty"`
}

// User is an identity record in the local registry. Password is stored in
// the clear; accounts are simulation fixtures, not real credentials.
// LastSeen is volatile and rebuilt from heartbeats, never trusted from disk.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Password  string    `json:"password,omitempty"`
	Avatar    string    `json:"avatar"`
	Bio       string    `json:"bio,omitempty"`
	LastSeen  int64     `json:"lastSeen,omitempty"`
	IsCreator bool      `json:"isCreator,omitempty"`
	Settings  *Settings `json:"settings,omitempty"`
}

// Message roles. Inbound peer messages are appended with RoleModel so the
// rendering side can tell "mine" from "theirs" without comparing sender ids.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

type Message struct {
	ID         string `json:"id"`
	Role       string `json:"role"`
	SenderID   string `json:"senderId,omitempty"`
	SenderName string `json:"senderName,omitempty"`
	Text       string `json:"text,omitempty"`
	ImageURL   string `json:"imageUrl,omitempty"`
	AudioURL   string `json:"audioUrl,omitempty"`
	Timestamp  int64  `json:"timestamp"`
	IsEdited   bool   `json:"isEdited,omitempty"`
}

// ChatThread is one conversation: metadata plus an ordered message log.
type ChatThread struct {
	ID           string     `json:"id"`
	Kind         ThreadKind `json:"kind"`
	Name         string     `json:"name"`
	Avatar       string     `json:"avatar"`
	Description  string     `json:"description"`
	Messages     []Message  `json:"messages"`
	IsOnline     bool       `json:"isOnline,omitempty"`
	TargetUserID string     `json:"targetUserId,omitempty"`
	IsTyping     bool       `json:"isTyping,omitempty"`
	IsGroup      bool       `json:"isGroup,omitempty"`
	MemberIDs    []string   `json:"memberIds,omitempty"`
}
