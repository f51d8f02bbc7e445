package bus

import (
	"encoding/json"
	"fmt"

	"teletab/internal/models"
)

// ChannelName is the broadcast namespace shared by every tab. The version
// suffix fences off tabs running an older protocol revision.
const ChannelName = "teletab_v12_broadcast"

// EventType discriminates envelope payloads on the wire.
type EventType string

const (
	EventPresence        EventType = "PRESENCE"
	EventPresenceOffline EventType = "PRESENCE_OFFLINE"
	EventRequestSync     EventType = "REQUEST_SYNC"
	EventMessage         EventType = "MESSAGE"
	EventGlobalMessage   EventType = "GLOBAL_MESSAGE"
	EventEditMessage     EventType = "EDIT_MESSAGE"
	EventDeleteMessage   EventType = "DELETE_MESSAGE" // reserved, never published
	EventTyping          EventType = "TYPING"
	EventUserUpdate      EventType = "USER_UPDATE"
	EventCallInit        EventType = "CALL_INIT"
	EventCallReject      EventType = "CALL_REJECT"
	EventCallHangup      EventType = "CALL_HANGUP"
	EventVoiceData       EventType = "VOICE_DATA"
)

// Event is the closed set of things that travel over the bus. Each payload
// struct implements Type; Decode rejects anything outside the set.
type Event interface {
	Type() EventType
}

// Presence announces the sender as online, carrying a full user snapshot so
// listeners can seed their trackers without a registry lookup.
type Presence struct {
	User models.User `json:"user"`
}

func (Presence) Type() EventType { return EventPresence }

type PresenceOffline struct {
	ID string `json:"id"`
}

func (PresenceOffline) Type() EventType { return EventPresenceOffline }

// RequestSync asks every listening tab to re-publish its own Presence. A tab
// sends it once on mount so presence converges without waiting a heartbeat.
type RequestSync struct{}

func (RequestSync) Type() EventType { return EventRequestSync }

// PeerMessage is a direct or group message. Direct carries TargetUserID;
// group carries IsGroup plus GroupID and the member set.
type PeerMessage struct {
	ID           string      `json:"id"`
	TargetUserID string      `json:"targetUserId,omitempty"`
	IsGroup      bool        `json:"isGroup,omitempty"`
	GroupID      string      `json:"groupId,omitempty"`
	GroupName    string      `json:"groupName,omitempty"`
	MemberIDs    []string    `json:"memberIds,omitempty"`
	Sender       models.User `json:"sender"`
	Text         string      `json:"text,omitempty"`
	AudioURL     string      `json:"audioUrl,omitempty"`
	ImageURL     string      `json:"imageUrl,omitempty"`
}

func (PeerMessage) Type() EventType { return EventMessage }

type GlobalMessage struct {
	ID         string `json:"id"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Text       string `json:"text,omitempty"`
	AudioURL   string `json:"audioUrl,omitempty"`
	ImageURL   string `json:"imageUrl,omitempty"`
}

func (GlobalMessage) Type() EventType { return EventGlobalMessage }

type EditMessage struct {
	MessageID string `json:"messageId"`
	NewText   string `json:"newText"`
}

func (EditMessage) Type() EventType { return EventEditMessage }

// DeleteMessage is reserved in the protocol vocabulary. Deletion is a
// local-only action today; the tag exists so a future revision can broadcast
// it without breaking the unknown-tag rejection of current tabs.
type DeleteMessage struct {
	MessageID string `json:"messageId"`
}

func (DeleteMessage) Type() EventType { return EventDeleteMessage }

type Typing struct {
	SenderID     string `json:"senderId"`
	TargetUserID string `json:"targetUserId,omitempty"`
	IsTyping     bool   `json:"isTyping"`
}

func (Typing) Type() EventType { return EventTyping }

// UserUpdate propagates a profile change to presence trackers and any thread
// pointed at the updated user.
type UserUpdate struct {
	User models.User `json:"user"`
}

func (UserUpdate) Type() EventType { return EventUserUpdate }

type CallInit struct {
	TargetID string      `json:"targetId"`
	From     models.User `json:"from"`
}

func (CallInit) Type() EventType { return EventCallInit }

type CallReject struct {
	TargetID string `json:"targetId"`
	SenderID string `json:"senderId"`
}

func (CallReject) Type() EventType { return EventCallReject }

type CallHangup struct {
	TargetID string `json:"targetId"`
	SenderID string `json:"senderId"`
}

func (CallHangup) Type() EventType { return EventCallHangup }

// VoiceData carries one captured audio frame, base64-encoded 16-bit PCM.
type VoiceData struct {
	TargetID string `json:"targetId"`
	SenderID string `json:"senderId"`
	Data     string `json:"data"`
}

func (VoiceData) Type() EventType { return EventVoiceData }

type envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode wraps an event in the wire envelope.
func Encode(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: ev.Type(), Payload: payload})
}

// Decode parses a wire envelope back into its typed event. Unknown tags are
// an error, not a silent skip: a tab speaking a different protocol version
// should be noticed.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var ev Event
	switch env.Type {
	case EventPresence:
		ev = &Presence{}
	case EventPresenceOffline:
		ev = &PresenceOffline{}
	case EventRequestSync:
		return &RequestSync{}, nil
	case EventMessage:
		ev = &PeerMessage{}
	case EventGlobalMessage:
		ev = &GlobalMessage{}
	case EventEditMessage:
		ev = &EditMessage{}
	case EventDeleteMessage:
		ev = &DeleteMessage{}
	case EventTyping:
		ev = &Typing{}
	case EventUserUpdate:
		ev = &UserUpdate{}
	case EventCallInit:
		ev = &CallInit{}
	case EventCallReject:
		ev = &CallReject{}
	case EventCallHangup:
		ev = &CallHangup{}
	case EventVoiceData:
		ev = &VoiceData{}
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}

	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, ev); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
	}
	return ev, nil
}
