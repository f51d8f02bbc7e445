package bus

import (
	"fmt"
	"testing"
	"time"

	"teletab/internal/models"
)

func collect(sub *Subscription, n int, timeout time.Duration) []Event {
	var out []Event
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case ev := <-sub.Events():
			out = append(out, ev)
		case <-deadline:
			return out
		}
	}
	return out
}

func TestPublishExcludesSelf(t *testing.T) {
	b := New()
	defer b.Close()

	a := b.Subscribe()
	c := b.Subscribe()

	a.Publish(&RequestSync{})

	got := collect(c, 1, time.Second)
	if len(got) != 1 {
		t.Fatalf("Expected 1 event at other subscriber, got %d", len(got))
	}

	select {
	case ev := <-a.Events():
		t.Errorf("Publisher received its own event %T", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFIFOPerPublisher(t *testing.T) {
	b := New()
	defer b.Close()

	a := b.Subscribe()
	c := b.Subscribe()

	for i := 0; i < 10; i++ {
		a.Publish(&GlobalMessage{ID: fmt.Sprintf("m%d", i), SenderID: "u1"})
	}

	got := collect(c, 10, time.Second)
	if len(got) != 10 {
		t.Fatalf("Expected 10 events, got %d", len(got))
	}
	for i, ev := range got {
		gm, ok := ev.(*GlobalMessage)
		if !ok {
			t.Fatalf("Expected *GlobalMessage, got %T", ev)
		}
		if want := fmt.Sprintf("m%d", i); gm.ID != want {
			t.Errorf("Event %d out of order: got id %s, want %s", i, gm.ID, want)
		}
	}
}

func TestSubscriptionClose(t *testing.T) {
	b := New()
	defer b.Close()

	a := b.Subscribe()
	c := b.Subscribe()
	c.Close()

	a.Publish(&RequestSync{})
	time.Sleep(50 * time.Millisecond)

	if _, ok := <-c.Events(); ok {
		t.Error("Expected closed events channel after Close")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	events := []Event{
		&Presence{User: models.User{ID: "u1", Username: "alice"}},
		&PresenceOffline{ID: "u1"},
		&RequestSync{},
		&PeerMessage{ID: "m1", TargetUserID: "u2", Sender: models.User{ID: "u1"}, Text: "hi"},
		&PeerMessage{ID: "m2", IsGroup: true, GroupID: "group_x", MemberIDs: []string{"u1", "u2"}, Sender: models.User{ID: "u1"}},
		&GlobalMessage{ID: "m3", SenderID: "u1", SenderName: "alice", Text: "hello all"},
		&EditMessage{MessageID: "m1", NewText: "hi!"},
		&Typing{SenderID: "u1", TargetUserID: "u2", IsTyping: true},
		&UserUpdate{User: models.User{ID: "u1", Username: "alicia"}},
		&CallInit{TargetID: "u2", From: models.User{ID: "u1"}},
		&CallHangup{TargetID: "u2", SenderID: "u1"},
		&VoiceData{TargetID: "u2", SenderID: "u1", Data: "AAAA"},
	}

	for _, ev := range events {
		data, err := Encode(ev)
		if err != nil {
			t.Fatalf("Encode(%T) failed: %v", ev, err)
		}
		back, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode(%T) failed: %v", ev, err)
		}
		if back.Type() != ev.Type() {
			t.Errorf("Round trip changed type: got %s, want %s", back.Type(), ev.Type())
		}
	}
}

func TestDecodePayloadFields(t *testing.T) {
	data, err := Encode(&PeerMessage{ID: "m1", TargetUserID: "u2", Sender: models.User{ID: "u1", Username: "alice"}, Text: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	ev, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	pm, ok := ev.(*PeerMessage)
	if !ok {
		t.Fatalf("Expected *PeerMessage, got %T", ev)
	}
	if pm.Text != "hi" || pm.TargetUserID != "u2" || pm.Sender.Username != "alice" {
		t.Errorf("Decoded payload mismatch: %+v", pm)
	}
}

func TestDecodeUnknownTag(t *testing.T) {
	if _, err := Decode([]byte(`{"type":"SOMETHING_NEW","payload":{}}`)); err == nil {
		t.Error("Expected error for unknown event type, got nil")
	}
}

func TestDecodeGarbage(t *testing.T) {
	if _, err := Decode([]byte("not json")); err == nil {
		t.Error("Expected error for malformed envelope, got nil")
	}
}

func TestSubscribeAfterClose(t *testing.T) {
	b := New()
	b.Close()

	done := make(chan struct{})
	go func() {
		s := b.Subscribe()
		s.Publish(&RequestSync{})
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Subscribe blocked on a closed bus")
	}
}
