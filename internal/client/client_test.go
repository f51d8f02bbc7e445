package client

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"teletab/internal/ai"
	"teletab/internal/bus"
	"teletab/internal/models"
	"teletab/internal/store/sqlstore"
)

// quietHeartbeat keeps periodic presence traffic out of tests that inspect
// bus events directly.
const quietHeartbeat = time.Hour

type fakeResponder struct {
	mu         sync.Mutex
	calls      int
	reply      ai.Reply
	err        error
	block      chan struct{}
	pcm        []byte
	gotPrompt  string
	gotHistory []models.Message
}

func (f *fakeResponder) Generate(ctx context.Context, kind models.ThreadKind, prompt string, history []models.Message) (*ai.Reply, error) {
	f.mu.Lock()
	f.calls++
	f.gotPrompt = prompt
	f.gotHistory = append([]models.Message(nil), history...)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if f.err != nil {
		return nil, f.err
	}
	reply := f.reply
	return &reply, nil
}

func (f *fakeResponder) SynthesizeSpeech(ctx context.Context, text string) ([]byte, error) {
	return f.pcm, nil
}

func (f *fakeResponder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestClient(t *testing.T, b *bus.Bus, id, name string, rsp *fakeResponder) *Client {
	t.Helper()
	st, err := sqlstore.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}
	if rsp == nil {
		rsp = &fakeResponder{}
	}
	c := New(models.User{ID: id, Username: name}, st, b, rsp, quietHeartbeat)
	if err := c.Start(); err != nil {
		t.Fatalf("Failed to start client: %v", err)
	}
	return c
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func findThread(c *Client, id string) *models.ChatThread {
	for _, th := range c.Threads() {
		if th.ID == id {
			copied := th
			return &copied
		}
	}
	return nil
}

func TestDirectMessageCreatesThreadAtReceiver(t *testing.T) {
	b := bus.New()
	defer b.Close()
	a := newTestClient(t, b, "u1", "alice", nil)
	defer a.Logout()
	recv := newTestClient(t, b, "u2", "bob", nil)
	defer recv.Logout()

	a.OpenDirect(models.User{ID: "u2", Username: "bob"})
	if _, err := a.SendMessage("human_u2", "hi", "", ""); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}

	waitFor(t, func() bool { return findThread(recv, "human_u1") != nil },
		"Receiver never created the derived thread")

	th := findThread(recv, "human_u1")
	if len(th.Messages) != 1 {
		t.Fatalf("Expected exactly 1 message, got %d", len(th.Messages))
	}
	m := th.Messages[0]
	if m.Role != models.RoleModel || m.Text != "hi" || m.SenderID != "u1" {
		t.Errorf("Unexpected message: %+v", m)
	}

	// Only one such thread, created at the front.
	count := 0
	for _, th := range recv.Threads() {
		if th.ID == "human_u1" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("Expected exactly 1 new thread, got %d", count)
	}
	if recv.Threads()[0].ID != "human_u1" {
		t.Errorf("Expected new thread at front, got %s", recv.Threads()[0].ID)
	}
}

func TestMisaddressedMessagesMutateNothing(t *testing.T) {
	b := bus.New()
	defer b.Close()
	recv := newTestClient(t, b, "u2", "bob", nil)
	defer recv.Logout()
	before := len(recv.Threads())

	raw := b.Subscribe()
	defer raw.Close()

	// Direct message for someone else.
	raw.Publish(&bus.PeerMessage{ID: "m1", TargetUserID: "u9", Sender: models.User{ID: "u1"}, Text: "not yours"})
	// Group message whose member set excludes the local user.
	raw.Publish(&bus.PeerMessage{ID: "m2", IsGroup: true, GroupID: "group_x", MemberIDs: []string{"u1", "u9"}, Sender: models.User{ID: "u1"}, Text: "still not yours"})

	time.Sleep(150 * time.Millisecond)
	if got := len(recv.Threads()); got != before {
		t.Errorf("Expected thread count unchanged (%d), got %d", before, got)
	}
	for _, th := range recv.Threads() {
		for _, m := range th.Messages {
			if m.ID == "m1" || m.ID == "m2" {
				t.Errorf("Misaddressed message %s was appended", m.ID)
			}
		}
	}
}

func TestGroupMessageReachesMembers(t *testing.T) {
	b := bus.New()
	defer b.Close()
	a := newTestClient(t, b, "u1", "alice", nil)
	defer a.Logout()
	recv := newTestClient(t, b, "u2", "bob", nil)
	defer recv.Logout()

	g := a.CreateGroup("plans", []string{"u2"})
	a.SendMessage(g.ID, "meeting at 5", "", "")

	waitFor(t, func() bool {
		th := findThread(recv, g.ID)
		return th != nil && len(th.Messages) == 1
	}, "Group member never received the message")

	th := findThread(recv, g.ID)
	if !th.IsGroup || th.Name != "plans" {
		t.Errorf("Unexpected group thread: %+v", th)
	}
	if th.Messages[0].Text != "meeting at 5" {
		t.Errorf("Expected group message text, got %q", th.Messages[0].Text)
	}
}

func TestSelfNotesNeverHitTheBus(t *testing.T) {
	b := bus.New()
	defer b.Close()
	a := newTestClient(t, b, "u1", "alice", nil)
	defer a.Logout()

	raw := b.Subscribe()
	defer raw.Close()

	if _, err := a.SendMessage(models.SelfNotesThreadID, "private note", "", ""); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}

	select {
	case ev := <-raw.Events():
		t.Errorf("Self-notes send produced bus event %T", ev)
	case <-time.After(200 * time.Millisecond):
	}

	th := findThread(a, models.SelfNotesThreadID)
	if len(th.Messages) != 1 || th.Messages[0].Text != "private note" {
		t.Errorf("Expected local note appended, got %+v", th.Messages)
	}
}

func TestGlobalMessageFanOutAndCap(t *testing.T) {
	b := bus.New()
	defer b.Close()
	recv := newTestClient(t, b, "u2", "bob", nil)
	defer recv.Logout()

	raw := b.Subscribe()
	defer raw.Close()
	total := models.GlobalHistoryLimit + 20
	for i := 0; i < total; i++ {
		raw.Publish(&bus.GlobalMessage{ID: fmt.Sprintf("g%d", i), SenderID: "u1", SenderName: "alice", Text: "x"})
	}

	waitFor(t, func() bool {
		th := findThread(recv, models.GlobalThreadID)
		last := ""
		if n := len(th.Messages); n > 0 {
			last = th.Messages[n-1].ID
		}
		return last == fmt.Sprintf("g%d", total-1)
	}, "Global messages never fully delivered")

	th := findThread(recv, models.GlobalThreadID)
	if len(th.Messages) != models.GlobalHistoryLimit {
		t.Errorf("Expected global log capped at %d, got %d", models.GlobalHistoryLimit, len(th.Messages))
	}
}

func TestOwnGlobalMessageNotDuplicated(t *testing.T) {
	b := bus.New()
	defer b.Close()
	a := newTestClient(t, b, "u1", "alice", nil)
	defer a.Logout()

	a.SendMessage(models.GlobalThreadID, "hello world", "", "")

	// Deliver the same event back as if a sibling tab of the same user
	// relayed it; the sender-id filter must reject it.
	raw := b.Subscribe()
	defer raw.Close()
	raw.Publish(&bus.GlobalMessage{ID: "echo", SenderID: "u1", SenderName: "alice", Text: "hello world"})
	time.Sleep(150 * time.Millisecond)

	th := findThread(a, models.GlobalThreadID)
	if len(th.Messages) != 1 {
		t.Errorf("Expected 1 global message, got %d", len(th.Messages))
	}
}

func TestEditPropagatesEverywhere(t *testing.T) {
	b := bus.New()
	defer b.Close()
	a := newTestClient(t, b, "u1", "alice", nil)
	defer a.Logout()
	recv := newTestClient(t, b, "u2", "bob", nil)
	defer recv.Logout()

	a.OpenDirect(models.User{ID: "u2", Username: "bob"})
	sent, _ := a.SendMessage("human_u2", "tpyo", "", "")
	waitFor(t, func() bool { return findThread(recv, "human_u1") != nil },
		"Message never delivered")

	a.EditMessage(sent.ID, "typo")

	waitFor(t, func() bool {
		th := findThread(recv, "human_u1")
		return th.Messages[0].Text == "typo" && th.Messages[0].IsEdited
	}, "Edit never propagated")

	local := findThread(a, "human_u2")
	if local.Messages[0].Text != "typo" || !local.Messages[0].IsEdited {
		t.Errorf("Expected local edit applied, got %+v", local.Messages[0])
	}
}

func TestRapidEditsKeepLatest(t *testing.T) {
	b := bus.New()
	defer b.Close()
	a := newTestClient(t, b, "u1", "alice", nil)
	defer a.Logout()
	recv := newTestClient(t, b, "u2", "bob", nil)
	defer recv.Logout()

	a.OpenDirect(models.User{ID: "u2", Username: "bob"})
	sent, _ := a.SendMessage("human_u2", "v0", "", "")
	waitFor(t, func() bool { return findThread(recv, "human_u1") != nil },
		"Message never delivered")

	a.EditMessage(sent.ID, "v1")
	a.EditMessage(sent.ID, "v2")

	waitFor(t, func() bool {
		return findThread(recv, "human_u1").Messages[0].Text == "v2"
	}, "Latest edit never won")
}

func TestRequestSyncTriggersReannounce(t *testing.T) {
	b := bus.New()
	defer b.Close()
	a := newTestClient(t, b, "u1", "alice", nil)
	defer a.Logout()
	recv := newTestClient(t, b, "u2", "bob", nil)
	defer recv.Logout()

	raw := b.Subscribe()
	defer raw.Close()
	raw.Publish(&bus.RequestSync{})

	seen := map[string]int{}
	deadline := time.After(time.Second)
	for len(seen) < 2 {
		select {
		case ev := <-raw.Events():
			if p, ok := ev.(*bus.Presence); ok {
				seen[p.User.ID]++
			}
		case <-deadline:
			t.Fatalf("Expected presence from both tabs, saw %v", seen)
		}
	}
	if seen["u1"] == 0 || seen["u2"] == 0 {
		t.Errorf("Expected both tabs to re-announce, saw %v", seen)
	}

	// No duplicate tracker entries regardless of how many announces landed.
	waitFor(t, func() bool { return a.Tracker.IsOnline("u2") }, "Tracker never saw peer")
	if n := len(a.Tracker.Online()); n != 1 {
		t.Errorf("Expected 1 tracked user, got %d", n)
	}
}

func TestUserUpdatePatchesThreads(t *testing.T) {
	b := bus.New()
	defer b.Close()
	recv := newTestClient(t, b, "u2", "bob", nil)
	defer recv.Logout()

	recv.OpenDirect(models.User{ID: "u1", Username: "alice", Avatar: "old"})

	raw := b.Subscribe()
	defer raw.Close()
	raw.Publish(&bus.UserUpdate{User: models.User{ID: "u1", Username: "alicia", Avatar: "new"}})

	waitFor(t, func() bool {
		th := findThread(recv, "human_u1")
		return th.Name == "alicia" && th.Avatar == "new"
	}, "Profile update never patched the thread")
}

func TestTypingIndicator(t *testing.T) {
	b := bus.New()
	defer b.Close()
	a := newTestClient(t, b, "u1", "alice", nil)
	defer a.Logout()
	recv := newTestClient(t, b, "u2", "bob", nil)
	defer recv.Logout()

	a.OpenDirect(models.User{ID: "u2", Username: "bob"})
	recv.OpenDirect(models.User{ID: "u1", Username: "alice"})

	a.Typing("human_u2", true)
	waitFor(t, func() bool { return findThread(recv, "human_u1").IsTyping },
		"Typing indicator never set")

	a.Typing("human_u2", false)
	waitFor(t, func() bool { return !findThread(recv, "human_u1").IsTyping },
		"Typing indicator never cleared")
}

func TestSnapshotRoundTripAcrossSessions(t *testing.T) {
	b := bus.New()
	defer b.Close()
	st, err := sqlstore.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}

	first := New(models.User{ID: "u1", Username: "alice"}, st, b, &fakeResponder{}, quietHeartbeat)
	if err := first.Start(); err != nil {
		t.Fatal(err)
	}
	first.SendMessage(models.SelfNotesThreadID, "note one", "", "")
	first.SendMessage(models.GlobalThreadID, "to everyone", "", "")
	wantOrder := []string{}
	for _, th := range first.Threads() {
		wantOrder = append(wantOrder, th.ID)
	}
	first.Logout()

	// Fresh session, same storage.
	second := New(models.User{ID: "u1", Username: "alice"}, st, b, &fakeResponder{}, quietHeartbeat)
	if err := second.Start(); err != nil {
		t.Fatal(err)
	}
	defer second.Logout()

	gotOrder := []string{}
	for _, th := range second.Threads() {
		gotOrder = append(gotOrder, th.ID)
	}
	if strings.Join(gotOrder, ",") != strings.Join(wantOrder, ",") {
		t.Errorf("Thread order not preserved: got %v, want %v", gotOrder, wantOrder)
	}
	notes := findThread(second, models.SelfNotesThreadID)
	if notes == nil || len(notes.Messages) != 1 || notes.Messages[0].Text != "note one" {
		t.Errorf("Self-notes not restored: %+v", notes)
	}
	global := findThread(second, models.GlobalThreadID)
	if len(global.Messages) != 1 || global.Messages[0].Text != "to everyone" {
		t.Errorf("Global history not restored: %+v", global.Messages)
	}
}

func TestFreshUserInheritsGlobalHistory(t *testing.T) {
	b := bus.New()
	defer b.Close()
	st, err := sqlstore.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}

	first := New(models.User{ID: "u1", Username: "alice"}, st, b, &fakeResponder{}, quietHeartbeat)
	first.Start()
	first.SendMessage(models.GlobalThreadID, "before you arrived", "", "")
	first.Logout()

	// A different user on the same machine sees the shared global log.
	second := New(models.User{ID: "u2", Username: "bob"}, st, b, &fakeResponder{}, quietHeartbeat)
	second.Start()
	defer second.Logout()

	global := findThread(second, models.GlobalThreadID)
	if len(global.Messages) != 1 || global.Messages[0].Text != "before you arrived" {
		t.Errorf("Expected inherited global history, got %+v", global.Messages)
	}
}

func TestAIReplyAppended(t *testing.T) {
	b := bus.New()
	defer b.Close()
	rsp := &fakeResponder{reply: ai.Reply{Text: "certainly!"}}
	a := newTestClient(t, b, "u1", "alice", rsp)
	defer a.Logout()

	a.SendMessage("bot_assistant", "help me", "", "")

	waitFor(t, func() bool {
		th := findThread(a, "bot_assistant")
		return len(th.Messages) == 3 // welcome + user + reply
	}, "AI reply never appended")

	th := findThread(a, "bot_assistant")
	last := th.Messages[2]
	if last.Role != models.RoleModel || last.Text != "certainly!" {
		t.Errorf("Unexpected AI reply: %+v", last)
	}
}

func TestAIFailureSurfacesInlineError(t *testing.T) {
	b := bus.New()
	defer b.Close()
	rsp := &fakeResponder{err: fmt.Errorf("quota exceeded")}
	a := newTestClient(t, b, "u1", "alice", rsp)
	defer a.Logout()

	a.SendMessage("bot_assistant", "help me", "", "")

	waitFor(t, func() bool {
		th := findThread(a, "bot_assistant")
		return len(th.Messages) == 3
	}, "Inline error never appended")

	last := findThread(a, "bot_assistant").Messages[2]
	if last.Role != models.RoleModel || !strings.Contains(last.Text, "Reply failed") {
		t.Errorf("Expected inline error message, got %+v", last)
	}
}

func TestAIGenerationsSerializedPerThread(t *testing.T) {
	b := bus.New()
	defer b.Close()
	rsp := &fakeResponder{reply: ai.Reply{Text: "done"}, block: make(chan struct{})}
	a := newTestClient(t, b, "u1", "alice", rsp)
	defer a.Logout()

	a.SendMessage("bot_assistant", "first", "", "")
	waitFor(t, func() bool { return rsp.callCount() == 1 }, "First generation never started")

	// Second send while the first is in flight: the user message lands but
	// no second request is issued.
	a.SendMessage("bot_assistant", "second", "", "")
	time.Sleep(100 * time.Millisecond)
	if got := rsp.callCount(); got != 1 {
		t.Fatalf("Expected 1 in-flight generation, got %d", got)
	}

	close(rsp.block)
	waitFor(t, func() bool {
		th := findThread(a, "bot_assistant")
		return len(th.Messages) == 4 // welcome + 2 user + 1 reply
	}, "Reply never appended after unblock")
	if got := rsp.callCount(); got != 1 {
		t.Errorf("Expected exactly 1 generation call, got %d", got)
	}
}

func TestThreadsSnapshotIsolatedFromLaterEdits(t *testing.T) {
	b := bus.New()
	defer b.Close()
	a := newTestClient(t, b, "u1", "alice", nil)
	defer a.Logout()

	sent, err := a.SendMessage(models.SelfNotesThreadID, "draft", "", "")
	if err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
	snap := findThread(a, models.SelfNotesThreadID)

	a.EditMessage(sent.ID, "final")

	// The snapshot taken before the edit must not see it.
	if snap.Messages[0].Text != "draft" || snap.Messages[0].IsEdited {
		t.Errorf("Snapshot aliases live state: %+v", snap.Messages[0])
	}
	live := findThread(a, models.SelfNotesThreadID)
	if live.Messages[0].Text != "final" {
		t.Errorf("Expected live view edited, got %+v", live.Messages[0])
	}
}

func TestAIHistoryExcludesCurrentPrompt(t *testing.T) {
	b := bus.New()
	defer b.Close()
	rsp := &fakeResponder{reply: ai.Reply{Text: "sure"}}
	a := newTestClient(t, b, "u1", "alice", rsp)
	defer a.Logout()

	a.SendMessage("bot_assistant", "help me", "", "")
	waitFor(t, func() bool {
		return len(findThread(a, "bot_assistant").Messages) == 3
	}, "Reply never appended")

	rsp.mu.Lock()
	prompt, history := rsp.gotPrompt, rsp.gotHistory
	rsp.mu.Unlock()
	if prompt != "help me" {
		t.Errorf("Expected prompt 'help me', got %q", prompt)
	}
	// The prompt is its own turn; the history carries only prior messages.
	if len(history) != 1 || history[0].Role != models.RoleModel {
		t.Fatalf("Expected only the welcome message in history, got %+v", history)
	}
	for _, m := range history {
		if m.Text == "help me" {
			t.Error("Prompt duplicated into the history")
		}
	}
}

func TestLogoutAnnouncesOffline(t *testing.T) {
	b := bus.New()
	defer b.Close()
	recv := newTestClient(t, b, "u2", "bob", nil)
	defer recv.Logout()

	a := newTestClient(t, b, "u1", "alice", nil)
	a.announce()
	waitFor(t, func() bool { return recv.Tracker.IsOnline("u1") }, "Peer never came online")

	a.Logout()
	waitFor(t, func() bool { return !recv.Tracker.IsOnline("u1") }, "Peer never went offline")
}
