// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package chatui

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"

	"github.com/conact/conact/lib/clock"
	"github.com/conact/conact/lib/conversation"
	"github.com/conact/conact/lib/notify"
	"github.com/conact/conact/lib/ref"
	"github.com/conact/conact/lib/testutil"
	"github.com/conact/conact/lib/timeline"
	"github.com/conact/conact/lib/voice"
)

type fakeConversation struct {
	reconciler *timeline.Reconciler
	states     notify.Broadcaster[conversation.StateChange]
	scroll     notify.Broadcaster[conversation.ScrollRequest]

	mu      sync.Mutex
	state   conversation.State
	roomID  ref.RoomID
	draft   string
	sent    []string
	images  []string
	sendErr error
}

func newFakeConversation() *fakeConversation {
	return &fakeConversation{
		reconciler: timeline.NewReconciler(slog.New(slog.DiscardHandler)),
		state:      conversation.Ready,
		roomID:     ref.MustParseRoomID("!general:conact.chat"),
	}
}

func (f *fakeConversation) Messages() *timeline.Reconciler { return f.reconciler }

func (f *fakeConversation) State() (conversation.State, ref.RoomID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.roomID
}

func (f *fakeConversation) OnState(fn func(conversation.StateChange)) func() {
	return f.states.Subscribe(fn)
}

func (f *fakeConversation) OnScroll(fn func(conversation.ScrollRequest)) func() {
	return f.scroll.Subscribe(fn)
}

func (f *fakeConversation) Draft() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.draft
}

func (f *fakeConversation) SetDraft(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.draft = text
}

func (f *fakeConversation) Send(ctx context.Context, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, body)
	f.draft = ""
	return "txn", f.sendErr
}

func (f *fakeConversation) SendImage(ctx context.Context, url, title string, width, height int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images = append(f.images, url+" "+title)
	return "txn", f.sendErr
}

type fakeVoice struct {
	registry *voice.Registry
	states   notify.Broadcaster[voice.State]

	mu      sync.Mutex
	state   voice.State
	calls   []string
	volumes map[string]int
	muted   map[string]bool
}

func newFakeVoice() *fakeVoice {
	return &fakeVoice{
		registry: voice.NewRegistry(slog.New(slog.DiscardHandler)),
		state:    voice.State{Connection: voice.Connected, ChannelID: "lounge"},
		volumes:  make(map[string]int),
		muted:    make(map[string]bool),
	}
}

func (f *fakeVoice) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeVoice) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeVoice) State() voice.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeVoice) setState(state voice.State) {
	f.mu.Lock()
	f.state = state
	f.mu.Unlock()
	f.states.Notify(state)
}

func (f *fakeVoice) OnState(fn func(voice.State)) func() { return f.states.Subscribe(fn) }
func (f *fakeVoice) Registry() *voice.Registry           { return f.registry }

func (f *fakeVoice) ToggleMute(context.Context) error        { f.record("mute"); return nil }
func (f *fakeVoice) ToggleDeafen(context.Context) error      { f.record("deafen"); return nil }
func (f *fakeVoice) ToggleVideo(context.Context) error       { f.record("video"); return nil }
func (f *fakeVoice) ToggleScreenShare(context.Context) error { f.record("share"); return nil }
func (f *fakeVoice) Disconnect(context.Context) error        { f.record("leave"); return nil }

func (f *fakeVoice) SendPing(ctx context.Context, identity string) error {
	f.record("ping " + identity)
	return nil
}

func (f *fakeVoice) SetParticipantVolume(ctx context.Context, identity string, volume int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes[identity] = volume
	return nil
}

func (f *fakeVoice) ToggleParticipantMute(ctx context.Context, identity string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted[identity] = !f.muted[identity]
	return f.muted[identity], nil
}

func (f *fakeVoice) ParticipantVolume(identity string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if volume, ok := f.volumes[identity]; ok {
		return volume
	}
	return 100
}

func (f *fakeVoice) IsParticipantMuted(identity string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.muted[identity]
}

type harness struct {
	t            *testing.T
	conversation *fakeConversation
	voice        *fakeVoice
	clock        *clock.FakeClock
	model        Model
}

func newHarness(t *testing.T, withVoice bool) *harness {
	t.Helper()
	h := &harness{
		t:            t,
		conversation: newFakeConversation(),
		clock:        clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	config := Config{
		Conversation: h.conversation,
		Title:        "#general",
		Clock:        h.clock,
		Logger:       slog.New(slog.DiscardHandler),
	}
	if withVoice {
		h.voice = newFakeVoice()
		config.Voice = h.voice
	}
	model, err := NewModel(config)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	t.Cleanup(model.Close)
	h.model = model
	h.update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return h
}

func (h *harness) update(message tea.Msg) tea.Cmd {
	h.t.Helper()
	updated, cmd := h.model.Update(message)
	h.model = updated.(Model)
	return cmd
}

// refresh waits for the pending change notification and applies it.
func (h *harness) refresh() refreshMsg {
	h.t.Helper()
	result := make(chan tea.Msg, 1)
	go func() { result <- h.model.listen()() }()
	message := testutil.RequireReceive(h.t, result, 5*time.Second, "waiting for change notification")
	refresh, ok := message.(refreshMsg)
	if !ok {
		h.t.Fatalf("listen returned %T, want refreshMsg", message)
	}
	h.update(refresh)
	return refresh
}

// run executes cmd and feeds its result back into the model.
func (h *harness) run(cmd tea.Cmd) tea.Msg {
	h.t.Helper()
	if cmd == nil {
		h.t.Fatal("expected a command")
	}
	message := cmd()
	h.update(message)
	return message
}

func (h *harness) typeText(text string) {
	h.t.Helper()
	h.update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
}

func (h *harness) view() string {
	return ansi.Strip(h.model.View())
}

func TestModelRendersMessageStates(t *testing.T) {
	h := newHarness(t, false)
	h.conversation.reconciler.Seed([]timeline.Message{
		{ID: ref.MustParseEventID("$1"), SenderID: "@alice:x", SenderName: "alice", Content: "hello **world**"},
		{TransactionID: "t1", SenderID: "@me:x", SenderName: "me", Content: "on its way", Own: true, Pending: true},
		{ID: ref.MustParseEventID("$2"), SenderID: "@bob:x", SenderName: "bob", Decrypting: true},
		{ID: ref.MustParseEventID("$3"), SenderID: "@bob:x", SenderName: "bob", DecryptionError: "missing keys"},
		{ID: ref.MustParseEventID("$4"), SenderID: "@carol:x", SenderName: "carol", Content: "cat.png",
			Image: &timeline.Image{URL: "https://media.example/cat.png", Width: 640, Height: 480}},
	})
	h.refresh()

	view := h.view()
	for _, want := range []string{
		"#general",
		"alice", "hello world",
		"on its way", "sending",
		"decrypting…",
		"unable to decrypt: missing keys",
		"[image: cat.png] 640×480", "https://media.example/cat.png",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestModelIgnitesAppendedMessages(t *testing.T) {
	h := newHarness(t, false)
	h.conversation.reconciler.Seed([]timeline.Message{
		{ID: ref.MustParseEventID("$old"), SenderID: "@alice:x", Content: "history"},
	})
	if refresh := h.refresh(); len(refresh.ignite) != 0 {
		t.Errorf("seed ignited %v, want nothing", refresh.ignite)
	}

	h.conversation.reconciler.Apply(timeline.Message{TransactionID: "t9", SenderID: "@me:x", Content: "fresh", Own: true, Pending: true})
	refresh := h.refresh()
	if len(refresh.ignite) != 1 || refresh.ignite[0] != "txn:t9" {
		t.Fatalf("ignite = %v, want [txn:t9]", refresh.ignite)
	}
	if heat := h.model.heat.Heat("txn:t9", h.clock.Now()); heat != 1 {
		t.Errorf("heat = %v, want 1", heat)
	}
	if !h.model.tickRunning {
		t.Error("heat tick not started")
	}

	// The server echo merges into the same entry and does not re-ignite.
	h.conversation.reconciler.Apply(timeline.Message{ID: ref.MustParseEventID("$new"), TransactionID: "t9", SenderID: "@me:x", Content: "fresh", Own: true})
	if refresh := h.refresh(); len(refresh.ignite) != 0 {
		t.Errorf("merge ignited %v", refresh.ignite)
	}

	h.clock.Advance(HeatDecayDuration)
	h.update(heatTickMsg{})
	if h.model.tickRunning {
		t.Error("heat tick still running after decay")
	}
}

func TestModelSendsComposerText(t *testing.T) {
	h := newHarness(t, false)
	h.typeText("hi there")
	if got := h.conversation.Draft(); got != "hi there" {
		t.Errorf("draft = %q, want %q", got, "hi there")
	}

	h.run(h.update(tea.KeyMsg{Type: tea.KeyEnter}))
	if len(h.conversation.sent) != 1 || h.conversation.sent[0] != "hi there" {
		t.Fatalf("sent = %v", h.conversation.sent)
	}
	if h.model.input.Value() != "" {
		t.Errorf("input = %q after send", h.model.input.Value())
	}

	// Whitespace is not sent.
	h.typeText("   ")
	if cmd := h.update(tea.KeyMsg{Type: tea.KeyEnter}); cmd != nil {
		t.Error("whitespace-only input produced a command")
	}
}

func TestModelSendFailureShowsStatus(t *testing.T) {
	h := newHarness(t, false)
	h.conversation.sendErr = errors.New("homeserver unreachable")
	h.typeText("hello")
	h.run(h.update(tea.KeyMsg{Type: tea.KeyEnter}))
	if !h.model.statusIsError || !strings.Contains(h.view(), "homeserver unreachable") {
		t.Errorf("status = %q (error %v)", h.model.status, h.model.statusIsError)
	}

	// A stale fade leaves a newer status alone.
	h.update(statusFadeMsg{sequence: h.model.statusSequence - 1})
	if h.model.status == "" {
		t.Error("stale fade cleared the status")
	}
	h.update(statusFadeMsg{sequence: h.model.statusSequence})
	if h.model.status != "" {
		t.Errorf("status = %q after fade", h.model.status)
	}
}

func TestModelSlashCommands(t *testing.T) {
	h := newHarness(t, true)

	for _, input := range []string{"/mute", "/deafen", "/video", "/share", "/ping @bob:x", "/leave"} {
		h.typeText(input)
		h.run(h.update(tea.KeyMsg{Type: tea.KeyEnter}))
	}
	want := []string{"mute", "deafen", "video", "share", "ping @bob:x", "leave"}
	if got := h.voice.Calls(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", got, want)
	}

	h.typeText("/volume @bob:x 40")
	h.run(h.update(tea.KeyMsg{Type: tea.KeyEnter}))
	if got := h.voice.ParticipantVolume("@bob:x"); got != 40 {
		t.Errorf("volume = %d, want 40", got)
	}

	h.typeText("/silence @bob:x")
	h.run(h.update(tea.KeyMsg{Type: tea.KeyEnter}))
	if !h.voice.IsParticipantMuted("@bob:x") || h.model.status != "silenced @bob:x" {
		t.Errorf("muted = %v, status = %q", h.voice.IsParticipantMuted("@bob:x"), h.model.status)
	}

	h.typeText("/image https://media.example/a.gif party time")
	h.run(h.update(tea.KeyMsg{Type: tea.KeyEnter}))
	if len(h.conversation.images) != 1 || h.conversation.images[0] != "https://media.example/a.gif party time" {
		t.Errorf("images = %v", h.conversation.images)
	}

	h.typeText("//shrug")
	h.run(h.update(tea.KeyMsg{Type: tea.KeyEnter}))
	if len(h.conversation.sent) != 1 || h.conversation.sent[0] != "/shrug" {
		t.Errorf("sent = %v, want [/shrug]", h.conversation.sent)
	}
}

func TestModelCommandErrors(t *testing.T) {
	tests := []struct {
		input string
		voice bool
		want  string
	}{
		{"/volume @bob:x loud", true, `volume "loud" is not a number`},
		{"/volume @bob:x 150", true, "volume 150 is outside 0-100"},
		{"/ping", true, "usage: /ping <user>"},
		{"/dance", true, "unknown command /dance"},
		{"/mute", false, ErrVoiceUnavailable.Error()},
	}
	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			h := newHarness(t, test.voice)
			h.typeText(test.input)
			h.update(tea.KeyMsg{Type: tea.KeyEnter})
			if !h.model.statusIsError || !strings.Contains(h.model.status, test.want) {
				t.Errorf("status = %q (error %v), want %q", h.model.status, h.model.statusIsError, test.want)
			}
		})
	}
}

func TestModelVoicePanel(t *testing.T) {
	h := newHarness(t, true)
	h.voice.registry.SetLocal("@me:x", "me")
	h.voice.registry.UpdateLocal(func(p *voice.Participant) { p.AudioMuted = true })
	h.voice.registry.Seed([]voice.RemoteParticipant{{Identity: "@bob:x", Name: "Bob"}})
	h.voice.registry.SetSpeakers([]string{"@bob:x"})
	h.voice.volumes["@bob:x"] = 40
	h.voice.setState(voice.State{Connection: voice.Connected, ChannelID: "lounge", Muted: true, Deafened: true})
	h.refresh()

	view := h.view()
	for _, want := range []string{"voice: connected", "#lounge", "muted · deafened", "me (you) mic off", "● Bob", "40%"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}

	// Narrow windows drop the panel.
	h.update(tea.WindowSizeMsg{Width: 50, Height: 20})
	if strings.Contains(h.view(), "voice: connected") {
		t.Error("panel shown in a narrow window")
	}
}

func TestModelKeyShortcuts(t *testing.T) {
	h := newHarness(t, true)
	h.run(h.update(tea.KeyMsg{Type: tea.KeyCtrlT}))
	h.run(h.update(tea.KeyMsg{Type: tea.KeyCtrlY}))
	if got := h.voice.Calls(); strings.Join(got, ",") != "mute,deafen" {
		t.Errorf("calls = %v", got)
	}

	h.typeText("draft")
	h.update(tea.KeyMsg{Type: tea.KeyEsc})
	if h.model.input.Value() != "" || h.conversation.Draft() != "" {
		t.Errorf("input %q, draft %q after esc", h.model.input.Value(), h.conversation.Draft())
	}
}

func TestModelRequiresConversation(t *testing.T) {
	if _, err := NewModel(Config{}); err == nil {
		t.Fatal("NewModel without a conversation succeeded")
	}
}

func TestModelShowsLogRecords(t *testing.T) {
	h := newHarness(t, false)
	handler := NewTUILogHandler(slog.LevelWarn)
	record := slog.NewRecord(time.Now(), slog.LevelError, "sync failed", 0)
	record.AddAttrs(slog.String("room_id", "!r:x"))

	derived := handler.WithAttrs([]slog.Attr{slog.String("component", "timeline")}).(*TUILogHandler)
	h.update(logRecordMsg{summary: derived.summarize(record), level: record.Level})
	if want := "sync failed (component=timeline, room_id=!r:x)"; h.model.status != want || !h.model.statusIsError {
		t.Errorf("status = %q (error %v), want %q", h.model.status, h.model.statusIsError, want)
	}

	if handler.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info enabled on a warn handler")
	}
	// Without a program the record is dropped.
	if err := handler.Handle(context.Background(), record); err != nil {
		t.Errorf("Handle: %v", err)
	}
}
