// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/conact/conact/lib/clock"
	"github.com/conact/conact/lib/ref"
	"github.com/conact/conact/lib/testutil"
	"github.com/conact/conact/lib/timeline"
	"github.com/conact/conact/lib/txnid"
	"github.com/conact/conact/messaging"
)

var (
	roomA = ref.MustParseRoomID("!a:example.org")
	roomB = ref.MustParseRoomID("!b:example.org")
	me    = ref.MustParseUserID("@me:example.org")
)

// fakeMatrix is a messaging.Session serving scripted history pages and
// sync batches.
type fakeMatrix struct {
	mu       sync.Mutex
	pages    map[ref.RoomID]map[string]*messaging.RoomMessagesResponse
	pageErr  error
	requests []messaging.RoomMessagesOptions

	// blockRoom's history requests wait for release after announcing
	// themselves on started.
	blockRoom ref.RoomID
	started   chan struct{}
	release   chan struct{}

	syncs   []*messaging.SyncResponse
	sendErr error
	sent    []string
}

func newFakeMatrix() *fakeMatrix {
	return &fakeMatrix{pages: make(map[ref.RoomID]map[string]*messaging.RoomMessagesResponse)}
}

func (f *fakeMatrix) setPage(roomID ref.RoomID, from string, response *messaging.RoomMessagesResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pages[roomID] == nil {
		f.pages[roomID] = make(map[string]*messaging.RoomMessagesResponse)
	}
	f.pages[roomID][from] = response
}

func (f *fakeMatrix) UserID() ref.UserID { return me }

func (f *fakeMatrix) Sync(context.Context, messaging.SyncOptions) (*messaging.SyncResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.syncs) == 0 {
		return &messaging.SyncResponse{NextBatch: "idle"}, nil
	}
	next := f.syncs[0]
	f.syncs = f.syncs[1:]
	return next, nil
}

func (f *fakeMatrix) JoinRoom(_ context.Context, roomID ref.RoomID) (ref.RoomID, error) {
	return roomID, nil
}

func (f *fakeMatrix) RoomMessages(_ context.Context, roomID ref.RoomID, options messaging.RoomMessagesOptions) (*messaging.RoomMessagesResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, options)
	block := roomID == f.blockRoom && f.release != nil
	f.mu.Unlock()

	if block {
		f.started <- struct{}{}
		<-f.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pageErr != nil {
		return nil, f.pageErr
	}
	if page, ok := f.pages[roomID][options.From]; ok {
		return page, nil
	}
	return &messaging.RoomMessagesResponse{}, nil
}

func (f *fakeMatrix) SendEventWithTransaction(_ context.Context, _ ref.RoomID, _ ref.EventType, transactionID string, _ any) (ref.EventID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, transactionID)
	if f.sendErr != nil {
		return ref.EventID{}, f.sendErr
	}
	return ref.MustParseEventID("$sent"), nil
}

func (f *fakeMatrix) pushSync(roomID ref.RoomID, events ...messaging.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs = append(f.syncs, &messaging.SyncResponse{
		NextBatch: fmt.Sprintf("s%d", len(f.syncs)+1),
		Rooms: messaging.RoomsSection{Join: map[ref.RoomID]messaging.JoinedRoom{
			roomID: {Timeline: messaging.TimelineSection{Events: events}},
		}},
	})
}

func text(id, body string) messaging.Event {
	return messaging.Event{
		EventID:        ref.MustParseEventID(id),
		Type:           ref.EventTypeRoomMessage,
		Sender:         "@alice:example.org",
		OriginServerTS: 1000,
		Content:        map[string]any{"msgtype": "m.text", "body": body},
	}
}

type harness struct {
	matrix   *fakeMatrix
	timeline *messaging.Timeline
	session  *Session
}

func newHarness(t *testing.T, configure func(*Config)) *harness {
	t.Helper()
	fakeClock := clock.Fake(time.Unix(1700000000, 0))
	matrix := newFakeMatrix()
	hub, err := messaging.NewTimeline(messaging.TimelineConfig{Session: matrix, Clock: fakeClock})
	if err != nil {
		t.Fatalf("NewTimeline: %v", err)
	}
	// The first sync is the initial sync and only delivers history.
	if err := hub.SyncOnce(context.Background()); err != nil {
		t.Fatalf("initial SyncOnce: %v", err)
	}

	config := Config{
		History:        matrix,
		Live:           hub,
		Normalizer:     timeline.NewNormalizer(timeline.NormalizerConfig{LocalUser: me}),
		TransactionIDs: txnid.New(fakeClock),
		Clock:          fakeClock,
	}
	if configure != nil {
		configure(&config)
	}
	session, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &harness{matrix: matrix, timeline: hub, session: session}
}

func (h *harness) sync(t *testing.T) {
	t.Helper()
	if err := h.timeline.SyncOnce(context.Background()); err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}
}

func contents(messages []timeline.Message) []string {
	result := make([]string, len(messages))
	for i, message := range messages {
		result[i] = message.Content
	}
	return result
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New with no dependencies should fail")
	}
}

func TestOpenLoadsHistoryInChronologicalOrder(t *testing.T) {
	h := newHarness(t, nil)
	member := messaging.Event{Type: ref.EventTypeRoomMember, Sender: "@alice:example.org"}
	h.matrix.setPage(roomA, "", &messaging.RoomMessagesResponse{
		Chunk: []messaging.Event{text("$5", "five"), member, text("$4", "four"), text("$3", "three")},
		End:   "p1",
	})
	h.matrix.setPage(roomA, "p1", &messaging.RoomMessagesResponse{
		Chunk: []messaging.Event{text("$2", "two"), text("$1", "one")},
	})

	var states []State
	h.session.OnState(func(change StateChange) { states = append(states, change.State) })
	var scrolls []ScrollRequest
	h.session.OnScroll(func(request ScrollRequest) { scrolls = append(scrolls, request) })

	if err := h.session.Open(context.Background(), roomA); err != nil {
		t.Fatalf("Open: %v", err)
	}

	got := contents(h.session.Messages().Messages())
	want := []string{"one", "two", "three", "four", "five"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("messages = %v, want %v", got, want)
	}
	if len(h.matrix.requests) != 2 {
		t.Fatalf("requests = %+v", h.matrix.requests)
	}
	if first := h.matrix.requests[0]; first.Direction != "b" || first.Limit != 50 || first.From != "" {
		t.Errorf("first request = %+v", first)
	}
	if second := h.matrix.requests[1]; second.From != "p1" || second.Limit != 47 {
		t.Errorf("second request = %+v, want from p1 limit 47", second)
	}
	if fmt.Sprint(states) != "[loading ready]" {
		t.Errorf("states = %v", states)
	}
	if len(scrolls) != 1 || scrolls[0].Animated {
		t.Errorf("scrolls = %+v, want one jump to bottom", scrolls)
	}
	if state, room := h.session.State(); state != Ready || room != roomA {
		t.Errorf("State() = %s %s", state, room)
	}
}

func TestOpenPaginationCeiling(t *testing.T) {
	h := newHarness(t, nil)
	// Every page holds one event and points at another page.
	for i := range 10 {
		from := ""
		if i > 0 {
			from = fmt.Sprintf("p%d", i)
		}
		h.matrix.setPage(roomA, from, &messaging.RoomMessagesResponse{
			Chunk: []messaging.Event{text(fmt.Sprintf("$%d", i), fmt.Sprint(i))},
			End:   fmt.Sprintf("p%d", i+1),
		})
	}

	if err := h.session.Open(context.Background(), roomA); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(h.matrix.requests) != 6 {
		t.Errorf("made %d requests, want the first page plus 5 paginations", len(h.matrix.requests))
	}
	for _, request := range h.matrix.requests[1:] {
		if request.Limit < 30 {
			t.Errorf("page size %d below the minimum", request.Limit)
		}
	}
	if got := h.session.Messages().Len(); got != 6 {
		t.Errorf("loaded %d messages, want 6", got)
	}
}

func TestOpenKeepsNewestPageTarget(t *testing.T) {
	h := newHarness(t, func(config *Config) { config.PageTarget = 3 })
	h.matrix.setPage(roomA, "", &messaging.RoomMessagesResponse{
		Chunk: []messaging.Event{text("$5", "five"), text("$4", "four"), text("$3", "three"), text("$2", "two"), text("$1", "one")},
		End:   "more",
	})

	if err := h.session.Open(context.Background(), roomA); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := fmt.Sprint(contents(h.session.Messages().Messages())); got != "[three four five]" {
		t.Errorf("messages = %s", got)
	}
	if len(h.matrix.requests) != 1 {
		t.Errorf("paginated although the target was met: %+v", h.matrix.requests)
	}
}

func TestOpenDeduplicatesHistory(t *testing.T) {
	h := newHarness(t, nil)
	h.matrix.setPage(roomA, "", &messaging.RoomMessagesResponse{
		Chunk: []messaging.Event{text("$2", "two"), text("$1", "one")},
		End:   "p1",
	})
	h.matrix.setPage(roomA, "p1", &messaging.RoomMessagesResponse{
		Chunk: []messaging.Event{text("$1", "one again"), text("$0", "zero")},
	})

	if err := h.session.Open(context.Background(), roomA); err != nil {
		t.Fatalf("Open: %v", err)
	}
	// Chronological: zero, one again, one, two. The first occurrence of
	// $1 in that order wins.
	if got := fmt.Sprint(contents(h.session.Messages().Messages())); got != "[zero one again two]" {
		t.Errorf("messages = %s", got)
	}
}

func TestOpenHistoryFailureStillGoesReady(t *testing.T) {
	h := newHarness(t, nil)
	h.matrix.pageErr = errors.New("homeserver unavailable")

	if err := h.session.Open(context.Background(), roomA); err == nil {
		t.Fatal("expected history error")
	}
	if state, _ := h.session.State(); state != Ready {
		t.Errorf("state = %s, want ready", state)
	}

	h.matrix.pushSync(roomA, text("$live", "live"))
	h.sync(t)
	if got := fmt.Sprint(contents(h.session.Messages().Messages())); got != "[live]" {
		t.Errorf("messages = %s", got)
	}
}

func TestSendReconcilesLocalAndRemoteEcho(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.session.Open(context.Background(), roomA); err != nil {
		t.Fatalf("Open: %v", err)
	}
	h.session.SetDraft("hi")

	transactionID, err := h.session.Send(context.Background(), "  hi  ")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !txnid.IsConact(transactionID) {
		t.Errorf("transaction ID %q is not a generated ID", transactionID)
	}
	if h.session.Draft() != "" {
		t.Errorf("draft not cleared: %q", h.session.Draft())
	}

	messages := h.session.Messages().Messages()
	if len(messages) != 1 {
		t.Fatalf("after send: %+v", messages)
	}
	if echo := messages[0]; echo.TransactionID != transactionID || !echo.ID.IsZero() || !echo.Pending || echo.Content != "hi" || !echo.Own {
		t.Errorf("local echo = %+v", echo)
	}

	remote := text("$abc", "hi")
	remote.Sender = me.String()
	remote.Unsigned = &messaging.EventUnsigned{TransactionID: transactionID}
	h.matrix.pushSync(roomA, remote)
	h.sync(t)

	messages = h.session.Messages().Messages()
	if len(messages) != 1 {
		t.Fatalf("after remote echo: %+v", messages)
	}
	if got := messages[0]; got.ID.String() != "$abc" || got.TransactionID != transactionID || got.Pending {
		t.Errorf("reconciled message = %+v", got)
	}
}

func TestSendWhitespaceIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.session.Open(context.Background(), roomA); err != nil {
		t.Fatalf("Open: %v", err)
	}
	transactionID, err := h.session.Send(context.Background(), " \n\t ")
	if err != nil || transactionID != "" {
		t.Errorf("Send = %q, %v", transactionID, err)
	}
	if len(h.matrix.sent) != 0 || h.session.Messages().Len() != 0 {
		t.Error("whitespace was sent")
	}
}

func TestSendRequiresOpenConversation(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.session.Send(context.Background(), "hi"); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Send error = %v, want ErrNotOpen", err)
	}
}

func TestSendFailureLeavesEchoPending(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.session.Open(context.Background(), roomA); err != nil {
		t.Fatalf("Open: %v", err)
	}
	h.matrix.sendErr = errors.New("offline")

	if _, err := h.session.Send(context.Background(), "hi"); err == nil {
		t.Fatal("expected send error")
	}
	messages := h.session.Messages().Messages()
	if len(messages) != 1 || !messages[0].Pending {
		t.Errorf("messages = %+v", messages)
	}
}

func TestSendImage(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.session.Open(context.Background(), roomA); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := h.session.SendImage(context.Background(), "", "empty", 1, 1); err == nil {
		t.Error("empty URL accepted")
	}
	if _, err := h.session.SendImage(context.Background(), "https://media.giphy.com/cat.gif", "cat", 200, 100); err != nil {
		t.Fatalf("SendImage: %v", err)
	}
	messages := h.session.Messages().Messages()
	if len(messages) != 1 || messages[0].Image == nil {
		t.Fatalf("messages = %+v", messages)
	}
	if image := *messages[0].Image; image.URL != "https://media.giphy.com/cat.gif" || image.Width != 200 || image.Height != 100 {
		t.Errorf("image = %+v", image)
	}
}

func TestLiveEventsFiltered(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.session.Open(context.Background(), roomA); err != nil {
		t.Fatalf("Open: %v", err)
	}
	var scrolls []ScrollRequest
	h.session.OnScroll(func(request ScrollRequest) { scrolls = append(scrolls, request) })

	h.matrix.pushSync(roomB, text("$other", "other room"))
	h.sync(t)
	h.matrix.pushSync(roomA, messaging.Event{Type: ref.EventTypeRoomMember, Sender: "@bob:example.org"})
	h.sync(t)
	h.matrix.pushSync(roomA, text("$mine", "mine"))
	h.sync(t)

	if got := fmt.Sprint(contents(h.session.Messages().Messages())); got != "[mine]" {
		t.Errorf("messages = %s", got)
	}
	if len(scrolls) != 1 || !scrolls[0].Animated {
		t.Errorf("scrolls = %+v", scrolls)
	}
}

func TestLiveEventsDuringLoadAreReplayed(t *testing.T) {
	h := newHarness(t, nil)
	h.matrix.setPage(roomA, "", &messaging.RoomMessagesResponse{
		Chunk: []messaging.Event{text("$2", "two"), text("$1", "one")},
	})
	h.matrix.blockRoom = roomA
	h.matrix.started = make(chan struct{})
	h.matrix.release = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- h.session.Open(context.Background(), roomA) }()
	testutil.RequireReceive(t, h.matrix.started, 5*time.Second, "history request")

	h.matrix.pushSync(roomA, text("$3", "three"), text("$2", "two"))
	h.sync(t)
	if h.session.Messages().Len() != 0 {
		t.Error("live events applied while loading")
	}

	close(h.matrix.release)
	if err := testutil.RequireReceive(t, done, 5*time.Second, "Open"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := fmt.Sprint(contents(h.session.Messages().Messages())); got != "[one two three]" {
		t.Errorf("messages = %s", got)
	}
}

func TestStaleHistoryIsDiscarded(t *testing.T) {
	h := newHarness(t, nil)
	h.matrix.setPage(roomA, "", &messaging.RoomMessagesResponse{Chunk: []messaging.Event{text("$a", "from a")}})
	h.matrix.setPage(roomB, "", &messaging.RoomMessagesResponse{Chunk: []messaging.Event{text("$b", "from b")}})
	h.matrix.blockRoom = roomA
	h.matrix.started = make(chan struct{})
	h.matrix.release = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- h.session.Open(context.Background(), roomA) }()
	testutil.RequireReceive(t, h.matrix.started, 5*time.Second, "history request for A")

	if err := h.session.Open(context.Background(), roomB); err != nil {
		t.Fatalf("Open B: %v", err)
	}
	close(h.matrix.release)
	if err := testutil.RequireReceive(t, done, 5*time.Second, "Open A"); err != nil {
		t.Errorf("stale Open returned %v", err)
	}

	if got := fmt.Sprint(contents(h.session.Messages().Messages())); got != "[from b]" {
		t.Errorf("messages = %s", got)
	}
	if state, room := h.session.State(); state != Ready || room != roomB {
		t.Errorf("State() = %s %s", state, room)
	}

	// A's subscription is gone: its events no longer land anywhere.
	h.matrix.pushSync(roomA, text("$late", "late a"))
	h.sync(t)
	if h.session.Messages().Len() != 1 {
		t.Errorf("event for the previous room was applied")
	}
}

func TestDecryptedEvents(t *testing.T) {
	h := newHarness(t, nil)
	encrypted := messaging.Event{
		EventID: ref.MustParseEventID("$enc"),
		Type:    ref.EventTypeRoomEncrypted,
		Sender:  "@alice:example.org",
		Content: map[string]any{"algorithm": "m.megolm.v1.aes-sha2"},
	}
	h.matrix.setPage(roomA, "", &messaging.RoomMessagesResponse{Chunk: []messaging.Event{encrypted}})
	if err := h.session.Open(context.Background(), roomA); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := h.session.Messages().Messages()[0]; !got.Decrypting {
		t.Fatalf("history message = %+v, want decrypting", got)
	}

	// Not a message type, ignored.
	h.timeline.PublishDecrypted(messaging.TimelineEvent{Event: encrypted, RoomID: roomA, ClearContent: map[string]any{"type": "custom"}})
	// Another room, ignored.
	h.timeline.PublishDecrypted(messaging.TimelineEvent{Event: encrypted, RoomID: roomB, ClearContent: map[string]any{"msgtype": "m.text", "body": "wrong room"}})
	if got := h.session.Messages().Messages()[0]; !got.Decrypting {
		t.Fatalf("ignored notifications changed the message: %+v", got)
	}

	h.timeline.PublishDecrypted(messaging.TimelineEvent{Event: encrypted, RoomID: roomA, ClearContent: map[string]any{"msgtype": "m.text", "body": "plain"}})
	got := h.session.Messages().Messages()
	if len(got) != 1 || got[0].Content != "plain" || got[0].Decrypting {
		t.Errorf("after decryption: %+v", got)
	}

	// A repeated completion without a payload keeps the text.
	h.timeline.PublishDecrypted(messaging.TimelineEvent{Event: encrypted, RoomID: roomA, ClearContent: map[string]any{"msgtype": "m.text"}})
	if got := h.session.Messages().Messages()[0]; got.Content != "plain" {
		t.Errorf("empty completion erased content: %+v", got)
	}
}

func TestCloseUnsubscribes(t *testing.T) {
	h := newHarness(t, nil)
	h.matrix.setPage(roomA, "", &messaging.RoomMessagesResponse{Chunk: []messaging.Event{text("$1", "one")}})
	if err := h.session.Open(context.Background(), roomA); err != nil {
		t.Fatalf("Open: %v", err)
	}

	var states []StateChange
	h.session.OnState(func(change StateChange) { states = append(states, change) })
	h.session.Close()
	h.session.Close()

	if state, room := h.session.State(); state != Idle || !room.IsZero() {
		t.Errorf("State() = %s %s", state, room)
	}
	if h.session.Messages().Len() != 0 {
		t.Error("messages survived Close")
	}
	if len(states) != 1 || states[0].State != Idle || states[0].RoomID != roomA {
		t.Errorf("states = %+v", states)
	}

	h.matrix.pushSync(roomA, text("$2", "two"))
	h.sync(t)
	if h.session.Messages().Len() != 0 {
		t.Error("live event applied after Close")
	}
}

func TestPanickingObserverDoesNotBreakSession(t *testing.T) {
	h := newHarness(t, nil)
	h.session.Messages().Subscribe(func(timeline.Change) { panic("observer bug") })
	if err := h.session.Open(context.Background(), roomA); err != nil {
		t.Fatalf("Open: %v", err)
	}
	h.matrix.pushSync(roomA, text("$1", "one"))
	h.sync(t)
	if h.session.Messages().Len() != 1 {
		t.Error("event lost after observer panic")
	}
}
