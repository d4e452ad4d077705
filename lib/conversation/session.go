// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/conact/conact/lib/clock"
	"github.com/conact/conact/lib/notify"
	"github.com/conact/conact/lib/ref"
	"github.com/conact/conact/lib/timeline"
	"github.com/conact/conact/lib/txnid"
	"github.com/conact/conact/messaging"
)

// State is the lifecycle state of a Session.
type State int

const (
	// Idle means no conversation is open.
	Idle State = iota
	// Loading means history is being fetched. Live events are buffered.
	Loading
	// Ready means history is loaded and live events flow into the list.
	Ready
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StateChange is delivered to state observers.
type StateChange struct {
	RoomID ref.RoomID
	State  State
}

// ScrollRequest asks the view to scroll to the newest message.
type ScrollRequest struct {
	// Animated is false after a history load, where the view should
	// jump, and true for live arrivals.
	Animated bool
}

// ErrNotOpen is returned by send operations when no conversation is
// open.
var ErrNotOpen = errors.New("conversation: no conversation is open")

// History fetches past room events. *messaging.DirectSession
// implements it.
type History interface {
	RoomMessages(ctx context.Context, roomID ref.RoomID, options messaging.RoomMessagesOptions) (*messaging.RoomMessagesResponse, error)
}

// Live is the live event source and outbound path. *messaging.Timeline
// implements it; Send is expected to publish a local echo through
// OnEvent before it returns.
type Live interface {
	OnEvent(fn func(messaging.TimelineEvent)) (unsubscribe func())
	OnDecrypted(fn func(messaging.TimelineEvent)) (unsubscribe func())
	Send(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, transactionID string, content messaging.MessageContent) (ref.EventID, error)
}

// Config holds the dependencies and limits of a Session.
type Config struct {
	History    History
	Live       Live
	Normalizer *timeline.Normalizer

	// TransactionIDs generates send transaction IDs. Nil creates a
	// generator on Clock.
	TransactionIDs *txnid.Generator
	Clock          clock.Clock
	Logger         *slog.Logger

	// PageTarget is the number of message-like events to load when a
	// conversation opens. Zero means 50.
	PageTarget int

	// MaxAttempts is the number of backward paginations made after the
	// first page. Zero means 5; negative means none.
	MaxAttempts int

	// MinPageSize is the smallest page requested. Zero means 30.
	MinPageSize int
}

// Session owns the message list of the open conversation and moves it
// through Idle, Loading and Ready as conversations are opened and
// closed.
//
// Every Open starts a new generation. Results and events belonging to
// an earlier generation are discarded, so a history response that
// arrives after the user has switched rooms never reaches the list.
type Session struct {
	history     History
	live        Live
	normalizer  *timeline.Normalizer
	txnIDs      *txnid.Generator
	logger      *slog.Logger
	pageTarget  int
	maxAttempts int
	minPageSize int

	reconciler *timeline.Reconciler

	// applyMu serializes writes to the reconciler so the hand-over
	// from Loading to Ready cannot interleave with a live event.
	// Reconciler observers run while it is held and must not call
	// Send synchronously.
	applyMu sync.Mutex

	mu          sync.Mutex
	roomID      ref.RoomID
	state       State
	generation  uint64
	draft       string
	buffered    []bufferedEvent
	unsubscribe []func()

	states notify.Broadcaster[StateChange]
	scroll notify.Broadcaster[ScrollRequest]
}

type bufferedEvent struct {
	event     messaging.TimelineEvent
	decrypted bool
}

// New creates an idle Session.
func New(config Config) (*Session, error) {
	if config.History == nil {
		return nil, errors.New("conversation: History is required")
	}
	if config.Live == nil {
		return nil, errors.New("conversation: Live is required")
	}
	if config.Normalizer == nil {
		return nil, errors.New("conversation: Normalizer is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	txnIDs := config.TransactionIDs
	if txnIDs == nil {
		txnIDs = txnid.New(config.Clock)
	}
	session := &Session{
		history:     config.History,
		live:        config.Live,
		normalizer:  config.Normalizer,
		txnIDs:      txnIDs,
		logger:      logger,
		pageTarget:  defaultInt(config.PageTarget, 50),
		maxAttempts: defaultInt(config.MaxAttempts, 5),
		minPageSize: defaultInt(config.MinPageSize, 30),
		reconciler:  timeline.NewReconciler(logger),
	}
	if session.maxAttempts < 0 {
		session.maxAttempts = 0
	}
	session.states.SetLogger(logger)
	session.scroll.SetLogger(logger)
	return session, nil
}

func defaultInt(value, fallback int) int {
	if value == 0 {
		return fallback
	}
	return value
}

// Messages returns the reconciler holding the message list. Observers
// subscribe to it directly.
func (s *Session) Messages() *timeline.Reconciler {
	return s.reconciler
}

// OnState registers fn for lifecycle transitions.
func (s *Session) OnState(fn func(StateChange)) (unsubscribe func()) {
	return s.states.Subscribe(fn)
}

// OnScroll registers fn for scroll-to-bottom requests.
func (s *Session) OnScroll(fn func(ScrollRequest)) (unsubscribe func()) {
	return s.scroll.Subscribe(fn)
}

// State returns the current state and the open room.
func (s *Session) State() (State, ref.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.roomID
}

// Draft returns the unsent composer text.
func (s *Session) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// SetDraft replaces the unsent composer text.
func (s *Session) SetDraft(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = text
}

// Open closes the current conversation, if any, and opens roomID.
//
// Live subscriptions are registered before history is requested, and
// events that arrive during the load are replayed once the history
// has seeded the list. Open blocks until the load finishes. If it
// fails, the conversation still becomes Ready with whatever live
// events arrived, and the error is returned.
func (s *Session) Open(ctx context.Context, roomID ref.RoomID) error {
	s.mu.Lock()
	previous := s.teardownLocked()
	s.generation++
	generation := s.generation
	s.roomID = roomID
	s.state = Loading
	s.draft = ""
	s.mu.Unlock()

	for _, unsubscribe := range previous {
		unsubscribe()
	}

	s.applyMu.Lock()
	s.reconciler.Clear()
	s.applyMu.Unlock()
	s.states.Notify(StateChange{RoomID: roomID, State: Loading})

	subscriptions := []func(){
		s.live.OnEvent(func(event messaging.TimelineEvent) {
			notify.Guard(s.logger, "conversation live event", func() {
				s.handleLive(generation, roomID, event)
			})
		}),
		s.live.OnDecrypted(func(event messaging.TimelineEvent) {
			notify.Guard(s.logger, "conversation decrypted event", func() {
				s.handleDecrypted(generation, roomID, event)
			})
		}),
	}
	s.mu.Lock()
	if s.generation != generation {
		s.mu.Unlock()
		for _, unsubscribe := range subscriptions {
			unsubscribe()
		}
		return nil
	}
	s.unsubscribe = subscriptions
	s.mu.Unlock()

	seed, loadErr := s.loadHistory(ctx, roomID)

	s.applyMu.Lock()
	s.mu.Lock()
	if s.generation != generation {
		s.mu.Unlock()
		s.applyMu.Unlock()
		s.logger.Debug("discarding history for a conversation no longer open", "room_id", roomID)
		return nil
	}
	s.state = Ready
	buffered := s.buffered
	s.buffered = nil
	s.mu.Unlock()

	s.reconciler.Seed(seed)
	for _, entry := range buffered {
		s.applyLocked(entry.event, entry.decrypted)
	}
	s.applyMu.Unlock()

	s.states.Notify(StateChange{RoomID: roomID, State: Ready})
	s.scroll.Notify(ScrollRequest{Animated: false})

	if loadErr != nil {
		s.logger.Error("loading conversation history failed", "room_id", roomID, "error", loadErr)
		return loadErr
	}
	s.logger.Debug("conversation ready", "room_id", roomID, "messages", len(seed))
	return nil
}

// Close returns the session to Idle, unsubscribing from live events and
// dropping the message list.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == Idle {
		s.mu.Unlock()
		return
	}
	previous := s.teardownLocked()
	s.generation++
	roomID := s.roomID
	s.roomID = ref.RoomID{}
	s.state = Idle
	s.draft = ""
	s.mu.Unlock()

	for _, unsubscribe := range previous {
		unsubscribe()
	}
	s.applyMu.Lock()
	s.reconciler.Clear()
	s.applyMu.Unlock()
	s.states.Notify(StateChange{RoomID: roomID, State: Idle})
}

func (s *Session) teardownLocked() []func() {
	previous := s.unsubscribe
	s.unsubscribe = nil
	s.buffered = nil
	return previous
}

func (s *Session) handleLive(generation uint64, roomID ref.RoomID, event messaging.TimelineEvent) {
	if event.RoomID != roomID || event.Historical {
		return
	}
	s.route(generation, event, false)
}

func (s *Session) handleDecrypted(generation uint64, roomID ref.RoomID, event messaging.TimelineEvent) {
	if event.RoomID != roomID {
		return
	}
	if !event.DecryptionFailed {
		msgtype, _ := event.ClearContent["msgtype"].(string)
		if !strings.HasPrefix(msgtype, "m.") {
			return
		}
	}
	s.route(generation, event, true)
}

// route applies event, or buffers it while history is loading.
func (s *Session) route(generation uint64, event messaging.TimelineEvent, decrypted bool) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	if s.generation != generation {
		s.mu.Unlock()
		return
	}
	if s.state == Loading {
		s.buffered = append(s.buffered, bufferedEvent{event: event, decrypted: decrypted})
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if s.applyLocked(event, decrypted) {
		s.scroll.Notify(ScrollRequest{Animated: true})
	}
}

// applyLocked normalizes and merges one event. The caller holds applyMu.
func (s *Session) applyLocked(event messaging.TimelineEvent, decrypted bool) bool {
	message, ok := s.normalizer.Normalize(event)
	if !ok {
		return false
	}
	if decrypted {
		s.reconciler.ApplyDecrypted(message)
	} else {
		s.reconciler.Apply(message)
	}
	return true
}

// loadHistory fetches up to pageTarget message-like events, newest
// page first, and returns them normalized in chronological order.
// A failed follow-up page ends pagination without failing the load.
func (s *Session) loadHistory(ctx context.Context, roomID ref.RoomID) ([]timeline.Message, error) {
	response, err := s.history.RoomMessages(ctx, roomID, messaging.RoomMessagesOptions{
		Direction: "b",
		Limit:     s.pageTarget,
	})
	if err != nil {
		return nil, fmt.Errorf("conversation: fetching history of %s: %w", roomID, err)
	}

	// Newest first, as backward pagination returns them.
	var events []messaging.Event
	events = appendMessageLike(events, response.Chunk)
	token := response.End

	for attempt := 0; len(events) < s.pageTarget && attempt < s.maxAttempts; attempt++ {
		if token == "" {
			break
		}
		page, err := s.history.RoomMessages(ctx, roomID, messaging.RoomMessagesOptions{
			From:      token,
			Direction: "b",
			Limit:     max(s.pageTarget-len(events), s.minPageSize),
		})
		if err != nil {
			s.logger.Warn("history pagination failed", "room_id", roomID, "attempt", attempt+1, "error", err)
			break
		}
		if len(page.Chunk) == 0 {
			break
		}
		events = appendMessageLike(events, page.Chunk)
		token = page.End
	}

	if len(events) > s.pageTarget {
		events = events[:s.pageTarget]
	}
	messages := make([]timeline.Message, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		message, ok := s.normalizer.Normalize(messaging.TimelineEvent{
			Event:      events[i],
			RoomID:     roomID,
			Historical: true,
		})
		if ok {
			messages = append(messages, message)
		}
	}
	return messages, nil
}

func appendMessageLike(events []messaging.Event, chunk []messaging.Event) []messaging.Event {
	for _, event := range chunk {
		if event.Type == ref.EventTypeRoomMessage || event.Type == ref.EventTypeRoomEncrypted {
			events = append(events, event)
		}
	}
	return events
}

// Send sends body as a text message to the open conversation and
// clears the draft. Whitespace-only input is ignored. The message
// appears in the list through the transport's local echo; nothing is
// inserted here. A transport failure is logged and returned, and the
// echo stays pending.
func (s *Session) Send(ctx context.Context, body string) (transactionID string, err error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", nil
	}
	return s.send(ctx, messaging.NewMarkdownMessage(body), true)
}

// SendImage sends an m.image message referencing url, typically a GIF
// from a third-party service.
func (s *Session) SendImage(ctx context.Context, url, title string, width, height int) (transactionID string, err error) {
	if strings.TrimSpace(url) == "" {
		return "", errors.New("conversation: image URL is empty")
	}
	return s.send(ctx, messaging.NewImageMessage(url, title, "image/gif", width, height), false)
}

func (s *Session) send(ctx context.Context, content messaging.MessageContent, clearDraft bool) (string, error) {
	s.mu.Lock()
	if s.state == Idle {
		s.mu.Unlock()
		return "", ErrNotOpen
	}
	roomID := s.roomID
	if clearDraft {
		s.draft = ""
	}
	s.mu.Unlock()

	transactionID := s.txnIDs.Next()
	if _, err := s.live.Send(ctx, roomID, ref.EventTypeRoomMessage, transactionID, content); err != nil {
		s.logger.Error("sending message failed",
			"room_id", roomID,
			"transaction_id", transactionID,
			"error", err,
		)
		return transactionID, fmt.Errorf("conversation: sending to %s: %w", roomID, err)
	}
	return transactionID, nil
}
