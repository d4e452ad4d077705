// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/conact/conact/lib/clock"
	"github.com/conact/conact/lib/notify"
	"github.com/conact/conact/lib/ref"
)

// Delivery states of a local echo. A remote event has an empty Status.
const (
	StatusSending = "sending"
	StatusNotSent = "not_sent"
)

// TimelineEvent is one event delivered to timeline listeners, either
// from the homeserver (via /sync or pagination) or as a local echo of
// a message this client is sending.
type TimelineEvent struct {
	Event

	// RoomID is the room the event belongs to.
	RoomID ref.RoomID

	// LocalID is the client-side identifier of a local echo,
	// "~<room>:<transaction id>". Empty for remote events.
	LocalID string

	// TransactionID is set on local echoes.
	TransactionID string

	// Status is the delivery status of a local echo; empty once the
	// homeserver has confirmed the event.
	Status string

	// Historical marks events that belong to the room's past rather
	// than arriving live (initial sync, pagination).
	Historical bool

	// ClearContent holds the decrypted content of an m.room.encrypted
	// event once decryption has succeeded.
	ClearContent map[string]any

	// DecryptionFailed is set when decryption was attempted and failed.
	DecryptionFailed bool
}

// Encrypted reports whether the event arrived as m.room.encrypted.
func (e TimelineEvent) Encrypted() bool {
	return e.Type == ref.EventTypeRoomEncrypted
}

// EffectiveContent is the decrypted content when available, otherwise
// the wire content.
func (e TimelineEvent) EffectiveContent() map[string]any {
	if e.ClearContent != nil {
		return e.ClearContent
	}
	return e.Content
}

// localEchoID builds the LocalID of a local echo.
func localEchoID(roomID ref.RoomID, transactionID string) string {
	return "~" + roomID.String() + ":" + transactionID
}

// TimelineConfig holds the dependencies of a Timeline.
type TimelineConfig struct {
	Session Session

	// Clock stamps local echoes and paces sync retries. Nil means
	// the real clock.
	Clock clock.Clock

	// Logger receives sync and send diagnostics. Nil means slog.Default().
	Logger *slog.Logger

	// SyncTimeout is the long-poll hold time. Zero means 30 seconds.
	SyncTimeout time.Duration

	// AutoJoinInvites joins every room the user is invited to as the
	// invite arrives over /sync.
	AutoJoinInvites bool

	// Filter narrows what /sync returns. Nil means the default filter.
	Filter *SyncFilter
}

// Timeline runs the Matrix sync loop and fans timeline events out to
// listeners. It is also the place where a message being sent produces
// its local echo, so listeners see the echo, and later the remote echo
// with the same transaction ID, through one stream.
//
// Decryption happens outside this package. The component that owns
// the crypto state calls PublishDecrypted when an encrypted event has
// been decrypted (or has failed to), and listeners registered with
// OnDecrypted receive it.
type Timeline struct {
	session         Session
	clock           clock.Clock
	logger          *slog.Logger
	syncTimeout     time.Duration
	autoJoinInvites bool
	filter          string

	mu        sync.Mutex
	nextBatch string
	joining   map[ref.RoomID]bool

	events    notify.Broadcaster[TimelineEvent]
	decrypted notify.Broadcaster[TimelineEvent]
}

// maxSyncRetries is the number of consecutive /sync failures allowed
// before Run returns an error.
const maxSyncRetries = 5

// defaultSyncTimeout is the server-side long-poll hold time. 30 seconds
// matches the Matrix client-server recommendation.
const defaultSyncTimeout = 30 * time.Second

// retryTimeout is the server-side timeout used for the first /sync
// after an error, so a recovered connection reports back quickly.
const retryTimeout = time.Second

// retryDelay is the pause between failed sync attempts, multiplied by
// the number of consecutive failures.
const retryDelay = time.Second

// NewTimeline creates a Timeline. Call Run to start syncing.
func NewTimeline(config TimelineConfig) (*Timeline, error) {
	if config.Session == nil {
		return nil, fmt.Errorf("messaging: timeline requires a Session")
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	syncTimeout := config.SyncTimeout
	if syncTimeout <= 0 {
		syncTimeout = defaultSyncTimeout
	}

	timeline := &Timeline{
		session:         config.Session,
		clock:           clk,
		logger:          logger,
		syncTimeout:     syncTimeout,
		autoJoinInvites: config.AutoJoinInvites,
		filter:          buildInlineFilter(config.Filter),
		joining:         make(map[ref.RoomID]bool),
	}
	timeline.events.SetLogger(logger)
	timeline.decrypted.SetLogger(logger)
	return timeline, nil
}

// OnEvent registers fn for every timeline event, live or historical,
// from every room. Returns a function that removes the listener.
func (t *Timeline) OnEvent(fn func(TimelineEvent)) (unsubscribe func()) {
	return t.events.Subscribe(fn)
}

// OnDecrypted registers fn for decryption completions.
func (t *Timeline) OnDecrypted(fn func(TimelineEvent)) (unsubscribe func()) {
	return t.decrypted.Subscribe(fn)
}

// PublishDecrypted delivers a decryption completion to OnDecrypted
// listeners. event carries the original event ID and room, with
// ClearContent set on success or DecryptionFailed set on failure.
func (t *Timeline) PublishDecrypted(event TimelineEvent) {
	t.decrypted.Notify(event)
}

// SyncPosition returns the current sync stream position token.
func (t *Timeline) SyncPosition() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextBatch
}

// Run syncs until ctx is done. The first sync is the initial sync; its
// timeline events are delivered with Historical set. Transient errors
// are retried with a growing pause; after maxSyncRetries consecutive
// failures, or on any authentication error, Run returns the error.
func (t *Timeline) Run(ctx context.Context) error {
	var syncRetries int
	for {
		timeout := t.syncTimeout
		if syncRetries > 0 {
			timeout = retryTimeout
		}
		err := t.syncOnce(ctx, timeout)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			syncRetries = 0
			continue
		}
		if IsAuthError(err) {
			return fmt.Errorf("messaging: sync stopped: %w", err)
		}

		syncRetries++
		// TCP-level errors (connection reset, EOF) often indicate a
		// poisoned connection in Go's HTTP pool.
		if closer, ok := t.session.(interface{ CloseIdleConnections() }); ok {
			closer.CloseIdleConnections()
		}
		if syncRetries > maxSyncRetries {
			return fmt.Errorf("messaging: sync failed %d consecutive times: %w", syncRetries, err)
		}
		t.logger.Warn("sync failed, retrying",
			"attempt", syncRetries,
			"max_attempts", maxSyncRetries,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.clock.After(time.Duration(syncRetries) * retryDelay):
		}
	}
}

// SyncOnce performs a single /sync without waiting for new events and
// dispatches whatever it returns.
func (t *Timeline) SyncOnce(ctx context.Context) error {
	return t.syncOnce(ctx, 0)
}

func (t *Timeline) syncOnce(ctx context.Context, timeout time.Duration) error {
	t.mu.Lock()
	since := t.nextBatch
	t.mu.Unlock()

	response, err := t.session.Sync(ctx, SyncOptions{
		Since:      since,
		SetTimeout: true,
		Timeout:    int(timeout / time.Millisecond),
		Filter:     t.filter,
	})
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.nextBatch = response.NextBatch
	t.mu.Unlock()

	historical := since == ""
	for roomID, joined := range response.Rooms.Join {
		for _, event := range joined.Timeline.Events {
			t.events.Notify(TimelineEvent{
				Event:      event,
				RoomID:     roomID,
				Historical: historical,
			})
		}
	}

	if t.autoJoinInvites {
		for roomID := range response.Rooms.Invite {
			t.autoJoin(ctx, roomID)
		}
	}
	return nil
}

// autoJoin joins an invited room once; repeated invites for a room
// already being joined are ignored.
func (t *Timeline) autoJoin(ctx context.Context, roomID ref.RoomID) {
	t.mu.Lock()
	if t.joining[roomID] {
		t.mu.Unlock()
		return
	}
	t.joining[roomID] = true
	t.mu.Unlock()

	if _, err := t.session.JoinRoom(ctx, roomID); err != nil {
		t.logger.Warn("auto-join failed", "room_id", roomID, "error", err)
		t.mu.Lock()
		delete(t.joining, roomID)
		t.mu.Unlock()
		return
	}
	t.logger.Info("joined invited room", "room_id", roomID)
}

// Send publishes a local echo for the event and then sends it with
// transactionID. When the send fails, a second echo with StatusNotSent
// is published and the error returned; on success nothing further is
// published here, because the homeserver's copy arrives over /sync
// carrying the same transaction ID.
func (t *Timeline) Send(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, transactionID string, content MessageContent) (ref.EventID, error) {
	echo := TimelineEvent{
		Event: Event{
			Type:           eventType,
			Sender:         t.session.UserID().String(),
			OriginServerTS: t.clock.Now().UnixMilli(),
			Content:        contentMap(content),
			RoomID:         roomID,
		},
		RoomID:        roomID,
		LocalID:       localEchoID(roomID, transactionID),
		TransactionID: transactionID,
		Status:        StatusSending,
	}
	t.events.Notify(echo)

	eventID, err := t.session.SendEventWithTransaction(ctx, roomID, eventType, transactionID, content)
	if err != nil {
		echo.Status = StatusNotSent
		t.events.Notify(echo)
		return ref.EventID{}, err
	}
	t.logger.Debug("event sent",
		"room_id", roomID,
		"transaction_id", transactionID,
		"event_id", eventID,
	)
	return eventID, nil
}

// contentMap converts typed message content into the generic map form
// events carry.
func contentMap(content MessageContent) map[string]any {
	result := map[string]any{
		"msgtype": content.MsgType,
		"body":    content.Body,
	}
	if content.Format != "" {
		result["format"] = content.Format
		result["formatted_body"] = content.FormattedBody
	}
	if content.URL != "" {
		result["url"] = content.URL
	}
	if content.Info != nil {
		info := map[string]any{}
		if content.Info.MimeType != "" {
			info["mimetype"] = content.Info.MimeType
		}
		if content.Info.Width > 0 {
			info["w"] = float64(content.Info.Width)
		}
		if content.Info.Height > 0 {
			info["h"] = float64(content.Info.Height)
		}
		if content.Info.Size > 0 {
			info["size"] = float64(content.Info.Size)
		}
		result["info"] = info
	}
	return result
}
