// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"

	"github.com/conact/conact/lib/ref"
)

// Session is the set of Matrix operations the timeline hub and the
// conversation layer depend on. *DirectSession is the production
// implementation; tests substitute in-memory fakes.
type Session interface {
	// UserID returns the fully-qualified Matrix user ID of the session.
	UserID() ref.UserID

	// Sync performs an incremental sync with the homeserver.
	Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error)

	// JoinRoom joins a room by room ID. Returns the room ID.
	JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error)

	// RoomMessages fetches paginated messages from a room.
	RoomMessages(ctx context.Context, roomID ref.RoomID, options RoomMessagesOptions) (*RoomMessagesResponse, error)

	// SendEventWithTransaction sends an event with a caller-chosen
	// transaction ID. Returns the event ID.
	SendEventWithTransaction(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, transactionID string, content any) (ref.EventID, error)
}

// MediaResolver maps mxc:// content URIs to fetchable URLs.
type MediaResolver interface {
	MediaURL(uri string) (string, bool)
}

var (
	_ Session       = (*DirectSession)(nil)
	_ MediaResolver = (*DirectSession)(nil)
)
