// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"

	"github.com/conact/conact/lib/ref"
)

// SyncFilter configures what the timeline hub receives from /sync.
// A nil *SyncFilter means the default: message-like and membership
// timeline events from every joined room.
type SyncFilter struct {
	// Rooms restricts sync to these rooms. Empty means all rooms.
	Rooms []ref.RoomID

	// TimelineTypes restricts timeline events to these Matrix event
	// types. Empty means the default set.
	TimelineTypes []ref.EventType

	// TimelineLimit caps the number of timeline events per room per
	// /sync response. Zero means the server default.
	TimelineLimit int
}

// defaultTimelineTypes are the event types the client renders or
// reacts to.
var defaultTimelineTypes = []ref.EventType{
	ref.EventTypeRoomMessage,
	ref.EventTypeRoomEncrypted,
	ref.EventTypeRoomMember,
}

// buildInlineFilter constructs the inline JSON filter string for /sync.
// Presence and account data are always suppressed; the client shows
// neither.
func buildInlineFilter(filter *SyncFilter) string {
	types := defaultTimelineTypes
	var rooms []ref.RoomID
	limit := 0
	if filter != nil {
		if len(filter.TimelineTypes) > 0 {
			types = filter.TimelineTypes
		}
		rooms = filter.Rooms
		limit = filter.TimelineLimit
	}

	timeline := map[string]any{"types": types}
	if limit > 0 {
		timeline["limit"] = limit
	}
	roomFilter := map[string]any{
		"timeline": timeline,
		"state":    map[string]any{"lazy_load_members": true},
	}
	if len(rooms) > 0 {
		roomFilter["rooms"] = rooms
	}

	top := map[string]any{
		"room":         roomFilter,
		"presence":     map[string]any{"types": []string{}},
		"account_data": map[string]any{"types": []string{}},
	}

	data, _ := json.Marshal(top)
	return string(data)
}
