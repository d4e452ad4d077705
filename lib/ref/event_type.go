// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package ref

// EventType identifies a Matrix timeline or state event type
// (e.g., "m.room.message").
//
// EventType is a named string type, not a struct wrapper: event types
// are opaque identifiers that need no validation. The type exists for
// compile-time safety only.
type EventType string

// Standard Matrix event types Conact reads or writes.
const (
	EventTypeRoomMessage   EventType = "m.room.message"
	EventTypeRoomEncrypted EventType = "m.room.encrypted"
	EventTypeRoomMember    EventType = "m.room.member"
)

// String returns the event type string.
func (t EventType) String() string { return string(t) }
