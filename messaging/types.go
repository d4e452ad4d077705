// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"github.com/conact/conact/lib/ref"
)

// AuthResponse is returned by Login.
type AuthResponse struct {
	UserID      ref.UserID `json:"user_id"`
	AccessToken string     `json:"access_token"`
	DeviceID    string     `json:"device_id"`
}

// MessageContent is the content body of an m.room.message event.
// Text messages set Body (and optionally the HTML formatted body);
// image messages additionally set URL and Info.
type MessageContent struct {
	MsgType       string     `json:"msgtype"`
	Body          string     `json:"body"`
	Format        string     `json:"format,omitempty"`
	FormattedBody string     `json:"formatted_body,omitempty"`
	URL           string     `json:"url,omitempty"`
	Info          *ImageInfo `json:"info,omitempty"`
}

// ImageInfo describes the media referenced by an m.image message.
type ImageInfo struct {
	MimeType string `json:"mimetype,omitempty"`
	Width    int    `json:"w,omitempty"`
	Height   int    `json:"h,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Message types Conact sends and renders.
const (
	MsgTypeText  = "m.text"
	MsgTypeImage = "m.image"
)

// FormatHTML is the only formatted_body format defined by Matrix.
const FormatHTML = "org.matrix.custom.html"

// Event represents a Matrix event from the server. Sender is kept as
// the raw string so that one event with a malformed sender cannot fail
// decoding of a whole /sync batch.
type Event struct {
	EventID        ref.EventID    `json:"event_id"`
	Type           ref.EventType  `json:"type"`
	Sender         string         `json:"sender"`
	OriginServerTS int64          `json:"origin_server_ts"`
	Content        map[string]any `json:"content"`
	RoomID         ref.RoomID     `json:"room_id,omitempty"`
	StateKey       *string        `json:"state_key,omitempty"`
	Unsigned       *EventUnsigned `json:"unsigned,omitempty"`
}

// EventUnsigned holds optional unsigned data attached to events. The
// homeserver echoes the sender's transaction ID back to the sending
// device; older servers used txn_id.
type EventUnsigned struct {
	Age           int64  `json:"age,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	TxnID         string `json:"txn_id,omitempty"`
}

// RoomMessagesOptions controls pagination for room message fetching.
type RoomMessagesOptions struct {
	From      string // pagination token; empty means "from now"
	Direction string // "b" (backward/older) or "f" (forward/newer)
	Limit     int    // max events to return; 0 uses server default
}

// RoomMessagesResponse is returned by RoomMessages. For backward
// pagination Chunk is newest first and End is the token for the next
// older page (empty at the start of the room).
type RoomMessagesResponse struct {
	Start string  `json:"start"`
	End   string  `json:"end"`
	Chunk []Event `json:"chunk"`
}

// SyncOptions controls the behavior of the /sync endpoint.
type SyncOptions struct {
	Since      string // next_batch token from previous sync; empty for initial sync
	Timeout    int    // long-poll timeout in milliseconds; 0 for immediate return
	SetTimeout bool   // if true, send the timeout parameter (needed to distinguish "not set" from "0")
	Filter     string // filter ID or inline JSON filter
}

// SyncResponse is the top-level response from /sync.
type SyncResponse struct {
	NextBatch string       `json:"next_batch"`
	Rooms     RoomsSection `json:"rooms"`
}

// RoomsSection contains per-room sync data grouped by membership state.
// Map keys are room IDs; encoding/json uses ref.RoomID's TextUnmarshaler
// for automatic validation at deserialization.
type RoomsSection struct {
	Join   map[ref.RoomID]JoinedRoom  `json:"join,omitempty"`
	Invite map[ref.RoomID]InvitedRoom `json:"invite,omitempty"`
	Leave  map[ref.RoomID]LeftRoom    `json:"leave,omitempty"`
}

// JoinedRoom contains sync data for a room the user has joined.
type JoinedRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// InvitedRoom contains sync data for a room the user was invited to.
type InvitedRoom struct {
	InviteState StateSection `json:"invite_state"`
}

// LeftRoom contains sync data for a room the user has left.
type LeftRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// TimelineSection contains timeline events from a sync response.
type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch"`
	Limited   bool    `json:"limited"`
}

// StateSection contains state events from a sync response.
type StateSection struct {
	Events []Event `json:"events"`
}

// SendEventResponse is returned by the send endpoints.
type SendEventResponse struct {
	EventID ref.EventID `json:"event_id"`
}

// WhoAmIResponse is returned by WhoAmI.
type WhoAmIResponse struct {
	UserID   ref.UserID `json:"user_id"`
	DeviceID string     `json:"device_id,omitempty"`
}

// JoinedRoomsResponse is returned by JoinedRooms.
type JoinedRoomsResponse struct {
	JoinedRooms []ref.RoomID `json:"joined_rooms"`
}

// DisplayNameResponse is returned by the /profile/{userId}/displayname endpoint.
type DisplayNameResponse struct {
	DisplayName string `json:"displayname"`
}

// ServerVersionsResponse is returned by Client.ServerVersions.
type ServerVersionsResponse struct {
	Versions         []string        `json:"versions"`
	UnstableFeatures map[string]bool `json:"unstable_features,omitempty"`
}

// TURNCredentialsResponse is returned by the /_matrix/client/v3/voip/turnServer
// endpoint. Contains time-limited HMAC-SHA1 credentials for TURN server access.
type TURNCredentialsResponse struct {
	// Username is the TURN username (typically a Unix timestamp).
	Username string `json:"username"`
	// Password is the HMAC-SHA1 credential derived from the shared secret.
	Password string `json:"password"`
	// URIs lists the TURN server URIs (e.g., ["turn:host:3478?transport=udp"]).
	URIs []string `json:"uris"`
	// TTL is the credential lifetime in seconds.
	TTL int `json:"ttl"`
}

// LoginRequest is the request body for password login.
type LoginRequest struct {
	Type                     string         `json:"type"`
	Identifier               UserIdentifier `json:"identifier"`
	Password                 string         `json:"password"`
	DeviceID                 string         `json:"device_id,omitempty"`
	InitialDeviceDisplayName string         `json:"initial_device_display_name,omitempty"`
}

// UserIdentifier is the m.id.user login identifier.
type UserIdentifier struct {
	Type string `json:"type"`
	User string `json:"user"`
}
