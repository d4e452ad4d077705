// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/conact/conact/lib/ref"
	"github.com/conact/conact/lib/secret"
)

// DirectSession is an authenticated Matrix session.
// It wraps a Client with an access token for making authenticated API calls.
//
// The access token is stored in a secret.Buffer (mmap-backed, locked against
// swap, excluded from core dumps). The caller must call Close when the
// DirectSession is no longer needed.
type DirectSession struct {
	client      *Client
	accessToken *secret.Buffer
	userID      ref.UserID
	deviceID    string
}

// UserID returns the fully-qualified Matrix user ID (e.g., "@alice:example.org").
func (s *DirectSession) UserID() ref.UserID {
	return s.userID
}

// DeviceID returns the device ID for this session. Empty for sessions
// restored from a bare token.
func (s *DirectSession) DeviceID() string {
	return s.deviceID
}

// CloseIdleConnections closes idle HTTP connections in the underlying
// transport's connection pool. The sync loop calls this after a sync
// error to force the next request onto a fresh TCP connection.
func (s *DirectSession) CloseIdleConnections() {
	s.client.CloseIdleConnections()
}

// Close releases the access token memory (zeros, unlocks, unmaps).
// Idempotent.
func (s *DirectSession) Close() error {
	if s.accessToken != nil {
		return s.accessToken.Close()
	}
	return nil
}

// WhoAmI validates the access token and returns the user ID.
func (s *DirectSession) WhoAmI(ctx context.Context) (ref.UserID, error) {
	body, err := s.client.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/account/whoami", s.accessToken, nil)
	if err != nil {
		return ref.UserID{}, fmt.Errorf("messaging: whoami failed: %w", err)
	}

	var response WhoAmIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.UserID{}, fmt.Errorf("messaging: failed to parse whoami response: %w", err)
	}
	return response.UserID, nil
}

// JoinRoom joins a room by ID. Returns the room ID.
func (s *DirectSession) JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error) {
	path := "/_matrix/client/v3/join/" + url.PathEscape(roomID.String())
	body, err := s.client.doRequest(ctx, http.MethodPost, path, s.accessToken, struct{}{})
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: join room %s failed: %w", roomID, err)
	}

	var response struct {
		RoomID ref.RoomID `json:"room_id"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: failed to parse join response: %w", err)
	}
	return response.RoomID, nil
}

// JoinedRooms returns the list of room IDs the user has joined.
func (s *DirectSession) JoinedRooms(ctx context.Context) ([]ref.RoomID, error) {
	body, err := s.client.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/joined_rooms", s.accessToken, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: joined rooms failed: %w", err)
	}

	var response JoinedRoomsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse joined rooms response: %w", err)
	}
	return response.JoinedRooms, nil
}

// SendMessage sends an m.room.message with a freshly generated
// transaction ID. Returns the event ID of the sent message.
func (s *DirectSession) SendMessage(ctx context.Context, roomID ref.RoomID, content MessageContent) (ref.EventID, error) {
	return s.SendEventWithTransaction(ctx, roomID, ref.EventTypeRoomMessage, s.NewTransactionID(), content)
}

// SendEventWithTransaction sends an event using the caller's
// transaction ID. Matrix treats a repeated PUT with the same ID as the
// same send, and echoes the ID back to this device in the event's
// unsigned.transaction_id so the local echo can be matched to it.
func (s *DirectSession) SendEventWithTransaction(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, transactionID string, content any) (ref.EventID, error) {
	if transactionID == "" {
		return ref.EventID{}, fmt.Errorf("messaging: send event to %s: empty transaction ID", roomID)
	}
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/%s/%s",
		url.PathEscape(roomID.String()),
		url.PathEscape(eventType.String()),
		url.PathEscape(transactionID),
	)

	body, err := s.client.doRequest(ctx, http.MethodPut, path, s.accessToken, content)
	if err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: send event to %s failed: %w", roomID, err)
	}

	var response SendEventResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: failed to parse send response: %w", err)
	}
	return response.EventID, nil
}

// NewTransactionID returns a fresh, locally unique transaction ID.
func (s *DirectSession) NewTransactionID() string {
	return s.client.txnIDs.Next()
}

// RoomMessages fetches messages from a room with pagination.
func (s *DirectSession) RoomMessages(ctx context.Context, roomID ref.RoomID, options RoomMessagesOptions) (*RoomMessagesResponse, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/messages", url.PathEscape(roomID.String()))

	query := url.Values{}
	if options.From != "" {
		query.Set("from", options.From)
	}
	direction := options.Direction
	if direction == "" {
		direction = "b" // backward (newest first) by default
	}
	query.Set("dir", direction)
	if options.Limit > 0 {
		query.Set("limit", strconv.Itoa(options.Limit))
	}

	body, err := s.client.doRequest(ctx, http.MethodGet, path, s.accessToken, nil, query)
	if err != nil {
		return nil, fmt.Errorf("messaging: room messages for %s failed: %w", roomID, err)
	}

	var response RoomMessagesResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse messages response: %w", err)
	}
	return &response, nil
}

// Sync performs an incremental sync with the homeserver.
// For initial sync, leave options.Since empty.
// For long-polling, set options.Timeout to the desired wait in milliseconds.
func (s *DirectSession) Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error) {
	query := url.Values{}
	if options.Since != "" {
		query.Set("since", options.Since)
	}
	if options.SetTimeout {
		query.Set("timeout", strconv.Itoa(options.Timeout))
	}
	if options.Filter != "" {
		query.Set("filter", options.Filter)
	}

	body, err := s.client.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/sync", s.accessToken, nil, query)
	if err != nil {
		return nil, fmt.Errorf("messaging: sync failed: %w", err)
	}

	var response SyncResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse sync response: %w", err)
	}
	return &response, nil
}

// GetDisplayName fetches the display name for a Matrix user from their profile.
// Returns an empty string (not an error) if the user has no display name set.
func (s *DirectSession) GetDisplayName(ctx context.Context, userID ref.UserID) (string, error) {
	path := "/_matrix/client/v3/profile/" + url.PathEscape(userID.String()) + "/displayname"
	body, err := s.client.doRequest(ctx, http.MethodGet, path, s.accessToken, nil)
	if err != nil {
		return "", fmt.Errorf("messaging: get display name for %s failed: %w", userID, err)
	}

	var response DisplayNameResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("messaging: failed to parse display name response: %w", err)
	}
	return response.DisplayName, nil
}

// TURNCredentials fetches time-limited TURN server credentials from the
// homeserver. The voice layer converts them into ICE servers for the SFU
// connection.
//
// Corresponds to GET /_matrix/client/v3/voip/turnServer.
func (s *DirectSession) TURNCredentials(ctx context.Context) (*TURNCredentialsResponse, error) {
	body, err := s.client.doRequest(ctx, http.MethodGet,
		"/_matrix/client/v3/voip/turnServer", s.accessToken, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: get TURN credentials failed: %w", err)
	}

	var response TURNCredentialsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse TURN credentials: %w", err)
	}
	return &response, nil
}

// MediaURL resolves an mxc:// content URI to this homeserver's media
// download URL. The URL is shown to the user and opened outside the
// client, so it uses the /_matrix/media/v3 path, which takes no
// Authorization header. Homeservers that have frozen unauthenticated
// media answer it with 404. It reports false when uri is not a
// well-formed mxc URI or the session is not logged in; callers then
// use uri unchanged.
func (s *DirectSession) MediaURL(uri string) (string, bool) {
	if s.accessToken == nil {
		return "", false
	}
	server, mediaID, ok := parseContentURI(uri)
	if !ok {
		return "", false
	}
	return s.client.baseURL + "/_matrix/media/v3/download/" +
		url.PathEscape(server) + "/" + url.PathEscape(mediaID), true
}

// parseContentURI splits "mxc://server/mediaId".
func parseContentURI(uri string) (server, mediaID string, ok bool) {
	rest, found := strings.CutPrefix(uri, "mxc://")
	if !found {
		return "", "", false
	}
	server, mediaID, found = strings.Cut(rest, "/")
	if !found || server == "" || mediaID == "" || strings.Contains(mediaID, "/") {
		return "", "", false
	}
	return server, mediaID, true
}
