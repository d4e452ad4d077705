// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the Matrix client-server API for Conact's
// text chat.
//
// [Client] is an unauthenticated client holding the homeserver URL and
// HTTP transport; [Client.Login] and [Client.SessionFromToken] produce
// a [DirectSession]. The session's access token lives in a
// secret.Buffer (mmap-backed, locked against swap, excluded from core
// dumps); callers must Close the session to release it.
//
// DirectSession covers what the client needs: room history pagination
// ([DirectSession.RoomMessages]), idempotent sends with caller-chosen
// transaction IDs ([DirectSession.SendEventWithTransaction]), /sync,
// joins, TURN credentials for voice, and resolution of mxc:// media
// URIs to download URLs ([DirectSession.MediaURL]).
//
// [Timeline] runs the sync loop and is the single stream of
// [TimelineEvent] values the rest of the client consumes. Sending
// through [Timeline.Send] first publishes a local echo (no event ID,
// a "~" LocalID, Status set) and then performs the PUT; the
// homeserver's copy later arrives over /sync with the same transaction
// ID in unsigned.transaction_id, which is how the two are correlated
// downstream.
//
// All API errors are returned as [*MatrixError] with the standard Matrix
// error code and HTTP status code. [IsMatrixError] tests for a specific
// code and [IsAuthError] for a revoked or missing token. Request URLs
// are built by string concatenation rather than url.URL to avoid
// double-encoding path segments.
package messaging
