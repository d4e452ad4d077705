// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend is a client for the Conact REST backend, which owns
// accounts, guilds, channels, invites, friends, direct-message threads
// and voice-room tokens. Messages themselves live on the Matrix
// homeserver; see package messaging.
//
// Every response wraps its payload as {"data": ...} and every failure
// as {"error": {"code": ..., "message": ...}}. Failures surface as
// *APIError. A 401 from any call invokes Config.OnUnauthorized once per
// response, which is where the application logs the user out.
package backend
