// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

// Package conversation manages the open conversation: it loads bounded
// history when a room is opened, routes live and decryption events for
// that room into a [timeline.Reconciler], and sends messages whose
// local echoes the reconciler later merges with the homeserver's copy.
package conversation
