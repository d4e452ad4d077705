// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

// Package prefstore persists the local user's voice preferences:
// per-participant playback volume, per-participant local mute, media
// device selection, and the noise suppression toggle.
//
// [Store] is the interface the voice controller depends on. Two
// implementations exist: [Memory] for tests and ephemeral sessions,
// and [SQLite] for the desktop client, backed by lib/sqlitepool.
// Both notify subscribers after each committed write so that views
// holding a copy of the preferences can refresh.
//
// Preferences survive voice disconnects and client restarts. Session
// scoped state (which participants have screen share audio enabled)
// is deliberately absent; it lives in the voice controller.
package prefstore
