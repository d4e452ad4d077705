// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

// Package voice is the client side of a voice channel.
//
// A [Controller] owns at most one SFU [Room] at a time. Connecting to a
// channel while in another leaves the old room first, detaching every
// audio track it was playing. Room events flow into a [Registry], which
// mirrors the participants the SFU reports and plays their audio at the
// gain the controller's current [AudioPolicy] gives them:
//
//	microphone:         0 if deafened or locally muted, else volume/100
//	screen-share audio: 0 if deafened or not enabled, else 1
//
// The SFU itself sits behind the Room interface. [MemoryServer] is an
// in-process implementation carrying no media; tests and the demo
// command use it.
//
// Pings travel as CBOR-encoded [DataMessage] values over the room's
// reliable data channel and play [SoundPing] even while deafened.
package voice
