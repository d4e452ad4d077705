// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

// Package chatui is the terminal front end of the Conact client. Built
// on bubbletea, it shows the open conversation's message list with
// pending, decrypting and failed-decryption markers, a composer, and a
// voice panel listing the participants of the connected voice channel.
//
// The model owns no chat or voice state. It subscribes to the
// conversation session and the voice controller, and on every change
// notification re-reads their snapshots. Slash commands in the
// composer drive the voice controller (/mute, /deafen, /video, /share,
// /ping, /volume, /leave) and the conversation (/image).
package chatui
