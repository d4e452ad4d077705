// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

// Package timeline turns the Matrix event stream of one conversation
// into the ordered message list the client renders.
//
// [Normalizer] converts a [messaging.TimelineEvent] into a [Message].
// [Reconciler] merges Messages into the list: a local echo, the
// homeserver's copy of the same message, and a later decryption result
// all land on one entry, whatever order they arrive in.
package timeline
