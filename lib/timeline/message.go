// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"time"

	"github.com/conact/conact/lib/ref"
)

// DecryptionFailedReason is the DecryptionError text for an event whose
// decryption was attempted and failed.
const DecryptionFailedReason = "Unable to decrypt message"

// Message is one rendered entry of a conversation.
//
// A Message is identified by ID once the homeserver has assigned one,
// and by TransactionID while it exists only as a local echo. Either may
// be empty, but a Message that reaches the reconciler carries at least
// one of them or is treated as new on every delivery.
type Message struct {
	ID            ref.EventID
	TransactionID string

	SenderID   string
	SenderName string

	// Content is the text body. For image messages it is the caption
	// (often the file name).
	Content string
	Image   *Image

	Timestamp time.Time

	Own     bool
	Pending bool

	// Decrypting is set while an encrypted event waits for its keys.
	Decrypting bool

	// DecryptionError is non-empty when decryption failed. Content is
	// always empty in that case.
	DecryptionError string
}

// Image is the media attached to an m.image message.
type Image struct {
	URL    string
	Width  int
	Height int
}

// clone returns a copy of m that shares no memory with it.
func (m Message) clone() Message {
	if m.Image != nil {
		image := *m.Image
		m.Image = &image
	}
	return m
}

// equal reports whether a and b render identically.
func (m Message) equal(other Message) bool {
	if (m.Image == nil) != (other.Image == nil) {
		return false
	}
	if m.Image != nil && *m.Image != *other.Image {
		return false
	}
	a, b := m, other
	a.Image, b.Image = nil, nil
	return a == b
}
