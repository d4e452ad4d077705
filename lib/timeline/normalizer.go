// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"strings"
	"time"

	"github.com/conact/conact/lib/ref"
	"github.com/conact/conact/messaging"
)

// NormalizerConfig holds what a Normalizer needs to know about the
// local client.
type NormalizerConfig struct {
	// LocalUser decides Message.Own.
	LocalUser ref.UserID

	// Media resolves mxc:// image URLs. Nil leaves every URL as sent.
	Media messaging.MediaResolver
}

// Normalizer converts timeline events into Messages. It holds no
// mutable state and is safe for concurrent use.
type Normalizer struct {
	localUser string
	media     messaging.MediaResolver
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(config NormalizerConfig) *Normalizer {
	return &Normalizer{
		localUser: config.LocalUser.String(),
		media:     config.Media,
	}
}

// Normalize converts event into a Message. It returns false for event
// types that are not rendered as messages (state events, reactions,
// redactions, and so on).
func (n *Normalizer) Normalize(event messaging.TimelineEvent) (Message, bool) {
	if event.Type != ref.EventTypeRoomMessage && event.Type != ref.EventTypeRoomEncrypted {
		return Message{}, false
	}

	content := event.EffectiveContent()
	body := stringField(content, "body")

	message := Message{
		ID:            event.EventID,
		TransactionID: transactionID(event),
		SenderID:      event.Sender,
		SenderName:    ref.DisplayLocalpart(event.Sender),
		Content:       body,
		Own:           n.localUser != "" && event.Sender == n.localUser,
		Pending:       event.Status != "",
		Decrypting:    event.Encrypted() && body == "" && !event.DecryptionFailed,
	}
	if event.OriginServerTS > 0 {
		message.Timestamp = time.UnixMilli(event.OriginServerTS)
	}

	if event.DecryptionFailed {
		message.DecryptionError = DecryptionFailedReason
		message.Content = ""
		return message, true
	}

	if stringField(content, "msgtype") == messaging.MsgTypeImage {
		message.Image = n.image(content)
	}
	return message, true
}

func (n *Normalizer) image(content map[string]any) *Image {
	image := &Image{URL: stringField(content, "url")}
	if n.media != nil && strings.HasPrefix(image.URL, "mxc://") {
		if resolved, ok := n.media.MediaURL(image.URL); ok {
			image.URL = resolved
		}
	}
	if info, ok := content["info"].(map[string]any); ok {
		image.Width = intField(info, "w")
		image.Height = intField(info, "h")
	}
	return image
}

// transactionID finds the transaction ID that correlates a local echo
// with its remote echo. The first source that yields one wins: the
// echo's own field, the homeserver's unsigned echo of it, and finally
// the "~<room>:<txn>" shape of a local echo's identifier.
//
// The last fallback depends on the local echo ID format produced by
// messaging.Timeline; a transport with a different format will not
// match it.
func transactionID(event messaging.TimelineEvent) string {
	if event.TransactionID != "" {
		return event.TransactionID
	}
	if unsigned := event.Unsigned; unsigned != nil {
		if unsigned.TransactionID != "" {
			return unsigned.TransactionID
		}
		if unsigned.TxnID != "" {
			return unsigned.TxnID
		}
	}
	if strings.HasPrefix(event.LocalID, "~") {
		if index := strings.LastIndexByte(event.LocalID, ':'); index >= 0 {
			return event.LocalID[index+1:]
		}
	}
	return ""
}

func stringField(content map[string]any, key string) string {
	value, _ := content[key].(string)
	return value
}

// intField reads a JSON number. Decoded JSON numbers are float64; Go
// callers building content by hand may use int.
func intField(content map[string]any, key string) int {
	switch value := content[key].(type) {
	case float64:
		return int(value)
	case int:
		return value
	case int64:
		return int(value)
	}
	return 0
}
