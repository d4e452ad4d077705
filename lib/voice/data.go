// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package voice

import (
	"github.com/conact/conact/lib/codec"
)

// PingMessageType is the data message type of a ping.
const PingMessageType = "conact:ping"

// DataMessage is the envelope of every data-channel message the client
// sends. It is encoded as CBOR; JSON is accepted on receipt, which is
// what browser clients send.
type DataMessage struct {
	Type string `json:"type" cbor:"type"`
}

// EncodeDataMessage encodes message for Room.PublishData.
func EncodeDataMessage(message DataMessage) ([]byte, error) {
	return codec.Marshal(message)
}

// DecodeDataMessage decodes a received payload.
func DecodeDataMessage(payload []byte) (DataMessage, error) {
	var message DataMessage
	if err := codec.UnmarshalPayload(payload, &message); err != nil {
		return DataMessage{}, err
	}
	return message, nil
}
