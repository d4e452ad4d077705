// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding: sorted map keys, smallest
// integer encoding, no indefinite-length items.
var encMode cbor.EncMode

// decMode ignores unknown fields so newer clients can add fields to a
// payload without breaking older ones.
var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// ref types implement encoding.TextMarshaler and have only
	// unexported fields; without this they would encode as empty maps.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// any-typed targets decode maps as map[string]any, matching
		// what encoding/json produces for the JSON fallback.
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// ErrEmptyPayload is returned by UnmarshalPayload for a zero-length
// payload.
var ErrEmptyPayload = errors.New("codec: empty payload")

// UnmarshalPayload decodes a data-channel payload into v. CBOR is tried
// first; if the bytes are not a CBOR item of a compatible shape, the
// payload is decoded as JSON. When both fail, the returned error wraps
// both decoder errors.
func UnmarshalPayload(data []byte, v any) error {
	if len(data) == 0 {
		return ErrEmptyPayload
	}
	cborErr := decMode.Unmarshal(data, v)
	if cborErr == nil {
		return nil
	}
	jsonErr := json.Unmarshal(data, v)
	if jsonErr == nil {
		return nil
	}
	return fmt.Errorf("codec: payload is neither CBOR (%w) nor JSON (%w)", cborErr, jsonErr)
}

// Diagnose returns the CBOR diagnostic notation (RFC 8949 §8) for data.
// Used when logging payloads that failed to decode.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
