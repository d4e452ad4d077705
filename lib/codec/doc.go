// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Conact's CBOR configuration for payloads sent
// over the voice room's data channel (pings and any future direct
// messages between participants).
//
// Two formats meet on that channel. Conact's own clients encode with
// Core Deterministic CBOR (RFC 8949 §4.2); browser clients send JSON
// text. Marshal always produces CBOR. UnmarshalPayload accepts either,
// trying CBOR first and falling back to JSON.
//
// Types carried here use `json` struct tags only: fxamacker/cbor reads
// them when `cbor` tags are absent, so one tag controls the field name
// in both encodings.
package codec
