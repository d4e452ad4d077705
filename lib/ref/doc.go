// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, immutable references to the
// Matrix identifiers Conact passes between its messaging layer, the
// conversation engine, and the voice controller: user IDs, room IDs,
// event IDs, server names, and event types.
//
// Every identifier is validated once at the boundary (JSON decoding of
// homeserver responses, configuration, CLI flags) and then passed around
// as a value type. The zero value of each type means "unset" and is
// reported by IsZero.
//
// JSON marshaling uses the canonical Matrix string form via
// encoding.TextMarshaler, so these types can be used directly as struct
// fields and map keys in wire types.
package ref
