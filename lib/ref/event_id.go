// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// EventID is the homeserver-assigned ID of a timeline event, the key
// the message reconciler merges remote echoes and history on. Current
// room versions use "$" plus an unpadded base64 hash; older ones append
// ":server". Both are kept opaque.
//
// A local echo has no EventID until the server confirms it. Its "~"
// placeholder is not accepted here, so a placeholder can never be
// mistaken for a confirmed event.
type EventID struct {
	id string
}

// ParseEventID accepts "$" followed by at least one character, none of
// them whitespace or control characters.
func ParseEventID(raw string) (EventID, error) {
	body, ok := strings.CutPrefix(raw, "$")
	switch {
	case raw == "":
		return EventID{}, fmt.Errorf("event ID is empty")
	case !ok:
		return EventID{}, fmt.Errorf("event ID %q does not start with '$'", raw)
	case body == "":
		return EventID{}, fmt.Errorf("event ID %q is only the sigil", raw)
	}
	if index := strings.IndexFunc(body, func(r rune) bool { return r <= ' ' || r == 0x7f }); index >= 0 {
		return EventID{}, fmt.Errorf("event ID %q: invalid character at position %d", raw, index+1)
	}
	return EventID{id: raw}, nil
}

// MustParseEventID panics on an invalid ID. For tests and literals.
func MustParseEventID(raw string) EventID {
	id, err := ParseEventID(raw)
	if err != nil {
		panic("ref: " + err.Error())
	}
	return id
}

func (e EventID) String() string { return e.id }

// IsZero reports an unset ID, as on an unconfirmed local echo.
func (e EventID) IsZero() bool { return e.id == "" }

// MarshalText writes the ID; the zero value writes nothing.
func (e EventID) MarshalText() ([]byte, error) {
	return []byte(e.id), nil
}

// UnmarshalText validates the ID. Empty input is the zero value, as
// sent for events the server has not yet assigned an ID.
func (e *EventID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*e = EventID{}
		return nil
	}
	parsed, err := ParseEventID(string(data))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
