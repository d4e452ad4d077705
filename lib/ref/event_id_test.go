// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseEventID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "hash", input: "$Rqnc-F-dvnEYJTyHq_iKxU2bZ1CI92-kuZq3a5lr5Zg"},
		{name: "legacy with server", input: "$1526292813:conact.chat"},
		{name: "empty", input: "", wantErr: "empty"},
		{name: "room ID", input: "!general:conact.chat", wantErr: "does not start with '$'"},
		{name: "user ID", input: "@alice:conact.chat", wantErr: "does not start with '$'"},
		{name: "sigil only", input: "$", wantErr: "only the sigil"},
		{name: "local echo placeholder", input: "~!general:conact.chat:conact-01J", wantErr: "does not start with '$'"},
		{name: "space", input: "$abc def", wantErr: "position 4"},
		{name: "newline", input: "$abc\n", wantErr: "invalid character"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			id, err := ParseEventID(test.input)
			if test.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), test.wantErr) {
					t.Fatalf("ParseEventID(%q) error = %v, want containing %q", test.input, err, test.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEventID(%q): %v", test.input, err)
			}
			if id.String() != test.input || id.IsZero() {
				t.Errorf("ParseEventID(%q) = %q (zero %v)", test.input, id, id.IsZero())
			}
		})
	}
}

// remoteEcho is the shape a confirmed send arrives in over /sync.
type remoteEcho struct {
	EventID  EventID `json:"event_id"`
	Unsigned struct {
		TransactionID string `json:"transaction_id"`
	} `json:"unsigned"`
}

func TestEventIDJSON(t *testing.T) {
	var echo remoteEcho
	if err := json.Unmarshal([]byte(`{"event_id":"$abc","unsigned":{"transaction_id":"conact-1"}}`), &echo); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if echo.EventID != MustParseEventID("$abc") {
		t.Errorf("EventID = %q, want $abc", echo.EventID)
	}
	data, err := json.Marshal(echo)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"event_id":"$abc"`) {
		t.Errorf("Marshal = %s", data)
	}

	var pending remoteEcho
	if err := json.Unmarshal([]byte(`{"event_id":""}`), &pending); err != nil {
		t.Fatalf("Unmarshal empty: %v", err)
	}
	if !pending.EventID.IsZero() {
		t.Errorf("empty event_id decoded to %q, want zero", pending.EventID)
	}

	if err := json.Unmarshal([]byte(`{"event_id":"!room:x"}`), &pending); err == nil {
		t.Error("a room ID decoded as an event ID")
	}
}

func TestMustParseEventIDPanics(t *testing.T) {
	defer func() {
		recovered := recover()
		if message, _ := recovered.(string); !strings.Contains(message, "empty") {
			t.Errorf("recovered %v, want an empty-ID panic", recovered)
		}
	}()
	MustParseEventID("")
}
