// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package chatui

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"

	"github.com/conact/conact/lib/ref"
	"github.com/conact/conact/lib/timeline"
)

func testRenderer() *lipgloss.Renderer {
	renderer := lipgloss.NewRenderer(io.Discard, termenv.WithProfile(termenv.ANSI256))
	renderer.SetColorProfile(termenv.ANSI256)
	return renderer
}

func TestRenderMarkdown(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
		avoid []string
	}{
		{
			name:  "emphasis",
			input: "*really* **quite** ~~not~~ sure",
			want:  []string{"really quite not sure"},
			avoid: []string{"*", "~"},
		},
		{
			name:  "line breaks kept",
			input: "first line\nsecond line",
			want:  []string{"first line\nsecond line"},
		},
		{
			name:  "link",
			input: "see [the docs](https://docs.example/x)",
			want:  []string{"see the docs (https://docs.example/x)"},
		},
		{
			name:  "bare url",
			input: "at https://conact.chat today",
			want:  []string{"at https://conact.chat today"},
		},
		{
			name:  "code span",
			input: "run `go test` now",
			want:  []string{"run go test now"},
		},
		{
			name:  "fenced code",
			input: "```go\nfunc main() {}\n```",
			want:  []string{"func main() {}"},
			avoid: []string{"```"},
		},
		{
			name:  "list",
			input: "- one\n- two",
			want:  []string{"• one\n• two"},
		},
		{
			name:  "quote",
			input: "> quoted",
			want:  []string{"│ quoted"},
		},
		{
			name:  "raw html",
			input: "a <b>bold</b> claim",
			want:  []string{"a bold claim"},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := ansi.Strip(renderMarkdown(test.input, DefaultTheme, 80, testRenderer()))
			for _, want := range test.want {
				if !strings.Contains(got, want) {
					t.Errorf("render(%q) = %q, missing %q", test.input, got, want)
				}
			}
			for _, avoid := range test.avoid {
				if strings.Contains(got, avoid) {
					t.Errorf("render(%q) = %q, contains %q", test.input, got, avoid)
				}
			}
		})
	}
}

func TestRenderMarkdownWraps(t *testing.T) {
	got := ansi.Strip(renderMarkdown(strings.Repeat("word ", 30), DefaultTheme, 20, testRenderer()))
	for _, line := range strings.Split(got, "\n") {
		if width := ansi.StringWidth(line); width > 20 {
			t.Errorf("line %q is %d wide, limit 20", line, width)
		}
	}
}

func TestRenderMessageHeat(t *testing.T) {
	message := timeline.Message{
		ID:         ref.MustParseEventID("$1"),
		SenderID:   "@alice:x",
		SenderName: "alice",
		Content:    "hi",
		Timestamp:  time.Date(2026, 3, 1, 9, 30, 0, 0, time.Local),
	}
	cold := renderMessage(message, DefaultTheme, 40, testRenderer(), 0)
	hot := renderMessage(message, DefaultTheme, 40, testRenderer(), 0.5)
	if ansi.Strip(cold) == "" || !strings.Contains(ansi.Strip(cold), "alice 09:30") {
		t.Errorf("cold render = %q", ansi.Strip(cold))
	}
	if cold == hot {
		t.Error("hot message rendered like a cold one")
	}
	for _, line := range strings.Split(ansi.Strip(hot), "\n") {
		if ansi.StringWidth(line) != 40 {
			t.Errorf("hot line %q not padded to 40", line)
		}
	}
}

func TestMessageKey(t *testing.T) {
	echo := timeline.Message{TransactionID: "t1"}
	confirmed := timeline.Message{ID: ref.MustParseEventID("$abc"), TransactionID: "t1"}
	remote := timeline.Message{ID: ref.MustParseEventID("$abc")}
	if messageKey(echo) != messageKey(confirmed) {
		t.Error("confirmation changed the key of a sent message")
	}
	if messageKey(remote) != "event:$abc" {
		t.Errorf("remote key = %q", messageKey(remote))
	}
}

func TestRenderScrollbar(t *testing.T) {
	tests := []struct {
		name                   string
		total, visible, offset int
		wantThumb              []bool
	}{
		{"fits", 3, 4, 0, []bool{true, true, true, true}},
		{"top", 8, 4, 0, []bool{true, true, false, false}},
		{"bottom", 8, 4, 4, []bool{false, false, true, true}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			lines := strings.Split(ansi.Strip(renderScrollbar(DefaultTheme, testRenderer(), 4, test.total, test.visible, test.offset)), "\n")
			if len(lines) != 4 {
				t.Fatalf("got %d lines, want 4", len(lines))
			}
			for index, line := range lines {
				if got := line == "┃"; got != test.wantThumb[index] {
					t.Errorf("line %d = %q, want thumb %v", index, line, test.wantThumb[index])
				}
			}
		})
	}
}

func TestHeatTracker(t *testing.T) {
	tracker := NewHeatTracker()
	start := time.Unix(1000, 0)
	tracker.Ignite("a", start)

	if got := tracker.Heat("a", start); got != 1 {
		t.Errorf("heat at ignition = %v, want 1", got)
	}
	if got := tracker.Heat("a", start.Add(HeatDecayDuration/2)); got != 0.5 {
		t.Errorf("heat at half decay = %v, want 0.5", got)
	}
	if got := tracker.Heat("b", start); got != 0 {
		t.Errorf("heat of unknown key = %v", got)
	}
	if !tracker.HasHot(start.Add(time.Second)) {
		t.Error("HasHot false while glowing")
	}
	if tracker.HasHot(start.Add(HeatDecayDuration)) {
		t.Error("HasHot true after decay")
	}
	if len(tracker.entries) != 0 {
		t.Errorf("decayed entries kept: %v", tracker.entries)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input       string
		wantCommand bool
		wantName    string
		wantArgs    string
		wantText    string
	}{
		{"hello", false, "", "", "hello"},
		{"/mute", true, "mute", "", ""},
		{"  /Volume @bob:x 40 ", true, "volume", "@bob:x 40", ""},
		{"//not a command", false, "", "", "/not a command"},
		{"/", false, "", "", "/"},
	}
	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			parsed, text, isCommand := parseCommand(test.input)
			if isCommand != test.wantCommand {
				t.Fatalf("isCommand = %v, want %v", isCommand, test.wantCommand)
			}
			if parsed.name != test.wantName || strings.Join(parsed.args, " ") != test.wantArgs {
				t.Errorf("command = %+v", parsed)
			}
			if text != test.wantText {
				t.Errorf("text = %q, want %q", text, test.wantText)
			}
		})
	}
}
