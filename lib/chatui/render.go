// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package chatui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/conact/conact/lib/prefstore"
	"github.com/conact/conact/lib/timeline"
	"github.com/conact/conact/lib/voice"
)

// bodyIndent is the left margin of message bodies under the sender
// line.
const bodyIndent = "  "

// messageKey identifies a message for the lifetime of the list. A sent
// message keeps its transaction ID after the server echo adds an event
// ID, so it does not glow a second time when confirmed.
func messageKey(message timeline.Message) string {
	if message.TransactionID != "" {
		return "txn:" + message.TransactionID
	}
	return "event:" + message.ID.String()
}

// renderMessage renders one message: a sender line, then the body
// indented below it. heat above zero tints the whole block.
func renderMessage(message timeline.Message, theme Theme, width int, lipRenderer *lipgloss.Renderer, heat float64) string {
	name := message.SenderName
	if name == "" {
		name = message.SenderID
	}
	header := lipRenderer.NewStyle().Bold(true).Foreground(theme.SenderColor(message.SenderID, message.Own)).Render(name)
	if !message.Timestamp.IsZero() {
		header += " " + lipRenderer.NewStyle().Foreground(theme.FaintText).Render(message.Timestamp.Local().Format("15:04"))
	}
	if message.Pending {
		header += " " + lipRenderer.NewStyle().Foreground(theme.PendingText).Italic(true).Render("sending")
	}

	bodyWidth := max(width-len(bodyIndent), 10)
	var body string
	switch {
	case message.DecryptionError != "":
		body = lipRenderer.NewStyle().Foreground(theme.ErrorText).
			Render(ansi.Wrap("unable to decrypt: "+message.DecryptionError, bodyWidth, wrapBreakpoints))
	case message.Decrypting:
		body = lipRenderer.NewStyle().Foreground(theme.DecryptingText).Italic(true).Render("decrypting…")
	case message.Image != nil:
		body = renderImage(message, theme, bodyWidth, lipRenderer)
	case message.Pending:
		body = lipRenderer.NewStyle().Foreground(theme.PendingText).
			Render(ansi.Wrap(message.Content, bodyWidth, wrapBreakpoints))
	default:
		body = renderMarkdown(message.Content, theme, bodyWidth, lipRenderer)
	}

	lines := []string{header}
	for _, line := range strings.Split(body, "\n") {
		lines = append(lines, bodyIndent+line)
	}
	block := strings.Join(lines, "\n")
	if heat > 0 {
		block = lipRenderer.NewStyle().Background(theme.HotAccent).Width(width).Render(block)
	}
	return block
}

func renderImage(message timeline.Message, theme Theme, width int, lipRenderer *lipgloss.Renderer) string {
	label := "[image]"
	if message.Content != "" {
		label = "[image: " + message.Content + "]"
	}
	if message.Image.Width > 0 && message.Image.Height > 0 {
		label += fmt.Sprintf(" %d×%d", message.Image.Width, message.Image.Height)
	}
	faint := lipRenderer.NewStyle().Foreground(theme.FaintText)
	link := lipRenderer.NewStyle().Foreground(theme.LinkForeground).Underline(true)
	return faint.Render(ansi.Wrap(label, width, wrapBreakpoints)) + "\n" + link.Render(ansi.Hardwrap(message.Image.URL, width, false))
}

// renderMessages renders the full list separated by blank lines.
func renderMessages(messages []timeline.Message, theme Theme, width int, lipRenderer *lipgloss.Renderer, heat func(key string) float64) string {
	blocks := make([]string, 0, len(messages))
	for _, message := range messages {
		blocks = append(blocks, renderMessage(message, theme, width, lipRenderer, heat(messageKey(message))))
	}
	return strings.Join(blocks, "\n\n")
}

// participantPrefs reports local playback preferences for the voice
// panel.
type participantPrefs interface {
	ParticipantVolume(identity string) int
	IsParticipantMuted(identity string) bool
}

// renderVoicePanel renders the voice status and participant list into
// a block exactly width columns wide.
func renderVoicePanel(state voice.State, participants []voice.Participant, prefs participantPrefs, theme Theme, width int, lipRenderer *lipgloss.Renderer) string {
	faint := lipRenderer.NewStyle().Foreground(theme.FaintText)
	var lines []string

	status := lipRenderer.NewStyle().Bold(true).Foreground(theme.ConnectionColor(state.Connection))
	if state.Connection == voice.Disconnected {
		lines = append(lines, status.Render("voice: off"))
	} else {
		lines = append(lines, status.Render("voice: "+state.Connection.String()))
		if state.ChannelID != "" {
			lines = append(lines, faint.Render(ansi.Truncate("#"+state.ChannelID, width, "…")))
		}
	}

	var flags []string
	if state.Muted {
		flags = append(flags, "muted")
	}
	if state.Deafened {
		flags = append(flags, "deafened")
	}
	if state.VideoEnabled {
		flags = append(flags, "camera")
	}
	if state.ScreenSharing {
		flags = append(flags, "sharing")
	}
	if state.ScreenPickerOpen {
		flags = append(flags, "picking source")
	}
	if len(flags) > 0 {
		lines = append(lines, lipRenderer.NewStyle().Foreground(theme.Muted).Render(ansi.Wrap(strings.Join(flags, " · "), width, " ")))
	}
	if len(participants) > 0 {
		lines = append(lines, "")
	}

	for _, participant := range participants {
		lines = append(lines, renderParticipant(participant, prefs, theme, width, lipRenderer))
	}
	return lipRenderer.NewStyle().Width(width).MaxWidth(width).Render(strings.Join(lines, "\n"))
}

func renderParticipant(participant voice.Participant, prefs participantPrefs, theme Theme, width int, lipRenderer *lipgloss.Renderer) string {
	marker := lipRenderer.NewStyle().Foreground(theme.FaintText).Render("○")
	if participant.Speaking {
		marker = lipRenderer.NewStyle().Foreground(theme.Speaking).Render("●")
	}
	name := participant.DisplayName
	if name == "" {
		name = participant.Identity
	}
	if participant.Local {
		name += " (you)"
	}

	var tags []string
	if participant.AudioMuted {
		tags = append(tags, "mic off")
	}
	if participant.VideoEnabled {
		tags = append(tags, "cam")
	}
	if participant.ScreenSharing {
		tags = append(tags, "screen")
	}
	if !participant.Local && prefs != nil {
		if prefs.IsParticipantMuted(participant.Identity) {
			tags = append(tags, "silenced")
		} else if volume := prefs.ParticipantVolume(participant.Identity); volume != prefstore.DefaultVolume {
			tags = append(tags, fmt.Sprintf("%d%%", volume))
		}
	}

	line := marker + " " + lipRenderer.NewStyle().Foreground(theme.NormalText).Render(name)
	if len(tags) > 0 {
		line += " " + lipRenderer.NewStyle().Foreground(theme.FaintText).Render(strings.Join(tags, " "))
	}
	return ansi.Truncate(line, width, "…")
}

// renderScrollbar produces a single-column scrollbar. The thumb marks
// the visible region of the content.
func renderScrollbar(theme Theme, lipRenderer *lipgloss.Renderer, height, totalLines, visibleLines, offset int) string {
	if height <= 0 {
		return ""
	}
	track := lipRenderer.NewStyle().Foreground(theme.BorderColor).Render("│")
	thumb := lipRenderer.NewStyle().Foreground(theme.HelpText).Render("┃")
	lines := make([]string, height)

	if totalLines <= visibleLines || totalLines <= 0 {
		for index := range lines {
			lines[index] = thumb
		}
		return strings.Join(lines, "\n")
	}

	thumbSize := max(height*visibleLines/totalLines, 1)
	scrollable := totalLines - visibleLines
	trackRange := height - thumbSize
	thumbOffset := 0
	if scrollable > 0 && trackRange > 0 {
		thumbOffset = offset * trackRange / scrollable
	}
	thumbOffset = min(thumbOffset, height-thumbSize)

	for index := range lines {
		if index >= thumbOffset && index < thumbOffset+thumbSize {
			lines[index] = thumb
		} else {
			lines[index] = track
		}
	}
	return strings.Join(lines, "\n")
}
