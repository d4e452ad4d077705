// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package chatui

import (
	"hash/fnv"

	"github.com/charmbracelet/lipgloss"

	"github.com/conact/conact/lib/voice"
)

// Theme defines the color palette of the chat viewer. All colors use
// lipgloss ANSI 256-color codes.
type Theme struct {
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	// Sender names. Remote senders get a stable color from
	// SenderColors picked by hashing their user ID.
	OwnSender    lipgloss.Color
	SenderColors [6]lipgloss.Color

	// Message state markers.
	PendingText    lipgloss.Color
	DecryptingText lipgloss.Color
	ErrorText      lipgloss.Color

	// Voice panel.
	Speaking   lipgloss.Color
	Muted      lipgloss.Color
	Connected  lipgloss.Color
	Connecting lipgloss.Color

	// UI chrome.
	HeaderForeground lipgloss.Color
	BorderColor      lipgloss.Color
	HelpText         lipgloss.Color

	// HotAccent tints newly arrived messages while they glow.
	HotAccent lipgloss.Color

	LinkForeground lipgloss.Color
}

// SenderColor returns the color for a sender's name.
func (theme Theme) SenderColor(senderID string, own bool) lipgloss.Color {
	if own {
		return theme.OwnSender
	}
	hash := fnv.New32a()
	hash.Write([]byte(senderID))
	return theme.SenderColors[hash.Sum32()%uint32(len(theme.SenderColors))]
}

// ConnectionColor returns the color of the voice status line.
func (theme Theme) ConnectionColor(state voice.ConnectionState) lipgloss.Color {
	switch state {
	case voice.Connected:
		return theme.Connected
	case voice.Connecting:
		return theme.Connecting
	default:
		return theme.FaintText
	}
}

// DefaultTheme is the built-in dark-terminal color scheme.
var DefaultTheme = Theme{
	NormalText: lipgloss.Color("252"),
	FaintText:  lipgloss.Color("245"),

	OwnSender: lipgloss.Color("255"),
	SenderColors: [6]lipgloss.Color{
		lipgloss.Color("75"),  // blue
		lipgloss.Color("114"), // green
		lipgloss.Color("141"), // light purple
		lipgloss.Color("208"), // orange
		lipgloss.Color("80"),  // teal
		lipgloss.Color("211"), // pink
	},

	PendingText:    lipgloss.Color("243"),
	DecryptingText: lipgloss.Color("220"), // yellow/amber
	ErrorText:      lipgloss.Color("196"), // red

	Speaking:   lipgloss.Color("114"),
	Muted:      lipgloss.Color("196"),
	Connected:  lipgloss.Color("114"),
	Connecting: lipgloss.Color("220"),

	HeaderForeground: lipgloss.Color("255"),
	BorderColor:      lipgloss.Color("240"),
	HelpText:         lipgloss.Color("241"),

	HotAccent: lipgloss.Color("58"), // dark amber background tint

	LinkForeground: lipgloss.Color("75"),
}
