// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package chatui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/conact/conact/lib/prefstore"
)

// command is a parsed slash command from the composer.
type command struct {
	name string
	args []string
}

// parseCommand splits input into a slash command. Input that does not
// start with "/" is a message. A leading "//" escapes the slash and
// sends the rest, with one slash, as a message.
func parseCommand(input string) (command, string, bool) {
	trimmed := strings.TrimSpace(input)
	if !strings.HasPrefix(trimmed, "/") {
		return command{}, input, false
	}
	if strings.HasPrefix(trimmed, "//") {
		return command{}, trimmed[1:], false
	}
	fields := strings.Fields(trimmed[1:])
	if len(fields) == 0 {
		return command{}, input, false
	}
	return command{name: strings.ToLower(fields[0]), args: fields[1:]}, "", true
}

// commandUsage is shown by /help.
const commandUsage = "/mute /deafen /video /share /leave /ping <user> /volume <user> <0-100> /silence <user> /image <url> [title] /quit"

// volumeArgs parses the arguments of /volume.
func volumeArgs(args []string) (identity string, volume int, err error) {
	if len(args) != 2 {
		return "", 0, fmt.Errorf("usage: /volume <user> <0-100>")
	}
	volume, err = strconv.Atoi(strings.TrimSuffix(args[1], "%"))
	if err != nil {
		return "", 0, fmt.Errorf("volume %q is not a number", args[1])
	}
	if volume < 0 || volume > prefstore.DefaultVolume {
		return "", 0, fmt.Errorf("volume %d is outside 0-100", volume)
	}
	return args[0], volume, nil
}
