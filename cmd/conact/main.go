// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

// conact is the terminal client: one conversation with a live message
// list and composer, plus a voice panel when a voice room is joined.
//
// The conversation is a Matrix room, named directly with --room or
// resolved through the Conact backend from --guild and --channel.
// With --voice the client joins a voice channel on the in-process
// loopback SFU, which admits a second "echo" participant so the panel,
// pings and per-participant controls can be exercised without a media
// server.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/conact/conact/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// options are the parsed command-line flags.
type options struct {
	configPath string
	roomID     string
	guildID    string
	channel    string
	voice      string
	logOutput  string
}

func run() error {
	var opts options

	flagSet := pflag.NewFlagSet("conact", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", "", "path to conact.yaml (default: $CONACT_CONFIG)")
	flagSet.StringVar(&opts.roomID, "room", "", "Matrix room ID of the conversation to open")
	flagSet.StringVar(&opts.guildID, "guild", "", "guild ID used to resolve --channel through the backend")
	flagSet.StringVar(&opts.channel, "channel", "", "text channel name or ID within --guild")
	flagSet.StringVar(&opts.voice, "voice", "", "join this voice channel on the loopback SFU")
	flagSet.StringVar(&opts.logOutput, "log-output", "", "write JSON log records to this file (in addition to the status line)")
	flagSet.Bool("version", false, "print version information and exit")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}

	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if showVersion, _ := flagSet.GetBool("version"); showVersion {
		version.Fprint(os.Stdout, "conact")
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}
	if opts.roomID == "" && opts.channel == "" {
		return errors.New("either --room or --guild with --channel is required")
	}
	if opts.channel != "" && opts.guildID == "" {
		return errors.New("--channel requires --guild")
	}

	return runClient(opts)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Conact terminal client.

Opens one conversation and keeps it live over Matrix /sync. Messages
you send appear immediately and are confirmed when the server echoes
them back. Lines starting with "/" are commands; type /help inside the
client for the list.

Usage:
  conact [flags]

Examples:
  # Open a room by ID
  conact --room '!abc123:conact.chat'

  # Resolve a guild channel through the backend
  conact --guild 01J9Z8 --channel general

  # Also join the loopback voice channel "lounge"
  conact --room '!abc123:conact.chat' --voice lounge

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
