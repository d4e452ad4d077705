// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pion/webrtc/v4"
	"golang.org/x/sync/errgroup"

	"github.com/conact/conact/lib/backend"
	"github.com/conact/conact/lib/chatui"
	"github.com/conact/conact/lib/clock"
	"github.com/conact/conact/lib/config"
	"github.com/conact/conact/lib/conversation"
	"github.com/conact/conact/lib/prefstore"
	"github.com/conact/conact/lib/ref"
	"github.com/conact/conact/lib/secret"
	"github.com/conact/conact/lib/timeline"
	"github.com/conact/conact/lib/voice"
	"github.com/conact/conact/messaging"
)

// backendAPIPrefix is appended to the configured backend URL.
const backendAPIPrefix = "/api/v1"

// echoIdentity is the loopback SFU's second participant.
const echoIdentity = "@echo:loopback"

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// runClient assembles the conversation, the optional voice session and
// the terminal UI, and runs them until the user quits or sync stops.
func runClient(opts options) error {
	startupLogger := newStartupLogger()

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if err := cfg.EnsureStorage(); err != nil {
		return err
	}

	// Once the UI owns the screen, background components log to the
	// status line, and to --log-output when given.
	tuiHandler := chatui.NewTUILogHandler(slog.LevelWarn)
	logger := slog.New(tuiHandler)
	if opts.logOutput != "" {
		fileHandler, closeFile, err := openFileLogHandler(opts.logOutput)
		if err != nil {
			return fmt.Errorf("cannot open log file %s: %w", opts.logOutput, err)
		}
		defer closeFile()
		logger = slog.New(fanoutHandler{tuiHandler, fileHandler})
	}

	userID, err := ref.ParseUserID(cfg.Homeserver.UserID)
	if err != nil {
		return fmt.Errorf("homeserver.user_id: %w", err)
	}
	accessToken, err := secret.ReadFromPath(cfg.Homeserver.AccessTokenFile)
	if err != nil {
		return fmt.Errorf("reading Matrix access token: %w", err)
	}
	defer accessToken.Close()

	realClock := clock.Real()
	matrixClient, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: cfg.Homeserver.URL,
		Logger:        logger,
		Clock:         realClock,
	})
	if err != nil {
		return err
	}
	session := matrixClient.SessionFromSecret(userID, accessToken)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// program is set once the UI exists; a rejected backend session
	// quits it.
	var program atomic.Pointer[tea.Program]
	var rejected atomic.Bool

	var api *backend.Client
	if cfg.Backend.URL != "" {
		api, err = openBackend(cfg, accessToken, logger, func(*backend.APIError) {
			rejected.Store(true)
			if current := program.Load(); current != nil {
				current.Quit()
			}
		})
		if err != nil {
			return err
		}
	}

	roomID, err := resolveRoom(ctx, opts, api, cfg, startupLogger)
	if err != nil {
		return err
	}

	live, err := messaging.NewTimeline(messaging.TimelineConfig{
		Session:         session,
		Clock:           realClock,
		Logger:          logger,
		SyncTimeout:     cfg.SyncTimeoutDuration(),
		AutoJoinInvites: cfg.AutoJoinInvites(),
	})
	if err != nil {
		return err
	}

	conv, err := conversation.New(conversation.Config{
		History: session,
		Live:    live,
		Normalizer: timeline.NewNormalizer(timeline.NormalizerConfig{
			LocalUser: userID,
			Media:     session,
		}),
		Clock:       realClock,
		Logger:      logger,
		PageTarget:  cfg.History.PageTarget,
		MaxAttempts: cfg.History.MaxAttempts,
		MinPageSize: cfg.History.MinPageSize,
	})
	if err != nil {
		return err
	}
	defer conv.Close()

	modelConfig := chatui.Config{
		Conversation: conv,
		Title:        roomID.String(),
		Clock:        realClock,
		Logger:       logger,
	}

	var loopback *loopbackVoice
	if opts.voice != "" {
		loopback, err = openLoopbackVoice(cfg, logger)
		if err != nil {
			return err
		}
		defer loopback.Close()
		modelConfig.Voice = loopback.controller
	}

	model, err := chatui.NewModel(modelConfig)
	if err != nil {
		return err
	}
	teaProgram := tea.NewProgram(model, tea.WithAltScreen())
	program.Store(teaProgram)
	tuiHandler.SetProgram(teaProgram)

	startupLogger.Info("starting conact", "user_id", userID, "room_id", roomID)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		err := live.Run(groupCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		// Without /sync the conversation can no longer update.
		teaProgram.Quit()
		return err
	})
	group.Go(func() error {
		if err := conv.Open(groupCtx, roomID); err != nil && groupCtx.Err() == nil {
			logger.Error("opening conversation failed", "room_id", roomID, "error", err)
		}
		return nil
	})
	if loopback != nil {
		group.Go(func() error {
			ice := voice.ICEConfig{}
			turn, err := session.TURNCredentials(groupCtx)
			if err != nil {
				logger.Warn("fetching TURN credentials failed, connecting without TURN", "error", err)
			} else {
				ice = voice.ICEConfigFromTURN(turn)
			}
			if err := loopback.Join(groupCtx, opts.voice, userID, displayName(groupCtx, api, userID, logger), ice); err != nil && groupCtx.Err() == nil {
				logger.Error("joining voice channel failed", "channel", opts.voice, "error", err)
			}
			return nil
		})
	}

	finalModel, runErr := teaProgram.Run()
	if closer, ok := finalModel.(chatui.Model); ok {
		closer.Close()
	}
	cancel()
	syncErr := group.Wait()

	if rejected.Load() {
		return errors.New("the backend rejected the session token; log in again")
	}
	if runErr != nil {
		return runErr
	}
	return syncErr
}

// openBackend creates the REST client from the configured token file.
// The Matrix token is forwarded with every request.
func openBackend(cfg *config.Config, matrixToken *secret.Buffer, logger *slog.Logger, onUnauthorized func(*backend.APIError)) (*backend.Client, error) {
	var token string
	if cfg.Backend.TokenFile != "" {
		buffer, err := secret.ReadFromPath(cfg.Backend.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("reading backend token: %w", err)
		}
		token = buffer.String()
		buffer.Close()
	}
	return backend.NewClient(backend.Config{
		BaseURL:        strings.TrimRight(cfg.Backend.URL, "/") + backendAPIPrefix,
		Token:          token,
		MatrixToken:    matrixToken.String(),
		HTTPClient:     &http.Client{Timeout: cfg.RequestTimeoutDuration()},
		OnUnauthorized: onUnauthorized,
		Logger:         logger,
	})
}

// resolveRoom returns the room named by --room, or the Matrix room of
// the --channel text channel in --guild.
func resolveRoom(ctx context.Context, opts options, api *backend.Client, cfg *config.Config, logger *slog.Logger) (ref.RoomID, error) {
	if opts.roomID != "" {
		return ref.ParseRoomID(opts.roomID)
	}
	if api == nil {
		return ref.RoomID{}, errors.New("--channel needs backend.url in the config")
	}

	requestCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeoutDuration())
	defer cancel()
	channels, err := api.Channels(requestCtx, opts.guildID)
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("listing channels of guild %s: %w", opts.guildID, err)
	}
	channel, err := findTextChannel(channels, opts.channel)
	if err != nil {
		return ref.RoomID{}, err
	}
	logger.Info("resolved channel", "guild_id", opts.guildID, "channel", channel.Name, "room_id", channel.MatrixRoomID)
	return ref.ParseRoomID(channel.MatrixRoomID)
}

// findTextChannel matches by ID first, then by name without a leading
// "#". Only channels that carry messages match.
func findTextChannel(channels []backend.Channel, nameOrID string) (backend.Channel, error) {
	name := strings.TrimPrefix(nameOrID, "#")
	var byName *backend.Channel
	for index := range channels {
		channel := &channels[index]
		if channel.Type != backend.ChannelText && channel.Type != backend.ChannelAnnouncement {
			continue
		}
		if channel.ID == nameOrID {
			return *channel, nil
		}
		if byName == nil && strings.EqualFold(channel.Name, name) {
			byName = channel
		}
	}
	if byName == nil {
		return backend.Channel{}, fmt.Errorf("no text channel %q", nameOrID)
	}
	if byName.MatrixRoomID == "" {
		return backend.Channel{}, fmt.Errorf("channel %q has no Matrix room", byName.Name)
	}
	return *byName, nil
}

// displayName is the backend profile name, or the Matrix localpart
// without a backend.
func displayName(ctx context.Context, api *backend.Client, userID ref.UserID, logger *slog.Logger) string {
	if api != nil {
		user, err := api.Me(ctx)
		if err == nil && user.DisplayName != "" {
			return user.DisplayName
		}
		if err != nil {
			logger.Warn("fetching backend profile failed", "error", err)
		}
	}
	return userID.Localpart()
}

// loopbackVoice is a voice controller on an in-process SFU that also
// hosts an echo participant.
type loopbackVoice struct {
	server      *voice.MemoryServer
	controller  *voice.Controller
	preferences *prefstore.SQLite
	echo        voice.Room
}

func openLoopbackVoice(cfg *config.Config, logger *slog.Logger) (*loopbackVoice, error) {
	preferences, err := prefstore.OpenSQLite(prefstore.SQLiteConfig{
		Path:   cfg.Storage.PreferencesDB,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	server := voice.NewMemoryServer()
	controller, err := voice.NewController(voice.ControllerConfig{
		RoomFactory:             server.Factory(),
		Preferences:             preferences,
		Sounds:                  &voice.BellPlayer{Writer: os.Stdout, MinVolume: voice.SoundPing.Volume()},
		Logger:                  logger,
		ScreenShareBitrate:      cfg.Voice.ScreenShareBitrate,
		DefaultNoiseSuppression: cfg.NoiseSuppressionDefault(),
	})
	if err != nil {
		preferences.Close()
		return nil, err
	}
	return &loopbackVoice{server: server, controller: controller, preferences: preferences}, nil
}

// Join connects the echo participant and then the local user to
// channel.
func (l *loopbackVoice) Join(ctx context.Context, channel string, userID ref.UserID, name string, ice voice.ICEConfig) error {
	echo, err := l.server.Factory()(voice.RoomOptions{Handler: voice.NopHandler{}})
	if err != nil {
		return err
	}
	if err := echo.Connect(ctx, "loopback://", l.server.IssueToken(channel, echoIdentity, "Echo"), voice.ConnectOptions{}); err != nil {
		return fmt.Errorf("connecting echo participant: %w", err)
	}
	l.echo = echo
	track := voice.NewMemoryLocalTrack(webrtc.RTPCodecTypeAudio, voice.SourceMicrophone)
	if err := echo.PublishTrack(ctx, track, voice.PublishOptions{Source: voice.SourceMicrophone, Name: "microphone"}); err != nil {
		return fmt.Errorf("publishing echo microphone: %w", err)
	}

	return l.controller.Connect(ctx, voice.ConnectRequest{
		ServerURL: "loopback://",
		Token:     l.server.IssueToken(channel, userID.String(), name),
		ChannelID: channel,
		ICE:       ice,
	})
}

func (l *loopbackVoice) Close() {
	_ = l.controller.Disconnect(context.Background())
	if l.echo != nil {
		_ = l.echo.Disconnect(context.Background())
	}
	l.preferences.Close()
}
