// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/conact/conact/lib/notify"
	"github.com/conact/conact/lib/prefstore"
)

// ConnectionState is the lifecycle of a voice session.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// State is the local view of the voice session.
type State struct {
	Connection ConnectionState
	ChannelID  string
	GuildID    string

	Muted         bool
	Deafened      bool
	VideoEnabled  bool
	ScreenSharing bool

	// ScreenPickerOpen is set while the user is choosing a window or
	// screen for the source-picker share path.
	ScreenPickerOpen bool
}

// Screen share capture parameters.
const (
	DefaultScreenShareBitrate = 10_000_000

	screenShareWidth       = 1920
	screenShareHeight      = 1080
	screenShareFrameRate   = 30
	screenShareContentHint = "motion"
)

var (
	// ErrNotConnected is returned by operations that need a live room.
	ErrNotConnected = errors.New("voice: not connected")

	// ErrSuperseded is returned by Connect when a later Connect or a
	// Disconnect replaced it before it finished.
	ErrSuperseded = errors.New("voice: connect superseded")
)

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	RoomFactory RoomFactory
	Preferences prefstore.Store

	// Noise wraps the microphone in noise suppression. nil means the
	// platform has none.
	Noise NoiseProcessor

	// Sounds plays join, leave and ping sounds. nil plays nothing.
	Sounds SoundPlayer

	Logger *slog.Logger

	// ScreenShareBitrate caps source-picker screen shares, in bits per
	// second. Zero means DefaultScreenShareBitrate.
	ScreenShareBitrate uint64

	// DefaultNoiseSuppression applies until the user stores a choice.
	DefaultNoiseSuppression bool

	// SourcePicker reports that shareable windows can be enumerated
	// out of band. ToggleScreenShare then opens the picker and the
	// share starts with StartScreenShareWithSource.
	SourcePicker bool
}

// ConnectRequest names the room to join.
type ConnectRequest struct {
	ServerURL string
	Token     string
	ChannelID string
	GuildID   string
	ICE       ICEConfig
}

// Controller owns at most one voice room at a time and the local
// audio policy applied to it: mute, deafen, per-participant volume and
// local mute, and screen-share audio.
//
// Room events are dispatched to the Registry on the room's goroutine.
// Registry and controller observers must not call Connect or
// Disconnect synchronously.
type Controller struct {
	config   ControllerConfig
	logger   *slog.Logger
	sounds   SoundPlayer
	registry *Registry

	// events is held shared while a room event is applied and
	// exclusively while a room is detached, so no event from a
	// detached room reaches the registry afterwards.
	events sync.RWMutex

	// devices serializes read-modify-write of the stored device
	// selection.
	devices sync.Mutex

	mu                sync.Mutex
	generation        uint64
	room              Room
	state             State
	prefs             prefstore.Preferences
	screenShareAudio  map[string]bool
	mutedBeforeDeafen bool
	policyVersion     uint64
	localTracks       []LocalTrack
	screenTrack       LocalTrack
	unsubscribePrefs  func()

	states notify.Broadcaster[State]
}

// NewController creates a disconnected Controller.
func NewController(config ControllerConfig) (*Controller, error) {
	if config.RoomFactory == nil {
		return nil, errors.New("voice: RoomFactory is required")
	}
	if config.Preferences == nil {
		return nil, errors.New("voice: Preferences is required")
	}
	if config.ScreenShareBitrate == 0 {
		config.ScreenShareBitrate = DefaultScreenShareBitrate
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sounds := config.Sounds
	if sounds == nil {
		sounds = nopSoundPlayer{}
	}
	controller := &Controller{
		config:           config,
		logger:           logger,
		sounds:           sounds,
		registry:         NewRegistry(logger),
		screenShareAudio: make(map[string]bool),
		prefs:            prefstore.Preferences{}.Clone(),
	}
	controller.states.SetLogger(logger)
	return controller, nil
}

// Registry returns the participant registry of the current session.
func (c *Controller) Registry() *Registry { return c.registry }

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnState registers fn for state changes.
func (c *Controller) OnState(fn func(State)) (unsubscribe func()) {
	return c.states.Subscribe(fn)
}

func (c *Controller) notifyState() {
	c.states.Notify(c.State())
}

// Connect joins the room in request, leaving any room the controller
// is already in first. On return the session is Connected or, with an
// error, Disconnected.
func (c *Controller) Connect(ctx context.Context, request ConnectRequest) error {
	c.closeDetached(ctx, c.detach())

	prefs, err := c.config.Preferences.Load(ctx)
	if err != nil {
		c.logger.Warn("loading voice preferences failed, using defaults", "error", err)
		prefs = prefstore.Preferences{}.Clone()
	}

	c.mu.Lock()
	c.generation++
	generation := c.generation
	c.state = State{Connection: Connecting, ChannelID: request.ChannelID, GuildID: request.GuildID}
	c.prefs = prefs
	c.screenShareAudio = make(map[string]bool)
	c.mutedBeforeDeafen = false
	policy := c.policyLocked()
	c.mu.Unlock()
	c.notifyState()

	c.registry.SetPolicy(policy)
	c.registry.SetOutputDevice(prefs.Devices.AudioOutput)

	room, err := c.config.RoomFactory(RoomOptions{
		Handler:     &roomEvents{controller: c, generation: generation},
		AudioInput:  prefs.Devices.AudioInput,
		AudioOutput: prefs.Devices.AudioOutput,
		VideoInput:  prefs.Devices.VideoInput,
	})
	if err != nil {
		c.fail(generation)
		return fmt.Errorf("voice: creating room: %w", err)
	}

	c.mu.Lock()
	current := c.generation == generation
	if current {
		c.room = room
	}
	c.mu.Unlock()
	if !current {
		return ErrSuperseded
	}

	c.logger.Info("connecting to voice room", "channel_id", request.ChannelID, "guild_id", request.GuildID)
	if err := room.Connect(ctx, request.ServerURL, request.Token, ConnectOptions{ICE: request.ICE}); err != nil {
		c.fail(generation)
		return fmt.Errorf("voice: connecting to %s: %w", request.ChannelID, err)
	}

	if !c.withEvents(generation, func() {
		c.registry.SetLocal(room.LocalIdentity(), room.LocalName())
	}) {
		return c.abandon(room)
	}

	c.publishMicrophone(ctx, generation, room, prefs.Devices)

	connected := c.withEvents(generation, func() {
		c.registry.Seed(room.RemoteParticipants())

		c.mu.Lock()
		c.state.Connection = Connected
		c.unsubscribePrefs = c.config.Preferences.Subscribe(c.preferenceChanged)
		c.mu.Unlock()
	})
	if !connected {
		return c.abandon(room)
	}
	c.notifyState()
	c.logger.Info("voice room connected", "channel_id", request.ChannelID, "identity", room.LocalIdentity())
	return nil
}

// abandon disconnects a room whose session was replaced while it was
// connecting.
func (c *Controller) abandon(room Room) error {
	if err := room.Disconnect(context.Background()); err != nil {
		c.logger.Warn("disconnecting superseded voice room failed", "error", err)
	}
	return ErrSuperseded
}

// withEvents runs fn if generation is still current, holding the event
// lock shared so a concurrent detach waits for fn. It reports whether
// fn ran.
func (c *Controller) withEvents(generation uint64, fn func()) bool {
	c.events.RLock()
	defer c.events.RUnlock()
	if !c.isCurrent(generation) {
		return false
	}
	fn()
	return true
}

func (c *Controller) isCurrent(generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation == generation
}

// publishMicrophone publishes the local microphone, through noise
// suppression when enabled and supported. Every failure degrades to a
// less capable path; none fails the session.
func (c *Controller) publishMicrophone(ctx context.Context, generation uint64, room Room, devices prefstore.Devices) {
	enableDefault := func() {
		if err := room.SetMicrophoneEnabled(ctx, true); err != nil {
			c.logger.Error("enabling microphone failed", "error", err)
		}
	}

	suppress := c.config.DefaultNoiseSuppression
	if devices.NoiseSuppression != nil {
		suppress = *devices.NoiseSuppression
	}
	if !suppress || c.config.Noise == nil || !c.config.Noise.Supported() {
		enableDefault()
		return
	}

	raw, err := room.CaptureMicrophone(ctx, devices.AudioInput)
	if err != nil {
		c.logger.Error("capturing microphone failed", "device", devices.AudioInput, "error", err)
		enableDefault()
		return
	}
	tracks := []LocalTrack{raw}
	track := raw
	processed, err := c.config.Noise.Process(ctx, raw)
	if err != nil {
		c.logger.Warn("noise suppression unavailable, publishing unprocessed microphone", "error", err)
	} else {
		track = processed
		tracks = append(tracks, processed)
	}

	if err := room.PublishTrack(ctx, track, PublishOptions{Source: SourceMicrophone, Name: "microphone"}); err != nil {
		c.logger.Error("publishing microphone failed", "error", err)
		for _, captured := range tracks {
			captured.Stop()
		}
		enableDefault()
		return
	}

	c.mu.Lock()
	if c.generation == generation {
		c.localTracks = append(c.localTracks, tracks...)
		tracks = nil
	}
	c.mu.Unlock()
	for _, orphan := range tracks {
		orphan.Stop()
	}
}

// detached is what detach takes away from the controller.
type detached struct {
	room             Room
	tracks           []LocalTrack
	unsubscribePrefs func()
}

// detach ends the current session: later events from its room are
// dropped, the registry is emptied and every attached audio track is
// detached. The room itself is closed by closeDetached.
func (c *Controller) detach() detached {
	c.events.Lock()
	c.mu.Lock()
	c.generation++
	result := detached{room: c.room, tracks: c.localTracks, unsubscribePrefs: c.unsubscribePrefs}
	if c.screenTrack != nil {
		result.tracks = append(result.tracks, c.screenTrack)
	}
	c.room = nil
	c.localTracks = nil
	c.screenTrack = nil
	c.unsubscribePrefs = nil
	c.state = State{}
	c.screenShareAudio = make(map[string]bool)
	c.mutedBeforeDeafen = false
	c.mu.Unlock()
	c.registry.Reset()
	c.events.Unlock()
	return result
}

func (c *Controller) closeDetached(ctx context.Context, d detached) error {
	if d.unsubscribePrefs != nil {
		d.unsubscribePrefs()
	}
	for _, track := range d.tracks {
		track.Stop()
	}
	if d.room == nil {
		return nil
	}
	c.logger.Info("leaving voice room")
	if err := d.room.Disconnect(ctx); err != nil {
		c.logger.Error("disconnecting voice room failed", "error", err)
		return fmt.Errorf("voice: disconnecting: %w", err)
	}
	return nil
}

// fail tears down a session whose connect attempt failed, if it is
// still the current one.
func (c *Controller) fail(generation uint64) {
	if !c.isCurrent(generation) {
		return
	}
	d := c.detach()
	d.room = nil
	c.closeDetached(context.Background(), d)
	c.notifyState()
}

// Disconnect leaves the current room and clears every session-scoped
// state. Persisted preferences are untouched.
func (c *Controller) Disconnect(ctx context.Context) error {
	d := c.detach()
	err := c.closeDetached(ctx, d)
	c.notifyState()
	return err
}

// connected returns the live room and its generation.
func (c *Controller) connected() (Room, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room == nil || c.state.Connection != Connected {
		return nil, 0, ErrNotConnected
	}
	return c.room, c.generation, nil
}

func (c *Controller) updateLocal(fn func(*Participant)) {
	c.registry.UpdateLocal(fn)
}

// ToggleMute flips the local microphone. The new state is visible
// immediately and rolled back if the room rejects it. While deafened
// the choice also becomes the mute state undeafening returns to.
func (c *Controller) ToggleMute(ctx context.Context) error {
	room, generation, err := c.connected()
	if err != nil {
		return err
	}

	c.mu.Lock()
	previous := c.state.Muted
	previousBeforeDeafen := c.mutedBeforeDeafen
	c.state.Muted = !previous
	if c.state.Deafened {
		c.mutedBeforeDeafen = !previous
	}
	c.mu.Unlock()
	c.updateLocal(func(p *Participant) { p.AudioMuted = !previous })
	c.notifyState()

	if err := room.SetMicrophoneEnabled(ctx, previous); err != nil {
		c.logger.Error("toggling mute failed", "muted", !previous, "error", err)
		c.mu.Lock()
		rolledBack := c.generation == generation
		if rolledBack {
			c.state.Muted = previous
			c.mutedBeforeDeafen = previousBeforeDeafen
		}
		c.mu.Unlock()
		if rolledBack {
			c.updateLocal(func(p *Participant) { p.AudioMuted = previous })
			c.notifyState()
		}
		return fmt.Errorf("voice: toggling mute: %w", err)
	}
	return nil
}

// ToggleDeafen flips deafen. Deafening mutes the microphone and
// silences every remote track; undeafening restores each participant's
// volume and the mute state from before deafening, or the one last
// chosen with ToggleMute while deafened. If the room rejects the
// microphone change, Muted is rolled back to match the microphone;
// the remote volumes keep the new deafen state.
func (c *Controller) ToggleDeafen(ctx context.Context) error {
	room, generation, err := c.connected()
	if err != nil {
		return err
	}

	c.mu.Lock()
	deafened := !c.state.Deafened
	wasMuted := c.state.Muted
	c.state.Deafened = deafened
	if deafened {
		c.mutedBeforeDeafen = wasMuted
		c.state.Muted = true
	} else {
		c.state.Muted = c.mutedBeforeDeafen
	}
	muted := c.state.Muted
	policy := c.policyLocked()
	c.mu.Unlock()

	c.registry.SetPolicy(policy)
	c.updateLocal(func(p *Participant) { p.AudioMuted = muted })
	c.notifyState()

	if muted == wasMuted {
		return nil
	}
	if err := room.SetMicrophoneEnabled(ctx, !muted); err != nil {
		c.logger.Error("updating microphone after deafen failed", "deafened", deafened, "error", err)
		c.mu.Lock()
		rolledBack := c.generation == generation
		if rolledBack {
			c.state.Muted = wasMuted
		}
		c.mu.Unlock()
		if rolledBack {
			c.updateLocal(func(p *Participant) { p.AudioMuted = wasMuted })
			c.notifyState()
		}
		return fmt.Errorf("voice: toggling deafen: %w", err)
	}
	return nil
}

// ToggleVideo turns the camera on or off. State changes only once the
// room accepts it.
func (c *Controller) ToggleVideo(ctx context.Context) error {
	room, generation, err := c.connected()
	if err != nil {
		return err
	}
	enabled := !c.State().VideoEnabled
	if err := room.SetCameraEnabled(ctx, enabled); err != nil {
		c.logger.Error("toggling video failed", "enabled", enabled, "error", err)
		return fmt.Errorf("voice: toggling video: %w", err)
	}
	if !c.setState(generation, func(s *State) { s.VideoEnabled = enabled }) {
		return nil
	}
	c.updateLocal(func(p *Participant) { p.VideoEnabled = enabled })
	c.notifyState()
	return nil
}

// setState applies fn if generation is current and reports whether it
// did.
func (c *Controller) setState(generation uint64, fn func(*State)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != generation {
		return false
	}
	fn(&c.state)
	return true
}

// ToggleScreenShare stops an active share. Otherwise it opens the
// source picker when one is available, or starts an in-process
// capture.
func (c *Controller) ToggleScreenShare(ctx context.Context) error {
	_, generation, err := c.connected()
	if err != nil {
		return err
	}
	if c.State().ScreenSharing {
		return c.StopScreenShare(ctx)
	}
	if c.config.SourcePicker {
		if c.setState(generation, func(s *State) { s.ScreenPickerOpen = true }) {
			c.notifyState()
		}
		return nil
	}
	return c.StartScreenShare(ctx)
}

// StartScreenShare shares the screen through the room's own capture at
// 1920x1080, 30 fps, tuned for motion.
func (c *Controller) StartScreenShare(ctx context.Context) error {
	room, generation, err := c.connected()
	if err != nil {
		return err
	}
	options := ScreenShareOptions{
		ContentHint: screenShareContentHint,
		Width:       screenShareWidth,
		Height:      screenShareHeight,
		FrameRate:   screenShareFrameRate,
	}
	if err := room.SetScreenShareEnabled(ctx, true, options); err != nil {
		c.logger.Error("starting screen share failed", "error", err)
		return fmt.Errorf("voice: starting screen share: %w", err)
	}
	c.screenShareStarted(generation, nil)
	return nil
}

// StartScreenShareWithSource captures the window or screen sourceID
// chosen in the picker and publishes it without simulcast, as VP9 at
// up to the configured bitrate and 30 fps. A failure closes the picker
// and leaves the session as it was.
func (c *Controller) StartScreenShareWithSource(ctx context.Context, sourceID string) error {
	room, generation, err := c.connected()
	if err != nil {
		return err
	}
	track, err := room.CaptureScreen(ctx, sourceID, CaptureOptions{
		MaxWidth:     screenShareWidth,
		MaxHeight:    screenShareHeight,
		MaxFrameRate: screenShareFrameRate,
		ContentHint:  screenShareContentHint,
	})
	if err == nil {
		err = room.PublishTrack(ctx, track, PublishOptions{
			Source:       SourceScreenShare,
			Name:         "screen",
			Simulcast:    false,
			VideoCodec:   webrtc.MimeTypeVP9,
			MaxBitrate:   c.config.ScreenShareBitrate,
			MaxFramerate: screenShareFrameRate,
		})
		if err != nil {
			track.Stop()
		}
	}
	if err != nil {
		c.logger.Error("starting screen share failed", "source_id", sourceID, "error", err)
		if c.setState(generation, func(s *State) { s.ScreenPickerOpen = false }) {
			c.notifyState()
		}
		return fmt.Errorf("voice: sharing %s: %w", sourceID, err)
	}

	track.OnEnded(func() {
		notify.Guard(c.logger, "voice.screen_share_ended", func() {
			if !c.isCurrent(generation) {
				return
			}
			if err := c.StopScreenShare(context.Background()); err != nil {
				c.logger.Warn("stopping ended screen share failed", "error", err)
			}
		})
	})
	c.screenShareStarted(generation, track)
	return nil
}

func (c *Controller) screenShareStarted(generation uint64, track LocalTrack) {
	c.mu.Lock()
	if c.generation != generation {
		c.mu.Unlock()
		if track != nil {
			track.Stop()
		}
		return
	}
	c.state.ScreenSharing = true
	c.state.ScreenPickerOpen = false
	if track != nil {
		c.screenTrack = track
	}
	c.mu.Unlock()
	c.updateLocal(func(p *Participant) { p.ScreenSharing = true })
	c.notifyState()
}

// StopScreenShare ends the local screen share on either path.
func (c *Controller) StopScreenShare(ctx context.Context) error {
	room, generation, err := c.connected()
	if err != nil {
		return err
	}
	if err := room.SetScreenShareEnabled(ctx, false, ScreenShareOptions{}); err != nil {
		c.logger.Error("stopping screen share failed", "error", err)
		return fmt.Errorf("voice: stopping screen share: %w", err)
	}

	c.mu.Lock()
	if c.generation != generation {
		c.mu.Unlock()
		return nil
	}
	track := c.screenTrack
	c.screenTrack = nil
	c.state.ScreenSharing = false
	c.mu.Unlock()
	if track != nil {
		track.Stop()
	}
	c.updateLocal(func(p *Participant) { p.ScreenSharing = false })
	c.notifyState()
	return nil
}

// CancelScreenPicker closes the picker without sharing.
func (c *Controller) CancelScreenPicker() {
	c.mu.Lock()
	changed := c.state.ScreenPickerOpen
	c.state.ScreenPickerOpen = false
	c.mu.Unlock()
	if changed {
		c.notifyState()
	}
}

// policyLocked snapshots the audio policy under a new version.
func (c *Controller) policyLocked() AudioPolicy {
	c.policyVersion++
	return AudioPolicy{
		Version:          c.policyVersion,
		Deafened:         c.state.Deafened,
		Volumes:          maps.Clone(c.prefs.Volumes),
		Muted:            maps.Clone(c.prefs.Muted),
		ScreenShareAudio: maps.Clone(c.screenShareAudio),
	}
}

// updatePolicy applies fn to the session's policy inputs and pushes
// the result to the registry.
func (c *Controller) updatePolicy(fn func()) {
	c.mu.Lock()
	fn()
	policy := c.policyLocked()
	c.mu.Unlock()
	c.registry.SetPolicy(policy)
}

// SetParticipantVolume sets identity's playback volume, clamped to
// 0–100, and persists it. The live track changes only when identity is
// not locally muted and the session is not deafened.
func (c *Controller) SetParticipantVolume(ctx context.Context, identity string, volume int) error {
	volume = prefstore.ClampVolume(volume)
	c.updatePolicy(func() {
		if c.prefs.Volumes == nil {
			c.prefs.Volumes = make(map[string]int)
		}
		c.prefs.Volumes[identity] = volume
	})
	if err := c.config.Preferences.SetVolume(ctx, identity, volume); err != nil {
		c.logger.Error("persisting participant volume failed", "identity", identity, "error", err)
		return fmt.Errorf("voice: saving volume for %s: %w", identity, err)
	}
	return nil
}

// ToggleParticipantMute flips the local mute of identity and persists
// it. It returns the new state.
func (c *Controller) ToggleParticipantMute(ctx context.Context, identity string) (bool, error) {
	var muted bool
	c.updatePolicy(func() {
		if c.prefs.Muted == nil {
			c.prefs.Muted = make(map[string]bool)
		}
		muted = !c.prefs.Muted[identity]
		if muted {
			c.prefs.Muted[identity] = true
		} else {
			delete(c.prefs.Muted, identity)
		}
	})
	if err := c.config.Preferences.SetMuted(ctx, identity, muted); err != nil {
		c.logger.Error("persisting participant mute failed", "identity", identity, "error", err)
		return muted, fmt.Errorf("voice: saving mute for %s: %w", identity, err)
	}
	return muted, nil
}

// ToggleScreenShareAudio flips whether identity's screen-share audio
// plays. The choice lasts for the session and returns the new state.
func (c *Controller) ToggleScreenShareAudio(identity string) bool {
	var enabled bool
	c.updatePolicy(func() {
		enabled = !c.screenShareAudio[identity]
		if enabled {
			c.screenShareAudio[identity] = true
		} else {
			delete(c.screenShareAudio, identity)
		}
	})
	return enabled
}

// ParticipantVolume returns identity's preferred volume, 0–100.
func (c *Controller) ParticipantVolume(identity string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prefs.Volume(identity)
}

// IsParticipantMuted reports whether identity is locally muted.
func (c *Controller) IsParticipantMuted(identity string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prefs.IsMuted(identity)
}

// IsScreenShareAudioEnabled reports whether identity's screen-share
// audio plays in this session.
func (c *Controller) IsScreenShareAudioEnabled(identity string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.screenShareAudio[identity]
}

// preferenceChanged folds writes to the store, including other
// writers', into the session.
func (c *Controller) preferenceChanged(change prefstore.Change) {
	c.mu.Lock()
	if c.room == nil {
		c.mu.Unlock()
		return
	}
	var policy *AudioPolicy
	switch change.Kind {
	case prefstore.ChangeVolume:
		if c.prefs.Volumes == nil {
			c.prefs.Volumes = make(map[string]int)
		}
		c.prefs.Volumes[change.Identity] = change.Volume
	case prefstore.ChangeMuted:
		if c.prefs.Muted == nil {
			c.prefs.Muted = make(map[string]bool)
		}
		if change.Muted {
			c.prefs.Muted[change.Identity] = true
		} else {
			delete(c.prefs.Muted, change.Identity)
		}
	case prefstore.ChangeDevices:
		c.prefs.Devices = change.Devices
	}
	if change.Kind == prefstore.ChangeVolume || change.Kind == prefstore.ChangeMuted {
		next := c.policyLocked()
		policy = &next
	}
	c.mu.Unlock()

	if policy != nil {
		c.registry.SetPolicy(*policy)
	}
}

func (c *Controller) updateDevices(ctx context.Context, fn func(*prefstore.Devices)) error {
	c.devices.Lock()
	defer c.devices.Unlock()
	prefs, err := c.config.Preferences.Load(ctx)
	if err != nil {
		return fmt.Errorf("voice: loading devices: %w", err)
	}
	devices := prefs.Devices
	fn(&devices)
	if err := c.config.Preferences.SetDevices(ctx, devices); err != nil {
		return fmt.Errorf("voice: saving devices: %w", err)
	}
	return nil
}

// SelectAudioInput stores the microphone choice and switches to it if
// connected.
func (c *Controller) SelectAudioInput(ctx context.Context, deviceID string) error {
	if err := c.updateDevices(ctx, func(d *prefstore.Devices) { d.AudioInput = deviceID }); err != nil {
		return err
	}
	return c.switchDevice(ctx, DeviceAudioInput, deviceID)
}

// SelectVideoInput stores the camera choice and switches to it if
// connected.
func (c *Controller) SelectVideoInput(ctx context.Context, deviceID string) error {
	if err := c.updateDevices(ctx, func(d *prefstore.Devices) { d.VideoInput = deviceID }); err != nil {
		return err
	}
	return c.switchDevice(ctx, DeviceVideoInput, deviceID)
}

func (c *Controller) switchDevice(ctx context.Context, kind DeviceKind, deviceID string) error {
	room, _, err := c.connected()
	if err != nil {
		return nil
	}
	if err := room.SwitchActiveDevice(ctx, kind, deviceID); err != nil {
		c.logger.Error("switching device failed", "kind", string(kind), "device", deviceID, "error", err)
		return fmt.Errorf("voice: switching %s: %w", kind, err)
	}
	return nil
}

// SelectAudioOutput stores the speaker choice and routes every playing
// track to it.
func (c *Controller) SelectAudioOutput(ctx context.Context, deviceID string) error {
	if err := c.updateDevices(ctx, func(d *prefstore.Devices) { d.AudioOutput = deviceID }); err != nil {
		return err
	}
	c.registry.SetOutputDevice(deviceID)
	return nil
}

// SetNoiseSuppression stores the noise suppression choice. It applies
// from the next connect.
func (c *Controller) SetNoiseSuppression(ctx context.Context, enabled bool) error {
	return c.updateDevices(ctx, func(d *prefstore.Devices) { d.NoiseSuppression = &enabled })
}

// SendPing asks identity's client to play the ping sound. An identity
// not in the room is logged and ignored.
func (c *Controller) SendPing(ctx context.Context, identity string) error {
	room, _, err := c.connected()
	if err != nil {
		return err
	}
	if !c.registry.HasRemote(identity) {
		c.logger.Warn("cannot ping: participant not found", "identity", identity)
		return nil
	}
	payload, err := EncodeDataMessage(DataMessage{Type: PingMessageType})
	if err != nil {
		return fmt.Errorf("voice: encoding ping: %w", err)
	}
	if err := room.PublishData(ctx, payload, DataOptions{Reliable: true, DestinationIdentities: []string{identity}}); err != nil {
		c.logger.Error("sending ping failed", "identity", identity, "error", err)
		return fmt.Errorf("voice: pinging %s: %w", identity, err)
	}
	c.logger.Debug("ping sent", "identity", identity)
	return nil
}

// roomClosed handles the room closing on its own.
func (c *Controller) roomClosed(generation uint64, reason error) {
	if !c.isCurrent(generation) {
		return
	}
	if reason != nil {
		c.logger.Warn("voice room disconnected", "error", reason)
	} else {
		c.logger.Info("voice room disconnected")
	}
	d := c.detach()
	d.room = nil
	c.closeDetached(context.Background(), d)
	c.notifyState()
}

// participantLeft clears the session-scoped screen-share audio choice
// for identity.
func (c *Controller) participantLeft(identity string) {
	c.mu.Lock()
	_, had := c.screenShareAudio[identity]
	c.mu.Unlock()
	if had {
		c.updatePolicy(func() { delete(c.screenShareAudio, identity) })
	}
}

// roomEvents binds one room's events to the session that created it.
type roomEvents struct {
	controller *Controller
	generation uint64
}

var _ RoomHandler = (*roomEvents)(nil)

// dispatch runs fn for a current-session event, recovering panics.
func (e *roomEvents) dispatch(name string, fn func()) {
	c := e.controller
	notify.Guard(c.logger, "voice."+name, func() {
		c.withEvents(e.generation, fn)
	})
}

func (e *roomEvents) Connected() {
	e.dispatch("connected", func() {
		c := e.controller
		if c.setState(e.generation, func(s *State) {
			if s.Connection == Connecting {
				s.Connection = Connected
			}
		}) {
			c.notifyState()
		}
	})
}

func (e *roomEvents) Disconnected(reason error) {
	// roomClosed takes the event lock exclusively.
	notify.Guard(e.controller.logger, "voice.disconnected", func() {
		e.controller.roomClosed(e.generation, reason)
	})
}

func (e *roomEvents) ParticipantConnected(participant RemoteParticipant) {
	e.dispatch("participant_connected", func() {
		c := e.controller
		c.registry.Join(participant)
		c.sounds.Play(SoundJoin, SoundJoin.Volume())
	})
}

func (e *roomEvents) ParticipantDisconnected(identity string) {
	e.dispatch("participant_disconnected", func() {
		c := e.controller
		c.registry.Leave(identity)
		c.participantLeft(identity)
		c.sounds.Play(SoundLeave, SoundLeave.Volume())
	})
}

func (e *roomEvents) TrackSubscribed(identity string, track RemoteTrack) {
	e.dispatch("track_subscribed", func() {
		e.controller.registry.TrackSubscribed(identity, track)
	})
}

func (e *roomEvents) TrackUnsubscribed(identity string, track RemoteTrack) {
	e.dispatch("track_unsubscribed", func() {
		e.controller.registry.TrackUnsubscribed(identity, track)
	})
}

func (e *roomEvents) TrackMuted(identity string, kind webrtc.RTPCodecType) {
	if kind != webrtc.RTPCodecTypeAudio {
		return
	}
	e.dispatch("track_muted", func() {
		e.controller.registry.SetAudioMuted(identity, true)
	})
}

func (e *roomEvents) TrackUnmuted(identity string, kind webrtc.RTPCodecType) {
	if kind != webrtc.RTPCodecTypeAudio {
		return
	}
	e.dispatch("track_unmuted", func() {
		e.controller.registry.SetAudioMuted(identity, false)
	})
}

func (e *roomEvents) ActiveSpeakersChanged(identities []string) {
	e.dispatch("active_speakers_changed", func() {
		e.controller.registry.SetSpeakers(identities)
	})
}

// DataReceived plays the ping sound for a ping, whatever the deafen
// state.
func (e *roomEvents) DataReceived(payload []byte, from string) {
	e.dispatch("data_received", func() {
		c := e.controller
		message, err := DecodeDataMessage(payload)
		if err != nil {
			c.logger.Debug("ignoring undecodable data message", "from", from, "error", err)
			return
		}
		if message.Type != PingMessageType {
			return
		}
		c.logger.Info("ping received", "from", from)
		c.sounds.Play(SoundPing, SoundPing.Volume())
	})
}
