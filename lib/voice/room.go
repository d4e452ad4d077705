// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package voice

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// TrackSource says what a media track carries.
type TrackSource int

const (
	SourceUnknown TrackSource = iota
	SourceMicrophone
	SourceCamera
	SourceScreenShare
	// SourceScreenShareAudio is the audio captured alongside a screen
	// share, delivered as its own track.
	SourceScreenShareAudio
)

func (s TrackSource) String() string {
	switch s {
	case SourceMicrophone:
		return "microphone"
	case SourceCamera:
		return "camera"
	case SourceScreenShare:
		return "screen_share"
	case SourceScreenShareAudio:
		return "screen_share_audio"
	default:
		return "unknown"
	}
}

// DeviceKind names a class of media device, using the browser
// MediaDeviceInfo kind strings SFU SDKs accept.
type DeviceKind string

const (
	DeviceAudioInput  DeviceKind = "audioinput"
	DeviceAudioOutput DeviceKind = "audiooutput"
	DeviceVideoInput  DeviceKind = "videoinput"
)

// RemoteTrack is a track published by another participant and
// subscribed to by this client.
type RemoteTrack interface {
	// SID is the SFU-assigned track identifier.
	SID() string
	Kind() webrtc.RTPCodecType
	Source() TrackSource
}

// RemoteAudioTrack is a subscribed audio track with local playback.
type RemoteAudioTrack interface {
	RemoteTrack

	// Attach starts local playback.
	Attach() error

	// Detach stops playback and releases the output.
	Detach()

	// SetVolume sets the local playback gain, 0 to 1.
	SetVolume(volume float64)

	// SetOutputDevice routes playback to an audio output device.
	SetOutputDevice(deviceID string) error
}

// LocalTrack is a captured media track owned by this client.
type LocalTrack interface {
	Kind() webrtc.RTPCodecType
	Source() TrackSource

	// Stop ends capture.
	Stop()

	// OnEnded registers fn to run when capture ends outside the
	// client's control, such as the user closing a shared window.
	OnEnded(fn func())
}

// RemoteParticipant is the SFU's view of another session member at the
// moment it was read.
type RemoteParticipant struct {
	Identity string
	Name     string

	MicrophoneEnabled  bool
	CameraEnabled      bool
	ScreenShareEnabled bool

	VideoTracks []VideoTrackRef
}

// ConnectOptions carries transport settings for Room.Connect.
type ConnectOptions struct {
	ICE ICEConfig
}

// PublishOptions controls how a local track is published.
type PublishOptions struct {
	Source TrackSource
	Name   string

	// Simulcast publishes several quality layers. Screen shares turn
	// it off so viewers always get the full-resolution layer.
	Simulcast bool

	// VideoCodec is a pion MIME type such as webrtc.MimeTypeVP9. Empty
	// lets the SFU negotiate.
	VideoCodec string

	// MaxBitrate in bits per second; zero means SFU default.
	MaxBitrate   uint64
	MaxFramerate float64
}

// ScreenShareOptions configures the SDK-managed screen capture path.
type ScreenShareOptions struct {
	// ContentHint is "motion" for video and games, "detail" for text.
	ContentHint string
	Width       int
	Height      int
	FrameRate   float64
}

// CaptureOptions bounds a capture by explicit source id.
type CaptureOptions struct {
	MaxWidth     int
	MaxHeight    int
	MaxFrameRate float64
	ContentHint  string
}

// DataOptions controls delivery of a data message.
type DataOptions struct {
	Reliable bool

	// DestinationIdentities restricts delivery to these participants.
	// Empty broadcasts to the whole room.
	DestinationIdentities []string
}

// Room is a connection to one SFU room. Implementations deliver room
// events to the RoomHandler given to the RoomFactory; handlers may be
// called from any goroutine, including synchronously from inside a
// Room method.
type Room interface {
	Connect(ctx context.Context, serverURL, token string, options ConnectOptions) error
	Disconnect(ctx context.Context) error

	LocalIdentity() string
	LocalName() string

	// RemoteParticipants lists the other members currently in the room.
	RemoteParticipants() []RemoteParticipant

	// CaptureMicrophone opens an audio input. Empty deviceID selects the
	// system default.
	CaptureMicrophone(ctx context.Context, deviceID string) (LocalTrack, error)

	// CaptureScreen captures a window or screen chosen from an
	// out-of-band source list.
	CaptureScreen(ctx context.Context, sourceID string, options CaptureOptions) (LocalTrack, error)

	PublishTrack(ctx context.Context, track LocalTrack, options PublishOptions) error

	SetMicrophoneEnabled(ctx context.Context, enabled bool) error
	SetCameraEnabled(ctx context.Context, enabled bool) error
	SetScreenShareEnabled(ctx context.Context, enabled bool, options ScreenShareOptions) error

	PublishData(ctx context.Context, payload []byte, options DataOptions) error

	SwitchActiveDevice(ctx context.Context, kind DeviceKind, deviceID string) error
}

// RoomHandler receives room events.
type RoomHandler interface {
	Connected()
	// Disconnected reports that the room closed. err is nil when the
	// local client asked for it.
	Disconnected(err error)

	ParticipantConnected(participant RemoteParticipant)
	ParticipantDisconnected(identity string)

	TrackSubscribed(identity string, track RemoteTrack)
	TrackUnsubscribed(identity string, track RemoteTrack)

	TrackMuted(identity string, kind webrtc.RTPCodecType)
	TrackUnmuted(identity string, kind webrtc.RTPCodecType)

	// ActiveSpeakersChanged carries the full set of current speakers,
	// which may include the local identity.
	ActiveSpeakersChanged(identities []string)

	DataReceived(payload []byte, from string)
}

// RoomOptions configures a new Room.
type RoomOptions struct {
	Handler RoomHandler

	// Device selection; empty means system default.
	AudioInput  string
	AudioOutput string
	VideoInput  string
}

// RoomFactory creates an unconnected Room.
type RoomFactory func(options RoomOptions) (Room, error)

// NoiseProcessor wraps a microphone track in noise suppression.
type NoiseProcessor interface {
	// Supported reports whether the platform can run the processor.
	Supported() bool

	// Process returns a track carrying the suppressed audio of track.
	Process(ctx context.Context, track LocalTrack) (LocalTrack, error)
}
