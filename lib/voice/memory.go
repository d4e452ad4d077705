// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/pion/webrtc/v4"
)

// MemoryOp names a Room operation for fault injection on a
// MemoryServer.
type MemoryOp string

const (
	OpConnect               MemoryOp = "connect"
	OpCaptureMicrophone     MemoryOp = "capture_microphone"
	OpCaptureScreen         MemoryOp = "capture_screen"
	OpPublishTrack          MemoryOp = "publish_track"
	OpSetMicrophoneEnabled  MemoryOp = "set_microphone_enabled"
	OpSetCameraEnabled      MemoryOp = "set_camera_enabled"
	OpSetScreenShareEnabled MemoryOp = "set_screen_share_enabled"
	OpPublishData           MemoryOp = "publish_data"
	OpSwitchActiveDevice    MemoryOp = "switch_active_device"
)

// ErrInvalidToken is returned by MemoryRoom.Connect for a token the
// server did not issue.
var ErrInvalidToken = errors.New("voice: invalid room token")

// ErrRoomClosed is returned by MemoryRoom operations that need a
// connected room.
var ErrRoomClosed = errors.New("voice: room is not connected")

// MemoryServer is an in-process SFU. Rooms created by its Factory join
// named rooms using tokens from IssueToken and see each other's
// participants, tracks, mute changes and data messages. All room
// events are delivered synchronously, after the server lock is
// released, on the goroutine that caused them.
//
// MemoryServer backs tests and the command-line demo; it carries no
// media.
type MemoryServer struct {
	mu        sync.Mutex
	grants    map[string]memoryGrant
	hubs      map[string]*memoryHub
	clients   []*MemoryRoom
	faults    map[MemoryOp][]error
	nextSID   int
	nextToken int
}

type memoryGrant struct {
	room     string
	identity string
	name     string
}

type memoryHub struct {
	order   []string
	members map[string]*MemoryRoom
}

// NewMemoryServer creates an empty server.
func NewMemoryServer() *MemoryServer {
	return &MemoryServer{
		grants: make(map[string]memoryGrant),
		hubs:   make(map[string]*memoryHub),
		faults: make(map[MemoryOp][]error),
	}
}

// IssueToken returns a token admitting identity to room under the
// display name name.
func (s *MemoryServer) IssueToken(room, identity, name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextToken++
	token := fmt.Sprintf("memory-token-%d", s.nextToken)
	s.grants[token] = memoryGrant{room: room, identity: identity, name: name}
	return token
}

// Factory returns a RoomFactory creating rooms on this server.
func (s *MemoryServer) Factory() RoomFactory {
	return func(options RoomOptions) (Room, error) {
		if options.Handler == nil {
			options.Handler = NopHandler{}
		}
		room := &MemoryRoom{
			server:  s,
			handler: options.Handler,
			devices: map[DeviceKind]string{
				DeviceAudioInput:  options.AudioInput,
				DeviceAudioOutput: options.AudioOutput,
				DeviceVideoInput:  options.VideoInput,
			},
			subscribed: make(map[audioKey]*MemoryAudioTrack),
		}
		s.mu.Lock()
		s.clients = append(s.clients, room)
		s.mu.Unlock()
		return room, nil
	}
}

// Rooms returns every room the factory created, oldest first.
func (s *MemoryServer) Rooms() []*MemoryRoom {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.clients)
}

// LastRoom returns the most recently created room, or nil.
func (s *MemoryServer) LastRoom() *MemoryRoom {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.clients) == 0 {
		return nil
	}
	return s.clients[len(s.clients)-1]
}

// FailNext makes the next call of op, on any room, return err.
// Repeated calls queue further failures.
func (s *MemoryServer) FailNext(op MemoryOp, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = append(s.faults[op], err)
}

func (s *MemoryServer) faultLocked(op MemoryOp) error {
	queued := s.faults[op]
	if len(queued) == 0 {
		return nil
	}
	s.faults[op] = queued[1:]
	return queued[0]
}

// SetActiveSpeakers reports identities as the current speakers of room
// to every member.
func (s *MemoryServer) SetActiveSpeakers(room string, identities ...string) {
	s.mu.Lock()
	var deliveries []func()
	if hub, ok := s.hubs[room]; ok {
		for _, identity := range hub.order {
			member := hub.members[identity]
			speakers := slices.Clone(identities)
			deliveries = append(deliveries, func() { member.handler.ActiveSpeakersChanged(speakers) })
		}
	}
	s.mu.Unlock()
	run(deliveries)
}

// Members returns the identities in room, in join order.
func (s *MemoryServer) Members(room string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	hub, ok := s.hubs[room]
	if !ok {
		return nil
	}
	return slices.Clone(hub.order)
}

func run(deliveries []func()) {
	for _, deliver := range deliveries {
		deliver()
	}
}

// MemoryPublication is a track a MemoryRoom has published.
type MemoryPublication struct {
	SID     string
	Kind    webrtc.RTPCodecType
	Source  TrackSource
	Name    string
	Muted   bool
	Track   LocalTrack
	Options PublishOptions
}

// MemoryRoom is one client connection to a MemoryServer.
type MemoryRoom struct {
	server  *MemoryServer
	handler RoomHandler

	// Guarded by server.mu.
	hub          string
	identity     string
	name         string
	connected    bool
	publications []*MemoryPublication
	devices      map[DeviceKind]string
	subscribed   map[audioKey]*MemoryAudioTrack
	screenShare  ScreenShareOptions
	connectICE   ICEConfig
}

var _ Room = (*MemoryRoom)(nil)

func (r *MemoryRoom) Connect(ctx context.Context, serverURL, token string, options ConnectOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := r.server
	s.mu.Lock()
	if err := s.faultLocked(OpConnect); err != nil {
		s.mu.Unlock()
		return err
	}
	grant, ok := s.grants[token]
	if !ok {
		s.mu.Unlock()
		return ErrInvalidToken
	}
	if r.connected {
		s.mu.Unlock()
		return fmt.Errorf("voice: %s is already connected to %s", r.identity, r.hub)
	}
	hub, ok := s.hubs[grant.room]
	if !ok {
		hub = &memoryHub{members: make(map[string]*MemoryRoom)}
		s.hubs[grant.room] = hub
	}
	if _, taken := hub.members[grant.identity]; taken {
		s.mu.Unlock()
		return fmt.Errorf("voice: identity %s is already in room %s", grant.identity, grant.room)
	}

	r.hub = grant.room
	r.identity = grant.identity
	r.name = grant.name
	r.connected = true
	r.connectICE = options.ICE

	var deliveries []func()
	self := r.remoteViewLocked()
	for _, identity := range hub.order {
		member := hub.members[identity]
		deliveries = append(deliveries, func() { member.handler.ParticipantConnected(self) })
	}
	for _, identity := range hub.order {
		member := hub.members[identity]
		for _, publication := range member.publications {
			track := r.subscribeLocked(member.identity, publication)
			owner := member.identity
			deliveries = append(deliveries, func() { r.handler.TrackSubscribed(owner, track) })
		}
	}
	hub.order = append(hub.order, r.identity)
	hub.members[r.identity] = r
	deliveries = append(deliveries, r.handler.Connected)
	s.mu.Unlock()

	run(deliveries)
	return nil
}

func (r *MemoryRoom) Disconnect(ctx context.Context) error {
	r.leave(nil)
	return nil
}

// Drop disconnects the room as if the server closed it, reporting err
// to its handler.
func (r *MemoryRoom) Drop(err error) {
	r.leave(err)
}

func (r *MemoryRoom) leave(reason error) {
	s := r.server
	s.mu.Lock()
	if !r.connected {
		s.mu.Unlock()
		return
	}
	var deliveries []func()
	for _, publication := range r.publications {
		deliveries = append(deliveries, r.unpublishLocked(publication)...)
		if publication.Track != nil {
			track := publication.Track
			deliveries = append(deliveries, track.Stop)
		}
	}
	r.publications = nil

	hub := s.hubs[r.hub]
	delete(hub.members, r.identity)
	hub.order = slices.DeleteFunc(hub.order, func(identity string) bool { return identity == r.identity })
	for _, identity := range hub.order {
		member := hub.members[identity]
		leaving := r.identity
		deliveries = append(deliveries, func() { member.handler.ParticipantDisconnected(leaving) })
	}
	if len(hub.order) == 0 {
		delete(s.hubs, r.hub)
	}
	clear(r.subscribed)
	r.connected = false
	deliveries = append(deliveries, func() { r.handler.Disconnected(reason) })
	s.mu.Unlock()

	run(deliveries)
}

func (r *MemoryRoom) LocalIdentity() string {
	r.server.mu.Lock()
	defer r.server.mu.Unlock()
	return r.identity
}

func (r *MemoryRoom) LocalName() string {
	r.server.mu.Lock()
	defer r.server.mu.Unlock()
	return r.name
}

func (r *MemoryRoom) RemoteParticipants() []RemoteParticipant {
	s := r.server
	s.mu.Lock()
	defer s.mu.Unlock()
	hub, ok := s.hubs[r.hub]
	if !r.connected || !ok {
		return nil
	}
	var result []RemoteParticipant
	for _, identity := range hub.order {
		if identity == r.identity {
			continue
		}
		result = append(result, hub.members[identity].remoteViewLocked())
	}
	return result
}

func (r *MemoryRoom) remoteViewLocked() RemoteParticipant {
	view := RemoteParticipant{Identity: r.identity, Name: r.name}
	for _, publication := range r.publications {
		switch publication.Source {
		case SourceMicrophone:
			view.MicrophoneEnabled = !publication.Muted
		case SourceCamera:
			view.CameraEnabled = true
		case SourceScreenShare:
			view.ScreenShareEnabled = true
		}
		if publication.Kind == webrtc.RTPCodecTypeVideo {
			view.VideoTracks = append(view.VideoTracks, VideoTrackRef{TrackID: publication.SID, Source: videoSource(publication.Source)})
		}
	}
	return view
}

func (r *MemoryRoom) CaptureMicrophone(ctx context.Context, deviceID string) (LocalTrack, error) {
	s := r.server
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.faultLocked(OpCaptureMicrophone); err != nil {
		return nil, err
	}
	if deviceID != "" {
		r.devices[DeviceAudioInput] = deviceID
	}
	return NewMemoryLocalTrack(webrtc.RTPCodecTypeAudio, SourceMicrophone), nil
}

func (r *MemoryRoom) CaptureScreen(ctx context.Context, sourceID string, options CaptureOptions) (LocalTrack, error) {
	s := r.server
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.faultLocked(OpCaptureScreen); err != nil {
		return nil, err
	}
	if sourceID == "" {
		return nil, errors.New("voice: screen capture needs a source id")
	}
	return NewMemoryLocalTrack(webrtc.RTPCodecTypeVideo, SourceScreenShare), nil
}

func (r *MemoryRoom) PublishTrack(ctx context.Context, track LocalTrack, options PublishOptions) error {
	s := r.server
	s.mu.Lock()
	if err := s.checkLocked(r, OpPublishTrack); err != nil {
		s.mu.Unlock()
		return err
	}
	source := options.Source
	if source == SourceUnknown {
		source = track.Source()
	}
	publication := &MemoryPublication{
		Kind:    track.Kind(),
		Source:  source,
		Name:    options.Name,
		Track:   track,
		Options: options,
	}
	deliveries := r.publishLocked(publication)
	s.mu.Unlock()

	run(deliveries)
	return nil
}

func (s *MemoryServer) checkLocked(r *MemoryRoom, op MemoryOp) error {
	if err := s.faultLocked(op); err != nil {
		return err
	}
	if !r.connected {
		return ErrRoomClosed
	}
	return nil
}

func (r *MemoryRoom) SetMicrophoneEnabled(ctx context.Context, enabled bool) error {
	s := r.server
	s.mu.Lock()
	if err := s.checkLocked(r, OpSetMicrophoneEnabled); err != nil {
		s.mu.Unlock()
		return err
	}
	var deliveries []func()
	publication := r.publicationLocked(SourceMicrophone)
	switch {
	case publication == nil && enabled:
		deliveries = r.publishLocked(&MemoryPublication{
			Kind:   webrtc.RTPCodecTypeAudio,
			Source: SourceMicrophone,
			Name:   "microphone",
		})
	case publication != nil && publication.Muted == enabled:
		publication.Muted = !enabled
		deliveries = r.muteLocked(!enabled)
	}
	s.mu.Unlock()

	run(deliveries)
	return nil
}

func (r *MemoryRoom) muteLocked(muted bool) []func() {
	var deliveries []func()
	for _, member := range r.othersLocked() {
		identity := r.identity
		if muted {
			deliveries = append(deliveries, func() { member.handler.TrackMuted(identity, webrtc.RTPCodecTypeAudio) })
		} else {
			deliveries = append(deliveries, func() { member.handler.TrackUnmuted(identity, webrtc.RTPCodecTypeAudio) })
		}
	}
	return deliveries
}

func (r *MemoryRoom) SetCameraEnabled(ctx context.Context, enabled bool) error {
	return r.setVideoSource(OpSetCameraEnabled, SourceCamera, "camera", enabled)
}

func (r *MemoryRoom) SetScreenShareEnabled(ctx context.Context, enabled bool, options ScreenShareOptions) error {
	s := r.server
	s.mu.Lock()
	if enabled {
		r.screenShare = options
	}
	s.mu.Unlock()
	return r.setVideoSource(OpSetScreenShareEnabled, SourceScreenShare, "screen", enabled)
}

func (r *MemoryRoom) setVideoSource(op MemoryOp, source TrackSource, name string, enabled bool) error {
	s := r.server
	s.mu.Lock()
	if err := s.checkLocked(r, op); err != nil {
		s.mu.Unlock()
		return err
	}
	var deliveries []func()
	if enabled {
		if r.publicationLocked(source) == nil {
			deliveries = r.publishLocked(&MemoryPublication{
				Kind:   webrtc.RTPCodecTypeVideo,
				Source: source,
				Name:   name,
			})
		}
	} else {
		kept := r.publications[:0]
		for _, publication := range r.publications {
			if publication.Source == source || (source == SourceScreenShare && publication.Source == SourceScreenShareAudio) {
				deliveries = append(deliveries, r.unpublishLocked(publication)...)
				continue
			}
			kept = append(kept, publication)
		}
		r.publications = kept
	}
	s.mu.Unlock()

	run(deliveries)
	return nil
}

func (r *MemoryRoom) PublishData(ctx context.Context, payload []byte, options DataOptions) error {
	s := r.server
	s.mu.Lock()
	if err := s.checkLocked(r, OpPublishData); err != nil {
		s.mu.Unlock()
		return err
	}
	var deliveries []func()
	for _, member := range r.othersLocked() {
		if len(options.DestinationIdentities) > 0 && !slices.Contains(options.DestinationIdentities, member.identity) {
			continue
		}
		data := bytes.Clone(payload)
		from := r.identity
		deliveries = append(deliveries, func() { member.handler.DataReceived(data, from) })
	}
	s.mu.Unlock()

	run(deliveries)
	return nil
}

func (r *MemoryRoom) SwitchActiveDevice(ctx context.Context, kind DeviceKind, deviceID string) error {
	s := r.server
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(r, OpSwitchActiveDevice); err != nil {
		return err
	}
	r.devices[kind] = deviceID
	return nil
}

// Connected reports whether the room is in a server room.
func (r *MemoryRoom) Connected() bool {
	r.server.mu.Lock()
	defer r.server.mu.Unlock()
	return r.connected
}

// MicrophoneEnabled reports whether a microphone track is published
// and unmuted.
func (r *MemoryRoom) MicrophoneEnabled() bool {
	r.server.mu.Lock()
	defer r.server.mu.Unlock()
	publication := r.publicationLocked(SourceMicrophone)
	return publication != nil && !publication.Muted
}

// Publications returns copies of the room's published tracks.
func (r *MemoryRoom) Publications() []MemoryPublication {
	r.server.mu.Lock()
	defer r.server.mu.Unlock()
	result := make([]MemoryPublication, 0, len(r.publications))
	for _, publication := range r.publications {
		result = append(result, *publication)
	}
	return result
}

// ActiveDevice returns the device selected for kind.
func (r *MemoryRoom) ActiveDevice(kind DeviceKind) string {
	r.server.mu.Lock()
	defer r.server.mu.Unlock()
	return r.devices[kind]
}

// ScreenShareOptions returns the options of the last
// SetScreenShareEnabled(true) call.
func (r *MemoryRoom) ScreenShareOptions() ScreenShareOptions {
	r.server.mu.Lock()
	defer r.server.mu.Unlock()
	return r.screenShare
}

// ICE returns the ICE configuration given to Connect.
func (r *MemoryRoom) ICE() ICEConfig {
	r.server.mu.Lock()
	defer r.server.mu.Unlock()
	return r.connectICE
}

// SubscribedAudio returns the audio track this room received from
// identity for source, or nil.
func (r *MemoryRoom) SubscribedAudio(identity string, source TrackSource) *MemoryAudioTrack {
	r.server.mu.Lock()
	defer r.server.mu.Unlock()
	return r.subscribed[audioKey{identity, source}]
}

func (r *MemoryRoom) publicationLocked(source TrackSource) *MemoryPublication {
	for _, publication := range r.publications {
		if publication.Source == source {
			return publication
		}
	}
	return nil
}

func (r *MemoryRoom) othersLocked() []*MemoryRoom {
	hub, ok := r.server.hubs[r.hub]
	if !ok {
		return nil
	}
	var others []*MemoryRoom
	for _, identity := range hub.order {
		if identity != r.identity {
			others = append(others, hub.members[identity])
		}
	}
	return others
}

func (r *MemoryRoom) publishLocked(publication *MemoryPublication) []func() {
	r.server.nextSID++
	publication.SID = fmt.Sprintf("TR_%04d", r.server.nextSID)
	r.publications = append(r.publications, publication)

	var deliveries []func()
	for _, member := range r.othersLocked() {
		track := member.subscribeLocked(r.identity, publication)
		owner := r.identity
		deliveries = append(deliveries, func() { member.handler.TrackSubscribed(owner, track) })
	}
	return deliveries
}

func (r *MemoryRoom) unpublishLocked(publication *MemoryPublication) []func() {
	var deliveries []func()
	for _, member := range r.othersLocked() {
		track := member.unsubscribeLocked(r.identity, publication)
		owner := r.identity
		deliveries = append(deliveries, func() { member.handler.TrackUnsubscribed(owner, track) })
	}
	return deliveries
}

func (r *MemoryRoom) subscribeLocked(owner string, publication *MemoryPublication) RemoteTrack {
	if publication.Kind != webrtc.RTPCodecTypeAudio {
		return memoryRemoteTrack{sid: publication.SID, kind: publication.Kind, source: publication.Source}
	}
	track := &MemoryAudioTrack{sid: publication.SID, source: publication.Source}
	r.subscribed[audioKey{owner, audioSource(publication.Source)}] = track
	return track
}

func (r *MemoryRoom) unsubscribeLocked(owner string, publication *MemoryPublication) RemoteTrack {
	if publication.Kind != webrtc.RTPCodecTypeAudio {
		return memoryRemoteTrack{sid: publication.SID, kind: publication.Kind, source: publication.Source}
	}
	key := audioKey{owner, audioSource(publication.Source)}
	if track, ok := r.subscribed[key]; ok && track.sid == publication.SID {
		delete(r.subscribed, key)
		return track
	}
	return &MemoryAudioTrack{sid: publication.SID, source: publication.Source}
}

type memoryRemoteTrack struct {
	sid    string
	kind   webrtc.RTPCodecType
	source TrackSource
}

func (t memoryRemoteTrack) SID() string               { return t.sid }
func (t memoryRemoteTrack) Kind() webrtc.RTPCodecType { return t.kind }
func (t memoryRemoteTrack) Source() TrackSource       { return t.source }

// MemoryAudioTrack is a subscribed remote audio track on a MemoryRoom.
// It records what the client did with it.
type MemoryAudioTrack struct {
	sid    string
	source TrackSource

	mu           sync.Mutex
	attached     bool
	volume       float64
	outputDevice string
}

var _ RemoteAudioTrack = (*MemoryAudioTrack)(nil)

func (t *MemoryAudioTrack) SID() string               { return t.sid }
func (t *MemoryAudioTrack) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeAudio }
func (t *MemoryAudioTrack) Source() TrackSource       { return t.source }

func (t *MemoryAudioTrack) Attach() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attached = true
	return nil
}

func (t *MemoryAudioTrack) Detach() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attached = false
}

func (t *MemoryAudioTrack) SetVolume(volume float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.volume = volume
}

func (t *MemoryAudioTrack) SetOutputDevice(deviceID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outputDevice = deviceID
	return nil
}

// Attached reports whether the track is playing.
func (t *MemoryAudioTrack) Attached() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attached
}

// Volume returns the last gain set.
func (t *MemoryAudioTrack) Volume() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.volume
}

// OutputDevice returns the device playback is routed to.
func (t *MemoryAudioTrack) OutputDevice() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outputDevice
}

// MemoryLocalTrack is a captured track that carries no media.
type MemoryLocalTrack struct {
	kind   webrtc.RTPCodecType
	source TrackSource

	mu      sync.Mutex
	stopped bool
	onEnded []func()
}

var _ LocalTrack = (*MemoryLocalTrack)(nil)

// NewMemoryLocalTrack creates a live track.
func NewMemoryLocalTrack(kind webrtc.RTPCodecType, source TrackSource) *MemoryLocalTrack {
	return &MemoryLocalTrack{kind: kind, source: source}
}

func (t *MemoryLocalTrack) Kind() webrtc.RTPCodecType { return t.kind }
func (t *MemoryLocalTrack) Source() TrackSource       { return t.source }

func (t *MemoryLocalTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *MemoryLocalTrack) OnEnded(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = append(t.onEnded, fn)
}

// End simulates capture ending outside the client, such as the shared
// window closing. It stops the track and runs OnEnded callbacks.
func (t *MemoryLocalTrack) End() {
	t.mu.Lock()
	t.stopped = true
	callbacks := slices.Clone(t.onEnded)
	t.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

// Stopped reports whether the track has ended.
func (t *MemoryLocalTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// NopHandler ignores every room event. Embed it to handle a subset.
type NopHandler struct{}

func (NopHandler) Connected()                               {}
func (NopHandler) Disconnected(error)                       {}
func (NopHandler) ParticipantConnected(RemoteParticipant)   {}
func (NopHandler) ParticipantDisconnected(string)           {}
func (NopHandler) TrackSubscribed(string, RemoteTrack)      {}
func (NopHandler) TrackUnsubscribed(string, RemoteTrack)    {}
func (NopHandler) TrackMuted(string, webrtc.RTPCodecType)   {}
func (NopHandler) TrackUnmuted(string, webrtc.RTPCodecType) {}
func (NopHandler) ActiveSpeakersChanged([]string)           {}
func (NopHandler) DataReceived(payload []byte, from string) {}
