// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package voice

import (
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/conact/conact/lib/notify"
	"github.com/conact/conact/lib/prefstore"
)

// VideoTrackRef identifies one subscribed video track.
type VideoTrackRef struct {
	TrackID string
	Source  TrackSource
}

// Participant is one member of a voice session as the client shows it.
type Participant struct {
	Identity    string
	DisplayName string
	Local       bool

	Speaking      bool
	AudioMuted    bool
	VideoEnabled  bool
	ScreenSharing bool

	VideoTracks []VideoTrackRef
}

func (p Participant) clone() Participant {
	p.VideoTracks = slices.Clone(p.VideoTracks)
	return p
}

// AudioPolicy decides the playback volume of every remote audio track.
// The controller publishes a new policy whenever deafen, a volume, a
// local mute, or a screen-share-audio toggle changes; the registry
// applies it to attached tracks and to tracks attached later.
type AudioPolicy struct {
	// Version orders policies. The registry ignores a policy whose
	// version is not newer than the one it holds.
	Version uint64

	Deafened bool

	// Volumes and Muted are the per-identity preferences; absent
	// identities play at prefstore.DefaultVolume and unmuted.
	Volumes map[string]int
	Muted   map[string]bool

	// ScreenShareAudio holds identities whose screen-share audio the
	// local user has turned on. Off by default.
	ScreenShareAudio map[string]bool
}

// MicrophoneVolume is the playback gain for identity's microphone.
func (p AudioPolicy) MicrophoneVolume(identity string) float64 {
	if p.Deafened || p.Muted[identity] {
		return 0
	}
	volume := prefstore.DefaultVolume
	if stored, ok := p.Volumes[identity]; ok {
		volume = stored
	}
	return float64(prefstore.ClampVolume(volume)) / 100
}

// ScreenShareVolume is the playback gain for identity's screen-share
// audio.
func (p AudioPolicy) ScreenShareVolume(identity string) float64 {
	if p.Deafened || !p.ScreenShareAudio[identity] {
		return 0
	}
	return 1
}

func (p AudioPolicy) volume(identity string, source TrackSource) float64 {
	if source == SourceScreenShareAudio {
		return p.ScreenShareVolume(identity)
	}
	return p.MicrophoneVolume(identity)
}

type audioKey struct {
	identity string
	source   TrackSource
}

type attachedAudio struct {
	track  RemoteAudioTrack
	volume float64
}

// Registry mirrors the participants of one voice session and owns
// playback of their audio. It reflects what the SFU reports; nothing
// else mutates it.
type Registry struct {
	logger *slog.Logger

	mu           sync.Mutex
	local        *Participant
	participants map[string]*Participant
	order        []string
	audio        map[audioKey]*attachedAudio
	policy       AudioPolicy
	outputDevice string

	changes notify.Broadcaster[[]Participant]
}

// NewRegistry creates an empty Registry. nil logger means slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	registry := &Registry{
		logger:       logger,
		participants: make(map[string]*Participant),
		audio:        make(map[audioKey]*attachedAudio),
	}
	registry.changes.SetLogger(logger)
	return registry
}

// Subscribe registers fn for participant changes. fn receives the
// same list Participants returns.
func (r *Registry) Subscribe(fn func([]Participant)) (unsubscribe func()) {
	return r.changes.Subscribe(fn)
}

// Participants returns the local participant (if set) followed by
// remote participants in join order.
func (r *Registry) Participants() []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Participant returns one participant by identity, local included.
func (r *Registry) Participant(identity string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.local != nil && r.local.Identity == identity {
		return r.local.clone(), true
	}
	participant, ok := r.participants[identity]
	if !ok {
		return Participant{}, false
	}
	return participant.clone(), true
}

// HasRemote reports whether identity is a remote participant.
func (r *Registry) HasRemote(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.participants[identity]
	return ok
}

// AudioVolume returns the gain applied to identity's attached track
// from source, and whether such a track is attached.
func (r *Registry) AudioVolume(identity string, source TrackSource) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	attached, ok := r.audio[audioKey{identity, source}]
	if !ok {
		return 0, false
	}
	return attached.volume, true
}

// AttachedAudioCount returns the number of audio tracks playing.
func (r *Registry) AttachedAudioCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.audio)
}

func (r *Registry) snapshotLocked() []Participant {
	result := make([]Participant, 0, len(r.order)+1)
	if r.local != nil {
		result = append(result, r.local.clone())
	}
	for _, identity := range r.order {
		result = append(result, r.participants[identity].clone())
	}
	return result
}

// update runs fn under the lock and notifies observers if fn reports a
// change.
func (r *Registry) update(fn func() bool) {
	r.mu.Lock()
	changed := fn()
	var snapshot []Participant
	if changed {
		snapshot = r.snapshotLocked()
	}
	r.mu.Unlock()

	if changed {
		r.changes.Notify(snapshot)
	}
}

// SetLocal sets the distinguished local participant.
func (r *Registry) SetLocal(identity, displayName string) {
	r.update(func() bool {
		if displayName == "" {
			displayName = identity
		}
		r.local = &Participant{Identity: identity, DisplayName: displayName, Local: true}
		return true
	})
}

// UpdateLocal applies fn to the local participant, if set.
func (r *Registry) UpdateLocal(fn func(*Participant)) {
	r.update(func() bool {
		if r.local == nil {
			return false
		}
		fn(r.local)
		return true
	})
}

// Join inserts a participant with every capability flag off. A join
// for an identity already present resets it.
func (r *Registry) Join(participant RemoteParticipant) {
	r.update(func() bool {
		entry := r.ensureLocked(participant.Identity, participant.Name)
		*entry = Participant{Identity: entry.Identity, DisplayName: entry.DisplayName}
		return true
	})
}

func (r *Registry) ensureLocked(identity, name string) *Participant {
	if entry, ok := r.participants[identity]; ok {
		if name != "" {
			entry.DisplayName = name
		}
		return entry
	}
	if name == "" {
		name = identity
	}
	entry := &Participant{Identity: identity, DisplayName: name}
	r.participants[identity] = entry
	r.order = append(r.order, identity)
	return entry
}

// Leave removes a participant and stops playback of its audio.
func (r *Registry) Leave(identity string) {
	r.update(func() bool {
		// Audio is detached even without an entry: a track can be
		// playing for an identity that never produced one.
		for key, attached := range r.audio {
			if key.identity == identity {
				attached.track.Detach()
				delete(r.audio, key)
			}
		}
		if _, ok := r.participants[identity]; !ok {
			return false
		}
		delete(r.participants, identity)
		r.order = slices.DeleteFunc(r.order, func(id string) bool { return id == identity })
		return true
	})
}

// Seed merges the SFU's participant list read at connect time. Tracks
// already recorded through TrackSubscribed are kept.
func (r *Registry) Seed(participants []RemoteParticipant) {
	r.update(func() bool {
		for _, remote := range participants {
			entry := r.ensureLocked(remote.Identity, remote.Name)
			entry.AudioMuted = !remote.MicrophoneEnabled
			for _, ref := range remote.VideoTracks {
				if !slices.Contains(entry.VideoTracks, ref) {
					entry.VideoTracks = append(entry.VideoTracks, ref)
				}
			}
			entry.VideoEnabled = remote.CameraEnabled || hasSource(entry.VideoTracks, SourceCamera)
			entry.ScreenSharing = remote.ScreenShareEnabled || hasSource(entry.VideoTracks, SourceScreenShare)
		}
		return len(participants) > 0
	})
}

func hasSource(refs []VideoTrackRef, source TrackSource) bool {
	return slices.ContainsFunc(refs, func(ref VideoTrackRef) bool { return ref.Source == source })
}

// TrackSubscribed records a new remote track. Audio tracks start
// playing at the volume the current policy gives them; video tracks
// are recorded against the participant and set its camera or
// screen-share flag. A track from an identity not yet seen creates the
// participant.
func (r *Registry) TrackSubscribed(identity string, track RemoteTrack) {
	switch track.Kind() {
	case webrtc.RTPCodecTypeAudio:
		audioTrack, ok := track.(RemoteAudioTrack)
		if !ok {
			r.logger.Warn("audio track without playback support", "identity", identity, "track_sid", track.SID())
			return
		}
		r.attachAudio(identity, audioTrack)
	case webrtc.RTPCodecTypeVideo:
		r.update(func() bool {
			entry := r.ensureLocked(identity, "")
			ref := VideoTrackRef{TrackID: track.SID(), Source: videoSource(track.Source())}
			if !slices.Contains(entry.VideoTracks, ref) {
				entry.VideoTracks = append(entry.VideoTracks, ref)
			}
			if ref.Source == SourceScreenShare {
				entry.ScreenSharing = true
			} else {
				entry.VideoEnabled = true
			}
			return true
		})
	}
}

// videoSource maps anything that is not a screen share to camera.
func videoSource(source TrackSource) TrackSource {
	if source == SourceScreenShare {
		return SourceScreenShare
	}
	return SourceCamera
}

func audioSource(source TrackSource) TrackSource {
	if source == SourceScreenShareAudio {
		return SourceScreenShareAudio
	}
	return SourceMicrophone
}

func (r *Registry) attachAudio(identity string, track RemoteAudioTrack) {
	if err := track.Attach(); err != nil {
		r.logger.Error("attaching audio track failed", "identity", identity, "track_sid", track.SID(), "error", err)
		return
	}

	var outputDevice string
	r.update(func() bool {
		_, known := r.participants[identity]
		r.ensureLocked(identity, "")

		key := audioKey{identity, audioSource(track.Source())}
		if previous, ok := r.audio[key]; ok && previous.track != track {
			previous.track.Detach()
		}
		volume := r.policy.volume(identity, key.source)
		track.SetVolume(volume)
		r.audio[key] = &attachedAudio{track: track, volume: volume}
		outputDevice = r.outputDevice
		return !known
	})

	if outputDevice != "" {
		if err := track.SetOutputDevice(outputDevice); err != nil {
			r.logger.Error("routing audio track failed", "identity", identity, "device", outputDevice, "error", err)
		}
	}
}

// TrackUnsubscribed stops playback of an audio track, or removes a
// video track reference and clears the flag it set.
func (r *Registry) TrackUnsubscribed(identity string, track RemoteTrack) {
	switch track.Kind() {
	case webrtc.RTPCodecTypeAudio:
		r.mu.Lock()
		key := audioKey{identity, audioSource(track.Source())}
		if attached, ok := r.audio[key]; ok && attached.track.SID() == track.SID() {
			attached.track.Detach()
			delete(r.audio, key)
		}
		r.mu.Unlock()
	case webrtc.RTPCodecTypeVideo:
		r.update(func() bool {
			entry, ok := r.participants[identity]
			if !ok {
				return false
			}
			entry.VideoTracks = slices.DeleteFunc(entry.VideoTracks, func(ref VideoTrackRef) bool {
				return ref.TrackID == track.SID()
			})
			entry.VideoEnabled = hasSource(entry.VideoTracks, SourceCamera)
			entry.ScreenSharing = hasSource(entry.VideoTracks, SourceScreenShare)
			return true
		})
	}
}

// SetAudioMuted mirrors a remote participant's own microphone mute. It
// never changes local playback volume.
func (r *Registry) SetAudioMuted(identity string, muted bool) {
	r.update(func() bool {
		entry, ok := r.participants[identity]
		if !ok || entry.AudioMuted == muted {
			return false
		}
		entry.AudioMuted = muted
		return true
	})
}

// SetSpeakers replaces the set of speaking participants.
func (r *Registry) SetSpeakers(identities []string) {
	speaking := make(map[string]bool, len(identities))
	for _, identity := range identities {
		speaking[identity] = true
	}
	r.update(func() bool {
		changed := false
		if r.local != nil && r.local.Speaking != speaking[r.local.Identity] {
			r.local.Speaking = speaking[r.local.Identity]
			changed = true
		}
		for _, entry := range r.participants {
			if entry.Speaking != speaking[entry.Identity] {
				entry.Speaking = speaking[entry.Identity]
				changed = true
			}
		}
		return changed
	})
}

// SetPolicy installs policy and reapplies volumes to every attached
// track. Policies older than the current one are ignored.
func (r *Registry) SetPolicy(policy AudioPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if policy.Version != 0 && policy.Version <= r.policy.Version {
		return
	}
	r.policy = AudioPolicy{
		Version:          policy.Version,
		Deafened:         policy.Deafened,
		Volumes:          maps.Clone(policy.Volumes),
		Muted:            maps.Clone(policy.Muted),
		ScreenShareAudio: maps.Clone(policy.ScreenShareAudio),
	}
	for key, attached := range r.audio {
		volume := r.policy.volume(key.identity, key.source)
		if volume != attached.volume {
			attached.track.SetVolume(volume)
			attached.volume = volume
		}
	}
}

// SetOutputDevice routes every attached track, and tracks attached
// later, to deviceID.
func (r *Registry) SetOutputDevice(deviceID string) {
	r.mu.Lock()
	r.outputDevice = deviceID
	tracks := make([]RemoteAudioTrack, 0, len(r.audio))
	for _, attached := range r.audio {
		tracks = append(tracks, attached.track)
	}
	r.mu.Unlock()

	if deviceID == "" {
		return
	}
	for _, track := range tracks {
		if err := track.SetOutputDevice(deviceID); err != nil {
			r.logger.Error("routing audio track failed", "track_sid", track.SID(), "device", deviceID, "error", err)
		}
	}
}

// Reset detaches every audio track and forgets every participant and
// the policy.
func (r *Registry) Reset() {
	r.update(func() bool {
		for key, attached := range r.audio {
			attached.track.Detach()
			delete(r.audio, key)
		}
		changed := r.local != nil || len(r.participants) > 0
		r.local = nil
		r.participants = make(map[string]*Participant)
		r.order = nil
		r.policy = AudioPolicy{}
		return changed
	})
}
