// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package prefstore

import (
	"context"
	"maps"
)

// DefaultVolume is the playback volume for identities with no stored
// preference.
const DefaultVolume = 100

// Store is the preference repository. Implementations are safe for
// concurrent use. Every successful Set* call notifies subscribers
// after the write is durable.
type Store interface {
	// Load returns a fresh copy of every stored preference. Mutating
	// the result does not affect the store.
	Load(ctx context.Context) (Preferences, error)

	// SetVolume stores a participant's playback volume, clamped to
	// 0–100.
	SetVolume(ctx context.Context, identity string, volume int) error

	// SetMuted records whether a participant is locally muted.
	SetMuted(ctx context.Context, identity string, muted bool) error

	// SetDevices replaces the stored device selection.
	SetDevices(ctx context.Context, devices Devices) error

	// Subscribe registers fn for change notifications and returns a
	// function that removes it.
	Subscribe(fn func(Change)) (unsubscribe func())

	Close() error
}

// Preferences is a snapshot of everything the store holds.
type Preferences struct {
	// Volumes maps participant identity to playback volume (0–100).
	// Identities absent from the map play at DefaultVolume.
	Volumes map[string]int

	// Muted holds the identities the local user has muted. Only true
	// values are stored.
	Muted map[string]bool

	Devices Devices
}

// Devices is the persisted media device selection. Empty strings mean
// "system default".
type Devices struct {
	AudioInput  string
	AudioOutput string
	VideoInput  string

	// NoiseSuppression is nil until the user has chosen; callers fall
	// back to the configured default.
	NoiseSuppression *bool
}

// Volume returns the stored volume for identity, or DefaultVolume.
func (p Preferences) Volume(identity string) int {
	if volume, ok := p.Volumes[identity]; ok {
		return volume
	}
	return DefaultVolume
}

// IsMuted reports whether identity is locally muted.
func (p Preferences) IsMuted(identity string) bool {
	return p.Muted[identity]
}

// Clone returns a deep copy.
func (p Preferences) Clone() Preferences {
	clone := Preferences{
		Volumes: make(map[string]int, len(p.Volumes)),
		Muted:   make(map[string]bool, len(p.Muted)),
		Devices: p.Devices.clone(),
	}
	maps.Copy(clone.Volumes, p.Volumes)
	maps.Copy(clone.Muted, p.Muted)
	return clone
}

func (d Devices) clone() Devices {
	if d.NoiseSuppression != nil {
		enabled := *d.NoiseSuppression
		d.NoiseSuppression = &enabled
	}
	return d
}

// ChangeKind identifies which preference a Change describes.
type ChangeKind int

const (
	ChangeVolume ChangeKind = iota + 1
	ChangeMuted
	ChangeDevices
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeVolume:
		return "volume"
	case ChangeMuted:
		return "muted"
	case ChangeDevices:
		return "devices"
	default:
		return "unknown"
	}
}

// Change describes one committed preference write. Only the fields
// relevant to Kind are set.
type Change struct {
	Kind     ChangeKind
	Identity string
	Volume   int
	Muted    bool
	Devices  Devices
}

// ClampVolume limits volume to the 0–100 range.
func ClampVolume(volume int) int {
	return min(max(volume, 0), 100)
}
