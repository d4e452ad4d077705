// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package voice

import (
	"io"
	"sync"
)

// Sound is a notification sound.
type Sound int

const (
	SoundJoin Sound = iota + 1
	SoundLeave
	SoundPing
)

func (s Sound) String() string {
	switch s {
	case SoundJoin:
		return "join"
	case SoundLeave:
		return "leave"
	case SoundPing:
		return "ping"
	default:
		return "unknown"
	}
}

// Volume is the playback gain the client uses for s.
func (s Sound) Volume() float64 {
	switch s {
	case SoundJoin, SoundLeave:
		return 0.5
	case SoundPing:
		return 0.8
	default:
		return 0
	}
}

// SoundPlayer plays notification sounds. Play must not block.
type SoundPlayer interface {
	Play(sound Sound, volume float64)
}

type nopSoundPlayer struct{}

func (nopSoundPlayer) Play(Sound, float64) {}

// BellPlayer plays every sound as a terminal bell. Quiet sounds below
// MinVolume are skipped.
type BellPlayer struct {
	mu        sync.Mutex
	Writer    io.Writer
	MinVolume float64
}

func (b *BellPlayer) Play(_ Sound, volume float64) {
	if volume < b.MinVolume {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, _ = b.Writer.Write([]byte{'\a'})
}
