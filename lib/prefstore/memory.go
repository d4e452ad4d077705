// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package prefstore

import (
	"context"
	"sync"

	"github.com/conact/conact/lib/notify"
)

// Memory is an in-process Store. The zero value is not usable; call
// NewMemory.
type Memory struct {
	mu          sync.Mutex
	preferences Preferences
	changes     notify.Broadcaster[Change]
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty Memory store, optionally seeded with
// initial preferences (which are copied).
func NewMemory(initial ...Preferences) *Memory {
	store := &Memory{preferences: Preferences{}.Clone()}
	if len(initial) > 0 {
		store.preferences = initial[0].Clone()
	}
	return store
}

func (m *Memory) Load(ctx context.Context) (Preferences, error) {
	if err := ctx.Err(); err != nil {
		return Preferences{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.preferences.Clone(), nil
}

func (m *Memory) SetVolume(ctx context.Context, identity string, volume int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	volume = ClampVolume(volume)
	m.mu.Lock()
	m.preferences.Volumes[identity] = volume
	m.mu.Unlock()

	m.changes.Notify(Change{Kind: ChangeVolume, Identity: identity, Volume: volume})
	return nil
}

func (m *Memory) SetMuted(ctx context.Context, identity string, muted bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if muted {
		m.preferences.Muted[identity] = true
	} else {
		delete(m.preferences.Muted, identity)
	}
	m.mu.Unlock()

	m.changes.Notify(Change{Kind: ChangeMuted, Identity: identity, Muted: muted})
	return nil
}

func (m *Memory) SetDevices(ctx context.Context, devices Devices) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.preferences.Devices = devices.clone()
	m.mu.Unlock()

	m.changes.Notify(Change{Kind: ChangeDevices, Devices: devices.clone()})
	return nil
}

func (m *Memory) Subscribe(fn func(Change)) (unsubscribe func()) {
	return m.changes.Subscribe(fn)
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
