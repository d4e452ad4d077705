// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package prefstore

import (
	"context"
	"sync"
	"testing"

	"github.com/conact/conact/lib/testutil"
)

// exerciseStore runs the behavior every Store implementation shares.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	var mu sync.Mutex
	var changes []Change
	unsubscribe := store.Subscribe(func(change Change) {
		mu.Lock()
		changes = append(changes, change)
		mu.Unlock()
	})
	defer unsubscribe()

	initial, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := initial.Volume("@alice:example.org"); got != DefaultVolume {
		t.Errorf("default volume = %d, want %d", got, DefaultVolume)
	}

	if err := store.SetVolume(ctx, "@alice:example.org", 40); err != nil {
		t.Fatalf("SetVolume: %v", err)
	}
	if err := store.SetVolume(ctx, "@bob:example.org", 250); err != nil {
		t.Fatalf("SetVolume: %v", err)
	}
	if err := store.SetVolume(ctx, "@carol:example.org", -5); err != nil {
		t.Fatalf("SetVolume: %v", err)
	}
	if err := store.SetMuted(ctx, "@bob:example.org", true); err != nil {
		t.Fatalf("SetMuted: %v", err)
	}
	if err := store.SetMuted(ctx, "@carol:example.org", true); err != nil {
		t.Fatalf("SetMuted: %v", err)
	}
	if err := store.SetMuted(ctx, "@carol:example.org", false); err != nil {
		t.Fatalf("SetMuted: %v", err)
	}
	enabled := false
	devices := Devices{AudioInput: "mic-2", AudioOutput: "headset", NoiseSuppression: &enabled}
	if err := store.SetDevices(ctx, devices); err != nil {
		t.Fatalf("SetDevices: %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	volumeTests := map[string]int{
		"@alice:example.org": 40,
		"@bob:example.org":   100,
		"@carol:example.org": 0,
		"@dave:example.org":  DefaultVolume,
	}
	for identity, want := range volumeTests {
		if got := loaded.Volume(identity); got != want {
			t.Errorf("Volume(%s) = %d, want %d", identity, got, want)
		}
	}
	if !loaded.IsMuted("@bob:example.org") {
		t.Error("bob should be muted")
	}
	if loaded.IsMuted("@carol:example.org") {
		t.Error("carol should not be muted after unmute")
	}
	if loaded.Devices.AudioInput != "mic-2" || loaded.Devices.AudioOutput != "headset" || loaded.Devices.VideoInput != "" {
		t.Errorf("Devices = %+v", loaded.Devices)
	}
	if loaded.Devices.NoiseSuppression == nil || *loaded.Devices.NoiseSuppression {
		t.Errorf("NoiseSuppression = %v, want explicit false", loaded.Devices.NoiseSuppression)
	}

	// Loaded snapshots are independent of the store.
	loaded.Volumes["@alice:example.org"] = 1
	reloaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := reloaded.Volume("@alice:example.org"); got != 40 {
		t.Errorf("mutating a snapshot leaked into the store: volume = %d", got)
	}

	// Clearing a device removes it.
	if err := store.SetDevices(ctx, Devices{VideoInput: "cam-1"}); err != nil {
		t.Fatalf("SetDevices: %v", err)
	}
	reloaded, err = store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded.Devices.AudioInput != "" || reloaded.Devices.VideoInput != "cam-1" || reloaded.Devices.NoiseSuppression != nil {
		t.Errorf("Devices after replace = %+v", reloaded.Devices)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 8 {
		t.Fatalf("got %d change notifications, want 8", len(changes))
	}
	if changes[1].Kind != ChangeVolume || changes[1].Volume != 100 {
		t.Errorf("clamped volume change = %+v", changes[1])
	}
	if changes[5].Kind != ChangeMuted || changes[5].Muted {
		t.Errorf("unmute change = %+v", changes[5])
	}
	if changes[6].Kind != ChangeDevices || changes[6].Devices.AudioInput != "mic-2" {
		t.Errorf("devices change = %+v", changes[6])
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemorySeededCopy(t *testing.T) {
	seed := Preferences{Volumes: map[string]int{"@a:x": 10}, Muted: map[string]bool{}}
	store := NewMemory(seed)
	seed.Volumes["@a:x"] = 90

	loaded, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := loaded.Volume("@a:x"); got != 10 {
		t.Errorf("Volume = %d, want 10", got)
	}
}

func TestSQLiteStore(t *testing.T) {
	store, err := OpenSQLite(SQLiteConfig{Path: testutil.DatabasePath(t)})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	exerciseStore(t, store)
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := testutil.DatabasePath(t)
	ctx := context.Background()

	first, err := OpenSQLite(SQLiteConfig{Path: path})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := first.SetVolume(ctx, "@bob:x", 35); err != nil {
		t.Fatalf("SetVolume: %v", err)
	}
	if err := first.SetMuted(ctx, "@eve:x", true); err != nil {
		t.Fatalf("SetMuted: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := OpenSQLite(SQLiteConfig{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	loaded, err := second.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := loaded.Volume("@bob:x"); got != 35 {
		t.Errorf("Volume = %d, want 35", got)
	}
	if !loaded.IsMuted("@eve:x") {
		t.Error("mute did not survive reopen")
	}
}

func TestClampVolume(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{-1, 0}, {0, 0}, {55, 55}, {100, 100}, {101, 100},
	}
	for _, test := range tests {
		if got := ClampVolume(test.in); got != test.want {
			t.Errorf("ClampVolume(%d) = %d, want %d", test.in, got, test.want)
		}
	}
}
