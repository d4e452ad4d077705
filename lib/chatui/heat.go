// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package chatui

import "time"

// HeatDecayDuration is how long a newly arrived message glows.
const HeatDecayDuration = 3 * time.Second

// HeatTickInterval is the re-render interval while any message is hot.
const HeatTickInterval = 100 * time.Millisecond

// HeatTracker maps message keys to arrival times. Heat starts at 1.0
// and decays linearly to 0.0 over [HeatDecayDuration].
type HeatTracker struct {
	entries map[string]time.Time
}

func NewHeatTracker() *HeatTracker {
	return &HeatTracker{entries: make(map[string]time.Time)}
}

// Ignite marks key as just arrived.
func (tracker *HeatTracker) Ignite(key string, now time.Time) {
	tracker.entries[key] = now
}

// Heat returns the current intensity for key, 0.0 when it was never
// ignited or has decayed.
func (tracker *HeatTracker) Heat(key string, now time.Time) float64 {
	ignition, exists := tracker.entries[key]
	if !exists {
		return 0.0
	}
	elapsed := now.Sub(ignition)
	if elapsed >= HeatDecayDuration {
		return 0.0
	}
	return 1.0 - float64(elapsed)/float64(HeatDecayDuration)
}

// HasHot reports whether any key is still glowing. Decayed entries
// are dropped.
func (tracker *HeatTracker) HasHot(now time.Time) bool {
	hot := false
	for key, ignition := range tracker.entries {
		if now.Sub(ignition) < HeatDecayDuration {
			hot = true
			continue
		}
		delete(tracker.entries, key)
	}
	return hot
}
