// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

// Package notify provides the observer mechanism Conact's stateful
// components use to publish changes: the message reconciler, the
// conversation session, the voice registry and controller, and the
// Matrix timeline hub.
//
// A component mutates its state under its own lock, takes a snapshot,
// releases the lock, and then calls [Broadcaster.Notify]. Listeners
// therefore never run with the publisher's lock held and may call back
// into the publisher.
package notify

import (
	"fmt"
	"log/slog"
	"sync"
)

// Broadcaster fans a value out to every registered listener. The zero
// value is ready to use. Broadcaster is safe for concurrent use.
type Broadcaster[T any] struct {
	mu        sync.Mutex
	nextID    uint64
	listeners []listener[T]
	logger    *slog.Logger
}

type listener[T any] struct {
	id uint64
	fn func(T)
}

// SetLogger sets the logger used to report listener panics. Without
// one, slog.Default is used.
func (b *Broadcaster[T]) SetLogger(logger *slog.Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
}

// Subscribe registers fn and returns a function that removes it.
// Listeners are called in subscription order. Calling the returned
// function more than once is harmless.
func (b *Broadcaster[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, listener[T]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

// Channel subscribes a buffered channel of the given capacity. When the
// consumer falls behind, values are dropped rather than blocking the
// publisher; consumers that need the current state re-read it from the
// component. The channel is never closed; stop receiving after calling
// unsubscribe.
func (b *Broadcaster[T]) Channel(capacity int) (values <-chan T, unsubscribe func()) {
	channel := make(chan T, capacity)
	unsubscribe = b.Subscribe(func(value T) {
		select {
		case channel <- value:
		default:
		}
	})
	return channel, unsubscribe
}

// Notify calls every listener with value. A panicking listener is
// logged and does not prevent later listeners from running.
func (b *Broadcaster[T]) Notify(value T) {
	b.mu.Lock()
	snapshot := make([]listener[T], len(b.listeners))
	copy(snapshot, b.listeners)
	logger := b.logger
	b.mu.Unlock()

	if logger == nil {
		logger = slog.Default()
	}
	for _, entry := range snapshot {
		Guard(logger, "listener", func() { entry.fn(value) })
	}
}

// Len returns the number of registered listeners.
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

func (b *Broadcaster[T]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, entry := range b.listeners {
		if entry.id == id {
			b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
			return
		}
	}
}

// Guard runs fn, recovering and logging a panic instead of letting it
// unwind into the caller. Every callback Conact receives from a
// transport (sync loop, SFU room) runs under Guard so one malformed
// event cannot take down the event source. It reports whether fn
// completed normally.
func Guard(logger *slog.Logger, callback string, fn func()) (ok bool) {
	defer func() {
		if recovered := recover(); recovered != nil {
			if logger == nil {
				logger = slog.Default()
			}
			logger.Error("callback panicked",
				"callback", callback,
				"panic", fmt.Sprint(recovered),
			)
			ok = false
		}
	}()
	fn()
	return true
}
