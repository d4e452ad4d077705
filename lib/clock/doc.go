// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Components that stamp local echoes, generate transaction IDs, or back
// off between /sync retries take a Clock instead of calling time.Now or
// time.After directly. Production code passes Real(); tests pass Fake()
// and move time with Advance.
//
// When a goroutine blocks in Sleep or After on a FakeClock, it registers
// a pending waiter. WaitForTimers blocks until a given number of waiters
// exist, which removes the race between registration and Advance:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go timeline.Run(ctx)
//	c.WaitForTimers(1)         // sync loop is backing off
//	c.Advance(2 * time.Second) // release it
package clock
