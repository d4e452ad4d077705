// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Conact packages.
//
// [RequireReceive] waits for a value from an observer or a bubbletea
// command with a wall-clock bound, so a lost notification fails the
// test instead of hanging it. It is the only real timeout in the suite;
// everything else runs on clock.FakeClock.
//
// [UniqueID] numbers transaction IDs, identities and file names so
// tests never collide.
//
// [DatabasePath] returns a fresh SQLite file path under t.TempDir for
// storage tests.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no Conact-internal dependencies.
package testutil
