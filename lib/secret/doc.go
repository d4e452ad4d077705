// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds the client's credentials (the Matrix access
// token, the backend session token, a login password read from stdin)
// in memory that the garbage collector never copies.
//
// [Buffer] allocates outside the Go heap via mmap(MAP_ANONYMOUS), locks
// the pages into RAM (mlock) and excludes them from core dumps
// (MADV_DONTDUMP). Close zeroes and unmaps the region. [Buffer.String]
// makes a heap copy and is only called at the HTTP header boundary.
//
// Depends on golang.org/x/sys/unix. No Conact-internal dependencies.
package secret
