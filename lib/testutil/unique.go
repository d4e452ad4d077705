// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"strconv"
	"sync/atomic"
)

var sequence atomic.Uint64

// UniqueID appends a process-wide sequence number to prefix, so two
// tests sharing a homeserver fake or a preferences database never pick
// the same transaction ID, identity or file name.
//
//	identity := "@" + testutil.UniqueID("guest") + ":x" // "@guest-1:x"
func UniqueID(prefix string) string {
	return prefix + "-" + strconv.FormatUint(sequence.Add(1), 10)
}
