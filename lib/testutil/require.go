// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"time"
)

// TB is the part of testing.TB the helpers use.
type TB interface {
	Helper()
	Fatalf(format string, args ...any)
}

// RequireReceive returns the next value from ch. It fails the test if
// ch closes first or nothing arrives within timeout.
//
//	change := testutil.RequireReceive(t, changes, 5*time.Second, "reconciler change for %s", txnID)
func RequireReceive[T any](t TB, ch <-chan T, timeout time.Duration, msgAndArgs ...any) T {
	t.Helper()
	deadline := time.NewTimer(timeout) //nolint:realclock test hang prevention
	defer deadline.Stop()
	select {
	case value, ok := <-ch:
		if !ok {
			t.Fatalf("%s: channel closed before a value arrived", describe(msgAndArgs))
		}
		return value
	case <-deadline.C:
		t.Fatalf("%s: nothing received within %v", describe(msgAndArgs), timeout)
	}
	panic("unreachable")
}

// describe renders the optional trailing message: nothing, a value, or
// a format string with its arguments.
func describe(msgAndArgs []any) string {
	switch {
	case len(msgAndArgs) == 0:
		return "wait failed"
	case len(msgAndArgs) == 1:
		return fmt.Sprint(msgAndArgs[0])
	}
	format, ok := msgAndArgs[0].(string)
	if !ok {
		return fmt.Sprint(msgAndArgs...)
	}
	return fmt.Sprintf(format, msgAndArgs[1:]...)
}
