// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"path/filepath"
	"testing"
)

// DatabasePath returns a path for a new SQLite database file inside a
// per-test temporary directory. The file does not exist yet; the
// directory is removed when the test completes.
func DatabasePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), UniqueID("conact")+".db")
}
