// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for Conact
// binaries.
//
// Version information is injected at build time via -ldflags, for example:
//
//	go build -ldflags "-X github.com/conact/conact/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version
