// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the Conact
// client.
//
// Configuration is loaded from a single file named either by the
// CONACT_CONFIG environment variable (via [Load]) or by a --config flag
// (via [LoadFile]). There is no ~/.config discovery and no automatic
// file search.
//
// The file may carry development and production sections that override
// base values when [Config].Environment matches. Production is stricter:
// plain-http homeserver and backend URLs are rejected.
//
// Path fields support ${HOME}, ${CONACT_DATA} and ${VAR:-default}
// expansion. No environment variable overrides a config value.
//
// This package depends on no other Conact packages.
package config
