// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

// Package txnid generates the client-side transaction IDs attached to
// outgoing Matrix events.
//
// The homeserver echoes the transaction ID back to the sending device in
// unsigned.transaction_id, which is how the message reconciler folds a
// remote echo into the local echo it replaces. IDs only need to be
// unique per device and access token. They are ULIDs: a millisecond
// timestamp followed by monotonic random entropy, so IDs generated in
// the same millisecond still sort and never collide within a process.
// Uniqueness across processes is probabilistic, not guaranteed.
package txnid

import (
	"crypto/rand"
	"io"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/conact/conact/lib/clock"
)

// Prefix marks transaction IDs generated by Conact.
const Prefix = "conact-"

// Generator produces transaction IDs. The zero value is not usable; use
// New. Generator is safe for concurrent use.
type Generator struct {
	clock clock.Clock

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// New returns a Generator reading time from c and randomness from
// crypto/rand. A nil clock means clock.Real().
func New(c clock.Clock) *Generator {
	return NewWithEntropy(c, rand.Reader)
}

// NewWithEntropy is New with an explicit entropy source, for tests that
// need reproducible IDs.
func NewWithEntropy(c clock.Clock, entropy io.Reader) *Generator {
	if c == nil {
		c = clock.Real()
	}
	return &Generator{
		clock:   c,
		entropy: ulid.Monotonic(entropy, 0),
	}
}

// Next returns a fresh transaction ID of the form "conact-<ULID>".
func (g *Generator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(g.clock.Now().UTC()), g.entropy)
	return Prefix + id.String()
}

// IsConact reports whether id was produced by a Generator. Transaction
// IDs from other clients on the same account are opaque strings.
func IsConact(id string) bool {
	rest, ok := strings.CutPrefix(id, Prefix)
	if !ok {
		return false
	}
	_, err := ulid.ParseStrict(rest)
	return err == nil
}
