// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"log/slog"
	"sync"

	"github.com/conact/conact/lib/notify"
	"github.com/conact/conact/lib/ref"
)

// ChangeKind says what a Change did to the message list.
type ChangeKind int

const (
	// Seeded means the list was replaced by a bulk load.
	Seeded ChangeKind = iota
	// Appended means a new message was added at the end.
	Appended
	// Merged means an existing message was updated in place.
	Merged
	// Cleared means the list was emptied.
	Cleared
)

func (k ChangeKind) String() string {
	switch k {
	case Seeded:
		return "seeded"
	case Appended:
		return "appended"
	case Merged:
		return "merged"
	case Cleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// Change is delivered to reconciler observers after every mutation.
type Change struct {
	Kind ChangeKind

	// Index is the position of the appended or merged message, -1 for
	// Seeded and Cleared.
	Index int

	// Messages is a snapshot of the full list after the change.
	Messages []Message
}

// Reconciler holds the ordered message list of one conversation and
// merges every incoming Message into it by identity.
//
// Incoming messages are matched first by ID, then by TransactionID; a
// message matching neither is appended. Merges happen in place, so a
// message never moves once it is in the list. Re-applying a message
// that is already merged changes nothing and notifies nobody.
type Reconciler struct {
	mu       sync.Mutex
	messages []Message

	changes notify.Broadcaster[Change]
}

// NewReconciler creates an empty Reconciler. logger receives observer
// panics; nil means slog.Default().
func NewReconciler(logger *slog.Logger) *Reconciler {
	reconciler := &Reconciler{}
	if logger != nil {
		reconciler.changes.SetLogger(logger)
	}
	return reconciler
}

// Subscribe registers fn for every change to the list.
func (r *Reconciler) Subscribe(fn func(Change)) (unsubscribe func()) {
	return r.changes.Subscribe(fn)
}

// Apply merges a live message into the list.
func (r *Reconciler) Apply(message Message) {
	r.apply(message, false)
}

// ApplyDecrypted merges the result of a decryption completion. It
// differs from Apply in that an empty Content never replaces existing
// content, even when decryption failed: a second notification for the
// same event can arrive without a payload.
func (r *Reconciler) ApplyDecrypted(message Message) {
	message.Decrypting = false
	r.apply(message, true)
}

func (r *Reconciler) apply(message Message, decrypted bool) {
	r.mu.Lock()
	index := r.findLocked(message.ID, message.TransactionID)
	kind := Merged
	if index < 0 {
		r.messages = append(r.messages, message.clone())
		index = len(r.messages) - 1
		kind = Appended
	} else {
		merged := merge(r.messages[index], message, decrypted)
		if merged.equal(r.messages[index]) {
			r.mu.Unlock()
			return
		}
		r.messages[index] = merged
	}
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.changes.Notify(Change{Kind: kind, Index: index, Messages: snapshot})
}

// findLocked returns the index of the message that id, or failing that
// transactionID, identifies. -1 when neither matches.
func (r *Reconciler) findLocked(id ref.EventID, transactionID string) int {
	if !id.IsZero() {
		for i := range r.messages {
			if r.messages[i].ID == id {
				return i
			}
		}
	}
	if transactionID != "" {
		for i := range r.messages {
			if r.messages[i].TransactionID == transactionID {
				return i
			}
		}
	}
	return -1
}

// merge overlays incoming onto existing. Identity and descriptive
// fields are only overwritten by non-empty values; state flags always
// take the incoming value, except that an incoming local echo (no ID)
// cannot make an already confirmed message pending again.
func merge(existing, incoming Message, decrypted bool) Message {
	merged := existing.clone()

	if !incoming.ID.IsZero() {
		merged.ID = incoming.ID
	}
	if incoming.TransactionID != "" {
		merged.TransactionID = incoming.TransactionID
	}
	if incoming.SenderID != "" {
		merged.SenderID = incoming.SenderID
	}
	if incoming.SenderName != "" {
		merged.SenderName = incoming.SenderName
	}
	if incoming.Content != "" {
		merged.Content = incoming.Content
	}
	if incoming.Image != nil {
		image := *incoming.Image
		merged.Image = &image
	}
	if !incoming.Timestamp.IsZero() {
		merged.Timestamp = incoming.Timestamp
	}

	merged.Own = incoming.Own
	merged.Decrypting = incoming.Decrypting
	merged.DecryptionError = incoming.DecryptionError
	if incoming.DecryptionError != "" && !decrypted {
		merged.Content = ""
	}

	if incoming.ID.IsZero() && !existing.ID.IsZero() {
		merged.Pending = existing.Pending
	} else {
		merged.Pending = incoming.Pending
	}
	return merged
}

// Seed replaces the list with a bulk-loaded history. Messages are
// deduplicated by ID, first occurrence winning; messages without an ID
// are kept as they are.
func (r *Reconciler) Seed(messages []Message) {
	seen := make(map[ref.EventID]bool, len(messages))
	seeded := make([]Message, 0, len(messages))
	for _, message := range messages {
		if !message.ID.IsZero() {
			if seen[message.ID] {
				continue
			}
			seen[message.ID] = true
		}
		seeded = append(seeded, message.clone())
	}

	r.mu.Lock()
	r.messages = seeded
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.changes.Notify(Change{Kind: Seeded, Index: -1, Messages: snapshot})
}

// Clear empties the list.
func (r *Reconciler) Clear() {
	r.mu.Lock()
	r.messages = nil
	r.mu.Unlock()

	r.changes.Notify(Change{Kind: Cleared, Index: -1})
}

// Messages returns a copy of the list.
func (r *Reconciler) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Len returns the number of messages.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func (r *Reconciler) snapshotLocked() []Message {
	snapshot := make([]Message, len(r.messages))
	for i, message := range r.messages {
		snapshot[i] = message.clone()
	}
	return snapshot
}
