// Package presence implements the TTL-bounded, cross-server presence map:
// which users are visible under which signing keys, and who among them is
// currently "active". Two backends share the same contract — an in-memory
// map for single-process deployments, and an external KV-backed one for a
// federation of signaling servers.
package presence

import (
	"context"
	"time"
)

// UserStatus is a single user's presence record as seen through a signing
// key's snapshot. ActiveSigningPubkey is empty when the user has no active
// key — the wire/storage encoding convention the rest of this package
// follows throughout.
type UserStatus struct {
	UserID              string `json:"user_id"`
	ActiveSigningPubkey string `json:"active_signing_pubkey,omitempty"`
}

// RefreshUser is one element of a batch Refresh call: a user, the signing
// keys they currently advertise presence under, and their active key.
type RefreshUser struct {
	UserID         string
	SigningPubkeys []string
	Active         string
}

// Backend is the presence capability the coordination core is polymorphic
// over. Both implementations in this package satisfy it identically; the
// core never type-switches on which one it holds.
type Backend interface {
	// Hello records the user as present under every listed signing key,
	// sets their active key (empty ≡ none), and resets their TTL.
	Hello(ctx context.Context, userID string, signingPubkeys []string, active string, ttl time.Duration) error

	// Active updates only the active key for a user and resets their TTL.
	// If the user has no record, one is still written (see DESIGN.md for
	// the open-question decision this preserves).
	Active(ctx context.Context, userID string, active string, ttl time.Duration) error

	// Disconnect removes the user from every listed reverse set and
	// deletes their record outright.
	Disconnect(ctx context.Context, userID string, signingPubkeys []string) error

	// Snapshot returns every live user currently indexed under
	// signingPubkey, repairing the reverse index in the same call for any
	// member whose record has expired.
	Snapshot(ctx context.Context, signingPubkey string) ([]UserStatus, error)

	// Refresh is the batch form of Hello used by the periodic ticker. A
	// no-op on an empty slice.
	Refresh(ctx context.Context, users []RefreshUser, ttl time.Duration) error
}
