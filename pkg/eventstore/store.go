// Package eventstore is the durable, ordered, multi-indexed primary store
// for Nostr events.
package eventstore

import "github.com/cuemby/mls-relay/pkg/types"

// PutStatus is the outcome of a Put call.
type PutStatus string

const (
	PutCommitted PutStatus = "committed"
	PutDuplicate PutStatus = "duplicate"
)

// Store is the durable ordered KV with secondary indices described by the
// primary event store component.
type Store interface {
	// Put validates and commits an event. Duplicates (same identifier) are
	// idempotently accepted without re-commit. Rejections return a non-nil
	// error wrapping one of pkg/relayerr's sentinel kinds.
	Put(e *types.Event) (PutStatus, error)

	// Get returns the event with the given identifier, or nil if absent.
	Get(id string) (*types.Event, error)

	// Query returns events matching any of the filters (OR-combined),
	// ordered by (created_at DESC, id ASC), bounded by cap summed across
	// filters (0 means unbounded, subject to each filter's own Limit).
	Query(filters []*types.Filter, cap int) ([]*types.Event, error)

	// Delete removes an event. Only callable from cleanup paths, never
	// from the network.
	Delete(id string) error

	Close() error
}
