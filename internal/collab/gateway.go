// Package collab implements the real-time synchronization core: version-gated
// acceptance of whole-document edits, per-document session rooms, fan-out to
// other participants, and debounced durable persistence.
package collab

import (
	"context"
	"errors"
)

// Snapshot is a whole-document state at one version. The engine always moves
// documents between snapshots; it never merges partial edits.
type Snapshot struct {
	Content string
	Version int64
}

// Gateway is the durable storage boundary the engine persists through. The
// store behind it is the source of truth on load; after load, the in-memory
// session version may run ahead of the stored one until the next flush.
type Gateway interface {
	// LoadDocument returns the stored snapshot for a document.
	// Returns ErrNotFound if the document does not exist.
	LoadDocument(ctx context.Context, docID string) (Snapshot, error)

	// SaveDocument writes snap verbatim, expecting the stored version to
	// still equal expectedVersion. Returns ErrConflict when the stored
	// record advanced through a path outside the engine. Any other error
	// is treated as transient.
	SaveDocument(ctx context.Context, docID string, snap Snapshot, expectedVersion int64) error
}

var (
	// ErrNotFound reports a document missing from durable storage.
	ErrNotFound = errors.New("document not found")

	// ErrConflict reports an optimistic concurrency failure at the
	// storage boundary.
	ErrConflict = errors.New("stored version conflict")
)
