package cuesheet

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get and Update when the requested sheet does
// not exist.
var ErrNotFound = errors.New("cue sheet not found")

// ErrDuplicateID is returned by Add when a sheet with the same ID already
// exists.
var ErrDuplicateID = errors.New("cue sheet with that ID already exists")

// Store manages authored cue sheets. The engine treats its contents as
// read-only; writes come from authoring tools.
//
// All implementations must be safe for concurrent use.
type Store interface {
	// Add creates a new sheet. Returns the sheet with a generated ID if the
	// provided sheet's ID is empty.
	// Returns [ErrDuplicateID] if a sheet with the same non-empty ID exists.
	Add(ctx context.Context, sheet Sheet) (Sheet, error)

	// Get retrieves a sheet by ID.
	// Returns [ErrNotFound] when no sheet with that ID exists.
	Get(ctx context.Context, id string) (Sheet, error)

	// GetBySpeaker retrieves the sheet bound to a speaker id.
	// Returns [ErrNotFound] when no sheet is bound to that speaker.
	GetBySpeaker(ctx context.Context, speakerID string) (Sheet, error)

	// List returns all sheets. Result order is not guaranteed.
	List(ctx context.Context) ([]Sheet, error)

	// Update replaces an existing sheet. The sheet's ID must be non-empty.
	// Returns [ErrNotFound] when no sheet with that ID exists.
	Update(ctx context.Context, sheet Sheet) error

	// Remove deletes a sheet by ID.
	// Returns [ErrNotFound] when no sheet with that ID exists.
	Remove(ctx context.Context, id string) error
}
