package attend

import (
	"context"
	"time"
)

// Database is the durable store for the gallery and the attendance ledger.
// Lookups return nil and no error when nothing matches.
type Database interface {
	// Identity operations

	// CreateIdentity inserts an identity with its sealed template in a single
	// statement. A taken contact handle returns ErrDuplicateIdentity; the
	// uniqueness check is the store's constraint, not a prior lookup.
	CreateIdentity(ctx context.Context, identity *NewIdentity) (*Identity, error)

	// FindIdentityByID returns the identity with the given id.
	FindIdentityByID(ctx context.Context, id int64) (*Identity, error)

	// FindIdentityByHandle returns the identity with the given contact handle.
	FindIdentityByHandle(ctx context.Context, handle string) (*Identity, error)

	// ReplaceTemplate swaps the sealed template of an existing identity.
	// Returns ErrIdentityNotFound when the id does not exist.
	ReplaceTemplate(ctx context.Context, id int64, template []byte, at time.Time) error

	// DeleteIdentity removes an identity and, by cascade, its attendance events.
	// Returns ErrIdentityNotFound when the id does not exist.
	DeleteIdentity(ctx context.Context, id int64) error

	// Gallery operations

	// ListTemplates returns every stored template ordered by identity id,
	// read as one consistent snapshot.
	ListTemplates(ctx context.Context) ([]StoredTemplate, error)

	// Ledger operations

	// AppendAttendance records an event. The stored timestamp is never earlier
	// than the previous event's, regardless of the supplied time. Returns
	// ErrIdentityNotFound if the identity no longer exists.
	AppendAttendance(ctx context.Context, identityID int64, status Status, at time.Time) (*AttendanceEvent, error)

	// ListAttendance returns events newest first.
	ListAttendance(ctx context.Context, query AttendanceQuery) ([]*AttendanceEvent, error)

	// Ingestion history

	// CreateIngestCycle records the summary of a finished worker cycle.
	CreateIngestCycle(ctx context.Context, cycle *IngestCycle) (*IngestCycle, error)

	// ListIngestCycles returns the most recent cycles, newest first.
	ListIngestCycles(ctx context.Context, limit int) ([]*IngestCycle, error)

	// Close closes the database connection.
	Close() error
}
