// Package vault stores gallery snapshots off the host.
package vault

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrSnapshotNotFound is returned by GetSnapshot for an unknown snapshot.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Snapshot describes a stored gallery snapshot.
type Snapshot struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Vault is a backup destination for gallery snapshots. Snapshots are scoped
// by host so several hosts can share a vault. Snapshots hold sealed
// templates only; the key file is never stored in a vault.
type Vault interface {
	// Name returns the configured vault name.
	Name() string

	// PutSnapshot stores a snapshot. size is the number of bytes that will
	// be read from r; a mismatch fails the upload.
	PutSnapshot(ctx context.Context, hostID, name string, r io.Reader, size int64) error

	// GetSnapshot writes a stored snapshot to w.
	GetSnapshot(ctx context.Context, hostID, name string, w io.Writer) error

	// ListSnapshots returns the host's snapshots ordered by name.
	ListSnapshots(ctx context.Context, hostID string) ([]Snapshot, error)

	// ValidateSetup verifies that the vault is accessible.
	ValidateSetup(ctx context.Context) error
}
