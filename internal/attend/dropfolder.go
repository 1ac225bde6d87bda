package attend

import (
	"context"
	"time"
)

// DropFile is one eligible file waiting in the drop-folder.
type DropFile struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// DropFolder is the filesystem queue drained by the ingestion worker.
type DropFolder interface {
	// List returns the files currently eligible for ingestion, ordered by name.
	List(ctx context.Context) ([]DropFile, error)

	// Read returns the full content of a listed file.
	Read(file DropFile) ([]byte, error)

	// Archive moves a file out of the drop-folder into the archive in one
	// atomic step and returns its archived location. An existing archive
	// entry with the same name is never overwritten.
	Archive(file DropFile) (string, error)
}
