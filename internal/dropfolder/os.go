// Package dropfolder implements the filesystem queue read by the ingestion
// worker.
package dropfolder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"faceattend/internal/attend"
)

// OSDropFolder is a drop-folder on the local filesystem. Files are archived
// by renaming them into archiveDir, which must be on the same filesystem as
// dropDir so that the move is atomic. It assumes a single worker.
type OSDropFolder struct {
	dropDir    string
	archiveDir string
	patterns   []string
	minAge     time.Duration
	clock      attend.Clock
}

var _ attend.DropFolder = (*OSDropFolder)(nil)

// NewOSDropFolder creates both directories if needed. Files younger than
// minAge are not listed, so that writers still copying a file are not raced.
func NewOSDropFolder(dropDir, archiveDir string, ignore []string, minAge time.Duration, clock attend.Clock) (*OSDropFolder, error) {
	if dropDir == "" || archiveDir == "" {
		return nil, fmt.Errorf("drop_dir and archive_dir are required")
	}
	for _, dir := range []string{dropDir, archiveDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return &OSDropFolder{
		dropDir:    dropDir,
		archiveDir: archiveDir,
		patterns:   ignore,
		minAge:     minAge,
		clock:      clock,
	}, nil
}

// List returns regular, non-hidden, non-ignored files old enough to ingest,
// ordered by name. The ignore file is re-read on every call.
func (d *OSDropFolder) List(ctx context.Context) ([]attend.DropFile, error) {
	extra, err := ParseIgnoreFile(filepath.Join(d.dropDir, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	ignore := NewIgnoreMatcher(append(append([]string{}, d.patterns...), extra...))

	entries, err := os.ReadDir(d.dropDir)
	if err != nil {
		return nil, fmt.Errorf("reading drop-folder: %w", err)
	}

	now := d.clock.Now()
	var files []attend.DropFile
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if !entry.Type().IsRegular() || strings.HasPrefix(name, ".") || ignore.Match(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
		if now.Sub(info.ModTime()) < d.minAge {
			continue
		}
		files = append(files, attend.DropFile{Name: name, Size: info.Size(), ModTime: info.ModTime()})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Read returns the content of a listed file.
func (d *OSDropFolder) Read(file attend.DropFile) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(d.dropDir, file.Name))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", file.Name, err)
	}
	return data, nil
}

// Archive moves the file into the archive directory with a single rename.
// If the archive already holds a file of that name, a short unique suffix
// is added before the extension.
func (d *OSDropFolder) Archive(file attend.DropFile) (string, error) {
	src := filepath.Join(d.dropDir, file.Name)
	dest := filepath.Join(d.archiveDir, file.Name)

	if _, err := os.Lstat(dest); err == nil {
		ext := filepath.Ext(file.Name)
		stem := strings.TrimSuffix(file.Name, ext)
		dest = filepath.Join(d.archiveDir, fmt.Sprintf("%s-%s%s", stem, uuid.New().String()[:8], ext))
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking archive for %s: %w", file.Name, err)
	}

	if err := os.Rename(src, dest); err != nil {
		return "", fmt.Errorf("archiving %s: %w", file.Name, err)
	}
	return dest, nil
}
