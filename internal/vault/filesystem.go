package vault

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileSystemVault stores snapshots as files:
//
//	<root>/
//	  snapshots/
//	    <hostID>/
//	      <name>
type FileSystemVault struct {
	name         string
	root         string
	snapshotsDir string
}

var _ Vault = (*FileSystemVault)(nil)

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	snapshotsDir := filepath.Join(root, "snapshots")
	if err := os.MkdirAll(snapshotsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshots directory: %w", err)
	}
	return &FileSystemVault{name: name, root: root, snapshotsDir: snapshotsDir}, nil
}

func (v *FileSystemVault) Name() string { return v.name }

func (v *FileSystemVault) PutSnapshot(ctx context.Context, hostID, name string, r io.Reader, size int64) error {
	if err := validName(hostID, name); err != nil {
		return err
	}
	dir := filepath.Join(v.snapshotsDir, hostID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create host directory: %w", err)
	}
	return writeFile(filepath.Join(dir, name), r, size)
}

func (v *FileSystemVault) GetSnapshot(ctx context.Context, hostID, name string, w io.Writer) error {
	if err := validName(hostID, name); err != nil {
		return err
	}
	f, err := os.Open(filepath.Join(v.snapshotsDir, hostID, name))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s/%s", ErrSnapshotNotFound, hostID, name)
		}
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	return nil
}

func (v *FileSystemVault) ListSnapshots(ctx context.Context, hostID string) ([]Snapshot, error) {
	entries, err := os.ReadDir(filepath.Join(v.snapshotsDir, hostID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	var snapshots []Snapshot
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".tmp-") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		snapshots = append(snapshots, Snapshot{Name: entry.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Name < snapshots[j].Name })
	return snapshots, nil
}

// ValidateSetup verifies that the vault directories are accessible.
func (v *FileSystemVault) ValidateSetup(ctx context.Context) error {
	for _, dir := range []string{v.root, v.snapshotsDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("vault directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", dir)
		}
	}
	return nil
}

// writeFile writes r to destPath through a temp file in the same directory
// and a rename, so readers never see a partial snapshot.
func writeFile(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

func validName(hostID, name string) error {
	for _, part := range []string{hostID, name} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return fmt.Errorf("invalid snapshot path component: %q", part)
		}
	}
	return nil
}
