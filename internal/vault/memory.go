package vault

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// MemoryVault keeps snapshots in memory. Safe for concurrent use.
type MemoryVault struct {
	name      string
	mu        sync.RWMutex
	snapshots map[string]map[string]memorySnapshot // hostID -> name -> snapshot
}

type memorySnapshot struct {
	data    []byte
	modTime time.Time
}

var _ Vault = (*MemoryVault)(nil)

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{name: name, snapshots: make(map[string]map[string]memorySnapshot)}
}

func (m *MemoryVault) Name() string { return m.name }

func (m *MemoryVault) PutSnapshot(ctx context.Context, hostID, name string, r io.Reader, size int64) error {
	if err := validName(hostID, name); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshots[hostID] == nil {
		m.snapshots[hostID] = make(map[string]memorySnapshot)
	}
	m.snapshots[hostID][name] = memorySnapshot{data: data, modTime: time.Now()}
	return nil
}

func (m *MemoryVault) GetSnapshot(ctx context.Context, hostID, name string, w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.snapshots[hostID][name]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrSnapshotNotFound, hostID, name)
	}
	if _, err := io.Copy(w, bytes.NewReader(snap.data)); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

func (m *MemoryVault) ListSnapshots(ctx context.Context, hostID string) ([]Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var snapshots []Snapshot
	for name, snap := range m.snapshots[hostID] {
		snapshots = append(snapshots, Snapshot{Name: name, Size: int64(len(snap.data)), ModTime: snap.modTime})
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Name < snapshots[j].Name })
	return snapshots, nil
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup(ctx context.Context) error {
	return nil
}
