package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"faceattend/internal/attend"
)

// MemoryDropFolder is an in-memory attend.DropFolder. Safe for concurrent use.
type MemoryDropFolder struct {
	mu         sync.Mutex
	files      map[string][]byte
	archived   map[string][]byte
	archiveErr error
}

var _ attend.DropFolder = (*MemoryDropFolder)(nil)

func NewMemoryDropFolder() *MemoryDropFolder {
	return &MemoryDropFolder{
		files:    make(map[string][]byte),
		archived: make(map[string][]byte),
	}
}

// Add places a file in the drop-folder.
func (d *MemoryDropFolder) Add(name string, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files[name] = data
}

// FailArchive makes every subsequent Archive call return err.
func (d *MemoryDropFolder) FailArchive(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.archiveErr = err
}

// Count returns the number of files waiting in the drop-folder.
func (d *MemoryDropFolder) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.files)
}

// ArchivedNames returns the names in the archive, sorted.
func (d *MemoryDropFolder) ArchivedNames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.archived))
	for name := range d.archived {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *MemoryDropFolder) List(ctx context.Context) ([]attend.DropFile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	files := make([]attend.DropFile, 0, len(d.files))
	for name, data := range d.files {
		files = append(files, attend.DropFile{Name: name, Size: int64(len(data))})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

func (d *MemoryDropFolder) Read(file attend.DropFile) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.files[file.Name]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", file.Name)
	}
	return data, nil
}

func (d *MemoryDropFolder) Archive(file attend.DropFile) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.archiveErr != nil {
		return "", d.archiveErr
	}
	data, ok := d.files[file.Name]
	if !ok {
		return "", fmt.Errorf("file not found: %s", file.Name)
	}
	dest := file.Name
	for i := 1; ; i++ {
		if _, taken := d.archived[dest]; !taken {
			break
		}
		dest = fmt.Sprintf("%s.%d", file.Name, i)
	}
	delete(d.files, file.Name)
	d.archived[dest] = data
	return "archive/" + dest, nil
}
