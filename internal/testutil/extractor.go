package testutil

import (
	"context"
	"fmt"
	"sync"

	"faceattend/internal/attend"
)

// FakeExtractor returns preset embeddings keyed by the gray level of a
// frame's center pixel. Unregistered levels yield no faces. Safe for
// concurrent use.
type FakeExtractor struct {
	mu         sync.Mutex
	embeddings map[uint8]attend.Embedding
	errs       map[uint8]error
	panics     map[uint8]bool
	calls      int
}

var _ attend.Extractor = (*FakeExtractor)(nil)

func NewFakeExtractor() *FakeExtractor {
	return &FakeExtractor{
		embeddings: make(map[uint8]attend.Embedding),
		errs:       make(map[uint8]error),
		panics:     make(map[uint8]bool),
	}
}

// Register makes frames of the given gray level yield one face with emb.
func (f *FakeExtractor) Register(level uint8, emb attend.Embedding) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embeddings[level] = emb
}

// FailOn makes frames of the given gray level return err.
func (f *FakeExtractor) FailOn(level uint8, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[level] = err
}

// PanicOn makes frames of the given gray level panic.
func (f *FakeExtractor) PanicOn(level uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panics[level] = true
}

// Calls returns how many times Extract was called.
func (f *FakeExtractor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeExtractor) Extract(ctx context.Context, frame *attend.Frame) ([]attend.Face, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if frame == nil || frame.Image == nil {
		return nil, fmt.Errorf("fake extractor: frame has no image")
	}
	level := centerGray(frame.Image)
	if f.panics[level] {
		panic(fmt.Sprintf("fake extractor: panic on level %d", level))
	}
	if err := f.errs[level]; err != nil {
		return nil, err
	}
	emb, ok := f.embeddings[level]
	if !ok {
		return []attend.Face{}, nil
	}
	return []attend.Face{{
		Box:       frame.Image.Bounds(),
		Score:     1,
		Embedding: append(attend.Embedding(nil), emb...),
	}}, nil
}
