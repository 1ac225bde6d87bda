package attend

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DefaultDimension is the length of embeddings produced by the reference
// face model.
const DefaultDimension = 128

// Embedding is a fixed-length face descriptor.
type Embedding []float64

// Validate checks the dimensionality and that every component is finite.
func (e Embedding) Validate(dim int) error {
	if len(e) != dim {
		return fmt.Errorf("%w: got %d components, want %d", ErrInvalidEmbedding, len(e), dim)
	}
	for i, v := range e {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: component %d is not finite", ErrInvalidEmbedding, i)
		}
	}
	return nil
}

// EuclideanDistance returns the L2 distance between a and b.
func EuclideanDistance(a, b Embedding) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: dimension mismatch %d != %d", ErrInvalidEmbedding, len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// MeanEmbedding returns the component-wise arithmetic mean. All inputs must
// share the same length.
func MeanEmbedding(embeddings []Embedding) (Embedding, error) {
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings to average", ErrInvalidEmbedding)
	}
	dim := len(embeddings[0])
	mean := make(Embedding, dim)
	for _, e := range embeddings {
		if len(e) != dim {
			return nil, fmt.Errorf("%w: dimension mismatch %d != %d", ErrInvalidEmbedding, len(e), dim)
		}
		for i, v := range e {
			mean[i] += v
		}
	}
	n := float64(len(embeddings))
	for i := range mean {
		mean[i] /= n
	}
	return mean, nil
}

// MarshalBinary encodes the embedding as a little-endian uint32 length
// followed by that many little-endian float64 components.
func (e Embedding) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 4+8*len(e))
	binary.LittleEndian.PutUint32(buf, uint32(len(e)))
	for i, v := range e {
		binary.LittleEndian.PutUint64(buf[4+8*i:], math.Float64bits(v))
	}
	return buf, nil
}

// UnmarshalBinary decodes the format written by MarshalBinary.
func (e *Embedding) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("%w: encoded template too short", ErrInvalidEmbedding)
	}
	n := binary.LittleEndian.Uint32(data)
	if uint64(len(data)-4) != uint64(n)*8 {
		return fmt.Errorf("%w: header says %d components but payload has %d bytes", ErrInvalidEmbedding, n, len(data)-4)
	}
	out := make(Embedding, n)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[4+8*i:]))
	}
	*e = out
	return nil
}
