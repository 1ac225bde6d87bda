package attend

import (
	"context"
	"image"
)

// Face is one detected face with its embedding.
type Face struct {
	Box       image.Rectangle
	Score     float64
	Embedding Embedding
}

// Extractor detects faces in a frame and computes one embedding per face.
// A frame without faces yields an empty slice and no error; errors are
// reserved for failures of the extractor itself.
type Extractor interface {
	Extract(ctx context.Context, frame *Frame) ([]Face, error)
}

// firstFace runs the extractor and returns the first face's embedding,
// validated against dim. A frame with no face returns ErrNoFaceDetected.
func firstFace(ctx context.Context, extractor Extractor, frame *Frame, dim int) (Embedding, error) {
	faces, err := extractor.Extract(ctx, frame)
	if err != nil {
		return nil, err
	}
	if len(faces) == 0 {
		return nil, ErrNoFaceDetected
	}
	emb := faces[0].Embedding
	if err := emb.Validate(dim); err != nil {
		return nil, err
	}
	return emb, nil
}
