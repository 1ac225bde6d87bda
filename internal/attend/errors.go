package attend

import (
	"errors"
	"fmt"
)

// Pipeline error kinds. Callers translate these with errors.Is.
var (
	// ErrNoFaceDetected means no usable face was found in any supplied frame.
	ErrNoFaceDetected = errors.New("no face detected")

	// ErrLivenessFailed means the first two enrollment frames showed no motion.
	ErrLivenessFailed = errors.New("liveness check failed")

	// ErrTooFewFrames means enrollment was attempted with fewer than two frames.
	ErrTooFewFrames = errors.New("at least two frames are required")

	// ErrDuplicateIdentity means the contact handle is already enrolled.
	ErrDuplicateIdentity = errors.New("contact handle already enrolled")

	// ErrNotRecognized means no gallery entry was within the match threshold.
	ErrNotRecognized = errors.New("face not recognized")

	// ErrIntegrity means a stored template failed authenticated decryption.
	ErrIntegrity = errors.New("template integrity check failed")

	// ErrStorageUnavailable means the store could not serve the operation.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrIdentityNotFound means the referenced identity does not exist.
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrInvalidEmbedding means a vector had the wrong dimensionality or
	// non-finite components.
	ErrInvalidEmbedding = errors.New("invalid embedding")

	// ErrInvalidInput means a request field failed validation.
	ErrInvalidInput = errors.New("invalid input")
)

// IntegrityError reports a stored template that could not be opened.
// It matches ErrIntegrity under errors.Is.
type IntegrityError struct {
	IdentityID int64
	Err        error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("identity %d: template integrity check failed: %v", e.IdentityID, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }
