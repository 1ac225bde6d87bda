package attend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// EnrollRequest describes a new identity and its capture session.
// Frames are ordered earliest first.
type EnrollRequest struct {
	DisplayName   string
	ContactHandle string
	Role          Role   // defaults to RoleMember
	Credential    string // plaintext; hashed before storage, optional
	Frames        []*Frame
}

// EnrolledTemplate is the result of a successful enrollment.
type EnrolledTemplate struct {
	Identity   *Identity
	Embedding  Embedding
	FramesUsed int
}

// Enroll checks liveness on the first two frames, extracts an embedding from
// every frame, averages the survivors, seals the mean and stores it with a
// new identity.
func (s *Service) Enroll(ctx context.Context, req EnrollRequest) (*EnrolledTemplate, error) {
	if err := checkFrames(req.Frames); err != nil {
		return nil, fmt.Errorf("enrolling %q: %w", req.ContactHandle, err)
	}
	displayName := strings.TrimSpace(req.DisplayName)
	handle := normalizeHandle(req.ContactHandle)
	if displayName == "" || handle == "" {
		return nil, fmt.Errorf("%w: display name and contact handle are required", ErrInvalidInput)
	}
	role := req.Role
	if role == "" {
		role = RoleMember
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}

	var credential []byte
	if req.Credential != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Credential), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("%w: hashing credential: %v", ErrInvalidInput, err)
		}
		credential = hash
	}

	template, used, err := s.buildTemplate(ctx, req.Frames)
	if err != nil {
		return nil, fmt.Errorf("enrolling %q: %w", handle, err)
	}

	sealed, err := s.keys.Seal(template)
	if err != nil {
		return nil, fmt.Errorf("sealing template: %w", err)
	}

	identity, err := s.database.CreateIdentity(ctx, &NewIdentity{
		DisplayName:   displayName,
		ContactHandle: handle,
		Role:          role,
		Credential:    credential,
		Template:      sealed,
		CreatedAt:     s.clock.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("storing identity %q: %w", handle, err)
	}

	s.logger.Info("identity enrolled", "identity_id", identity.ID, "handle", handle, "frames", used)
	return &EnrolledTemplate{Identity: identity, Embedding: template, FramesUsed: used}, nil
}

// ReEnroll replaces the template of an existing identity using the same
// liveness and averaging pipeline as Enroll.
func (s *Service) ReEnroll(ctx context.Context, identityID int64, frames []*Frame) (*EnrolledTemplate, error) {
	if err := checkFrames(frames); err != nil {
		return nil, fmt.Errorf("re-enrolling identity %d: %w", identityID, err)
	}

	identity, err := s.database.FindIdentityByID(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("finding identity: %w", err)
	}
	if identity == nil {
		return nil, fmt.Errorf("re-enrolling identity %d: %w", identityID, ErrIdentityNotFound)
	}

	template, used, err := s.buildTemplate(ctx, frames)
	if err != nil {
		return nil, fmt.Errorf("re-enrolling identity %d: %w", identityID, err)
	}

	sealed, err := s.keys.Seal(template)
	if err != nil {
		return nil, fmt.Errorf("sealing template: %w", err)
	}

	now := s.clock.Now()
	if err := s.database.ReplaceTemplate(ctx, identityID, sealed, now); err != nil {
		return nil, fmt.Errorf("replacing template: %w", err)
	}
	identity.HasTemplate = true
	identity.UpdatedAt = now

	s.logger.Info("identity re-enrolled", "identity_id", identityID, "frames", used)
	return &EnrolledTemplate{Identity: identity, Embedding: template, FramesUsed: used}, nil
}

// checkFrames rejects sessions that are too short or hold frames with no
// decoded image.
func checkFrames(frames []*Frame) error {
	if len(frames) < 2 {
		return ErrTooFewFrames
	}
	for i, frame := range frames {
		if frame == nil || frame.Image == nil {
			return fmt.Errorf("%w: frame %d has no image", ErrInvalidInput, i)
		}
	}
	return nil
}

// buildTemplate runs liveness and extraction over a capture session and
// returns the mean embedding and how many frames contributed to it.
func (s *Service) buildTemplate(ctx context.Context, frames []*Frame) (Embedding, int, error) {
	if !s.liveness.Check(frames[0].Image, frames[1].Image) {
		return nil, 0, ErrLivenessFailed
	}

	var embeddings []Embedding
	for i, frame := range frames {
		emb, err := firstFace(ctx, s.extractor, frame, s.dimension)
		switch {
		case err == nil:
			embeddings = append(embeddings, emb)
		case errors.Is(err, ErrNoFaceDetected), errors.Is(err, ErrInvalidEmbedding):
			s.logger.Debug("dropping frame", "frame", i, "reason", err)
		default:
			return nil, 0, fmt.Errorf("extracting frame %d: %w", i, err)
		}
	}

	if len(embeddings) == 0 {
		return nil, 0, ErrNoFaceDetected
	}

	mean, err := MeanEmbedding(embeddings)
	if err != nil {
		return nil, 0, err
	}
	return mean, len(embeddings), nil
}

func normalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimSpace(handle))
}
