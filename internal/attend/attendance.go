package attend

import (
	"context"
	"fmt"
)

// ListAttendance returns ledger events newest first. Which identities a
// caller may list is decided by the calling layer.
func (s *Service) ListAttendance(ctx context.Context, query AttendanceQuery) ([]*AttendanceEvent, error) {
	events, err := s.database.ListAttendance(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing attendance: %w", err)
	}
	return events, nil
}

// RecordAttendance appends an event by administrative action.
func (s *Service) RecordAttendance(ctx context.Context, identityID int64, status Status) (*AttendanceEvent, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	event, err := s.database.AppendAttendance(ctx, identityID, status, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("recording attendance for identity %d: %w", identityID, err)
	}
	s.logger.Info("attendance marked", "identity_id", identityID, "status", string(status))
	return event, nil
}

// DeleteIdentity removes an identity together with its attendance events.
func (s *Service) DeleteIdentity(ctx context.Context, identityID int64) error {
	if err := s.database.DeleteIdentity(ctx, identityID); err != nil {
		return fmt.Errorf("deleting identity %d: %w", identityID, err)
	}
	s.logger.Info("identity deleted", "identity_id", identityID)
	return nil
}

// FindIdentity returns the identity with the given id.
func (s *Service) FindIdentity(ctx context.Context, identityID int64) (*Identity, error) {
	identity, err := s.database.FindIdentityByID(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("finding identity: %w", err)
	}
	if identity == nil {
		return nil, fmt.Errorf("identity %d: %w", identityID, ErrIdentityNotFound)
	}
	return identity, nil
}

// VerifyGallery opens every stored template and reports those that fail.
// progress, if non-nil, is called after each template is checked.
func (s *Service) VerifyGallery(ctx context.Context, progress func(done, total int)) (int, []*IntegrityError, error) {
	gallery, err := s.database.ListTemplates(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("loading gallery: %w", err)
	}

	var failures []*IntegrityError
	for i, stored := range gallery {
		if err := ctx.Err(); err != nil {
			return 0, failures, err
		}
		emb, err := s.keys.Open(stored.Blob)
		if err == nil {
			err = emb.Validate(s.dimension)
		}
		if err != nil {
			failures = append(failures, &IntegrityError{IdentityID: stored.IdentityID, Err: err})
		}
		if progress != nil {
			progress(i+1, len(gallery))
		}
	}
	return len(gallery), failures, nil
}
