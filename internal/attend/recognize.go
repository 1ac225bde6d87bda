package attend

import (
	"context"
	"errors"
	"fmt"
)

// Recognition is the result of a successful recognition call.
type Recognition struct {
	IdentityID int64
	Distance   float64
	Event      *AttendanceEvent
}

// Match scans the full gallery for the query embedding. A miss returns a
// ScanResult with a nil Match and no error.
func (s *Service) Match(ctx context.Context, query Embedding) (*ScanResult, error) {
	if err := query.Validate(s.dimension); err != nil {
		return nil, err
	}
	gallery, err := s.database.ListTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading gallery: %w", err)
	}
	return s.matcher.Match(query, gallery), nil
}

// Recognize extracts a face from a single frame, matches it against the
// gallery and, on a hit, appends a present event. Repeated recognitions of
// the same identity each append their own event.
//
// A miss returns ErrNotRecognized. If templates were skipped as unreadable
// during the scan, the error also matches ErrIntegrity so callers can tell
// it apart from a plain miss.
func (s *Service) Recognize(ctx context.Context, frame *Frame) (*Recognition, error) {
	query, err := firstFace(ctx, s.extractor, frame, s.dimension)
	if err != nil {
		return nil, fmt.Errorf("recognizing: %w", err)
	}

	scan, err := s.Match(ctx, query)
	if err != nil {
		return nil, err
	}
	if scan.Match == nil {
		return nil, missError(scan)
	}

	event, err := s.database.AppendAttendance(ctx, scan.Match.IdentityID, StatusPresent, s.clock.Now())
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			// Deleted between the scan and the append.
			return nil, fmt.Errorf("recognizing: %w", ErrNotRecognized)
		}
		return nil, fmt.Errorf("recording attendance: %w", err)
	}

	s.logger.Info("attendance recorded", "identity_id", event.IdentityID, "distance", scan.Match.Distance)
	return &Recognition{
		IdentityID: scan.Match.IdentityID,
		Distance:   scan.Match.Distance,
		Event:      event,
	}, nil
}

func missError(scan *ScanResult) error {
	if len(scan.Corrupt) == 0 {
		return ErrNotRecognized
	}
	errs := []error{ErrNotRecognized}
	for _, c := range scan.Corrupt {
		errs = append(errs, c)
	}
	return errors.Join(errs...)
}
