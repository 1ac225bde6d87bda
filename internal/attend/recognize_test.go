package attend_test

import (
	"context"
	"errors"
	"testing"

	"faceattend/internal/attend"
	"faceattend/internal/testutil"
)

func TestRecognize_Hit(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	jane := f.enroll(t, "jane@example.com", 50, 150, attend.Embedding{1, 0, 0, 0})
	f.enroll(t, "john@example.com", 60, 160, attend.Embedding{0, 1, 0, 0})
	f.ex.Register(70, attend.Embedding{0.9, 0.1, 0, 0})

	rec, err := f.svc.Recognize(ctx, testutil.GrayFrame(t, 70))
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if rec.IdentityID != jane.ID {
		t.Errorf("IdentityID = %d, want %d", rec.IdentityID, jane.ID)
	}
	if rec.Distance <= 0 || rec.Distance >= attend.DefaultMatchThreshold {
		t.Errorf("Distance = %v, want in (0, %v)", rec.Distance, attend.DefaultMatchThreshold)
	}
	if rec.Event.IdentityID != jane.ID || rec.Event.Status != attend.StatusPresent {
		t.Errorf("Event = %+v", rec.Event)
	}
	if !rec.Event.RecordedAt.Equal(f.clock.Now()) {
		t.Errorf("RecordedAt = %v, want %v", rec.Event.RecordedAt, f.clock.Now())
	}
}

func TestRecognize_EveryScanIsRecorded(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	jane := f.enroll(t, "jane@example.com", 50, 150, attend.Embedding{1, 0, 0, 0})
	f.ex.Register(70, attend.Embedding{1, 0, 0, 0})

	for i := 0; i < 2; i++ {
		if _, err := f.svc.Recognize(ctx, testutil.GrayFrame(t, 70)); err != nil {
			t.Fatalf("Recognize() #%d error = %v", i+1, err)
		}
	}

	events, err := f.svc.ListAttendance(ctx, attend.AttendanceQuery{IdentityID: jane.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Errorf("got %d events, want 2", len(events))
	}
}

func TestRecognize_Miss(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.enroll(t, "jane@example.com", 50, 150, attend.Embedding{1, 0, 0, 0})
	f.ex.Register(70, attend.Embedding{0, 0, 1, 0})

	_, err := f.svc.Recognize(ctx, testutil.GrayFrame(t, 70))
	if !errors.Is(err, attend.ErrNotRecognized) {
		t.Fatalf("error = %v, want ErrNotRecognized", err)
	}
	if errors.Is(err, attend.ErrIntegrity) {
		t.Error("plain miss should not match ErrIntegrity")
	}

	events, err := f.svc.ListAttendance(ctx, attend.AttendanceQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events after a miss, want 0", len(events))
	}
}

func TestRecognize_EmptyGallery(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ex.Register(70, attend.Embedding{0, 0, 1, 0})

	if _, err := f.svc.Recognize(context.Background(), testutil.GrayFrame(t, 70)); !errors.Is(err, attend.ErrNotRecognized) {
		t.Errorf("error = %v, want ErrNotRecognized", err)
	}
}

func TestRecognize_MissWithCorruptTemplates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	jane := f.enroll(t, "jane@example.com", 50, 150, attend.Embedding{1, 0, 0, 0})
	f.enroll(t, "john@example.com", 60, 160, attend.Embedding{0, 1, 0, 0})
	f.corrupt(t, jane.ID)

	// Would have matched jane.
	f.ex.Register(70, attend.Embedding{1, 0, 0, 0})
	_, err := f.svc.Recognize(ctx, testutil.GrayFrame(t, 70))
	if !errors.Is(err, attend.ErrNotRecognized) || !errors.Is(err, attend.ErrIntegrity) {
		t.Fatalf("error = %v, want both ErrNotRecognized and ErrIntegrity", err)
	}

	var ie *attend.IntegrityError
	if !errors.As(err, &ie) || ie.IdentityID != jane.ID {
		t.Errorf("IntegrityError = %+v, want identity %d", ie, jane.ID)
	}
}

func TestRecognize_HitDespiteCorruptTemplate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	jane := f.enroll(t, "jane@example.com", 50, 150, attend.Embedding{1, 0, 0, 0})
	john := f.enroll(t, "john@example.com", 60, 160, attend.Embedding{0, 1, 0, 0})
	f.corrupt(t, jane.ID)

	f.ex.Register(70, attend.Embedding{0, 1, 0, 0})
	rec, err := f.svc.Recognize(context.Background(), testutil.GrayFrame(t, 70))
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if rec.IdentityID != john.ID {
		t.Errorf("IdentityID = %d, want %d", rec.IdentityID, john.ID)
	}
}

func TestRecognize_ExtractionFailures(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	boom := errors.New("model server down")
	f.ex.FailOn(80, boom)
	f.ex.Register(90, attend.Embedding{1, 2})

	tests := []struct {
		name  string
		level uint8
		want  error
	}{
		{"no face", 70, attend.ErrNoFaceDetected},
		{"extractor error", 80, boom},
		{"wrong dimension", 90, attend.ErrInvalidEmbedding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.Recognize(context.Background(), testutil.GrayFrame(t, tt.level)); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestMatch_RejectsBadQuery(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	if _, err := f.svc.Match(context.Background(), attend.Embedding{1, 2, 3}); !errors.Is(err, attend.ErrInvalidEmbedding) {
		t.Errorf("error = %v, want ErrInvalidEmbedding", err)
	}
}
