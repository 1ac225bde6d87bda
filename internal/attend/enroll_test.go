package attend_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"faceattend/internal/attend"
	"faceattend/internal/testutil"
)

func TestEnroll_TooFewFrames(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	for _, n := range []int{0, 1} {
		frames := testutil.GrayFrames(t, 50, 150)[:n]
		_, err := f.svc.Enroll(context.Background(), attend.EnrollRequest{
			DisplayName: "Jane", ContactHandle: "jane@example.com", Frames: frames,
		})
		if !errors.Is(err, attend.ErrTooFewFrames) {
			t.Errorf("%d frames: error = %v, want ErrTooFewFrames", n, err)
		}
	}
	if f.ex.Calls() != 0 {
		t.Errorf("extractor called %d times, want 0", f.ex.Calls())
	}
}

func TestEnroll_LivenessFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ex.Register(50, attend.Embedding{1, 0, 0, 0})

	_, err := f.svc.Enroll(context.Background(), attend.EnrollRequest{
		DisplayName: "Jane", ContactHandle: "jane@example.com",
		Frames: testutil.GrayFrames(t, 50, 50, 150),
	})
	if !errors.Is(err, attend.ErrLivenessFailed) {
		t.Fatalf("error = %v, want ErrLivenessFailed", err)
	}
	if f.ex.Calls() != 0 {
		t.Errorf("extractor called %d times, want 0", f.ex.Calls())
	}
	if id, _ := f.db.FindIdentityByHandle(context.Background(), "jane@example.com"); id != nil {
		t.Error("identity stored after liveness failure")
	}
}

func TestEnroll_AveragesFrames(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.ex.Register(50, attend.Embedding{1, 0, 0, 0})
	f.ex.Register(150, attend.Embedding{0, 1, 0, 0})
	f.ex.Register(200, attend.Embedding{0, 0, 1, 1})
	// Level 90 has no face and is dropped.

	res, err := f.svc.Enroll(ctx, attend.EnrollRequest{
		DisplayName:   "  Jane Doe ",
		ContactHandle: " Jane@Example.com",
		Frames:        testutil.GrayFrames(t, 50, 150, 90, 200),
	})
	if err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}
	if res.FramesUsed != 3 {
		t.Errorf("FramesUsed = %d, want 3", res.FramesUsed)
	}
	third := 1.0 / 3.0
	want := attend.Embedding{third, third, third, third}
	for i := range want {
		if math.Abs(res.Embedding[i]-want[i]) > 1e-12 {
			t.Errorf("Embedding[%d] = %v, want %v", i, res.Embedding[i], want[i])
		}
	}

	got := res.Identity
	if got.DisplayName != "Jane Doe" || got.ContactHandle != "jane@example.com" {
		t.Errorf("identity = %q <%q>, want trimmed and lowercased", got.DisplayName, got.ContactHandle)
	}
	if got.Role != attend.RoleMember {
		t.Errorf("Role = %q, want member", got.Role)
	}
	if !got.HasTemplate {
		t.Error("HasTemplate = false")
	}

	// The stored template decrypts to the same mean.
	templates, err := f.db.ListTemplates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(templates) != 1 {
		t.Fatalf("got %d templates, want 1", len(templates))
	}
	stored, err := f.keys.Open(templates[0].Blob)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	for i := range want {
		if stored[i] != res.Embedding[i] {
			t.Errorf("stored[%d] = %v, want %v", i, stored[i], res.Embedding[i])
		}
	}
}

func TestEnroll_NoUsableFace(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ex.Register(150, attend.Embedding{1, 2, 3})

	_, err := f.svc.Enroll(context.Background(), attend.EnrollRequest{
		DisplayName: "Jane", ContactHandle: "jane@example.com",
		Frames: testutil.GrayFrames(t, 50, 150),
	})
	if !errors.Is(err, attend.ErrNoFaceDetected) {
		t.Fatalf("error = %v, want ErrNoFaceDetected", err)
	}
}

func TestEnroll_ExtractorError(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	boom := errors.New("model server down")
	f.ex.Register(50, attend.Embedding{1, 0, 0, 0})
	f.ex.FailOn(150, boom)

	_, err := f.svc.Enroll(context.Background(), attend.EnrollRequest{
		DisplayName: "Jane", ContactHandle: "jane@example.com",
		Frames: testutil.GrayFrames(t, 50, 150),
	})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want extractor error", err)
	}
}

func TestEnroll_InvalidInput(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ex.Register(50, attend.Embedding{1, 0, 0, 0})
	f.ex.Register(150, attend.Embedding{1, 0, 0, 0})

	tests := []struct {
		name string
		req  attend.EnrollRequest
	}{
		{"missing name", attend.EnrollRequest{ContactHandle: "a@example.com"}},
		{"missing handle", attend.EnrollRequest{DisplayName: "A", ContactHandle: "  "}},
		{"unknown role", attend.EnrollRequest{DisplayName: "A", ContactHandle: "a@example.com", Role: "owner"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Frames = testutil.GrayFrames(t, 50, 150)
			if _, err := f.svc.Enroll(context.Background(), tt.req); !errors.Is(err, attend.ErrInvalidInput) {
				t.Errorf("error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestEnroll_NilFrame(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ex.Register(50, attend.Embedding{1, 0, 0, 0})
	f.ex.Register(150, attend.Embedding{1, 0, 0, 0})

	tests := []struct {
		name   string
		frames []*attend.Frame
	}{
		{"nil frame", append(testutil.GrayFrames(t, 50), nil)},
		{"frame without image", append(testutil.GrayFrames(t, 50, 150), &attend.Frame{})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Enroll(context.Background(), attend.EnrollRequest{
				DisplayName: "Jane", ContactHandle: "jane@example.com", Frames: tt.frames,
			})
			if !errors.Is(err, attend.ErrInvalidInput) {
				t.Errorf("Enroll() error = %v, want ErrInvalidInput", err)
			}
		})
	}
	if f.ex.Calls() != 0 {
		t.Errorf("extractor called %d times, want 0", f.ex.Calls())
	}

	jane := f.enroll(t, "jane@example.com", 50, 150, attend.Embedding{1, 0, 0, 0})
	if _, err := f.svc.ReEnroll(context.Background(), jane.ID, []*attend.Frame{nil, nil}); !errors.Is(err, attend.ErrInvalidInput) {
		t.Errorf("ReEnroll() error = %v, want ErrInvalidInput", err)
	}
}

func TestEnroll_Credential(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ex.Register(50, attend.Embedding{1, 0, 0, 0})
	f.ex.Register(150, attend.Embedding{1, 0, 0, 0})

	res, err := f.svc.Enroll(context.Background(), attend.EnrollRequest{
		DisplayName: "Admin", ContactHandle: "admin@example.com", Role: attend.RoleAdmin,
		Credential: "hunter2", Frames: testutil.GrayFrames(t, 50, 150),
	})
	if err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}

	stored, err := f.db.FindIdentityByID(context.Background(), res.Identity.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Role != attend.RoleAdmin {
		t.Errorf("Role = %q, want admin", stored.Role)
	}
	if string(stored.Credential) == "hunter2" {
		t.Fatal("credential stored in plaintext")
	}
	if err := bcrypt.CompareHashAndPassword(stored.Credential, []byte("hunter2")); err != nil {
		t.Errorf("stored credential does not verify: %v", err)
	}
}

func TestEnroll_DuplicateHandle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.enroll(t, "jane@example.com", 50, 150, attend.Embedding{1, 0, 0, 0})

	f.ex.Register(60, attend.Embedding{0, 1, 0, 0})
	f.ex.Register(160, attend.Embedding{0, 1, 0, 0})
	_, err := f.svc.Enroll(context.Background(), attend.EnrollRequest{
		DisplayName: "Other Jane", ContactHandle: "JANE@example.com",
		Frames: testutil.GrayFrames(t, 60, 160),
	})
	if !errors.Is(err, attend.ErrDuplicateIdentity) {
		t.Fatalf("error = %v, want ErrDuplicateIdentity", err)
	}
}

func TestEnroll_ConcurrentDuplicates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ex.Register(50, attend.Embedding{1, 0, 0, 0})
	f.ex.Register(150, attend.Embedding{1, 0, 0, 0})

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		dupes     int
	)
	for i := 0; i < workers; i++ {
		frames := testutil.GrayFrames(t, 50, 150)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Enroll(context.Background(), attend.EnrollRequest{
				DisplayName: "Jane", ContactHandle: "jane@example.com", Frames: frames,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, attend.ErrDuplicateIdentity):
				dupes++
			}
		}()
	}
	wg.Wait()

	if successes != 1 || dupes != workers-1 {
		t.Errorf("successes=%d duplicates=%d, want 1 and %d", successes, dupes, workers-1)
	}
	templates, err := f.db.ListTemplates(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(templates) != 1 {
		t.Errorf("got %d templates, want 1", len(templates))
	}
}

func TestReEnroll(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	jane := f.enroll(t, "jane@example.com", 50, 150, attend.Embedding{1, 0, 0, 0})

	f.ex.Register(60, attend.Embedding{0, 0, 0, 1})
	f.ex.Register(160, attend.Embedding{0, 0, 0, 1})
	f.clock.Advance(24 * time.Hour)

	res, err := f.svc.ReEnroll(ctx, jane.ID, testutil.GrayFrames(t, 60, 160))
	if err != nil {
		t.Fatalf("ReEnroll() error = %v", err)
	}
	if res.Identity.ID != jane.ID || res.FramesUsed != 2 {
		t.Errorf("ReEnroll() = %+v", res)
	}

	scan, err := f.svc.Match(ctx, attend.Embedding{0, 0, 0, 1})
	if err != nil {
		t.Fatal(err)
	}
	if scan.Match == nil || scan.Match.IdentityID != jane.ID {
		t.Errorf("Match after re-enroll = %+v, want identity %d", scan.Match, jane.ID)
	}
	if scan, _ := f.svc.Match(ctx, attend.Embedding{1, 0, 0, 0}); scan.Match != nil {
		t.Errorf("old template still matches: %+v", scan.Match)
	}

	tests := []struct {
		name   string
		id     int64
		levels []uint8
		want   error
	}{
		{"unknown identity", 9999, []uint8{60, 160}, attend.ErrIdentityNotFound},
		{"one frame", jane.ID, []uint8{60}, attend.ErrTooFewFrames},
		{"static frames", jane.ID, []uint8{60, 60}, attend.ErrLivenessFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.ReEnroll(ctx, tt.id, testutil.GrayFrames(t, tt.levels...)); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}
