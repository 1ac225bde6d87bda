package database

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"faceattend/internal/attend"
)

// newTestDB creates a new in-memory database with migrations applied.
func newTestDB(t *testing.T) *SQLiteDatabase {
	t.Helper()

	db, err := NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

var baseTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func createIdentity(t *testing.T, db *SQLiteDatabase, handle string) *attend.Identity {
	t.Helper()
	identity, err := db.CreateIdentity(context.Background(), &attend.NewIdentity{
		DisplayName:   "Test " + handle,
		ContactHandle: handle,
		Role:          attend.RoleMember,
		Template:      []byte("sealed-" + handle),
		CreatedAt:     baseTime,
	})
	if err != nil {
		t.Fatalf("CreateIdentity(%s) error = %v", handle, err)
	}
	return identity
}

func TestSQLiteDatabase_CreateIdentity(t *testing.T) {
	t.Run("creates identity with template", func(t *testing.T) {
		db := newTestDB(t)
		ctx := context.Background()

		created, err := db.CreateIdentity(ctx, &attend.NewIdentity{
			DisplayName:   "Jane Doe",
			ContactHandle: "jane@example.com",
			Role:          attend.RoleAdmin,
			Credential:    []byte("hash"),
			Template:      []byte("sealed"),
			CreatedAt:     baseTime,
		})
		if err != nil {
			t.Fatalf("CreateIdentity() error = %v", err)
		}
		if created.ID == 0 {
			t.Error("ID is zero")
		}

		found, err := db.FindIdentityByID(ctx, created.ID)
		if err != nil {
			t.Fatalf("FindIdentityByID() error = %v", err)
		}
		if found == nil {
			t.Fatal("FindIdentityByID() returned nil")
		}
		if found.DisplayName != "Jane Doe" || found.ContactHandle != "jane@example.com" {
			t.Errorf("found = %+v", found)
		}
		if found.Role != attend.RoleAdmin {
			t.Errorf("Role = %v, want admin", found.Role)
		}
		if string(found.Credential) != "hash" {
			t.Errorf("Credential = %q, want hash", found.Credential)
		}
		if !found.HasTemplate {
			t.Error("HasTemplate = false, want true")
		}
		if !found.CreatedAt.Equal(baseTime) {
			t.Errorf("CreatedAt = %v, want %v", found.CreatedAt, baseTime)
		}
	})

	t.Run("rejects duplicate contact handle", func(t *testing.T) {
		db := newTestDB(t)
		createIdentity(t, db, "jane@example.com")

		_, err := db.CreateIdentity(context.Background(), &attend.NewIdentity{
			DisplayName:   "Other Jane",
			ContactHandle: "jane@example.com",
			Role:          attend.RoleMember,
			CreatedAt:     baseTime,
		})
		if !errors.Is(err, attend.ErrDuplicateIdentity) {
			t.Errorf("CreateIdentity() error = %v, want ErrDuplicateIdentity", err)
		}
	})

	t.Run("ids are not reused after delete", func(t *testing.T) {
		db := newTestDB(t)
		first := createIdentity(t, db, "a@example.com")
		if err := db.DeleteIdentity(context.Background(), first.ID); err != nil {
			t.Fatalf("DeleteIdentity() error = %v", err)
		}
		second := createIdentity(t, db, "b@example.com")
		if second.ID <= first.ID {
			t.Errorf("second ID = %d, want > %d", second.ID, first.ID)
		}
	})
}

func TestSQLiteDatabase_CreateIdentity_ConcurrentDuplicates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := db.CreateIdentity(ctx, &attend.NewIdentity{
				DisplayName:   "Racer",
				ContactHandle: "racer@example.com",
				Role:          attend.RoleMember,
				CreatedAt:     baseTime,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, attend.ErrDuplicateIdentity):
			dup++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || dup != workers-1 {
		t.Errorf("ok = %d, duplicates = %d, want 1 and %d", ok, dup, workers-1)
	}
}

func TestSQLiteDatabase_FindIdentity(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	created := createIdentity(t, db, "jane@example.com")

	tests := []struct {
		name    string
		find    func() (*attend.Identity, error)
		wantNil bool
	}{
		{"by id", func() (*attend.Identity, error) { return db.FindIdentityByID(ctx, created.ID) }, false},
		{"by handle", func() (*attend.Identity, error) { return db.FindIdentityByHandle(ctx, "jane@example.com") }, false},
		{"missing id", func() (*attend.Identity, error) { return db.FindIdentityByID(ctx, 999) }, true},
		{"missing handle", func() (*attend.Identity, error) { return db.FindIdentityByHandle(ctx, "nobody@example.com") }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.find()
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if (got == nil) != tt.wantNil {
				t.Fatalf("got = %+v, wantNil %v", got, tt.wantNil)
			}
			if got != nil && got.ID != created.ID {
				t.Errorf("ID = %d, want %d", got.ID, created.ID)
			}
		})
	}
}

func TestSQLiteDatabase_ReplaceTemplate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	created := createIdentity(t, db, "jane@example.com")

	later := baseTime.Add(time.Hour)
	if err := db.ReplaceTemplate(ctx, created.ID, []byte("new-sealed"), later); err != nil {
		t.Fatalf("ReplaceTemplate() error = %v", err)
	}

	templates, err := db.ListTemplates(ctx)
	if err != nil {
		t.Fatalf("ListTemplates() error = %v", err)
	}
	if len(templates) != 1 || string(templates[0].Blob) != "new-sealed" {
		t.Errorf("templates = %+v, want one new-sealed", templates)
	}

	found, _ := db.FindIdentityByID(ctx, created.ID)
	if !found.UpdatedAt.Equal(later) {
		t.Errorf("UpdatedAt = %v, want %v", found.UpdatedAt, later)
	}

	err = db.ReplaceTemplate(ctx, 999, []byte("x"), later)
	if !errors.Is(err, attend.ErrIdentityNotFound) {
		t.Errorf("ReplaceTemplate(missing) error = %v, want ErrIdentityNotFound", err)
	}
}

func TestSQLiteDatabase_ListTemplates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	templates, err := db.ListTemplates(ctx)
	if err != nil {
		t.Fatalf("ListTemplates() error = %v", err)
	}
	if len(templates) != 0 {
		t.Errorf("empty gallery returned %d templates", len(templates))
	}

	a := createIdentity(t, db, "a@example.com")
	b := createIdentity(t, db, "b@example.com")
	if _, err := db.CreateIdentity(ctx, &attend.NewIdentity{
		DisplayName:   "No Template",
		ContactHandle: "c@example.com",
		Role:          attend.RoleMember,
		CreatedAt:     baseTime,
	}); err != nil {
		t.Fatalf("CreateIdentity() error = %v", err)
	}

	templates, err = db.ListTemplates(ctx)
	if err != nil {
		t.Fatalf("ListTemplates() error = %v", err)
	}
	if len(templates) != 2 {
		t.Fatalf("got %d templates, want 2", len(templates))
	}
	if templates[0].IdentityID != a.ID || templates[1].IdentityID != b.ID {
		t.Errorf("templates not ordered by id: %+v", templates)
	}
}

func TestSQLiteDatabase_DeleteIdentity(t *testing.T) {
	t.Run("cascades to attendance events", func(t *testing.T) {
		db := newTestDB(t)
		ctx := context.Background()
		jane := createIdentity(t, db, "jane@example.com")
		john := createIdentity(t, db, "john@example.com")

		for _, id := range []int64{jane.ID, jane.ID, john.ID} {
			if _, err := db.AppendAttendance(ctx, id, attend.StatusPresent, baseTime); err != nil {
				t.Fatalf("AppendAttendance() error = %v", err)
			}
		}

		if err := db.DeleteIdentity(ctx, jane.ID); err != nil {
			t.Fatalf("DeleteIdentity() error = %v", err)
		}

		events, err := db.ListAttendance(ctx, attend.AttendanceQuery{})
		if err != nil {
			t.Fatalf("ListAttendance() error = %v", err)
		}
		if len(events) != 1 || events[0].IdentityID != john.ID {
			t.Errorf("events after delete = %+v, want only john's", events)
		}
	})

	t.Run("missing identity", func(t *testing.T) {
		db := newTestDB(t)
		err := db.DeleteIdentity(context.Background(), 42)
		if !errors.Is(err, attend.ErrIdentityNotFound) {
			t.Errorf("DeleteIdentity() error = %v, want ErrIdentityNotFound", err)
		}
	})
}

func TestSQLiteDatabase_AppendAttendance(t *testing.T) {
	t.Run("records event", func(t *testing.T) {
		db := newTestDB(t)
		ctx := context.Background()
		jane := createIdentity(t, db, "jane@example.com")

		event, err := db.AppendAttendance(ctx, jane.ID, attend.StatusPresent, baseTime)
		if err != nil {
			t.Fatalf("AppendAttendance() error = %v", err)
		}
		if event.ID == 0 || event.IdentityID != jane.ID || event.Status != attend.StatusPresent {
			t.Errorf("event = %+v", event)
		}
		if !event.RecordedAt.Equal(baseTime) {
			t.Errorf("RecordedAt = %v, want %v", event.RecordedAt, baseTime)
		}
	})

	t.Run("unknown identity", func(t *testing.T) {
		db := newTestDB(t)
		_, err := db.AppendAttendance(context.Background(), 999, attend.StatusPresent, baseTime)
		if !errors.Is(err, attend.ErrIdentityNotFound) {
			t.Errorf("AppendAttendance() error = %v, want ErrIdentityNotFound", err)
		}
	})

	t.Run("timestamps never decrease", func(t *testing.T) {
		db := newTestDB(t)
		ctx := context.Background()
		jane := createIdentity(t, db, "jane@example.com")

		times := []time.Time{
			baseTime,
			baseTime.Add(-time.Hour),
			baseTime.Add(time.Minute),
			baseTime.Add(-time.Second),
		}
		var prev time.Time
		for i, at := range times {
			event, err := db.AppendAttendance(ctx, jane.ID, attend.StatusPresent, at)
			if err != nil {
				t.Fatalf("AppendAttendance(%d) error = %v", i, err)
			}
			if event.RecordedAt.Before(prev) {
				t.Errorf("event %d RecordedAt = %v, before previous %v", i, event.RecordedAt, prev)
			}
			prev = event.RecordedAt
		}
		if want := baseTime.Add(time.Minute); !prev.Equal(want) {
			t.Errorf("last RecordedAt = %v, want %v", prev, want)
		}
	})
}

func TestSQLiteDatabase_ListAttendance(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	jane := createIdentity(t, db, "jane@example.com")
	john := createIdentity(t, db, "john@example.com")

	for i, id := range []int64{jane.ID, john.ID, jane.ID} {
		if _, err := db.AppendAttendance(ctx, id, attend.StatusPresent, baseTime.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("AppendAttendance() error = %v", err)
		}
	}

	tests := []struct {
		name      string
		query     attend.AttendanceQuery
		wantCount int
	}{
		{"all identities", attend.AttendanceQuery{}, 3},
		{"one identity", attend.AttendanceQuery{IdentityID: jane.ID}, 2},
		{"limited", attend.AttendanceQuery{Limit: 1}, 1},
		{"unknown identity", attend.AttendanceQuery{IdentityID: 999}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := db.ListAttendance(ctx, tt.query)
			if err != nil {
				t.Fatalf("ListAttendance() error = %v", err)
			}
			if len(events) != tt.wantCount {
				t.Fatalf("got %d events, want %d", len(events), tt.wantCount)
			}
			for i := 1; i < len(events); i++ {
				if events[i].RecordedAt.After(events[i-1].RecordedAt) {
					t.Errorf("events not newest first: %v after %v", events[i].RecordedAt, events[i-1].RecordedAt)
				}
			}
		})
	}

	newest, _ := db.ListAttendance(ctx, attend.AttendanceQuery{Limit: 1})
	if newest[0].IdentityID != jane.ID || !newest[0].RecordedAt.Equal(baseTime.Add(2*time.Minute)) {
		t.Errorf("newest event = %+v", newest[0])
	}
}

func TestSQLiteDatabase_IngestCycles(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := db.CreateIngestCycle(ctx, &attend.IngestCycle{
			StartedAt:  baseTime.Add(time.Duration(i) * time.Minute),
			FinishedAt: baseTime.Add(time.Duration(i)*time.Minute + time.Second),
			Matched:    i,
			Enrolled:   1,
		})
		if err != nil {
			t.Fatalf("CreateIngestCycle() error = %v", err)
		}
	}

	cycles, err := db.ListIngestCycles(ctx, 2)
	if err != nil {
		t.Fatalf("ListIngestCycles() error = %v", err)
	}
	if len(cycles) != 2 {
		t.Fatalf("got %d cycles, want 2", len(cycles))
	}
	if cycles[0].Matched != 2 || cycles[1].Matched != 1 {
		t.Errorf("cycles not newest first: %+v, %+v", cycles[0], cycles[1])
	}
	if !cycles[0].StartedAt.Equal(baseTime.Add(2 * time.Minute)) {
		t.Errorf("StartedAt = %v", cycles[0].StartedAt)
	}
}

func TestSQLiteDatabase_FileBacked(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "gallery.db")

	db, err := NewSQLiteDatabase(path)
	if err != nil {
		t.Fatalf("NewSQLiteDatabase() error = %v", err)
	}
	if err := db.CheckMigrations(); err == nil {
		t.Error("CheckMigrations() on fresh file expected error")
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.CheckMigrations(); err != nil {
		t.Errorf("CheckMigrations() error = %v", err)
	}
	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}

	jane, err := db.CreateIdentity(ctx, &attend.NewIdentity{
		DisplayName:   "Jane",
		ContactHandle: "jane@example.com",
		Role:          attend.RoleMember,
		Template:      []byte("sealed"),
		CreatedAt:     baseTime,
	})
	if err != nil {
		t.Fatalf("CreateIdentity() error = %v", err)
	}

	backup := filepath.Join(t.TempDir(), "backup.db")
	if err := db.BackupTo(ctx, backup); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}
	db.Close()

	restored, err := NewSQLiteDatabase(backup)
	if err != nil {
		t.Fatalf("opening backup: %v", err)
	}
	defer restored.Close()

	found, err := restored.FindIdentityByID(ctx, jane.ID)
	if err != nil {
		t.Fatalf("FindIdentityByID() error = %v", err)
	}
	if found == nil || found.ContactHandle != "jane@example.com" {
		t.Errorf("backup identity = %+v", found)
	}
}
