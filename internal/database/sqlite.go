package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"faceattend/internal/attend"
	"faceattend/internal/database/migrations"
)

// SQLiteDatabase implements attend.Database using SQLite.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase opens a SQLite database. path can be a file path or
// ":memory:" for an in-memory database. The schema is not touched; see
// Migrate and CheckMigrations.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteDatabase{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection pool.
//
// Connection settings are passed in the DSN so that every pooled connection
// gets them: foreign keys on, a busy timeout, and write transactions that
// take the write lock at BEGIN. An in-memory database is private to one
// connection, so the pool is limited to a single connection.
func OpenConnection(path string) (*sql.DB, error) {
	params := "_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	memory := path == ":memory:"
	if !memory {
		params += "&_journal_mode=WAL"
	}

	dsn := path + "?" + params
	if !memory && !strings.HasPrefix(path, "file:") {
		dsn = "file:" + dsn
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", attend.ErrStorageUnavailable, err)
	}
	if memory {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: opening database: %v", attend.ErrStorageUnavailable, err)
	}
	return db, nil
}

// Path returns the path the database was opened with.
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// Identity operations

const identityColumns = `id, display_name, contact_handle, role, credential,
	template IS NOT NULL, created_at, updated_at`

func (s *SQLiteDatabase) CreateIdentity(ctx context.Context, identity *attend.NewIdentity) (*attend.Identity, error) {
	createdAt := identity.CreatedAt.UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO identities (display_name, contact_handle, role, credential, template, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		identity.DisplayName, identity.ContactHandle, string(identity.Role),
		identity.Credential, identity.Template, createdAt, createdAt)
	if err != nil {
		return nil, fmt.Errorf("inserting identity: %w", mapError(err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading identity id: %w", err)
	}

	return &attend.Identity{
		ID:            id,
		DisplayName:   identity.DisplayName,
		ContactHandle: identity.ContactHandle,
		Role:          identity.Role,
		Credential:    identity.Credential,
		HasTemplate:   identity.Template != nil,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}, nil
}

func (s *SQLiteDatabase) FindIdentityByID(ctx context.Context, id int64) (*attend.Identity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = ?`, id)
	identity, err := scanIdentity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding identity by id: %w", mapError(err))
	}
	return identity, nil
}

func (s *SQLiteDatabase) FindIdentityByHandle(ctx context.Context, handle string) (*attend.Identity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE contact_handle = ?`, handle)
	identity, err := scanIdentity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding identity by handle: %w", mapError(err))
	}
	return identity, nil
}

func (s *SQLiteDatabase) ReplaceTemplate(ctx context.Context, id int64, template []byte, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE identities SET template = ?, updated_at = ? WHERE id = ?`,
		template, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("replacing template: %w", mapError(err))
	}
	return expectOneRow(res, id)
}

func (s *SQLiteDatabase) DeleteIdentity(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM identities WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting identity: %w", mapError(err))
	}
	return expectOneRow(res, id)
}

// Gallery operations

func (s *SQLiteDatabase) ListTemplates(ctx context.Context) ([]attend.StoredTemplate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, template FROM identities WHERE template IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", mapError(err))
	}
	defer rows.Close()

	var templates []attend.StoredTemplate
	for rows.Next() {
		var t attend.StoredTemplate
		if err := rows.Scan(&t.IdentityID, &t.Blob); err != nil {
			return nil, fmt.Errorf("scanning template: %w", err)
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing templates: %w", mapError(err))
	}
	return templates, nil
}

// Ledger operations

func (s *SQLiteDatabase) AppendAttendance(ctx context.Context, identityID int64, status attend.Status, at time.Time) (*attend.AttendanceEvent, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", mapError(err))
	}
	defer tx.Rollback()

	recordedAt := at.UTC()
	var last time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT recorded_at FROM attendance_events ORDER BY id DESC LIMIT 1`).Scan(&last)
	switch {
	case err == nil:
		if last.After(recordedAt) {
			recordedAt = last.UTC()
		}
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, fmt.Errorf("reading last event: %w", mapError(err))
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO attendance_events (identity_id, recorded_at, status) VALUES (?, ?, ?)`,
		identityID, recordedAt, string(status))
	if err != nil {
		return nil, fmt.Errorf("inserting attendance event: %w", mapError(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading event id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", mapError(err))
	}

	return &attend.AttendanceEvent{
		ID:         id,
		IdentityID: identityID,
		RecordedAt: recordedAt,
		Status:     status,
	}, nil
}

func (s *SQLiteDatabase) ListAttendance(ctx context.Context, query attend.AttendanceQuery) ([]*attend.AttendanceEvent, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, identity_id, recorded_at, status FROM attendance_events
		 WHERE (? = 0 OR identity_id = ?)
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT ?`,
		query.IdentityID, query.IdentityID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing attendance: %w", mapError(err))
	}
	defer rows.Close()

	var events []*attend.AttendanceEvent
	for rows.Next() {
		var e attend.AttendanceEvent
		var status string
		if err := rows.Scan(&e.ID, &e.IdentityID, &e.RecordedAt, &status); err != nil {
			return nil, fmt.Errorf("scanning attendance event: %w", err)
		}
		e.Status = attend.Status(status)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing attendance: %w", mapError(err))
	}
	return events, nil
}

// Ingestion history

func (s *SQLiteDatabase) CreateIngestCycle(ctx context.Context, cycle *attend.IngestCycle) (*attend.IngestCycle, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ingest_cycles (started_at, finished_at, matched, enrolled, skipped, failed)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		cycle.StartedAt.UTC(), cycle.FinishedAt.UTC(),
		cycle.Matched, cycle.Enrolled, cycle.Skipped, cycle.Failed)
	if err != nil {
		return nil, fmt.Errorf("inserting ingest cycle: %w", mapError(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading ingest cycle id: %w", err)
	}

	created := *cycle
	created.ID = id
	created.StartedAt = cycle.StartedAt.UTC()
	created.FinishedAt = cycle.FinishedAt.UTC()
	return &created, nil
}

func (s *SQLiteDatabase) ListIngestCycles(ctx context.Context, limit int) ([]*attend.IngestCycle, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, matched, enrolled, skipped, failed
		 FROM ingest_cycles ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing ingest cycles: %w", mapError(err))
	}
	defer rows.Close()

	var cycles []*attend.IngestCycle
	for rows.Next() {
		var c attend.IngestCycle
		if err := rows.Scan(&c.ID, &c.StartedAt, &c.FinishedAt, &c.Matched, &c.Enrolled, &c.Skipped, &c.Failed); err != nil {
			return nil, fmt.Errorf("scanning ingest cycle: %w", err)
		}
		cycles = append(cycles, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing ingest cycles: %w", mapError(err))
	}
	return cycles, nil
}

// Maintenance

// Migrate applies pending schema migrations.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo writes a consistent copy of the database to destPath using
// VACUUM INTO. destPath must not exist.
func (s *SQLiteDatabase) BackupTo(ctx context.Context, destPath string) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", mapError(err))
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*attend.Identity, error) {
	var identity attend.Identity
	var role string
	if err := row.Scan(&identity.ID, &identity.DisplayName, &identity.ContactHandle, &role,
		&identity.Credential, &identity.HasTemplate, &identity.CreatedAt, &identity.UpdatedAt); err != nil {
		return nil, err
	}
	identity.Role = attend.Role(role)
	return &identity, nil
}

func expectOneRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("identity %d: %w", id, attend.ErrIdentityNotFound)
	}
	return nil
}

// mapError translates driver errors into the domain's error kinds.
func mapError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %v", attend.ErrDuplicateIdentity, err)
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%w: %v", attend.ErrIdentityNotFound, err)
		}
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrCantOpen, sqlite3.ErrIoErr,
			sqlite3.ErrFull, sqlite3.ErrReadonly, sqlite3.ErrNotADB:
			return fmt.Errorf("%w: %v", attend.ErrStorageUnavailable, err)
		}
		return err
	}
	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", attend.ErrStorageUnavailable, err)
	}
	return err
}

// Compile-time check that SQLiteDatabase implements attend.Database
var _ attend.Database = (*SQLiteDatabase)(nil)
