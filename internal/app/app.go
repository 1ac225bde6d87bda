package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"faceattend/internal/attend"
	"faceattend/internal/config"
	"faceattend/internal/database"
	"faceattend/internal/dropfolder"
	"faceattend/internal/encryption"
	"faceattend/internal/extractor"
	"faceattend/internal/vault"
)

// ErrPermissionDenied is returned when a member asks for another identity's
// attendance.
var ErrPermissionDenied = errors.New("permission denied")

// Options controls how NewFaceApp wires its dependencies.
type Options struct {
	Passphrase string // unlocks a passphrase-protected key file
	Verbose    bool   // log debug records
}

// FaceApp is the application layer between the CLI and attend.Service.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw file paths, and closes the database on Close.
type FaceApp struct {
	cfg     *config.Config
	db      *database.SQLiteDatabase
	service *attend.Service
	logger  attend.Logger
	clock   attend.Clock
	vaults  map[string]vault.Vault
	logFile *os.File
}

// NewFaceApp creates a fully wired FaceApp from the given config.
// The caller must call Close when done.
func NewFaceApp(cfg *config.Config, opts Options) (*FaceApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, runID, opts.Verbose)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	db, err := openDatabase(cfg)
	if err != nil {
		logFile.Close()
		return nil, err
	}

	keys, err := encryption.LoadKeyStore(cfg.Encryption.KeyPath, opts.Passphrase)
	if err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("loading key file: %w", err)
	}

	client := extractor.NewClient(cfg.Extractor.URL, cfg.Extractor.Timeout.Duration)

	a := newFaceApp(cfg, db, keys, client, &slogAdapter{l: logger}, attend.RealClock{}, attend.UUIDGenerator{})
	a.logFile = logFile
	return a, nil
}

// newFaceApp wires a FaceApp from already constructed dependencies.
func newFaceApp(cfg *config.Config, db *database.SQLiteDatabase, keys attend.KeyStore, ex attend.Extractor, logger attend.Logger, clock attend.Clock, idgen attend.IDGenerator) *FaceApp {
	svc := attend.NewService(db, keys, ex, logger, clock, idgen, attend.Options{
		MatchThreshold:    cfg.Matching.Threshold,
		LivenessThreshold: cfg.Liveness.Threshold,
		Dimension:         cfg.Extractor.Dimension,
	})
	return &FaceApp{
		cfg:     cfg,
		db:      db,
		service: svc,
		logger:  logger,
		clock:   clock,
		vaults:  make(map[string]vault.Vault),
	}
}

// openDatabase opens the configured store. In-memory stores start empty and
// are migrated; file stores must already be at the latest schema.
func openDatabase(cfg *config.Config) (*database.SQLiteDatabase, error) {
	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.HostID)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	if cfg.Database.Type == "memory" {
		err = db.Migrate()
	} else {
		err = db.CheckMigrations()
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}
	return db, nil
}

// InitKeys creates the key file named in cfg and returns its public
// recipient. An existing key file is never replaced.
func InitKeys(cfg *config.Config, passphrase string) (string, error) {
	keys, err := encryption.InitKeyFile(cfg.Encryption.KeyPath, passphrase)
	if err != nil {
		return "", err
	}
	return keys.Recipient(), nil
}

// MigrateDatabase applies pending schema migrations to the configured store.
func MigrateDatabase(cfg *config.Config) error {
	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.HostID)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	return nil
}

// loadFrames reads and decodes the given image files in order.
func loadFrames(paths []string) ([]*attend.Frame, error) {
	frames := make([]*attend.Frame, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		frame, err := attend.DecodeFrame(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// Enroll registers a new identity from a capture session stored as image
// files, earliest first.
func (a *FaceApp) Enroll(ctx context.Context, displayName, handle string, role attend.Role, credential string, imagePaths []string) (*attend.EnrolledTemplate, error) {
	if len(imagePaths) < 2 {
		return nil, attend.ErrTooFewFrames
	}
	frames, err := loadFrames(imagePaths)
	if err != nil {
		return nil, err
	}
	return a.service.Enroll(ctx, attend.EnrollRequest{
		DisplayName:   displayName,
		ContactHandle: handle,
		Role:          role,
		Credential:    credential,
		Frames:        frames,
	})
}

// ReEnroll replaces an identity's template from a new capture session.
func (a *FaceApp) ReEnroll(ctx context.Context, identityID int64, imagePaths []string) (*attend.EnrolledTemplate, error) {
	if len(imagePaths) < 2 {
		return nil, attend.ErrTooFewFrames
	}
	frames, err := loadFrames(imagePaths)
	if err != nil {
		return nil, err
	}
	return a.service.ReEnroll(ctx, identityID, frames)
}

// Recognize matches the face in one image file and records attendance on a
// hit.
func (a *FaceApp) Recognize(ctx context.Context, imagePath string) (*attend.Recognition, error) {
	frames, err := loadFrames([]string{imagePath})
	if err != nil {
		return nil, err
	}
	return a.service.Recognize(ctx, frames[0])
}

// MarkAttendance appends an event by administrative action.
func (a *FaceApp) MarkAttendance(ctx context.Context, identityID int64, status attend.Status) (*attend.AttendanceEvent, error) {
	return a.service.RecordAttendance(ctx, identityID, status)
}

// ListAttendanceFor lists events on behalf of requesterID. Members only see
// their own events; admins see the given identity, or everyone when
// identityID is zero.
func (a *FaceApp) ListAttendanceFor(ctx context.Context, requesterID, identityID int64, limit int) ([]*attend.AttendanceEvent, error) {
	requester, err := a.service.FindIdentity(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	if requester.Role != attend.RoleAdmin {
		if identityID != 0 && identityID != requester.ID {
			return nil, fmt.Errorf("%w: members may only list their own attendance", ErrPermissionDenied)
		}
		identityID = requester.ID
	}

	return a.service.ListAttendance(ctx, attend.AttendanceQuery{IdentityID: identityID, Limit: limit})
}

// DeleteIdentity removes an identity and its attendance events.
func (a *FaceApp) DeleteIdentity(ctx context.Context, identityID int64) error {
	return a.service.DeleteIdentity(ctx, identityID)
}

// RunIngest drains the configured drop-folder. With once set it runs a
// single cycle; otherwise it polls until ctx is cancelled.
func (a *FaceApp) RunIngest(ctx context.Context, once bool, onCycle func(*attend.CycleReport)) error {
	ing := a.cfg.Ingest
	drop, err := dropfolder.NewOSDropFolder(ing.DropDir, ing.ArchiveDir, ing.Ignore, ing.MinAge.Duration, a.clock)
	if err != nil {
		return fmt.Errorf("opening drop-folder: %w", err)
	}

	worker := attend.NewIngestWorker(a.service, drop, ing.Interval.Duration)
	if onCycle != nil {
		worker.OnCycle(onCycle)
	}

	if once {
		_, err := worker.RunCycle(ctx)
		return err
	}
	return worker.Run(ctx)
}

// History returns the most recent ingestion cycles.
func (a *FaceApp) History(ctx context.Context, limit int) ([]*attend.IngestCycle, error) {
	cycles, err := a.db.ListIngestCycles(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing ingestion history: %w", err)
	}
	return cycles, nil
}

// VerifyGallery opens every stored template and returns the number checked
// and the ones that failed.
func (a *FaceApp) VerifyGallery(ctx context.Context, progress func(done, total int)) (int, []*attend.IntegrityError, error) {
	return a.service.VerifyGallery(ctx, progress)
}

// openVault returns the named vault, or the first configured one when name
// is empty.
func (a *FaceApp) openVault(ctx context.Context, name string) (vault.Vault, error) {
	vc, err := a.cfg.Vault(name)
	if err != nil {
		return nil, err
	}
	if v, ok := a.vaults[vc.Name]; ok {
		return v, nil
	}

	v, err := vault.NewVaultFromConfig(ctx, *vc)
	if err != nil {
		return nil, fmt.Errorf("creating vault %q: %w", vc.Name, err)
	}
	a.vaults[vc.Name] = v
	return v, nil
}

// Backup snapshots the database and uploads it to the named vault. The key
// file is never uploaded. Returns the snapshot name.
func (a *FaceApp) Backup(ctx context.Context, vaultName string) (string, error) {
	v, err := a.openVault(ctx, vaultName)
	if err != nil {
		return "", err
	}

	tmpDir, err := os.MkdirTemp("", "faceattend-backup-*")
	if err != nil {
		return "", fmt.Errorf("creating temp dir for db backup: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	tmpPath := filepath.Join(tmpDir, "snapshot.db")
	if err := a.db.BackupTo(ctx, tmpPath); err != nil {
		return "", err
	}

	f, err := os.Open(tmpPath)
	if err != nil {
		return "", fmt.Errorf("opening db backup for upload: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat db backup: %w", err)
	}

	name := fmt.Sprintf("%s-%s.db", a.cfg.HostID, a.clock.Now().UTC().Format("20060102T150405Z"))
	if err := v.PutSnapshot(ctx, a.cfg.HostID, name, f, info.Size()); err != nil {
		return "", fmt.Errorf("uploading snapshot to vault %q: %w", v.Name(), err)
	}

	a.logger.Info("database snapshot uploaded", "vault", v.Name(), "snapshot", name, "bytes", info.Size())
	return name, nil
}

// ListBackups lists this host's snapshots in the named vault.
func (a *FaceApp) ListBackups(ctx context.Context, vaultName string) ([]vault.Snapshot, error) {
	v, err := a.openVault(ctx, vaultName)
	if err != nil {
		return nil, err
	}
	return v.ListSnapshots(ctx, a.cfg.HostID)
}

// Close closes the database and the log file.
func (a *FaceApp) Close() error {
	var err error
	if a.db != nil {
		if cerr := a.db.Close(); cerr != nil {
			err = fmt.Errorf("closing database: %w", cerr)
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return err
}
