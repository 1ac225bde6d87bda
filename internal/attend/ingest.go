package attend

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultIngestInterval is the pause between ingestion cycles.
const DefaultIngestInterval = 5 * time.Second

// Outcome classifies how one drop-folder file was handled.
type Outcome string

const (
	OutcomeMatched  Outcome = "matched"  // face matched; attendance appended
	OutcomeEnrolled Outcome = "enrolled" // no match; new identity created
	OutcomeSkipped  Outcome = "skipped"  // not an image, no face, or a retry of a file that enrolled itself
	OutcomeFailed   Outcome = "failed"   // any other error
)

// ItemResult is the structured result for one file.
type ItemResult struct {
	Name        string
	Outcome     Outcome
	IdentityID  int64
	ArchivePath string
	Err         error
}

// CycleReport collects the per-file results of one cycle.
type CycleReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Items      []ItemResult
}

// Count returns the number of items with the given outcome.
func (r *CycleReport) Count(outcome Outcome) int {
	n := 0
	for _, item := range r.Items {
		if item.Outcome == outcome {
			n++
		}
	}
	return n
}

// Summary converts the report into its persisted form.
func (r *CycleReport) Summary() *IngestCycle {
	return &IngestCycle{
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Matched:    r.Count(OutcomeMatched),
		Enrolled:   r.Count(OutcomeEnrolled),
		Skipped:    r.Count(OutcomeSkipped),
		Failed:     r.Count(OutcomeFailed),
	}
}

// IngestWorker drains a drop-folder on a fixed interval. Each file is either
// matched (attendance appended) or auto-enrolled, and then archived whatever
// happened. Per-file failures are logged and reported, never returned.
type IngestWorker struct {
	service  *Service
	drop     DropFolder
	interval time.Duration
	logger   Logger
	onCycle  func(*CycleReport)

	// unarchived maps files that were auto-enrolled but could not be
	// archived to the identity they created.
	unarchived map[string]int64
}

// NewIngestWorker creates a worker. A non-positive interval selects
// DefaultIngestInterval.
func NewIngestWorker(service *Service, drop DropFolder, interval time.Duration) *IngestWorker {
	if interval <= 0 {
		interval = DefaultIngestInterval
	}
	return &IngestWorker{
		service:  service,
		drop:     drop,
		interval:   interval,
		logger:     service.logger,
		unarchived: make(map[string]int64),
	}
}

// OnCycle registers fn to receive every finished cycle report.
func (w *IngestWorker) OnCycle(fn func(*CycleReport)) {
	w.onCycle = fn
}

// Run processes cycles until ctx is cancelled. The first cycle starts
// immediately. Cancellation is checked between cycles and between files;
// a file already being processed is finished and archived first.
func (w *IngestWorker) Run(ctx context.Context) error {
	w.logger.Info("ingestion worker started", "interval", w.interval.String())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunCycle(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("ingestion cycle failed", "error", err)
		}

		select {
		case <-ctx.Done():
			w.logger.Info("ingestion worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunCycle processes every currently eligible file once. It only returns an
// error when the drop-folder could not be listed or ctx was cancelled before
// the cycle began.
func (w *IngestWorker) RunCycle(ctx context.Context) (*CycleReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &CycleReport{StartedAt: w.service.clock.Now()}
	files, err := w.drop.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing drop-folder: %w", err)
	}

	// Files that were started run to completion even if ctx is cancelled.
	work := context.WithoutCancel(ctx)
	for _, file := range files {
		if ctx.Err() != nil {
			break
		}
		report.Items = append(report.Items, w.processFile(work, file))
	}
	report.FinishedAt = w.service.clock.Now()

	if len(report.Items) > 0 {
		if _, err := w.service.database.CreateIngestCycle(work, report.Summary()); err != nil {
			w.logger.Warn("recording ingestion cycle", "error", err)
		}
		w.logger.Info("ingestion cycle complete",
			"files", len(report.Items),
			"matched", report.Count(OutcomeMatched),
			"enrolled", report.Count(OutcomeEnrolled),
			"skipped", report.Count(OutcomeSkipped),
			"failed", report.Count(OutcomeFailed))
	}

	if w.onCycle != nil {
		w.onCycle(report)
	}
	return report, nil
}

// processFile handles one file. The deferred block archives the file on
// every exit path, including panics.
func (w *IngestWorker) processFile(ctx context.Context, file DropFile) (result ItemResult) {
	result.Name = file.Name

	defer func() {
		if r := recover(); r != nil {
			result.Outcome = OutcomeFailed
			result.Err = fmt.Errorf("panic while processing: %v", r)
		}

		dest, err := w.drop.Archive(file)
		if err != nil {
			w.logger.Error("archiving file", "file", file.Name, "error", err)
			if result.Outcome == OutcomeEnrolled {
				w.unarchived[file.Name] = result.IdentityID
			}
			if result.Err == nil {
				result.Outcome = OutcomeFailed
				result.Err = fmt.Errorf("archiving: %w", err)
			}
		}
		if err == nil {
			delete(w.unarchived, file.Name)
		}
		result.ArchivePath = dest

		if result.Err != nil {
			w.logger.Warn("ingestion item not applied", "file", file.Name, "outcome", string(result.Outcome), "error", result.Err)
		}
	}()

	data, err := w.drop.Read(file)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Err = fmt.Errorf("reading: %w", err)
		return result
	}

	frame, err := DecodeFrame(data)
	if err != nil {
		result.Outcome = OutcomeSkipped
		result.Err = err
		return result
	}

	embedding, err := firstFace(ctx, w.service.extractor, frame, w.service.dimension)
	if err != nil {
		if errors.Is(err, ErrNoFaceDetected) || errors.Is(err, ErrInvalidEmbedding) {
			result.Outcome = OutcomeSkipped
		} else {
			result.Outcome = OutcomeFailed
		}
		result.Err = err
		return result
	}

	scan, err := w.service.Match(ctx, embedding)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Err = err
		return result
	}

	if id, ok := w.unarchived[file.Name]; ok && scan.Match != nil && scan.Match.IdentityID == id {
		w.logger.Info("file already enrolled its own identity", "file", file.Name, "identity_id", scan.Match.IdentityID)
		result.Outcome = OutcomeSkipped
		result.IdentityID = scan.Match.IdentityID
		return result
	}

	if scan.Match != nil {
		event, err := w.service.database.AppendAttendance(ctx, scan.Match.IdentityID, StatusPresent, w.service.clock.Now())
		if err != nil {
			result.Outcome = OutcomeFailed
			result.Err = fmt.Errorf("recording attendance: %w", err)
			return result
		}
		w.logger.Info("ingested attendance", "file", file.Name, "identity_id", event.IdentityID, "distance", scan.Match.Distance)
		result.Outcome = OutcomeMatched
		result.IdentityID = event.IdentityID
		return result
	}

	identity, err := w.autoEnroll(ctx, file.Name, embedding)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Err = err
		return result
	}
	result.Outcome = OutcomeEnrolled
	result.IdentityID = identity.ID
	return result
}

// autoEnroll creates an identity from a single embedding, named after the
// file. The template is not averaged since only one frame exists.
func (w *IngestWorker) autoEnroll(ctx context.Context, name string, embedding Embedding) (*Identity, error) {
	fields, err := ParseFilename(name)
	if err != nil {
		fields = PlaceholderFields(name, w.service.idgen)
		w.logger.Debug("using placeholder identity fields", "file", name, "handle", fields.ContactHandle)
	}

	sealed, err := w.service.keys.Seal(embedding)
	if err != nil {
		return nil, fmt.Errorf("sealing template: %w", err)
	}

	identity, err := w.service.database.CreateIdentity(ctx, &NewIdentity{
		DisplayName:   fields.DisplayName,
		ContactHandle: fields.ContactHandle,
		Role:          RoleMember,
		Template:      sealed,
		CreatedAt:     w.service.clock.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("auto-enrolling %q: %w", fields.ContactHandle, err)
	}

	w.logger.Info("identity auto-enrolled", "file", name, "identity_id", identity.ID, "handle", identity.ContactHandle, "placeholder", fields.Placeholder)
	return identity, nil
}
