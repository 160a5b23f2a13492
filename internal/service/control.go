// Package service provides the crawl pipeline's business logic.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/rsommer/numiscrawl/internal/models"
)

// ControlStore is the subset of the database client the job control channel
// needs.
type ControlStore interface {
	GetJob(ctx context.Context, jobID int64) (models.CrawlJob, error)
	UpdateJobStatus(ctx context.Context, jobID int64, status models.JobStatus, errorMessage string) error
	SaveResumeState(ctx context.Context, jobID int64, state models.ResumeState) error
	ClearResumeState(ctx context.Context, jobID int64) error
	UpdateCurrentPosition(ctx context.Context, jobID int64, auctionID, lotNumber string, auctionIndex int) error
	UpdateJobStatistics(ctx context.Context, jobID int64, stats models.JobStats) error
	InsertLog(ctx context.Context, jobID int64, level, message, source string, metadata map[string]any) error
}

// Signal is the operator's answer at a polling boundary.
type Signal struct {
	Paused  bool
	Stopped bool
}

// JobControl reads and writes the shared job row that carries pause/stop
// requests between an operator and a running crawl. A zero job id means the
// crawl runs detached: every check reports "keep going" and every write is
// a no-op.
//
// Writes here are advisory. A failed status update must not kill a crawl
// that is otherwise making progress, so errors are logged and swallowed;
// only Check's fail-open behavior is semantically important.
type JobControl struct {
	store  ControlStore
	jobID  int64
	logger *slog.Logger
}

// NewJobControl binds a control channel to a job row.
func NewJobControl(store ControlStore, jobID int64, logger *slog.Logger) *JobControl {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobControl{store: store, jobID: jobID, logger: logger}
}

// JobID returns the bound job id, 0 when detached.
func (c *JobControl) JobID() int64 {
	return c.jobID
}

// Check polls the job row for a pause or stop request. Read errors fail
// open: a crawl should not abort because the control channel blinked.
func (c *JobControl) Check(ctx context.Context) Signal {
	if c.jobID == 0 {
		return Signal{}
	}
	job, err := c.store.GetJob(ctx, c.jobID)
	if err != nil {
		c.logger.Warn("job status check failed, continuing", "job_id", c.jobID, "error", err)
		return Signal{}
	}
	return Signal{
		Paused:  job.Status == models.JobStatusPaused,
		Stopped: job.Status == models.JobStatusStopped,
	}
}

// SaveResumeState records the current crawl position for a later resume.
func (c *JobControl) SaveResumeState(ctx context.Context, auctionID, lotNumber string, auctionIndex, page int) {
	if c.jobID == 0 {
		return
	}
	state := models.ResumeState{
		AuctionID:    auctionID,
		LotNumber:    lotNumber,
		AuctionIndex: auctionIndex,
		Page:         page,
		Timestamp:    time.Now().UTC(),
	}
	if err := c.store.SaveResumeState(ctx, c.jobID, state); err != nil {
		c.logger.Warn("failed to save resume state", "job_id", c.jobID, "error", err)
	}
}

// ResumeState loads the saved position, nil when none exists.
func (c *JobControl) ResumeState(ctx context.Context) *models.ResumeState {
	if c.jobID == 0 {
		return nil
	}
	job, err := c.store.GetJob(ctx, c.jobID)
	if err != nil {
		c.logger.Warn("failed to load resume state", "job_id", c.jobID, "error", err)
		return nil
	}
	return job.ResumeState
}

// SetStatus flips the job status.
func (c *JobControl) SetStatus(ctx context.Context, status models.JobStatus, errorMessage string) {
	if c.jobID == 0 {
		return
	}
	if err := c.store.UpdateJobStatus(ctx, c.jobID, status, errorMessage); err != nil {
		c.logger.Warn("failed to update job status", "job_id", c.jobID, "status", status, "error", err)
	}
}

// ClearResumeState drops the saved position after a clean finish.
func (c *JobControl) ClearResumeState(ctx context.Context) {
	if c.jobID == 0 {
		return
	}
	if err := c.store.ClearResumeState(ctx, c.jobID); err != nil {
		c.logger.Warn("failed to clear resume state", "job_id", c.jobID, "error", err)
	}
}

// RecordPosition mirrors the live position onto the job row.
func (c *JobControl) RecordPosition(ctx context.Context, auctionID, lotNumber string, auctionIndex int) {
	if c.jobID == 0 {
		return
	}
	if err := c.store.UpdateCurrentPosition(ctx, c.jobID, auctionID, lotNumber, auctionIndex); err != nil {
		c.logger.Warn("failed to record position", "job_id", c.jobID, "error", err)
	}
}

// RecordStats mirrors the advisory counters.
func (c *JobControl) RecordStats(ctx context.Context, stats models.JobStats) {
	if c.jobID == 0 {
		return
	}
	if err := c.store.UpdateJobStatistics(ctx, c.jobID, stats); err != nil {
		c.logger.Warn("failed to record job statistics", "job_id", c.jobID, "error", err)
	}
}

// Log mirrors a log line into the database for operators watching the job
// table.
func (c *JobControl) Log(ctx context.Context, level, message, source string, metadata map[string]any) {
	if c.jobID == 0 {
		return
	}
	if err := c.store.InsertLog(ctx, c.jobID, level, message, source, metadata); err != nil {
		c.logger.Warn("failed to mirror log line", "job_id", c.jobID, "error", err)
	}
}
