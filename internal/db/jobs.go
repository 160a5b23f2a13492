package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rsommer/numiscrawl/internal/models"
)

// CreateJob inserts a new crawl job row in 'running' state and returns it.
func (c *Client) CreateJob(ctx context.Context, totalAuctions int) (models.CrawlJob, error) {
	var job models.CrawlJob
	job.Status = models.JobStatusRunning
	job.TotalAuctions = totalAuctions
	err := c.pool.QueryRow(ctx, `
		INSERT INTO crawl_jobs (status, total_auctions)
		VALUES ($1, $2)
		RETURNING job_pk, started_at
	`, string(job.Status), totalAuctions).Scan(&job.ID, &job.StartedAt)
	if err != nil {
		return models.CrawlJob{}, fmt.Errorf("create job: %w", wrapQueryError(err))
	}
	return job, nil
}

// GetJob loads one crawl job row. Returns ErrNotFound for unknown ids.
func (c *Client) GetJob(ctx context.Context, jobID int64) (models.CrawlJob, error) {
	var (
		job         models.CrawlJob
		status      string
		resumeState []byte
		auctionID   *string
		lotNumber   *string
		index       *int
		total       *int
	)
	err := c.pool.QueryRow(ctx, `
		SELECT job_pk, status, resume_state, current_auction_id, current_lot_number,
		       current_auction_index, total_auctions, error_message, started_at, completed_at
		FROM crawl_jobs WHERE job_pk = $1
	`, jobID).Scan(&job.ID, &status, &resumeState, &auctionID, &lotNumber,
		&index, &total, &job.ErrorMessage, &job.StartedAt, &job.CompletedAt)
	if err != nil {
		return models.CrawlJob{}, fmt.Errorf("get job %d: %w", jobID, wrapQueryError(err))
	}

	job.Status = models.JobStatus(status)
	if auctionID != nil {
		job.CurrentAuctionID = *auctionID
	}
	if lotNumber != nil {
		job.CurrentLotNumber = *lotNumber
	}
	if index != nil {
		job.CurrentAuctionIndex = *index
	}
	if total != nil {
		job.TotalAuctions = *total
	}
	if len(resumeState) > 0 {
		var rs models.ResumeState
		if err := json.Unmarshal(resumeState, &rs); err == nil {
			job.ResumeState = &rs
		}
	}
	return job, nil
}

// ListJobs returns the most recent jobs, newest first.
func (c *Client) ListJobs(ctx context.Context, limit int) ([]models.CrawlJob, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := c.pool.Query(ctx, `
		SELECT job_pk FROM crawl_jobs ORDER BY started_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", wrapQueryError(err))
	}
	ids := make([]int64, 0, limit)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	jobs := make([]models.CrawlJob, 0, len(ids))
	for _, id := range ids {
		job, err := c.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// UpdateJobStatus flips the job status. Terminal states also stamp
// completed_at; an error status records the message.
func (c *Client) UpdateJobStatus(ctx context.Context, jobID int64, status models.JobStatus, errorMessage string) error {
	var errMsg *string
	if errorMessage != "" {
		errMsg = &errorMessage
	}
	completes := status == models.JobStatusCompleted || status == models.JobStatusStopped || status == models.JobStatusError
	_, err := c.pool.Exec(ctx, `
		UPDATE crawl_jobs SET
			status        = $2,
			error_message = COALESCE($3, error_message),
			completed_at  = CASE WHEN $4 THEN now() ELSE completed_at END
		WHERE job_pk = $1
	`, jobID, string(status), errMsg, completes)
	if err != nil {
		return fmt.Errorf("update job status: %w", wrapQueryError(err))
	}
	return nil
}

// SaveResumeState persists the resume position document on the job row.
func (c *Client) SaveResumeState(ctx context.Context, jobID int64, state models.ResumeState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal resume state: %w", err)
	}
	_, err = c.pool.Exec(ctx, `UPDATE crawl_jobs SET resume_state = $2 WHERE job_pk = $1`, jobID, data)
	if err != nil {
		return fmt.Errorf("save resume state: %w", wrapQueryError(err))
	}
	return nil
}

// ClearResumeState removes the resume document once a job finishes cleanly.
func (c *Client) ClearResumeState(ctx context.Context, jobID int64) error {
	_, err := c.pool.Exec(ctx, `UPDATE crawl_jobs SET resume_state = NULL WHERE job_pk = $1`, jobID)
	if err != nil {
		return fmt.Errorf("clear resume state: %w", wrapQueryError(err))
	}
	return nil
}

// UpdateCurrentPosition records where the crawl currently is. Written after
// every lot so an operator inspecting the row sees live progress.
func (c *Client) UpdateCurrentPosition(ctx context.Context, jobID int64, auctionID, lotNumber string, auctionIndex int) error {
	_, err := c.pool.Exec(ctx, `
		UPDATE crawl_jobs SET
			current_auction_id    = $2,
			current_lot_number    = $3,
			current_auction_index = $4
		WHERE job_pk = $1
	`, jobID, auctionID, lotNumber, auctionIndex)
	if err != nil {
		return fmt.Errorf("update position: %w", wrapQueryError(err))
	}
	return nil
}

// UpdateJobStatistics upserts the advisory counters for a job.
func (c *Client) UpdateJobStatistics(ctx context.Context, jobID int64, stats models.JobStats) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO job_statistics (job_fk, total_auctions, processed_auctions, total_lots, processed_lots, files_created, files_completed, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (job_fk) DO UPDATE SET
			total_auctions     = EXCLUDED.total_auctions,
			processed_auctions = EXCLUDED.processed_auctions,
			total_lots         = EXCLUDED.total_lots,
			processed_lots     = EXCLUDED.processed_lots,
			files_created      = EXCLUDED.files_created,
			files_completed    = EXCLUDED.files_completed,
			updated_at         = now()
	`, jobID, stats.TotalAuctions, stats.ProcessedAuctions, stats.TotalLots,
		stats.ProcessedLots, stats.FilesCreated, stats.FilesCompleted)
	if err != nil {
		return fmt.Errorf("update job statistics: %w", wrapQueryError(err))
	}
	return nil
}

// GetJobStatistics loads the advisory counters for a job.
// A job with no statistics row yet returns zero counters.
func (c *Client) GetJobStatistics(ctx context.Context, jobID int64) (models.JobStats, error) {
	var stats models.JobStats
	err := c.pool.QueryRow(ctx, `
		SELECT total_auctions, processed_auctions, total_lots, processed_lots, files_created, files_completed
		FROM job_statistics WHERE job_fk = $1
	`, jobID).Scan(&stats.TotalAuctions, &stats.ProcessedAuctions, &stats.TotalLots,
		&stats.ProcessedLots, &stats.FilesCreated, &stats.FilesCompleted)
	if err != nil {
		err = wrapQueryError(err)
		if errors.Is(err, ErrNotFound) {
			return models.JobStats{}, nil
		}
		return models.JobStats{}, fmt.Errorf("get job statistics: %w", err)
	}
	return stats, nil
}

// InsertLog mirrors a log line into crawl_logs for operators who only have
// database access.
func (c *Client) InsertLog(ctx context.Context, jobID int64, level, message, source string, metadata map[string]any) error {
	var meta []byte
	if metadata != nil {
		var err error
		meta, err = json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshal log metadata: %w", err)
		}
	}
	_, err := c.pool.Exec(ctx, `
		INSERT INTO crawl_logs (job_fk, log_level, message, source, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`, jobID, level, message, source, meta)
	if err != nil {
		return fmt.Errorf("insert log: %w", wrapQueryError(err))
	}
	return nil
}
