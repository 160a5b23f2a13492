package models

import (
	"encoding/json"
	"time"
)

// JobStatus is the crawl job lifecycle state stored in crawl_jobs.status.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusStopped   JobStatus = "stopped"
	JobStatusCompleted JobStatus = "completed"
	JobStatusError     JobStatus = "error"
)

// CrawlJob mirrors one crawl_jobs row. Mutated by the driver after every lot
// and read back before every lot/page/auction boundary; the status column is
// the cooperative-cancellation signal flipped by an external operator.
type CrawlJob struct {
	ID                  int64
	Status              JobStatus
	CurrentAuctionID    string
	CurrentAuctionIndex int
	CurrentLotNumber    string
	TotalAuctions       int
	ResumeState         *ResumeState
	ErrorMessage        *string
	StartedAt           time.Time
	CompletedAt         *time.Time
}

// ResumeState is the free-form position document saved alongside the status
// row. It is a hint, not the authority: resumption combines this with the
// checkpoint store's already-seen lot numbers, because the row may be stale
// relative to the file.
type ResumeState struct {
	AuctionID    string          `json:"auctionId"`
	LotNumber    string          `json:"lotNumber"`
	AuctionIndex int             `json:"auctionIndex"`
	Page         int             `json:"page,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Extra        json.RawMessage `json:"extra,omitempty"`
}

// JobStats are the advisory counters mirrored into job_statistics.
type JobStats struct {
	TotalAuctions     int
	ProcessedAuctions int
	TotalLots         int
	ProcessedLots     int
	FilesCreated      int
	FilesCompleted    int
}
