package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsommer/numiscrawl/internal/models"
)

func TestCheckDetachedAlwaysRuns(t *testing.T) {
	control := NewJobControl(newFakeStore(), 0, nil)

	sig := control.Check(context.Background())
	assert.False(t, sig.Paused)
	assert.False(t, sig.Stopped)
}

func TestCheckReflectsJobStatus(t *testing.T) {
	store := newFakeStore()
	jobID := store.addJob(models.JobStatusRunning)
	control := NewJobControl(store, jobID, nil)
	ctx := context.Background()

	sig := control.Check(ctx)
	assert.False(t, sig.Paused)
	assert.False(t, sig.Stopped)

	store.setJobStatus(jobID, models.JobStatusPaused)
	sig = control.Check(ctx)
	assert.True(t, sig.Paused)
	assert.False(t, sig.Stopped)

	store.setJobStatus(jobID, models.JobStatusStopped)
	sig = control.Check(ctx)
	assert.False(t, sig.Paused)
	assert.True(t, sig.Stopped)
}

func TestCheckFailsOpen(t *testing.T) {
	store := newFakeStore()
	jobID := store.addJob(models.JobStatusPaused)
	store.getJobErr = errors.New("connection refused")
	control := NewJobControl(store, jobID, nil)

	// A broken control channel must not look like a pause request.
	sig := control.Check(context.Background())
	assert.False(t, sig.Paused)
	assert.False(t, sig.Stopped)
}

func TestSetStatusErrorRecordsMessage(t *testing.T) {
	store := newFakeStore()
	jobID := store.addJob(models.JobStatusRunning)
	control := NewJobControl(store, jobID, nil)

	control.SetStatus(context.Background(), models.JobStatusError, "crawl run: ui crashed")

	job, err := store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusError, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, "crawl run: ui crashed", *job.ErrorMessage)
}

func TestSaveAndLoadResumeState(t *testing.T) {
	store := newFakeStore()
	jobID := store.addJob(models.JobStatusRunning)
	control := NewJobControl(store, jobID, nil)
	ctx := context.Background()

	control.SaveResumeState(ctx, "9001", "42", 3, 2)

	state := control.ResumeState(ctx)
	require.NotNil(t, state)
	assert.Equal(t, "9001", state.AuctionID)
	assert.Equal(t, "42", state.LotNumber)
	assert.Equal(t, 3, state.AuctionIndex)
	assert.Equal(t, 2, state.Page)
	assert.False(t, state.Timestamp.IsZero())

	control.ClearResumeState(ctx)
	assert.Nil(t, control.ResumeState(ctx))
}

func TestDetachedWritesAreNoOps(t *testing.T) {
	store := newFakeStore()
	control := NewJobControl(store, 0, nil)
	ctx := context.Background()

	control.SaveResumeState(ctx, "9001", "1", 0, 1)
	control.SetStatus(ctx, models.JobStatusStopped, "")
	control.RecordPosition(ctx, "9001", "1", 0)
	control.RecordStats(ctx, models.JobStats{ProcessedLots: 10})
	control.Log(ctx, "info", "hello", "test", nil)

	assert.Empty(t, store.jobs)
	assert.Empty(t, store.stats)
	assert.Empty(t, store.logs)
}
