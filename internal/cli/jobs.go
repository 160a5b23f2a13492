package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rsommer/numiscrawl/internal/models"
)

var (
	jobsPause     bool
	jobsResume    bool
	jobsStop      bool
	jobsPruneLogs time.Duration
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List and control crawl jobs",
	Long: `List all crawl jobs or inspect a specific job by ID.

With --pause, --resume, or --stop the job's status row is flipped; a
crawler attached to that job reacts at its next auction, page, or lot
boundary. Pausing saves a resume position, stopping ends the run.

Examples:
  numiscrawl jobs              # List recent jobs
  numiscrawl jobs 12           # Show details for job 12
  numiscrawl jobs 12 --pause   # Ask the running crawl to pause
  numiscrawl jobs 12 --stop    # Ask the running crawl to stop
  numiscrawl jobs --prune-logs 720h`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

func init() {
	jobsCmd.Flags().BoolVar(&jobsPause, "pause", false, "request a pause at the next safe boundary")
	jobsCmd.Flags().BoolVar(&jobsResume, "resume", false, "mark a paused job runnable again")
	jobsCmd.Flags().BoolVar(&jobsStop, "stop", false, "request a stop at the next safe boundary")
	jobsCmd.Flags().DurationVar(&jobsPruneLogs, "prune-logs", 0, "delete crawl log rows older than this duration")
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if jobsPruneLogs > 0 {
		pruned, err := dbClient.PruneOldLogs(ctx, jobsPruneLogs)
		if err != nil {
			return fmt.Errorf("prune logs: %w", err)
		}
		fmt.Printf("Pruned %d log rows older than %s\n", pruned, jobsPruneLogs)
		if len(args) == 0 {
			return nil
		}
	}

	if len(args) == 1 {
		var jobID int64
		if _, err := fmt.Sscanf(args[0], "%d", &jobID); err != nil {
			return fmt.Errorf("invalid job id: %s", args[0])
		}
		if status, ok := requestedStatus(); ok {
			return flipJob(ctx, jobID, status)
		}
		return showJob(ctx, jobID)
	}

	if jobsPause || jobsResume || jobsStop {
		return fmt.Errorf("--pause, --resume and --stop need a job id")
	}
	return listJobs(ctx)
}

func requestedStatus() (models.JobStatus, bool) {
	switch {
	case jobsPause:
		return models.JobStatusPaused, true
	case jobsResume:
		return models.JobStatusRunning, true
	case jobsStop:
		return models.JobStatusStopped, true
	}
	return "", false
}

func flipJob(ctx context.Context, jobID int64, status models.JobStatus) error {
	job, err := dbClient.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("get job %d: %w", jobID, err)
	}
	if err := dbClient.UpdateJobStatus(ctx, jobID, status, ""); err != nil {
		return fmt.Errorf("update job %d: %w", jobID, err)
	}
	fmt.Printf("Job %d: %s -> %s\n", jobID, job.Status, status)
	return nil
}

func listJobs(ctx context.Context) error {
	jobs, err := dbClient.ListJobs(ctx, 20)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-6s %-10s %-18s %-10s %s\n", "ID", "STATUS", "POSITION", "AUCTIONS", "STARTED")
	fmt.Println("------------------------------------------------------------------")

	for _, job := range jobs {
		position := job.CurrentAuctionID
		if job.CurrentLotNumber != "" {
			position += "/" + job.CurrentLotNumber
		}
		auctions := ""
		if job.TotalAuctions > 0 {
			auctions = fmt.Sprintf("%d/%d", job.CurrentAuctionIndex, job.TotalAuctions)
		}
		started := job.StartedAt.Format("Jan 02 15:04")
		fmt.Printf("%-6d %-10s %-18s %-10s %s\n", job.ID, job.Status, position, auctions, started)
	}

	return nil
}

func showJob(ctx context.Context, jobID int64) error {
	job, err := dbClient.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("get job %d: %w", jobID, err)
	}

	fmt.Printf("Job: %d\n", job.ID)
	fmt.Printf("  Status: %s\n", job.Status)
	if job.CurrentAuctionID != "" {
		fmt.Printf("  Position: auction %s", job.CurrentAuctionID)
		if job.CurrentLotNumber != "" {
			fmt.Printf(" lot %s", job.CurrentLotNumber)
		}
		fmt.Println()
	}
	fmt.Printf("  Started: %s\n", job.StartedAt.Format(time.RFC3339))
	if job.CompletedAt != nil {
		fmt.Printf("  Completed: %s\n", job.CompletedAt.Format(time.RFC3339))
		fmt.Printf("  Duration: %s\n", job.CompletedAt.Sub(job.StartedAt).Round(time.Second))
	}
	if job.ErrorMessage != nil && *job.ErrorMessage != "" {
		fmt.Printf("  Error: %s\n", *job.ErrorMessage)
	}
	if job.ResumeState != nil {
		fmt.Printf("  Resume position: auction %s", job.ResumeState.AuctionID)
		if job.ResumeState.LotNumber != "" {
			fmt.Printf(" lot %s", job.ResumeState.LotNumber)
		}
		if job.ResumeState.Page > 0 {
			fmt.Printf(" page %d", job.ResumeState.Page)
		}
		fmt.Println()
	}

	stats, err := dbClient.GetJobStatistics(ctx, jobID)
	if err != nil {
		return fmt.Errorf("get job statistics: %w", err)
	}
	fmt.Println("\nStatistics:")
	fmt.Printf("  Auctions processed: %d/%d\n", stats.ProcessedAuctions, stats.TotalAuctions)
	fmt.Printf("  Lots processed:     %d\n", stats.ProcessedLots)
	fmt.Printf("  Files created:      %d\n", stats.FilesCreated)
	fmt.Printf("  Files completed:    %d\n", stats.FilesCompleted)

	return nil
}
