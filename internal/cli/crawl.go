package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rsommer/numiscrawl/internal/checkpoint"
	"github.com/rsommer/numiscrawl/internal/embedding"
	"github.com/rsommer/numiscrawl/internal/fetch"
	"github.com/rsommer/numiscrawl/internal/metrics"
	"github.com/rsommer/numiscrawl/internal/models"
	"github.com/rsommer/numiscrawl/internal/service"
)

var (
	crawlEventIDs   []string
	crawlAll        bool
	crawlJobID      int64
	crawlResume     bool
	crawlOutputDir  string
	crawlFinalDir   string
	crawlNoEmbed    bool
	crawlNoProgress bool
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Crawl auction listings into checkpoint files and the database",
	Long: `Crawl auction listings lot by lot. Each lot is appended to a per-auction
JSONL checkpoint before it is written to the database; a completed auction
is consolidated into a final JSON snapshot.

Auctions whose snapshot and database already agree are skipped, so the
command is safe to re-run. Interrupted and paused runs resume from the
saved position with already-seen lots skipped.

Examples:
  numiscrawl crawl --all
  numiscrawl crawl --event-id 7543 --event-id 7544
  numiscrawl crawl --resume --job-id 12
  numiscrawl crawl --all --no-embed --no-progress`,
	RunE: runCrawl,
}

func init() {
	crawlCmd.Flags().StringSliceVarP(&crawlEventIDs, "event-id", "e", nil, "auction event id(s) to crawl")
	crawlCmd.Flags().BoolVarP(&crawlAll, "all", "a", false, "crawl every auction listed on the homepage")
	crawlCmd.Flags().Int64Var(&crawlJobID, "job-id", 0, "attach to an existing job row")
	crawlCmd.Flags().BoolVar(&crawlResume, "resume", false, "resume the job given by --job-id from its saved position")
	crawlCmd.Flags().StringVar(&crawlOutputDir, "output-dir", "", "directory for in-progress JSONL files (default from config)")
	crawlCmd.Flags().StringVar(&crawlFinalDir, "final-dir", "", "directory for final JSON snapshots (default from config)")
	crawlCmd.Flags().BoolVar(&crawlNoEmbed, "no-embed", false, "skip the embedding phase")
	crawlCmd.Flags().BoolVar(&crawlNoProgress, "no-progress", false, "disable the interactive progress display")
}

func runCrawl(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if !crawlAll && len(crawlEventIDs) == 0 {
		return fmt.Errorf("nothing to crawl: pass --all or at least one --event-id")
	}
	if crawlResume && crawlJobID == 0 {
		return fmt.Errorf("--resume requires --job-id")
	}

	cp, err := newCheckpointStore()
	if err != nil {
		return err
	}
	collector := metrics.NewCollector()
	fetcher := fetch.NewNumisBids(cfg.BaseURL, cfg.HTTPTimeout, logger)
	fetcher.SetMetrics(collector)

	eventURLs, err := collectEventURLs(ctx, fetcher)
	if err != nil {
		return err
	}
	if len(eventURLs) == 0 {
		fmt.Println("No auctions found.")
		return nil
	}

	var embedder embedding.Embedder
	if !crawlNoEmbed {
		embedder, err = embedding.New(embedding.Config{
			Provider:     embedding.ProviderType(cfg.EmbedProvider),
			Model:        cfg.EmbedModel,
			Dimension:    cfg.EmbedDim,
			OpenAIAPIKey: cfg.OpenAIAPIKey,
			OllamaHost:   cfg.OllamaHost,
		})
		if err != nil {
			return fmt.Errorf("init embedder: %w", err)
		}
	}

	jobID := crawlJobID
	if jobID == 0 {
		job, err := dbClient.CreateJob(ctx, len(eventURLs))
		if err != nil {
			return fmt.Errorf("create job: %w", err)
		}
		jobID = job.ID
	} else if err := dbClient.UpdateJobStatus(ctx, jobID, models.JobStatusRunning, ""); err != nil {
		return fmt.Errorf("reactivate job %d: %w", jobID, err)
	}
	fmt.Printf("Job %d: crawling %d auction(s)\n", jobID, len(eventURLs))

	control := service.NewJobControl(dbClient, jobID, logger)
	resolver := service.NewResolver(dbClient, cp, logger)
	ingest := service.NewIngestService(dbClient, embedder, logger)
	ingest.SetMetrics(collector)
	crawler := service.NewCrawler(fetcher, cp, resolver, ingest, control, logger)

	var outcome service.CrawlOutcome
	if crawlNoProgress {
		outcome, err = crawler.Run(ctx, eventURLs)
	} else {
		results := make(chan crawlResult, 1)
		go func() {
			o, runErr := crawler.Run(ctx, eventURLs)
			results <- crawlResult{outcome: o, err: runErr}
		}()
		outcome, err = runCrawlProgress(dbClient, jobID, results)
	}
	if err != nil {
		// The job row was set running above; a run that dies here must
		// not leave it there forever.
		control.SetStatus(ctx, models.JobStatusError, err.Error())
		return fmt.Errorf("crawl run: %w", err)
	}

	printOutcome(jobID, outcome)
	printTimings(collector.Snapshot())
	return nil
}

func printTimings(snap metrics.Snapshot) {
	rows := []struct {
		name string
		op   *metrics.OperationSnapshot
	}{
		{"Page fetch", snap.PageFetch},
		{"Lot fetch", snap.LotFetch},
		{"Embedding", snap.Embedding},
		{"DB ingest", snap.DBIngest},
	}

	printed := false
	for _, row := range rows {
		if row.op == nil {
			continue
		}
		if !printed {
			fmt.Println("Timings:")
			printed = true
		}
		fmt.Printf("  %-12s %5d calls  avg %6.0fms  min %5dms  max %5dms",
			row.name, row.op.Count, row.op.AvgTimeMs, row.op.MinTimeMs, row.op.MaxTimeMs)
		if row.op.Errors > 0 {
			fmt.Printf("  (%d errors)", row.op.Errors)
		}
		fmt.Println()
	}
}

// newCheckpointStore builds the checkpoint store from flags with config
// fallbacks.
func newCheckpointStore() (*checkpoint.Store, error) {
	inProgressDir := crawlOutputDir
	if inProgressDir == "" {
		inProgressDir = cfg.InProgressDir
	}
	finalDir := crawlFinalDir
	if finalDir == "" {
		finalDir = cfg.FinalDir
	}
	cp, err := checkpoint.New(inProgressDir, finalDir, logger)
	if err != nil {
		return nil, fmt.Errorf("init checkpoint store: %w", err)
	}
	return cp, nil
}

func collectEventURLs(ctx context.Context, fetcher fetch.Fetcher) ([]string, error) {
	if crawlAll {
		urls, err := fetcher.DiscoverAuctions(ctx)
		if err != nil {
			return nil, fmt.Errorf("discover auctions: %w", err)
		}
		return urls, nil
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	urls := make([]string, 0, len(crawlEventIDs))
	for _, id := range crawlEventIDs {
		urls = append(urls, base+"/event/"+strings.TrimSpace(id))
	}
	return urls, nil
}

func printOutcome(jobID int64, outcome service.CrawlOutcome) {
	switch outcome.Kind {
	case service.OutcomePaused:
		fmt.Printf("Paused. Resume with: numiscrawl crawl --resume --job-id %d\n", jobID)
	case service.OutcomeStopped:
		fmt.Println("Stopped.")
	default:
		fmt.Println("Completed.")
	}
	fmt.Printf("  Auctions processed: %d\n", outcome.ProcessedAuctions)
	fmt.Printf("  Auctions skipped:   %d\n", outcome.SkippedAuctions)
	fmt.Printf("  Lots processed:     %d\n", outcome.ProcessedLots)
	if len(outcome.FailedAuctions) > 0 {
		fmt.Printf("  Failed auctions (%d):\n", len(outcome.FailedAuctions))
		for _, id := range outcome.FailedAuctions {
			fmt.Printf("    - %s\n", id)
		}
	}
}
