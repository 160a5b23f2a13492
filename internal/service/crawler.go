package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rsommer/numiscrawl/internal/checkpoint"
	"github.com/rsommer/numiscrawl/internal/fetch"
	"github.com/rsommer/numiscrawl/internal/models"
)

// OutcomeKind classifies how a crawl run ended. Pause and stop are normal
// endings requested by an operator, not failures; the CLI maps all three to
// exit code 0.
type OutcomeKind string

const (
	OutcomeCompleted OutcomeKind = "completed"
	OutcomePaused    OutcomeKind = "paused"
	OutcomeStopped   OutcomeKind = "stopped"
)

// CrawlOutcome is the typed result of a crawl run.
type CrawlOutcome struct {
	Kind              OutcomeKind
	ProcessedAuctions int
	SkippedAuctions   int
	ProcessedLots     int
	FailedAuctions    []string
}

// Crawler drives the per-auction state machine: resolve existing state,
// scrape what is missing, commit the snapshot, verify against the database.
// Auctions are processed strictly sequentially; the listing site tolerates
// one polite client, not a burst.
type Crawler struct {
	fetcher    fetch.Fetcher
	checkpoint *checkpoint.Store
	resolver   *Resolver
	ingest     *IngestService
	control    *JobControl
	logger     *slog.Logger
}

// NewCrawler wires the driver.
func NewCrawler(fetcher fetch.Fetcher, cp *checkpoint.Store, resolver *Resolver, ingest *IngestService, control *JobControl, logger *slog.Logger) *Crawler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Crawler{
		fetcher:    fetcher,
		checkpoint: cp,
		resolver:   resolver,
		ingest:     ingest,
		control:    control,
		logger:     logger,
	}
}

// Run crawls the given event links in order. It returns a typed outcome;
// the only error cases are ones that make the whole run impossible. A
// single auction failing is recorded and the run moves on.
func (c *Crawler) Run(ctx context.Context, eventURLs []string) (CrawlOutcome, error) {
	outcome := CrawlOutcome{Kind: OutcomeCompleted}
	stats := models.JobStats{TotalAuctions: len(eventURLs)}

	startIndex := 0
	if state := c.control.ResumeState(ctx); state != nil && state.AuctionIndex > 0 && state.AuctionIndex < len(eventURLs) {
		startIndex = state.AuctionIndex
		c.logger.Info("resuming from saved position", "auction_index", startIndex, "auction_id", state.AuctionID)
	}

	for i := startIndex; i < len(eventURLs); i++ {
		// Auction boundary: the cheapest place to honor pause/stop.
		if sig := c.control.Check(ctx); sig.Stopped {
			c.finishStopped(ctx, &outcome, stats)
			return outcome, nil
		} else if sig.Paused {
			c.finishPaused(ctx, &outcome, stats, "", "", i, 0)
			return outcome, nil
		}

		event, err := c.fetcher.ResolveEvent(ctx, eventURLs[i])
		if err != nil {
			c.recordAuctionFailure(ctx, &outcome, eventURLs[i], err)
			continue
		}

		done, err := c.crawlAuction(ctx, event, i, &outcome, &stats)
		if err != nil {
			c.recordAuctionFailure(ctx, &outcome, event.ID, err)
			continue
		}
		if !done {
			// Pause or stop surfaced from inside the auction.
			return outcome, nil
		}

		stats.ProcessedAuctions++
		c.control.RecordStats(ctx, stats)
	}

	c.control.ClearResumeState(ctx)
	c.control.SetStatus(ctx, models.JobStatusCompleted, "")
	c.control.RecordStats(ctx, stats)
	return outcome, nil
}

// crawlAuction runs the state machine for one auction. Returns done=false
// when a pause or stop ended the run inside this auction; in that case the
// outcome has already been finalized.
func (c *Crawler) crawlAuction(ctx context.Context, event models.AuctionEvent, index int, outcome *CrawlOutcome, stats *models.JobStats) (done bool, err error) {
	resolution := c.resolver.Resolve(ctx, event.ID)

	if resolution.Complete {
		if resolution.IngestStatus == FileStatusEmbeddingError {
			// Relational data is whole; only embeddings are missing.
			c.logger.Info("re-running embedding phase", "auction_id", event.ID)
			if err := c.reingestSnapshot(ctx, event.ID); err != nil {
				return false, err
			}
		} else {
			c.logger.Info("auction already complete, skipping",
				"auction_id", event.ID, "lots", resolution.DBLotCount)
		}
		outcome.SkippedAuctions++
		return true, nil
	}

	c.logger.Info("crawling auction", "auction_id", event.ID, "reason", resolution.Reason,
		"known_lots", len(resolution.KnownLotNumbers))
	c.control.Log(ctx, "info", fmt.Sprintf("crawling auction %s (%s)", event.ID, resolution.Reason), "crawler", nil)

	// Lots persisted by an interrupted run are carried into this run's
	// commit so the snapshot never shrinks.
	collected, err := c.checkpoint.LoadInProgress(event.ID)
	if err != nil {
		return false, fmt.Errorf("load in-progress lots: %w", err)
	}

	info, lots, err := c.fetcher.SalePage(ctx, event.ID, 1)
	if err != nil {
		return false, fmt.Errorf("fetch first page: %w", err)
	}
	stats.TotalLots += len(lots)
	if info.AuctionName != "" {
		event.Name = info.AuctionName
	}
	event.Title = info.AuctionTitle
	event.EventDate = info.EventDate
	event.TotalPages = info.TotalPages

	startPage := 1
	if state := c.control.ResumeState(ctx); state != nil && state.AuctionID == event.ID && state.Page > 1 {
		startPage = state.Page
	}

	embedFailures := 0
	scrapeFailures := 0

	for page := startPage; page <= event.TotalPages; page++ {
		// Page boundary check.
		if sig := c.control.Check(ctx); sig.Stopped {
			c.finishStopped(ctx, outcome, *stats)
			return false, nil
		} else if sig.Paused {
			c.finishPaused(ctx, outcome, *stats, event.ID, "", index, page)
			return false, nil
		}

		if page > 1 {
			_, lots, err = c.fetcher.SalePage(ctx, event.ID, page)
			if err != nil {
				return false, fmt.Errorf("fetch page %d: %w", page, err)
			}
			stats.TotalLots += len(lots)
		}

		for _, summary := range lots {
			// Lot boundary check.
			if sig := c.control.Check(ctx); sig.Stopped {
				c.finishStopped(ctx, outcome, *stats)
				return false, nil
			} else if sig.Paused {
				c.finishPaused(ctx, outcome, *stats, event.ID, summary.LotNumber, index, page)
				return false, nil
			}

			if resolution.KnownLotNumbers[summary.LotNumber] {
				continue
			}

			lot, err := c.scrapeLot(ctx, event, summary)
			if err != nil {
				scrapeFailures++
				c.logger.Warn("failed to scrape lot, continuing",
					"auction_id", event.ID, "lot", summary.LotNumber, "error", err)
				continue
			}

			// The detail fetch is the longest suspension point, so a
			// pause or stop requested during it is honored before the
			// lot is written anywhere; resume fetches the lot again.
			if sig := c.control.Check(ctx); sig.Stopped {
				c.finishStopped(ctx, outcome, *stats)
				return false, nil
			} else if sig.Paused {
				c.finishPaused(ctx, outcome, *stats, event.ID, summary.LotNumber, index, page)
				return false, nil
			}

			// Durability order: file first, then database. A crash
			// between the two re-inserts from the file, which the
			// upserts absorb.
			if err := c.checkpoint.Append(event.ID, lot); err != nil {
				return false, fmt.Errorf("checkpoint lot %s: %w", lot.LotNumber, err)
			}
			if _, embedded, err := c.ingest.ProcessLot(ctx, event, lot); err != nil {
				c.logger.Warn("failed to ingest lot, kept in checkpoint",
					"auction_id", event.ID, "lot", lot.LotNumber, "error", err)
			} else if c.ingest.EmbeddingEnabled() && !embedded {
				embedFailures++
			}

			collected = append(collected, lot)
			resolution.KnownLotNumbers[lot.LotNumber] = true
			stats.ProcessedLots++
			outcome.ProcessedLots++
			c.control.RecordPosition(ctx, event.ID, lot.LotNumber, index)
		}
	}

	// A lot that failed to scrape is only recoverable while the auction
	// stays unfinalized: committing a snapshot without it would count as
	// complete and the lot would never be fetched again. Keep the JSONL
	// file and retry the auction on the next run, where the already
	// persisted lots are known and skipped.
	if scrapeFailures > 0 {
		return false, fmt.Errorf("%d lot(s) failed to scrape, keeping auction unfinalized", scrapeFailures)
	}

	// Finalizing: consolidate the snapshot and drop the JSONL file.
	snap, err := c.checkpoint.CommitFinal(event, collected)
	if err != nil {
		return false, fmt.Errorf("commit final snapshot: %w", err)
	}
	stats.FilesCreated++

	// Verifying: the resolver re-checks file against database; any gap is
	// closed from the snapshot, which is the more complete record. Inline
	// embedding failures also route through the batch ingest so the
	// uploaded_files status records them for the next run.
	verification := c.resolver.Resolve(ctx, event.ID)
	if !verification.Complete || embedFailures > 0 {
		c.logger.Info("re-ingesting snapshot",
			"auction_id", event.ID, "file_lots", verification.FileLotCount,
			"db_lots", verification.DBLotCount, "embed_failures", embedFailures)
		result, err := c.ingest.ProcessSnapshot(ctx, snap, c.checkpoint.FinalPath(event.ID))
		if err != nil {
			return false, fmt.Errorf("verify ingest: %w", err)
		}
		if result.Status == FileStatusCompleted {
			stats.FilesCompleted++
		}
	} else {
		stats.FilesCompleted++
	}

	outcome.ProcessedAuctions++
	c.control.Log(ctx, "info", fmt.Sprintf("auction %s complete with %d lots", event.ID, len(snap.Lots)), "crawler", map[string]any{
		"auction_id": event.ID,
		"lots":       len(snap.Lots),
	})
	return true, nil
}

// reingestSnapshot re-runs the batch ingest for a committed snapshot.
func (c *Crawler) reingestSnapshot(ctx context.Context, auctionID string) error {
	snap, err := c.checkpoint.LoadFinal(auctionID)
	if err != nil {
		return err
	}
	_, err = c.ingest.ProcessSnapshot(ctx, snap, c.checkpoint.FinalPath(auctionID))
	return err
}

// scrapeLot combines the catalog summary with the lot's detail page.
func (c *Crawler) scrapeLot(ctx context.Context, event models.AuctionEvent, summary fetch.LotSummary) (models.Lot, error) {
	detail, err := c.fetcher.LotDetail(ctx, summary.URL)
	if err != nil {
		return models.Lot{}, fmt.Errorf("fetch lot detail: %w", err)
	}

	imageURL := detail.ImageURL
	if imageURL == "" {
		imageURL = summary.ThumbImage
	}

	// The short description is the lead sentence of the catalog title.
	shortDescription := summary.Name
	if i := strings.IndexByte(shortDescription, '.'); i >= 0 {
		shortDescription = shortDescription[:i]
	}

	return models.Lot{
		AuctionID:        event.ID,
		LotURL:           summary.URL,
		AuctionName:      event.Name,
		AuctionTitle:     event.Title,
		EventDate:        event.EventDate,
		Category:         detail.Category,
		StartingPrice:    summary.StartingPrice,
		RealizedPrice:    summary.RealizedPrice,
		ImageURL:         imageURL,
		FullDescription:  detail.FullDescription,
		LotNumber:        summary.LotNumber,
		ShortDescription: shortDescription,
		Name:             summary.Name,
	}, nil
}

func (c *Crawler) recordAuctionFailure(ctx context.Context, outcome *CrawlOutcome, auctionID string, err error) {
	outcome.FailedAuctions = append(outcome.FailedAuctions, auctionID)
	c.logger.Error("auction failed", "auction_id", auctionID, "error", err)
	c.control.Log(ctx, "error", fmt.Sprintf("auction %s failed: %v", auctionID, err), "crawler", nil)
}

func (c *Crawler) finishStopped(ctx context.Context, outcome *CrawlOutcome, stats models.JobStats) {
	outcome.Kind = OutcomeStopped
	c.logger.Info("stop requested, ending run")
	c.control.SetStatus(ctx, models.JobStatusStopped, "")
	c.control.RecordStats(ctx, stats)
}

func (c *Crawler) finishPaused(ctx context.Context, outcome *CrawlOutcome, stats models.JobStats, auctionID, lotNumber string, index, page int) {
	outcome.Kind = OutcomePaused
	c.logger.Info("pause requested, saving position",
		"auction_id", auctionID, "lot", lotNumber, "auction_index", index, "page", page)
	c.control.SaveResumeState(ctx, auctionID, lotNumber, index, page)
	c.control.RecordStats(ctx, stats)
}
