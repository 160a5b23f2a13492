package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rsommer/numiscrawl/internal/db"
	"github.com/rsommer/numiscrawl/internal/embedding"
	"github.com/rsommer/numiscrawl/internal/metrics"
	"github.com/rsommer/numiscrawl/internal/models"
)

// Ingest statuses recorded in uploaded_files. CoreCommitted means the
// relational phase landed; Completed adds successful embeddings;
// EmbeddingError means the relational data is safe but at least one
// embedding failed and should be retried on the next run.
const (
	FileStatusCoreCommitted  = "CoreCommitted"
	FileStatusCompleted      = "Completed"
	FileStatusEmbeddingError = "EmbeddingError"
)

// ChunkSourceType is the source_type used for lot chunks.
const ChunkSourceType = "lot"

// IngestStore is the subset of the database client the ingest pipeline
// needs.
type IngestStore interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
	UpsertAuctionHouse(ctx context.Context, tx pgx.Tx, firmID string, contact models.Contact) (int64, error)
	UpsertSale(ctx context.Context, tx pgx.Tx, firmPK int64, event models.AuctionEvent) (int64, error)
	UpsertLot(ctx context.Context, tx pgx.Tx, firmPK, salePK int64, lot models.Lot) (int64, error)
	InsertCategory(ctx context.Context, tx pgx.Tx, name string) error
	UpdateSaleCategories(ctx context.Context, tx pgx.Tx, salePK int64, categories []string) error
	MarkFileProcessed(ctx context.Context, fileName, filePath, status string) error
	EmbeddedSourceIDs(ctx context.Context, sourceType string, sourceIDs []string) (map[string]bool, error)
	UpsertChunk(ctx context.Context, chunk db.Chunk) error
}

// IngestResult summarizes one batch ingest.
type IngestResult struct {
	LotsInserted int
	LotsEmbedded int
	EmbedErrors  int
	Status       string
}

// IngestService lands lots in the database in two phases. Phase A is the
// transactional relational write (firm, sale, lot, categories); Phase B is
// the best-effort embedding write. A Phase B failure never rolls back or
// blocks Phase A: searchability degrades, data does not.
type IngestService struct {
	store     IngestStore
	embedder  embedding.Embedder
	retry     embedding.RetryPolicy
	logger    *slog.Logger
	collector *metrics.Collector
}

// NewIngestService creates the service. A nil embedder disables Phase B
// entirely; files then settle at CoreCommitted.
func NewIngestService(store IngestStore, embedder embedding.Embedder, logger *slog.Logger) *IngestService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestService{
		store:    store,
		embedder: embedder,
		retry:    embedding.DefaultRetryPolicy,
		logger:   logger,
	}
}

// EmbeddingEnabled reports whether Phase B runs at all.
func (s *IngestService) EmbeddingEnabled() bool { return s.embedder != nil }

// SetMetrics attaches a collector for ingest and embedding timings. Safe to
// leave unset.
func (s *IngestService) SetMetrics(c *metrics.Collector) {
	s.collector = c
}

func (s *IngestService) record(op string, start time.Time, err error) {
	if s.collector == nil {
		return
	}
	if err != nil {
		s.collector.RecordError(op)
		return
	}
	s.collector.RecordTiming(op, time.Since(start))
}

// BuildLotChunk renders the text that gets embedded for a lot. Empty parts
// are dropped so sparse lots do not embed blank lines.
func BuildLotChunk(lot models.Lot, saleName string) string {
	parts := []string{
		fmt.Sprintf("Lot %s: %s", lot.LotNumber, lot.Name),
		lot.ShortDescription,
		lot.FullDescription,
		"Category: " + lot.Category,
		fmt.Sprintf("Starting: %s  Realized: %s", lot.StartingPrice, lot.RealizedPrice),
		"Sale: " + saleName,
		"URL: " + lot.LotURL,
	}
	kept := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}

// InsertLot runs Phase A for a single lot: firm, sale, lot row, and
// category, in one transaction. Returns the lot's primary key.
func (s *IngestService) InsertLot(ctx context.Context, event models.AuctionEvent, lot models.Lot) (int64, error) {
	var lotPK int64
	start := time.Now()
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		firmPK, err := s.store.UpsertAuctionHouse(ctx, tx, event.ID, event.Contact)
		if err != nil {
			return err
		}
		salePK, err := s.store.UpsertSale(ctx, tx, firmPK, event)
		if err != nil {
			return err
		}
		lotPK, err = s.store.UpsertLot(ctx, tx, firmPK, salePK, lot)
		if err != nil {
			return err
		}
		return s.store.InsertCategory(ctx, tx, lot.Category)
	})
	s.record(metrics.OpDBIngest, start, err)
	if err != nil {
		return 0, fmt.Errorf("insert lot %s/%s: %w", event.ID, lot.LotNumber, err)
	}
	return lotPK, nil
}

// EmbedLot runs Phase B for a single lot: build the chunk text, embed it
// with retries, store the chunk keyed on the lot's primary key.
func (s *IngestService) EmbedLot(ctx context.Context, lot models.Lot, saleName string, lotPK int64) error {
	if s.embedder == nil {
		return fmt.Errorf("no embedder configured")
	}

	text := BuildLotChunk(lot, saleName)
	var vector []float32
	start := time.Now()
	err := s.retry.WithRetries(ctx, s.logger, "embed lot "+lot.LotNumber, func(ctx context.Context) error {
		var embedErr error
		vector, embedErr = s.embedder.Embed(ctx, text)
		return embedErr
	})
	s.record(metrics.OpEmbedding, start, err)
	if err != nil {
		return err
	}

	return s.store.UpsertChunk(ctx, db.Chunk{
		Text:           text,
		Embedding:      vector,
		SourceType:     ChunkSourceType,
		SourceName:     saleName,
		SourceID:       strconv.FormatInt(lotPK, 10),
		ChunkIndex:     1,
		ContentType:    "auction/lot",
		Title:          lot.Name,
		Category:       lot.Category,
		EmbeddingModel: s.embedder.Model(),
		Metadata: map[string]any{
			"lotNumber":     lot.LotNumber,
			"startingPrice": lot.StartingPrice,
			"realizedPrice": lot.RealizedPrice,
			"lotUrl":        lot.LotURL,
			"imageUrl":      lot.ImageURL,
			"auctionId":     lot.AuctionID,
		},
	})
}

// ProcessLot runs both phases for one lot as it comes off the crawl.
// Phase A errors are returned; Phase B errors are logged and reported via
// the embedded flag only.
func (s *IngestService) ProcessLot(ctx context.Context, event models.AuctionEvent, lot models.Lot) (lotPK int64, embedded bool, err error) {
	lotPK, err = s.InsertLot(ctx, event, lot)
	if err != nil {
		return 0, false, err
	}

	if s.embedder == nil {
		return lotPK, false, nil
	}
	if embedErr := s.EmbedLot(ctx, lot, event.Title, lotPK); embedErr != nil {
		s.logger.Warn("embedding failed, lot data committed without chunk",
			"auction_id", event.ID, "lot", lot.LotNumber, "error", embedErr)
		return lotPK, false, nil
	}
	return lotPK, true, nil
}

// ProcessSnapshot ingests a committed final snapshot in batch mode: one
// transaction for the whole relational phase, then per-lot embeddings with
// already-embedded lots skipped. The uploaded_files status tracks how far
// the file got.
func (s *IngestService) ProcessSnapshot(ctx context.Context, snap models.FinalSnapshot, filePath string) (IngestResult, error) {
	var result IngestResult
	event := snap.Event()
	fileName := filepath.Base(filePath)

	lotPKs := make(map[string]int64, len(snap.Lots))
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		firmPK, err := s.store.UpsertAuctionHouse(ctx, tx, event.ID, event.Contact)
		if err != nil {
			return err
		}
		salePK, err := s.store.UpsertSale(ctx, tx, firmPK, event)
		if err != nil {
			return err
		}

		categories := make(map[string]bool)
		for _, lot := range snap.Lots {
			lotPK, err := s.store.UpsertLot(ctx, tx, firmPK, salePK, lot)
			if err != nil {
				return err
			}
			lotPKs[lot.LotNumber] = lotPK
			if lot.Category != "" {
				categories[lot.Category] = true
			}
		}

		names := make([]string, 0, len(categories))
		for name := range categories {
			if err := s.store.InsertCategory(ctx, tx, name); err != nil {
				return err
			}
			names = append(names, name)
		}
		sort.Strings(names)
		return s.store.UpdateSaleCategories(ctx, tx, salePK, names)
	})
	if err != nil {
		return result, fmt.Errorf("ingest snapshot %s: %w", event.ID, err)
	}
	result.LotsInserted = len(snap.Lots)

	if err := s.store.MarkFileProcessed(ctx, fileName, filePath, FileStatusCoreCommitted); err != nil {
		s.logger.Warn("failed to mark file core-committed", "file", fileName, "error", err)
	}
	result.Status = FileStatusCoreCommitted

	if s.embedder == nil {
		return result, nil
	}

	// Embedding resume: skip lots that already have a chunk.
	sourceIDs := make([]string, 0, len(lotPKs))
	for _, pk := range lotPKs {
		sourceIDs = append(sourceIDs, strconv.FormatInt(pk, 10))
	}
	existing, err := s.store.EmbeddedSourceIDs(ctx, ChunkSourceType, sourceIDs)
	if err != nil {
		s.logger.Warn("failed to read existing embeddings, embedding all lots", "auction_id", event.ID, "error", err)
		existing = map[string]bool{}
	}

	for _, lot := range snap.Lots {
		lotPK := lotPKs[lot.LotNumber]
		if existing[strconv.FormatInt(lotPK, 10)] {
			result.LotsEmbedded++
			continue
		}
		if err := s.EmbedLot(ctx, lot, snap.AuctionTitle, lotPK); err != nil {
			s.logger.Warn("embedding failed in batch ingest",
				"auction_id", event.ID, "lot", lot.LotNumber, "error", err)
			result.EmbedErrors++
			continue
		}
		result.LotsEmbedded++
	}

	status := FileStatusCompleted
	if result.EmbedErrors > 0 {
		status = FileStatusEmbeddingError
	}
	if err := s.store.MarkFileProcessed(ctx, fileName, filePath, status); err != nil {
		s.logger.Warn("failed to mark file processed", "file", fileName, "status", status, "error", err)
	}
	result.Status = status

	s.logger.Info("snapshot ingested", "auction_id", event.ID, "lots", result.LotsInserted,
		"embedded", result.LotsEmbedded, "embed_errors", result.EmbedErrors, "status", status)
	return result, nil
}
