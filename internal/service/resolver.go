package service

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/rsommer/numiscrawl/internal/checkpoint"
	"github.com/rsommer/numiscrawl/internal/db"
)

// ResolverStore is the subset of the database client the resolver needs.
type ResolverStore interface {
	SaleExists(ctx context.Context, firmID, saleNo string) (bool, error)
	CountSaleLots(ctx context.Context, firmID, saleNo string) (int, error)
	SaleLotNumbers(ctx context.Context, firmID, saleNo string) ([]string, error)
	FileStatus(ctx context.Context, fileName string) (string, error)
}

// Resolution is the resolver's verdict on one auction.
type Resolution struct {
	// Complete means the auction needs no crawling at all: a final
	// snapshot exists and the database holds exactly as many lots.
	Complete bool

	// HasFinal reports whether a committed snapshot file exists.
	HasFinal bool

	FileLotCount int
	DBLotCount   int

	// IngestStatus is the uploaded_files status for the snapshot, empty
	// when ingest never recorded the file. An EmbeddingError here tells
	// the driver to re-run the embedding phase even when the relational
	// side is complete.
	IngestStatus string

	// KnownLotNumbers is the union of lot numbers found in the snapshot,
	// the in-progress file, and the database. The crawler skips these.
	KnownLotNumbers map[string]bool

	// Reason is a short human-readable explanation for the verdict,
	// logged and shown in job output.
	Reason string

	fileLotNumbers map[string]bool
	dbLotNumbers   map[string]bool
}

// MissingLotNumbers returns the lots present in the final snapshot but
// absent from the database, sorted. Empty for a complete auction.
func (r Resolution) MissingLotNumbers() []string {
	var missing []string
	for n := range r.fileLotNumbers {
		if !r.dbLotNumbers[n] {
			missing = append(missing, n)
		}
	}
	sort.Strings(missing)
	return missing
}

// Resolver is the single authority on whether an auction's existing state
// is complete. Every skip decision flows through Resolve; nothing else in
// the pipeline compares counts.
//
// The completeness rule is strict equality: snapshot lot count == database
// lot count. More rows than the file has means the file is stale; fewer
// means ingest died partway. Both trigger a re-crawl, which is cheap
// because known lots are skipped.
//
// All checks fail open. A database hiccup or unreadable file downgrades the
// verdict to "incomplete" rather than aborting the run: the worst case is
// redundant work against idempotent upserts.
type Resolver struct {
	store      ResolverStore
	checkpoint *checkpoint.Store
	logger     *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(store ResolverStore, cp *checkpoint.Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, checkpoint: cp, logger: logger}
}

// Resolve inspects the snapshot file and the database for one auction.
// The external auction id doubles as firm id and sale number.
func (r *Resolver) Resolve(ctx context.Context, auctionID string) Resolution {
	res := Resolution{
		KnownLotNumbers: make(map[string]bool),
		fileLotNumbers:  make(map[string]bool),
		dbLotNumbers:    make(map[string]bool),
	}

	// Database side: which lots are already stored?
	dbNumbers, err := r.store.SaleLotNumbers(ctx, auctionID, auctionID)
	if err != nil {
		r.logger.Warn("failed to read stored lot numbers, assuming none", "auction_id", auctionID, "error", err)
	}
	for _, n := range dbNumbers {
		res.KnownLotNumbers[n] = true
		res.dbLotNumbers[n] = true
	}
	res.DBLotCount = len(dbNumbers)

	// File side: the committed snapshot, if any.
	if r.checkpoint.HasFinal(auctionID) {
		res.HasFinal = true
		snap, err := r.checkpoint.LoadFinal(auctionID)
		if err != nil {
			r.logger.Warn("final snapshot unreadable, re-crawling", "auction_id", auctionID, "error", err)
			res.Reason = "final snapshot unreadable"
			return res
		}
		res.FileLotCount = len(snap.Lots)
		for _, lot := range snap.Lots {
			res.KnownLotNumbers[lot.LotNumber] = true
			res.fileLotNumbers[lot.LotNumber] = true
		}
	}

	// Lots persisted from an interrupted run also count as known.
	if inProgress, err := r.checkpoint.LoadInProgress(auctionID); err == nil {
		for _, lot := range inProgress {
			res.KnownLotNumbers[lot.LotNumber] = true
		}
	}

	if !res.HasFinal {
		exists, err := r.store.SaleExists(ctx, auctionID, auctionID)
		if err != nil {
			r.logger.Warn("sale existence check failed, assuming fresh", "auction_id", auctionID, "error", err)
		}
		if exists {
			// A sale row with no snapshot behind it means the file was
			// lost or ingest ran from a file that no longer exists.
			res.Reason = "sale row without final snapshot"
		} else {
			res.Reason = "never crawled"
		}
		return res
	}

	// The recorded ingest status is advisory. Completeness comes from the
	// counts; a missing uploaded_files row just means ingest never ran.
	fileName := filepath.Base(r.checkpoint.FinalPath(auctionID))
	status, err := r.store.FileStatus(ctx, fileName)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		r.logger.Warn("file status check failed, continuing with counts", "auction_id", auctionID, "error", err)
	}
	res.IngestStatus = status

	if res.FileLotCount > 0 && res.DBLotCount == res.FileLotCount {
		res.Complete = true
		res.Reason = "snapshot and database agree"
		return res
	}

	if res.DBLotCount < res.FileLotCount {
		res.Reason = "database behind snapshot"
	} else {
		res.Reason = "snapshot behind database"
	}
	return res
}
