// Package checkpoint persists crawl progress to disk so an interrupted run
// can resume without losing scraped lots.
//
// Two artifacts exist per auction: an append-only JSONL file in the
// in-progress directory, written one line per lot as the crawl goes, and a
// consolidated JSON snapshot in the final directory, written once the
// auction completes. The snapshot is the durable record; the JSONL file
// only exists while a crawl is running or was interrupted.
package checkpoint

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rsommer/numiscrawl/internal/models"
)

// Store manages the per-auction checkpoint files.
type Store struct {
	InProgressDir string
	FinalDir      string

	logger *slog.Logger
}

// New creates a Store, creating both directories if needed.
func New(inProgressDir, finalDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, dir := range []string{inProgressDir, finalDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create checkpoint dir %s: %w", dir, err)
		}
	}
	return &Store{InProgressDir: inProgressDir, FinalDir: finalDir, logger: logger}, nil
}

// InProgressPath returns the JSONL path for an auction.
func (s *Store) InProgressPath(auctionID string) string {
	return filepath.Join(s.InProgressDir, fmt.Sprintf("auction_%s_lots.jsonl", auctionID))
}

// FinalPath returns the consolidated snapshot path for an auction.
func (s *Store) FinalPath(auctionID string) string {
	return filepath.Join(s.FinalDir, fmt.Sprintf("auction_%s_lots.json", auctionID))
}

// Append writes one lot as a JSON line to the auction's in-progress file.
// The file is opened, written, and closed per call so a crash loses at most
// the line being written.
func (s *Store) Append(auctionID string, lot models.Lot) error {
	f, err := os.OpenFile(s.InProgressPath(auctionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open in-progress file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(lot)
	if err != nil {
		return fmt.Errorf("marshal lot %s: %w", lot.LotNumber, err)
	}
	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("append lot %s: %w", lot.LotNumber, err)
	}
	return nil
}

// LoadInProgress reads the lots recorded in an auction's JSONL file.
// Corrupt lines (a torn write from a crash) are skipped with a warning; a
// missing file yields an empty slice.
func (s *Store) LoadInProgress(auctionID string) ([]models.Lot, error) {
	f, err := os.Open(s.InProgressPath(auctionID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open in-progress file: %w", err)
	}
	defer f.Close()

	var lots []models.Lot
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var lot models.Lot
		if err := json.Unmarshal([]byte(line), &lot); err != nil {
			s.logger.Warn("skipping corrupt checkpoint line", "auction_id", auctionID, "line", lineNo, "error", err)
			continue
		}
		if lot.AuctionID == "" {
			lot.AuctionID = auctionID
		}
		lots = append(lots, lot)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read in-progress file: %w", err)
	}
	return lots, nil
}

// HasFinal reports whether a consolidated snapshot exists for the auction.
func (s *Store) HasFinal(auctionID string) bool {
	_, err := os.Stat(s.FinalPath(auctionID))
	return err == nil
}

// LoadFinal reads and normalizes an auction's consolidated snapshot.
func (s *Store) LoadFinal(auctionID string) (models.FinalSnapshot, error) {
	data, err := os.ReadFile(s.FinalPath(auctionID))
	if err != nil {
		return models.FinalSnapshot{}, fmt.Errorf("read final snapshot: %w", err)
	}
	snap, err := models.DecodeSnapshot(data, auctionID)
	if err != nil {
		return models.FinalSnapshot{}, fmt.Errorf("decode final snapshot %s: %w", auctionID, err)
	}
	return snap, nil
}

// CommitFinal merges freshly crawled lots with any existing snapshot, writes
// the consolidated file, and deletes the in-progress file. When a lot number
// appears in both, the existing snapshot's copy wins: a previous complete
// crawl is more trustworthy than a partial re-crawl.
//
// The write happens before the delete. If the process dies in between, the
// next run sees both files and simply re-commits.
func (s *Store) CommitFinal(event models.AuctionEvent, lots []models.Lot) (models.FinalSnapshot, error) {
	merged := lots
	if s.HasFinal(event.ID) {
		existing, err := s.LoadFinal(event.ID)
		if err != nil {
			s.logger.Warn("existing snapshot unreadable, replacing it", "auction_id", event.ID, "error", err)
		} else {
			merged = mergeLots(existing.Lots, lots)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].NumericLotNumber() < merged[j].NumericLotNumber()
	})

	snap := models.FinalSnapshot{
		AuctionID:    event.ID,
		AuctionName:  event.Name,
		AuctionTitle: event.Title,
		EventDate:    event.EventDate,
		SaleName:     event.SaleName,
		Contact:      event.Contact,
		SaleInfo:     event.SaleInfo,
		Lots:         merged,
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return models.FinalSnapshot{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(s.FinalPath(event.ID), data, 0644); err != nil {
		return models.FinalSnapshot{}, fmt.Errorf("write final snapshot: %w", err)
	}

	if err := s.DiscardInProgress(event.ID); err != nil {
		return models.FinalSnapshot{}, err
	}

	s.logger.Info("committed final snapshot", "auction_id", event.ID, "lots", len(merged))
	return snap, nil
}

// DiscardInProgress deletes an auction's JSONL file if present.
func (s *Store) DiscardInProgress(auctionID string) error {
	err := os.Remove(s.InProgressPath(auctionID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove in-progress file: %w", err)
	}
	return nil
}

// FinalAuctionIDs lists the auction ids that have a committed snapshot.
func (s *Store) FinalAuctionIDs() ([]string, error) {
	entries, err := os.ReadDir(s.FinalDir)
	if err != nil {
		return nil, fmt.Errorf("read final dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "auction_") || !strings.HasSuffix(name, "_lots.json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(name, "auction_"), "_lots.json"))
	}
	return ids, nil
}

// mergeLots combines an existing snapshot's lots with newly crawled ones,
// keyed on lot number. Existing entries win.
func mergeLots(existing, fresh []models.Lot) []models.Lot {
	seen := make(map[string]bool, len(existing))
	merged := make([]models.Lot, 0, len(existing)+len(fresh))
	for _, lot := range existing {
		seen[lot.LotNumber] = true
		merged = append(merged, lot)
	}
	for _, lot := range fresh {
		if seen[lot.LotNumber] {
			continue
		}
		seen[lot.LotNumber] = true
		merged = append(merged, lot)
	}
	return merged
}
