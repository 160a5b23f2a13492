package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsommer/numiscrawl/internal/checkpoint"
	"github.com/rsommer/numiscrawl/internal/models"
)

func testCheckpoint(t *testing.T) *checkpoint.Store {
	t.Helper()
	dir := t.TempDir()
	cp, err := checkpoint.New(filepath.Join(dir, "inprogress"), filepath.Join(dir, "final"), nil)
	require.NoError(t, err)
	return cp
}

func storeLots(t *testing.T, store *fakeStore, auctionID string, numbers ...string) {
	t.Helper()
	ctx := context.Background()
	err := store.WithTx(ctx, func(tx pgx.Tx) error {
		firmPK, err := store.UpsertAuctionHouse(ctx, tx, auctionID, models.Contact{})
		if err != nil {
			return err
		}
		salePK, err := store.UpsertSale(ctx, tx, firmPK, models.AuctionEvent{ID: auctionID})
		if err != nil {
			return err
		}
		for _, n := range numbers {
			if _, err := store.UpsertLot(ctx, tx, firmPK, salePK, models.Lot{AuctionID: auctionID, LotNumber: n}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func commitSnapshot(t *testing.T, cp *checkpoint.Store, auctionID string, numbers ...string) {
	t.Helper()
	lots := make([]models.Lot, len(numbers))
	for i, n := range numbers {
		lots[i] = models.Lot{AuctionID: auctionID, LotNumber: n}
	}
	_, err := cp.CommitFinal(models.AuctionEvent{ID: auctionID}, lots)
	require.NoError(t, err)
}

func TestResolveNeverCrawled(t *testing.T) {
	store := newFakeStore()
	resolver := NewResolver(store, testCheckpoint(t), nil)

	res := resolver.Resolve(context.Background(), "100")
	assert.False(t, res.Complete)
	assert.False(t, res.HasFinal)
	assert.Equal(t, "never crawled", res.Reason)
	assert.Empty(t, res.KnownLotNumbers)
}

func TestResolveCompleteWhenCountsAgree(t *testing.T) {
	store := newFakeStore()
	cp := testCheckpoint(t)
	resolver := NewResolver(store, cp, nil)

	commitSnapshot(t, cp, "200", "1", "2", "3")
	storeLots(t, store, "200", "1", "2", "3")

	res := resolver.Resolve(context.Background(), "200")
	assert.True(t, res.Complete)
	assert.Equal(t, 3, res.FileLotCount)
	assert.Equal(t, 3, res.DBLotCount)
}

func TestResolveIncompleteWhenDatabaseBehind(t *testing.T) {
	store := newFakeStore()
	cp := testCheckpoint(t)
	resolver := NewResolver(store, cp, nil)

	commitSnapshot(t, cp, "201", "1", "2", "3")
	storeLots(t, store, "201", "1")

	res := resolver.Resolve(context.Background(), "201")
	assert.False(t, res.Complete)
	assert.Equal(t, "database behind snapshot", res.Reason)
	// Known lots cover both sides so a re-crawl only fetches what neither has.
	assert.True(t, res.KnownLotNumbers["1"])
	assert.True(t, res.KnownLotNumbers["2"])
	assert.True(t, res.KnownLotNumbers["3"])
	// The gap itself is the snapshot lots the database lacks.
	assert.Equal(t, []string{"2", "3"}, res.MissingLotNumbers())
}

func TestResolveMissingLotNumbersEmptyWhenComplete(t *testing.T) {
	store := newFakeStore()
	cp := testCheckpoint(t)
	resolver := NewResolver(store, cp, nil)

	commitSnapshot(t, cp, "208", "1", "2")
	storeLots(t, store, "208", "1", "2")

	res := resolver.Resolve(context.Background(), "208")
	require.True(t, res.Complete)
	assert.Empty(t, res.MissingLotNumbers())
}

func TestResolveIncompleteWhenSnapshotBehind(t *testing.T) {
	store := newFakeStore()
	cp := testCheckpoint(t)
	resolver := NewResolver(store, cp, nil)

	commitSnapshot(t, cp, "202", "1")
	storeLots(t, store, "202", "1", "2")

	res := resolver.Resolve(context.Background(), "202")
	assert.False(t, res.Complete)
	assert.Equal(t, "snapshot behind database", res.Reason)
}

func TestResolveSaleRowWithoutSnapshot(t *testing.T) {
	store := newFakeStore()
	cp := testCheckpoint(t)
	resolver := NewResolver(store, cp, nil)

	storeLots(t, store, "203", "1", "2")

	res := resolver.Resolve(context.Background(), "203")
	assert.False(t, res.Complete)
	assert.False(t, res.HasFinal)
	assert.Equal(t, "sale row without final snapshot", res.Reason)
	assert.True(t, res.KnownLotNumbers["1"])
	assert.True(t, res.KnownLotNumbers["2"])
}

func TestResolveCorruptSnapshotFailsOpen(t *testing.T) {
	store := newFakeStore()
	cp := testCheckpoint(t)
	resolver := NewResolver(store, cp, nil)

	storeLots(t, store, "204", "1")
	require.NoError(t, os.WriteFile(cp.FinalPath("204"), []byte("{not json"), 0644))

	res := resolver.Resolve(context.Background(), "204")
	assert.False(t, res.Complete)
	assert.Equal(t, "final snapshot unreadable", res.Reason)
}

func TestResolveEmptySnapshotNeverComplete(t *testing.T) {
	store := newFakeStore()
	cp := testCheckpoint(t)
	resolver := NewResolver(store, cp, nil)

	// A snapshot with zero lots cannot prove completeness.
	require.NoError(t, os.WriteFile(cp.FinalPath("205"), []byte(`{"auctionid":"205","lots":[]}`), 0644))

	res := resolver.Resolve(context.Background(), "205")
	assert.False(t, res.Complete)
}

func TestResolveIncludesInProgressLots(t *testing.T) {
	store := newFakeStore()
	cp := testCheckpoint(t)
	resolver := NewResolver(store, cp, nil)

	require.NoError(t, cp.Append("206", models.Lot{AuctionID: "206", LotNumber: "7"}))

	res := resolver.Resolve(context.Background(), "206")
	assert.False(t, res.Complete)
	assert.True(t, res.KnownLotNumbers["7"])
}

func TestResolveReportsIngestStatus(t *testing.T) {
	store := newFakeStore()
	cp := testCheckpoint(t)
	resolver := NewResolver(store, cp, nil)

	commitSnapshot(t, cp, "207", "1")
	storeLots(t, store, "207", "1")
	store.files["auction_207_lots.json"] = FileStatusEmbeddingError

	res := resolver.Resolve(context.Background(), "207")
	assert.True(t, res.Complete)
	assert.Equal(t, FileStatusEmbeddingError, res.IngestStatus)
}
