package service

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsommer/numiscrawl/internal/models"
)

func sampleLot(number string) models.Lot {
	return models.Lot{
		AuctionID:        "300",
		LotNumber:        number,
		Name:             "TRAJAN. AR Denarius",
		ShortDescription: "TRAJAN",
		FullDescription:  "Laureate bust right. Good VF.",
		Category:         "Roman Imperial",
		StartingPrice:    "100 EUR",
		RealizedPrice:    "250 EUR",
		LotURL:           "https://example.com/lot/" + number,
		ImageURL:         "https://example.com/img/" + number + ".jpg",
	}
}

func sampleEvent() models.AuctionEvent {
	return models.AuctionEvent{
		ID:    "300",
		Name:  "Example Numismatics",
		Title: "Example Numismatics, Auction 12",
	}
}

func TestBuildLotChunk(t *testing.T) {
	got := BuildLotChunk(sampleLot("5"), "Example Numismatics, Auction 12")
	want := "Lot 5: TRAJAN. AR Denarius\n" +
		"TRAJAN\n" +
		"Laureate bust right. Good VF.\n" +
		"Category: Roman Imperial\n" +
		"Starting: 100 EUR  Realized: 250 EUR\n" +
		"Sale: Example Numismatics, Auction 12\n" +
		"URL: https://example.com/lot/5"
	assert.Equal(t, want, got)
}

func TestBuildLotChunkDropsEmptyParts(t *testing.T) {
	lot := models.Lot{LotNumber: "9", Name: "Follis"}
	got := BuildLotChunk(lot, "")
	// Blank description lines are dropped; labeled lines stay even when
	// their value is empty.
	want := "Lot 9: Follis\nCategory: \nStarting:   Realized: \nSale: \nURL: "
	assert.Equal(t, want, got)
}

func TestInsertLotWritesWholeHierarchy(t *testing.T) {
	store := newFakeStore()
	svc := NewIngestService(store, nil, nil)

	lotPK, err := svc.InsertLot(context.Background(), sampleEvent(), sampleLot("1"))
	require.NoError(t, err)
	assert.NotZero(t, lotPK)

	assert.Contains(t, store.firms, "300")
	assert.Contains(t, store.sales, "300")
	assert.Equal(t, 1, store.lotCount("300"))
	assert.True(t, store.categories["Roman Imperial"])
}

func TestInsertLotIdempotent(t *testing.T) {
	store := newFakeStore()
	svc := NewIngestService(store, nil, nil)

	pk1, err := svc.InsertLot(context.Background(), sampleEvent(), sampleLot("1"))
	require.NoError(t, err)
	pk2, err := svc.InsertLot(context.Background(), sampleEvent(), sampleLot("1"))
	require.NoError(t, err)

	assert.Equal(t, pk1, pk2)
	assert.Equal(t, 1, store.lotCount("300"))
}

func TestProcessLotEmbedsChunk(t *testing.T) {
	store := newFakeStore()
	embedder := &fakeEmbedder{}
	svc := NewIngestService(store, embedder, nil)

	lotPK, embedded, err := svc.ProcessLot(context.Background(), sampleEvent(), sampleLot("1"))
	require.NoError(t, err)
	assert.True(t, embedded)

	chunk, ok := store.chunks["lot/"+strconv.FormatInt(lotPK, 10)]
	require.True(t, ok)
	assert.Equal(t, "lot", chunk.SourceType)
	assert.Equal(t, 1, chunk.ChunkIndex)
	assert.Equal(t, "auction/lot", chunk.ContentType)
	assert.Equal(t, "Example Numismatics, Auction 12", chunk.SourceName)
	assert.Equal(t, "fake-model", chunk.EmbeddingModel)
	assert.Equal(t, "1", chunk.Metadata["lotNumber"])
	assert.Equal(t, "300", chunk.Metadata["auctionId"])
}

func TestProcessLotEmbedFailureDoesNotLoseLot(t *testing.T) {
	store := newFakeStore()
	embedder := &fakeEmbedder{failText: "TRAJAN"}
	svc := NewIngestService(store, embedder, nil)

	lotPK, embedded, err := svc.ProcessLot(context.Background(), sampleEvent(), sampleLot("1"))
	require.NoError(t, err)
	assert.NotZero(t, lotPK)
	assert.False(t, embedded)

	// Relational data committed, chunk absent.
	assert.Equal(t, 1, store.lotCount("300"))
	assert.Empty(t, store.chunks)
}

func TestProcessLotNilEmbedderSkipsPhaseB(t *testing.T) {
	store := newFakeStore()
	svc := NewIngestService(store, nil, nil)

	_, embedded, err := svc.ProcessLot(context.Background(), sampleEvent(), sampleLot("1"))
	require.NoError(t, err)
	assert.False(t, embedded)
	assert.Empty(t, store.chunks)
}

func sampleSnapshot(numbers ...string) models.FinalSnapshot {
	snap := models.FinalSnapshot{
		AuctionID:    "300",
		AuctionName:  "Example Numismatics",
		AuctionTitle: "Example Numismatics, Auction 12",
	}
	for _, n := range numbers {
		snap.Lots = append(snap.Lots, sampleLot(n))
	}
	return snap
}

func TestProcessSnapshotCompleted(t *testing.T) {
	store := newFakeStore()
	embedder := &fakeEmbedder{}
	svc := NewIngestService(store, embedder, nil)

	result, err := svc.ProcessSnapshot(context.Background(), sampleSnapshot("1", "2", "3"), "/data/auction_300_lots.json")
	require.NoError(t, err)

	assert.Equal(t, 3, result.LotsInserted)
	assert.Equal(t, 3, result.LotsEmbedded)
	assert.Zero(t, result.EmbedErrors)
	assert.Equal(t, FileStatusCompleted, result.Status)
	assert.Equal(t, FileStatusCompleted, store.files["auction_300_lots.json"])
	assert.Len(t, store.chunks, 3)
}

func TestProcessSnapshotEmbeddingError(t *testing.T) {
	store := newFakeStore()
	snap := sampleSnapshot("1", "2")
	snap.Lots[1].Name = "POISON Sestertius"
	embedder := &fakeEmbedder{failText: "POISON"}
	svc := NewIngestService(store, embedder, nil)

	result, err := svc.ProcessSnapshot(context.Background(), snap, "/data/auction_300_lots.json")
	require.NoError(t, err)

	assert.Equal(t, 2, result.LotsInserted)
	assert.Equal(t, 1, result.LotsEmbedded)
	assert.Equal(t, 1, result.EmbedErrors)
	assert.Equal(t, FileStatusEmbeddingError, result.Status)
	assert.Equal(t, FileStatusEmbeddingError, store.files["auction_300_lots.json"])
}

func TestProcessSnapshotNilEmbedderStopsAtCoreCommitted(t *testing.T) {
	store := newFakeStore()
	svc := NewIngestService(store, nil, nil)

	result, err := svc.ProcessSnapshot(context.Background(), sampleSnapshot("1"), "/data/auction_300_lots.json")
	require.NoError(t, err)

	assert.Equal(t, FileStatusCoreCommitted, result.Status)
	assert.Equal(t, FileStatusCoreCommitted, store.files["auction_300_lots.json"])
	assert.Empty(t, store.chunks)
}

func TestProcessSnapshotSkipsAlreadyEmbedded(t *testing.T) {
	store := newFakeStore()
	embedder := &fakeEmbedder{}
	svc := NewIngestService(store, embedder, nil)
	ctx := context.Background()

	_, err := svc.ProcessSnapshot(ctx, sampleSnapshot("1", "2"), "/data/auction_300_lots.json")
	require.NoError(t, err)
	firstRun := embedder.calls

	result, err := svc.ProcessSnapshot(ctx, sampleSnapshot("1", "2"), "/data/auction_300_lots.json")
	require.NoError(t, err)

	assert.Equal(t, 2, result.LotsEmbedded)
	assert.Equal(t, firstRun, embedder.calls, "re-run must not embed again")
}

func TestProcessSnapshotRecordsSortedCategories(t *testing.T) {
	store := newFakeStore()
	svc := NewIngestService(store, nil, nil)
	snap := sampleSnapshot("1", "2", "3")
	snap.Lots[0].Category = "Roman Imperial"
	snap.Lots[1].Category = "Byzantine"
	snap.Lots[2].Category = "Roman Imperial"

	_, err := svc.ProcessSnapshot(context.Background(), snap, "/data/auction_300_lots.json")
	require.NoError(t, err)

	salePK := store.sales["300"]
	assert.Equal(t, []string{"Byzantine", "Roman Imperial"}, store.saleCategories[salePK])
	assert.True(t, store.categories["Byzantine"])
	assert.True(t, store.categories["Roman Imperial"])
}
