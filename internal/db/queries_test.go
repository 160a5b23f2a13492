package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsommer/numiscrawl/internal/models"
)

func testEvent(id string) models.AuctionEvent {
	return models.AuctionEvent{
		ID:        id,
		Name:      "Test Numismatics",
		Title:     "Test Numismatics, Auction 1",
		EventDate: "Auction date: 3-5 May 2024",
		Contact: models.Contact{
			FirmName: "Test Numismatics AG",
			Address:  "Bahnhofstrasse 1, 8001 Zürich, Switzerland",
			Phone:    "+41 44 000 00 00",
			Email:    "info@example.com",
			Website:  "https://example.com",
		},
		SaleInfo: models.SaleInfo{SaleLogo: "/logos/test.png"},
	}
}

func testLot(auctionID, lotNumber string) models.Lot {
	return models.Lot{
		AuctionID:        auctionID,
		LotNumber:        lotNumber,
		Name:             "Lot " + lotNumber + ": Roman denarius",
		Category:         "Roman Imperial",
		FullDescription:  "A nice denarius of Trajan.",
		ShortDescription: "Denarius of Trajan",
		StartingPrice:    "100 CHF",
		RealizedPrice:    "250 CHF",
		LotURL:           "https://example.com/lot/" + lotNumber,
		ImageURL:         "https://example.com/img/" + lotNumber + ".jpg",
		EventDate:        "3 May 2024",
	}
}

// insertAuction stores the firm, sale, and given lots in one transaction,
// the way the ingest phase does.
func insertAuction(t *testing.T, ctx context.Context, event models.AuctionEvent, lots []models.Lot) {
	t.Helper()
	err := testDB.WithTx(ctx, func(tx pgx.Tx) error {
		firmPK, err := testDB.UpsertAuctionHouse(ctx, tx, event.ID, event.Contact)
		if err != nil {
			return err
		}
		salePK, err := testDB.UpsertSale(ctx, tx, firmPK, event)
		if err != nil {
			return err
		}
		for _, lot := range lots {
			if _, err := testDB.UpsertLot(ctx, tx, firmPK, salePK, lot); err != nil {
				return err
			}
			if err := testDB.InsertCategory(ctx, tx, lot.Category); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestUpsertAuctionHouseIdempotent(t *testing.T) {
	ctx := context.Background()
	event := testEvent("9001")

	var firstPK, secondPK int64
	err := testDB.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		firstPK, err = testDB.UpsertAuctionHouse(ctx, tx, event.ID, event.Contact)
		return err
	})
	require.NoError(t, err)

	// Second upsert with changed contact keeps the same primary key.
	event.Contact.Phone = "+41 44 111 11 11"
	err = testDB.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		secondPK, err = testDB.UpsertAuctionHouse(ctx, tx, event.ID, event.Contact)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, firstPK, secondPK)

	pk, err := testDB.GetFirmPK(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, firstPK, pk)
}

func TestUpsertLotCloseDatePreserved(t *testing.T) {
	ctx := context.Background()
	event := testEvent("9002")
	lot := testLot("9002", "1")

	insertAuction(t, ctx, event, []models.Lot{lot})

	// Re-upsert the same lot without a parseable event date. The stored
	// close date must survive.
	lot.EventDate = ""
	lot.RealizedPrice = "300 CHF"
	insertAuction(t, ctx, event, []models.Lot{lot})

	var closeDateNull bool
	var realized float64
	err := testDB.Pool().QueryRow(ctx, `
		SELECT close_date IS NULL, realized FROM lots WHERE primarykey = $1
	`, lot.PrimaryKey()).Scan(&closeDateNull, &realized)
	require.NoError(t, err)
	assert.False(t, closeDateNull, "close_date should survive a NULL re-upsert")
	assert.Equal(t, 300.0, realized)
}

func TestSaleLotCounts(t *testing.T) {
	ctx := context.Background()
	event := testEvent("9003")
	lots := []models.Lot{testLot("9003", "1"), testLot("9003", "2"), testLot("9003", "3")}

	exists, err := testDB.SaleExists(ctx, "9003", "9003")
	require.NoError(t, err)
	assert.False(t, exists)

	insertAuction(t, ctx, event, lots)

	exists, err = testDB.SaleExists(ctx, "9003", "9003")
	require.NoError(t, err)
	assert.True(t, exists)

	count, err := testDB.CountSaleLots(ctx, "9003", "9003")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	numbers, err := testDB.SaleLotNumbers(ctx, "9003", "9003")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2", "3"}, numbers)

	// Re-inserting the same lots must not inflate the count.
	insertAuction(t, ctx, event, lots)
	count, err = testDB.CountSaleLots(ctx, "9003", "9003")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestFileStatusLifecycle(t *testing.T) {
	ctx := context.Background()

	_, err := testDB.FileStatus(ctx, "auction_9004_lots.json")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, testDB.MarkFileProcessed(ctx, "auction_9004_lots.json", "/data/final/auction_9004_lots.json", "CoreCommitted"))

	status, err := testDB.FileStatus(ctx, "auction_9004_lots.json")
	require.NoError(t, err)
	assert.Equal(t, "CoreCommitted", status)

	require.NoError(t, testDB.MarkFileProcessed(ctx, "auction_9004_lots.json", "/data/final/auction_9004_lots.json", "Completed"))

	status, err = testDB.FileStatus(ctx, "auction_9004_lots.json")
	require.NoError(t, err)
	assert.Equal(t, "Completed", status)
}

func TestUpsertChunkAndEmbeddedSourceIDs(t *testing.T) {
	ctx := context.Background()

	chunk := Chunk{
		Text:           "Lot 1: Roman denarius\nA nice denarius of Trajan.",
		Embedding:      testEmbedding(),
		SourceType:     "auction_lot",
		SourceName:     "Test Numismatics",
		SourceID:       "9005-9005-1",
		ContentType:    "lot_description",
		Title:          "Lot 1: Roman denarius",
		Category:       "Roman Imperial",
		EmbeddingModel: "test-model",
		Metadata:       map[string]any{"auction_id": "9005"},
	}
	require.NoError(t, testDB.UpsertChunk(ctx, chunk))

	// Re-upsert with new text replaces the row instead of duplicating.
	chunk.Text = "Lot 1: Roman denarius (updated)"
	require.NoError(t, testDB.UpsertChunk(ctx, chunk))

	var count int
	err := testDB.Pool().QueryRow(ctx, `
		SELECT count(*) FROM chunks WHERE source_type = 'auction_lot' AND source_id = '9005-9005-1'
	`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	existing, err := testDB.EmbeddedSourceIDs(ctx, "auction_lot", []string{"9005-9005-1", "9005-9005-2"})
	require.NoError(t, err)
	assert.True(t, existing["9005-9005-1"])
	assert.False(t, existing["9005-9005-2"])
}

func TestVectorLiteral(t *testing.T) {
	assert.Equal(t, "[0,0.5,1]", vectorLiteral([]float32{0, 0.5, 1}))
	assert.Equal(t, "[]", vectorLiteral(nil))
}
