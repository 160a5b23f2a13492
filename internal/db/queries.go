package db

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rsommer/numiscrawl/internal/models"
)

// WithTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise.
func (c *Client) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return wrapQueryError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", wrapQueryError(err))
	}
	return nil
}

// UpsertAuctionHouse inserts or refreshes a firm row and returns its
// primary key. Contact fields overwrite previous values; the external
// firm_id is the conflict key.
func (c *Client) UpsertAuctionHouse(ctx context.Context, tx pgx.Tx, firmID string, contact models.Contact) (int64, error) {
	addr := contact.AddressLines()
	var firmPK int64
	err := tx.QueryRow(ctx, `
		INSERT INTO auction_houses (firm_id, name, addr1, addr2, addr3, addr4, phone, fax, s_email, s_webpage, last_update)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (firm_id) DO UPDATE SET
			name        = EXCLUDED.name,
			addr1       = EXCLUDED.addr1,
			addr2       = EXCLUDED.addr2,
			addr3       = EXCLUDED.addr3,
			addr4       = EXCLUDED.addr4,
			phone       = EXCLUDED.phone,
			fax         = EXCLUDED.fax,
			s_email     = EXCLUDED.s_email,
			s_webpage   = EXCLUDED.s_webpage,
			last_update = now()
		RETURNING firm_pk
	`, firmID, contact.FirmName, addr[0], addr[1], addr[2], addr[3],
		contact.Phone, contact.Fax, contact.Email, contact.Website).Scan(&firmPK)
	if err != nil {
		return 0, fmt.Errorf("upsert auction house: %w", wrapQueryError(err))
	}
	return firmPK, nil
}

// GetFirmPK looks up the primary key for an external firm id.
// Returns ErrNotFound when the firm has never been stored.
func (c *Client) GetFirmPK(ctx context.Context, firmID string) (int64, error) {
	var firmPK int64
	err := c.pool.QueryRow(ctx, `SELECT firm_pk FROM auction_houses WHERE firm_id = $1`, firmID).Scan(&firmPK)
	if err != nil {
		return 0, fmt.Errorf("get firm pk: %w", wrapQueryError(err))
	}
	return firmPK, nil
}

// UpsertSale inserts or refreshes a sale row and returns its primary key.
// The sale is keyed on (firm, sale_no); the external auction id doubles as
// the sale number.
func (c *Client) UpsertSale(ctx context.Context, tx pgx.Tx, firmPK int64, event models.AuctionEvent) (int64, error) {
	dates := models.ParseEventDate(event.EventDate)
	var date1, date2 interface{}
	if !dates.Start.IsZero() {
		date1 = dates.Start
	}
	if !dates.End.IsZero() {
		date2 = dates.End
	}

	var salePK int64
	err := tx.QueryRow(ctx, `
		INSERT INTO sales (sale_firm_fk, sale_no, salename, date1, date2, salelogo, salesource)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (sale_firm_fk, sale_no) DO UPDATE SET
			salename   = EXCLUDED.salename,
			date1      = COALESCE(EXCLUDED.date1, sales.date1),
			date2      = COALESCE(EXCLUDED.date2, sales.date2),
			salelogo   = EXCLUDED.salelogo,
			salesource = EXCLUDED.salesource
		RETURNING sale_pk
	`, firmPK, event.ID, saleName(event), date1, date2, event.SaleInfo.SaleLogo, event.URL).Scan(&salePK)
	if err != nil {
		return 0, fmt.Errorf("upsert sale: %w", wrapQueryError(err))
	}
	return salePK, nil
}

func saleName(event models.AuctionEvent) string {
	if event.SaleName != "" {
		return event.SaleName
	}
	if event.Title != "" {
		return event.Title
	}
	return event.Name
}

// UpsertLot inserts or refreshes a lot row and returns its primary key.
// The close date only moves forward: a NULL in the incoming row never
// clobbers a previously stored close date.
func (c *Client) UpsertLot(ctx context.Context, tx pgx.Tx, firmPK, salePK int64, lot models.Lot) (int64, error) {
	opening := models.ParsePrice(lot.StartingPrice)
	realized := models.ParsePrice(lot.RealizedPrice)

	var openingVal, realizedVal interface{}
	if opening.Valid {
		openingVal = opening.Amount
	}
	if realized.Valid {
		realizedVal = realized.Amount
	}
	currency := opening.Currency
	if currency == "" {
		currency = realized.Currency
	}

	var closeDate interface{}
	if d := models.ParseEventDate(lot.EventDate); !d.End.IsZero() {
		closeDate = d.End
	}

	var lotPK int64
	err := tx.QueryRow(ctx, `
		INSERT INTO lots (lot_firm_fk, lot_sale_fk, lot_no, majgroup, catdescr, title,
		                  image_url, lot_url, close_date, opening, realized, currency, last_edit, primarykey)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), $13)
		ON CONFLICT (primarykey) DO UPDATE SET
			majgroup   = EXCLUDED.majgroup,
			catdescr   = EXCLUDED.catdescr,
			title      = EXCLUDED.title,
			image_url  = EXCLUDED.image_url,
			lot_url    = EXCLUDED.lot_url,
			close_date = COALESCE(EXCLUDED.close_date, lots.close_date),
			opening    = EXCLUDED.opening,
			realized   = EXCLUDED.realized,
			currency   = EXCLUDED.currency,
			last_edit  = now()
		RETURNING lot_pk
	`, firmPK, salePK, lot.LotNumber, lot.Category, lot.FullDescription, lot.Name,
		lot.ImageURL, lot.LotURL, closeDate, openingVal, realizedVal, currency, lot.PrimaryKey()).Scan(&lotPK)
	if err != nil {
		return 0, fmt.Errorf("upsert lot %s: %w", lot.LotNumber, wrapQueryError(err))
	}
	return lotPK, nil
}

// InsertCategory records a category name, ignoring duplicates.
func (c *Client) InsertCategory(ctx context.Context, tx pgx.Tx, name string) error {
	if strings.TrimSpace(name) == "" {
		return nil
	}
	_, err := tx.Exec(ctx, `INSERT INTO categories (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
	if err != nil {
		return fmt.Errorf("insert category: %w", wrapQueryError(err))
	}
	return nil
}

// UpdateSaleCategories replaces the keyword category list on a sale.
func (c *Client) UpdateSaleCategories(ctx context.Context, tx pgx.Tx, salePK int64, categories []string) error {
	_, err := tx.Exec(ctx, `UPDATE sales SET keyword_categories = $2 WHERE sale_pk = $1`, salePK, categories)
	if err != nil {
		return fmt.Errorf("update sale categories: %w", wrapQueryError(err))
	}
	return nil
}

// SaleExists reports whether a sale row exists for the given external ids.
func (c *Client) SaleExists(ctx context.Context, firmID, saleNo string) (bool, error) {
	var exists bool
	err := c.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM sales s
			JOIN auction_houses h ON h.firm_pk = s.sale_firm_fk
			WHERE h.firm_id = $1 AND s.sale_no = $2
		)
	`, firmID, saleNo).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("sale exists: %w", wrapQueryError(err))
	}
	return exists, nil
}

// CountSaleLots counts the stored lots of one sale, resolved via the
// external firm and sale numbers.
func (c *Client) CountSaleLots(ctx context.Context, firmID, saleNo string) (int, error) {
	var count int
	err := c.pool.QueryRow(ctx, `
		SELECT count(*) FROM lots l
		JOIN sales s ON s.sale_pk = l.lot_sale_fk
		JOIN auction_houses h ON h.firm_pk = s.sale_firm_fk
		WHERE h.firm_id = $1 AND s.sale_no = $2
	`, firmID, saleNo).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count sale lots: %w", wrapQueryError(err))
	}
	return count, nil
}

// SaleLotNumbers returns the lot numbers stored for one sale.
func (c *Client) SaleLotNumbers(ctx context.Context, firmID, saleNo string) ([]string, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT l.lot_no FROM lots l
		JOIN sales s ON s.sale_pk = l.lot_sale_fk
		JOIN auction_houses h ON h.firm_pk = s.sale_firm_fk
		WHERE h.firm_id = $1 AND s.sale_no = $2
	`, firmID, saleNo)
	if err != nil {
		return nil, fmt.Errorf("sale lot numbers: %w", wrapQueryError(err))
	}
	defer rows.Close()

	var numbers []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan lot number: %w", err)
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}

// FileStatus returns the recorded ingest status for a final snapshot file.
// Returns ErrNotFound when the file was never processed.
func (c *Client) FileStatus(ctx context.Context, fileName string) (string, error) {
	var status string
	err := c.pool.QueryRow(ctx, `SELECT status FROM uploaded_files WHERE file_name = $1`, fileName).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("file status: %w", wrapQueryError(err))
	}
	return status, nil
}

// MarkFileProcessed records or updates the ingest status of a snapshot file.
func (c *Client) MarkFileProcessed(ctx context.Context, fileName, filePath, status string) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO uploaded_files (file_name, file_path, status, processed_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (file_name) DO UPDATE SET
			file_path    = EXCLUDED.file_path,
			status       = EXCLUDED.status,
			processed_at = now()
	`, fileName, filePath, status)
	if err != nil {
		return fmt.Errorf("mark file processed: %w", wrapQueryError(err))
	}
	return nil
}

// Chunk is one embedded text fragment bound for the chunks table.
type Chunk struct {
	Text           string
	Embedding      []float32
	SourceType     string
	SourceName     string
	SourceID       string
	ChunkIndex     int
	ContentType    string
	Title          string
	Category       string
	EmbeddingModel string
	Metadata       map[string]any
}

// UpsertChunk stores an embedded chunk, replacing any previous embedding
// for the same (source_type, source_id, chunk_index).
func (c *Client) UpsertChunk(ctx context.Context, chunk Chunk) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO chunks (chunk_text, embedding, source_type, source_name, source_id,
		                    chunk_index, chunk_size, content_type, title, category, embedding_model, metadata)
		VALUES ($1, $2::vector, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (source_type, source_id, chunk_index) DO UPDATE SET
			chunk_text      = EXCLUDED.chunk_text,
			embedding       = EXCLUDED.embedding,
			source_name     = EXCLUDED.source_name,
			chunk_size      = EXCLUDED.chunk_size,
			content_type    = EXCLUDED.content_type,
			title           = EXCLUDED.title,
			category        = EXCLUDED.category,
			embedding_model = EXCLUDED.embedding_model,
			metadata        = EXCLUDED.metadata
	`, chunk.Text, vectorLiteral(chunk.Embedding), chunk.SourceType, chunk.SourceName,
		chunk.SourceID, chunk.ChunkIndex, len(chunk.Text), chunk.ContentType,
		chunk.Title, chunk.Category, chunk.EmbeddingModel, chunk.Metadata)
	if err != nil {
		return fmt.Errorf("upsert chunk %s/%s: %w", chunk.SourceType, chunk.SourceID, wrapQueryError(err))
	}
	return nil
}

// EmbeddedSourceIDs returns which of the given source ids already have a
// chunk stored for the source type.
func (c *Client) EmbeddedSourceIDs(ctx context.Context, sourceType string, sourceIDs []string) (map[string]bool, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT DISTINCT source_id FROM chunks
		WHERE source_type = $1 AND source_id = ANY($2)
	`, sourceType, sourceIDs)
	if err != nil {
		return nil, fmt.Errorf("embedded source ids: %w", wrapQueryError(err))
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan source id: %w", err)
		}
		existing[id] = true
	}
	return existing, rows.Err()
}

// vectorLiteral renders an embedding in pgvector's text format.
func vectorLiteral(embedding []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range embedding {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// PruneOldLogs deletes crawl log rows older than the retention window.
func (c *Client) PruneOldLogs(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := c.pool.Exec(ctx, `DELETE FROM crawl_logs WHERE created_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("prune logs: %w", wrapQueryError(err))
	}
	return tag.RowsAffected(), nil
}
