package db

import "fmt"

// schemaSQL returns the schema DDL with the chunk embedding dimension baked
// in. All statements are idempotent.
func schemaSQL(embedDim int) string {
	return fmt.Sprintf(schemaTemplate, embedDim)
}

const schemaTemplate = `
CREATE EXTENSION IF NOT EXISTS vector;

-- ==========================================================================
-- AUCTION HOUSES
-- ==========================================================================
CREATE TABLE IF NOT EXISTS auction_houses (
    firm_pk     BIGSERIAL PRIMARY KEY,
    firm_id     TEXT NOT NULL UNIQUE,
    name        TEXT,
    addr1       TEXT,
    addr2       TEXT,
    addr3       TEXT,
    addr4       TEXT,
    phone       TEXT,
    fax         TEXT,
    s_email     TEXT,
    s_webpage   TEXT,
    last_update TIMESTAMPTZ NOT NULL DEFAULT now()
);

-- ==========================================================================
-- SALES
-- ==========================================================================
CREATE TABLE IF NOT EXISTS sales (
    sale_pk            BIGSERIAL PRIMARY KEY,
    sale_firm_fk       BIGINT NOT NULL REFERENCES auction_houses(firm_pk),
    sale_no            TEXT NOT NULL,
    salename           TEXT,
    date1              DATE,
    date2              DATE,
    salelogo           TEXT,
    salesource         TEXT,
    keyword_categories TEXT[],
    UNIQUE (sale_firm_fk, sale_no)
);

-- ==========================================================================
-- LOTS
-- ==========================================================================
CREATE TABLE IF NOT EXISTS lots (
    lot_pk      BIGSERIAL PRIMARY KEY,
    lot_firm_fk BIGINT NOT NULL REFERENCES auction_houses(firm_pk),
    lot_sale_fk BIGINT NOT NULL REFERENCES sales(sale_pk),
    lot_no      TEXT NOT NULL,
    majgroup    TEXT,
    catdescr    TEXT,
    title       TEXT,
    image_url   TEXT,
    lot_url     TEXT,
    close_date  TIMESTAMPTZ,
    opening     NUMERIC,
    realized    NUMERIC,
    currency    TEXT,
    last_edit   TIMESTAMPTZ NOT NULL DEFAULT now(),
    primarykey  TEXT NOT NULL UNIQUE
);
CREATE INDEX IF NOT EXISTS lots_sale_idx ON lots (lot_sale_fk);

-- ==========================================================================
-- CATEGORIES
-- ==========================================================================
CREATE TABLE IF NOT EXISTS categories (
    category_pk BIGSERIAL PRIMARY KEY,
    name        TEXT NOT NULL UNIQUE
);

-- ==========================================================================
-- CHUNKS (embedded lot text for semantic search)
-- ==========================================================================
CREATE TABLE IF NOT EXISTS chunks (
    chunk_pk        BIGSERIAL PRIMARY KEY,
    chunk_text      TEXT NOT NULL,
    embedding       vector(%d),
    source_type     TEXT NOT NULL,
    source_name     TEXT,
    source_id       TEXT NOT NULL,
    chunk_index     INT NOT NULL DEFAULT 0,
    chunk_size      INT,
    content_type    TEXT,
    title           TEXT,
    category        TEXT,
    embedding_model TEXT,
    metadata        JSONB,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (source_type, source_id, chunk_index)
);

-- ==========================================================================
-- UPLOADED FILES (final snapshot ingest tracking)
-- ==========================================================================
CREATE TABLE IF NOT EXISTS uploaded_files (
    file_pk      BIGSERIAL PRIMARY KEY,
    file_name    TEXT NOT NULL UNIQUE,
    file_path    TEXT,
    status       TEXT NOT NULL,
    processed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

-- ==========================================================================
-- CRAWL JOBS (shared control channel between CLI and running crawls)
-- ==========================================================================
CREATE TABLE IF NOT EXISTS crawl_jobs (
    job_pk                BIGSERIAL PRIMARY KEY,
    status                TEXT NOT NULL DEFAULT 'pending',
    resume_state          JSONB,
    current_auction_id    TEXT,
    current_lot_number    TEXT,
    current_auction_index INT,
    total_auctions        INT,
    error_message         TEXT,
    started_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
    completed_at          TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS job_statistics (
    job_fk             BIGINT PRIMARY KEY REFERENCES crawl_jobs(job_pk) ON DELETE CASCADE,
    total_auctions     INT NOT NULL DEFAULT 0,
    processed_auctions INT NOT NULL DEFAULT 0,
    total_lots         INT NOT NULL DEFAULT 0,
    processed_lots     INT NOT NULL DEFAULT 0,
    files_created      INT NOT NULL DEFAULT 0,
    files_completed    INT NOT NULL DEFAULT 0,
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS crawl_logs (
    log_pk     BIGSERIAL PRIMARY KEY,
    job_fk     BIGINT REFERENCES crawl_jobs(job_pk) ON DELETE CASCADE,
    log_level  TEXT NOT NULL,
    message    TEXT NOT NULL,
    source     TEXT,
    metadata   JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS crawl_logs_job_idx ON crawl_logs (job_fk);
`
