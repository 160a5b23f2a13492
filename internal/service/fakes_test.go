package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/rsommer/numiscrawl/internal/db"
	"github.com/rsommer/numiscrawl/internal/fetch"
	"github.com/rsommer/numiscrawl/internal/models"
)

// fakeStore is an in-memory stand-in for db.Client covering the store
// interfaces of every service. Transactions degrade to direct calls; the
// services under test never dereference the pgx.Tx they are handed.
type fakeStore struct {
	mu sync.Mutex

	jobs      map[int64]models.CrawlJob
	nextJobID int64
	getJobErr error

	firms  map[string]int64            // firm id -> firm pk
	sales  map[string]int64            // auction id -> sale pk
	lots   map[string]map[string]int64 // auction id -> lot number -> lot pk
	nextPK int64

	categories     map[string]bool
	saleCategories map[int64][]string
	files          map[string]string // file name -> status
	chunks         map[string]db.Chunk
	stats          map[int64]models.JobStats
	logs           []string

	txErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:           make(map[int64]models.CrawlJob),
		firms:          make(map[string]int64),
		sales:          make(map[string]int64),
		lots:           make(map[string]map[string]int64),
		categories:     make(map[string]bool),
		saleCategories: make(map[int64][]string),
		files:          make(map[string]string),
		chunks:         make(map[string]db.Chunk),
		stats:          make(map[int64]models.JobStats),
	}
}

func (f *fakeStore) addJob(status models.JobStatus) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextJobID++
	f.jobs[f.nextJobID] = models.CrawlJob{ID: f.nextJobID, Status: status}
	return f.nextJobID
}

func (f *fakeStore) setJobStatus(jobID int64, status models.JobStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[jobID]
	job.Status = status
	f.jobs[jobID] = job
}

func (f *fakeStore) lotCount(auctionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lots[auctionID])
}

// --- ControlStore ---

func (f *fakeStore) GetJob(_ context.Context, jobID int64) (models.CrawlJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getJobErr != nil {
		return models.CrawlJob{}, f.getJobErr
	}
	job, ok := f.jobs[jobID]
	if !ok {
		return models.CrawlJob{}, db.ErrNotFound
	}
	return job, nil
}

func (f *fakeStore) UpdateJobStatus(_ context.Context, jobID int64, status models.JobStatus, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[jobID]
	job.Status = status
	if errorMessage != "" {
		job.ErrorMessage = &errorMessage
	}
	f.jobs[jobID] = job
	return nil
}

func (f *fakeStore) SaveResumeState(_ context.Context, jobID int64, state models.ResumeState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[jobID]
	job.ResumeState = &state
	f.jobs[jobID] = job
	return nil
}

func (f *fakeStore) ClearResumeState(_ context.Context, jobID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[jobID]
	job.ResumeState = nil
	f.jobs[jobID] = job
	return nil
}

func (f *fakeStore) UpdateCurrentPosition(_ context.Context, jobID int64, auctionID, lotNumber string, auctionIndex int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[jobID]
	job.CurrentAuctionID = auctionID
	job.CurrentLotNumber = lotNumber
	job.CurrentAuctionIndex = auctionIndex
	f.jobs[jobID] = job
	return nil
}

func (f *fakeStore) UpdateJobStatistics(_ context.Context, jobID int64, stats models.JobStats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats[jobID] = stats
	return nil
}

func (f *fakeStore) InsertLog(_ context.Context, _ int64, level, message, _ string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, level+": "+message)
	return nil
}

// --- ResolverStore ---

func (f *fakeStore) SaleExists(_ context.Context, firmID, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sales[firmID]
	return ok, nil
}

func (f *fakeStore) CountSaleLots(_ context.Context, firmID, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lots[firmID]), nil
}

func (f *fakeStore) SaleLotNumbers(_ context.Context, firmID, _ string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var numbers []string
	for n := range f.lots[firmID] {
		numbers = append(numbers, n)
	}
	return numbers, nil
}

func (f *fakeStore) FileStatus(_ context.Context, fileName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.files[fileName]
	if !ok {
		return "", db.ErrNotFound
	}
	return status, nil
}

// --- IngestStore ---

func (f *fakeStore) WithTx(_ context.Context, fn func(pgx.Tx) error) error {
	if f.txErr != nil {
		return f.txErr
	}
	return fn(nil)
}

func (f *fakeStore) UpsertAuctionHouse(_ context.Context, _ pgx.Tx, firmID string, _ models.Contact) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pk, ok := f.firms[firmID]; ok {
		return pk, nil
	}
	f.nextPK++
	f.firms[firmID] = f.nextPK
	return f.nextPK, nil
}

func (f *fakeStore) UpsertSale(_ context.Context, _ pgx.Tx, _ int64, event models.AuctionEvent) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pk, ok := f.sales[event.ID]; ok {
		return pk, nil
	}
	f.nextPK++
	f.sales[event.ID] = f.nextPK
	return f.nextPK, nil
}

func (f *fakeStore) UpsertLot(_ context.Context, _ pgx.Tx, _, _ int64, lot models.Lot) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lots[lot.AuctionID] == nil {
		f.lots[lot.AuctionID] = make(map[string]int64)
	}
	if pk, ok := f.lots[lot.AuctionID][lot.LotNumber]; ok {
		return pk, nil
	}
	f.nextPK++
	f.lots[lot.AuctionID][lot.LotNumber] = f.nextPK
	return f.nextPK, nil
}

func (f *fakeStore) InsertCategory(_ context.Context, _ pgx.Tx, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name != "" {
		f.categories[name] = true
	}
	return nil
}

func (f *fakeStore) UpdateSaleCategories(_ context.Context, _ pgx.Tx, salePK int64, categories []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saleCategories[salePK] = categories
	return nil
}

func (f *fakeStore) MarkFileProcessed(_ context.Context, fileName, _, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[fileName] = status
	return nil
}

func (f *fakeStore) EmbeddedSourceIDs(_ context.Context, sourceType string, sourceIDs []string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing := make(map[string]bool)
	for _, id := range sourceIDs {
		if _, ok := f.chunks[sourceType+"/"+id]; ok {
			existing[id] = true
		}
	}
	return existing, nil
}

func (f *fakeStore) UpsertChunk(_ context.Context, chunk db.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks[chunk.SourceType+"/"+chunk.SourceID] = chunk
	return nil
}

// fakeEmbedder returns a constant vector and can be told to fail on texts
// containing a marker substring.
type fakeEmbedder struct {
	mu       sync.Mutex
	calls    int
	failText string
}

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.failText != "" && strings.Contains(text, e.failText) {
		return nil, errors.New("invalid api key")
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (e *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (e *fakeEmbedder) Model() string  { return "fake-model" }
func (e *fakeEmbedder) Dimension() int { return 3 }

// fakeFetcher serves scripted pages. The onLotDetail hook fires before each
// detail fetch so tests can flip job state mid-crawl.
type fakeFetcher struct {
	events      map[string]models.AuctionEvent      // event url -> event
	infos       map[string]fetch.PageInfo           // auction id -> page info
	pages       map[string][][]fetch.LotSummary     // auction id -> pages
	details     map[string]fetch.LotDetail          // lot url -> detail
	onLotDetail func(lotURL string)
}

var _ fetch.Fetcher = (*fakeFetcher)(nil)

func (f *fakeFetcher) DiscoverAuctions(context.Context) ([]string, error) {
	urls := make([]string, 0, len(f.events))
	for url := range f.events {
		urls = append(urls, url)
	}
	return urls, nil
}

func (f *fakeFetcher) ResolveEvent(_ context.Context, eventURL string) (models.AuctionEvent, error) {
	event, ok := f.events[eventURL]
	if !ok {
		return models.AuctionEvent{}, fmt.Errorf("unknown event %s", eventURL)
	}
	return event, nil
}

func (f *fakeFetcher) SalePage(_ context.Context, auctionID string, page int) (fetch.PageInfo, []fetch.LotSummary, error) {
	pages, ok := f.pages[auctionID]
	if !ok || page < 1 || page > len(pages) {
		return fetch.PageInfo{}, nil, fmt.Errorf("unknown page %s/%d", auctionID, page)
	}
	return f.infos[auctionID], pages[page-1], nil
}

func (f *fakeFetcher) LotDetail(_ context.Context, lotURL string) (fetch.LotDetail, error) {
	if f.onLotDetail != nil {
		f.onLotDetail(lotURL)
	}
	detail, ok := f.details[lotURL]
	if !ok {
		return fetch.LotDetail{}, fmt.Errorf("unknown lot %s", lotURL)
	}
	return detail, nil
}
