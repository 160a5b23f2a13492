// Package fetch retrieves auction listings from the remote listing site and
// parses them into typed records.
package fetch

import (
	"context"

	"github.com/rsommer/numiscrawl/internal/models"
)

// PageInfo is the metadata read from one sale catalog page.
type PageInfo struct {
	AuctionName  string
	AuctionTitle string
	EventDate    string
	TotalPages   int
}

// LotSummary is what the catalog listing shows for one lot, before the
// detail page is visited.
type LotSummary struct {
	LotNumber     string
	Name          string
	URL           string
	ThumbImage    string
	StartingPrice string
	RealizedPrice string
}

// LotDetail is the extra data only available on a lot's own page.
type LotDetail struct {
	Category        string
	FullDescription string
	ImageURL        string
}

// Fetcher retrieves and parses listing-site pages. Implementations must be
// safe for sequential reuse; the crawl driver never calls them concurrently.
type Fetcher interface {
	// DiscoverAuctions returns the event links found on the homepage,
	// deduplicated, in page order.
	DiscoverAuctions(ctx context.Context) ([]string, error)

	// ResolveEvent follows an event link to its sale page and collects the
	// auction metadata: external id, firm contact block, sale name, logo.
	ResolveEvent(ctx context.Context, eventURL string) (models.AuctionEvent, error)

	// SalePage fetches one catalog page of a sale.
	SalePage(ctx context.Context, auctionID string, page int) (PageInfo, []LotSummary, error)

	// LotDetail fetches a lot's own page for category, description, image.
	LotDetail(ctx context.Context, lotURL string) (LotDetail, error)
}
