package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/rsommer/numiscrawl/internal/metrics"
	"github.com/rsommer/numiscrawl/internal/models"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

var (
	saleIDPattern     = regexp.MustCompile(`/sale/(\d+)`)
	totalPagesPattern = regexp.MustCompile(`(?i)Page\s+\d+\s+of\s+(\d+)`)
	saleNumberPattern = regexp.MustCompile(`(\d+)$`)
	catPrefixPattern  = regexp.MustCompile(`^[A-Z]\.\s*`)
	catCountPattern   = regexp.MustCompile(`\s*\(\d+\)\s*$`)
	hrefPattern       = regexp.MustCompile(`(?i)<a[^>]*href=["'](https?://[^"']+)["']`)
	brPattern         = regexp.MustCompile(`(?i)<br\s*/?>`)
	tagPattern        = regexp.MustCompile(`<[^>]+>`)
)

// NumisBids is the Fetcher for numisbids.com.
type NumisBids struct {
	BaseURL string

	client    *http.Client
	logger    *slog.Logger
	collector *metrics.Collector
}

var _ Fetcher = (*NumisBids)(nil)

// NewNumisBids creates a fetcher with its own HTTP client.
func NewNumisBids(baseURL string, timeout time.Duration, logger *slog.Logger) *NumisBids {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &NumisBids{
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// SetMetrics attaches a collector for fetch timings. Safe to leave unset.
func (n *NumisBids) SetMetrics(c *metrics.Collector) {
	n.collector = c
}

func (n *NumisBids) record(op string, start time.Time, err error) {
	if n.collector == nil {
		return
	}
	if err != nil {
		n.collector.RecordError(op)
		return
	}
	n.collector.RecordTiming(op, time.Since(start))
}

// get fetches a URL and returns the parsed document plus the final URL after
// redirects. The site redirects /event/ links to their /sale/ page, and the
// final URL is the only place the sale id appears.
func (n *NumisBids) get(ctx context.Context, url string) (*goquery.Document, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("parse %s: %w", url, err)
	}
	return doc, resp.Request.URL.String(), nil
}

// DiscoverAuctions scrapes the homepage for event links.
func (n *NumisBids) DiscoverAuctions(ctx context.Context) ([]string, error) {
	doc, _, err := n.get(ctx, n.BaseURL+"/")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var links []string
	doc.Find(`td.firmcell a[href^="/event/"], td.firmcell-e a[href^="/event/"]`).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || seen[href] {
			return
		}
		seen[href] = true
		links = append(links, n.BaseURL+href)
	})

	n.logger.Info("discovered event links", "count", len(links))
	return links, nil
}

// ResolveEvent follows an event link to its sale page and assembles the
// auction metadata.
func (n *NumisBids) ResolveEvent(ctx context.Context, eventURL string) (models.AuctionEvent, error) {
	doc, finalURL, err := n.get(ctx, eventURL)
	if err != nil {
		return models.AuctionEvent{}, err
	}

	m := saleIDPattern.FindStringSubmatch(finalURL)
	if m == nil {
		// Not redirected: look for a sale link in the page body.
		if href, ok := doc.Find(`a[href*="/sale/"]`).First().Attr("href"); ok {
			m = saleIDPattern.FindStringSubmatch(href)
		}
	}
	if m == nil {
		return models.AuctionEvent{}, fmt.Errorf("no sale id for event %s", eventURL)
	}
	auctionID := m[1]

	event := models.AuctionEvent{
		ID:   auctionID,
		URL:  fmt.Sprintf("%s/sale/%s", n.BaseURL, auctionID),
		Name: strings.TrimSpace(doc.Find(".text .name").First().Text()),
	}

	status := doc.Find(".salestatus").First()
	if src, ok := status.Find("img").First().Attr("src"); ok {
		event.SaleInfo.SaleLogo = absoluteURL(src)
	}
	if bold := strings.TrimSpace(status.Find(".text b").First().Text()); bold != "" {
		if m := saleNumberPattern.FindStringSubmatch(bold); m != nil {
			event.SaleInfo.SaleNumber = m[1]
		}
	}

	if href, ok := doc.Find(".salestatus a.firminfopopup").First().Attr("href"); ok {
		contact, err := n.fetchContact(ctx, n.BaseURL+href)
		if err != nil {
			n.logger.Warn("failed to extract contact info", "auction_id", auctionID, "error", err)
		} else {
			event.Contact = contact
		}
	}

	if href, ok := doc.Find("a.saleinfopopup.saleinfo").First().Attr("href"); ok {
		name, err := n.fetchSaleName(ctx, n.BaseURL+href)
		if err != nil {
			n.logger.Warn("failed to extract sale name", "auction_id", auctionID, "error", err)
		} else {
			event.SaleName = name
		}
	}

	return event, nil
}

// fetchContact parses the firm info popup: the first line of the .indent
// block is the firm name, the next lines are address until keyword lines
// (phone, fax, email, website) take over.
func (n *NumisBids) fetchContact(ctx context.Context, url string) (models.Contact, error) {
	doc, _, err := n.get(ctx, url)
	if err != nil {
		return models.Contact{}, err
	}

	indent := doc.Find(".indent").First()
	var contact models.Contact

	var lines []string
	for _, line := range strings.Split(indent.Text(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	for _, line := range lines {
		lower := strings.ToLower(line)
		switch {
		case contact.Phone == "" && containsAny(lower, "ph", "phone", "tel", "mobile", "call"):
			contact.Phone = line
		case contact.Fax == "" && containsAny(lower, "fx", "fax"):
			contact.Fax = line
		case contact.TollFree == "" && strings.Contains(lower, "toll"):
			contact.TollFree = line
		case contact.Email == "" && strings.Contains(line, "@"):
			contact.Email = line
		case contact.Website == "" && strings.Contains(line, "http"):
			contact.Website = line
		}
	}
	if contact.Website == "" {
		if html, err := indent.Html(); err == nil {
			if m := hrefPattern.FindStringSubmatch(html); m != nil {
				contact.Website = m[1]
			}
		}
	}
	if len(lines) > 0 {
		contact.FirmName = lines[0]
	}
	if len(lines) > 1 {
		end := len(lines)
		if end > 3 {
			end = 3
		}
		contact.Address = strings.Join(lines[1:end], ", ")
	}
	return contact, nil
}

// fetchSaleName reads the sale info popup. The name is the first line of
// the paragraph under the "Auction Location, Timetable" header.
func (n *NumisBids) fetchSaleName(ctx context.Context, url string) (string, error) {
	doc, _, err := n.get(ctx, url)
	if err != nil {
		return "", err
	}

	name := ""
	doc.Find(`div[style*="background: lightgray"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !strings.Contains(s.Text(), "Auction Location, Timetable") {
			return true
		}
		indent := s.Next()
		if !indent.HasClass("indent") {
			return true
		}
		text := indent.Find("p").First().Text()
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			text = text[:i]
		}
		name = strings.TrimSpace(text)
		return false
	})
	if name == "" {
		return "", fmt.Errorf("sale name not found at %s", url)
	}
	return name, nil
}

// SalePage fetches one catalog page of a sale.
func (n *NumisBids) SalePage(ctx context.Context, auctionID string, page int) (PageInfo, []LotSummary, error) {
	url := fmt.Sprintf("%s/sale/%s?pg=%d", n.BaseURL, auctionID, page)
	start := time.Now()
	doc, _, err := n.get(ctx, url)
	n.record(metrics.OpPageFetch, start, err)
	if err != nil {
		return PageInfo{}, nil, err
	}

	info := parsePageInfo(doc)
	lots := parseLotSummaries(doc, n.BaseURL)

	n.logger.Debug("fetched sale page", "auction_id", auctionID, "page", page,
		"total_pages", info.TotalPages, "lots", len(lots))
	return info, lots, nil
}

func parsePageInfo(doc *goquery.Document) PageInfo {
	info := PageInfo{TotalPages: 1}

	textDiv := doc.Find(".text").First()
	info.AuctionName = strings.TrimSpace(textDiv.Find(".name").First().Text())
	title := strings.TrimSpace(textDiv.Find("b").First().Text())
	if title != "" {
		info.AuctionTitle = info.AuctionName + ", " + title
	} else {
		info.AuctionTitle = info.AuctionName + ", Unknown"
	}

	// The event date sits as bare text right after the bold title.
	if html, err := textDiv.Html(); err == nil {
		if m := regexp.MustCompile(`<b>.*?</b>(?:&nbsp;|\s)*([^<]+)`).FindStringSubmatch(html); m != nil {
			info.EventDate = strings.TrimSpace(m[1])
		}
	}

	if m := totalPagesPattern.FindStringSubmatch(doc.Find(".salenav-top .small").First().Text()); m != nil {
		if pages, err := strconv.Atoi(m[1]); err == nil && pages > 0 {
			info.TotalPages = pages
		}
	}
	return info
}

func parseLotSummaries(doc *goquery.Document, baseURL string) []LotSummary {
	var lots []LotSummary
	doc.Find(".browse").Each(func(_ int, s *goquery.Selection) {
		var lot LotSummary
		lot.LotNumber = strings.TrimSpace(strings.Replace(s.Find(".lot a").First().Text(), "Lot ", "", 1))
		if lot.LotNumber == "" {
			return
		}
		if href, ok := s.Find(`a[href*="/lot/"]`).First().Attr("href"); ok {
			lot.URL = baseURL + href
		}
		lot.Name = strings.TrimSpace(s.Find(".summary a").First().Text())
		if src, ok := s.Find("img").First().Attr("src"); ok {
			lot.ThumbImage = absoluteURL(src)
		}
		lot.StartingPrice = strings.TrimSpace(s.Find(".estimate span").First().Text())
		lot.RealizedPrice = strings.TrimSpace(s.Find(".realized span").First().Text())
		lots = append(lots, lot)
	})
	return lots
}

// LotDetail fetches a lot page for its category, full description, and
// full-size image.
func (n *NumisBids) LotDetail(ctx context.Context, lotURL string) (LotDetail, error) {
	start := time.Now()
	doc, _, err := n.get(ctx, lotURL)
	n.record(metrics.OpLotFetch, start, err)
	if err != nil {
		return LotDetail{}, err
	}

	var detail LotDetail

	raw := strings.TrimSpace(doc.Find("#activecat span a").Last().Text())
	raw = catPrefixPattern.ReplaceAllString(raw, "")
	detail.Category = strings.TrimSpace(catCountPattern.ReplaceAllString(raw, ""))

	desc := doc.Find(".viewlottext > .description").Last()
	if html, err := desc.Html(); err == nil {
		text := brPattern.ReplaceAllString(html, "\n")
		text = tagPattern.ReplaceAllString(text, "")
		detail.FullDescription = strings.TrimSpace(text)
	}

	if src, ok := doc.Find(".viewlotimg img").First().Attr("src"); ok {
		detail.ImageURL = absoluteURL(src)
	}

	return detail, nil
}

// absoluteURL upgrades protocol-relative image sources.
func absoluteURL(src string) string {
	if strings.HasPrefix(src, "//") {
		return "https:" + src
	}
	return src
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
