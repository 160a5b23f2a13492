// Package models defines the typed data structures for the numiscrawl pipeline.
package models

import (
	"strings"
	"time"
)

// AuctionEvent is one listing-site sale, identified by its external numeric id.
// Discovered from the homepage event links; metadata is refreshed on re-visit.
type AuctionEvent struct {
	ID         string   `json:"auctionid"`
	URL        string   `json:"eventUrl,omitempty"`
	Name       string   `json:"auctionname"`
	Title      string   `json:"auctiontitle"`
	EventDate  string   `json:"eventdate"`
	SaleName   string   `json:"extractedSaleName,omitempty"`
	Contact    Contact  `json:"contact"`
	SaleInfo   SaleInfo `json:"saleInfo"`
	TotalPages int      `json:"-"`
}

// Contact holds the firm contact block scraped from the firm info popup.
type Contact struct {
	FirmName string `json:"firmName"`
	Address  string `json:"address"`
	Phone    string `json:"phone"`
	Fax      string `json:"fax"`
	TollFree string `json:"tollFree"`
	Email    string `json:"email"`
	Website  string `json:"website"`
}

// AddressLines splits the comma-joined address into up to four lines,
// matching the auction_houses addr1..addr4 columns.
func (c Contact) AddressLines() [4]string {
	var out [4]string
	i := 0
	for _, part := range strings.Split(c.Address, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i == len(out) {
			break
		}
		out[i] = part
		i++
	}
	return out
}

// SaleInfo holds sale-level presentation metadata.
type SaleInfo struct {
	SaleLogo   string `json:"saleLogo"`
	SaleNumber string `json:"saleNumber,omitempty"`
}

// DateRange is a parsed event date span. Zero-value times mean "unknown".
type DateRange struct {
	Start time.Time
	End   time.Time
}

// ParseEventDate parses the listing site's event date strings:
// "Auction date: 3-5 May 2024" (range) or "Auction date: 3 May 2024" (single day).
// Unparseable input yields a zero DateRange; the ingest layer treats zero
// times as NULL.
func ParseEventDate(s string) DateRange {
	s = strings.TrimSpace(s)
	if s == "" {
		return DateRange{}
	}
	if i := strings.Index(strings.ToLower(s), "auction date:"); i >= 0 {
		s = strings.TrimSpace(s[i+len("auction date:"):])
	}

	parts := strings.Fields(s)
	if len(parts) < 3 {
		return DateRange{}
	}

	day, month, year := parts[0], parts[1], parts[2]
	if strings.Contains(day, "-") {
		span := strings.SplitN(day, "-", 2)
		start := parseDay(span[0], month, year)
		end := parseDay(span[1], month, year)
		return DateRange{Start: start, End: end}
	}

	dt := parseDay(day, month, year)
	return DateRange{Start: dt, End: dt}
}

func parseDay(day, month, year string) time.Time {
	for _, layout := range []string{"2 January 2006", "2 Jan 2006"} {
		if t, err := time.Parse(layout, day+" "+month+" "+year); err == nil {
			return t
		}
	}
	return time.Time{}
}
