package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Lot is one sellable item within an auction. Its identity is
// (AuctionID, LotNumber); every store keys on that pair, never on row order.
// The JSON tags are the wire names used by the checkpoint files so snapshots
// written by earlier runs keep loading.
type Lot struct {
	AuctionID        string `json:"auctionid"`
	LotURL           string `json:"loturl"`
	AuctionName      string `json:"auctionname"`
	AuctionTitle     string `json:"auctiontitle"`
	EventDate        string `json:"eventdate"`
	Category         string `json:"category"`
	StartingPrice    string `json:"startingprice"`
	RealizedPrice    string `json:"realizedprice"`
	ImageURL         string `json:"imagepath"`
	FullDescription  string `json:"fulldescription"`
	LotNumber        string `json:"lotnumber"`
	ShortDescription string `json:"shortdescription"`
	Name             string `json:"lotname"`
}

// NumericLotNumber strips non-digit fragments from the lot number for sort
// order ("152a" sorts as 152). Returns 0 for fully non-numeric lot numbers.
func (l Lot) NumericLotNumber() int {
	var b strings.Builder
	for _, r := range l.LotNumber {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	n, _ := strconv.Atoi(b.String())
	return n
}

// PrimaryKey is the composite natural key used by the lots table.
func (l Lot) PrimaryKey() string {
	return fmt.Sprintf("%s-%s-%s", l.AuctionID, l.AuctionID, l.LotNumber)
}

// Price is a parsed price string with its trailing currency code.
type Price struct {
	Amount   float64
	Currency string
	Valid    bool
}

// ParsePrice extracts amount and currency from strings like
// "Starting price: 1,500 EUR" or "750 CHF". The currency is whatever
// trails the number; a missing or non-numeric amount yields Valid=false.
func ParsePrice(s string) Price {
	s = strings.TrimSpace(s)
	if s == "" {
		return Price{}
	}
	lower := strings.ToLower(s)
	if i := strings.Index(lower, "starting price:"); i >= 0 {
		s = strings.TrimSpace(s[i+len("starting price:"):])
	}
	parts := strings.Fields(s)
	if len(parts) == 0 {
		return Price{}
	}
	currency := parts[len(parts)-1]
	amountStr := strings.ReplaceAll(strings.Join(parts[:len(parts)-1], ""), ",", "")
	amount, err := strconv.ParseFloat(amountStr, 64)
	if err != nil {
		return Price{Currency: currency}
	}
	return Price{Amount: amount, Currency: currency, Valid: true}
}

// FinalSnapshot is the consolidated per-auction document written to the
// final directory once a run completes.
type FinalSnapshot struct {
	AuctionID    string   `json:"auctionid"`
	AuctionName  string   `json:"auctionname"`
	AuctionTitle string   `json:"auctiontitle"`
	EventDate    string   `json:"eventdate"`
	SaleName     string   `json:"extractedSaleName,omitempty"`
	Contact      Contact  `json:"contact"`
	SaleInfo     SaleInfo `json:"saleInfo"`
	Lots         []Lot    `json:"lots"`
}

// Event returns the snapshot's auction metadata as an AuctionEvent.
func (s FinalSnapshot) Event() AuctionEvent {
	return AuctionEvent{
		ID:        s.AuctionID,
		Name:      s.AuctionName,
		Title:     s.AuctionTitle,
		EventDate: s.EventDate,
		SaleName:  s.SaleName,
		Contact:   s.Contact,
		SaleInfo:  s.SaleInfo,
	}
}

// DecodeSnapshot is the single normalization boundary for final-file data.
// It accepts both the wrapped document form and the legacy bare-array form,
// tolerates mixed-case keys (encoding/json matches tags case-insensitively),
// and backfills the auction id into every lot. No raw maps escape this
// function.
func DecodeSnapshot(data []byte, fallbackAuctionID string) (FinalSnapshot, error) {
	data = []byte(strings.TrimSpace(string(data)))
	if len(data) == 0 {
		return FinalSnapshot{}, fmt.Errorf("empty snapshot document")
	}

	var snap FinalSnapshot
	if data[0] == '[' {
		var lots []Lot
		if err := json.Unmarshal(data, &lots); err != nil {
			return FinalSnapshot{}, fmt.Errorf("decode lot array: %w", err)
		}
		snap.Lots = lots
		if len(lots) > 0 {
			snap.AuctionID = lots[0].AuctionID
			snap.AuctionName = lots[0].AuctionName
			snap.AuctionTitle = lots[0].AuctionTitle
			snap.EventDate = lots[0].EventDate
		}
	} else {
		if err := json.Unmarshal(data, &snap); err != nil {
			return FinalSnapshot{}, fmt.Errorf("decode snapshot: %w", err)
		}
	}

	if snap.AuctionID == "" {
		snap.AuctionID = fallbackAuctionID
	}
	for i := range snap.Lots {
		if snap.Lots[i].AuctionID == "" || snap.Lots[i].AuctionID != snap.AuctionID {
			snap.Lots[i].AuctionID = snap.AuctionID
		}
		if snap.Lots[i].AuctionName == "" {
			snap.Lots[i].AuctionName = snap.AuctionName
		}
		if snap.Lots[i].AuctionTitle == "" {
			snap.Lots[i].AuctionTitle = snap.AuctionTitle
		}
		if snap.Lots[i].EventDate == "" {
			snap.Lots[i].EventDate = snap.EventDate
		}
	}
	return snap, nil
}
