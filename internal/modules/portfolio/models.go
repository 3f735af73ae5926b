// Package portfolio manages user portfolios and their holdings.
package portfolio

import (
	"strings"
	"time"
)

// CashTicker is the pseudo-instrument for uninvested cash. Matched
// case-insensitively; one share is worth one unit of currency.
const CashTicker = "CASH"

// Portfolio groups holdings for a single user.
type Portfolio struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"userId"`
	Name       string    `json:"name"`
	IsFavorite bool      `json:"isFavorite"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Holding is a position in a portfolio. PurchasePrice is nullable: a
// holding may be recorded before its cost basis is known, and derived
// metrics must treat that as unknown rather than zero.
type Holding struct {
	ID            int64      `json:"id"`
	PortfolioID   int64      `json:"portfolioId"`
	Ticker        string     `json:"ticker"`
	Shares        float64    `json:"shares"`
	PurchasePrice *float64   `json:"purchasePrice"`
	PurchaseDate  time.Time  `json:"purchaseDate"`
	SellingPrice  *float64   `json:"sellingPrice,omitempty"`
	SellingDate   *time.Time `json:"sellingDate,omitempty"`
}

// IsCash reports whether the holding is the cash pseudo-instrument.
func (h *Holding) IsCash() bool {
	return strings.EqualFold(h.Ticker, CashTicker)
}

// IsClosed reports whether the position has been sold. A selling date is
// what closes a position; the price check covers rows written with only
// the sale price recorded.
func (h *Holding) IsClosed() bool {
	return h.SellingDate != nil || h.SellingPrice != nil
}

// CurrentValue is shares times the given price. Cash holdings are valued
// at face value regardless of the price argument.
func (h *Holding) CurrentValue(price float64) float64 {
	if h.IsCash() {
		return h.Shares
	}
	return h.Shares * price
}

// GainLoss is the unrealized gain against the purchase price, or nil when
// the cost basis is unknown.
func (h *Holding) GainLoss(price float64) *float64 {
	if h.PurchasePrice == nil {
		return nil
	}
	if h.IsCash() {
		zero := 0.0
		return &zero
	}
	v := (price - *h.PurchasePrice) * h.Shares
	return &v
}

// PercentageReturn is the unrealized percent return against the purchase
// price. Nil when the basis is unknown or zero.
func (h *Holding) PercentageReturn(price float64) *float64 {
	if h.PurchasePrice == nil || *h.PurchasePrice == 0 {
		return nil
	}
	if h.IsCash() {
		zero := 0.0
		return &zero
	}
	v := (price - *h.PurchasePrice) / *h.PurchasePrice * 100
	return &v
}

// RealizedGain is the gain locked in by a closed position, or nil when the
// position is open or the basis is unknown.
func (h *Holding) RealizedGain() *float64 {
	if h.SellingPrice == nil || h.PurchasePrice == nil {
		return nil
	}
	v := (*h.SellingPrice - *h.PurchasePrice) * h.Shares
	return &v
}
