// Package pricehistory implements the daily closing-price store and the
// timeframe-to-anchor-price resolver built on top of it.
package pricehistory

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/heatmapapp/heatmap/internal/domain"
)

// Entry is one closing-price record. At most one entry exists per
// (ticker, date); the history schema enforces this with a UNIQUE constraint.
type Entry struct {
	ID           int64     `json:"id"`
	Ticker       string    `json:"ticker"`
	Date         time.Time `json:"date"`
	ClosingPrice float64   `json:"closingPrice"`
	PERatio      *float64  `json:"peRatio,omitempty"`
	MarketCap    *int64    `json:"marketCap,omitempty"`
}

// Repository handles price_history database operations.
// All reads are side-effect-free; Put and BulkInsert are the only mutators.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new price history repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "price_history").Logger(),
	}
}

const entryColumns = "id, ticker, date, closing_price, pe_ratio, market_cap"

func scanEntry(row interface{ Scan(...interface{}) error }) (*Entry, error) {
	var e Entry
	var dateStr string
	var peRatio sql.NullFloat64
	var marketCap sql.NullInt64

	if err := row.Scan(&e.ID, &e.Ticker, &dateStr, &e.ClosingPrice, &peRatio, &marketCap); err != nil {
		return nil, err
	}

	date, err := domain.ParseDate(dateStr)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q in price_history: %w", dateStr, err)
	}
	e.Date = date

	if peRatio.Valid {
		e.PERatio = &peRatio.Float64
	}
	if marketCap.Valid {
		e.MarketCap = &marketCap.Int64
	}

	return &e, nil
}

// Get returns the entry for an exact (ticker, date) match.
// Returns nil if no entry exists (not an error).
func (r *Repository) Get(ticker string, date time.Time) (*Entry, error) {
	query := fmt.Sprintf("SELECT %s FROM price_history WHERE ticker = ? AND date = ?", entryColumns)

	entry, err := scanEntry(r.db.QueryRow(query, ticker, domain.FormatDate(date)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get price history entry: %w", err)
	}

	return entry, nil
}

// Latest returns the most recent entry for a ticker.
// Returns nil if the ticker has no history (not an error).
func (r *Repository) Latest(ticker string) (*Entry, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM price_history WHERE ticker = ? ORDER BY date DESC LIMIT 1", entryColumns)

	entry, err := scanEntry(r.db.QueryRow(query, ticker))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest price: %w", err)
	}

	return entry, nil
}

// NearestOnOrBefore returns the most recent entry with entry.date <= date.
// Returns nil if no such entry exists (not an error).
func (r *Repository) NearestOnOrBefore(ticker string, date time.Time) (*Entry, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM price_history WHERE ticker = ? AND date <= ? ORDER BY date DESC LIMIT 1",
		entryColumns)

	entry, err := scanEntry(r.db.QueryRow(query, ticker, domain.FormatDate(date)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get nearest price: %w", err)
	}

	return entry, nil
}

// Exists reports whether an entry already exists for (ticker, date).
// The populator uses this to avoid duplicate writes.
func (r *Repository) Exists(ticker string, date time.Time) (bool, error) {
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM price_history WHERE ticker = ? AND date = ?",
		ticker, domain.FormatDate(date),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check price history existence: %w", err)
	}

	return count > 0, nil
}

// Put upserts an entry by (ticker, date), overwriting closing_price, pe_ratio
// and market_cap if the pair already exists. The bulk-insert path is expected
// to filter through Exists instead of relying on this overwrite behavior.
func (r *Repository) Put(e *Entry) (*Entry, error) {
	query := `
		INSERT INTO price_history (ticker, date, closing_price, pe_ratio, market_cap)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(ticker, date) DO UPDATE SET
			closing_price = excluded.closing_price,
			pe_ratio = excluded.pe_ratio,
			market_cap = excluded.market_cap
	`

	_, err := r.db.Exec(query, e.Ticker, domain.FormatDate(e.Date), e.ClosingPrice,
		nullFloat(e.PERatio), nullInt(e.MarketCap))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert price history entry: %w", err)
	}

	stored, err := r.Get(e.Ticker, e.Date)
	if err != nil {
		return nil, err
	}

	r.log.Debug().
		Str("ticker", e.Ticker).
		Str("date", domain.FormatDate(e.Date)).
		Float64("closing_price", e.ClosingPrice).
		Msg("Upserted price history entry")

	return stored, nil
}

// BulkInsert writes entries inside a single transaction. Callers are expected
// to have filtered out (ticker, date) pairs that already exist.
func (r *Repository) BulkInsert(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Will be no-op if Commit succeeds

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO price_history (ticker, date, closing_price, pe_ratio, market_cap)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		_, err := stmt.Exec(e.Ticker, domain.FormatDate(e.Date), e.ClosingPrice,
			nullFloat(e.PERatio), nullInt(e.MarketCap))
		if err != nil {
			return fmt.Errorf("failed to insert price for %s on %s: %w",
				e.Ticker, domain.FormatDate(e.Date), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.log.Info().
		Int("count", len(entries)).
		Str("ticker", entries[0].Ticker).
		Msg("Inserted price history entries")

	return nil
}

// History returns up to limit entries for a ticker, newest first.
func (r *Repository) History(ticker string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 30
	}

	query := fmt.Sprintf(
		"SELECT %s FROM price_history WHERE ticker = ? ORDER BY date DESC LIMIT ?", entryColumns)

	rows, err := r.db.Query(query, ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query price history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan price history entry: %w", err)
		}
		entries = append(entries, *entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating price history: %w", err)
	}

	return entries, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
