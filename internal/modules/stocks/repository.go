// Package stocks maintains the instrument catalog backing portfolios.
package stocks

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/heatmapapp/heatmap/internal/domain"
)

// Stock is a catalog entry. A holding may only reference tickers present
// here.
type Stock struct {
	Ticker      string `json:"ticker"`
	CompanyName string `json:"companyName"`
}

// Repository persists the stock catalog.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a stock catalog repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "stocks").Logger(),
	}
}

// Get returns the catalog entry for a ticker, or ErrStockNotFound.
func (r *Repository) Get(ticker string) (*Stock, error) {
	var s Stock
	err := r.db.QueryRow(
		"SELECT ticker, company_name FROM stocks WHERE ticker = ?",
		normalizeTicker(ticker),
	).Scan(&s.Ticker, &s.CompanyName)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", domain.ErrStockNotFound, ticker)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stock %s: %w", ticker, err)
	}
	return &s, nil
}

// Exists reports whether a ticker is in the catalog.
func (r *Repository) Exists(ticker string) (bool, error) {
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM stocks WHERE ticker = ?",
		normalizeTicker(ticker),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check stock %s: %w", ticker, err)
	}
	return count > 0, nil
}

// Save inserts or updates a catalog entry.
func (r *Repository) Save(s *Stock) error {
	_, err := r.db.Exec(
		`INSERT INTO stocks (ticker, company_name) VALUES (?, ?)
		 ON CONFLICT(ticker) DO UPDATE SET company_name = excluded.company_name`,
		normalizeTicker(s.Ticker), s.CompanyName,
	)
	if err != nil {
		return fmt.Errorf("failed to save stock %s: %w", s.Ticker, err)
	}
	return nil
}

// SaveAll upserts a batch of catalog entries in one transaction.
func (r *Repository) SaveAll(entries []Stock) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO stocks (ticker, company_name) VALUES (?, ?)
		 ON CONFLICT(ticker) DO UPDATE SET company_name = excluded.company_name`,
	)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, s := range entries {
		if _, err := stmt.Exec(normalizeTicker(s.Ticker), s.CompanyName); err != nil {
			return fmt.Errorf("failed to save stock %s: %w", s.Ticker, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	r.log.Info().Int("count", len(entries)).Msg("Saved stock catalog batch")
	return nil
}

// Delete removes a ticker from the catalog.
func (r *Repository) Delete(ticker string) error {
	result, err := r.db.Exec("DELETE FROM stocks WHERE ticker = ?", normalizeTicker(ticker))
	if err != nil {
		return fmt.Errorf("failed to delete stock %s: %w", ticker, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", domain.ErrStockNotFound, ticker)
	}
	return nil
}

// List returns all catalog entries ordered by ticker.
func (r *Repository) List() ([]Stock, error) {
	rows, err := r.db.Query("SELECT ticker, company_name FROM stocks ORDER BY ticker")
	if err != nil {
		return nil, fmt.Errorf("failed to list stocks: %w", err)
	}
	defer rows.Close()

	var entries []Stock
	for rows.Next() {
		var s Stock
		if err := rows.Scan(&s.Ticker, &s.CompanyName); err != nil {
			return nil, fmt.Errorf("failed to scan stock: %w", err)
		}
		entries = append(entries, s)
	}
	return entries, rows.Err()
}

// Tickers returns every catalog ticker ordered alphabetically.
func (r *Repository) Tickers() ([]string, error) {
	rows, err := r.db.Query("SELECT ticker FROM stocks ORDER BY ticker")
	if err != nil {
		return nil, fmt.Errorf("failed to list tickers: %w", err)
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan ticker: %w", err)
		}
		tickers = append(tickers, t)
	}
	return tickers, rows.Err()
}

// SearchPrefix returns catalog entries whose ticker or company name starts
// with the given prefix, case-insensitively.
func (r *Repository) SearchPrefix(prefix string, limit int) ([]Stock, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := strings.ToUpper(prefix) + "%"

	rows, err := r.db.Query(
		`SELECT ticker, company_name FROM stocks
		 WHERE ticker LIKE ? OR UPPER(company_name) LIKE ?
		 ORDER BY ticker LIMIT ?`,
		pattern, pattern, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search stocks: %w", err)
	}
	defer rows.Close()

	var entries []Stock
	for rows.Next() {
		var s Stock
		if err := rows.Scan(&s.Ticker, &s.CompanyName); err != nil {
			return nil, fmt.Errorf("failed to scan stock: %w", err)
		}
		entries = append(entries, s)
	}
	return entries, rows.Err()
}

func normalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}
