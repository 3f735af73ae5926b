package portfolio

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/heatmapapp/heatmap/internal/domain"
)

// Repository persists portfolios and holdings.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a portfolio repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "portfolio").Logger(),
	}
}

const portfolioColumns = "id, user_id, name, is_favorite, created_at, updated_at"

func scanPortfolio(row interface{ Scan(...any) error }) (*Portfolio, error) {
	var p Portfolio
	var createdAt, updatedAt string
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.IsFavorite, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &p, nil
}

// CreatePortfolio inserts a portfolio. Names are unique per user.
func (r *Repository) CreatePortfolio(userID, name string) (*Portfolio, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := r.db.Exec(
		`INSERT INTO portfolios (user_id, name, is_favorite, created_at, updated_at)
		 VALUES (?, ?, 0, ?, ?)`,
		userID, name, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("portfolio %q already exists for user %s", name, userID)
		}
		return nil, fmt.Errorf("failed to create portfolio: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio id: %w", err)
	}

	r.log.Info().Int64("id", id).Str("user", userID).Str("name", name).Msg("Created portfolio")
	return r.GetPortfolio(id)
}

// GetPortfolio returns a portfolio by id, or nil if it does not exist.
func (r *Repository) GetPortfolio(id int64) (*Portfolio, error) {
	p, err := scanPortfolio(r.db.QueryRow(
		"SELECT "+portfolioColumns+" FROM portfolios WHERE id = ?", id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio %d: %w", id, err)
	}
	return p, nil
}

// ListPortfolios returns all portfolios for a user, favorites first.
func (r *Repository) ListPortfolios(userID string) ([]Portfolio, error) {
	rows, err := r.db.Query(
		"SELECT "+portfolioColumns+" FROM portfolios WHERE user_id = ? ORDER BY is_favorite DESC, name",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list portfolios: %w", err)
	}
	defer rows.Close()

	var portfolios []Portfolio
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan portfolio: %w", err)
		}
		portfolios = append(portfolios, *p)
	}
	return portfolios, rows.Err()
}

// DeletePortfolio removes a portfolio; holdings cascade.
func (r *Repository) DeletePortfolio(id int64) error {
	result, err := r.db.Exec("DELETE FROM portfolios WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete portfolio %d: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: portfolio %d", domain.ErrNotFound, id)
	}
	return nil
}

// SetFavorite flags a portfolio as the user's favorite, clearing the flag
// on their other portfolios.
func (r *Repository) SetFavorite(userID string, id int64, favorite bool) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if favorite {
		if _, err := tx.Exec(
			"UPDATE portfolios SET is_favorite = 0 WHERE user_id = ?", userID,
		); err != nil {
			return fmt.Errorf("failed to clear favorites: %w", err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	result, err := tx.Exec(
		"UPDATE portfolios SET is_favorite = ?, updated_at = ? WHERE id = ? AND user_id = ?",
		favorite, now, id, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to set favorite: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: portfolio %d", domain.ErrNotFound, id)
	}

	return tx.Commit()
}

const holdingColumns = "id, portfolio_id, ticker, shares, purchase_price, purchase_date, selling_price, selling_date"

func scanHolding(row interface{ Scan(...any) error }) (*Holding, error) {
	var h Holding
	var purchaseDate string
	var sellingDate sql.NullString
	if err := row.Scan(&h.ID, &h.PortfolioID, &h.Ticker, &h.Shares,
		&h.PurchasePrice, &purchaseDate, &h.SellingPrice, &sellingDate); err != nil {
		return nil, err
	}
	h.PurchaseDate, _ = domain.ParseDate(purchaseDate)
	if sellingDate.Valid {
		d, err := domain.ParseDate(sellingDate.String)
		if err == nil {
			h.SellingDate = &d
		}
	}
	return &h, nil
}

// AddHolding inserts a holding. A portfolio holds at most one position per
// ticker.
func (r *Repository) AddHolding(h *Holding) (*Holding, error) {
	var sellingDate any
	if h.SellingDate != nil {
		sellingDate = domain.FormatDate(*h.SellingDate)
	}
	result, err := r.db.Exec(
		`INSERT INTO holdings (portfolio_id, ticker, shares, purchase_price, purchase_date, selling_price, selling_date)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.PortfolioID, strings.ToUpper(h.Ticker), h.Shares, h.PurchasePrice,
		domain.FormatDate(h.PurchaseDate), h.SellingPrice, sellingDate,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("portfolio %d already holds %s", h.PortfolioID, h.Ticker)
		}
		return nil, fmt.Errorf("failed to add holding: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get holding id: %w", err)
	}
	return r.GetHolding(id)
}

// GetHolding returns a holding by id, or nil if it does not exist.
func (r *Repository) GetHolding(id int64) (*Holding, error) {
	h, err := scanHolding(r.db.QueryRow(
		"SELECT "+holdingColumns+" FROM holdings WHERE id = ?", id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get holding %d: %w", id, err)
	}
	return h, nil
}

// Holdings returns all holdings in a portfolio ordered by ticker.
func (r *Repository) Holdings(portfolioID int64) ([]Holding, error) {
	rows, err := r.db.Query(
		"SELECT "+holdingColumns+" FROM holdings WHERE portfolio_id = ? ORDER BY ticker",
		portfolioID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings: %w", err)
	}
	defer rows.Close()

	var holdings []Holding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		holdings = append(holdings, *h)
	}
	return holdings, rows.Err()
}

// UpdateHolding rewrites a holding's mutable fields.
func (r *Repository) UpdateHolding(h *Holding) (*Holding, error) {
	var sellingDate any
	if h.SellingDate != nil {
		sellingDate = domain.FormatDate(*h.SellingDate)
	}
	result, err := r.db.Exec(
		`UPDATE holdings SET shares = ?, purchase_price = ?, purchase_date = ?, selling_price = ?, selling_date = ?
		 WHERE id = ?`,
		h.Shares, h.PurchasePrice, domain.FormatDate(h.PurchaseDate),
		h.SellingPrice, sellingDate, h.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update holding %d: %w", h.ID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, fmt.Errorf("%w: holding %d", domain.ErrNotFound, h.ID)
	}
	return r.GetHolding(h.ID)
}

// DeleteHolding removes a holding.
func (r *Repository) DeleteHolding(id int64) error {
	result, err := r.db.Exec("DELETE FROM holdings WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete holding %d: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: holding %d", domain.ErrNotFound, id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
