package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-pkgz/repeater/v2"
	"github.com/jmoiron/sqlx"

	"github.com/mkrogh/garnscope/pkg/domain"
)

// RetailerRepository handles retailer-related database operations
type RetailerRepository struct {
	db *sqlx.DB
}

// retailerSQL represents a retailer for SQL operations
type retailerSQL struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	FeedURL   string    `db:"feed_url"`
	BannerID  *int64    `db:"banner_id"`
	FeedID    *int64    `db:"feed_id"`
	CreatedAt time.Time `db:"created_at"`
}

// NewRetailerRepository creates a new retailer repository
func NewRetailerRepository(database *sqlx.DB) *RetailerRepository {
	return &RetailerRepository{db: database}
}

// UpsertRetailer inserts a retailer keyed by feed URL, or refreshes the name
// of the existing row. Banner and feed ids are kept when the new value is
// absent so a direct-url rerun doesn't wipe partner data. Sets ID on the
// passed retailer.
func (r *RetailerRepository) UpsertRetailer(ctx context.Context, retailer *domain.Retailer) error {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	return retrier.Do(ctx, func() error {
		query := `
			INSERT INTO retailers (name, feed_url, banner_id, feed_id)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(feed_url) DO UPDATE SET
				name = excluded.name,
				banner_id = COALESCE(excluded.banner_id, retailers.banner_id),
				feed_id = COALESCE(excluded.feed_id, retailers.feed_id)
			RETURNING id
		`
		var id int64
		err := r.db.GetContext(ctx, &id, query, retailer.Name, retailer.FeedURL, retailer.BannerID, retailer.FeedID)
		if err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: fmt.Errorf("upsert retailer %q: %w", retailer.Name, err)}
		}
		retailer.ID = id
		return nil
	})
}

// GetRetailer retrieves a retailer by ID
func (r *RetailerRepository) GetRetailer(ctx context.Context, id int64) (*domain.Retailer, error) {
	var sqlRetailer retailerSQL
	err := r.db.GetContext(ctx, &sqlRetailer, "SELECT * FROM retailers WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("get retailer: %w", err)
	}
	return r.toDomainRetailer(&sqlRetailer), nil
}

// GetRetailers retrieves all retailers ordered by name
func (r *RetailerRepository) GetRetailers(ctx context.Context) ([]*domain.Retailer, error) {
	var sqlRetailers []retailerSQL
	err := r.db.SelectContext(ctx, &sqlRetailers, "SELECT * FROM retailers ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("get retailers: %w", err)
	}

	retailers := make([]*domain.Retailer, len(sqlRetailers))
	for i, sr := range sqlRetailers {
		retailers[i] = r.toDomainRetailer(&sr)
	}
	return retailers, nil
}

// toDomainRetailer converts retailerSQL to domain.Retailer
func (r *RetailerRepository) toDomainRetailer(sqlRetailer *retailerSQL) *domain.Retailer {
	return &domain.Retailer{
		ID:        sqlRetailer.ID,
		Name:      sqlRetailer.Name,
		FeedURL:   sqlRetailer.FeedURL,
		BannerID:  sqlRetailer.BannerID,
		FeedID:    sqlRetailer.FeedID,
		CreatedAt: sqlRetailer.CreatedAt,
	}
}
