package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-pkgz/repeater/v2"
	"github.com/jmoiron/sqlx"

	"github.com/mkrogh/garnscope/pkg/domain"
)

// OfferRepository handles aggregated-offer database operations
type OfferRepository struct {
	db *sqlx.DB
}

// offerSQL represents an aggregated offer for SQL operations
type offerSQL struct {
	ID                  int64     `db:"id"`
	YarnID              int64     `db:"yarn_id"`
	ImportedProductID   int64     `db:"imported_product_id"`
	RetailerID          int64     `db:"retailer_id"`
	ProductID           string    `db:"product_id"`
	Brand               *string   `db:"brand"`
	Name                string    `db:"name"`
	Category            *string   `db:"category"`
	PriceBeforeDiscount *float64  `db:"price_before_discount"`
	PriceAfterDiscount  *float64  `db:"price_after_discount"`
	StockStatus         *string   `db:"stock_status"`
	URL                 string    `db:"url"`
	CreatedAt           time.Time `db:"created_at"`
}

// OfferWithRetailer is an aggregated offer joined with its retailer's name,
// the shape the HTTP layer serves.
type OfferWithRetailer struct {
	domain.AggregatedOffer
	RetailerName string
}

// NewOfferRepository creates a new offer repository
func NewOfferRepository(database *sqlx.DB) *OfferRepository {
	return &OfferRepository{db: database}
}

// ReplaceAggregatedOffers atomically swaps a yarn's offers for a fresh set.
// The delete and inserts run in one transaction so readers never see a
// half-replaced yarn.
func (r *OfferRepository) ReplaceAggregatedOffers(ctx context.Context, yarnID int64, offers []domain.AggregatedOffer) error {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	return retrier.Do(ctx, func() error {
		tx, err := r.db.BeginTxx(ctx, nil)
		if err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: fmt.Errorf("begin replace offers tx: %w", err)}
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

		if _, err := tx.ExecContext(ctx, "DELETE FROM aggregated_offers WHERE yarn_id = ?", yarnID); err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: fmt.Errorf("clear offers for yarn %d: %w", yarnID, err)}
		}

		if len(offers) > 0 {
			rows := make([]offerSQL, len(offers))
			for i, o := range offers {
				rows[i] = offerSQL{
					YarnID:              yarnID,
					ImportedProductID:   o.ImportedProductID,
					RetailerID:          o.RetailerID,
					ProductID:           o.ProductID,
					Brand:               o.Brand,
					Name:                o.Name,
					Category:            o.Category,
					PriceBeforeDiscount: o.PriceBeforeDiscount,
					PriceAfterDiscount:  o.PriceAfterDiscount,
					StockStatus:         o.StockStatus,
					URL:                 o.URL,
				}
			}

			query := `
				INSERT INTO aggregated_offers (yarn_id, imported_product_id, retailer_id, product_id,
					brand, name, category, price_before_discount, price_after_discount,
					stock_status, url)
				VALUES (:yarn_id, :imported_product_id, :retailer_id, :product_id,
					:brand, :name, :category, :price_before_discount, :price_after_discount,
					:stock_status, :url)
			`
			if _, err := tx.NamedExecContext(ctx, query, rows); err != nil {
				if isLockError(err) {
					return err // retry
				}
				return &criticalError{err: fmt.Errorf("insert offers for yarn %d: %w", yarnID, err)}
			}
		}

		if err := tx.Commit(); err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: fmt.Errorf("commit replace offers: %w", err)}
		}
		return nil
	})
}

// GetAggregatedOffers retrieves a yarn's offers, cheapest first with id as
// the tie-break
func (r *OfferRepository) GetAggregatedOffers(ctx context.Context, yarnID int64) ([]*domain.AggregatedOffer, error) {
	query := `
		SELECT * FROM aggregated_offers
		WHERE yarn_id = ?
		ORDER BY price_after_discount IS NULL, price_after_discount ASC, id ASC
	`
	var sqlOffers []offerSQL
	if err := r.db.SelectContext(ctx, &sqlOffers, query, yarnID); err != nil {
		return nil, fmt.Errorf("get offers for yarn %d: %w", yarnID, err)
	}

	offers := make([]*domain.AggregatedOffer, len(sqlOffers))
	for i, so := range sqlOffers {
		offers[i] = r.toDomainOffer(&so)
	}
	return offers, nil
}

// GetOffersWithRetailers retrieves a yarn's offers joined with retailer names
func (r *OfferRepository) GetOffersWithRetailers(ctx context.Context, yarnID int64) ([]*OfferWithRetailer, error) {
	query := `
		SELECT o.*, r.name AS retailer_name
		FROM aggregated_offers o
		JOIN retailers r ON o.retailer_id = r.id
		WHERE o.yarn_id = ?
		ORDER BY o.price_after_discount IS NULL, o.price_after_discount ASC, o.id ASC
	`

	type offerWithRetailerSQL struct {
		offerSQL
		RetailerName string `db:"retailer_name"`
	}

	var sqlOffers []offerWithRetailerSQL
	if err := r.db.SelectContext(ctx, &sqlOffers, query, yarnID); err != nil {
		return nil, fmt.Errorf("get offers with retailers for yarn %d: %w", yarnID, err)
	}

	offers := make([]*OfferWithRetailer, len(sqlOffers))
	for i, so := range sqlOffers {
		offers[i] = &OfferWithRetailer{
			AggregatedOffer: *r.toDomainOffer(&so.offerSQL),
			RetailerName:    so.RetailerName,
		}
	}
	return offers, nil
}

// CountAggregatedOffers returns the total number of offers across all yarns
func (r *OfferRepository) CountAggregatedOffers(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM aggregated_offers"); err != nil {
		return 0, fmt.Errorf("count aggregated offers: %w", err)
	}
	return count, nil
}

// toDomainOffer converts offerSQL to domain.AggregatedOffer
func (r *OfferRepository) toDomainOffer(so *offerSQL) *domain.AggregatedOffer {
	return &domain.AggregatedOffer{
		ID:                  so.ID,
		YarnID:              so.YarnID,
		ImportedProductID:   so.ImportedProductID,
		RetailerID:          so.RetailerID,
		ProductID:           so.ProductID,
		Brand:               so.Brand,
		Name:                so.Name,
		Category:            so.Category,
		PriceBeforeDiscount: so.PriceBeforeDiscount,
		PriceAfterDiscount:  so.PriceAfterDiscount,
		StockStatus:         so.StockStatus,
		URL:                 so.URL,
		CreatedAt:           so.CreatedAt,
	}
}
