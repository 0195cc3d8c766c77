package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-pkgz/repeater/v2"
	"github.com/jmoiron/sqlx"

	"github.com/mkrogh/garnscope/pkg/domain"
)

// insertBatchSize caps rows per insert statement to stay well under SQLite's
// bound-parameter limit
const insertBatchSize = 500

// ProductRepository handles imported-product database operations
type ProductRepository struct {
	db *sqlx.DB
}

// importedProductSQL represents an imported product for SQL operations
type importedProductSQL struct {
	ID                  int64     `db:"id"`
	RetailerID          int64     `db:"retailer_id"`
	ProductID           string    `db:"product_id"`
	Brand               *string   `db:"brand"`
	Name                string    `db:"name"`
	Category            *string   `db:"category"`
	PriceBeforeDiscount *float64  `db:"price_before_discount"`
	PriceAfterDiscount  *float64  `db:"price_after_discount"`
	FreightCost         *float64  `db:"freight_cost"`
	StockStatus         *string   `db:"stock_status"`
	DeliveryTime        *string   `db:"delivery_time"`
	Color               *string   `db:"color"`
	URL                 string    `db:"url"`
	CreatedAt           time.Time `db:"created_at"`
}

// NewProductRepository creates a new product repository
func NewProductRepository(database *sqlx.DB) *ProductRepository {
	return &ProductRepository{db: database}
}

// InsertImportedProducts stores parsed products for a retailer in batches.
// Rows keyed by (retailer_id, product_id) are upserted, so a rerun refreshes
// existing rows in place. Returns how many rows were newly inserted and how
// many refreshed existing ones.
func (r *ProductRepository) InsertImportedProducts(ctx context.Context, retailerID int64, products []domain.Product) (inserted, updated int, err error) {
	if len(products) == 0 {
		return 0, 0, nil
	}

	before, err := r.countForRetailer(ctx, retailerID)
	if err != nil {
		return 0, 0, err
	}

	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	for start := 0; start < len(products); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(products) {
			end = len(products)
		}
		batch := products[start:end]

		rows := make([]importedProductSQL, len(batch))
		for i, p := range batch {
			rows[i] = importedProductSQL{
				RetailerID:          retailerID,
				ProductID:           p.ProductID,
				Brand:               p.Brand,
				Name:                p.Name,
				Category:            p.Category,
				PriceBeforeDiscount: p.PriceBeforeDiscount,
				PriceAfterDiscount:  p.PriceAfterDiscount,
				FreightCost:         p.FreightCost,
				StockStatus:         p.StockStatus,
				DeliveryTime:        p.DeliveryTime,
				Color:               p.Color,
				URL:                 p.URL,
			}
		}

		batchErr := retrier.Do(ctx, func() error {
			query := `
				INSERT INTO imported_products (retailer_id, product_id, brand, name, category,
					price_before_discount, price_after_discount, freight_cost,
					stock_status, delivery_time, color, url)
				VALUES (:retailer_id, :product_id, :brand, :name, :category,
					:price_before_discount, :price_after_discount, :freight_cost,
					:stock_status, :delivery_time, :color, :url)
				ON CONFLICT(retailer_id, product_id) DO UPDATE SET
					brand = excluded.brand,
					name = excluded.name,
					category = excluded.category,
					price_before_discount = excluded.price_before_discount,
					price_after_discount = excluded.price_after_discount,
					freight_cost = excluded.freight_cost,
					stock_status = excluded.stock_status,
					delivery_time = excluded.delivery_time,
					color = excluded.color,
					url = excluded.url
			`
			if _, execErr := r.db.NamedExecContext(ctx, query, rows); execErr != nil {
				if isLockError(execErr) {
					return execErr // retry
				}
				return &criticalError{err: fmt.Errorf("insert imported products: %w", execErr)}
			}
			return nil
		})
		if batchErr != nil {
			return 0, 0, batchErr
		}
	}

	after, err := r.countForRetailer(ctx, retailerID)
	if err != nil {
		return 0, 0, err
	}

	inserted = after - before
	updated = len(products) - inserted
	return inserted, updated, nil
}

// SearchImportedProducts finds priced products matching a yarn's rule. The
// query is a case-insensitive substring matched against any of the rule's
// fields; negative keywords exclude by product name. Results come back in id
// order so downstream tie-breaks are deterministic.
func (r *ProductRepository) SearchImportedProducts(ctx context.Context, rule domain.MatchRule) ([]*domain.ImportedProduct, error) {
	query := "SELECT * FROM imported_products WHERE price_after_discount IS NOT NULL"
	args := []interface{}{}

	pattern := "%" + strings.ToLower(rule.Query) + "%"
	fieldConds := make([]string, 0, len(rule.Fields))
	for _, field := range rule.Fields {
		switch field {
		case domain.FieldName:
			fieldConds = append(fieldConds, "ulower(name) LIKE ?")
		case domain.FieldBrand:
			fieldConds = append(fieldConds, "ulower(brand) LIKE ?")
		case domain.FieldCategory:
			fieldConds = append(fieldConds, "ulower(category) LIKE ?")
		default:
			continue
		}
		args = append(args, pattern)
	}
	if len(fieldConds) == 0 {
		return nil, fmt.Errorf("search rule has no usable fields")
	}
	query += " AND (" + strings.Join(fieldConds, " OR ") + ")"

	for _, kw := range rule.NegativeKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		// wrap per side, a literal % inside the keyword is no anchor
		if !strings.HasPrefix(kw, "%") {
			kw = "%" + kw
		}
		if !strings.HasSuffix(kw, "%") {
			kw += "%"
		}
		query += " AND ulower(name) NOT LIKE ?"
		args = append(args, kw)
	}

	query += " ORDER BY id"

	var sqlProducts []importedProductSQL
	if err := r.db.SelectContext(ctx, &sqlProducts, query, args...); err != nil {
		return nil, fmt.Errorf("search imported products: %w", err)
	}

	products := make([]*domain.ImportedProduct, len(sqlProducts))
	for i, sp := range sqlProducts {
		products[i] = r.toDomainProduct(&sp)
	}
	return products, nil
}

// CountImportedProducts returns the total number of imported rows
func (r *ProductRepository) CountImportedProducts(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM imported_products"); err != nil {
		return 0, fmt.Errorf("count imported products: %w", err)
	}
	return count, nil
}

func (r *ProductRepository) countForRetailer(ctx context.Context, retailerID int64) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM imported_products WHERE retailer_id = ?", retailerID)
	if err != nil {
		return 0, fmt.Errorf("count products for retailer: %w", err)
	}
	return count, nil
}

// toDomainProduct converts importedProductSQL to domain.ImportedProduct
func (r *ProductRepository) toDomainProduct(sp *importedProductSQL) *domain.ImportedProduct {
	return &domain.ImportedProduct{
		ID:                  sp.ID,
		RetailerID:          sp.RetailerID,
		ProductID:           sp.ProductID,
		Brand:               sp.Brand,
		Name:                sp.Name,
		Category:            sp.Category,
		PriceBeforeDiscount: sp.PriceBeforeDiscount,
		PriceAfterDiscount:  sp.PriceAfterDiscount,
		FreightCost:         sp.FreightCost,
		StockStatus:         sp.StockStatus,
		DeliveryTime:        sp.DeliveryTime,
		Color:               sp.Color,
		URL:                 sp.URL,
		CreatedAt:           sp.CreatedAt,
	}
}
