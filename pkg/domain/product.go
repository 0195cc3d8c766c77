package domain

import "time"

// Product is the canonical form of one feed entry, produced by the feed
// parser. Optional feed fields are nil when blank or absent, never empty
// strings. PriceAfterDiscount is always the feed's "new price" and is treated
// as the effective price even when it equals the list price.
type Product struct {
	RetailerName        string
	ProductID           string
	Brand               *string
	Name                string
	Category            *string
	PriceBeforeDiscount *float64
	PriceAfterDiscount  *float64
	FreightCost         *float64
	StockStatus         *string
	DeliveryTime        *string
	Color               *string
	URL                 string
}

// ImportedProduct is a persisted Product scoped to a retailer. Rows are owned
// by the retailer's most recent import run.
type ImportedProduct struct {
	ID                  int64
	RetailerID          int64
	ProductID           string
	Brand               *string
	Name                string
	Category            *string
	PriceBeforeDiscount *float64
	PriceAfterDiscount  *float64
	FreightCost         *float64
	StockStatus         *string
	DeliveryTime        *string
	Color               *string
	URL                 string
	CreatedAt           time.Time
}

// AggregatedOffer is the cheapest matching imported product for a yarn at one
// retailer. Offers are derived data, fully recomputed each pipeline run.
type AggregatedOffer struct {
	ID                  int64
	ImportedProductID   int64
	YarnID              int64
	RetailerID          int64
	ProductID           string
	Brand               *string
	Name                string
	Category            *string
	PriceBeforeDiscount *float64
	PriceAfterDiscount  *float64
	StockStatus         *string
	URL                 string
	CreatedAt           time.Time
}
