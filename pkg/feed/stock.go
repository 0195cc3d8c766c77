package feed

import (
	"strconv"
	"strings"
)

// inStockVariants is the registry of known "in stock" spellings across
// retailer feeds. New retailer-specific spellings are appended, never
// replacing existing entries.
var inStockVariants = []string{
	"in stock",
	"in_stock",
	"instock",
	"in-stock",
	"available",
	"på lager",
	"paa lager",
}

// IsInStock interprets a raw stock field conservatively: an exact match
// against the registry, or a positive integer for feeds that report a stock
// count. Anything else, including free text, counts as out of stock.
func IsInStock(raw string) bool {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return false
	}

	for _, variant := range inStockVariants {
		if normalized == variant {
			return true
		}
	}

	if count, err := strconv.Atoi(normalized); err == nil {
		return count > 0
	}
	return false
}

// InStockVariants returns a copy of the registry
func InStockVariants() []string {
	variants := make([]string, len(inStockVariants))
	copy(variants, inStockVariants)
	return variants
}
