package pipeline

import (
	"sort"

	"github.com/mkrogh/garnscope/pkg/domain"
)

// SelectCheapestPerRetailer reduces matched products to exactly one per
// retailer: the lowest price-after-discount, ties broken by lowest product
// id. Unpriced products are ignored. The result is ordered by retailer id.
func SelectCheapestPerRetailer(products []*domain.ImportedProduct) []*domain.ImportedProduct {
	best := make(map[int64]*domain.ImportedProduct)
	for _, p := range products {
		if p.PriceAfterDiscount == nil {
			continue
		}
		cur, ok := best[p.RetailerID]
		if !ok {
			best[p.RetailerID] = p
			continue
		}
		if *p.PriceAfterDiscount < *cur.PriceAfterDiscount ||
			(*p.PriceAfterDiscount == *cur.PriceAfterDiscount && p.ID < cur.ID) {
			best[p.RetailerID] = p
		}
	}

	selected := make([]*domain.ImportedProduct, 0, len(best))
	for _, p := range best {
		selected = append(selected, p)
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].RetailerID < selected[j].RetailerID })
	return selected
}

// BuildOffers converts selected products into offer rows for a yarn
func BuildOffers(yarnID int64, products []*domain.ImportedProduct) []domain.AggregatedOffer {
	offers := make([]domain.AggregatedOffer, len(products))
	for i, p := range products {
		offers[i] = domain.AggregatedOffer{
			YarnID:              yarnID,
			ImportedProductID:   p.ID,
			RetailerID:          p.RetailerID,
			ProductID:           p.ProductID,
			Brand:               p.Brand,
			Name:                p.Name,
			Category:            p.Category,
			PriceBeforeDiscount: p.PriceBeforeDiscount,
			PriceAfterDiscount:  p.PriceAfterDiscount,
			StockStatus:         p.StockStatus,
			URL:                 p.URL,
		}
	}
	return offers
}

// LowestPrice returns the minimum price-after-discount across offers, nil
// when no offer carries a price
func LowestPrice(offers []domain.AggregatedOffer) *float64 {
	var lowest *float64
	for i := range offers {
		price := offers[i].PriceAfterDiscount
		if price == nil {
			continue
		}
		if lowest == nil || *price < *lowest {
			v := *price
			lowest = &v
		}
	}
	return lowest
}

// PricePerUnit derives price per unit length from the lowest price and the
// yarn's skein length, nil unless both are present and the length is positive
func PricePerUnit(lowest *float64, skeinLength *int) *float64 {
	if lowest == nil || skeinLength == nil || *skeinLength <= 0 {
		return nil
	}
	v := *lowest / float64(*skeinLength)
	return &v
}
