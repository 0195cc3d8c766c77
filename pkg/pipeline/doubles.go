package pipeline

import (
	"sort"

	"github.com/mkrogh/garnscope/pkg/domain"
	"github.com/mkrogh/garnscope/pkg/feed"
)

// CombinedOffer is one retailer's joint offer for a double yarn: both
// component offers plus their summed price.
type CombinedOffer struct {
	RetailerID int64
	Main       *domain.AggregatedOffer
	CarryAlong *domain.AggregatedOffer
	TotalPrice float64
}

// CombineOffers joins the two component offer sets on retailer identity. A
// retailer qualifies only when it holds both components in stock with a
// price. The result is ranked by combined price ascending, ties broken by
// retailer id.
func CombineOffers(main, carryAlong []*domain.AggregatedOffer) []CombinedOffer {
	carryByRetailer := make(map[int64]*domain.AggregatedOffer, len(carryAlong))
	for _, o := range carryAlong {
		if offerQualifies(o) {
			carryByRetailer[o.RetailerID] = o
		}
	}

	var combined []CombinedOffer
	for _, m := range main {
		if !offerQualifies(m) {
			continue
		}
		c, ok := carryByRetailer[m.RetailerID]
		if !ok {
			continue
		}
		combined = append(combined, CombinedOffer{
			RetailerID: m.RetailerID,
			Main:       m,
			CarryAlong: c,
			TotalPrice: *m.PriceAfterDiscount + *c.PriceAfterDiscount,
		})
	}

	sort.Slice(combined, func(i, j int) bool {
		if combined[i].TotalPrice != combined[j].TotalPrice {
			return combined[i].TotalPrice < combined[j].TotalPrice
		}
		return combined[i].RetailerID < combined[j].RetailerID
	})
	return combined
}

// LowestCombinedPrice returns the cheapest combined price, nil when no
// retailer qualifies
func LowestCombinedPrice(combined []CombinedOffer) *float64 {
	if len(combined) == 0 {
		return nil
	}
	v := combined[0].TotalPrice
	return &v
}

// offerQualifies reports whether an offer counts toward joint availability:
// priced and confirmed in stock
func offerQualifies(o *domain.AggregatedOffer) bool {
	if o.PriceAfterDiscount == nil || o.StockStatus == nil {
		return false
	}
	return feed.IsInStock(*o.StockStatus)
}
