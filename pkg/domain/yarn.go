package domain

import (
	"strings"
	"time"
)

// YarnType distinguishes single yarns from double (composite) yarns
type YarnType string

// known yarn types
const (
	YarnTypeSingle YarnType = "single"
	YarnTypeDouble YarnType = "double"
)

// SearchField identifies an imported-product field a yarn's search query is
// matched against
type SearchField string

// recognized search fields
const (
	FieldName     SearchField = "name"
	FieldBrand    SearchField = "brand"
	FieldCategory SearchField = "category"
)

// ResolveSearchFields normalizes a configured field list into the closed set
// of recognized search fields. An empty or nil list, and a list that yields
// nothing after filtering, both fall back to {name}.
func ResolveSearchFields(configured []string) []SearchField {
	if len(configured) == 0 {
		return []SearchField{FieldName}
	}

	fields := make([]SearchField, 0, len(configured))
	seen := make(map[SearchField]bool)
	for _, f := range configured {
		field := SearchField(strings.ToLower(strings.TrimSpace(f)))
		switch field {
		case FieldName, FieldBrand, FieldCategory:
			if !seen[field] {
				fields = append(fields, field)
				seen[field] = true
			}
		}
	}

	if len(fields) == 0 {
		return []SearchField{FieldName}
	}
	return fields
}

// MatchRule is a yarn's configured search rule: a substring query, the field
// set it applies to, and name-scoped exclusion keywords.
type MatchRule struct {
	Query            string
	Fields           []SearchField
	NegativeKeywords []string
}

// Yarn is a catalog entry the system tracks prices for. Single yarns carry a
// match rule and skein data; double yarns reference two component singles
// that must be bought together from the same retailer.
type Yarn struct {
	ID               int64
	Name             string
	Type             YarnType
	Description      *string
	ImageURL         *string
	Tension          *int
	SkeinLength      *int
	SearchQuery      *string
	SearchFields     []string
	NegativeKeywords []string
	MainYarnID       *int64
	CarryAlongYarnID *int64
	LowestPrice      *float64
	PricePerMeter    *float64
	IsActive         bool
	ActiveSince      *time.Time
	InactiveSince    *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// MatchRule builds the yarn's effective match rule. Returns false when the
// yarn has no usable search query and must be skipped by the matcher.
func (y *Yarn) MatchRule() (MatchRule, bool) {
	if y.SearchQuery == nil || strings.TrimSpace(*y.SearchQuery) == "" {
		return MatchRule{}, false
	}
	return MatchRule{
		Query:            strings.TrimSpace(*y.SearchQuery),
		Fields:           ResolveSearchFields(y.SearchFields),
		NegativeKeywords: y.NegativeKeywords,
	}, true
}
