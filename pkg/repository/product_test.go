package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkrogh/garnscope/pkg/domain"
)

func TestProductRepository_InsertImportedProducts(t *testing.T) {
	repos, cleanup := setupTestDB(t)
	defer cleanup()

	retailer := createTestRetailer(t, repos, "Garnbutikken")

	products := []domain.Product{
		{ProductID: "p1", Name: "Sandnes Alpakka", PriceAfterDiscount: floatPtr(49.0), URL: "https://example.com/p1"},
		{ProductID: "p2", Name: "Drops Kid-Silk", PriceAfterDiscount: floatPtr(35.0), URL: "https://example.com/p2"},
	}

	inserted, updated, err := repos.Product.InsertImportedProducts(context.Background(), retailer.ID, products)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)
	assert.Equal(t, 0, updated)

	t.Run("rerun refreshes rows in place", func(t *testing.T) {
		products[0].PriceAfterDiscount = floatPtr(45.0)
		inserted, updated, err := repos.Product.InsertImportedProducts(context.Background(), retailer.ID, products)
		require.NoError(t, err)
		assert.Equal(t, 0, inserted)
		assert.Equal(t, 2, updated)

		count, err := repos.Product.CountImportedProducts(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		found, err := repos.Product.SearchImportedProducts(context.Background(), domain.MatchRule{
			Query:  "alpakka",
			Fields: []domain.SearchField{domain.FieldName},
		})
		require.NoError(t, err)
		require.Len(t, found, 1)
		require.NotNil(t, found[0].PriceAfterDiscount)
		assert.InDelta(t, 45.0, *found[0].PriceAfterDiscount, 0.001)
	})

	t.Run("empty slice is a no-op", func(t *testing.T) {
		inserted, updated, err := repos.Product.InsertImportedProducts(context.Background(), retailer.ID, nil)
		require.NoError(t, err)
		assert.Zero(t, inserted)
		assert.Zero(t, updated)
	})
}

func TestProductRepository_InsertImportedProducts_LargeImport(t *testing.T) {
	repos, cleanup := setupTestDB(t)
	defer cleanup()

	retailer := createTestRetailer(t, repos, "Hobbygarn")

	// more rows than one batch holds
	products := make([]domain.Product, insertBatchSize+150)
	for i := range products {
		products[i] = domain.Product{
			ProductID:          fmt.Sprintf("sku-%d", i),
			Name:               fmt.Sprintf("Merinogarn farve %d", i),
			PriceAfterDiscount: floatPtr(30.0 + float64(i%20)),
			URL:                fmt.Sprintf("https://example.com/sku-%d", i),
		}
	}

	inserted, updated, err := repos.Product.InsertImportedProducts(context.Background(), retailer.ID, products)
	require.NoError(t, err)
	assert.Equal(t, len(products), inserted)
	assert.Zero(t, updated)

	count, err := repos.Product.CountImportedProducts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(products), count)
}

func TestProductRepository_SearchImportedProducts(t *testing.T) {
	repos, cleanup := setupTestDB(t)
	defer cleanup()

	retailer := createTestRetailer(t, repos, "Garnbutikken")

	products := []domain.Product{
		{ProductID: "p1", Name: "Sandnes Tynn Silk Mohair", Brand: strPtr("Sandnes Garn"),
			Category: strPtr("Garn"), PriceAfterDiscount: floatPtr(89.0), URL: "https://example.com/p1"},
		{ProductID: "p2", Name: "Silk Mohair haeklenaal saet", Brand: strPtr("KnitPro"),
			Category: strPtr("Tilbehoer"), PriceAfterDiscount: floatPtr(129.0), URL: "https://example.com/p2"},
		{ProductID: "p3", Name: "Drops Kid-Silk", Brand: strPtr("Drops"),
			Category: strPtr("Garn"), PriceAfterDiscount: floatPtr(45.0), URL: "https://example.com/p3"},
		{ProductID: "p4", Name: "Sandnes Sunday", Brand: strPtr("Sandnes Garn"),
			Category: strPtr("Garn"), URL: "https://example.com/p4"}, // no price
		{ProductID: "p5", Name: "Merino Silk 50% uld", Brand: strPtr("Hobbii"),
			Category: strPtr("Garn"), PriceAfterDiscount: floatPtr(59.0), URL: "https://example.com/p5"},
		{ProductID: "p6", Name: "BLØD Merino", Brand: strPtr("Hjertegarn"),
			Category: strPtr("Garn"), PriceAfterDiscount: floatPtr(39.0), URL: "https://example.com/p6"},
	}
	_, _, err := repos.Product.InsertImportedProducts(context.Background(), retailer.ID, products)
	require.NoError(t, err)

	t.Run("substring match on name is case-insensitive", func(t *testing.T) {
		found, err := repos.Product.SearchImportedProducts(context.Background(), domain.MatchRule{
			Query:  "SILK MOHAIR",
			Fields: []domain.SearchField{domain.FieldName},
		})
		require.NoError(t, err)
		require.Len(t, found, 2)
		assert.Equal(t, "p1", found[0].ProductID)
		assert.Equal(t, "p2", found[1].ProductID)
	})

	t.Run("field set widens the match with OR", func(t *testing.T) {
		found, err := repos.Product.SearchImportedProducts(context.Background(), domain.MatchRule{
			Query:  "sandnes",
			Fields: []domain.SearchField{domain.FieldName, domain.FieldBrand},
		})
		require.NoError(t, err)
		// p1 matches both fields, p4 has no price and stays out
		require.Len(t, found, 1)
		assert.Equal(t, "p1", found[0].ProductID)
	})

	t.Run("negative keywords exclude by name only", func(t *testing.T) {
		found, err := repos.Product.SearchImportedProducts(context.Background(), domain.MatchRule{
			Query:            "silk mohair",
			Fields:           []domain.SearchField{domain.FieldName},
			NegativeKeywords: []string{"haeklenaal"},
		})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "p1", found[0].ProductID)
	})

	t.Run("percent inside a keyword is no anchor", func(t *testing.T) {
		found, err := repos.Product.SearchImportedProducts(context.Background(), domain.MatchRule{
			Query:            "silk",
			Fields:           []domain.SearchField{domain.FieldName},
			NegativeKeywords: []string{"50% uld"},
		})
		require.NoError(t, err)
		// p5 is excluded by containment even though the keyword carries a %
		require.Len(t, found, 3)
		assert.Equal(t, "p1", found[0].ProductID)
		assert.Equal(t, "p2", found[1].ProductID)
		assert.Equal(t, "p3", found[2].ProductID)
	})

	t.Run("already wrapped keyword is used as-is", func(t *testing.T) {
		found, err := repos.Product.SearchImportedProducts(context.Background(), domain.MatchRule{
			Query:            "silk mohair",
			Fields:           []domain.SearchField{domain.FieldName},
			NegativeKeywords: []string{"%haekle%"},
		})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "p1", found[0].ProductID)
	})

	t.Run("danish letters match case-insensitively", func(t *testing.T) {
		found, err := repos.Product.SearchImportedProducts(context.Background(), domain.MatchRule{
			Query:  "blød",
			Fields: []domain.SearchField{domain.FieldName},
		})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "p6", found[0].ProductID)
	})

	t.Run("danish letters in negative keywords fold too", func(t *testing.T) {
		found, err := repos.Product.SearchImportedProducts(context.Background(), domain.MatchRule{
			Query:            "merino",
			Fields:           []domain.SearchField{domain.FieldName},
			NegativeKeywords: []string{"BLØD"},
		})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "p5", found[0].ProductID)
	})

	t.Run("unpriced products never match", func(t *testing.T) {
		found, err := repos.Product.SearchImportedProducts(context.Background(), domain.MatchRule{
			Query:  "sunday",
			Fields: []domain.SearchField{domain.FieldName},
		})
		require.NoError(t, err)
		assert.Empty(t, found)
	})

	t.Run("rule without usable fields fails", func(t *testing.T) {
		_, err := repos.Product.SearchImportedProducts(context.Background(), domain.MatchRule{
			Query:  "silk",
			Fields: []domain.SearchField{},
		})
		assert.Error(t, err)
	})
}

func TestRepositories_TruncateImports(t *testing.T) {
	repos, cleanup := setupTestDB(t)
	defer cleanup()

	retailer := createTestRetailer(t, repos, "Garnbutikken")

	products := []domain.Product{
		{ProductID: "p1", Name: "Drops Kid-Silk", PriceAfterDiscount: floatPtr(45.0), URL: "https://example.com/p1"},
	}
	_, _, err := repos.Product.InsertImportedProducts(context.Background(), retailer.ID, products)
	require.NoError(t, err)

	yarn := &domain.Yarn{Name: "Kid-Silk", Type: domain.YarnTypeSingle}
	require.NoError(t, repos.Yarn.CreateYarn(context.Background(), yarn))

	found, err := repos.Product.SearchImportedProducts(context.Background(), domain.MatchRule{
		Query:  "kid-silk",
		Fields: []domain.SearchField{domain.FieldName},
	})
	require.NoError(t, err)
	require.Len(t, found, 1)

	err = repos.Offer.ReplaceAggregatedOffers(context.Background(), yarn.ID, []domain.AggregatedOffer{{
		ImportedProductID:  found[0].ID,
		RetailerID:         retailer.ID,
		ProductID:          found[0].ProductID,
		Name:               found[0].Name,
		PriceAfterDiscount: found[0].PriceAfterDiscount,
		URL:                found[0].URL,
	}})
	require.NoError(t, err)

	require.NoError(t, repos.TruncateImports(context.Background()))

	count, err := repos.Product.CountImportedProducts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)

	offerCount, err := repos.Offer.CountAggregatedOffers(context.Background())
	require.NoError(t, err)
	assert.Zero(t, offerCount)

	// retailers and yarns survive the refresh
	retailers, err := repos.Retailer.GetRetailers(context.Background())
	require.NoError(t, err)
	assert.Len(t, retailers, 1)
}
