package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkrogh/garnscope/pkg/domain"
)

func TestRetailerRepository_UpsertRetailer(t *testing.T) {
	repos, cleanup := setupTestDB(t)
	defer cleanup()

	retailer := &domain.Retailer{
		Name:     "Garnbutikken",
		FeedURL:  "https://example.com/garnbutikken/feed.xml",
		BannerID: int64Ptr(42),
		FeedID:   int64Ptr(7),
	}
	err := repos.Retailer.UpsertRetailer(context.Background(), retailer)
	require.NoError(t, err)
	assert.NotZero(t, retailer.ID)

	t.Run("same feed url refreshes name and keeps id", func(t *testing.T) {
		renamed := &domain.Retailer{
			Name:    "Garnbutikken ApS",
			FeedURL: "https://example.com/garnbutikken/feed.xml",
		}
		err := repos.Retailer.UpsertRetailer(context.Background(), renamed)
		require.NoError(t, err)
		assert.Equal(t, retailer.ID, renamed.ID)

		stored, err := repos.Retailer.GetRetailer(context.Background(), retailer.ID)
		require.NoError(t, err)
		assert.Equal(t, "Garnbutikken ApS", stored.Name)
	})

	t.Run("absent partner ids are preserved", func(t *testing.T) {
		stored, err := repos.Retailer.GetRetailer(context.Background(), retailer.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.BannerID)
		assert.Equal(t, int64(42), *stored.BannerID)
		require.NotNil(t, stored.FeedID)
		assert.Equal(t, int64(7), *stored.FeedID)
	})

	t.Run("new partner ids overwrite stored ones", func(t *testing.T) {
		updated := &domain.Retailer{
			Name:     "Garnbutikken ApS",
			FeedURL:  "https://example.com/garnbutikken/feed.xml",
			BannerID: int64Ptr(99),
		}
		err := repos.Retailer.UpsertRetailer(context.Background(), updated)
		require.NoError(t, err)

		stored, err := repos.Retailer.GetRetailer(context.Background(), retailer.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.BannerID)
		assert.Equal(t, int64(99), *stored.BannerID)
		require.NotNil(t, stored.FeedID) // untouched
		assert.Equal(t, int64(7), *stored.FeedID)
	})
}

func TestRetailerRepository_GetRetailers(t *testing.T) {
	repos, cleanup := setupTestDB(t)
	defer cleanup()

	createTestRetailer(t, repos, "Uldstedet")
	createTestRetailer(t, repos, "Hobbygarn")

	retailers, err := repos.Retailer.GetRetailers(context.Background())
	require.NoError(t, err)
	require.Len(t, retailers, 2)

	// ordered by name
	assert.Equal(t, "Hobbygarn", retailers[0].Name)
	assert.Equal(t, "Uldstedet", retailers[1].Name)
}
