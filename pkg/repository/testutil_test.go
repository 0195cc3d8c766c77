package repository

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkrogh/garnscope/pkg/domain"
)

func setupTestDB(t *testing.T) (repos *Repositories, cleanup func()) {
	t.Helper()

	// create temp file for test database
	tmpFile, err := os.CreateTemp("", "garnscope-test-*.db")
	require.NoError(t, err)
	tmpFile.Close()

	cfg := Config{
		DSN: "file:" + tmpFile.Name() + "?mode=rwc",
	}

	repos, err = NewRepositories(context.Background(), cfg)
	require.NoError(t, err)

	cleanup = func() {
		repos.Close()
		os.Remove(tmpFile.Name())
	}

	return repos, cleanup
}

func createTestRetailer(t *testing.T, repos *Repositories, name string) *domain.Retailer {
	t.Helper()

	retailer := &domain.Retailer{
		Name:    name,
		FeedURL: fmt.Sprintf("https://example.com/%s/feed.xml", name),
	}
	require.NoError(t, repos.Retailer.UpsertRetailer(context.Background(), retailer))
	require.NotZero(t, retailer.ID)
	return retailer
}

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }
func int64Ptr(i int64) *int64     { return &i }
