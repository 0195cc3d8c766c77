package pipeline

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkrogh/garnscope/pkg/domain"
	"github.com/mkrogh/garnscope/pkg/feed"
	"github.com/mkrogh/garnscope/pkg/repository"
)

type fakeFetcher struct {
	errs map[string]error // keyed by feed URL
}

func (f *fakeFetcher) FeedURL(src feed.Source) (string, error) {
	if src.FeedURL == "" {
		return "", fmt.Errorf("retailer %q has no feed url", src.Name)
	}
	return src.FeedURL, nil
}

func (f *fakeFetcher) Fetch(_ context.Context, feedURL string) ([]byte, error) {
	if err := f.errs[feedURL]; err != nil {
		return nil, err
	}
	return []byte("<produkter/>"), nil
}

type fakeParser struct {
	products map[string][]domain.Product // keyed by retailer name
	errs     map[string]error
}

func (p *fakeParser) Parse(_ []byte, retailerName string) ([]domain.Product, error) {
	if err := p.errs[retailerName]; err != nil {
		return nil, err
	}
	return p.products[retailerName], nil
}

func setupTestRepos(t *testing.T) (repos *repository.Repositories, cleanup func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "garnscope-pipeline-*.db")
	require.NoError(t, err)
	tmpFile.Close()

	repos, err = repository.NewRepositories(context.Background(), repository.Config{
		DSN: "file:" + tmpFile.Name() + "?mode=rwc",
	})
	require.NoError(t, err)

	cleanup = func() {
		repos.Close()
		os.Remove(tmpFile.Name())
	}
	return repos, cleanup
}

func testProducts() map[string][]domain.Product {
	inStock := "in stock"
	soldOut := "sold out"
	return map[string][]domain.Product{
		"Garnbutikken": {
			{ProductID: "g1", Name: "Drops Kid-Silk lys rosa", PriceAfterDiscount: fp(45.0),
				StockStatus: &inStock, URL: "https://garnbutikken.dk/g1"},
			{ProductID: "g2", Name: "Drops Kid-Silk natur", PriceAfterDiscount: fp(52.0),
				StockStatus: &inStock, URL: "https://garnbutikken.dk/g2"},
			{ProductID: "g3", Name: "Sandnes Sunday groen", PriceAfterDiscount: fp(55.0),
				StockStatus: &inStock, URL: "https://garnbutikken.dk/g3"},
		},
		"Hobbygarn": {
			{ProductID: "h1", Name: "Drops Kid-Silk lys rosa", PriceAfterDiscount: fp(39.0),
				StockStatus: &soldOut, URL: "https://hobbygarn.dk/h1"},
			{ProductID: "h2", Name: "Sandnes Sunday groen", PriceAfterDiscount: fp(60.0),
				StockStatus: &inStock, URL: "https://hobbygarn.dk/h2"},
		},
	}
}

func testSources() []feed.Source {
	return []feed.Source{
		{Name: "Garnbutikken", FeedURL: "https://garnbutikken.dk/feed.xml"},
		{Name: "Hobbygarn", FeedURL: "https://hobbygarn.dk/feed.xml"},
	}
}

func createCatalog(t *testing.T, repos *repository.Repositories) (kidSilk, sunday, double *domain.Yarn) {
	t.Helper()

	skeinLength := 210
	query1 := "kid-silk"
	kidSilk = &domain.Yarn{Name: "Kid-Silk", Type: domain.YarnTypeSingle, SearchQuery: &query1, SkeinLength: &skeinLength}
	require.NoError(t, repos.Yarn.CreateYarn(context.Background(), kidSilk))

	query2 := "sunday"
	sunday = &domain.Yarn{Name: "Sunday", Type: domain.YarnTypeSingle, SearchQuery: &query2}
	require.NoError(t, repos.Yarn.CreateYarn(context.Background(), sunday))

	double = &domain.Yarn{
		Name:             "Sunday + Kid-Silk",
		Type:             domain.YarnTypeDouble,
		MainYarnID:       &sunday.ID,
		CarryAlongYarnID: &kidSilk.ID,
	}
	require.NoError(t, repos.Yarn.CreateYarn(context.Background(), double))
	return kidSilk, sunday, double
}

func TestPipeline_Run_FullCycle(t *testing.T) {
	repos, cleanup := setupTestRepos(t)
	defer cleanup()

	kidSilk, sunday, double := createCatalog(t, repos)

	p := New(Params{
		Repos:      repos,
		Fetcher:    &fakeFetcher{},
		Parser:     &fakeParser{products: testProducts()},
		Sources:    testSources(),
		MaxWorkers: 2,
	})

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Failed())
	require.Len(t, summary.Retailers, 2)
	require.Len(t, summary.Yarns, 2)
	require.Len(t, summary.Doubles, 1)

	t.Run("offers hold the cheapest product per retailer", func(t *testing.T) {
		offers, err := repos.Offer.GetAggregatedOffers(context.Background(), kidSilk.ID)
		require.NoError(t, err)
		require.Len(t, offers, 2)
		// cheapest first: Hobbygarn at 39, then Garnbutikken's cheaper of two at 45
		assert.Equal(t, "h1", offers[0].ProductID)
		assert.Equal(t, "g1", offers[1].ProductID)
	})

	t.Run("single yarn derived fields", func(t *testing.T) {
		stored, err := repos.Yarn.GetYarn(context.Background(), kidSilk.ID)
		require.NoError(t, err)
		assert.True(t, stored.IsActive)
		require.NotNil(t, stored.LowestPrice)
		assert.InDelta(t, 39.0, *stored.LowestPrice, 0.001)
		require.NotNil(t, stored.PricePerMeter)
		assert.InDelta(t, 39.0/210.0, *stored.PricePerMeter, 0.0001)
		require.NotNil(t, stored.ActiveSince)
	})

	t.Run("yarn without skein length has no per-meter price", func(t *testing.T) {
		stored, err := repos.Yarn.GetYarn(context.Background(), sunday.ID)
		require.NoError(t, err)
		assert.True(t, stored.IsActive)
		assert.Nil(t, stored.PricePerMeter)
	})

	t.Run("double yarn requires both components in stock at one retailer", func(t *testing.T) {
		stored, err := repos.Yarn.GetYarn(context.Background(), double.ID)
		require.NoError(t, err)
		// Hobbygarn's kid-silk is sold out, so only Garnbutikken qualifies
		assert.True(t, stored.IsActive)
		require.NotNil(t, stored.LowestPrice)
		assert.InDelta(t, 100.0, *stored.LowestPrice, 0.001)
	})
}

func TestPipeline_Run_Idempotent(t *testing.T) {
	repos, cleanup := setupTestRepos(t)
	defer cleanup()

	kidSilk, _, double := createCatalog(t, repos)

	p := New(Params{
		Repos:   repos,
		Fetcher: &fakeFetcher{},
		Parser:  &fakeParser{products: testProducts()},
		Sources: testSources(),
	})

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	first, err := repos.Yarn.GetYarn(context.Background(), kidSilk.ID)
	require.NoError(t, err)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Failed())

	second, err := repos.Yarn.GetYarn(context.Background(), kidSilk.ID)
	require.NoError(t, err)

	assert.Equal(t, first.LowestPrice, second.LowestPrice)
	assert.Equal(t, first.PricePerMeter, second.PricePerMeter)
	assert.Equal(t, first.IsActive, second.IsActive)
	assert.Equal(t, first.ActiveSince, second.ActiveSince)

	offers, err := repos.Offer.GetAggregatedOffers(context.Background(), kidSilk.ID)
	require.NoError(t, err)
	assert.Len(t, offers, 2) // no accumulation from the rerun

	storedDouble, err := repos.Yarn.GetYarn(context.Background(), double.ID)
	require.NoError(t, err)
	require.NotNil(t, storedDouble.LowestPrice)
	assert.InDelta(t, 100.0, *storedDouble.LowestPrice, 0.001)
}

func TestPipeline_Run_RetailerFailureIsolated(t *testing.T) {
	repos, cleanup := setupTestRepos(t)
	defer cleanup()

	kidSilk, _, _ := createCatalog(t, repos)

	p := New(Params{
		Repos: repos,
		Fetcher: &fakeFetcher{errs: map[string]error{
			"https://hobbygarn.dk/feed.xml": fmt.Errorf("connection refused"),
		}},
		Parser:  &fakeParser{products: testProducts()},
		Sources: testSources(),
	})

	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	var failed, succeeded int
	for _, r := range summary.Retailers {
		if r.Err != nil {
			failed++
			assert.Equal(t, "Hobbygarn", r.Name)
		} else {
			succeeded++
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, succeeded)

	// matching still ran against the retailer that imported
	offers, err := repos.Offer.GetAggregatedOffers(context.Background(), kidSilk.ID)
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, "g1", offers[0].ProductID)
}

func TestPipeline_Run_Deactivation(t *testing.T) {
	repos, cleanup := setupTestRepos(t)
	defer cleanup()

	kidSilk, _, double := createCatalog(t, repos)

	parser := &fakeParser{products: testProducts()}
	p := New(Params{
		Repos:   repos,
		Fetcher: &fakeFetcher{},
		Parser:  parser,
		Sources: testSources(),
	})

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	active, err := repos.Yarn.GetYarn(context.Background(), kidSilk.ID)
	require.NoError(t, err)
	require.True(t, active.IsActive)
	require.NotNil(t, active.ActiveSince)
	firstActiveSince := *active.ActiveSince

	// feeds empty out, everything goes inactive on the next run
	parser.products = map[string][]domain.Product{}
	_, err = p.Run(context.Background())
	require.NoError(t, err)

	stored, err := repos.Yarn.GetYarn(context.Background(), kidSilk.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.Nil(t, stored.LowestPrice)
	assert.Nil(t, stored.PricePerMeter)
	require.NotNil(t, stored.ActiveSince) // sticky
	assert.Equal(t, firstActiveSince, *stored.ActiveSince)
	assert.NotNil(t, stored.InactiveSince)

	storedDouble, err := repos.Yarn.GetYarn(context.Background(), double.ID)
	require.NoError(t, err)
	assert.False(t, storedDouble.IsActive)
	assert.Nil(t, storedDouble.LowestPrice)
}

func TestPipeline_Run_YarnWithoutQueryStaysInactive(t *testing.T) {
	repos, cleanup := setupTestRepos(t)
	defer cleanup()

	noQuery := &domain.Yarn{Name: "Uden soegning", Type: domain.YarnTypeSingle}
	require.NoError(t, repos.Yarn.CreateYarn(context.Background(), noQuery))

	p := New(Params{
		Repos:   repos,
		Fetcher: &fakeFetcher{},
		Parser:  &fakeParser{products: testProducts()},
		Sources: testSources(),
	})

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Failed())

	stored, err := repos.Yarn.GetYarn(context.Background(), noQuery.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.Nil(t, stored.LowestPrice)
}
