package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater/v2"
	"golang.org/x/sync/errgroup"

	"github.com/mkrogh/garnscope/pkg/domain"
	"github.com/mkrogh/garnscope/pkg/feed"
	"github.com/mkrogh/garnscope/pkg/repository"
)

// ErrRunInProgress is returned when a run is requested while another one is
// still executing
var ErrRunInProgress = errors.New("pipeline run already in progress")

// FeedFetcher resolves and retrieves retailer feed documents
type FeedFetcher interface {
	FeedURL(src feed.Source) (string, error)
	Fetch(ctx context.Context, feedURL string) ([]byte, error)
}

// FeedParser converts a raw feed document into canonical products
type FeedParser interface {
	Parse(data []byte, retailerName string) ([]domain.Product, error)
}

// Pipeline runs the full import cycle: truncate previous imports, fetch and
// import every retailer feed, rebuild per-yarn offers, recompute derived
// pricing and activity, then resolve double-yarn joint availability.
type Pipeline struct {
	repos      *repository.Repositories
	fetcher    FeedFetcher
	parser     FeedParser
	sources    []feed.Source
	maxWorkers int

	mu sync.Mutex // serializes runs
}

// Params holds pipeline dependencies
type Params struct {
	Repos      *repository.Repositories
	Fetcher    FeedFetcher
	Parser     FeedParser
	Sources    []feed.Source
	MaxWorkers int
}

// RetailerResult is the outcome of one retailer's feed import
type RetailerResult struct {
	Name     string
	Inserted int
	Updated  int
	Err      error
}

// YarnResult is the outcome of one yarn's matching or availability pass
type YarnResult struct {
	YarnID  int64
	Name    string
	Matches int
	Err     error
}

// Summary reports what a run did, including per-unit failures that did not
// abort the run
type Summary struct {
	Started   time.Time
	Duration  time.Duration
	Retailers []RetailerResult
	Yarns     []YarnResult
	Doubles   []YarnResult
}

// Failed counts retailers and yarns that errored
func (s *Summary) Failed() int {
	failed := 0
	for _, r := range s.Retailers {
		if r.Err != nil {
			failed++
		}
	}
	for _, y := range s.Yarns {
		if y.Err != nil {
			failed++
		}
	}
	for _, d := range s.Doubles {
		if d.Err != nil {
			failed++
		}
	}
	return failed
}

// New creates a pipeline
func New(params Params) *Pipeline {
	workers := params.MaxWorkers
	if workers <= 0 {
		workers = 5
	}
	return &Pipeline{
		repos:      params.Repos,
		fetcher:    params.Fetcher,
		parser:     params.Parser,
		sources:    params.Sources,
		maxWorkers: workers,
	}
}

// Run executes one full pipeline cycle. A failing retailer or yarn is
// reported in the summary and skipped; only phase-level failures (truncation,
// catalog listing) abort the run. Concurrent runs are rejected.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	if !p.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer p.mu.Unlock()

	summary := &Summary{Started: time.Now()}
	lgr.Printf("[INFO] pipeline run started, %d retailers", len(p.sources))

	// full refresh: prior imports and offers are disposable
	if err := p.repos.TruncateImports(ctx); err != nil {
		return nil, fmt.Errorf("truncate imports: %w", err)
	}

	summary.Retailers = p.importFeeds(ctx)

	yarns, err := p.repos.Yarn.GetYarnsByType(ctx, domain.YarnTypeSingle)
	if err != nil {
		return nil, fmt.Errorf("list single yarns: %w", err)
	}
	summary.Yarns = p.matchYarns(ctx, yarns)

	doubles, err := p.repos.Yarn.GetYarnsByType(ctx, domain.YarnTypeDouble)
	if err != nil {
		return nil, fmt.Errorf("list double yarns: %w", err)
	}
	summary.Doubles = p.resolveDoubles(ctx, doubles)

	summary.Duration = time.Since(summary.Started)
	lgr.Printf("[INFO] pipeline run finished in %v, %d failures", summary.Duration.Round(time.Millisecond), summary.Failed())
	return summary, nil
}

// importFeeds fetches, parses and imports every configured retailer feed.
// Retailers are independent and run concurrently; one retailer's failure
// never blocks the others.
func (p *Pipeline) importFeeds(ctx context.Context) []RetailerResult {
	results := make([]RetailerResult, len(p.sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxWorkers)

	for i, src := range p.sources {
		g.Go(func() error {
			results[i] = p.importFeed(gctx, src)
			if results[i].Err != nil {
				lgr.Printf("[WARN] import failed for retailer %s: %v", src.Name, results[i].Err)
			} else {
				lgr.Printf("[INFO] imported retailer %s: %d new, %d updated", src.Name, results[i].Inserted, results[i].Updated)
			}
			return nil // per-retailer errors live in the result
		})
	}
	_ = g.Wait() // workers never return errors

	return results
}

func (p *Pipeline) importFeed(ctx context.Context, src feed.Source) RetailerResult {
	result := RetailerResult{Name: src.Name}

	feedURL, err := p.fetcher.FeedURL(src)
	if err != nil {
		result.Err = err
		return result
	}

	retailer := &domain.Retailer{Name: src.Name, FeedURL: feedURL}
	if src.BannerID != 0 {
		retailer.BannerID = &src.BannerID
	}
	if src.FeedID != 0 {
		retailer.FeedID = &src.FeedID
	}
	if err := p.repos.Retailer.UpsertRetailer(ctx, retailer); err != nil {
		result.Err = fmt.Errorf("upsert retailer: %w", err)
		return result
	}

	// transient network failures get a few tries before the retailer is
	// written off for this run
	var data []byte
	retrier := repeater.NewBackoff(3, 500*time.Millisecond, repeater.WithMaxDelay(5*time.Second))
	err = retrier.Do(ctx, func() error {
		var fetchErr error
		data, fetchErr = p.fetcher.Fetch(ctx, feedURL)
		return fetchErr
	})
	if err != nil {
		result.Err = fmt.Errorf("fetch feed: %w", err)
		return result
	}

	products, err := p.parser.Parse(data, src.Name)
	if err != nil {
		result.Err = fmt.Errorf("parse feed: %w", err)
		return result
	}

	inserted, updated, err := p.repos.Product.InsertImportedProducts(ctx, retailer.ID, products)
	if err != nil {
		result.Err = fmt.Errorf("import products: %w", err)
		return result
	}

	result.Inserted = inserted
	result.Updated = updated
	return result
}

// matchYarns rebuilds offers and derived fields for every single yarn. Each
// yarn is an independent unit of work; yarns without a usable search query
// skip matching but still get their derived fields recomputed, which
// deactivates them against the freshly truncated offer set.
func (p *Pipeline) matchYarns(ctx context.Context, yarns []*domain.Yarn) []YarnResult {
	results := make([]YarnResult, len(yarns))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxWorkers)

	for i, yarn := range yarns {
		g.Go(func() error {
			results[i] = p.matchYarn(gctx, yarn)
			if results[i].Err != nil {
				lgr.Printf("[WARN] matching failed for yarn %s: %v", yarn.Name, results[i].Err)
			} else {
				lgr.Printf("[DEBUG] matched yarn %s: %d offers", yarn.Name, results[i].Matches)
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (p *Pipeline) matchYarn(ctx context.Context, yarn *domain.Yarn) YarnResult {
	result := YarnResult{YarnID: yarn.ID, Name: yarn.Name}

	var offers []domain.AggregatedOffer
	if rule, ok := yarn.MatchRule(); ok {
		products, err := p.repos.Product.SearchImportedProducts(ctx, rule)
		if err != nil {
			result.Err = fmt.Errorf("search products: %w", err)
			return result
		}
		offers = BuildOffers(yarn.ID, SelectCheapestPerRetailer(products))
	}

	if err := p.repos.Offer.ReplaceAggregatedOffers(ctx, yarn.ID, offers); err != nil {
		result.Err = fmt.Errorf("replace offers: %w", err)
		return result
	}

	lowest := LowestPrice(offers)
	perUnit := PricePerUnit(lowest, yarn.SkeinLength)
	active := len(offers) > 0
	if err := p.repos.Yarn.UpdateYarnDerived(ctx, yarn.ID, lowest, perUnit, active); err != nil {
		result.Err = fmt.Errorf("update derived fields: %w", err)
		return result
	}

	result.Matches = len(offers)
	return result
}

// resolveDoubles recomputes joint availability for every double yarn. Runs
// after the single-yarn phase so both components' offers are materialized.
func (p *Pipeline) resolveDoubles(ctx context.Context, doubles []*domain.Yarn) []YarnResult {
	results := make([]YarnResult, len(doubles))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxWorkers)

	for i, yarn := range doubles {
		g.Go(func() error {
			results[i] = p.resolveDouble(gctx, yarn)
			if results[i].Err != nil {
				lgr.Printf("[WARN] availability failed for double yarn %s: %v", yarn.Name, results[i].Err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (p *Pipeline) resolveDouble(ctx context.Context, yarn *domain.Yarn) YarnResult {
	result := YarnResult{YarnID: yarn.ID, Name: yarn.Name}

	if yarn.MainYarnID == nil || yarn.CarryAlongYarnID == nil {
		result.Err = fmt.Errorf("double yarn %d is missing a component reference", yarn.ID)
		return result
	}

	mainOffers, err := p.repos.Offer.GetAggregatedOffers(ctx, *yarn.MainYarnID)
	if err != nil {
		result.Err = fmt.Errorf("get main offers: %w", err)
		return result
	}
	carryOffers, err := p.repos.Offer.GetAggregatedOffers(ctx, *yarn.CarryAlongYarnID)
	if err != nil {
		result.Err = fmt.Errorf("get carry-along offers: %w", err)
		return result
	}

	combined := CombineOffers(mainOffers, carryOffers)
	lowest := LowestCombinedPrice(combined)
	if err := p.repos.Yarn.UpdateDoubleYarnDerived(ctx, yarn.ID, lowest, len(combined) > 0); err != nil {
		result.Err = fmt.Errorf("update derived fields: %w", err)
		return result
	}

	result.Matches = len(combined)
	return result
}
