package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"github.com/mkrogh/garnscope/pkg/config"
	"github.com/mkrogh/garnscope/pkg/feed"
	"github.com/mkrogh/garnscope/pkg/pipeline"
	"github.com/mkrogh/garnscope/pkg/repository"
	"github.com/mkrogh/garnscope/server"
)

// Opts with all CLI options
type Opts struct {
	Config string `short:"c" long:"config" env:"CONFIG" default:"garnscope.yml" description:"config file path"`
	Serve  bool   `short:"s" long:"serve" env:"SERVE" description:"run the HTTP server instead of a one-shot import"`

	// Common options
	Debug   bool `long:"dbg" env:"DEBUG" description:"debug mode"`
	Version bool `short:"V" long:"version" description:"show version info"`
	NoColor bool `long:"no-color" env:"NO_COLOR" description:"disable color output"`
}

var revision = "unknown"

func main() {
	var opts Opts
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.Version {
		fmt.Printf("Version: %s\nGolang: %s\n", revision, runtime.Version())
		os.Exit(0)
	}

	setupLog(opts.Debug, opts.NoColor)

	lgr.Printf("[INFO] starting garnscope version %s", revision)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// handle termination signals
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		lgr.Printf("[INFO] termination signal received")
		cancel()
	}()

	if err := run(ctx, opts); err != nil {
		lgr.Printf("[ERROR] %v", err)
		os.Exit(1)
	}

	lgr.Printf("[INFO] shutdown complete")
}

func run(ctx context.Context, opts Opts) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	repos, err := repository.NewRepositories(ctx, repository.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer repos.Close()

	fetcher := feed.NewFetcher(feed.FetcherConfig{
		Timeout:         cfg.Pipeline.FetchTimeout,
		PartnerEndpoint: cfg.Partner.Endpoint,
		PartnerID:       cfg.Partner.ID,
		UserAgent:       cfg.Pipeline.UserAgent,
	})

	feedParser := feed.NewParser(feed.ParserConfig{
		CategoryMarker:      cfg.Pipeline.CategoryMarker,
		UnfilteredRetailers: cfg.Pipeline.UnfilteredRetailers,
	})

	sources := make([]feed.Source, len(cfg.Retailers))
	for i, r := range cfg.Retailers {
		sources[i] = feed.Source{Name: r.Name, FeedURL: r.FeedURL, BannerID: r.BannerID, FeedID: r.FeedID}
	}

	pipe := pipeline.New(pipeline.Params{
		Repos:      repos,
		Fetcher:    fetcher,
		Parser:     feedParser,
		Sources:    sources,
		MaxWorkers: cfg.Pipeline.MaxWorkers,
	})

	if opts.Serve {
		srv := server.New(cfg, repos.Yarn, repos.Offer, repos.Retailer, pipe, revision, opts.Debug)
		return srv.Run(ctx)
	}

	// default mode: one import cycle, report and exit
	summary, err := pipe.Run(ctx)
	if err != nil {
		return fmt.Errorf("pipeline run: %w", err)
	}
	for _, r := range summary.Retailers {
		if r.Err != nil {
			lgr.Printf("[WARN] retailer %s failed: %v", r.Name, r.Err)
		}
	}
	lgr.Printf("[INFO] import finished in %v, %d retailers, %d yarns, %d doubles, %d failures",
		summary.Duration, len(summary.Retailers), len(summary.Yarns), len(summary.Doubles), summary.Failed())
	return nil
}

func setupLog(dbg, noColor bool, secs ...string) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.CallerFile, lgr.CallerFunc, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	if !noColor {
		colorizer := lgr.Mapper{
			ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
			WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
			InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
			DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
			CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
			TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
		}
		logOpts = append(logOpts, lgr.Map(colorizer))
	}

	if len(secs) > 0 {
		logOpts = append(logOpts, lgr.Secret(secs...))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
