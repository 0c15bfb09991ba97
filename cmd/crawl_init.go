package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/twstock-cli/internal/browser"
	"github.com/sells-group/twstock-cli/internal/fetcher"
	"github.com/sells-group/twstock-cli/internal/filing"
	"github.com/sells-group/twstock-cli/internal/navigator"
	"github.com/sells-group/twstock-cli/internal/normalize"
	"github.com/sells-group/twstock-cli/internal/persist"
	"github.com/sells-group/twstock-cli/internal/pipeline"
	"github.com/sells-group/twstock-cli/internal/resilience"
	"github.com/sells-group/twstock-cli/internal/store"
)

// crawlEnv holds the store, browser session and runner used by crawl.
type crawlEnv struct {
	Store   store.Store
	Session *browser.Manager
	Runner  *pipeline.Runner
}

// Close releases the browser session and the store.
func (e *crawlEnv) Close() {
	if e.Session != nil {
		e.Session.Release()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func retryConfig() resilience.RetryConfig {
	return resilience.FromConfig(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs)
}

// initStore opens the configured backend.
func initStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, store.Options{
		Driver:      cfg.Store.Driver,
		DatabaseURL: cfg.Store.DatabaseURL,
		Pool: &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		},
		Retry: retryConfig(),
	})
}

// initCrawl validates config, migrates the store and wires the pipeline.
// The browser is not launched until the first stage runs. Callers should
// defer env.Close().
func initCrawl(ctx context.Context, withFilings bool) (*crawlEnv, error) {
	if err := cfg.Validate("crawl"); err != nil {
		return nil, err
	}

	site, err := navigator.LoadSite(cfg.Navigator.SiteFile)
	if err != nil {
		return nil, err
	}

	norm, err := normalize.New(normalize.Options{
		SchemaDir:      cfg.Normalizer.SchemaDir,
		MatchThreshold: cfg.Normalizer.MatchThreshold,
		NoDataMessages: site.NoDataMessages,
	})
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	session := browser.NewManager(browser.ChromeLauncher(browser.ChromeOptions{
		Headless:     cfg.Browser.Headless,
		ExecPath:     cfg.Browser.ExecPath,
		RemoteURL:    cfg.Browser.RemoteURL,
		UserAgent:    cfg.Browser.UserAgent,
		WindowWidth:  cfg.Browser.WindowWidth,
		WindowHeight: cfg.Browser.WindowHeight,
	}), browser.ManagerConfig{
		LaunchAttempts: cfg.Browser.LaunchAttempts,
		MaxRestarts:    cfg.Browser.MaxRestarts,
		Retry:          retryConfig(),
	})

	nav := navigator.New(session, site, navigator.Config{
		ReadyTimeout:  time.Duration(cfg.Navigator.ReadyTimeoutSecs) * time.Second,
		PollInterval:  time.Duration(cfg.Navigator.PollIntervalMs) * time.Millisecond,
		StageAttempts: cfg.Navigator.StageAttempts,
		StageDelay:    time.Duration(cfg.Navigator.StageDelayMs) * time.Millisecond,
	})

	var files pipeline.Filings
	if withFilings && cfg.Download.Enabled {
		files = initFilings()
	} else {
		zap.L().Info("filing retrieval disabled")
	}

	proc := pipeline.New(session, nav, norm, persist.New(st, retryConfig()), files)
	runner := pipeline.NewRunner(proc, pipeline.RunnerConfig{
		Delay: time.Duration(cfg.Batch.DelaySecs * float64(time.Second)),
	})

	return &crawlEnv{Store: st, Session: session, Runner: runner}, nil
}

func initFilings() *filing.Retriever {
	limiters := fetcher.DefaultRateLimiters()
	if cfg.Download.RatePerSec > 0 {
		limiters["doc.twse.com.tw"] = fetcher.NewAdaptiveLimiter(rate.Limit(cfg.Download.RatePerSec), 1)
	}
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:    cfg.Browser.UserAgent,
		Referer:      "https://mops.twse.com.tw/",
		Timeout:      time.Duration(cfg.Download.TimeoutSecs) * time.Second,
		MaxRetries:   cfg.Download.MaxRetries,
		RateLimiters: limiters,
	})
	return filing.New(f, filing.Options{
		Root:        cfg.Download.Root,
		Concurrency: cfg.Download.Concurrency,
	})
}
