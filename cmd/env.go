package main

import (
	"context"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/vaishaligoyal05/awaaz-e-punjab/internal/config"
	"github.com/vaishaligoyal05/awaaz-e-punjab/internal/datagov"
	"github.com/vaishaligoyal05/awaaz-e-punjab/internal/fetcher"
	"github.com/vaishaligoyal05/awaaz-e-punjab/internal/mgnrega"
	"github.com/vaishaligoyal05/awaaz-e-punjab/internal/resilience"
	"github.com/vaishaligoyal05/awaaz-e-punjab/internal/store"
)

// openStore opens and migrates the configured store.
func openStore(ctx context.Context, c *config.Config) (store.Store, error) {
	st, err := store.Open(ctx, store.Config{
		Driver:      c.Store.Driver,
		DatabaseURL: c.Store.DatabaseURL,
		Pool: store.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		},
	})
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// newFetcher builds the upstream HTTP fetcher from the retry budget and
// per-host rate in c.
func newFetcher(c config.UpstreamConfig) *fetcher.HTTPFetcher {
	opts := fetcher.HTTPOptions{
		UserAgent: c.UserAgent,
		Retry:     resilience.FromRetryBudget(c.MaxRetries, c.BaseDelayMs),
	}
	if c.TimeoutSecs > 0 {
		opts.Timeout = secs(c.TimeoutSecs)
	}
	if u, err := url.Parse(c.BaseURL); err == nil && u.Host != "" && c.RatePerSec > 0 {
		burst := max(1, int(c.RatePerSec))
		opts.AdaptiveLimiters = map[string]*fetcher.AdaptiveLimiter{
			u.Host: fetcher.NewAdaptiveLimiter(rate.Limit(c.RatePerSec), burst),
		}
	}
	return fetcher.NewHTTPFetcher(opts)
}

// pageOpener builds the upstream client lazily so a configuration error
// fails the run and lands in the ledger.
func pageOpener(f fetcher.Fetcher, c config.UpstreamConfig) mgnrega.PageOpener {
	return func() (mgnrega.PageWalker, error) {
		client, err := datagov.NewClient(f, datagov.Config{
			BaseURL:    c.BaseURL,
			ResourceID: c.ResourceID,
			APIKey:     c.APIKey,
			State:      c.State,
			PageSize:   c.PageSize,
		})
		if err != nil {
			return nil, err
		}
		return client.Pages(), nil
	}
}

// newSyncer wires a Syncer over st.
func newSyncer(c *config.Config, st store.Store) (*mgnrega.Syncer, error) {
	return mgnrega.NewSyncer(mgnrega.SyncerConfig{
		Pages:     pageOpener(newFetcher(c.Upstream), c.Upstream),
		Store:     st,
		Ledger:    st,
		BatchSize: c.Sync.BatchSize,
	})
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}
