package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vaishaligoyal05/awaaz-e-punjab/internal/api"
	"github.com/vaishaligoyal05/awaaz-e-punjab/internal/config"
	"github.com/vaishaligoyal05/awaaz-e-punjab/internal/mgnrega"
	"github.com/vaishaligoyal05/awaaz-e-punjab/internal/monitoring"
	"github.com/vaishaligoyal05/awaaz-e-punjab/internal/scheduler"
	"github.com/vaishaligoyal05/awaaz-e-punjab/internal/store"
)

var (
	servePort        int
	serveNoScheduler bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, sync scheduler and health checker",
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if serveNoScheduler {
			cfg.Sync.SchedulerEnabled = false
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		syncer, err := newSyncer(cfg, st)
		if err != nil {
			return err
		}

		return runServer(ctx, cfg, st, syncer)
	},
}

// runServer runs the HTTP server, the scheduler and the checker until ctx is
// done or one of them fails.
func runServer(ctx context.Context, c *config.Config, st store.Store, syncer *mgnrega.Syncer) error {
	handler := api.NewRouter(syncer, mgnrega.NewViews(st, c.Upstream.State), api.Options{
		CORSOrigins:       c.Server.CORSOrigins,
		RateLimitRequests: c.Server.RateLimitRequests,
		RateLimitWindow:   secs(c.Server.RateLimitWindowSecs),
	})

	var sched *scheduler.Scheduler
	if c.Sync.SchedulerEnabled {
		var err error
		sched, err = scheduler.New(c.Sync.CronSchedule, syncer, time.Duration(c.Sync.RunTimeoutMins)*time.Minute)
		if err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", c.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		zap.L().Info("starting server", zap.Int("port", c.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if sched != nil {
		g.Go(func() error { return sched.Run(gctx) })
	}

	if c.Monitoring.Enabled {
		checker := monitoring.NewChecker(
			monitoring.NewCollector(st),
			monitoring.NewAlerter(c.Monitoring),
			c.Monitoring,
		)
		g.Go(func() error {
			checker.Run(gctx)
			return nil
		})
	}

	return g.Wait()
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveNoScheduler, "no-scheduler", false, "disable the cron-driven sync")
	rootCmd.AddCommand(serveCmd)
}
