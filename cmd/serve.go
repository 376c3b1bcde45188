package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/partwise/pricing-cli/internal/api"
	"github.com/partwise/pricing-cli/internal/monitoring"
	"github.com/partwise/pricing-cli/internal/scheduler"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the admin API and the refresh scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		sched, err := newScheduler(env)
		if err != nil {
			return err
		}

		srv := &http.Server{
			Addr: fmt.Sprintf(":%d", cfg.Server.Port),
			Handler: api.NewRouter(env.Service, sched, api.Options{
				AllowedOrigins: cfg.Server.AllowedOrigins,
				Breakers:       env.Breakers,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			if !cfg.Scheduler.Enabled {
				zap.L().Info("scheduler disabled, jobs run on manual trigger only")
				<-gctx.Done()
				return nil
			}
			if err := sched.Start(gctx); err != nil {
				return err
			}
			<-gctx.Done()
			return nil
		})
		g.Go(func() error {
			newChecker(env).Run(gctx)
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 30*time.Second)
			defer cancel()
			if err := sched.Stop(shutdownCtx); err != nil {
				zap.L().Warn("scheduler stop", zap.Error(err))
			}
			return srv.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

// newScheduler registers the default jobs with the configured cadences.
func newScheduler(env *appEnv) (*scheduler.Scheduler, error) {
	reg, err := scheduler.NewRegistry(scheduler.DefaultJobs(scheduler.Cadences{
		TierA:        cfg.Scheduler.TierA,
		TierB:        cfg.Scheduler.TierB,
		CacheCleanup: cfg.Scheduler.CacheCleanup,
		AssignTiers:  cfg.Scheduler.AssignTiers,
	}, env.Service)...)
	if err != nil {
		return nil, err
	}
	return scheduler.New(reg, env.Store)
}

// newChecker builds the background alert checker over recorded job runs
// and the live source breakers.
func newChecker(env *appEnv) *monitoring.Checker {
	collector := monitoring.NewCollector(env.Store, env.Breakers)
	return monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
