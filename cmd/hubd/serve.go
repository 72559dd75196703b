package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dive-federation/hub/internal/api"
	"github.com/dive-federation/hub/internal/app"
	"github.com/dive-federation/hub/internal/config"
	"github.com/dive-federation/hub/internal/federation"
	"github.com/dive-federation/hub/internal/httpclient"
	"github.com/dive-federation/hub/internal/logging"
)

func newServeCmd() *cobra.Command {
	var addr string
	var dev bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the long-lived federation hub process",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New(dev)
			defer func() { _ = log.Sync() }()

			cfg, err := config.Load(os.Environ())
			if err != nil {
				return withExitCode(1, err)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			reg := prometheus.NewRegistry()
			a, err := app.Bootstrap(ctx, cfg, log, reg)
			if err != nil {
				return withExitCode(2, err)
			}

			mux := api.NewMux(a)
			mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

			server := &http.Server{
				Addr:              addr,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}

			go runHeartbeatSweeper(ctx, a, log)
			go runFederationSyncScheduler(ctx, a, log)

			errCh := make(chan error, 1)
			go func() {
				log.Infow("hub listening", "addr", addr)
				errCh <- server.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				log.Info("shutting down")
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				return server.Shutdown(shutdownCtx)
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return withExitCode(2, err)
				}
				return nil
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8443", "HTTP listen address")
	cmd.Flags().BoolVar(&dev, "dev", false, "use human-friendly console logging instead of JSON")
	return cmd
}

// runHeartbeatSweeper periodically flags spokes that have gone quiet,
// feeding the connectivity half of the health score (spec.md §4.2
// GetUnhealthy, §4.9 connectivityHealth).
func runHeartbeatSweeper(ctx context.Context, a *app.App, log interface {
	Warnw(string, ...any)
}) {
	ticker := time.NewTicker(a.Config.HeartbeatInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, rec := range a.Spokes.GetUnhealthy(a.Config.MaxHeartbeatAge()) {
				a.Health.RecordHeartbeat(rec.SpokeID, false)
				log.Warnw("spoke heartbeat stale", "spokeId", rec.SpokeID, "lastHeartbeat", rec.LastHeartbeat)
			}
		}
	}
}

// runFederationSyncScheduler drives one push-pull cycle per configured
// peer on FederationSyncInterval (spec.md §4.8 "Scheduler"). A hub with
// no <CODE>_FEDERATION_ENDPOINT peers configured runs with this disabled
// entirely rather than ticking against an empty set.
func runFederationSyncScheduler(ctx context.Context, a *app.App, log *zap.SugaredLogger) {
	if len(a.Config.FederationPeers) == 0 {
		return
	}
	httpClient, err := httpclient.New(httpclient.Config{CABundlePath: a.Config.TLSCABundlePath})
	if err != nil {
		log.Errorw("federation sync scheduler disabled: building outbound HTTP client failed", "error", err)
		return
	}

	ticker := time.NewTicker(a.Config.FederationSyncInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for peerRealm, baseURL := range a.Config.FederationPeers {
				client := federation.NewHTTPPeerClient(httpClient, baseURL, app.LocalRealm, peerRealm, a.Config.FederationJWTSecret)
				result, ok, err := a.Federation.Sync(ctx, peerRealm, client)
				if err != nil {
					log.Errorw("federation sync failed", "peer", peerRealm, "error", err)
					continue
				}
				if !ok {
					continue // a sync for this pair is already in flight
				}
				log.Infow("federation sync complete", "peer", peerRealm, "synced", result.Synced, "updated", result.Updated, "conflicted", result.Conflicted)
			}
		}
	}
}
