package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shield-moderation/shield-go/internal/config"
	"github.com/shield-moderation/shield-go/internal/events"
	"github.com/shield-moderation/shield-go/internal/guard"
	"github.com/shield-moderation/shield-go/internal/logger"
	"github.com/shield-moderation/shield-go/internal/metrics"
	"github.com/shield-moderation/shield-go/internal/storage"
	"github.com/shield-moderation/shield-go/pkg/publishers"
	"github.com/shield-moderation/shield-go/pkg/shield"
	"golang.org/x/sync/errgroup"
)

const metricsShutdownTimeout = 5 * time.Second

// Guard is the moderation guard runtime. It consumes guild events from the configured
// sources, runs them through the guard service, and serves metrics until cancelled.
type Guard struct {
	cfg     *config.Config
	sources []events.Source
	service *guard.Service
	fanout  *publishers.Fanout
	metrics *metrics.Metrics
	log     logger.Logger
	store   storage.Store
}

// NewGuard builds a guard runtime from config files.
func NewGuard(ctx context.Context, cfg *config.Config, log logger.Logger) (*Guard, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if log == nil {
		log = &logger.NopLogger{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	client, err := shield.New(cfg.ShieldAPIKey, shield.Options{
		APIURL:  cfg.ShieldAPIURL,
		Timeout: cfg.ShieldTimeout,
		Debug:   cfg.ShieldDebug,
		Logger:  log,
	})
	if err != nil {
		return nil, fmt.Errorf("init shield client: %w", err)
	}

	sourceReg, err := events.LoadRegistry(cfg.SourcesFile)
	if err != nil {
		return nil, fmt.Errorf("load sources registry: %w", err)
	}
	enabledSources := sourceReg.Enabled()
	if len(enabledSources) == 0 {
		return nil, fmt.Errorf("no sources configured")
	}

	publisherReg, err := publishers.LoadRegistry(cfg.PublishersFile)
	if err != nil {
		return nil, fmt.Errorf("load publishers registry: %w", err)
	}
	enabledPublishers := publisherReg.Enabled()
	if len(enabledPublishers) == 0 {
		return nil, fmt.Errorf("no publishers configured")
	}

	pubClients, err := publishers.BuildAll(ctx, publishers.DefaultRegistry(), enabledPublishers, log)
	if err != nil {
		return nil, fmt.Errorf("build publishers: %w", err)
	}
	fanout := publishers.NewFanout(pubClients)
	log.InfoObj("publishers registry loaded", "publishers_meta", map[string]any{
		"count":      fanout.Size(),
		"publishers": summarize(enabledPublishers, func(c publishers.PublisherConfig) (string, string) { return c.ID, c.Type }),
	})

	sources, err := events.BuildAll(ctx, events.DefaultBuilders(), enabledSources, log)
	if err != nil {
		fanout.Close()
		return nil, fmt.Errorf("build sources: %w", err)
	}
	log.InfoObj("sources registry loaded", "sources_meta", map[string]any{
		"count":   len(sources),
		"sources": summarize(enabledSources, func(c events.SourceConfig) (string, string) { return c.ID, c.Type }),
	})

	store, err := storage.NewStore(cfg.StorageType, cfg.BBoltPath, storage.Options{
		EventTTL:        cfg.StorageTTL,
		CleanupInterval: cfg.StorageCleanupInterval,
	})
	if err != nil {
		fanout.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	log.InfoObj("storage initialized", "storage_config", map[string]any{
		"type":                     cfg.StorageType,
		"path":                     cfg.BBoltPath,
		"event_ttl_seconds":        int(cfg.StorageTTL.Seconds()),
		"cleanup_interval_seconds": int(cfg.StorageCleanupInterval.Seconds()),
	})

	m := metrics.New()
	service := guard.NewService(client, fanout, guard.Options{
		Retry: guard.RetryPolicy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseBackoff: cfg.RetryBaseBackoff,
			MaxBackoff:  cfg.RetryMaxBackoff,
		},
		AutoAction: cfg.AutoActionEnabled,
		MinRisk:    shield.RiskLevel(cfg.AutoActionMinRisk),
		Store:      store,
		Metrics:    m,
		Log:        log,
	})

	return &Guard{
		cfg:     cfg,
		sources: sources,
		service: service,
		fanout:  fanout,
		metrics: m,
		log:     log,
		store:   store,
	}, nil
}

// Run consumes every source concurrently until ctx is cancelled or all sources are exhausted.
func (g *Guard) Run(ctx context.Context) error {
	if g == nil || g.service == nil {
		return fmt.Errorf("guard is not initialized")
	}
	defer g.close()

	g.log.InfoObj("guard starting", "guard_state", map[string]any{
		"sources_count":    len(g.sources),
		"publishers_count": g.fanout.Size(),
		"metrics_addr":     g.cfg.MetricsAddr,
		"auto_action":      g.cfg.AutoActionEnabled,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := g.startMetrics()

	eg, egCtx := errgroup.WithContext(runCtx)
	for _, src := range g.sources {
		eg.Go(func() error {
			err := src.Run(egCtx, g.service.Handle)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("source %s: %w", src.ID(), err)
			}
			g.log.InfoObj("source finished", "source_meta", map[string]any{
				"id":   src.ID(),
				"type": src.Type(),
			})
			return nil
		})
	}
	err := eg.Wait()

	g.stopMetrics(srv)
	g.log.InfoObj("guard exiting", "reason", fmt.Sprint(ctx.Err()))
	return err
}

func (g *Guard) startMetrics() *http.Server {
	if g.cfg.MetricsAddr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", g.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: g.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.log.ErrorObj("metrics server failed", "error", err.Error())
		}
	}()
	return srv
}

func (g *Guard) stopMetrics(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		g.log.ErrorObj("metrics server shutdown failed", "error", err.Error())
	}
}

// close releases publishers and the storage backend.
func (g *Guard) close() {
	g.fanout.Close()
	if g.store == nil {
		return
	}
	if err := g.store.Close(); err != nil {
		g.log.ErrorObj("storage close failed", "error", err.Error())
	}
}

func summarize[T any](cfgs []T, fields func(T) (string, string)) []map[string]string {
	out := make([]map[string]string, 0, len(cfgs))
	for _, c := range cfgs {
		id, typ := fields(c)
		out = append(out, map[string]string{"id": id, "type": typ})
	}
	return out
}
