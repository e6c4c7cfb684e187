// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/relaybird/relaybird/internal/analytics"
	"github.com/relaybird/relaybird/internal/config"
	"github.com/relaybird/relaybird/internal/dedup"
	"github.com/relaybird/relaybird/internal/delivery"
	deliverypostgres "github.com/relaybird/relaybird/internal/delivery/postgres"
	"github.com/relaybird/relaybird/internal/dispatch"
	"github.com/relaybird/relaybird/internal/pkg/ctxlog"
	"github.com/relaybird/relaybird/internal/pkg/httputil"
	"github.com/relaybird/relaybird/internal/pkg/metrics"
	"github.com/relaybird/relaybird/internal/pkg/postgres"
	"github.com/relaybird/relaybird/internal/queue"
	queuepostgres "github.com/relaybird/relaybird/internal/queue/postgres"
	"github.com/relaybird/relaybird/internal/quiet"
	"github.com/relaybird/relaybird/internal/ratelimit"
	"github.com/relaybird/relaybird/internal/schedules"
	schedulespostgres "github.com/relaybird/relaybird/internal/schedules/postgres"
	"github.com/relaybird/relaybird/internal/transport"
	"github.com/relaybird/relaybird/internal/version"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	redis         *redis.Client
	server        *http.Server
	metricsServer *http.Server

	adapter *transport.WebhookAdapter
	tracker *delivery.Tracker
	manager *queue.Manager
	trigger *dispatch.Trigger

	workerCtx    context.Context
	workerCancel context.CancelFunc
}

// New creates a new application instance. Background loops start in Run.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := runMigrations(cfg.Database.URL); err != nil {
		return nil, err
	}

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	app := &App{
		config: cfg,
		logger: logger,
		db:     db,
	}
	app.workerCtx, app.workerCancel = context.WithCancel(context.Background())

	if cfg.Redis.Addr != "" {
		app.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	router, err := app.setup()
	if err != nil {
		db.Close()
		app.workerCancel()
		return nil, err
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// setup wires all components and returns the API router.
func (a *App) setup() (*chi.Mux, error) {
	cfg := a.config

	queueRepo := queuepostgres.NewRepository(a.db)
	deliveryRepo := deliverypostgres.NewRepository(a.db)
	schedulesRepo := schedulespostgres.NewRepository(a.db)

	gate, err := buildQuietPolicy(cfg.Quiet)
	if err != nil {
		return nil, fmt.Errorf("quiet policy: %w", err)
	}

	var cache dedup.RecentCache
	if a.redis != nil {
		cache = dedup.NewRedisCache(a.redis, cfg.Dedup.Lookback, cfg.Dedup.MaxRecent)
	} else {
		slog.Warn("redis not configured, dedup checks read from the delivery log only")
	}
	filter := dedup.NewFilter(dedup.Config{
		Threshold: cfg.Dedup.Threshold,
		Lookback:  cfg.Dedup.Lookback,
		MaxRecent: cfg.Dedup.MaxRecent,
	}, dedup.StrategyByName(cfg.Dedup.Strategy), cache, dedupHistory{repo: deliveryRepo})

	limiter := ratelimit.New(ratelimit.Config{
		IntraTargetDelay: cfg.RateLimit.IntraTargetDelay,
		InterTargetDelay: cfg.RateLimit.InterTargetDelay,
		MaxWait:          cfg.RateLimit.MaxWait,
	})

	a.adapter, err = transport.NewWebhookAdapter(transport.WebhookConfig{
		URL:       cfg.Transport.WebhookURL,
		AuthToken: cfg.Transport.AuthToken,
		Timeout:   cfg.Transport.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("transport adapter: %w", err)
	}

	a.tracker = delivery.NewTracker(delivery.TrackerConfig{
		ReceiptTimeout: cfg.Delivery.ReceiptTimeout,
	}, deliveryRepo, a.adapter.Receipts())

	a.manager = queue.NewManager(queue.ManagerConfig{
		PollInterval:     cfg.Queue.PollInterval,
		MaxWorkers:       cfg.Queue.MaxWorkers,
		MaxRetries:       cfg.Queue.MaxRetries,
		RetryBaseDelay:   cfg.Queue.RetryBaseDelay,
		RetryMaxDelay:    cfg.Queue.RetryMaxDelay,
		SendTimeout:      cfg.Queue.SendTimeout,
		RetentionPeriod:  cfg.Queue.RetentionPeriod,
		CleanupInterval:  cfg.Queue.CleanupInterval,
		RecoverOnStartup: cfg.Queue.RecoverOnStartup,
	}, queueRepo, deliveryRepo, gate, filter, limiter, a.adapter, a.tracker)

	engine := analytics.NewEngine(analytics.Config{
		LookbackDays:    cfg.Analytics.LookbackDays,
		HalfLifeDays:    cfg.Analytics.HalfLifeDays,
		PriorAlpha:      cfg.Analytics.PriorAlpha,
		PriorBeta:       cfg.Analytics.PriorBeta,
		ResponseBoost:   cfg.Analytics.ResponseBoost,
		FatiguePenalty:  cfg.Analytics.FatiguePenalty,
		MinObservations: cfg.Analytics.MinObservations,
		TopSlots:        cfg.Analytics.TopSlots,
		RiskWeights: analytics.RiskWeights{
			Failure:    cfg.Analytics.RiskWeights.Failure,
			Unobserved: cfg.Analytics.RiskWeights.Unobserved,
			Silence:    cfg.Analytics.RiskWeights.Silence,
			Inactivity: cfg.Analytics.RiskWeights.Inactivity,
		},
	}, deliveryRepo)

	schedulesService := schedules.NewService(schedulesRepo, engine)

	source, renderer := buildGateways(cfg)
	a.trigger = dispatch.NewTrigger(dispatch.TriggerConfig{
		TickInterval: cfg.Dispatch.TickInterval,
		SourceWindow: cfg.Dispatch.SourceWindow,
	}, schedulesService, source, renderer, queueRepo)

	queueService := queue.NewService(queueRepo)

	r := chi.NewRouter()

	r.Use(httputil.MetricsMiddleware)
	r.Use(httputil.CORSMiddleware(cfg.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Route("/api/v1", func(r chi.Router) {
		schedules.NewHandler(schedulesService).RegisterRoutes(r)
		queue.NewHandler(queueService).RegisterRoutes(r)
		delivery.NewHandler(deliveryRepo).RegisterRoutes(r)
		analytics.NewHandler(engine).RegisterRoutes(r)
		dispatch.NewHandler(a.trigger).RegisterRoutes(r)
		transport.NewHandler(a.adapter).RegisterRoutes(r)
	})

	go a.collectDBMetrics(a.workerCtx)
	go a.collectQueueMetrics(a.workerCtx, queueRepo)

	return r, nil
}

// buildQuietPolicy converts configured windows into a window policy.
func buildQuietPolicy(cfg config.QuietConfig) (quiet.Policy, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
	}

	windows := make([]quiet.Window, 0, len(cfg.Windows))
	for _, w := range cfg.Windows {
		days, err := quiet.ParseWeekdays(w.Weekdays)
		if err != nil {
			return nil, err
		}
		windows = append(windows, quiet.Window{
			Start:    w.Start,
			End:      w.End,
			Weekdays: days,
			Reason:   w.Reason,
		})
	}
	return quiet.NewWindowPolicy(loc, windows)
}

// buildGateways wires the external content source and renderer, degrading
// gracefully when a gateway is not configured.
func buildGateways(cfg *config.Config) (dispatch.ContentSource, dispatch.Renderer) {
	var source dispatch.ContentSource = dispatch.EmptySource{}
	if cfg.Source.URL != "" {
		s, err := dispatch.NewWebhookContentSource(dispatch.GatewayConfig{
			URL:       cfg.Source.URL,
			AuthToken: cfg.Source.AuthToken,
			Timeout:   cfg.Source.Timeout,
		})
		if err == nil {
			source = s
		}
	} else {
		slog.Warn("content source not configured, schedules only fire through content ingest")
	}

	var renderer dispatch.Renderer = dispatch.RawFieldRenderer{}
	if cfg.Renderer.URL != "" {
		r, err := dispatch.NewWebhookRenderer(dispatch.GatewayConfig{
			URL:       cfg.Renderer.URL,
			AuthToken: cfg.Renderer.AuthToken,
			Timeout:   cfg.Renderer.Timeout,
		})
		if err == nil {
			renderer = r
		}
	} else {
		slog.Warn("renderer not configured, items are rendered from their raw text field")
	}
	return source, renderer
}

// dedupHistory adapts the delivery log repository to the dedup filter's
// history contract.
type dedupHistory struct {
	repo delivery.Repository
}

func (h dedupHistory) RecentSends(ctx context.Context, destinationID string, since time.Time, limit int) ([]dedup.RecentSend, error) {
	logs, err := h.repo.RecentSends(ctx, destinationID, since, limit)
	if err != nil {
		return nil, err
	}

	sends := make([]dedup.RecentSend, 0, len(logs))
	for _, l := range logs {
		at := l.CreatedAt
		if l.SentAt != nil {
			at = *l.SentAt
		}
		sends = append(sends, dedup.RecentSend{LogID: l.ID, Text: l.ContentText, SentAt: at})
	}
	return sends, nil
}

// Run starts the background loops and HTTP servers. It blocks until the main
// server stops.
func (a *App) Run() error {
	a.tracker.Start(a.workerCtx)
	a.manager.Start(a.workerCtx)
	a.trigger.Start(a.workerCtx)

	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully stops the application. Workers interrupted mid-send
// release their items back to pending before this returns.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	// Stop order: no new dispatch, drain workers, then stop receipt
	// consumption and close the stream.
	a.trigger.Stop()
	a.workerCancel()
	a.manager.Stop()
	a.tracker.Stop()
	a.adapter.Close()

	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	a.db.Close()

	return errors.Join(errs...)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

func (a *App) collectDBMetrics(ctx context.Context) {
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) collectQueueMetrics(ctx context.Context, repo queue.Repository) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats, err := repo.Stats(ctx)
			if err != nil {
				slog.Error("failed to get queue stats", "error", err)
				continue
			}
			queue.RecordStats(stats)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
