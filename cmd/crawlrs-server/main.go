// crawlrs-server is the monolith binary: it serves the REST API and
// runs every background worker pool, the queue-maintenance dispatcher,
// the backlog reaper, and the webhook delivery worker in one process.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/crawlrs/crawlrs/internal/async"
	"github.com/crawlrs/crawlrs/internal/backlog"
	"github.com/crawlrs/crawlrs/internal/config"
	"github.com/crawlrs/crawlrs/internal/crawlexec"
	crawl "github.com/crawlrs/crawlrs/internal/domain/crawl"
	task "github.com/crawlrs/crawlrs/internal/domain/task"
	webhook "github.com/crawlrs/crawlrs/internal/domain/webhook"
	"github.com/crawlrs/crawlrs/internal/dispatch"
	domainerrors "github.com/crawlrs/crawlrs/internal/errors"
	"github.com/crawlrs/crawlrs/internal/engine"
	"github.com/crawlrs/crawlrs/internal/extract"
	"github.com/crawlrs/crawlrs/internal/httpapi"
	"github.com/crawlrs/crawlrs/internal/infra/backlogstore"
	"github.com/crawlrs/crawlrs/internal/infra/crawlstore"
	"github.com/crawlrs/crawlrs/internal/infra/taskstore"
	"github.com/crawlrs/crawlrs/internal/infra/webhookstore"
	"github.com/crawlrs/crawlrs/internal/logging"
	"github.com/crawlrs/crawlrs/internal/outbox"
	"github.com/crawlrs/crawlrs/internal/ratelimit"
	"github.com/crawlrs/crawlrs/internal/search"
	"github.com/crawlrs/crawlrs/internal/security/ssrf"
	"github.com/crawlrs/crawlrs/internal/tenant"
	"github.com/crawlrs/crawlrs/internal/worker"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "crawlrs-server",
		Short: "Runs the crawlrs task-execution platform",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			return run(cfg)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file (optional)")

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(cfg config.Config) error {
	logger := logging.NewComponentLogger("crawlrs-server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tasks, crawls, webhooks, backlogStore := buildStores(ctx, cfg, logger)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	semaphore := tenant.NewSemaphore(rdb)
	limiter := ratelimit.NewLimiter(rdb)
	limits := tenant.NewConfigLimits(cfg.DefaultTier.MaxConcurrency, tierConcurrencyMap(cfg))

	router := buildEngineRouter(cfg)
	checker := ssrf.NewChecker(net.DefaultResolver)

	searchCache, err := search.NewLRUCache(1024)
	if err != nil {
		return fmt.Errorf("building search cache: %w", err)
	}
	var cache search.Cache = searchCache
	if cfg.RedisAddr != "" {
		cache = search.NewRedisCache(rdb)
	}
	aggregator := search.New(buildSearchEngines(cfg, router), domainerrors.NewManager(breakerConfigFrom(cfg.Breaker)), cache, cfg.MinSearchEngineSuccess)

	var extractor *extract.Extractor
	if cfg.AnthropicAPIKey != "" {
		extractor, err = extract.New(cfg.AnthropicAPIKey)
		if err != nil {
			return fmt.Errorf("building extractor: %w", err)
		}
	}

	scrapeExec := &crawlexec.ScrapeExecutor{Router: router, SSRF: checker}
	searchExec := &crawlexec.SearchExecutor{Aggregator: aggregator}
	crawlExec := crawlexec.NewCrawlExecutor(router, checker, crawls, tasks, webhooks, &http.Client{Timeout: 10 * time.Second})
	var extractExec *crawlexec.ExtractExecutor
	if extractor != nil {
		extractExec = &crawlexec.ExtractExecutor{Extractor: extractor}
	}

	webhookAdapter := worker.WebhookAdapter{Store: webhooks}
	permits := tenant.AsPermitAcquirer{Sem: semaphore}
	backlogger := worker.BacklogAdapter{Store: backlogStore, TaskStore: tasks}

	pools := []*worker.Pool{
		worker.New("scrape", []task.Kind{task.KindScrape}, cfg.ScrapeWorkers, tasks, scrapeExec, permits, limits, backlogger, webhookAdapter),
		worker.New("crawl", []task.Kind{task.KindCrawlSeed, task.KindCrawlChild}, cfg.CrawlWorkers, tasks, crawlExec, permits, limits, backlogger, webhookAdapter),
		worker.New("search", []task.Kind{task.KindSearch}, cfg.SearchWorkers, tasks, searchExec, permits, limits, backlogger, webhookAdapter),
	}
	if extractExec != nil {
		pools = append(pools, worker.New("extract", []task.Kind{task.KindExtract}, cfg.ExtractWorkers, tasks, extractExec, permits, limits, backlogger, webhookAdapter))
	} else {
		logger.Warn("anthropic_api_key not configured; extract tasks will never be dispatched")
	}
	for _, p := range pools {
		p.Run(ctx)
	}

	dispatch.New(tasks).Run(ctx)

	reaper := backlog.NewReaper(backlogStore, tasks, webhooks, tenant.AsBacklogProber{Sem: semaphore})
	async.Go(logger, "backlog-reaper", func() { reaper.Run(ctx) })

	secrets := config.NewStaticSecretResolver(cfg.WebhookSigningSecret)
	outboxWorker := outbox.NewWorker(webhooks, secrets, &http.Client{Timeout: cfg.WebhookTimeout})
	async.Go(logger, "outbox-worker", func() { outboxWorker.Run(ctx) })

	auth := httpapi.NewStaticAuthenticator(staticPrincipals(cfg))
	server := httpapi.NewServer(tasks, crawls, webhooks, auth, limiter, logger)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return serveUntilSignal(httpServer, logger, cancel)
}

func serveUntilSignal(server *http.Server, logger logging.Logger, shutdownBackground func()) error {
	errCh := make(chan error, 1)
	async.Go(logger, "http-server", func() {
		logger.Info("listening on %s", server.Addr)
		errCh <- server.ListenAndServe()
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		shutdownBackground()
		if err == nil || err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-quit:
		logger.Info("shutting down")
		shutdownBackground()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		<-errCh
		logger.Info("stopped")
		return nil
	}
}

func buildStores(ctx context.Context, cfg config.Config, logger logging.Logger) (task.Store, crawl.Store, webhook.Store, backlog.Store) {
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Warn("postgres unavailable (%v); falling back to in-memory stores", err)
		tasks := taskstore.NewMemoryStore()
		return tasks, crawlstore.NewMemoryStore(tasks), webhookstore.NewMemoryStore(), backlogstore.NewMemoryStore()
	}

	tasks := taskstore.NewPostgresStore(pool)
	crawls := crawlstore.NewPostgresStore(pool)
	webhooks := webhookstore.NewPostgresStore(pool)
	backlogDB := backlogstore.NewPostgresStore(pool)

	for _, schema := range []interface{ EnsureSchema(context.Context) error }{tasks, crawls, webhooks, backlogDB} {
		if err := schema.EnsureSchema(ctx); err != nil {
			logger.Warn("ensure schema failed: %v", err)
		}
	}
	return tasks, crawls, webhooks, backlogDB
}

func buildEngineRouter(cfg config.Config) *engine.Router {
	client := &http.Client{Timeout: crawlexec.DefaultFetchTimeout}
	enabled := make(map[string]bool, len(cfg.EnabledEngines))
	for _, name := range cfg.EnabledEngines {
		enabled[name] = true
	}

	var engines []engine.Engine
	if enabled["reqwest"] || len(enabled) == 0 {
		engines = append(engines, engine.NewReqwest(client))
	}
	if enabled["headless"] && cfg.PlaywrightSidecarURL != "" {
		engines = append(engines, engine.NewPlaywright(cfg.PlaywrightSidecarURL, client))
	}
	if enabled["stealth"] && cfg.FireEngineTLSSidecarURL != "" {
		engines = append(engines, engine.NewFireEngineTLS(cfg.FireEngineTLSSidecarURL, client))
	}
	if cfg.FireEngineCDPSidecarURL != "" {
		engines = append(engines, engine.NewFireEngineCDP(cfg.FireEngineCDPSidecarURL, client))
	}

	return engine.NewRouter(engines, domainerrors.NewManager(breakerConfigFrom(cfg.Breaker)))
}

// breakerConfigFrom converts the configured breaker tuning into
// domainerrors.CircuitBreakerConfig, falling back to the library
// defaults for any zero-valued field.
func breakerConfigFrom(b config.BreakerTuning) domainerrors.CircuitBreakerConfig {
	defaults := domainerrors.DefaultCircuitBreakerConfig()
	cfg := defaults
	if b.FailureThreshold > 0 {
		cfg.FailureThreshold = b.FailureThreshold
	}
	if b.Window > 0 {
		cfg.FailureWindow = b.Window
	}
	if b.OpenDuration > 0 {
		cfg.OpenDuration = b.OpenDuration
	}
	return cfg
}

func buildSearchEngines(cfg config.Config, _ *engine.Router) []search.Engine {
	client := &http.Client{Timeout: search.EngineTimeout}
	engines := make([]search.Engine, 0, len(cfg.SearchProviders))
	for _, p := range cfg.SearchProviders {
		engines = append(engines, search.NewSearXNGEngine(p.Name, p.BaseURL, p.Score, client))
	}
	return engines
}

func tierConcurrencyMap(cfg config.Config) map[string]int {
	out := make(map[string]int, len(cfg.Tiers))
	for name, limits := range cfg.Tiers {
		out[name] = limits.MaxConcurrency
	}
	return out
}

func staticPrincipals(cfg config.Config) map[string]httpapi.Principal {
	out := make(map[string]httpapi.Principal, len(cfg.Credentials))
	for credential, c := range cfg.Credentials {
		quota := c.QuotaPerMinute
		if quota <= 0 {
			quota = cfg.DefaultTier.RatePerMinute
		}
		out[credential] = httpapi.Principal{Tenant: c.Tenant, Credential: credential, QuotaPerMinute: quota}
	}
	return out
}
