// billingd serves the billing HTTP API: plan catalog, subscription views,
// usage enforcement, plan changes and the payment provider webhook.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ringline/billingkit/internal/db/migrations"
	billingmod "github.com/ringline/billingkit/modules/billing"
	"github.com/ringline/billingkit/pkg/billing"
	"github.com/ringline/billingkit/pkg/config"
	"github.com/ringline/billingkit/pkg/httpserver"
	"github.com/ringline/billingkit/pkg/logger"
	"github.com/ringline/billingkit/pkg/pg"
	"github.com/ringline/billingkit/pkg/plan"
	"github.com/ringline/billingkit/pkg/planchange"
	"github.com/ringline/billingkit/pkg/reconcile"
	"github.com/ringline/billingkit/pkg/redis"
	"github.com/ringline/billingkit/pkg/requestid"
	"github.com/ringline/billingkit/pkg/subscription"
	"github.com/ringline/billingkit/pkg/usage"
	"github.com/ringline/billingkit/pkg/view"
)

type appConfig struct {
	Environment string `env:"APP_ENV" envDefault:"development"`
	CatalogPath string `env:"PLAN_CATALOG_PATH" envDefault:"plans.yaml"`

	// UsageBackend selects where usage counters live: "postgres" shares the
	// main database, "redis" keeps the hot counters in Redis.
	UsageBackend string `env:"USAGE_BACKEND" envDefault:"postgres"`
	UsagePrefix  string `env:"USAGE_REDIS_PREFIX" envDefault:"usage"`

	// PaddlePrices maps catalog plans to Paddle price IDs, as
	// comma-separated "planID/interval=pri_xxx" pairs.
	PaddlePrices string `env:"PADDLE_PRICES,required"`
}

func main() {
	if err := run(context.Background()); err != nil {
		slog.Error("billingd exited", logger.Error(err))
	}
}

func run(ctx context.Context) error {
	var (
		appCfg    appConfig
		httpCfg   httpserver.Config
		pgCfg     pg.Config
		paddleCfg billing.PaddleConfig
	)
	config.MustLoad(&appCfg)
	config.MustLoad(&httpCfg)
	config.MustLoad(&pgCfg)
	config.MustLoad(&paddleCfg)

	log := logger.New(
		logger.WithEnvironment(appCfg.Environment, "billingd"),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	)
	logger.SetAsDefault(log)

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, migrations.FS, pgCfg, log); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	health := map[string]func(context.Context) error{
		"postgres": pg.Healthcheck(pool),
	}

	var counters usage.CounterStore
	switch appCfg.UsageBackend {
	case "redis":
		var redisCfg redis.Config
		config.MustLoad(&redisCfg)
		client, err := redis.Connect(ctx, redisCfg)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		counters = usage.NewRedisStore(client, appCfg.UsagePrefix)
		health["redis"] = redis.Healthcheck(client)
	case "postgres":
		counters = usage.NewPgStore(pool)
	default:
		return fmt.Errorf("unknown usage backend %q", appCfg.UsageBackend)
	}

	catalog, err := plan.NewYAMLCatalog(appCfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("load plan catalog: %w", err)
	}

	prices, err := parsePrices(appCfg.PaddlePrices)
	if err != nil {
		return err
	}
	provider, err := billing.NewPaddleProvider(paddleCfg, prices)
	if err != nil {
		return fmt.Errorf("create paddle provider: %w", err)
	}

	locker := subscription.NewLocker()
	subs := subscription.NewPgStore(pool)
	pending := planchange.NewPgStore(pool)
	ledger := usage.NewLedger(catalog, subs, counters, locker, usage.WithLogger(log))

	router := chi.NewRouter()
	router.Use(requestid.Middleware)
	router.Mount("/billing", billingmod.Router(billingmod.RouterOptions{
		Catalog: catalog,
		Subs:    subs,
		View:    view.NewService(catalog, subs, pending, ledger),
		Changes: planchange.NewService(catalog, subs, pending, provider, locker,
			planchange.WithLogger(log)),
		Ledger:   ledger,
		Provider: provider,
		Reconciler: reconcile.New(subs, pending, reconcile.NewPgAuditLog(pool), locker,
			reconcile.WithLogger(log)),
		Log:          log,
		Healthchecks: health,
	}))

	srv := httpserver.New(httpCfg, httpserver.WithLogger(log))
	return srv.Run(ctx, router)
}

// parsePrices parses "planID/interval=priceID" pairs separated by commas.
func parsePrices(raw string) (map[string]string, error) {
	prices := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, priceID, ok := strings.Cut(pair, "=")
		if !ok || key == "" || priceID == "" {
			return nil, fmt.Errorf("malformed price mapping %q", pair)
		}
		prices[key] = priceID
	}
	return prices, nil
}
