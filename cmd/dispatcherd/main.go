// Command dispatcherd runs the step-graph dispatcher: one tick loop per
// configured group, a job harness wired with the positions workflow, and
// a narrow observability HTTP surface. Bootstrap uses the familiar
// urfave/cli shape — package-level app and flags, Before/After hooks,
// app.Run(os.Args) in main().
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/go-redis/redis/v7"
	"github.com/urfave/cli"
	"go.uber.org/zap"

	"github.com/cryptoladder/engine/internal/config"
	"github.com/cryptoladder/engine/internal/dispatcher"
	"github.com/cryptoladder/engine/internal/exchange"
	"github.com/cryptoladder/engine/internal/exchangeapi"
	"github.com/cryptoladder/engine/internal/httpapi"
	"github.com/cryptoladder/engine/internal/job"
	"github.com/cryptoladder/engine/internal/log"
	"github.com/cryptoladder/engine/internal/marketdata"
	"github.com/cryptoladder/engine/internal/notify"
	"github.com/cryptoladder/engine/internal/positions"
	"github.com/cryptoladder/engine/internal/resolver"
	"github.com/cryptoladder/engine/internal/snapshot"
	"github.com/cryptoladder/engine/internal/stepstore"
	"github.com/cryptoladder/engine/internal/throttle"
)

var logger = log.New(log.ModuleCmd)

var (
	app = cli.NewApp()

	configFlag = cli.StringFlag{
		Name:   "config",
		Usage:  "path to a TOML config file (unset uses built-in defaults)",
		EnvVar: "DISPATCHERD_CONFIG",
	}
	groupsFlag = cli.StringFlag{
		Name:   "groups",
		Usage:  "comma-separated group names, overrides the config file's dispatcher.groups",
		EnvVar: "DISPATCHERD_GROUPS",
	}
	httpAddrFlag = cli.StringFlag{
		Name:   "http-addr",
		Usage:  "address the observability HTTP surface listens on, overrides http.addr",
		EnvVar: "DISPATCHERD_HTTP_ADDR",
	}
)

func init() {
	app.Name = "dispatcherd"
	app.Usage = "run the step-graph dispatcher"
	app.Flags = []cli.Flag{configFlag, groupsFlag, httpAddrFlag}
	app.Action = run
	app.Before = func(c *cli.Context) error {
		runtime.GOMAXPROCS(runtime.NumCPU())
		return nil
	}
	app.After = func(c *cli.Context) error {
		return log.Sync()
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := config.Default()
	if path := c.String(configFlag.Name); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}
	if groups := c.String(groupsFlag.Name); groups != "" {
		cfg.Dispatcher.Groups = splitCSV(groups)
	}
	if addr := c.String(httpAddrFlag.Name); addr != "" {
		cfg.HTTP.Addr = addr
	}

	store, err := openStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("opening step store: %w", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = newRedisClient(cfg.Redis)
	}

	clients := buildExchangeClients(cfg, redisClient)
	registry := job.NewRegistry()
	deps := positions.Deps{
		Resolver:   resolver.New(registry, 1024),
		Clients:    clients,
		Prices:     buildPriceBook(clients),
		LadderLegs: 3,
	}
	if redisClient != nil {
		deps.Snapshot = snapshot.New(redisClient)
	}
	positions.Register(registry, deps)

	harness := job.NewHarness(registry, store)
	if redisClient != nil {
		harness = harness.WithNotifier(notify.New(redisClient, notify.LogSink{}))
	}

	locker := dispatcher.Locker(dispatcher.NoopLocker{})
	if redisClient != nil {
		locker = dispatcher.NewRedisLocker(redisClient, hostToken())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, group := range cfg.Dispatcher.Groups {
		group := group
		disp := dispatcher.New(store, harness).WithLocker(locker)
		disp.BatchSize = cfg.Dispatcher.BatchSize
		if cfg.Dispatcher.TickBudget > 0 {
			disp.TickBudget = cfg.Dispatcher.TickBudget
		}
		go disp.Loop(ctx, group, cfg.Dispatcher.TickInterval)
		logger.Info("dispatcher loop started", zap.String("group", group))
	}

	server := httpapi.New(store)
	go func() {
		logger.Info("http surface listening", zap.String("addr", cfg.HTTP.Addr))
		if err := http.ListenAndServe(cfg.HTTP.Addr, server); err != nil {
			logger.Error("http surface stopped", zap.Error(err))
		}
	}()

	waitForSignal()
	logger.Info("shutting down")
	return nil
}

func openStore(cfg config.StoreConfig) (stepstore.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return stepstore.NewMemoryStore(nil), nil
	case "badger":
		return stepstore.OpenBadgerStore(cfg.DSN)
	default:
		return stepstore.Open(cfg.Driver, cfg.DSN)
	}
}

func newRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
}

func buildExchangeClients(cfg *config.Config, redisClient *redis.Client) map[string]exchangeapi.Client {
	clients := make(map[string]exchangeapi.Client)
	for _, canonical := range exchange.All() {
		name := string(canonical)
		exCfg := cfg.Exchanges[name]
		if exCfg.BaseURL == "" {
			continue
		}
		throttler := throttle.New(exchange.DefaultCanonical(canonical))
		if redisClient != nil {
			throttler = throttler.WithSync(throttle.NewRedisSync(redisClient))
		}
		build := exchangeapi.NewJSONRequestBuilder(exCfg.BaseURL, "X-API-Key", exCfg.APIKey)
		clients[name] = exchangeapi.NewHTTPClient(throttler, build, nil)
	}
	return clients
}

func buildPriceBook(clients map[string]exchangeapi.Client) positions.PriceBook {
	canonicals := map[string]marketdata.Canonical{
		string(exchange.Binance): {
			MarkPrice:   marketdata.Endpoint{Signature: "GET /fapi/v1/ticker/price", Field: "price"},
			MinNotional: marketdata.Endpoint{Signature: "GET /fapi/v1/exchangeInfo", Field: "minNotional"},
			TickSize:    marketdata.Endpoint{Signature: "GET /fapi/v1/exchangeInfo", Field: "tickSize"},
		},
	}
	return marketdata.New(clients, canonicals)
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func hostToken() string {
	host, err := os.Hostname()
	if err != nil {
		return "dispatcherd"
	}
	return host
}

func waitForSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
}
