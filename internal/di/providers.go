package di

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"OtcPull/internal/domain/models"
	"OtcPull/internal/domain/repository"
	"OtcPull/internal/handler/api"
	mid "OtcPull/internal/middleware"
	internalrepo "OtcPull/internal/repository"
	"OtcPull/internal/service/auth"
	"OtcPull/internal/service/broker"
	"OtcPull/internal/service/browser"
	"OtcPull/internal/service/catalog"
	"OtcPull/internal/service/clock"
	"OtcPull/internal/service/ratelimit"
	"OtcPull/internal/usecase"
	"OtcPull/pkg/cache"
	pkgch "OtcPull/pkg/clickhouse"
	"OtcPull/pkg/config"
	pkghttp "OtcPull/pkg/http"
	pkgkafka "OtcPull/pkg/kafka"
	"OtcPull/pkg/logger"
	"OtcPull/pkg/metrics"
	"OtcPull/pkg/server"

	"github.com/shopspring/decimal"
)

const journalTable = "trade_journal"

// ProvideLogger builds the process logger from the log section.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: cfg.Log.TimeFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: logger: %w", models.ErrConfig, err)
	}
	return l.With(logger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

func ProvideClock() repository.Clock {
	return clock.New()
}

// ProvideCatalog resolves the configured asset names. An unknown name fails
// startup with ErrUnknownAsset.
func ProvideCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	opts := make([]catalog.Option, 0, len(cfg.Direct.ActiveIDs))
	for name, id := range cfg.Direct.ActiveIDs {
		opts = append(opts, catalog.WithActiveID(name, id))
	}
	cat, err := catalog.New(cfg.Assets, opts...)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	if cfg.Transport == "direct" {
		var missing []string
		for _, a := range cat.Assets() {
			if a.ActiveID == 0 {
				missing = append(missing, a.Name)
			}
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("%w: direct transport needs direct.active_ids for %s",
				models.ErrConfig, strings.Join(missing, ", "))
		}
	}
	return cat, nil
}

// ProvideSessionCache returns the cache that persists broker sessions
// across restarts.
func ProvideSessionCache(cfg *config.Config) (cache.Service, error) {
	if cfg.SessionCache.Backend != "redis" {
		return cache.NewMemoryCache(), nil
	}
	r := cfg.SessionCache.Redis
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rc, err := cache.NewRedisCache(ctx,
		cache.WithRedisHost(r.Host),
		cache.WithRedisPort(r.Port),
		cache.WithRedisPassword(r.Password),
		cache.WithRedisDB(r.DB),
		cache.WithRedisPrefix(r.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("session cache: %w", err)
	}
	return rc, nil
}

// ProvideClickHouseClient connects and creates the journal table. It
// returns nil when the ClickHouse journal is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	c := cfg.Journal.ClickHouse
	if !c.Enabled {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithHost(c.Host),
		pkgch.WithPort(c.Port),
		pkgch.WithDatabase(c.Database),
		pkgch.WithCredentials(c.User, c.Password),
		pkgch.WithHTTP(c.UseHTTP),
		pkgch.WithAsyncInsert(c.AsyncInsert, false),
		pkgch.WithTimeouts(c.DialTimeout, c.ReadTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	if err := client.InitSchema(ctx, internalrepo.JournalSchema(c.Database, journalTable)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideKafkaProducer returns nil when the Kafka journal is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	k := cfg.Journal.Kafka
	if !k.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(k.Brokers),
		pkgkafka.WithCompression(k.Compression),
		pkgkafka.WithRequiredAcks(k.RequiredAcks),
		pkgkafka.WithMaxAttempts(k.MaxAttempts),
		pkgkafka.WithBatching(k.BatchSize, k.BatchTimeout),
		pkgkafka.WithWriteTimeout(k.WriteTimeout),
		pkgkafka.WithAsync(k.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideJournal fans trade records out to the local file and to whichever
// of Kafka and ClickHouse are enabled.
func ProvideJournal(cfg *config.Config, ch *pkgch.Client, producer *pkgkafka.Producer) (repository.Journal, error) {
	file, err := internalrepo.NewFileJournal(cfg.Journal.Path)
	if err != nil {
		return nil, err
	}
	sinks := []repository.Journal{file}
	if producer != nil {
		sinks = append(sinks, internalrepo.NewKafkaJournal(producer, cfg.Journal.Kafka.Topic))
	}
	if ch != nil {
		table := cfg.Journal.ClickHouse.Database + "." + journalTable
		sinks = append(sinks, internalrepo.NewClickHouseJournal(ch.DB(), table))
	}
	return internalrepo.NewMultiJournal(sinks...), nil
}

// ProvideBrowser builds the browser transport. In direct mode it has no
// assets and only serves cookie capture for the cookie login strategy.
func ProvideBrowser(cfg *config.Config, cat *catalog.Catalog, log *logger.Logger, m repository.Metrics) *browser.Transport {
	var assets []models.Asset
	if cfg.Transport == "browser" {
		assets = cat.Assets()
	}
	b := cfg.Browser
	return browser.New(browser.Config{
		BaseURL:           b.BaseURL,
		SignInURL:         cfg.Auth.SignInURL,
		Email:             cfg.Credentials.Email,
		Password:          cfg.Credentials.Password,
		Headless:          b.Headless,
		UserDataDir:       b.UserDataDir,
		ObservationWindow: b.ObservationWindow,
		SelectorTimeout:   b.SelectorTimeout,
		KeepaliveInterval: b.KeepaliveInterval,
		ProfilePath:       b.ProfilePath,
		LoginTimeout:      cfg.Auth.LoginTimeout,
		ConfirmSelector:   b.ConfirmSelector,
		ErrorSelectors:    b.ErrorSelectors,
		AcceptOnSilence:   b.AcceptOnSilence,
	}, assets, log, m)
}

// ProvideSessions builds the session manager for the direct transport. The
// browser transport keeps its login in the saved profile and gets nil.
func ProvideSessions(cfg *config.Config, store cache.Service, br *browser.Transport, clk repository.Clock, log *logger.Logger, m repository.Metrics) (*auth.Manager, error) {
	if cfg.Transport != "direct" {
		return nil, nil
	}
	client := pkghttp.NewClient(
		pkghttp.WithTimeout(cfg.Auth.LoginTimeout),
		pkghttp.WithCookieJar(),
	)
	email, password := cfg.Credentials.Email, cfg.Credentials.Password

	strategies := make([]auth.Strategy, 0, len(cfg.Auth.Strategies))
	for _, name := range cfg.Auth.Strategies {
		switch name {
		case "json":
			strategies = append(strategies, auth.NewJSONLogin(client, cfg.Auth.LoginURL, email, password))
		case "form":
			strategies = append(strategies, auth.NewFormLogin(client, cfg.Auth.SignInURL, email, password))
		case "cookie":
			strategies = append(strategies, auth.NewCookieCapture(br))
		default:
			return nil, fmt.Errorf("%w: unknown auth strategy %q", models.ErrConfig, name)
		}
	}
	if len(strategies) == 0 {
		return nil, fmt.Errorf("%w: no auth strategies", models.ErrConfig)
	}

	return auth.NewManager(strategies, clk, log.With(logger.String("component", "auth")), m,
		auth.WithCache(store, email, cfg.SessionCache.TTL),
		auth.WithProfileCheck(client, cfg.Auth.ProfileURL),
		auth.WithLoginTimeout(cfg.Auth.LoginTimeout),
		auth.WithRefreshInterval(cfg.Auth.RefreshInterval),
	), nil
}

// ProvideTransport selects the order transport.
func ProvideTransport(cfg *config.Config, sessions *auth.Manager, br *browser.Transport, cat *catalog.Catalog, clk repository.Clock, log *logger.Logger, m repository.Metrics) repository.Transport {
	if cfg.Transport == "browser" {
		return br
	}
	d := cfg.Direct
	return broker.New(broker.Config{
		URL:          d.WSURL,
		PlaceTimeout: d.PlaceTimeout,
		ReconnectMin: d.ReconnectMin,
		ReconnectMax: d.ReconnectMax,
		PingInterval: d.PingInterval,
		QueueSize:    d.QueueSize,
		PayoutRate:   decimal.NewFromFloat(d.PayoutRate),
		BalanceType:  cfg.AccountBalanceType(),
	}, sessions, cat.Assets(), clk, log, m)
}

// ProvideCandleStore seeds every asset from predictor.seeds or the builtin
// pattern.
func ProvideCandleStore(cfg *config.Config, cat *catalog.Catalog) (*usecase.CandleStore, error) {
	store := usecase.NewCandleStore(cat.Names())
	for _, name := range cat.Names() {
		seed := usecase.DefaultSeed(name)
		if items, ok := cfg.Predictor.Seeds[name]; ok {
			p, err := usecase.ParsePattern(items)
			if err != nil {
				return nil, fmt.Errorf("%w: seed for %s: %w", models.ErrConfig, name, err)
			}
			seed = p
		}
		if err := store.Seed(name, seed); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func ProvidePredictor(cfg *config.Config, store *usecase.CandleStore, clk repository.Clock) *usecase.Predictor {
	return usecase.NewPredictor(store, clk,
		usecase.WithThresholds(cfg.Predictor.MinConfidence, cfg.Predictor.FallbackMinConfidence))
}

func ProvideExecutor(cfg *config.Config, transport repository.Transport, cat *catalog.Catalog, clk repository.Clock, journal repository.Journal, log *logger.Logger, m repository.Metrics) *usecase.Executor {
	s := cfg.Scheduler
	return usecase.NewExecutor(transport, cat, clk, journal, log, m, usecase.ExecutorConfig{
		PlaceTimeout:       cfg.Direct.PlaceTimeout,
		ResultGrace:        s.ResultGrace,
		ResultCheckTimeout: s.ResultCheckTimeout,
		CheckResults:       s.CheckResults,
		ResultBuffer:       s.ResultBuffer,
	})
}

func ProvideScheduler(cfg *config.Config, exec *usecase.Executor, cat *catalog.Catalog, clk repository.Clock, log *logger.Logger, m repository.Metrics) *usecase.Scheduler {
	return usecase.NewScheduler(clk, exec, cat, log, m, usecase.SchedulerConfig{
		MaxConcurrent: cfg.MaxConcurrent,
		Threshold:     cfg.ConfidenceThreshold,
		Amount:        decimal.NewFromFloat(cfg.Amount),
		Duration:      cfg.OperationDuration,
		FireLead:      cfg.Scheduler.FireLead,
	})
}

// ProvideTickCollector builds the tick path: source, gate, candle update and
// prediction, ending in the scheduler.
func ProvideTickCollector(cfg *config.Config, cat *catalog.Catalog, transport repository.Transport, store *usecase.CandleStore, predictor *usecase.Predictor, sched *usecase.Scheduler, clk repository.Clock, log *logger.Logger, m repository.Metrics) *usecase.TickCollector {
	src := usecase.NewTickSource(cat, transport, clk, log, m, usecase.WithLiveTimeout(cfg.Ticks.LiveTimeout))
	proc := usecase.NewSignalProcessor(store, predictor, sched, log, m)
	gate := mid.NewTickGate(proc, m, mid.WithMinInterval(cfg.Ticks.MinInterval), mid.WithClock(clk))
	return usecase.NewTickCollector(src, gate, clk, log, m, cat.Names(), cfg.Ticks.Interval, cfg.Ticks.QueueSize)
}

func ProvideTradeCollector(exec *usecase.Executor, log *logger.Logger) *usecase.TradeCollector {
	return usecase.NewTradeCollector(exec.Results(), 200, log)
}

// ProvideSignalConsumer returns nil when the external signal feed is off.
func ProvideSignalConsumer(cfg *config.Config, log *logger.Logger) (*pkgkafka.Consumer, error) {
	k := cfg.Signals.Kafka
	if !k.Enabled {
		return nil, nil
	}
	c, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(k.Brokers),
		pkgkafka.WithConsumerGroupID(k.GroupID),
		// older signals would be dropped as stale anyway
		pkgkafka.WithConsumerAutoOffsetReset("latest"),
		pkgkafka.WithConsumerWorkers(k.Workers),
		pkgkafka.WithConsumerDLQ(k.DLQTopic),
		pkgkafka.WithConsumerLogger(log.With(logger.String("component", "signal_consumer"))),
	)
	if err != nil {
		return nil, fmt.Errorf("signal consumer: %w", err)
	}
	return c, nil
}

func ProvideSignalIntake(cfg *config.Config, sched *usecase.Scheduler, clk repository.Clock, log *logger.Logger, m repository.Metrics) *usecase.SignalIntake {
	return usecase.NewSignalIntake(cfg.Signals.Kafka.Topic, cfg.Signals.Kafka.MaxAge, sched, clk, log, m)
}

// ProvideApp assembles the lifecycle and attaches the operator API.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	clk repository.Clock,
	cat *catalog.Catalog,
	store cache.Service,
	ch *pkgch.Client,
	journal repository.Journal,
	br *browser.Transport,
	sessions *auth.Manager,
	transport repository.Transport,
	ticks *usecase.TickCollector,
	sched *usecase.Scheduler,
	exec *usecase.Executor,
	trades *usecase.TradeCollector,
	consumer *pkgkafka.Consumer,
	intake *usecase.SignalIntake,
) *server.App {
	comps := server.Components{
		Transport: transport,
		Ticks:     ticks,
		Scheduler: sched,
		Executor:  exec,
		Trades:    trades,
		Journal:   journal,
		Closers:   []io.Closer{store},
	}
	if sessions != nil {
		comps.Sessions = sessions
	}
	if consumer != nil {
		comps.Consumer = consumer
		comps.Intake = intake
	}
	if ch != nil {
		comps.Closers = append(comps.Closers, ch)
	}
	// in direct mode the browser only serves cookie capture
	if cfg.Transport != "browser" {
		comps.Closers = append(comps.Closers, br)
	}

	app := server.New(cfg, log, comps)
	app.SetHTTPHandler(api.NewOperatorEchoHandler(log, api.OperatorDeps{
		Transport: transport,
		Board:     sched,
		Sink:      sched,
		Results:   trades,
		Limiter:   ratelimit.New(clk, cfg.Server.SignalLimit, cfg.Server.SignalWindow),
		Clock:     clk,
		Assets:    cat.Names(),
		Stop:      app.Stop,
	}))
	return app
}
