package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"fraudwatch/internal/access"
	"fraudwatch/internal/alerting"
	"fraudwatch/internal/broker"
	"fraudwatch/internal/config"
	"fraudwatch/internal/constants"
	"fraudwatch/internal/content"
	"fraudwatch/internal/fraud"
	"fraudwatch/internal/httpapi"
	"fraudwatch/internal/logger"
	"fraudwatch/internal/ocr"
	"fraudwatch/internal/pipeline"
	"fraudwatch/internal/ratelimit"
	"fraudwatch/internal/security"
	"fraudwatch/internal/storage"
	"fraudwatch/internal/transport/telegram"
	"fraudwatch/pkg/bootstrap"
	"fraudwatch/pkg/cel"
	"fraudwatch/pkg/circuitbreaker"
	"fraudwatch/pkg/health"
	"fraudwatch/pkg/metrics"
	"fraudwatch/pkg/models"
	"fraudwatch/pkg/retry"
	"fraudwatch/pkg/tracing"
)

type App struct {
	config      *config.Config
	logger      logger.Logger
	base        *bootstrap.Base
	dbConnector *bootstrap.DatabaseConnector

	db    *sql.DB
	redis *redis.Client
	store storage.Store

	access      *access.Filter
	limiter     *ratelimit.Limiter
	memoryIndex *content.MemoryIndex
	dispatcher  *alerting.Dispatcher
	pool        *pipeline.Pool
	health      *health.CheckerRegistry

	bot        *tgbotapi.BotAPI
	telegram   *telegram.Transport
	httpServer *httpapi.Server

	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		config:      cfg,
		logger:      log,
		base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
		health:      health.NewCheckerRegistry(),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	metrics.Register()

	tp, err := tracing.Init(a.config.Tracing, constants.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	if err := a.initStorage(ctx); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := a.base.InitBroker(constants.ServiceName); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initPipeline(ctx); err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	if err := a.initTransports(); err != nil {
		return fmt.Errorf("failed to initialize transports: %w", err)
	}
	return nil
}

func (a *App) initStorage(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	if db != nil {
		if a.config.Database.RunMigrations {
			if err := storage.Migrate(db, a.logger); err != nil {
				return err
			}
		}
		a.store = storage.NewPostgresStore(db)
		a.health.Register(health.NewPostgreSQLChecker(db))
	} else {
		a.logger.Warnw("Using in-memory storage; records are lost on restart")
		a.store = storage.NewMemoryStore()
	}

	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return err
	}
	a.redis = rdb
	if rdb != nil {
		if a.config.Content.OnRedisError == constants.FallbackAllow {
			a.health.RegisterOptional(health.NewRedisChecker(rdb))
		} else {
			a.health.Register(health.NewRedisChecker(rdb))
		}
	}
	return nil
}

func (a *App) initPipeline(ctx context.Context) error {
	cfg := a.config

	filter, err := access.NewFilter(cfg.Access.AllowedChatIDs, cfg.Access.DenyWhenEmpty)
	if err != nil {
		return err
	}
	a.access = filter

	a.limiter = ratelimit.NewLimiter(ratelimit.Config{
		MaxPerWindow:    cfg.RateLimit.MaxPerWindow,
		Window:          cfg.RateLimit.Window,
		RetentionFactor: cfg.RateLimit.RetentionFactor,
		KeyMode:         cfg.RateLimit.Key,
	}, a.logger.Named("ratelimit"))

	index := a.dedupIndex()
	if cfg.Storage.Rehydrate {
		if _, err := storage.Rehydrate(ctx, a.store, index, cfg.Storage.RehydrateWindow, cfg.Storage.RehydrateLimit, a.logger); err != nil {
			a.logger.WarnwCtx(ctx, "Dedup rehydration failed; starting with an empty index", "error", err)
		}
	}

	var source fraud.RuleSource
	if a.db != nil {
		source = a.store
	}
	matcher, err := buildMatcher(ctx, cfg, source, a.logger.Named("fraud"))
	if err != nil {
		return err
	}

	extractor, err := newExtractor(cfg.OCR)
	if err != nil {
		return err
	}
	adapter := ocr.NewAdapter(extractor, cfg.OCR.Languages, cfg.OCR.Timeout, retry.FromConfig(cfg.OCR.Retry), a.logger.Named("ocr"))

	gateway := storage.NewGateway(
		a.store,
		retry.FromConfig(cfg.Storage.Retry),
		circuitbreaker.NewFromConfig("storage", cfg.CircuitBreaker),
		cfg.Storage.WriteTimeout,
		a.logger.Named("storage"),
	)

	recorder := security.NewRecorder(a.logger, a.securitySinks(gateway)...)

	notifiers, err := a.notifiers()
	if err != nil {
		return err
	}
	a.dispatcher = alerting.NewDispatcher(notifiers, recorder, alerting.Options{
		MaxInFlight:     cfg.Alerting.MaxInFlight,
		DeliveryTimeout: cfg.Alerting.DeliveryTimeout,
		ExcerptLength:   cfg.Alerting.ExcerptLength,
		Retry:           retry.FromConfig(cfg.Alerting.Retry),
		CircuitBreaker:  cfg.CircuitBreaker,
	}, a.logger.Named("alerting"))

	p, err := pipeline.New(pipeline.Deps{
		Access:     filter,
		Limiter:    a.limiter,
		Normalizer: content.NewNormalizer(content.Limits{MaxTextLength: cfg.Content.MaxTextLength, MaxOCRTextLength: cfg.Content.MaxOCRTextLength}, content.NewHasher(cfg.Content.HashAlgorithm, cfg.Content.DedupScope)),
		Index:      index,
		OCR:        adapter,
		ImageLimits: ocr.Limits{
			MaxBytes:       cfg.OCR.MaxImageBytes,
			MaxWidth:       cfg.OCR.MaxWidth,
			MaxHeight:      cfg.OCR.MaxHeight,
			AllowedFormats: cfg.OCR.AllowedFormats,
		},
		Matcher:  matcher,
		Alerts:   a.dispatcher,
		Store:    gateway,
		Security: recorder,
		Logger:   a.logger.Named("pipeline"),
	})
	if err != nil {
		return err
	}

	a.pool = pipeline.NewPool(p, cfg.Pipeline.Workers, cfg.Pipeline.QueueSize, cfg.Pipeline.EventTimeout, a.logger)
	a.pool.Start()
	return nil
}

func (a *App) dedupIndex() content.Index {
	cfg := a.config.Content
	if a.redis != nil {
		return content.NewCircuitBreakerIndex(
			content.NewRedisIndex(a.redis, cfg.ReservationTTL, cfg.TTL),
			a.config.CircuitBreaker,
			cfg.OnRedisError,
			a.logger.Named("content"),
		)
	}
	a.memoryIndex = content.NewMemoryIndex(content.MemoryIndexConfig{ReservationTTL: cfg.ReservationTTL, TTL: cfg.TTL})
	return a.memoryIndex
}

func newExtractor(cfg config.OCRConfig) (ocr.Extractor, error) {
	switch cfg.Engine {
	case constants.OCREngineTesseract:
		return ocr.NewTesseractExtractor(cfg.TesseractPath), nil
	case constants.OCREngineHTTP:
		return ocr.NewHTTPExtractor(cfg.Endpoint, &http.Client{Timeout: cfg.Timeout}), nil
	case constants.OCREngineNone:
		return ocr.NoopExtractor{}, nil
	default:
		return nil, fmt.Errorf("unknown ocr engine %q", cfg.Engine)
	}
}

func buildMatcher(ctx context.Context, cfg *config.Config, source fraud.RuleSource, log logger.Logger) (*fraud.Matcher, error) {
	set, err := fraud.BuildRuleSet(ctx, cfg.Fraud, source, log)
	if err != nil {
		return nil, err
	}
	eval, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create expression evaluator: %w", err)
	}
	return fraud.NewMatcher(set.Rules, set.Threshold, eval, log)
}

func (a *App) securitySinks(gateway *storage.Gateway) []security.Sink {
	sinks := []security.Sink{security.NewLogSink(a.logger.Named("security"))}
	if a.config.Security.PersistEvents {
		sinks = append(sinks, security.NewStoreSink(gateway))
	}
	if a.config.Security.Kafka.Enabled {
		sinks = append(sinks, security.NewKafkaSink(a.base.Producer, a.config.Security.Kafka.Topic))
	}
	return sinks
}

func (a *App) notifiers() ([]alerting.Notifier, error) {
	cfg := a.config.Alerting
	var notifiers []alerting.Notifier

	if cfg.Telegram.Enabled {
		bot, err := a.telegramBot()
		if err != nil {
			return nil, err
		}
		n, err := alerting.NewTelegramNotifier(bot, cfg.Telegram)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, n)
	}
	if cfg.Webhook.Enabled {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.Webhook.URL, cfg.Webhook.Headers))
	}
	if cfg.Discord.Enabled {
		n, err := alerting.NewDiscordNotifier(cfg.Discord)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, n)
	}
	if cfg.Kafka.Enabled {
		notifiers = append(notifiers, alerting.NewKafkaNotifier(a.base.Producer, cfg.Kafka.Topic))
	}

	if len(notifiers) == 0 {
		a.logger.Warnw("No alert notifiers enabled; flagged messages are only recorded")
	}
	return notifiers, nil
}

// telegramBot returns the shared Bot API client used by both the inbound
// transport and the alert notifier.
func (a *App) telegramBot() (*tgbotapi.BotAPI, error) {
	if a.bot != nil {
		return a.bot, nil
	}
	bot, err := telegram.NewBot(a.config.Telegram)
	if err != nil {
		return nil, err
	}
	a.bot = bot
	a.health.Register(health.NewFuncChecker("telegram", func(context.Context) error {
		_, err := bot.GetMe()
		return err
	}))
	return bot, nil
}

func (a *App) initTransports() error {
	if a.config.Telegram.Enabled {
		bot, err := a.telegramBot()
		if err != nil {
			return err
		}
		a.telegram = telegram.New(bot, a.pool, a.access, a.config.Telegram, a.config.OCR.MaxImageBytes, a.logger.Named("telegram"))
	}

	if a.config.Server.Enabled {
		a.httpServer = httpapi.New(httpapi.Options{
			Server:        a.config.Server,
			Tracing:       a.config.Tracing.Enabled,
			ServiceName:   constants.ServiceName,
			MaxImageBytes: a.config.OCR.MaxImageBytes,
			Submitter:     a.pool,
			Health:        a.health,
			Logger:        a.logger.Named("http"),
		})
	}

	if a.telegram == nil && a.httpServer == nil && a.base.Consumer == nil {
		return errors.New("no inbound transport enabled")
	}
	return nil
}

// SubmitHandler adapts the pool to the Kafka consumer. Storage failures are
// retried by the consumer; an internal error goes straight to the DLQ.
func SubmitHandler(sub pipeline.Submitter) broker.HandlerFunc {
	return func(ctx context.Context, ev models.InboundEvent) error {
		out, err := sub.Submit(ctx, ev)
		if err != nil {
			return retry.NewRetryableError(err)
		}
		if out.Status != models.StatusFailed {
			return nil
		}
		switch out.Reason {
		case models.ReasonStorageError, models.ReasonCanceled:
			return retry.NewRetryableError(fmt.Errorf("event %s failed: %s", ev.ID, out.Reason))
		default:
			return retry.NewFatalError(fmt.Errorf("event %s failed: %s", ev.ID, out.Reason))
		}
	}
}

// Run starts every transport and background loop, and blocks until ctx is
// canceled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.limiter.Run(gctx, a.config.RateLimit.SweepInterval)
		return nil
	})
	if a.memoryIndex != nil {
		g.Go(func() error {
			a.memoryIndex.Run(gctx, a.config.Content.ReservationTTL, a.logger.Named("content"))
			return nil
		})
	}
	if a.httpServer != nil {
		g.Go(func() error { return a.httpServer.Run(gctx) })
	}
	if a.telegram != nil {
		g.Go(func() error { return a.telegram.Run(gctx) })
	}
	if a.base.Consumer != nil {
		g.Go(func() error {
			err := a.base.Consumer.Consume(gctx, a.config.Broker.Kafka.InputTopic, SubmitHandler(a.pool))
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	runErr := g.Wait()
	if err := a.Shutdown(context.Background()); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

// Shutdown stops intake first, drains the pool and pending alerts, then
// closes the broker clients, the stores and the tracer.
func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
	defer cancel()

	return a.base.Shutdown(shutdownCtx, func(ctx context.Context) []error {
		var errs []error

		if a.pool != nil {
			if err := a.pool.Stop(ctx); err != nil {
				errs = append(errs, fmt.Errorf("pipeline stop error: %w", err))
			}
		}
		if a.dispatcher != nil {
			if err := a.dispatcher.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("alert dispatcher close error: %w", err))
			}
		}
		errs = append(errs, a.dbConnector.ShutdownDatabases(a.redis, a.db)...)

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}
		return errs
	})
}
