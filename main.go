package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"todofy/api"
	"todofy/config"
	"todofy/notify"
	"todofy/session"
	"todofy/storage"
	"todofy/tasks"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.StandardLogger()

	// spans are only used to correlate observability events by trace id
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	otel.SetTracerProvider(tp)

	ctx := context.Background()

	var rc *redis.Client
	if cfg.RedisConn != "" {
		redisOpts, err := cfg.RedisOptions()
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		rc = redis.NewClient(redisOpts)
	}

	store, err := newStore(ctx, cfg, rc)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	notifiers := notify.Fanout{notify.NewLogger(logger)}
	var queue *notify.Queue
	if cfg.NotifyQueue != "" {
		qc, err := notify.NewQueueClient(cfg.StorageConn, cfg.NotifyQueue)
		if err != nil {
			log.Fatalf("notify queue: %v", err)
		}
		if err := notify.EnsureQueue(ctx, qc); err != nil {
			log.Fatalf("notify queue: %v", err)
		}
		queue = notify.NewQueue(qc, logger, notify.QueueOptions{
			Workers:        cfg.NotifyWorkers,
			Buffer:         cfg.NotifyBuffer,
			HandoffTimeout: cfg.NotifyHandoffTimeout,
			Timeout:        cfg.NotifyTimeout,
		})
		notifiers = append(notifiers, queue)
	}

	repo := tasks.NewRepository(store, notifiers, logger)
	sessions := session.NewMock(store,
		session.WithLoginDelay(cfg.LoginDelay),
		session.ClearTasksOnLogout(cfg.LogoutClearsTasks),
		session.WithLogger(logger),
	)

	var auth api.Authenticator
	switch cfg.AuthMode {
	case config.AuthJWT:
		jwks, err := keyfunc.Get(cfg.JWKSURL(), keyfunc.Options{RefreshInterval: time.Hour})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		defer jwks.EndBackground()
		auth = api.NewAuth(jwks, cfg.Auth0Audience, cfg.Issuer(), cfg.JWKSCacheTTL)
	case config.AuthHS256:
		auth = api.NewHS256Auth([]byte(cfg.SharedSecret), cfg.Auth0Audience, "")
	default:
		auth = api.SessionAuth{Sessions: sessions}
	}

	var deduper api.Deduper
	if rc != nil {
		deduper = api.NewRedisDeduper(rc, cfg.IdempotencyTTL)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			entry := logger.WithFields(log.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency_ms": float64(v.Latency) / float64(time.Millisecond),
			})
			if v.Error != nil {
				entry.WithError(v.Error).Warn("request")
				return nil
			}
			entry.Debug("request")
			return nil
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))

	api.Register(e, api.Deps{
		Tasks:    repo,
		Sessions: sessions,
		Auth:     auth,
		Deduper:  deduper,
		Store:    store,
		Logger:   logger,
		PageSize: cfg.TasksPageSize,
	})

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
	if queue != nil {
		queue.Close()
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorf("tracer shutdown: %v", err)
	}
	if rc != nil {
		_ = rc.Close()
	}
}

// newStore builds the configured record store, fronted by the Redis read
// cache when Redis is available and not already the backend.
func newStore(ctx context.Context, cfg *config.Config, rc *redis.Client) (storage.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		return storage.NewRedis(rc, cfg.RedisKeyPrefix), nil
	case config.BackendTable:
		if err := storage.EnsureTable(ctx, cfg.StorageConn, cfg.RecordsTable); err != nil {
			return nil, err
		}
		table, err := storage.NewTable(cfg.StorageConn, cfg.RecordsTable, cfg.RecordsPartition)
		if err != nil {
			return nil, err
		}
		if rc != nil && cfg.CacheTTL > 0 {
			return storage.NewCache(table, rc, cfg.CacheTTL), nil
		}
		return table, nil
	default:
		return storage.NewMemory(), nil
	}
}
