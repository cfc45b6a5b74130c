package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/cinebook/internal/config"
	"github.com/kirinyoku/cinebook/internal/events"
	"github.com/kirinyoku/cinebook/internal/jobs"
	"github.com/kirinyoku/cinebook/internal/metrics"
	"github.com/kirinyoku/cinebook/internal/postgres"
	"github.com/kirinyoku/cinebook/internal/redis"
	"github.com/kirinyoku/cinebook/internal/repository"
	"github.com/kirinyoku/cinebook/internal/repository/memory"
	postgresrepo "github.com/kirinyoku/cinebook/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/cinebook/internal/repository/redis"
	"github.com/kirinyoku/cinebook/internal/service"
	"github.com/kirinyoku/cinebook/internal/service/availability"
	"github.com/kirinyoku/cinebook/internal/service/lifecycle"
	"github.com/kirinyoku/cinebook/internal/service/reservation"
	httpgin "github.com/kirinyoku/cinebook/internal/transport/http/gin"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 5 * time.Second
	idempotencyTTL  = 2 * time.Hour
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	services   *service.Services
	scheduler  *jobs.Scheduler
	closers    []io.Closer
	cleanups   []func()
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	if err := a.build(ctx); err != nil {
		a.close()
		return nil, err
	}

	return a, nil
}

func (a *App) build(ctx context.Context) error {
	const op = "app.New"

	cfg := a.cfg

	store, err := a.newStore(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	deps := service.Deps{
		Store:     store,
		Publisher: events.Noop{},
		Metrics:   metrics.New(),
		Logger:    a.logger,
	}

	var idem *redisrepo.IdempotencyStore
	if cfg.Redis.Enabled() {
		rdb, err := redis.New(ctx, redis.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		a.closers = append(a.closers, rdb)

		deps.Cache = redisrepo.New(rdb)
		deps.PubSub = redisrepo.NewSeatsPubSub(rdb)
		if cfg.Booking.ReserveRateLimit > 0 {
			deps.Limiter = redisrepo.NewSlidingWindowLimiter(rdb, "reserve", cfg.Booking.ReserveRateLimit, time.Minute)
		}
		idem = redisrepo.NewIdempotencyStore(rdb, idempotencyTTL)
	} else {
		a.logger.Warn("REDIS_ADDR is empty: cache, idempotency, rate limiting and cross-instance seat events are off")
	}

	if cfg.AMQP.Enabled() {
		pub, err := events.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, a.logger)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		a.closers = append(a.closers, pub)
		deps.Publisher = pub
	}

	a.services = service.NewServices(deps, service.Config{
		Availability: availability.Config{CacheTTL: cfg.Booking.AvailabilityTTL},
		Reservation:  reservation.Config{MaxSeats: cfg.Booking.MaxSeats},
		Lifecycle:    lifecycle.Config{PendingTTL: cfg.Booking.PendingTTL},
	})

	a.scheduler, err = jobs.NewScheduler(a.logger)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if cfg.Booking.PendingTTL > 0 && cfg.Booking.ExpiryInterval > 0 {
		if err := a.scheduler.AddExpiry(a.services.Lifecycle, cfg.Booking.ExpiryInterval, cfg.Server.RequestTimeout); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	gin.SetMode(cfg.Server.GinMode)
	router := httpgin.NewRouter(httpgin.RouterConfig{
		Services:       a.services,
		Idempotency:    idem,
		Pinger:         store,
		Metrics:        deps.Metrics,
		Logger:         a.logger,
		Auth:           httpgin.AuthConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer},
		RequestTimeout: cfg.Server.RequestTimeout,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return nil
}

func (a *App) newStore(ctx context.Context) (repository.Store, error) {
	if a.cfg.Store.Driver == config.DriverMemory {
		a.logger.Warn("using the in-memory store: bookings are lost on restart")
		return memory.New(), nil
	}

	pool, err := postgres.New(ctx, postgres.Config{DSN: a.cfg.Postgres.DSN(), MaxConns: a.cfg.Postgres.MaxConns})
	if err != nil {
		return nil, err
	}
	a.cleanups = append(a.cleanups, pool.Close)

	if a.cfg.Postgres.Migrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			return nil, err
		}
	}

	return postgresrepo.NewStore(pool), nil
}

// Run serves until ctx is done or SIGINT/SIGTERM arrives, then shuts down
// the HTTP server, the scheduler and the clients.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	defer a.close()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.services.Availability.Run(gCtx)
	})

	a.scheduler.Start()

	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := a.httpServer.Shutdown(ctx)
		if serr := a.scheduler.Shutdown(); serr != nil {
			a.logger.Error("scheduler shutdown", slog.Any("error", serr))
		}
		return err
	})

	return g.Wait()
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Error("close", slog.Any("error", err))
		}
	}
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
	a.closers, a.cleanups = nil, nil
}
