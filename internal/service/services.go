package service

import (
	"log/slog"

	"github.com/kirinyoku/cinebook/internal/events"
	"github.com/kirinyoku/cinebook/internal/metrics"
	"github.com/kirinyoku/cinebook/internal/repository"
	redisrepo "github.com/kirinyoku/cinebook/internal/repository/redis"
	"github.com/kirinyoku/cinebook/internal/service/admin"
	"github.com/kirinyoku/cinebook/internal/service/availability"
	"github.com/kirinyoku/cinebook/internal/service/lifecycle"
	"github.com/kirinyoku/cinebook/internal/service/query"
	"github.com/kirinyoku/cinebook/internal/service/reservation"
)

type Services struct {
	Admin        *admin.Service
	Availability *availability.Service
	Reservation  *reservation.Service
	Lifecycle    *lifecycle.Service
	Query        *query.Service
}

type Config struct {
	Availability availability.Config
	Reservation  reservation.Config
	Lifecycle    lifecycle.Config
	Query        query.Config
}

// Deps are the collaborators shared by the services. Everything except
// Store and Logger may be nil.
type Deps struct {
	Store     repository.Store
	Cache     *redisrepo.Cache
	PubSub    *redisrepo.SeatsPubSub
	Limiter   *redisrepo.SlidingWindowLimiter
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

func NewServices(d Deps, cfg Config) *Services {
	avail := availability.New(d.Store, d.Cache, d.PubSub, d.Logger, cfg.Availability)

	return &Services{
		Admin:        admin.New(d.Store),
		Availability: avail,
		Reservation:  reservation.New(d.Store, avail, d.Limiter, d.Publisher, d.Metrics, d.Logger, cfg.Reservation),
		Lifecycle:    lifecycle.New(d.Store, avail, d.Publisher, d.Metrics, d.Logger, cfg.Lifecycle),
		Query:        query.New(d.Store, cfg.Query),
	}
}
