package httpgin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kirinyoku/cinebook/internal/domain"
	"github.com/kirinyoku/cinebook/internal/metrics"
	redisrepo "github.com/kirinyoku/cinebook/internal/repository/redis"
	"github.com/kirinyoku/cinebook/internal/service"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const (
	idemLockTTL      = 60 * time.Second
	seatsCacheHeader = "public, max-age=2"
)

// Pinger reports whether storage is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterConfig struct {
	Services *service.Services
	// Idempotency is optional; without it Idempotency-Key is ignored.
	Idempotency    *redisrepo.IdempotencyStore
	Pinger         Pinger
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	Auth           AuthConfig
	RequestTimeout time.Duration
}

func NewRouter(cfg RouterConfig, middlewares ...gin.HandlerFunc) *gin.Engine {
	registerValidators()

	r := gin.New()

	r.Use(gin.Recovery(), RequestIDMiddleware(), LoggingMiddleware(cfg.Logger), MetricsMiddleware(cfg.Metrics), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	svcs := cfg.Services

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", handleReady(cfg.Pinger))
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	// long-lived, outside the request timeout
	r.GET("/showtimes/:id/seats/stream", handleSeatStream(svcs.Availability))

	api := r.Group("/", Timeout(cfg.RequestTimeout))
	api.GET("/showtimes/:id/seats", handleGetSeats(svcs))

	bookings := api.Group("/bookings", Auth(cfg.Auth))
	{
		bookings.POST("", handleReserve(svcs, cfg.Idempotency))
		bookings.GET("", handleListMyBookings(svcs))
		bookings.GET("/:id", handleGetBooking(svcs))
		bookings.POST("/:id/confirm", handleConfirm(svcs))
		bookings.DELETE("/:id", handleCancel(svcs))
	}

	admin := api.Group("/admin", Auth(cfg.Auth), RequireAdmin())
	{
		admin.POST("/showtimes", handleCreateShowtime(svcs))
		admin.PUT("/showtimes/:id/price", handleUpdatePrice(svcs))
		admin.GET("/bookings", handleListAllBookings(svcs))
		admin.PUT("/bookings/:id/status", handleUpdateStatus(svcs))
	}

	return r
}

// @Summary  Readiness
// @Tags     health
// @Success  200 {object} map[string]string
// @Failure  503 {object} ErrorResponse
// @Router   /readyz [get]
func handleReady(p Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if p != nil {
			if err := p.Ping(c.Request.Context()); err != nil {
				_ = c.Error(err)
				c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "storage unreachable", Code: codeUnavailable})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

// @Summary  Seat availability of a showtime
// @Tags     showtimes
// @Param    id  path  string  true  "Showtime ID (uuid)"
// @Success  200 {object} domain.Availability
// @Failure  404 {object} ErrorResponse
// @Router   /showtimes/{id}/seats [get]
func handleGetSeats(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		showtimeID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		a, err := svcs.Availability.Get(c.Request.Context(), showtimeID)
		if err != nil {
			respondErr(c, err)
			return
		}

		writeJSONWithCache(c, a, seatsCacheHeader)
	}
}

// @Summary  Reserve seats (idempotent)
// @Tags     bookings
// @Security BearerAuth
// @Param    Idempotency-Key header string false "replays the first response for the same key"
// @Param    req body  ReserveRequest true "payload"
// @Success  201 {object} domain.Booking
// @Failure  400 {object} ErrorResponse
// @Failure  404 {object} ErrorResponse "showtime not found"
// @Failure  409 {object} ErrorResponse "seats taken / idempotency key in progress"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Router   /bookings [post]
func handleReserve(svcs *service.Services, idem *redisrepo.IdempotencyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ReserveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		ctx := c.Request.Context()
		userID := callerID(c)

		idemKey := strings.TrimSpace(c.GetHeader(headerIdempotency))
		var storageKey string
		if idem != nil && idemKey != "" {
			storageKey = redisrepo.KeyIdemReserve(userID, idemKey)

			if replayed := replay(c, idem, storageKey, idemKey); replayed {
				return
			}

			locked, err := idem.AcquireLock(ctx, storageKey, idemLockTTL)
			if err != nil {
				// without redis the request proceeds unprotected
				_ = c.Error(err)
				storageKey = ""
			} else if !locked {
				if replay(c, idem, storageKey, idemKey) {
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(http.StatusConflict, ErrorResponse{
					Error: "a request with this idempotency key is in progress",
					Code:  codeIdemInProgress,
				})
				return
			}
		}

		b, err := svcs.Reservation.Reserve(ctx, userID, uuid.MustParse(req.ShowtimeID), req.Seats)
		if err != nil {
			if storageKey != "" {
				_ = idem.Release(context.WithoutCancel(ctx), storageKey)
			}
			respondErr(c, err)
			return
		}

		if storageKey != "" {
			payload, _ := json.Marshal(b)
			if err := idem.SaveResult(context.WithoutCancel(ctx), storageKey, string(payload)); err != nil {
				_ = c.Error(err)
			}
			c.Header(headerIdempotency, idemKey)
		}

		c.JSON(http.StatusCreated, b)
	}
}

func replay(c *gin.Context, idem *redisrepo.IdempotencyStore, storageKey, idemKey string) bool {
	payload, ok, err := idem.GetResult(c.Request.Context(), storageKey)
	if err != nil || !ok {
		return false
	}

	c.Header(headerIdempotency, idemKey)
	c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))

	return true
}

// @Summary  List my bookings
// @Tags     bookings
// @Security BearerAuth
// @Param    status query string false "pending, confirmed or cancelled"
// @Param    page   query int    false "1-based page"
// @Param    limit  query int    false "page size, at most 100"
// @Success  200 {object} domain.BookingPage
// @Failure  400 {object} ErrorResponse
// @Router   /bookings [get]
func handleListMyBookings(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q ListBookingsQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			badRequest(c, err.Error())
			return
		}

		p, err := svcs.Query.ListByUser(c.Request.Context(), callerID(c), domain.BookingStatus(q.Status), q.Page, q.Limit)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, p)
	}
}

// @Summary  Get a booking
// @Tags     bookings
// @Security BearerAuth
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Success  200 {object} domain.Booking
// @Failure  404 {object} ErrorResponse
// @Router   /bookings/{id} [get]
func handleGetBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		b, err := svcs.Query.GetByID(c.Request.Context(), bookingID, ownerScope(c))
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, b)
	}
}

// @Summary  Confirm a pending booking
// @Tags     bookings
// @Security BearerAuth
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Success  200 {object} domain.Booking
// @Failure  404 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "already confirmed / cancelled"
// @Router   /bookings/{id}/confirm [post]
func handleConfirm(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		b, err := svcs.Lifecycle.Confirm(c.Request.Context(), bookingID, ownerScope(c))
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, b)
	}
}

// @Summary  Cancel a booking and release its seats
// @Tags     bookings
// @Security BearerAuth
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Success  200 {object} domain.Booking
// @Failure  404 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "already cancelled"
// @Router   /bookings/{id} [delete]
func handleCancel(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		b, err := svcs.Lifecycle.Cancel(c.Request.Context(), bookingID, ownerScope(c))
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, b)
	}
}

// @Summary  Create a showtime
// @Tags     admin
// @Security BearerAuth
// @Param    req body  CreateShowtimeRequest true "payload"
// @Success  201 {object} domain.Showtime
// @Failure  400 {object} ErrorResponse
// @Failure  403 {object} ErrorResponse
// @Router   /admin/showtimes [post]
func handleCreateShowtime(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateShowtimeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		st, err := svcs.Admin.CreateShowtime(c.Request.Context(), req.MovieTitle, req.StartsAt, req.PriceCents)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusCreated, st)
	}
}

// @Summary  Change the per-seat price of a showtime
// @Tags     admin
// @Security BearerAuth
// @Param    id  path  string  true  "Showtime ID (uuid)"
// @Param    req body  UpdatePriceRequest true "payload"
// @Success  200 {object} domain.Showtime
// @Failure  404 {object} ErrorResponse
// @Router   /admin/showtimes/{id}/price [put]
func handleUpdatePrice(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		showtimeID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		var req UpdatePriceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		st, err := svcs.Admin.UpdatePrice(c.Request.Context(), showtimeID, req.PriceCents)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, st)
	}
}

// @Summary  List all bookings
// @Tags     admin
// @Security BearerAuth
// @Param    status query string false "pending, confirmed or cancelled"
// @Param    page   query int    false "1-based page"
// @Param    limit  query int    false "page size, at most 100"
// @Success  200 {object} domain.BookingPage
// @Failure  403 {object} ErrorResponse
// @Router   /admin/bookings [get]
func handleListAllBookings(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q ListBookingsQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			badRequest(c, err.Error())
			return
		}

		p, err := svcs.Query.ListAll(c.Request.Context(), domain.BookingStatus(q.Status), q.Page, q.Limit)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, p)
	}
}

// @Summary  Override the status of a booking
// @Tags     admin
// @Security BearerAuth
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Param    req body  UpdateStatusRequest true "payload"
// @Success  200 {object} domain.Booking
// @Failure  404 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "seats taken while cancelled"
// @Router   /admin/bookings/{id}/status [put]
func handleUpdateStatus(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		var req UpdateStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		b, err := svcs.Lifecycle.UpdateStatus(c.Request.Context(), bookingID, domain.BookingStatus(req.Status))
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, b)
	}
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
