package httpgin

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/cinebook/internal/domain"
	"github.com/kirinyoku/cinebook/internal/service/admin"
	"github.com/kirinyoku/cinebook/internal/service/reservation"
)

var (
	ErrUnauthorized = errors.New("missing or invalid bearer token")
	ErrForbidden    = errors.New("admin role required")
)

const (
	codeValidation       = "VALIDATION_ERROR"
	codeShowtimeNotFound = "SHOWTIME_NOT_FOUND"
	codeShowtimeExists   = "SHOWTIME_EXISTS"
	codeSeatsTaken       = "SEATS_TAKEN"
	codeBookingNotFound  = "BOOKING_NOT_FOUND"
	codeAlreadyConfirmed = "ALREADY_CONFIRMED"
	codeAlreadyCancelled = "ALREADY_CANCELLED"
	codeBookingCancelled = "BOOKING_CANCELLED"
	codeRateLimited      = "RATE_LIMITED"
	codeIdemInProgress   = "IDEMPOTENCY_IN_PROGRESS"
	codeUnauthorized     = "UNAUTHORIZED"
	codeForbidden        = "FORBIDDEN"
	codeUnavailable      = "UNAVAILABLE"
	codeInternal         = "INTERNAL_ERROR"
)

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: msg, Code: codeValidation})
}

// respondErr maps service errors onto HTTP responses. Unknown errors are
// recorded on the context for the access log and hidden from the client.
func respondErr(c *gin.Context, err error) {
	var (
		validation  *domain.ValidationError
		taken       *domain.SeatsTakenError
		rateLimited *reservation.RateLimitedError
	)

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: validation.Error(), Code: codeValidation})
	case errors.As(err, &taken):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "seats already taken", Code: codeSeatsTaken, Seats: taken.Seats})
	case errors.As(err, &rateLimited):
		secs := int(math.Ceil(rateLimited.RetryAfter.Seconds()))
		c.Header("Retry-After", strconv.Itoa(max(secs, 1)))
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "too many reservation attempts", Code: codeRateLimited})
	case errors.Is(err, domain.ErrShowtimeNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "showtime not found", Code: codeShowtimeNotFound})
	case errors.Is(err, domain.ErrBookingNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "booking not found", Code: codeBookingNotFound})
	case errors.Is(err, domain.ErrAlreadyConfirmed):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "booking already confirmed", Code: codeAlreadyConfirmed})
	case errors.Is(err, domain.ErrAlreadyCancelled):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "booking already cancelled", Code: codeAlreadyCancelled})
	case errors.Is(err, domain.ErrBookingCancelled):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "booking is cancelled", Code: codeBookingCancelled})
	case errors.Is(err, admin.ErrShowtimeExists):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "showtime already exists", Code: codeShowtimeExists})
	case errors.Is(err, ErrUnauthorized):
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: err.Error(), Code: codeUnauthorized})
	case errors.Is(err, ErrForbidden):
		c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Error: err.Error(), Code: codeForbidden})
	case errors.Is(err, domain.ErrUnavailable):
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "service temporarily unavailable", Code: codeUnavailable})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: codeInternal})
	}
}
