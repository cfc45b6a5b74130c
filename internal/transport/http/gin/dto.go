package httpgin

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/kirinyoku/cinebook/internal/seatmap"
)

type ReserveRequest struct {
	ShowtimeID string   `json:"showtime_id" binding:"required,uuid"`
	Seats      []string `json:"seats" binding:"required,min=1,dive,seatcode"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=pending confirmed cancelled"`
}

type CreateShowtimeRequest struct {
	MovieTitle string    `json:"movie_title" binding:"required"`
	StartsAt   time.Time `json:"starts_at" binding:"required"`
	PriceCents int64     `json:"price_cents" binding:"required,gt=0"`
}

type UpdatePriceRequest struct {
	PriceCents int64 `json:"price_cents" binding:"required,gt=0"`
}

type ListBookingsQuery struct {
	Status string `form:"status" binding:"omitempty,oneof=pending confirmed cancelled"`
	Page   int    `form:"page" binding:"omitempty,min=1"`
	Limit  int    `form:"limit" binding:"omitempty,min=1"`
}

type ErrorResponse struct {
	Error string   `json:"error"`
	Code  string   `json:"code"`
	Seats []string `json:"seats,omitempty"`
}

var registerOnce sync.Once

// registerValidators adds the custom tags used by the request structs to
// gin's validator engine.
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}

		_ = v.RegisterValidation("seatcode", func(fl validator.FieldLevel) bool {
			return seatmap.IsValid(fl.Field().String())
		})
	})
}
