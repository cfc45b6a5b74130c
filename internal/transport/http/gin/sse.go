package httpgin

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/cinebook/internal/service/availability"
)

const streamHeartbeat = 15 * time.Second

// @Summary  Stream seat availability
// @Description Server-sent events: an "availability" event with the current snapshot, then one after every change.
// @Tags     showtimes
// @Produce  text/event-stream
// @Param    id  path  string  true  "Showtime ID (uuid)"
// @Success  200 {object} domain.Availability
// @Failure  404 {object} ErrorResponse
// @Router   /showtimes/{id}/seats/stream [get]
func handleSeatStream(avail *availability.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		showtimeID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		// watch first so a change between snapshot and loop is not lost
		changed, stop := avail.Watch(showtimeID)
		defer stop()

		ctx := c.Request.Context()

		a, err := avail.Get(ctx, showtimeID)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.Header("Cache-Control", "no-cache")
		c.Header("X-Accel-Buffering", "no")
		c.SSEvent("availability", a)
		c.Writer.Flush()

		heartbeat := time.NewTicker(streamHeartbeat)
		defer heartbeat.Stop()

		c.Stream(func(io.Writer) bool {
			select {
			case <-ctx.Done():
				return false
			case <-heartbeat.C:
				c.SSEvent("ping", time.Now().Unix())
				return true
			case <-changed:
				a, err := avail.Get(ctx, showtimeID)
				if err != nil {
					_ = c.Error(err)
					return false
				}
				c.SSEvent("availability", a)
				return true
			}
		})
	}
}
