package redis

import (
	"fmt"

	"github.com/google/uuid"
)

const ns = "cinebook:v1"

func KeyShowtimeAvailability(showtimeID uuid.UUID, version int64) string {
	return fmt.Sprintf("%s:showtime:%s:availability:%d", ns, showtimeID, version)
}

func KeyShowtimeAvailabilityVersion(showtimeID uuid.UUID) string {
	return fmt.Sprintf("%s:showtime:%s:availability:ver", ns, showtimeID)
}

func KeyIdemReserve(userID uuid.UUID, idemKey string) string {
	return fmt.Sprintf("%s:idem:reserve:%s:%s", ns, userID, idemKey)
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

func ChannelSeatsChanged() string {
	return ns + ":seats:changed"
}
