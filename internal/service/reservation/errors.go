package reservation

import (
	"errors"
	"fmt"
	"time"
)

var ErrRateLimited = errors.New("too many reservation attempts")

type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many reservation attempts, retry in %s", e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }
