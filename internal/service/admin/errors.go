package admin

import "errors"

var ErrShowtimeExists = errors.New("showtime already exists")
