// Package seatmap describes the fixed 10x10 auditorium grid shared by every
// showtime: rows A..J, columns 1..10.
package seatmap

import (
	"slices"
	"strconv"
)

const (
	Rows    = 10
	Columns = 10
	Total   = Rows * Columns

	firstRow = 'A'
	lastRow  = firstRow + Rows - 1
)

var all = func() []string {
	out := make([]string, 0, Total)
	for r := byte(firstRow); r <= lastRow; r++ {
		for c := 1; c <= Columns; c++ {
			out = append(out, string(r)+strconv.Itoa(c))
		}
	}
	return out
}()

// AllSeats returns every seat code ordered by row then column.
// The returned slice is a fresh copy.
func AllSeats() []string {
	return slices.Clone(all)
}

// IsValid reports whether code is a row letter A..J followed by a
// column number 1..10 without leading zeros.
func IsValid(code string) bool {
	_, _, ok := parse(code)
	return ok
}

// Sort orders seat codes by row then column. Invalid codes sort last,
// lexically.
func Sort(codes []string) {
	slices.SortFunc(codes, Compare)
}

// Compare orders two seat codes by row then column.
func Compare(a, b string) int {
	ra, ca, oka := parse(a)
	rb, cb, okb := parse(b)

	switch {
	case oka && okb:
		if ra != rb {
			return int(ra) - int(rb)
		}
		return ca - cb
	case oka:
		return -1
	case okb:
		return 1
	}

	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Available returns the seats of the grid that are not in held, in
// row/column order.
func Available(held []string) []string {
	taken := make(map[string]struct{}, len(held))
	for _, s := range held {
		taken[s] = struct{}{}
	}

	out := make([]string, 0, Total-len(taken))
	for _, s := range all {
		if _, ok := taken[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}

func parse(code string) (row byte, col int, ok bool) {
	if len(code) < 2 || len(code) > 3 {
		return 0, 0, false
	}

	row = code[0]
	if row < firstRow || row > lastRow {
		return 0, 0, false
	}

	digits := code[1:]
	if digits[0] == '0' {
		return 0, 0, false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, 0, false
		}
	}

	col, err := strconv.Atoi(digits)
	if err != nil || col < 1 || col > Columns {
		return 0, 0, false
	}

	return row, col, true
}
