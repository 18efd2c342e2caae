package repository

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"projectzero/internal/model"
)

// parseCursor reads an "id:unixmicro" cursor. Postgres keeps microseconds, so the
// round trip is exact and (created_at, id) keyset comparisons never skip a row.
func parseCursor(cursor string) (time.Time, string, error) {
	idx := strings.LastIndex(cursor, ":")
	if idx <= 0 || idx == len(cursor)-1 {
		return time.Time{}, "", model.ErrInvalidCursor
	}

	micros, err := strconv.ParseInt(cursor[idx+1:], 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", model.ErrInvalidCursor, err)
	}
	return time.UnixMicro(micros).UTC(), cursor[:idx], nil
}

func formatCursor(t time.Time, id string) string {
	return fmt.Sprintf("%s:%d", id, t.UnixMicro())
}
