package sheetsync

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ideamans/go-sheetsync/localstore"
)

// NextCode returns prefix followed by the next sequence number, zero padded
// to seqLen digits. Existing codes that do not carry prefix or whose suffix
// is not numeric are ignored.
func NextCode(prefix string, seqLen int, existing []string) string {
	max := 0
	for _, code := range existing {
		code = strings.TrimSpace(code)
		if !strings.HasPrefix(code, prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(code, prefix))
		if err != nil || n < 0 {
			continue
		}
		if n > max {
			max = n
		}
	}
	if seqLen <= 0 {
		return prefix + strconv.Itoa(max+1)
	}
	return fmt.Sprintf("%s%0*d", prefix, seqLen, max+1)
}

// FilterUpdatedSince keeps the rows whose UpdatedAt cell is later than
// cursor. All rows are kept when cursor is empty or the headers have no
// UpdatedAt column.
func FilterUpdatedSince(rows [][]any, headers []string, cursor string) [][]any {
	idx := -1
	for i, h := range headers {
		if h == localstore.UpdatedAtHeader {
			idx = i
		}
	}
	since := localstore.ParseTimestamp(cursor)
	if idx < 0 || since == "" {
		return rows
	}

	out := make([][]any, 0, len(rows))
	for _, row := range rows {
		if idx >= len(row) {
			continue
		}
		if ts := localstore.ParseTimestamp(row[idx]); ts > since {
			out = append(out, row)
		}
	}
	return out
}

// FormatTimestamp renders t the way sync cursors and UpdatedAt cells are
// stored.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
