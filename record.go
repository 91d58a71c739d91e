package sheetsync

import (
	"strconv"
	"strings"
	"time"

	"github.com/ideamans/go-sheetsync/localstore"
)

// Record is a header-keyed projection of one resource row.
type Record map[string]any

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Code returns the normalized business code.
func (r Record) Code() string {
	return localstore.NormalizeCode(r[localstore.CodeHeader])
}

// IsActive reports whether the Status column holds the active marker.
func (r Record) IsActive() bool {
	return strings.TrimSpace(localstore.CellString(r[localstore.StatusHeader])) == localstore.ActiveMarker
}

// GetAsString returns the value as string or defaultValue if not found
func (r Record) GetAsString(col string, defaultValue string) string {
	v, ok := r[col]
	if !ok || v == nil {
		return defaultValue
	}
	return localstore.CellString(v)
}

// GetAsInt64 returns the value as int64 or defaultValue if not found
func (r Record) GetAsInt64(col string, defaultValue int64) int64 {
	switch val := r[col].(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

// GetAsFloat64 returns the value as float64 or defaultValue if not found
func (r Record) GetAsFloat64(col string, defaultValue float64) float64 {
	switch val := r[col].(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// GetAsBool returns the value as bool or defaultValue if not found
func (r Record) GetAsBool(col string, defaultValue bool) bool {
	switch val := r[col].(type) {
	case bool:
		return val
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	case float64:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	}
	return defaultValue
}

// GetAsTime returns the value as time.Time or defaultValue if not found
func (r Record) GetAsTime(col string, defaultValue time.Time) time.Time {
	ts := localstore.ParseTimestamp(r[col])
	if ts == "" {
		return defaultValue
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return defaultValue
	}
	return t
}
