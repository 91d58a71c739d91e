package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	// CodeHeader names the column holding the business code of a row.
	CodeHeader = "Code"
	// UpdatedAtHeader names the optional row timestamp column.
	UpdatedAtHeader = "UpdatedAt"
	// StatusHeader names the optional lifecycle column.
	StatusHeader = "Status"
	// ActiveMarker is the status value of active rows.
	ActiveMarker = "Active"
)

// RowOptions controls GetResourceRows filtering.
type RowOptions struct {
	IncludeInactive bool
	// StatusIndex is the position of the status cell; negative disables filtering.
	StatusIndex int
	// ActiveMarker overrides the literal "Active" when set.
	ActiveMarker string
}

// AllRows returns every cached row regardless of status.
var AllRows = RowOptions{IncludeInactive: true, StatusIndex: -1}

// RecordID builds the identity of a cached row.
func RecordID(resource, code string) string {
	return resource + "::" + code
}

// GetResourceMeta returns the metadata of resource, or nil when none is stored.
func (s *Store) GetResourceMeta(ctx context.Context, resource string) (*ResourceMeta, error) {
	if resource == "" {
		return nil, nil
	}
	if err := s.check(); err != nil {
		return nil, err
	}
	return getMeta(ctx, s.db, resource)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getMeta(ctx context.Context, q queryer, resource string) (*ResourceMeta, error) {
	var data string
	err := q.QueryRowContext(ctx, `SELECT data FROM resource_meta WHERE resource = ?`, resource).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read meta for %s: %w", resource, err)
	}

	var meta ResourceMeta
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		return nil, fmt.Errorf("failed to decode meta for %s: %w", resource, err)
	}
	return &meta, nil
}

func putMeta(ctx context.Context, tx *sql.Tx, meta ResourceMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode meta for %s: %w", meta.Resource, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO resource_meta (resource, data) VALUES (?, ?)`,
		meta.Resource, string(data)); err != nil {
		return fmt.Errorf("failed to write meta for %s: %w", meta.Resource, err)
	}
	return nil
}

// SetResourceMeta shallow-merges the non-zero fields of patch over the stored
// metadata of resource inside one transaction and returns the merged value.
// It returns nil without error when resource is empty.
func (s *Store) SetResourceMeta(ctx context.Context, resource string, patch ResourceMeta) (*ResourceMeta, error) {
	if resource == "" {
		return nil, nil
	}
	if err := s.check(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin meta transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := getMeta(ctx, tx, resource)
	if err != nil {
		return nil, err
	}
	if current == nil {
		current = &ResourceMeta{}
	}

	merged, err := mergeMeta(*current, patch)
	if err != nil {
		return nil, err
	}
	merged.Resource = resource

	if err := putMeta(ctx, tx, merged); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit meta for %s: %w", resource, err)
	}
	return &merged, nil
}

// mergeMeta overlays the fields present in patch's JSON form onto current.
func mergeMeta(current, patch ResourceMeta) (ResourceMeta, error) {
	fields := map[string]json.RawMessage{}
	for _, src := range []ResourceMeta{current, patch} {
		data, err := json.Marshal(src)
		if err != nil {
			return ResourceMeta{}, fmt.Errorf("failed to encode meta: %w", err)
		}
		var layer map[string]json.RawMessage
		if err := json.Unmarshal(data, &layer); err != nil {
			return ResourceMeta{}, fmt.Errorf("failed to decode meta: %w", err)
		}
		for k, v := range layer {
			fields[k] = v
		}
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return ResourceMeta{}, fmt.Errorf("failed to encode merged meta: %w", err)
	}
	var merged ResourceMeta
	if err := json.Unmarshal(data, &merged); err != nil {
		return ResourceMeta{}, fmt.Errorf("failed to decode merged meta: %w", err)
	}
	return merged, nil
}

// SetAuthorizedResources upserts one ResourceMeta per grant. Fields a grant
// omits fall back to the stored values; LastSyncAt is always kept.
func (s *Store) SetAuthorizedResources(ctx context.Context, grants []ResourceGrant) error {
	if err := s.check(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin grants transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, grant := range grants {
		name := strings.TrimSpace(grant.Name)
		if name == "" {
			continue
		}

		existing, err := getMeta(ctx, tx, name)
		if err != nil {
			return err
		}
		if existing == nil {
			existing = &ResourceMeta{}
		}

		meta := ResourceMeta{
			Resource:           name,
			Headers:            existing.Headers,
			Permissions:        existing.Permissions,
			FileID:             firstNonEmpty(grant.FileID, existing.FileID),
			SheetName:          firstNonEmpty(grant.SheetName, existing.SheetName),
			CodePrefix:         firstNonEmpty(grant.CodePrefix, existing.CodePrefix),
			CodeSequenceLength: existing.CodeSequenceLength,
			LastSyncAt:         existing.LastSyncAt,
		}
		if grant.Headers != nil {
			meta.Headers = grant.Headers
		}
		if len(grant.Permissions) > 0 && string(grant.Permissions) != "null" {
			meta.Permissions = grant.Permissions
		}
		if grant.CodeSequenceLength != 0 {
			meta.CodeSequenceLength = grant.CodeSequenceLength
		}

		if err := putMeta(ctx, tx, meta); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit grants: %w", err)
	}
	return nil
}

// UpsertResourceRows writes one record per row keyed by resource and the
// row's Code cell, in a single transaction. Rows with an empty code are
// skipped. headers is stored with every record so rows written under an
// older schema can be realigned on read. It returns the number of rows
// written; without a Code header nothing is written.
func (s *Store) UpsertResourceRows(ctx context.Context, resource string, headers []string, rows [][]any) (int, error) {
	if resource == "" || len(headers) == 0 || len(rows) == 0 {
		return 0, nil
	}
	codeIndex := indexOf(headers, CodeHeader)
	if codeIndex == -1 {
		return 0, nil
	}
	if err := s.check(); err != nil {
		return 0, err
	}
	updatedAtIndex := indexOf(headers, UpdatedAtHeader)
	headerData, err := json.Marshal(headers)
	if err != nil {
		return 0, fmt.Errorf("failed to encode headers of %s: %w", resource, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin upsert transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO resource_records (id, resource, code, row, headers, updated_at, stored_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	storedAt := toMillis(s.now())
	affected := 0
	for _, row := range rows {
		if row == nil {
			continue
		}
		code := NormalizeCode(cellAt(row, codeIndex))
		if code == "" {
			continue
		}

		data, err := json.Marshal(row)
		if err != nil {
			return 0, fmt.Errorf("failed to encode row %s: %w", code, err)
		}
		var updatedAt any
		if updatedAtIndex != -1 {
			if ts := ParseTimestamp(cellAt(row, updatedAtIndex)); ts != "" {
				updatedAt = ts
			}
		}

		if _, err := stmt.ExecContext(ctx, RecordID(resource, code), resource, code, string(data), string(headerData), updatedAt, storedAt); err != nil {
			return 0, fmt.Errorf("failed to upsert row %s: %w", code, err)
		}
		affected++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit upsert: %w", err)
	}
	return affected, nil
}

// GetResourceRows returns the cached rows of resource in the column order of
// its current headers, filtered to active rows unless opts.IncludeInactive
// is set or no status column exists. Rows written under different headers
// are realigned by column name.
func (s *Store) GetResourceRows(ctx context.Context, resource string, opts RowOptions) ([][]any, error) {
	if resource == "" {
		return nil, nil
	}
	records, err := s.queryRecords(ctx,
		`SELECT id, resource, code, row, headers, updated_at, stored_at
		 FROM resource_records WHERE resource = ? ORDER BY id`, resource)
	if err != nil {
		return nil, err
	}
	meta, err := getMeta(ctx, s.db, resource)
	if err != nil {
		return nil, err
	}
	var current []string
	if meta != nil {
		current = meta.Headers
	}

	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		rows = append(rows, AlignRow(rec.Row, rec.Headers, current))
	}
	if opts.IncludeInactive || opts.StatusIndex < 0 {
		return rows, nil
	}
	return FilterActive(rows, opts.StatusIndex, opts.ActiveMarker), nil
}

// ListResourceRecords returns the records of resource ordered by UpdatedAt.
// When updatedAfter is set only records stamped strictly later are returned.
func (s *Store) ListResourceRecords(ctx context.Context, resource, updatedAfter string) ([]ResourceRecord, error) {
	if updatedAfter == "" {
		return s.queryRecords(ctx,
			`SELECT id, resource, code, row, headers, updated_at, stored_at
			 FROM resource_records WHERE resource = ? ORDER BY updated_at, id`, resource)
	}
	return s.queryRecords(ctx,
		`SELECT id, resource, code, row, headers, updated_at, stored_at
		 FROM resource_records WHERE resource = ? AND updated_at > ? ORDER BY updated_at, id`,
		resource, updatedAfter)
}

// CountResourceRecords reports how many rows are cached for resource.
func (s *Store) CountResourceRecords(ctx context.Context, resource string) (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM resource_records WHERE resource = ?`, resource).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records of %s: %w", resource, err)
	}
	return n, nil
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]ResourceRecord, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read resource records: %w", err)
	}
	defer rows.Close()

	var out []ResourceRecord
	for rows.Next() {
		var (
			rec       ResourceRecord
			data      string
			headers   sql.NullString
			updatedAt sql.NullString
			storedAt  int64
		)
		if err := rows.Scan(&rec.ID, &rec.Resource, &rec.Code, &data, &headers, &updatedAt, &storedAt); err != nil {
			return nil, fmt.Errorf("failed to scan resource record: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &rec.Row); err != nil || rec.Row == nil {
			// a row that is not an array is not a usable cache entry
			continue
		}
		if headers.Valid {
			_ = json.Unmarshal([]byte(headers.String), &rec.Headers)
		}
		rec.UpdatedAt = updatedAt.String
		rec.StoredAt = fromMillis(storedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AlignRow reorders row, written under the headers from, into the column
// order of to. Columns missing from from are nil. The row is returned as is
// when either header list is unknown or both are equal.
func AlignRow(row []any, from, to []string) []any {
	if len(from) == 0 || len(to) == 0 || slices.Equal(from, to) {
		return row
	}
	out := make([]any, len(to))
	for i, name := range to {
		if j := indexOf(from, name); j != -1 {
			out[i] = cellAt(row, j)
		}
	}
	return out
}

// FilterActive keeps rows whose trimmed status cell equals marker
// ("Active" when marker is empty).
func FilterActive(rows [][]any, statusIndex int, marker string) [][]any {
	if marker == "" {
		marker = ActiveMarker
	}
	out := make([][]any, 0, len(rows))
	for _, row := range rows {
		if strings.TrimSpace(CellString(cellAt(row, statusIndex))) == marker {
			out = append(out, row)
		}
	}
	return out
}

// NormalizeCode stringifies and trims a code cell.
func NormalizeCode(v any) string {
	return strings.TrimSpace(CellString(v))
}

// CellString renders a cell value the way the remote sheet displays it.
func CellString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(val)
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
}

// ParseTimestamp normalizes a timestamp cell to a sortable UTC ISO-8601
// string, or "" when it cannot be parsed.
func ParseTimestamp(v any) string {
	var t time.Time
	switch val := v.(type) {
	case time.Time:
		t = val
	case float64:
		if val == 0 {
			return ""
		}
		t = time.UnixMilli(int64(val))
	case int64:
		if val == 0 {
			return ""
		}
		t = time.UnixMilli(val)
	case string:
		val = strings.TrimSpace(val)
		if val == "" {
			return ""
		}
		parsed := false
		for _, layout := range timestampLayouts {
			if p, err := time.Parse(layout, val); err == nil {
				t, parsed = p, true
				break
			}
		}
		if !parsed {
			return ""
		}
	default:
		return ""
	}
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func cellAt(row []any, i int) any {
	if i < 0 || i >= len(row) {
		return nil
	}
	return row[i]
}

func indexOf(headers []string, name string) int {
	for i, h := range headers {
		if h == name {
			return i
		}
	}
	return -1
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
