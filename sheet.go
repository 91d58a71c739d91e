package sheetsync

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ideamans/go-sheetsync/localstore"
)

// Sheet is one resource as a spreadsheet holds it: a header row followed by
// data rows.
type Sheet struct {
	Headers []string
	Rows    [][]any
}

func (s *Sheet) column(name string) int {
	return slices.Index(s.Headers, name)
}

// Codes returns the code of every row.
func (s *Sheet) Codes() []string {
	idx := s.column(localstore.CodeHeader)
	if idx < 0 {
		return nil
	}
	codes := make([]string, 0, len(s.Rows))
	for _, row := range s.Rows {
		if idx < len(row) {
			codes = append(codes, localstore.NormalizeCode(row[idx]))
		}
	}
	return codes
}

// Find returns the data row index holding code, or -1.
func (s *Sheet) Find(code string) int {
	idx := s.column(localstore.CodeHeader)
	code = strings.TrimSpace(code)
	if idx < 0 || code == "" {
		return -1
	}
	for i, row := range s.Rows {
		if idx < len(row) && localstore.NormalizeCode(row[idx]) == code {
			return i
		}
	}
	return -1
}

// Append adds rec as a new row. A missing code is generated from prefix and
// seqLen; UpdatedAt is stamped and Status defaults to Active when the sheet
// has those columns. It returns the stored row and record.
func (s *Sheet) Append(rec Record, prefix string, seqLen int, now time.Time) ([]any, Record, error) {
	if s.column(localstore.CodeHeader) < 0 {
		return nil, nil, ErrNoCodeColumn
	}
	stored := rec.Clone()
	if stored.Code() == "" {
		stored[localstore.CodeHeader] = NextCode(prefix, seqLen, s.Codes())
	} else if s.Find(stored.Code()) >= 0 {
		return nil, nil, fmt.Errorf("duplicate code %q", stored.Code())
	}
	if s.column(localstore.StatusHeader) >= 0 && localstore.CellString(stored[localstore.StatusHeader]) == "" {
		stored[localstore.StatusHeader] = localstore.ActiveMarker
	}
	s.stamp(stored, now)

	row := ObjectsToRows([]Record{stored}, s.Headers)[0]
	s.Rows = append(s.Rows, row)
	return row, RowsToObjects([][]any{row}, s.Headers)[0], nil
}

// Update merges patch into the row holding code and returns the row index
// with the stored row and record. Fields outside the headers are ignored.
func (s *Sheet) Update(code string, patch Record, now time.Time) (int, []any, Record, error) {
	i := s.Find(code)
	if i < 0 {
		return -1, nil, nil, fmt.Errorf("%w: %s", ErrRecordNotFound, code)
	}
	current := RowsToObjects([][]any{s.Rows[i]}, s.Headers)[0]
	for k, v := range patch {
		if k == localstore.CodeHeader {
			continue
		}
		current[k] = v
	}
	s.stamp(current, now)

	row := ObjectsToRows([]Record{current}, s.Headers)[0]
	s.Rows[i] = row
	return i, row, RowsToObjects([][]any{row}, s.Headers)[0], nil
}

func (s *Sheet) stamp(rec Record, now time.Time) {
	if s.column(localstore.UpdatedAtHeader) >= 0 {
		rec[localstore.UpdatedAtHeader] = FormatTimestamp(now)
	}
}

// SheetBackend stores sheets. Row indexes are zero based and exclude the
// header row.
type SheetBackend interface {
	SheetNames(ctx context.Context) ([]string, error)
	ReadSheet(ctx context.Context, name string) (*Sheet, error)
	AppendRow(ctx context.Context, name string, row []any) error
	WriteRow(ctx context.Context, name string, index int, row []any) error
}

// SheetOptions describes how a SheetRemote exposes its backend.
type SheetOptions struct {
	// FileID is reported in every grant.
	FileID string
	// Resources restricts the sheets served; empty serves every sheet.
	Resources []string
	// CodePrefixes maps a resource to its code prefix. Resources without an
	// entry use the upper-cased first letter of their name.
	CodePrefixes map[string]string
	// CodeSequenceLength zero pads generated codes; 0 disables padding.
	CodeSequenceLength int
}

// SheetRemote answers the remote actions from a SheetBackend, acting as the
// system of record itself. Login is not handled here.
type SheetRemote struct {
	backend SheetBackend
	opts    SheetOptions
	now     func() time.Time

	mu     sync.Mutex // serializes gets and writes
	issued time.Time  // latest cursor handed out
}

// NewSheetRemote creates a remote over backend.
func NewSheetRemote(backend SheetBackend, opts SheetOptions) *SheetRemote {
	return &SheetRemote{backend: backend, opts: opts, now: time.Now}
}

// SetClock replaces the clock used for cursors and UpdatedAt stamps.
func (r *SheetRemote) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// Call implements Remote.
func (r *SheetRemote) Call(ctx context.Context, action string, payload map[string]any) (*Response, error) {
	switch action {
	case ActionGetAuthorizedResources:
		return r.grants(ctx)
	case ActionGet:
		return r.get(ctx, payload)
	case ActionCreate:
		return r.create(ctx, payload)
	case ActionUpdate:
		return r.update(ctx, payload)
	case ActionLogin:
		return failure("Login is not supported by this remote"), nil
	default:
		return failure("Unknown action: " + action), nil
	}
}

func failure(message string) *Response {
	return &Response{Success: false, Message: message}
}

func (r *SheetRemote) served(ctx context.Context) ([]string, error) {
	names, err := r.backend.SheetNames(ctx)
	if err != nil {
		return nil, err
	}
	if len(r.opts.Resources) == 0 {
		return names, nil
	}
	out := make([]string, 0, len(r.opts.Resources))
	for _, name := range r.opts.Resources {
		if slices.Contains(names, name) {
			out = append(out, name)
		}
	}
	return out, nil
}

func (r *SheetRemote) prefix(resource string) string {
	if p, ok := r.opts.CodePrefixes[resource]; ok {
		return p
	}
	if resource == "" {
		return ""
	}
	return strings.ToUpper(resource[:1])
}

func (r *SheetRemote) grants(ctx context.Context) (*Response, error) {
	names, err := r.served(ctx)
	if err != nil {
		return nil, err
	}
	grants := make([]localstore.ResourceGrant, 0, len(names))
	for _, name := range names {
		sheet, err := r.backend.ReadSheet(ctx, name)
		if err != nil {
			return nil, err
		}
		grants = append(grants, localstore.ResourceGrant{
			Name:               name,
			Headers:            sheet.Headers,
			FileID:             r.opts.FileID,
			SheetName:          name,
			CodePrefix:         r.prefix(name),
			CodeSequenceLength: r.opts.CodeSequenceLength,
		})
	}
	return &Response{Success: true, Resources: grants}, nil
}

// open resolves the resource named in payload. A nil sheet with a non-nil
// response is a logical failure.
func (r *SheetRemote) open(ctx context.Context, payload map[string]any) (string, *Sheet, *Response, error) {
	resource, _ := payload["resource"].(string)
	if resource == "" {
		return "", nil, failure("Resource is required"), nil
	}
	names, err := r.served(ctx)
	if err != nil {
		return "", nil, nil, err
	}
	if !slices.Contains(names, resource) {
		return "", nil, failure("Resource not found: " + resource), nil
	}
	sheet, err := r.backend.ReadSheet(ctx, resource)
	if err != nil {
		return "", nil, nil, err
	}
	return resource, sheet, nil, nil
}

func (r *SheetRemote) get(ctx context.Context, payload map[string]any) (*Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().Truncate(time.Millisecond)
	resource, sheet, fail, err := r.open(ctx, payload)
	if sheet == nil {
		return fail, err
	}

	cursor, _ := payload["lastUpdatedAt"].(string)
	rows := FilterUpdatedSince(sheet.Rows, sheet.Headers, cursor)
	if include, _ := payload["includeInactive"].(bool); !include {
		if idx := slices.Index(sheet.Headers, localstore.StatusHeader); idx >= 0 {
			rows = localstore.FilterActive(rows, idx, "")
		}
	}

	data, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rows of %s: %w", resource, err)
	}
	if now.After(r.issued) {
		r.issued = now
	}
	return &Response{
		Success: true,
		Rows:    data,
		Meta:    &ResponseMeta{Resource: resource, LastSyncAt: FormatTimestamp(now)},
	}, nil
}

// writeTime returns the UpdatedAt stamp for a write. It is always later than
// the latest cursor, so incremental gets cannot skip the row.
func (r *SheetRemote) writeTime() time.Time {
	now := r.now().Truncate(time.Millisecond)
	if !now.After(r.issued) {
		now = r.issued.Add(time.Millisecond)
	}
	return now
}

func payloadRecord(payload map[string]any) Record {
	if obj, ok := payload["record"].(map[string]any); ok {
		return Record(obj)
	}
	return Record{}
}

func (r *SheetRemote) create(ctx context.Context, payload map[string]any) (*Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	resource, sheet, fail, err := r.open(ctx, payload)
	if sheet == nil {
		return fail, err
	}
	row, stored, err := sheet.Append(payloadRecord(payload), r.prefix(resource), r.opts.CodeSequenceLength, r.writeTime())
	if err != nil {
		return failure(err.Error()), nil
	}
	if err := r.backend.AppendRow(ctx, resource, row); err != nil {
		return nil, err
	}
	return recordResponse(stored)
}

func (r *SheetRemote) update(ctx context.Context, payload map[string]any) (*Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	resource, sheet, fail, err := r.open(ctx, payload)
	if sheet == nil {
		return fail, err
	}
	patch := payloadRecord(payload)
	code, _ := payload["code"].(string)
	if code == "" {
		code = patch.Code()
	}
	if code == "" {
		return failure("Code is required"), nil
	}
	i, row, stored, err := sheet.Update(code, patch, r.writeTime())
	if err != nil {
		return failure(err.Error()), nil
	}
	if err := r.backend.WriteRow(ctx, resource, i, row); err != nil {
		return nil, err
	}
	return recordResponse(stored)
}

func recordResponse(rec Record) (*Response, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return &Response{Success: true, Data: data}, nil
}
