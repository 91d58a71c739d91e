package googlesheets

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/ideamans/go-sheetsync"
	"github.com/ideamans/go-sheetsync/localstore"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Backend stores resources as the sheets of one spreadsheet. Row 1 of each
// sheet holds the headers.
type Backend struct {
	service       *sheets.Service
	spreadsheetID string
}

// NewBackend creates a Sheets v4 backend with provided options
func NewBackend(ctx context.Context, spreadsheetID string, opts ...option.ClientOption) (*Backend, error) {
	service, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return &Backend{service: service, spreadsheetID: spreadsheetID}, nil
}

// New creates a remote that reads and writes the spreadsheet directly.
func New(ctx context.Context, config Config, opts ...option.ClientOption) (*sheetsync.SheetRemote, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	backend, err := NewBackend(ctx, config.SpreadsheetID, opts...)
	if err != nil {
		return nil, err
	}
	return sheetsync.NewSheetRemote(backend, config.options()), nil
}

// SheetNames returns the sheet titles in tab order.
func (b *Backend) SheetNames(ctx context.Context) ([]string, error) {
	resp, err := b.service.Spreadsheets.Get(b.spreadsheetID).
		Fields("sheets.properties.title").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get spreadsheet: %w", err)
	}

	names := make([]string, 0, len(resp.Sheets))
	for _, s := range resp.Sheets {
		if s.Properties != nil && s.Properties.Title != "" {
			names = append(names, s.Properties.Title)
		}
	}
	return names, nil
}

// ReadSheet loads the headers and rows of name. Empty rows are kept so row
// indexes match sheet positions.
func (b *Backend) ReadSheet(ctx context.Context, name string) (*sheetsync.Sheet, error) {
	resp, err := b.service.Spreadsheets.Values.Get(b.spreadsheetID, a1(name, "A:ZZ")).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get sheet data: %w", err)
	}

	sheet := &sheetsync.Sheet{Headers: []string{}, Rows: [][]any{}}
	if len(resp.Values) == 0 {
		return sheet, nil
	}

	for _, cell := range resp.Values[0] {
		sheet.Headers = append(sheet.Headers, strings.TrimSpace(localstore.CellString(cell)))
	}
	for _, values := range resp.Values[1:] {
		row := make([]any, 0, len(values))
		for j, cell := range values {
			header := ""
			if j < len(sheet.Headers) {
				header = sheet.Headers[j]
			}
			row = append(row, convertCellValue(header, cell))
		}
		sheet.Rows = append(sheet.Rows, row)
	}
	return sheet, nil
}

// AppendRow adds row after the last data row of name.
func (b *Backend) AppendRow(ctx context.Context, name string, row []any) error {
	vr := &sheets.ValueRange{Values: [][]interface{}{toSheetRow(row)}}
	_, err := b.service.Spreadsheets.Values.Append(b.spreadsheetID, a1(name, "A1"), vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to append row: %w", err)
	}
	return nil
}

// WriteRow overwrites data row index of name.
func (b *Backend) WriteRow(ctx context.Context, name string, index int, row []any) error {
	// Data row 0 is sheet row 2.
	writeRange := a1(name, "A"+strconv.Itoa(index+2))
	vr := &sheets.ValueRange{Values: [][]interface{}{toSheetRow(row)}}
	_, err := b.service.Spreadsheets.Values.Update(b.spreadsheetID, writeRange, vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to update row %d: %w", index+2, err)
	}
	return nil
}

// a1 builds an A1 range, quoting sheet names that are not plain words.
func a1(sheet, cells string) string {
	plain := sheet != ""
	for _, r := range sheet {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			plain = false
			break
		}
	}
	if !plain {
		sheet = "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
	}
	return sheet + "!" + cells
}

// convertCellValue converts a Google Sheets cell value to Go type. Code,
// Status and UpdatedAt cells stay strings.
func convertCellValue(header string, v interface{}) interface{} {
	switch header {
	case localstore.CodeHeader, localstore.StatusHeader, localstore.UpdatedAtHeader:
		return localstore.CellString(v)
	}

	switch val := v.(type) {
	case string:
		if val == "" {
			return val
		}
		// Try to parse as number
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
		if val == "true" || val == "TRUE" {
			return true
		}
		if val == "false" || val == "FALSE" {
			return false
		}
		return val
	case float64:
		if val == float64(int64(val)) {
			return int64(val)
		}
		return val
	case bool:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// toSheetRow converts Go values to RAW Sheets cell values
func toSheetRow(row []any) []interface{} {
	out := make([]interface{}, len(row))
	for i, v := range row {
		switch val := v.(type) {
		case nil:
			out[i] = ""
		case bool:
			if val {
				out[i] = "TRUE"
			} else {
				out[i] = "FALSE"
			}
		default:
			out[i] = localstore.CellString(val)
		}
	}
	return out
}
