package excel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/ideamans/go-sheetsync"
	"github.com/ideamans/go-sheetsync/localstore"
	"github.com/xuri/excelize/v2"
)

// Workbook stores resources as the sheets of one .xlsx file. Row 1 of each
// sheet holds the headers.
type Workbook struct {
	path string
	mu   sync.RWMutex
}

// NewWorkbook returns a backend over the file at path. The file is created
// on the first write.
func NewWorkbook(path string) *Workbook {
	return &Workbook{path: path}
}

// Path returns the workbook file.
func (w *Workbook) Path() string {
	return w.path
}

// open returns nil without error when the file does not exist yet.
func (w *Workbook) open() (*excelize.File, error) {
	f, err := excelize.OpenFile(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	return f, nil
}

// SheetNames returns the sheet names in tab order.
func (w *Workbook) SheetNames(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()

	f, err := w.open()
	if err != nil || f == nil {
		return []string{}, err
	}
	defer f.Close()
	return f.GetSheetList(), nil
}

// ReadSheet loads the headers and rows of name.
func (w *Workbook) ReadSheet(ctx context.Context, name string) (*sheetsync.Sheet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()

	f, err := w.open()
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("%w: %s", ErrSheetNotFound, name)
	}
	defer f.Close()

	rows, err := w.rows(f, name)
	if err != nil {
		return nil, err
	}

	sheet := &sheetsync.Sheet{Headers: []string{}, Rows: [][]any{}}
	if len(rows) == 0 {
		return sheet, nil
	}
	for _, h := range rows[0] {
		sheet.Headers = append(sheet.Headers, strings.TrimSpace(h))
	}
	for _, cells := range rows[1:] {
		row := make([]any, 0, len(cells))
		for j, cell := range cells {
			header := ""
			if j < len(sheet.Headers) {
				header = sheet.Headers[j]
			}
			row = append(row, parseCell(header, cell))
		}
		sheet.Rows = append(sheet.Rows, row)
	}
	return sheet, nil
}

func (w *Workbook) rows(f *excelize.File, name string) ([][]string, error) {
	idx, err := f.GetSheetIndex(name)
	if err != nil {
		return nil, fmt.Errorf("failed to get sheet index: %w", err)
	}
	if idx == -1 {
		return nil, fmt.Errorf("%w: %s", ErrSheetNotFound, name)
	}
	rows, err := f.GetRows(name)
	if err != nil {
		return nil, fmt.Errorf("failed to get rows: %w", err)
	}
	return rows, nil
}

// AppendRow writes row below the last used row of name.
func (w *Workbook) AppendRow(ctx context.Context, name string, row []any) error {
	return w.update(ctx, func(f *excelize.File) error {
		rows, err := w.rows(f, name)
		if err != nil {
			return err
		}
		return writeRow(f, name, len(rows)+1, row)
	})
}

// WriteRow overwrites data row index of name.
func (w *Workbook) WriteRow(ctx context.Context, name string, index int, row []any) error {
	return w.update(ctx, func(f *excelize.File) error {
		if _, err := w.rows(f, name); err != nil {
			return err
		}
		// Data row 0 is sheet row 2.
		return writeRow(f, name, index+2, row)
	})
}

// PutSheet replaces the contents of name with headers and rows, creating
// the file and the sheet as needed.
func (w *Workbook) PutSheet(ctx context.Context, name string, headers []string, rows [][]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	f, err := w.open()
	if err != nil {
		return err
	}
	if f == nil {
		f = excelize.NewFile()
	}
	defer f.Close()

	if err := resetSheet(f, name); err != nil {
		return err
	}
	if err := writeTable(f, name, headers, rows); err != nil {
		return err
	}
	if err := f.SaveAs(w.path); err != nil {
		return fmt.Errorf("failed to save Excel file: %w", err)
	}
	return nil
}

// update applies fn to the existing workbook and saves it.
func (w *Workbook) update(ctx context.Context, fn func(f *excelize.File) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := w.open()
	if err != nil {
		return err
	}
	if f == nil {
		return fmt.Errorf("%w: %s does not exist", ErrSheetNotFound, w.path)
	}
	defer f.Close()

	if err := fn(f); err != nil {
		return err
	}
	if err := f.Save(); err != nil {
		return fmt.Errorf("failed to save Excel file: %w", err)
	}
	return nil
}

// resetSheet leaves name as an empty sheet. The default sheet of a new file
// is dropped once another sheet exists.
func resetSheet(f *excelize.File, name string) error {
	idx, err := f.GetSheetIndex(name)
	if err != nil {
		return fmt.Errorf("failed to get sheet index: %w", err)
	}
	if idx != -1 {
		rows, err := f.GetRows(name)
		if err != nil {
			return fmt.Errorf("failed to get rows: %w", err)
		}
		for r := len(rows); r >= 1; r-- {
			if err := f.RemoveRow(name, r); err != nil {
				return fmt.Errorf("failed to clear row %d: %w", r, err)
			}
		}
		return nil
	}

	index, err := f.NewSheet(name)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if defaultSheet := f.GetSheetName(0); defaultSheet != name && defaultSheet == "Sheet1" {
		if rows, _ := f.GetRows(defaultSheet); len(rows) == 0 {
			_ = f.DeleteSheet(defaultSheet)
		}
	}
	return nil
}

func writeTable(f *excelize.File, name string, headers []string, rows [][]any) error {
	header := make([]any, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	if err := writeRow(f, name, 1, header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, row := range rows {
		if err := writeRow(f, name, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

func writeRow(f *excelize.File, name string, rowNum int, row []any) error {
	values := make([]interface{}, len(row))
	for i, v := range row {
		if v == nil {
			values[i] = ""
		} else {
			values[i] = v
		}
	}
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(name, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d: %w", rowNum, err)
	}
	return nil
}

// parseCell types a workbook cell. Code, Status and UpdatedAt stay strings.
func parseCell(header, value string) any {
	switch header {
	case localstore.CodeHeader, localstore.StatusHeader, localstore.UpdatedAtHeader:
		return value
	}
	if value == "" {
		return value
	}
	if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
		if intVal := int64(floatVal); float64(intVal) == floatVal {
			return intVal
		}
		return floatVal
	}
	switch value {
	case "true", "TRUE":
		return true
	case "false", "FALSE":
		return false
	}
	return value
}

// RowSource is the part of the local store a snapshot is read from.
type RowSource interface {
	GetResourceMeta(ctx context.Context, resource string) (*localstore.ResourceMeta, error)
	GetResourceRows(ctx context.Context, resource string, opts localstore.RowOptions) ([][]any, error)
}

// ExportResource writes the cached rows of resource to a new workbook at
// path, with a bold header row.
func ExportResource(ctx context.Context, src RowSource, path, resource string) error {
	meta, err := src.GetResourceMeta(ctx, resource)
	if err != nil {
		return err
	}
	if meta == nil || len(meta.Headers) == 0 {
		return fmt.Errorf("%w for %s", sheetsync.ErrHeadersUnavailable, resource)
	}
	rows, err := src.GetResourceRows(ctx, resource, localstore.AllRows)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", resource); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	if err := writeTable(f, resource, meta.Headers, rows); err != nil {
		return err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	if err := f.SetRowStyle(resource, 1, 1, bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}
	if err := f.SetPanes(resource, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save Excel file: %w", err)
	}
	return nil
}
