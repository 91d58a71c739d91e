package sheetsync

import (
	"bytes"
	"encoding/json"
)

// DeltaKind tags the shape a get response delivered its rows in.
type DeltaKind int

const (
	// DeltaNone means the response carried no usable rows.
	DeltaNone DeltaKind = iota
	// DeltaPositional is a "rows" array of header-aligned arrays.
	DeltaPositional
	// DeltaKeyed is a "records" array of header-keyed objects.
	DeltaKeyed
	// DeltaUnknown is a "data" array that may hold either shape.
	DeltaUnknown
)

func (k DeltaKind) String() string {
	switch k {
	case DeltaPositional:
		return "positional"
	case DeltaKeyed:
		return "keyed"
	case DeltaUnknown:
		return "unknown"
	default:
		return "none"
	}
}

// DeltaPayload is the resolved rows of one sync response. Exactly one of
// Rows, Records or Data is populated, according to Kind.
type DeltaPayload struct {
	Kind    DeltaKind
	Rows    [][]any
	Records []Record
	Data    []any
}

// DecodeDelta resolves the payload of resp once. The first of rows, records
// or data that is a JSON array wins; anything else yields DeltaNone.
func DecodeDelta(resp *Response) DeltaPayload {
	if resp == nil {
		return DeltaPayload{}
	}

	if items, ok := decodeArray(resp.Rows); ok {
		rows := make([][]any, 0, len(items))
		for _, item := range items {
			if row, ok := item.([]any); ok {
				rows = append(rows, row)
			}
		}
		return DeltaPayload{Kind: DeltaPositional, Rows: rows}
	}

	if items, ok := decodeArray(resp.Records); ok {
		records := make([]Record, 0, len(items))
		for _, item := range items {
			if obj, ok := item.(map[string]any); ok {
				records = append(records, Record(obj))
			}
		}
		return DeltaPayload{Kind: DeltaKeyed, Records: records}
	}

	if items, ok := decodeArray(resp.Data); ok {
		return DeltaPayload{Kind: DeltaUnknown, Data: items}
	}

	return DeltaPayload{}
}

// PositionalRows converts the payload into header-aligned rows. An Unknown
// payload is classified by its first element; entries of the other shape
// are dropped.
func (d DeltaPayload) PositionalRows(headers []string) [][]any {
	switch d.Kind {
	case DeltaPositional:
		return d.Rows
	case DeltaKeyed:
		return ObjectsToRows(d.Records, headers)
	case DeltaUnknown:
		if len(d.Data) == 0 {
			return [][]any{}
		}
		if _, positional := d.Data[0].([]any); positional {
			rows := make([][]any, 0, len(d.Data))
			for _, item := range d.Data {
				if row, ok := item.([]any); ok {
					rows = append(rows, row)
				}
			}
			return rows
		}
		records := make([]Record, 0, len(d.Data))
		for _, item := range d.Data {
			if obj, ok := item.(map[string]any); ok {
				records = append(records, Record(obj))
			}
		}
		return ObjectsToRows(records, headers)
	default:
		return [][]any{}
	}
}

func decodeArray(raw json.RawMessage) ([]any, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, false
	}
	var items []any
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, false
	}
	return items, true
}
