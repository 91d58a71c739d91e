package sheetsync

// headerIndex maps each header to its position. A repeated header resolves
// to its last position.
func headerIndex(headers []string) map[string]int {
	idx := make(map[string]int, len(headers))
	for i, h := range headers {
		idx[h] = i
	}
	return idx
}

// RowsToObjects projects header-aligned rows onto keyed records. Cells past
// the end of a row map to nil.
func RowsToObjects(rows [][]any, headers []string) []Record {
	if len(rows) == 0 {
		return []Record{}
	}

	idx := headerIndex(headers)
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec := make(Record, len(headers))
		for _, h := range headers {
			if i := idx[h]; i < len(row) {
				rec[h] = row[i]
			} else {
				rec[h] = nil
			}
		}
		records = append(records, rec)
	}
	return records
}

// EntriesToObjects accepts either positional rows or keyed objects. Keyed
// input is returned as shallow copies; positional input is mapped by header.
func EntriesToObjects(entries []any, headers []string) []Record {
	if len(entries) == 0 {
		return []Record{}
	}

	if _, positional := entries[0].([]any); !positional {
		records := make([]Record, 0, len(entries))
		for _, entry := range entries {
			obj, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			records = append(records, Record(obj).Clone())
		}
		return records
	}

	rows := make([][]any, 0, len(entries))
	for _, entry := range entries {
		if row, ok := entry.([]any); ok {
			rows = append(rows, row)
		}
	}
	return RowsToObjects(rows, headers)
}

// ObjectsToRows projects keyed records onto header order. Fields a record
// does not set become nil.
func ObjectsToRows(records []Record, headers []string) [][]any {
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		row := make([]any, len(headers))
		for i, h := range headers {
			row[i] = rec[h]
		}
		rows = append(rows, row)
	}
	return rows
}
