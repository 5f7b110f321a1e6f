package storage

// Chunks splits rows into consecutive slices of at most size rows.
// A non-positive size yields a single chunk.
func Chunks(rows [][]any, size int) [][][]any {
	if len(rows) == 0 {
		return nil
	}
	if size <= 0 || size >= len(rows) {
		return [][][]any{rows}
	}
	out := make([][][]any, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		out = append(out, rows[start:end])
	}
	return out
}

// BatchRows picks a per-statement row count that stays under maxParams bind
// parameters. requested wins when it is positive and within the limit.
func BatchRows(requested, maxParams, columns, ceiling int) int {
	if columns <= 0 {
		return 1
	}
	limit := maxParams / columns
	if limit < 1 {
		limit = 1
	}
	if ceiling > 0 && limit > ceiling {
		limit = ceiling
	}
	if requested > 0 && requested < limit {
		return requested
	}
	return limit
}
