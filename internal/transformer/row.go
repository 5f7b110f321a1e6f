package transformer

// Row is one typed staging row aligned to a schema's Fields.
//
// V holds int64, string or nil (NULL). Index is the row's position in the
// normalized table and Line its CSV record number, kept for error reporting.
type Row struct {
	V     []any
	Index int
	Line  int
}

// Values returns the rows as plain slices, the shape staging sinks accept.
func Values(rows []Row) [][]any {
	out := make([][]any, len(rows))
	for i := range rows {
		out[i] = rows[i].V
	}
	return out
}
