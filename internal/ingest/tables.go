package ingest

import (
	"bikeetl/internal/catalog"
	"bikeetl/internal/storage"
)

// StagingTable derives the staging table layout for a schema: an ordering key,
// the schema's typed fields and the source file column.
func StagingTable(def catalog.Schema) storage.TableSpec {
	notNull := false
	cols := make([]storage.ColumnSpec, 0, len(def.Fields)+1)
	for _, f := range def.Fields {
		c := storage.ColumnSpec{Name: f.Name, Type: f.Kind.SQLType()}
		if f.Required {
			c.Nullable = &notNull
		}
		cols = append(cols, c)
	}
	cols = append(cols, storage.ColumnSpec{Name: storage.SourceFileColumn, Type: "TEXT", Nullable: &notNull})

	return storage.TableSpec{
		Name:       def.Table,
		PrimaryKey: &storage.PrimaryKeySpec{Name: storage.SeqColumn, Type: "bigserial"},
		Columns:    cols,
	}
}

// StagingColumns lists the columns AppendRows receives for def, in row order.
func StagingColumns(def catalog.Schema) []string {
	return append(def.FieldNames(), storage.SourceFileColumn)
}
