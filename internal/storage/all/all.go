// Package all registers every staging backend.
package all

import (
	_ "bikeetl/internal/storage/memory"
	_ "bikeetl/internal/storage/mssql"
	_ "bikeetl/internal/storage/postgres"
	_ "bikeetl/internal/storage/sqlite"
)
