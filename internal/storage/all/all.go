// Package all links every storage backend into the binary.
package all

import (
	_ "restrictions/internal/storage/mssql"
	_ "restrictions/internal/storage/postgres"
	_ "restrictions/internal/storage/sqlite"
)
