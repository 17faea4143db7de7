// Package all registers every storage backend with the factory.
// Import for side effects from binaries that select a backend via config.
package all

import (
	_ "personetl/internal/storage/memory"
	_ "personetl/internal/storage/mssql"
	_ "personetl/internal/storage/postgres"
	_ "personetl/internal/storage/sqlite"
)
