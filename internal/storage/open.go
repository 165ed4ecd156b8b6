package storage

import "fmt"

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open returns the repository for driver. dsn is the Postgres connection
// string or the SQLite file path.
func Open(driver, dsn string) (Repository, error) {
	switch driver {
	case DriverMemory:
		return NewMemoryRepository(), nil
	case DriverSQLite:
		return NewSQLiteRepository(dsn)
	case DriverPostgres:
		return NewPostgresRepository(dsn)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
