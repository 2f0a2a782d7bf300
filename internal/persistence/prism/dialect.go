package prism

import (
	"fmt"
	"strings"
)

// Dialect is the SQL flavour of the backing Prism database.
type Dialect string

const (
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// ParseDialect accepts the driver names used in configuration.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mysql", "mariadb":
		return MySQL, nil
	case "postgres", "postgresql", "pgsql":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver: %s", s)
	}
}

// driverName is the database/sql driver registered for the dialect.
func (d Dialect) driverName() string {
	return string(d)
}

// amountExpr extracts the moved quantity from the JSON payload of
// prism_data_extra (aliased e).
func (d Dialect) amountExpr() string {
	switch d {
	case Postgres:
		return `CAST(e.data::jsonb ->> 'amt' AS BIGINT)`
	case SQLite:
		return `CAST(json_extract(e.data, '$.amt') AS INTEGER)`
	default:
		return `CAST(JSON_EXTRACT(e.data, '$.amt') AS SIGNED)`
	}
}
