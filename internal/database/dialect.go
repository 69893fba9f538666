package database

import (
	"database/sql"
	"regexp"
	"strconv"

	"github.com/pressly/goose/v3"
)

// Dialect defines the interface for database-specific operations
type Dialect interface {
	// Name returns the canonical dialect name ("sqlite", "postgres", "mysql")
	Name() string

	// DriverName returns the driver name for sql.Open
	DriverName() string

	// DSN returns the data source name for the connection
	DSN(config DialectConfig) string

	// RewriteQuery converts placeholder syntax if needed (e.g., ? to $1 for postgres)
	RewriteQuery(query string) string

	// SupportsLastInsertId returns true if the driver supports LastInsertId()
	SupportsLastInsertId() bool

	// SupportsReturning returns true if UPDATE ... RETURNING is available
	SupportsReturning() bool

	// ConfigureConnection applies any database-specific connection settings
	ConfigureConnection(db *sql.DB) error

	// MigrationsSubdir returns the subdirectory name for migrations (e.g., "sqlite", "postgres")
	MigrationsSubdir() string

	// GooseDialect returns the goose dialect used to apply migrations
	GooseDialect() goose.Dialect

	// UpsertDailyUsageQuery returns the statement adding one call to a daily usage row.
	// Arguments: day, endpoint, tokens, cost_micros, updated_at.
	UpsertDailyUsageQuery() string
}

// DialectConfig holds configuration for database connection
type DialectConfig struct {
	// For SQLite
	Path string

	// For PostgreSQL/MySQL
	URL string
}

// placeholderRegexp matches ? placeholders
var placeholderRegexp = regexp.MustCompile(`\?`)

// rewritePlaceholdersToNumbered converts ? placeholders to $1, $2, etc.
func rewritePlaceholdersToNumbered(query string) string {
	counter := 0
	return placeholderRegexp.ReplaceAllStringFunc(query, func(match string) string {
		counter++
		return "$" + strconv.Itoa(counter)
	})
}

// upsertDailyUsageOnConflict is shared by SQLite and PostgreSQL
const upsertDailyUsageOnConflict = `
	INSERT INTO daily_usage (day, endpoint, calls, tokens, cost_micros, updated_at)
	VALUES (?, ?, 1, ?, ?, ?)
	ON CONFLICT (day, endpoint) DO UPDATE SET
		calls = daily_usage.calls + 1,
		tokens = daily_usage.tokens + excluded.tokens,
		cost_micros = daily_usage.cost_micros + excluded.cost_micros,
		updated_at = excluded.updated_at
`
