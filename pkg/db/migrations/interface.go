package migrations

import (
	"github.com/golang-migrate/migrate/v4/source"
)

// MigrationSource supplies the schema migrations applied when a datastore
// is opened.
type MigrationSource interface {
	GetSourceType() string
	GetSourceDriver() (source.Driver, error)
	// LatestVersion is the highest migration version shipped, which the
	// database must reach before the datastore is used.
	LatestVersion() (uint, error)
}
