package migrations

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strconv"

	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"ucm-sync/pkg/log"
)

var (
	ErrNoMigrations       = errors.New("no migrations found")
	ErrUnpairedMigration  = errors.New("migration has no matching up/down file")
	migrationFileNameExpr = regexp.MustCompile(`^(\d+)_[a-z0-9_]+\.(up|down)\.sql$`)
)

type PostgresMigration struct {
	fs fs.FS
}

// PostgresFS holds entity_records (1) and sync_histories (2).
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

func NewPostgresMigration() *PostgresMigration {
	subFS, err := fs.Sub(PostgresFS, "postgres")
	if err != nil {
		log.Logger.Error().Err(err).Msg("Failed to create sub filesystem for Postgres migrations")
		return nil
	}
	return &PostgresMigration{
		fs: subFS,
	}
}

func (p *PostgresMigration) GetSourceType() string {
	return "iofs"
}

func (p *PostgresMigration) GetSourceDriver() (source.Driver, error) {
	d, err := iofs.New(p.fs, ".")
	if err != nil {
		log.Logger.Error().Err(err).Msg("Failed to create migration source from embedded files")
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}
	return d, nil
}

// Versions lists the migration versions in ascending order. Every version
// must ship both its up and down file.
func (p *PostgresMigration) Versions() ([]uint, error) {
	entries, err := fs.ReadDir(p.fs, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	directions := make(map[uint]map[string]bool)
	for _, entry := range entries {
		match := migrationFileNameExpr.FindStringSubmatch(entry.Name())
		if entry.IsDir() || match == nil {
			continue
		}
		version, err := strconv.ParseUint(match[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid migration version in %s: %w", entry.Name(), err)
		}
		if directions[uint(version)] == nil {
			directions[uint(version)] = make(map[string]bool, 2)
		}
		directions[uint(version)][match[2]] = true
	}
	if len(directions) == 0 {
		return nil, ErrNoMigrations
	}

	versions := make([]uint, 0, len(directions))
	for version, found := range directions {
		if !found["up"] || !found["down"] {
			return nil, fmt.Errorf("%w: version %d", ErrUnpairedMigration, version)
		}
		versions = append(versions, version)
	}
	slices.Sort(versions)
	return versions, nil
}

func (p *PostgresMigration) LatestVersion() (uint, error) {
	versions, err := p.Versions()
	if err != nil {
		return 0, err
	}
	return versions[len(versions)-1], nil
}
