package db

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // this is required to register the pgx driver with database/sql
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/golang-migrate/migrate/v4"
	psqlmigrator "github.com/golang-migrate/migrate/v4/database/postgres"

	"ucm-sync/internal/config"
	"ucm-sync/pkg/db/migrations"
	"ucm-sync/pkg/log"
)

//nolint:gochecknoglobals
var defaultHealthCheckPeriod = 1 * time.Minute

type PostgresDatastore struct {
	DB                  *sqlx.DB
	migrationSource     migrations.MigrationSource
	healthCheckInterval *time.Ticker
	stopHealthCheckCh   chan struct{}
	healthCheckDone     sync.WaitGroup
	schemaVersion       uint
	logger              zerolog.Logger
}

// ErrSchemaMismatch is returned when the database is not at the version of
// the embedded migrations after applying them.
var ErrSchemaMismatch = errors.New("database schema mismatch")

type PostgresConfig struct {
	*config.Postgres

	MinimumConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func NewPostgresDatastore(
	cfg *config.Postgres,
	migrationSource migrations.MigrationSource,
) (*PostgresDatastore, error) {
	connectionString := buildPostgresDSN(cfg)
	redactedConnectionString := redactDSN(connectionString)

	log.Logger.Info().Str("dsn", redactedConnectionString).Msg("Attempting to connect to PostgreSQL")

	db, err := sqlx.Connect("pgx", connectionString)
	if err != nil {
		log.Logger.Error().Err(err).Str("dsn", redactedConnectionString).Msg("failed to connect to postgres")
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	defaultPoolConfig := defaultPoolConfig()
	defaultPoolConfig.Postgres = cfg
	setPoolConfig(defaultPoolConfig, db)

	if pingErr := db.Ping(); pingErr != nil {
		log.Logger.Error().Err(pingErr).Str("dsn", redactedConnectionString).Msg("Failed to ping database")
		return nil, fmt.Errorf("failed to ping database: %w", pingErr)
	}

	log.Logger.Info().Str("dsn", redactedConnectionString).Msg("Successfully connected to PostgreSQL")

	psqlDB := &PostgresDatastore{
		DB:                  db,
		migrationSource:     migrationSource,
		healthCheckInterval: time.NewTicker(defaultHealthCheckPeriod),
		stopHealthCheckCh:   make(chan struct{}),
		logger: log.Logger.With().
			Str("component", "postgres_datastore").
			Logger(),
	}

	if err := psqlDB.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	psqlDB.startHealthCheck()

	return psqlDB, nil
}

// Ping reports whether the database answers within ctx.
func (p *PostgresDatastore) Ping(ctx context.Context) error {
	if err := p.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

func (p *PostgresDatastore) Close() error {
	if p.stopHealthCheckCh != nil {
		close(p.stopHealthCheckCh)
		p.logger.Info().Msg("Waiting for PostgreSQL health check to finish...")
		p.healthCheckDone.Wait()
		p.stopHealthCheckCh = nil
		p.healthCheckInterval = nil
	}
	if p.DB != nil {
		p.logger.Info().Msg("Closing PostgreSQL connection")
		return p.DB.Close()
	}
	return nil
}

func redactDSN(dsnStr string) string {
	parsedDSN, _ := url.Parse(dsnStr)

	if parsedDSN.User != nil {
		username := parsedDSN.User.Username()
		parsedDSN.User = url.UserPassword(username, "xxxxx")
	}

	return parsedDSN.String()
}

// initSchema applies the embedded migrations and refuses a database whose
// schema is dirty or does not match the latest shipped version.
func (p *PostgresDatastore) initSchema() error {
	expected, err := p.migrationSource.LatestVersion()
	if err != nil {
		return fmt.Errorf("failed to read migration versions: %w", err)
	}
	logger := p.logger.With().Uint("expected_version", expected).Logger()
	logger.Info().Msg("Applying embedded migrations")

	m, err := p.newMigrator()
	if err != nil {
		return err
	}
	if upErr := m.Up(); upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		logger.Error().Err(upErr).Msg("Failed to apply migrations")
		return fmt.Errorf("failed to apply migrations: %w", upErr)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty || version != expected {
		logger.Error().Uint("version", version).Bool("dirty", dirty).Msg("Database schema does not match migrations")
		return fmt.Errorf("%w: version %d (dirty=%t), expected %d", ErrSchemaMismatch, version, dirty, expected)
	}

	p.schemaVersion = version
	logger.Info().Uint("version", version).Msg("Database schema is up to date")
	return nil
}

func (p *PostgresDatastore) newMigrator() (*migrate.Migrate, error) {
	d, err := p.migrationSource.GetSourceDriver()
	if err != nil {
		return nil, err
	}

	driver, err := psqlmigrator.WithInstance(p.DB.DB, &psqlmigrator.Config{})
	if err != nil {
		p.logger.Error().Err(err).Msg("Could not create postgres driver for migrate")
		return nil, fmt.Errorf("could not create postgres driver for migrate: %w", err)
	}

	m, err := migrate.NewWithInstance(p.migrationSource.GetSourceType(), d, p.DB.DriverName(), driver)
	if err != nil {
		p.logger.Error().Err(err).Msg("Could not create migrate instance")
		return nil, fmt.Errorf("could not create migrate instance: %w", err)
	}
	return m, nil
}

// SchemaVersion is the migration version the datastore was opened at.
func (p *PostgresDatastore) SchemaVersion() uint {
	return p.schemaVersion
}

func buildPostgresDSN(cfg *config.Postgres) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.Username, cfg.Password),
		Host:   fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Path:   cfg.DBName,
	}
	query := dsn.Query()
	query.Set("sslmode", sslMode)
	dsn.RawQuery = query.Encode()

	return dsn.String()
}

//nolint:mnd
func defaultPoolConfig() PostgresConfig {
	return PostgresConfig{
		MinimumConns:    5,
		ConnMaxLifetime: 15 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

func setPoolConfig(cfg PostgresConfig, db *sqlx.DB) {
	db.SetMaxIdleConns(cfg.MinimumConns)
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	log.Logger.Debug().
		Int("max_open", cfg.MaxConnections).
		Int("max_idle", cfg.MinimumConns).
		Dur("max_lifetime", cfg.ConnMaxLifetime).
		Dur("max_idle_time", cfg.ConnMaxIdleTime).
		Msg("Configured PostgreSQL connection pool")
}

//nolint:mnd
func (p *PostgresDatastore) startHealthCheck() {
	ticker := p.healthCheckInterval
	stop := p.stopHealthCheckCh

	p.healthCheckDone.Add(1)
	go func() {
		defer p.healthCheckDone.Done()
		failing := false
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := p.DB.PingContext(ctx)
				cancel()
				stats := p.DB.Stats()
				switch {
				case err != nil:
					failing = true
					p.logger.Warn().Err(err).
						Int("open_connections", stats.OpenConnections).
						Int("in_use", stats.InUse).
						Msg("Database health check failed")
				case failing:
					failing = false
					p.logger.Info().Int("open_connections", stats.OpenConnections).Msg("Database health check recovered")
				}
			case <-stop:
				ticker.Stop()
				p.logger.Info().Msg("Stopped PostgreSQL health check")
				return
			}
		}
	}()

	p.logger.Info().Msg("Started database health check")
}
