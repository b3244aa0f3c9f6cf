package postgres

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/suite"

	"ucm-sync/pkg/db"
	"ucm-sync/pkg/db/migrations"
	"ucm-sync/testutil"
)

type RepositoryTestSuite struct {
	suite.Suite
	ctx      context.Context
	pgHelper *testutil.PostgresHelper
	db       *db.PostgresDatastore
}

func TestRepositorySuite(t *testing.T) {
	if os.Getenv("SKIP_INTEGRATION_TESTS") == "true" {
		t.Skip("Skipping integration tests")
	}
	suite.Run(t, new(RepositoryTestSuite))
}

func (suite *RepositoryTestSuite) SetupSuite() {
	var err error
	suite.ctx = context.Background()
	suite.pgHelper, err = testutil.NewPostgresContainer(suite.T(), suite.ctx)
	suite.Require().NoError(err, "Failed to create Postgres test container")

	suite.db, err = db.NewPostgresDatastore(suite.pgHelper.Config, migrations.NewPostgresMigration())
	suite.Require().NoError(err, "Failed to create datastore")
}

func (suite *RepositoryTestSuite) SetupTest() {
	suite.resetTables()
}

func (suite *RepositoryTestSuite) SetupSubTest() {
	suite.resetTables()
}

func (suite *RepositoryTestSuite) TearDownSuite() {
	if suite.db != nil {
		_ = suite.db.Close()
	}
	if suite.pgHelper != nil {
		if err := suite.pgHelper.Terminate(suite.ctx); err != nil {
			log.Printf("Error terminating container: %v", err)
		}
	}
}

func (suite *RepositoryTestSuite) resetTables() {
	suite.Require().NoError(suite.pgHelper.Start(suite.ctx))
	suite.Require().Eventually(func() bool {
		return suite.db.Ping(suite.ctx) == nil
	}, 10*time.Second, 200*time.Millisecond)
	suite.Require().NoError(suite.pgHelper.ExecutePsqlCommand(suite.ctx, "TRUNCATE TABLE entity_records, sync_histories"))
}

func newTestCircuitBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "test_breaker",
		MaxRequests: 2,
		Interval:    1 * time.Second,
		Timeout:     500 * time.Millisecond,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.TotalFailures >= 2
		},
		IsSuccessful: isSuccessful,
	})
}

// a single try keeps the outage tests fast
func singleTryStrategy() []backoff.RetryOption {
	return []backoff.RetryOption{
		backoff.WithBackOff(&backoff.ConstantBackOff{Interval: 100 * time.Millisecond}),
		backoff.WithMaxTries(1),
	}
}
