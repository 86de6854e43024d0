// Package database provides the PostgreSQL test harness. Every test gets its
// own schema inside a shared database, so tests can run in parallel without
// stepping on each other's rows.
//
// In CI the database comes from the CI_DATABASE_URL service container; in
// local development a single testcontainer is started once per package.
package database

import (
	"context"
	"crypto/rand"
	stdsql "database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/database"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
)

var (
	sharedConnStr string
	containerOnce sync.Once
	containerErr  error
)

// NewTestClient creates a *database.Client bound to a fresh schema. Embedded
// migrations run inside that schema, and the schema is dropped when the test
// ends.
func NewTestClient(t *testing.T) *database.Client {
	t.Helper()
	ctx := context.Background()

	connStr := BaseConnectionString(t)
	schemaName := generateSchemaName(t)

	admin, err := stdsql.Open("pgx", connStr)
	require.NoError(t, err)
	_, err = admin.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA %s", schemaName))
	require.NoError(t, err)
	_ = admin.Close()

	// search_path in the connection string applies to every pooled
	// connection, so migrations and queries all land in the test schema.
	client, err := database.NewClientFromDSN(ctx,
		addSearchPath(connStr, schemaName), "test")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
		cleanDB, err := stdsql.Open("pgx", connStr)
		if err != nil {
			t.Logf("could not connect to drop schema %s: %v", schemaName, err)
			return
		}
		defer func() { _ = cleanDB.Close() }()
		_, err = cleanDB.ExecContext(context.Background(),
			fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schemaName))
		if err != nil {
			t.Logf("failed to drop schema %s: %v", schemaName, err)
		}
	})

	return client
}

// BaseConnectionString returns the connection string of the shared database,
// without a search_path. Tests that need a dedicated connection, such as
// LISTEN/NOTIFY consumers, build on this.
func BaseConnectionString(t *testing.T) string {
	t.Helper()

	if ciDatabaseURL := os.Getenv("CI_DATABASE_URL"); ciDatabaseURL != "" {
		return ciDatabaseURL
	}

	containerOnce.Do(func() {
		ctx := context.Background()
		t.Log("Starting shared PostgreSQL testcontainer")

		pgContainer, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = fmt.Errorf("failed to start postgres container: %w", err)
			return
		}

		connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			containerErr = fmt.Errorf("failed to get connection string: %w", err)
			return
		}
		sharedConnStr = connStr
	})

	require.NoError(t, containerErr, "failed to set up shared test container")
	return sharedConnStr
}

// generateSchemaName derives a PostgreSQL-safe schema name from the test
// name plus a random suffix, staying under the 63-char identifier limit.
func generateSchemaName(t *testing.T) string {
	testName := strings.ToLower(t.Name())
	testName = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, testName)
	if len(testName) > 40 {
		testName = testName[:40]
	}

	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		t.Fatalf("failed to generate schema name suffix: %v", err)
	}
	return fmt.Sprintf("test_%s_%s", testName, hex.EncodeToString(randomBytes))
}

func addSearchPath(connStr, schemaName string) string {
	separator := "?"
	if strings.Contains(connStr, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%ssearch_path=%s", connStr, separator, schemaName)
}
