// SPDX-License-Identifier: Apache-2.0

package testutils

import (
	"context"
	"database/sql"
	"log"
	"net/url"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// The version of postgres against which the tests are run
// if the POSTGRES_VERSION environment variable is not set.
const defaultPostgresVersion = "15.3"

// tConnStr holds the connection string to the test container created in TestMain.
var tConnStr string

// SharedTestMain starts a postgres container to be used by all tests in a package.
// Each test then connects to the container and creates a new database.
func SharedTestMain(m *testing.M) {
	ctx := context.Background()

	waitForLogs := wait.
		ForLog("database system is ready to accept connections").
		WithOccurrence(2).
		WithStartupTimeout(5 * time.Second)

	pgVersion := os.Getenv("POSTGRES_VERSION")
	if pgVersion == "" {
		pgVersion = defaultPostgresVersion
	}

	ctr, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:"+pgVersion),
		testcontainers.WithWaitStrategy(waitForLogs),
		postgres.WithDatabase("postgres"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
	)
	if err != nil {
		os.Exit(1)
	}

	tConnStr, err = ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		os.Exit(1)
	}

	exitCode := m.Run()

	if err := ctr.Terminate(ctx); err != nil {
		log.Printf("Failed to terminate container: %v", err)
	}

	os.Exit(exitCode)
}

// WithConnectionToContainer creates a fresh database in the shared container
// and hands the test a connection to it together with its name.
func WithConnectionToContainer(t *testing.T, fn func(db *sql.DB, dbName string)) {
	t.Helper()

	conn, dbName := setupTestDatabase(t)
	fn(conn, dbName)
}

func setupTestDatabase(t *testing.T) (*sql.DB, string) {
	t.Helper()
	ctx := context.Background()

	admin, err := sql.Open("postgres", tConnStr)
	if err != nil {
		t.Fatal(err)
	}
	defer admin.Close()

	dbName := randomDBName()
	_, err = admin.ExecContext(ctx, "CREATE DATABASE "+dbName)
	if err != nil {
		t.Fatal(err)
	}

	u, err := url.Parse(tConnStr)
	if err != nil {
		t.Fatal(err)
	}
	u.Path = "/" + dbName

	conn, err := sql.Open("postgres", u.String())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	return conn, dbName
}

// InContainerConnStr is the keyword/value connection string the postgres
// server itself can use to reach the given database, e.g. through dblink.
func InContainerConnStr(dbName string) string {
	return "host=localhost port=5432 dbname=" + dbName + " user=postgres password=postgres"
}
