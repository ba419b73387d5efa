//go:build test_db_postgres
// +build test_db_postgres

package cairndb

import (
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

// NewTestDB is a helper function that creates a Postgres database for testing.
// The connection parameters are read from the environment, which allows the
// same test binary to be pointed at any reachable Postgres instance.
func NewTestDB(t *testing.T) *PostgresStore {
	t.Helper()

	host := envOrDefault("CAIRN_TEST_PG_HOST", "localhost")
	port, err := strconv.Atoi(envOrDefault("CAIRN_TEST_PG_PORT", "5432"))
	require.NoError(t, err)

	store, err := NewPostgresStore(&PostgresConfig{
		Host:     host,
		Port:     port,
		User:     envOrDefault("CAIRN_TEST_PG_USER", "postgres"),
		Password: envOrDefault("CAIRN_TEST_PG_PASSWORD", "postgres"),
		DBName:   envOrDefault("CAIRN_TEST_PG_DBNAME", "postgres"),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		// Leave the database dropped to a clean state for the next
		// test run.
		_, err := store.DB.Exec("DELETE FROM tree_nodes")
		require.NoError(t, err)
		_, err = store.DB.Exec("DELETE FROM tree_roots")
		require.NoError(t, err)

		require.NoError(t, store.DB.Close())
	})

	return store
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return fallback
}
