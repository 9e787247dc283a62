//go:build integration

package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/LeeDigitalWorks/rtastore/pkg/metastore"
	"github.com/LeeDigitalWorks/rtastore/pkg/metastore/metastoretest"

	"github.com/stretchr/testify/require"
)

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("RTASTORE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("RTASTORE_TEST_POSTGRES_DSN not set")
	}

	store, err := Open(context.Background(), metastore.Config{Driver: metastore.DriverPostgres, DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	// Migrations are idempotent.
	require.NoError(t, store.Migrate(context.Background()))

	metastoretest.Run(t, func(t *testing.T) metastore.Store { return store })
}
