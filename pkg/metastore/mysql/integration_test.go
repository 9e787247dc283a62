//go:build integration

package mysql

import (
	"context"
	"os"
	"testing"

	"github.com/LeeDigitalWorks/rtastore/pkg/metastore"
	"github.com/LeeDigitalWorks/rtastore/pkg/metastore/metastoretest"

	"github.com/stretchr/testify/require"
)

func TestMySQLStore(t *testing.T) {
	dsn := os.Getenv("RTASTORE_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("RTASTORE_TEST_MYSQL_DSN not set")
	}

	store, err := Open(context.Background(), metastore.Config{Driver: metastore.DriverMySQL, DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	metastoretest.Run(t, func(t *testing.T) metastore.Store { return store })
}
