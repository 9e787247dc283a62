package metastore_test

import (
	"testing"

	"github.com/LeeDigitalWorks/rtastore/pkg/metastore"
	"github.com/LeeDigitalWorks/rtastore/pkg/metastore/metastoretest"
)

func TestMemoryStore(t *testing.T) {
	metastoretest.Run(t, func(t *testing.T) metastore.Store {
		return metastore.NewMemoryStore()
	})
}

func TestMetricsStore(t *testing.T) {
	metastoretest.Run(t, func(t *testing.T) metastore.Store {
		return metastore.NewMetricsStore(metastore.NewMemoryStore())
	})
}
