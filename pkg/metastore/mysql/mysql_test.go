package mysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDSN(t *testing.T) {
	dsn, err := normalizeDSN("rta:secret@tcp(db:3306)/rtastore")
	require.NoError(t, err)
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "rta:secret@tcp(db:3306)/rtastore")

	_, err = normalizeDSN("not a dsn")
	assert.Error(t, err)
}
