package contentid

import (
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSum(t *testing.T) {
	t.Parallel()

	c, err := Sum([]byte("hello"))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), c.Version())
	assert.Equal(t, uint64(cid.Raw), c.Type())
	assert.Equal(t, uint64(multihash.SHA2_256), c.Prefix().MhType)
	assert.Equal(t, "bafkreibm6jg3ux5qumhcn2b3flc3tyu6dmlb4xa7u5bf44yegnrjhc4yeq", c.String())
}

func TestVerify(t *testing.T) {
	t.Parallel()

	id, err := String([]byte("chunk-0"))
	require.NoError(t, err)

	assert.NoError(t, Verify(id, []byte("chunk-0")))
	assert.ErrorIs(t, Verify(id, []byte("chunk-1")), ErrMismatch)
	assert.Error(t, Verify("not-a-cid", []byte("chunk-0")))
}

func TestFillTemplate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://0xabc.calibration.filcdn.io/bafy1",
		FillTemplate("https://0xabc.calibration.filcdn.io/{cid}", "bafy1"))
	assert.Equal(t, "https://gateway.pinata.cloud/ipfs/bafy1",
		FillTemplate("https://gateway.pinata.cloud/ipfs/", "bafy1"))
	assert.Empty(t, FillTemplate("", "bafy1"))
}
