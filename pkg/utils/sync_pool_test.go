// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSha256Sum_MatchesStdlib(t *testing.T) {
	t.Parallel()

	data := []byte("chunk payload")
	want := sha256.Sum256(data)
	assert.Equal(t, want[:], Sha256Sum(data))
	// pooled hasher must be reset between uses
	assert.Equal(t, want[:], Sha256Sum(data))
}

func TestCrc64nvme_Deterministic(t *testing.T) {
	t.Parallel()

	a := Crc64nvme([]byte("abc"))
	assert.Equal(t, a, Crc64nvme([]byte("abc")))
	assert.NotEqual(t, a, Crc64nvme([]byte("abd")))
}
