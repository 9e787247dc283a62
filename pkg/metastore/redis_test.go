// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

package metastore_test

import (
	"context"
	"testing"

	"github.com/LeeDigitalWorks/rtastore/pkg/metastore"
	"github.com/LeeDigitalWorks/rtastore/pkg/metastore/metastoretest"
	"github.com/LeeDigitalWorks/rtastore/pkg/types"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*metastore.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return metastore.NewRedisStoreWithClient(client, "test"), mr
}

func TestRedisStore(t *testing.T) {
	metastoretest.Run(t, func(t *testing.T) metastore.Store {
		s, _ := newRedisStore(t)
		return s
	})
}

func TestRedisStore_KeyLayout(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)

	require.NoError(t, s.SaveRecord(ctx, &types.Recording{ID: "rec-1", Creator: "carol"}))
	require.NoError(t, s.AppendChunk(ctx, "rec-1", types.Chunk{ChunkID: "rec-1_chunk_0", ContentID: "cid"}))

	assert.Equal(t, "carol", mr.HGet("test:recording:rec-1", "creator"))
	assert.Equal(t, "0", mr.HGet("test:recording:rec-1", "complete"))
	assert.Contains(t, mr.HGet("test:recording:rec-1:chunks", "rec-1_chunk_0"), `"content_id":"cid"`)

	members, err := mr.ZMembers("test:recordings:incomplete")
	require.NoError(t, err)
	assert.Equal(t, []string{"rec-1"}, members)

	require.NoError(t, s.MarkComplete(ctx, "rec-1", &types.CompiledMetadata{RecordingID: "rec-1"}))
	assert.Equal(t, "1", mr.HGet("test:recording:rec-1", "complete"))
	assert.False(t, mr.Exists("test:recordings:incomplete"), "last incomplete member removed")

	members, err = mr.ZMembers("test:recordings:completed")
	require.NoError(t, err)
	assert.Equal(t, []string{"rec-1"}, members)
}

func TestRedisStore_StaleIndexEntry(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)

	_, err := mr.ZAdd("test:recordings:completed", 1, "gone")
	require.NoError(t, err)

	completed, err := s.ListCompleted(ctx)
	require.NoError(t, err)
	assert.Empty(t, completed)
}

func TestRedisStore_ConnectionError(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)
	mr.Close()

	_, err := s.GetRecord(ctx, "rec")
	require.Error(t, err)
	assert.NotErrorIs(t, err, metastore.ErrRecordNotFound)
}

func TestNewRedisStore_RequiresAddr(t *testing.T) {
	_, err := metastore.NewRedisStore(context.Background(), metastore.Config{Driver: metastore.DriverRedis})
	assert.Error(t, err)
}
