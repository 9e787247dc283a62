// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

package metastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/rtastore/pkg/logger"
	"github.com/LeeDigitalWorks/rtastore/pkg/types"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each recording in two hashes:
//
//	{prefix}:recording:{id}         header fields
//	{prefix}:recording:{id}:chunks  chunk id -> chunk JSON
//
// and indexes recordings in two sorted sets, {prefix}:recordings:completed
// (scored by completion time) and {prefix}:recordings:incomplete (scored by
// creation time). Mutations that must check state run as Lua scripts.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	owned  bool
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg Config) (*RedisStore, error) {
	if cfg.RedisAddr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("redis metastore connected")

	s := NewRedisStoreWithClient(client, cfg.RedisPrefix)
	s.owned = true
	return s, nil
}

// NewRedisStoreWithClient wraps an existing client. The client is not closed
// by Close.
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) recordKey(id string) string { return s.prefix + ":recording:" + id }
func (s *RedisStore) chunksKey(id string) string { return s.prefix + ":recording:" + id + ":chunks" }
func (s *RedisStore) completedKey() string       { return s.prefix + ":recordings:completed" }
func (s *RedisStore) incompleteKey() string      { return s.prefix + ":recordings:incomplete" }

// saveScript creates the header on first save and upserts the carried chunks.
// An empty creator or proof set id does not replace a stored one.
// ARGV: id, creator, created_at, proof_set_id, provider_id, score, then
// chunk id / chunk JSON pairs.
var saveScript = redis.NewScript(`
local created = redis.call("HSETNX", KEYS[1], "created_at", ARGV[3])
redis.call("HSET", KEYS[1], "id", ARGV[1])
if created == 1 or ARGV[2] ~= "" then
    redis.call("HSET", KEYS[1], "creator", ARGV[2])
end
if created == 1 or ARGV[4] ~= "" then
    redis.call("HSET", KEYS[1], "proof_set_id", ARGV[4], "provider_id", ARGV[5])
end
if created == 1 then
    redis.call("HSET", KEYS[1], "complete", "0")
    redis.call("ZADD", KEYS[3], ARGV[6], ARGV[1])
end
for i = 7, #ARGV, 2 do
    redis.call("HSET", KEYS[2], ARGV[i], ARGV[i + 1])
end
return created
`)

// appendScript returns 1 on success, 0 if the recording is missing and -1
// if it is complete.
var appendScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
    return 0
end
if redis.call("HGET", KEYS[1], "complete") == "1" then
    return -1
end
redis.call("HSET", KEYS[2], ARGV[1], ARGV[2])
return 1
`)

// completeScript is the check-and-set for MarkComplete. Same return codes
// as appendScript.
// ARGV: id, compiled JSON, completed_at, score.
var completeScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
    return 0
end
if redis.call("HGET", KEYS[1], "complete") == "1" then
    return -1
end
redis.call("HSET", KEYS[1], "complete", "1", "compiled", ARGV[2], "completed_at", ARGV[3])
redis.call("ZADD", KEYS[2], ARGV[4], ARGV[1])
redis.call("ZREM", KEYS[3], ARGV[1])
return 1
`)

func (s *RedisStore) SaveRecord(ctx context.Context, r *types.Recording) error {
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	args := []any{
		r.ID, r.Creator, createdAt.UTC().Format(time.RFC3339Nano),
		r.ProofSetID, r.ProviderID, createdAt.UnixMilli(),
	}
	for _, c := range r.Chunks {
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshal chunk %s: %w", c.ChunkID, err)
		}
		args = append(args, c.ChunkID, data)
	}

	keys := []string{s.recordKey(r.ID), s.chunksKey(r.ID), s.incompleteKey()}
	if err := saveScript.Run(ctx, s.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("save recording %s: %w", r.ID, err)
	}
	return nil
}

func (s *RedisStore) GetRecord(ctx context.Context, id string) (*types.Recording, error) {
	pipe := s.client.Pipeline()
	header := pipe.HGetAll(ctx, s.recordKey(id))
	chunks := pipe.HGetAll(ctx, s.chunksKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("get recording %s: %w", id, err)
	}
	if len(header.Val()) == 0 {
		return nil, ErrRecordNotFound
	}
	return decodeRecording(header.Val(), chunks.Val())
}

func decodeRecording(header, chunks map[string]string) (*types.Recording, error) {
	r := &types.Recording{
		ID:         header["id"],
		Creator:    header["creator"],
		ProofSetID: header["proof_set_id"],
		ProviderID: header["provider_id"],
		Complete:   header["complete"] == "1",
	}

	var err error
	if v := header["created_at"]; v != "" {
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return nil, fmt.Errorf("parse created_at for %s: %w", r.ID, err)
		}
	}
	if v := header["completed_at"]; v != "" {
		if r.CompletedAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return nil, fmt.Errorf("parse completed_at for %s: %w", r.ID, err)
		}
	}
	if v := header["compiled"]; v != "" {
		r.Compiled = &types.CompiledMetadata{}
		if err := json.Unmarshal([]byte(v), r.Compiled); err != nil {
			return nil, fmt.Errorf("decode compiled metadata for %s: %w", r.ID, err)
		}
	}

	r.Chunks = make([]types.Chunk, 0, len(chunks))
	for id, raw := range chunks {
		var c types.Chunk
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("decode chunk %s: %w", id, err)
		}
		r.Chunks = append(r.Chunks, c)
	}
	return Finalize(r), nil
}

func (s *RedisStore) AppendChunk(ctx context.Context, recordingID string, c types.Chunk) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal chunk %s: %w", c.ChunkID, err)
	}

	keys := []string{s.recordKey(recordingID), s.chunksKey(recordingID)}
	res, err := appendScript.Run(ctx, s.client, keys, c.ChunkID, data).Int()
	if err != nil {
		return fmt.Errorf("append chunk %s: %w", c.ChunkID, err)
	}
	switch res {
	case 0:
		return ErrRecordNotFound
	case -1:
		return ErrRecordComplete
	}
	return nil
}

func (s *RedisStore) MarkComplete(ctx context.Context, recordingID string, meta *types.CompiledMetadata) error {
	var compiled []byte
	if meta != nil {
		var err error
		if compiled, err = json.Marshal(meta); err != nil {
			return fmt.Errorf("marshal compiled metadata: %w", err)
		}
	}
	at := CompletionTime(meta)

	keys := []string{s.recordKey(recordingID), s.completedKey(), s.incompleteKey()}
	res, err := completeScript.Run(ctx, s.client, keys,
		recordingID, compiled, at.UTC().Format(time.RFC3339Nano), at.UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("mark complete %s: %w", recordingID, err)
	}
	switch res {
	case 0:
		return ErrRecordNotFound
	case -1:
		return ErrAlreadyComplete
	}
	return nil
}

func (s *RedisStore) ListCompleted(ctx context.Context) ([]*types.Recording, error) {
	ids, err := s.client.ZRevRange(ctx, s.completedKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list completed: %w", err)
	}
	return s.loadAll(ctx, ids)
}

func (s *RedisStore) ListIncomplete(ctx context.Context) ([]*types.Recording, error) {
	ids, err := s.client.ZRange(ctx, s.incompleteKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list incomplete: %w", err)
	}
	return s.loadAll(ctx, ids)
}

func (s *RedisStore) loadAll(ctx context.Context, ids []string) ([]*types.Recording, error) {
	out := make([]*types.Recording, 0, len(ids))
	for _, id := range ids {
		r, err := s.GetRecord(ctx, id)
		if errors.Is(err, ErrRecordNotFound) {
			// Index entry outlived its record.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}
