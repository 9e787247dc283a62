// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

// Package postgres is the PostgreSQL (and CockroachDB) metastore backend.
package postgres

import (
	"context"
	"errors"

	"github.com/LeeDigitalWorks/rtastore/pkg/metastore"
	dbsql "github.com/LeeDigitalWorks/rtastore/pkg/metastore/sql"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
)

// Postgres is a metastore backed by PostgreSQL.
type Postgres struct {
	*dbsql.Store
}

// Open connects, runs migrations and returns the store.
func Open(ctx context.Context, cfg metastore.Config) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres DSN is required")
	}
	store, err := dbsql.Open("pgx", cfg.DSN, dbsql.PostgresDialect{}, cfg)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return &Postgres{Store: store}, nil
}

var _ metastore.Store = (*Postgres)(nil)
