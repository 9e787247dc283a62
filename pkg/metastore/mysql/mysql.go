// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

// Package mysql is the MySQL (and Vitess) metastore backend.
package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/rtastore/pkg/metastore"
	dbsql "github.com/LeeDigitalWorks/rtastore/pkg/metastore/sql"

	"github.com/go-sql-driver/mysql"
)

// MySQL is a metastore backed by MySQL.
type MySQL struct {
	*dbsql.Store
}

// Open connects, runs migrations and returns the store. Time parsing is
// forced on since recordings carry DATETIME columns.
func Open(ctx context.Context, cfg metastore.Config) (*MySQL, error) {
	if cfg.DSN == "" {
		return nil, errors.New("mysql DSN is required")
	}
	dsn, err := normalizeDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}

	store, err := dbsql.Open("mysql", dsn, dbsql.MySQLDialect{}, cfg)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return &MySQL{Store: store}, nil
}

func normalizeDSN(dsn string) (string, error) {
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql DSN: %w", err)
	}
	parsed.ParseTime = true
	parsed.Loc = time.UTC
	return parsed.FormatDSN(), nil
}

var _ metastore.Store = (*MySQL)(nil)
