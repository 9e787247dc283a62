// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

// Package sql is the dialect-aware SQL metastore shared by the PostgreSQL
// and MySQL backends. Queries are written with PostgreSQL placeholders and
// rewritten per dialect at execution time.
package sql

import (
	"fmt"
	"regexp"
	"strings"
)

// Dialect abstracts the SQL syntax differences between backends.
type Dialect interface {
	// Name is also the migrations directory for the dialect.
	Name() string

	// ReplacePlaceholders rewrites $1, $2, ... into the dialect's form.
	ReplacePlaceholders(query string) string

	// BoolLiteral returns the SQL literal for b.
	BoolLiteral(b bool) string

	// ScanBool returns a scanner for a boolean column.
	ScanBool() BoolScanner

	// UpsertSuffix turns an INSERT into an upsert that updates
	// updateColumns when conflictColumns already exist.
	UpsertSuffix(conflictColumns string, updateColumns []string) string
}

// BoolScanner scans a boolean value from SQL.
type BoolScanner interface {
	Dest() any
	Value() bool
}

// PostgresDialect implements Dialect for PostgreSQL.
type PostgresDialect struct{}

var _ Dialect = PostgresDialect{}

func (PostgresDialect) Name() string { return "postgres" }

func (PostgresDialect) ReplacePlaceholders(query string) string { return query }

func (PostgresDialect) BoolLiteral(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

func (PostgresDialect) ScanBool() BoolScanner { return &directBoolScanner{} }

func (PostgresDialect) UpsertSuffix(conflictColumns string, updateColumns []string) string {
	if len(updateColumns) == 0 {
		return fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", conflictColumns)
	}
	updates := make([]string, len(updateColumns))
	for i, col := range updateColumns {
		updates[i] = fmt.Sprintf("%s = EXCLUDED.%s", col, col)
	}
	return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", conflictColumns, strings.Join(updates, ", "))
}

// MySQLDialect implements Dialect for MySQL and Vitess.
type MySQLDialect struct{}

var _ Dialect = MySQLDialect{}

var pgPlaceholder = regexp.MustCompile(`\$\d+`)

func (MySQLDialect) Name() string { return "mysql" }

// ReplacePlaceholders maps each $n to ?. Arguments must therefore be passed
// in the order the placeholders appear, which every query here does.
func (MySQLDialect) ReplacePlaceholders(query string) string {
	return pgPlaceholder.ReplaceAllString(query, "?")
}

func (MySQLDialect) BoolLiteral(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (MySQLDialect) ScanBool() BoolScanner { return &intBoolScanner{} }

func (MySQLDialect) UpsertSuffix(conflictColumns string, updateColumns []string) string {
	if len(updateColumns) == 0 {
		// No-op update keeps INSERT semantics without IGNORE swallowing errors.
		first, _, _ := strings.Cut(conflictColumns, ",")
		first = strings.TrimSpace(first)
		return fmt.Sprintf(" ON DUPLICATE KEY UPDATE %s = %s", first, first)
	}
	updates := make([]string, len(updateColumns))
	for i, col := range updateColumns {
		updates[i] = fmt.Sprintf("%s = VALUES(%s)", col, col)
	}
	return " ON DUPLICATE KEY UPDATE " + strings.Join(updates, ", ")
}

type directBoolScanner struct {
	value bool
}

func (s *directBoolScanner) Dest() any   { return &s.value }
func (s *directBoolScanner) Value() bool { return s.value }

type intBoolScanner struct {
	value int
}

func (s *intBoolScanner) Dest() any   { return &s.value }
func (s *intBoolScanner) Value() bool { return s.value != 0 }
