// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

package context

import (
	"context"

	"github.com/google/uuid"
)

const (
	RequestHeader = "X-Request-Id"
)

type requestIDKey struct{}

// WithRequestID returns ctx carrying id, or a new uuid when id is empty.
// An id already on ctx wins.
func WithRequestID(c context.Context, id string) (context.Context, string) {
	if existing := RequestID(c); existing != "" {
		return c, existing
	}
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(c, requestIDKey{}, id), id
}

// RequestID returns the request id on c, or "".
func RequestID(c context.Context) string {
	id, _ := c.Value(requestIDKey{}).(string)
	return id
}
