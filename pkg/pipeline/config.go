// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline commits live recording chunks to the storage network,
// falls back to a pinning service when the primary path fails, and compiles
// recording metadata once a recording completes.
package pipeline

import "time"

const (
	DefaultUploadTimeout     = 2 * time.Minute
	DefaultConfirmationGrace = 3 * time.Second
	DefaultFinalSettleDelay  = 2 * time.Second
	DefaultAutoCompleteAfter = 5 * time.Minute
	DefaultCompletionTimeout = time.Minute
	DefaultCompletionRetry   = 30 * time.Second
)

// Config holds pipeline timing.
type Config struct {
	// UploadTimeout bounds the primary path (session through confirmation).
	// Exceeding it sends the chunk to the fallback pinner.
	UploadTimeout time.Duration `mapstructure:"upload_timeout"`

	// ConfirmationGrace is how long to wait for root-registered or
	// root-confirmed after the synchronous upload returns.
	ConfirmationGrace time.Duration `mapstructure:"confirmation_grace"`

	// FinalSettleDelay is the pause between persisting a final chunk and
	// compiling the recording.
	FinalSettleDelay time.Duration `mapstructure:"final_settle_delay"`

	// AutoCompleteAfter is the idle period after the last chunk before a
	// recording is completed without a final chunk.
	AutoCompleteAfter time.Duration `mapstructure:"auto_complete_after"`

	// CompletionTimeout bounds one completion attempt.
	CompletionTimeout time.Duration `mapstructure:"completion_timeout"`

	// CompletionRetry re-arms a deadline whose auto-completion failed.
	CompletionRetry time.Duration `mapstructure:"completion_retry"`
}

// DefaultConfig returns the default timings.
func DefaultConfig() Config {
	return Config{
		UploadTimeout:     DefaultUploadTimeout,
		ConfirmationGrace: DefaultConfirmationGrace,
		FinalSettleDelay:  DefaultFinalSettleDelay,
		AutoCompleteAfter: DefaultAutoCompleteAfter,
		CompletionTimeout: DefaultCompletionTimeout,
		CompletionRetry:   DefaultCompletionRetry,
	}
}

// Validate fills unset durations with defaults.
func (c *Config) Validate() {
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = DefaultUploadTimeout
	}
	if c.ConfirmationGrace <= 0 {
		c.ConfirmationGrace = DefaultConfirmationGrace
	}
	if c.FinalSettleDelay < 0 {
		c.FinalSettleDelay = 0
	}
	if c.AutoCompleteAfter <= 0 {
		c.AutoCompleteAfter = DefaultAutoCompleteAfter
	}
	if c.CompletionTimeout <= 0 {
		c.CompletionTimeout = DefaultCompletionTimeout
	}
	if c.CompletionRetry <= 0 {
		c.CompletionRetry = DefaultCompletionRetry
	}
}
