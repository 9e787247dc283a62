// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

package env

import (
	"os"
	"sync"
)

const (
	Local      = "local"
	Production = "production"
	Testing    = "testing"
)

var (
	Env string

	once sync.Once
)

func IsLocal() bool {
	return Env == Local
}

func IsProduction() bool {
	return Env == Production
}

func IsTesting() bool {
	return Env == Testing
}

// Set overrides the environment, e.g. from a config file value.
func Set(e string) {
	switch e {
	case Local, Production, Testing:
		Env = e
	}
}

func init() {
	once.Do(func() {
		Env = os.Getenv("RTASTORE_ENV")
		if Env == "" {
			Env = os.Getenv("ENV")
		}
		if Env == "" {
			Env = Local
		}
	})
}
