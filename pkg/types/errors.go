// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies pipeline failures by the stage that produced them.
type ErrorCode int

const (
	ErrCodeNone ErrorCode = iota
	ErrCodeInitialization
	ErrCodeInsufficientAllowance
	ErrCodeStorageServiceCreation
	ErrCodeUpload
	ErrCodeFallbackUnavailable
	ErrCodeMetadataCompilation
	ErrCodePersistence
	ErrCodeNotFound
	ErrCodeInvalidRequest
)

var errorCodeNames = map[ErrorCode]string{
	ErrCodeNone:                   "None",
	ErrCodeInitialization:         "InitializationError",
	ErrCodeInsufficientAllowance:  "InsufficientAllowanceError",
	ErrCodeStorageServiceCreation: "StorageServiceCreationError",
	ErrCodeUpload:                 "UploadError",
	ErrCodeFallbackUnavailable:    "FallbackUnavailableError",
	ErrCodeMetadataCompilation:    "MetadataCompilationError",
	ErrCodePersistence:            "PersistenceError",
	ErrCodeNotFound:               "NotFound",
	ErrCodeInvalidRequest:         "InvalidRequest",
}

func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// HTTPStatus maps a code to the status returned by the HTTP API.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case ErrCodeMetadataCompilation:
		return http.StatusConflict
	case ErrCodeFallbackUnavailable, ErrCodeInitialization:
		return http.StatusServiceUnavailable
	case ErrCodeInsufficientAllowance:
		return http.StatusPaymentRequired
	case ErrCodeUpload, ErrCodeStorageServiceCreation:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a pipeline error tagged with the failing stage.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so sentinel-style checks work:
//
//	errors.Is(err, &types.Error{Code: types.ErrCodeUpload})
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError builds an *Error wrapping err.
func NewError(code ErrorCode, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code of the outermost *Error in err's chain.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeNone
}

// IsCode reports whether err carries code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	return errors.Is(err, &Error{Code: code})
}

func InitializationError(err error, format string, args ...any) *Error {
	return NewError(ErrCodeInitialization, err, format, args...)
}

func InsufficientAllowanceError(err error, format string, args ...any) *Error {
	return NewError(ErrCodeInsufficientAllowance, err, format, args...)
}

func StorageServiceCreationError(err error, format string, args ...any) *Error {
	return NewError(ErrCodeStorageServiceCreation, err, format, args...)
}

func UploadError(err error, format string, args ...any) *Error {
	return NewError(ErrCodeUpload, err, format, args...)
}

func FallbackUnavailableError(err error, format string, args ...any) *Error {
	return NewError(ErrCodeFallbackUnavailable, err, format, args...)
}

func MetadataCompilationError(err error, format string, args ...any) *Error {
	return NewError(ErrCodeMetadataCompilation, err, format, args...)
}

func PersistenceError(err error, format string, args ...any) *Error {
	return NewError(ErrCodePersistence, err, format, args...)
}

func NotFoundError(format string, args ...any) *Error {
	return NewError(ErrCodeNotFound, nil, format, args...)
}

func InvalidRequestError(format string, args ...any) *Error {
	return NewError(ErrCodeInvalidRequest, nil, format, args...)
}
