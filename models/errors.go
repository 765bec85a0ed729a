package models

import (
	"errors"
	"fmt"
)

// Error classes. Typed errors below match these with errors.Is.
var (
	ErrUpstream   = errors.New("upstream error")
	ErrStore      = errors.New("store error")
	ErrValidation = errors.New("validation error")
	ErrConfig     = errors.New("config error")
)

// UpstreamError is returned when the market data API fails or is unreachable.
type UpstreamError struct {
	Endpoint   string
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("upstream %s: status %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

func (e *UpstreamError) Unwrap() error { return e.Err }

// StoreError reports a failed persistence operation. Chunk is the zero-based
// index of the failed write chunk, or -1 for non-chunked operations.
type StoreError struct {
	Op    string
	Chunk int
	Err   error
}

func (e *StoreError) Error() string {
	if e.Chunk >= 0 {
		return fmt.Sprintf("store %s (chunk %d): %v", e.Op, e.Chunk, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Is(target error) bool { return target == ErrStore }

func (e *StoreError) Unwrap() error { return e.Err }

// ValidationError describes a malformed request parameter.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ConfigError reports a missing or invalid setting.
type ConfigError struct {
	Key     string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Message)
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }
