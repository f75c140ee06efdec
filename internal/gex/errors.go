package gex

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNoData            = errors.New("no data")
	ErrInvalidPrice      = errors.New("invalid price")
	ErrInvalidConfidence = errors.New("confidence must be in (0, 1)")
	ErrInvalidSymbol     = errors.New("symbol is required")
	ErrInvalidThreshold  = errors.New("threshold must be >= 0")

	// ErrStaleData also matches ErrNoData.
	ErrStaleData = fmt.Errorf("all eligible contracts are stale: %w", ErrNoData)
)

// CalcError carries the context a failed operation was working on.
type CalcError struct {
	Op         string
	Symbol     string
	Expiration time.Time
	At         time.Time
	Err        error
}

func (e *CalcError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Op)
	if e.Symbol != "" {
		sb.WriteString(" ")
		sb.WriteString(e.Symbol)
	}
	if !e.Expiration.IsZero() {
		sb.WriteString(" exp ")
		sb.WriteString(e.Expiration.Format(DateLayout))
	}
	if !e.At.IsZero() {
		sb.WriteString(" at ")
		sb.WriteString(e.At.UTC().Format(time.RFC3339))
	}
	sb.WriteString(": ")
	sb.WriteString(e.Err.Error())
	return sb.String()
}

func (e *CalcError) Unwrap() error {
	return e.Err
}
