package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// FieldError is one failed struct tag rule.
type FieldError struct {
	Field string
	Rule  string
	Value string
}

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	Fields   []FieldError
	Problems []string
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Fields) > 0 || len(e.Problems) > 0
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")

	if len(e.Fields) > 0 {
		sb.WriteString("\nInvalid fields:\n")
		for _, f := range e.Fields {
			sb.WriteString(fmt.Sprintf("  - %s: failed %q (got %q)\n", f.Field, f.Rule, f.Value))
		}
	}

	if len(e.Problems) > 0 {
		sb.WriteString("\nProblems:\n")
		for _, p := range e.Problems {
			sb.WriteString(fmt.Sprintf("  - %s\n", p))
		}
	}

	return sb.String()
}

func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs.Fields = append(errs.Fields, FieldError{
				Field: fe.Namespace(),
				Rule:  fe.Tag(),
				Value: fmt.Sprintf("%v", fe.Value()),
			})
		}
	}

	if Backend(c.Store.Backend) == BackendPostgres && c.Store.DSN == "" {
		errs.Problems = append(errs.Problems, "store.dsn is required for the postgres backend (set ZEROGEX_STORE_DSN or DATABASE_URL)")
	}
	if Backend(c.Store.Backend) == BackendFile && c.Store.Directory == "" {
		errs.Problems = append(errs.Problems, "store.directory is required for the file backend")
	}
	if _, err := time.LoadLocation(c.GEX.Timezone); err != nil {
		errs.Problems = append(errs.Problems, fmt.Sprintf("unknown timezone %q", c.GEX.Timezone))
	}
	if _, err := c.ExpirationDate(); err != nil {
		errs.Problems = append(errs.Problems, err.Error())
	}
	if c.Scheduler.OpenTime != "" && c.Scheduler.CloseTime != "" && c.Scheduler.OpenTime >= c.Scheduler.CloseTime {
		errs.Problems = append(errs.Problems, "scheduler.open_time must be before scheduler.close_time")
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
