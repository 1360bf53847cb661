package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/spachava753/deployeval/internal/models"
)

// NewValidator returns a validator that reports fields by their settings key.
func NewValidator() *validator.Validate {
	validate := validator.New()

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return validate
}

// Validate checks a normalized Settings value.
func Validate(cfg models.Settings) error {
	var problems []string

	if err := NewValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validating settings: %w", err)
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}

	if len(cfg.Metrics) != len(cfg.Tasks) {
		problems = append(problems, fmt.Sprintf("metrics: expected %d entries to match tasks, got %d", len(cfg.Tasks), len(cfg.Metrics)))
	}
	if len(cfg.MetricsFilter) != len(cfg.Tasks) {
		problems = append(problems, fmt.Sprintf("metrics_filter: expected %d entries to match tasks, got %d", len(cfg.Tasks), len(cfg.MetricsFilter)))
	}
	if cfg.PollInterval.Duration <= 0 {
		problems = append(problems, "poll_interval: must be positive")
	}
	if cfg.RequestTimeout.Duration <= 0 {
		problems = append(problems, "request_timeout: must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid settings: %s", strings.Join(problems, "; "))
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Settings.")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s: is required", field)
	case "url":
		return fmt.Sprintf("%s: %q is not a valid URL", field, fe.Value())
	case "min":
		return fmt.Sprintf("%s: must be at least %s", field, fe.Param())
	case "unique":
		return fmt.Sprintf("%s: contains duplicates", field)
	case "oneof":
		return fmt.Sprintf("%s: must be one of [%s], got %q", field, fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s: failed %q check", field, fe.Tag())
	}
}
