package config

import (
	"errors"
	"fmt"
	"strings"
)

// FatalError reports configuration the process cannot run with.
type FatalError struct {
	Problems []string
}

func (e *FatalError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// IsFatal reports whether err is, or wraps, a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// Validate checks everything a batch needs before it starts. It returns a
// *FatalError listing every problem, or nil.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	base := strings.ToUpper(strings.TrimSpace(c.Currency.Base))
	foreign := strings.ToUpper(strings.TrimSpace(c.Currency.Foreign))
	switch {
	case base == "":
		add("currency.base is required")
	case base == foreign:
		add("currency.foreign must differ from currency.base (%s)", base)
	}
	if foreign != "" && c.Currency.RateSymbol == "" {
		add("currency.rate_symbol is required when currency.foreign is set")
	}
	if c.Currency.LookbackDays < MinLookbackDays {
		add("currency.lookback_days must be at least %d, got %d", MinLookbackDays, c.Currency.LookbackDays)
	}
	if c.Validation.Tolerance <= 0 {
		add("validation.tolerance must be positive")
	}

	switch c.Extraction.Backend {
	case BackendGemini:
		if c.APIKey() == "" {
			add("environment variable %s is not set (extraction.api_key_env)", c.Extraction.APIKeyEnv)
		}
	case BackendVertex:
		if c.Extraction.Project == "" {
			add("extraction.project is required for the vertex backend")
		}
		if c.Extraction.Location == "" {
			add("extraction.location is required for the vertex backend")
		}
	default:
		add("unknown extraction.backend %q (want %s or %s)", c.Extraction.Backend, BackendGemini, BackendVertex)
	}
	if c.Extraction.Model == "" {
		add("extraction.model is required (use %q to discover one)", ModelAuto)
	}
	if c.Extraction.TimeoutSeconds <= 0 {
		add("extraction.timeout_seconds must be positive")
	}
	if c.Extraction.RequestsPerSecond <= 0 {
		add("extraction.requests_per_second must be positive")
	}
	if c.Extraction.Concurrency < 1 {
		add("extraction.concurrency must be at least 1")
	}
	if c.Rates.TimeoutSeconds <= 0 {
		add("rates.timeout_seconds must be positive")
	}

	if len(problems) > 0 {
		return &FatalError{Problems: problems}
	}
	return nil
}
