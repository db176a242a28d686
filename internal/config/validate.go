package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a single configuration validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation error: %s: %s", e.Field, e.Message)
}

// ValidationResult collects validation errors across the whole config.
type ValidationResult struct {
	Errors []*ValidationError
}

// Valid reports whether no validation errors were collected.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) Error() string {
	if r.Valid() {
		return ""
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) add(field, message string) {
	r.Errors = append(r.Errors, &ValidationError{Field: field, Message: message})
}

// Validate checks invariants Load cannot enforce through types alone:
// every disabled or consent-required capability must also be known, and
// the reason budget must be strictly positive.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{Errors: make([]*ValidationError, 0)}

	known := make(map[string]bool, len(c.Kernel.KnownCapabilities))
	for _, cap := range c.Kernel.KnownCapabilities {
		known[cap] = true
	}
	for _, cap := range c.Kernel.DisabledCapabilities {
		if !known[cap] {
			result.add("kernel.disabled_capabilities", fmt.Sprintf("%q is not a known capability", cap))
		}
	}
	for _, cap := range c.Kernel.ConsentRequiredCapabilities {
		if !known[cap] {
			result.add("kernel.consent_required_capabilities", fmt.Sprintf("%q is not a known capability", cap))
		}
	}

	if c.Store.MaxArtifactBytes < 0 {
		result.add("store.max_artifact_bytes", "must be >= 0 (0 = unlimited)")
	}

	if c.Determinism.ReasonBudget <= 0 {
		result.add("determinism.reason_budget", "must be > 0")
	}

	if c.SecretZone.ConsentTimeout <= 0 {
		result.add("secret_zone.consent_timeout", "must be > 0")
	}

	switch c.Telemetry.LogLevel {
	case "debug", "info", "warn", "error", "fatal":
	default:
		result.add("telemetry.log_level", "must be one of debug, info, warn, error, fatal")
	}

	return result
}
