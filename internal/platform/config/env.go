// Package config loads service configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Validator is implemented by configuration structs that check their own
// invariants after the environment has been applied.
type Validator interface {
	Validate() error
}

// ParseEnv loads configuration from environment variables and runs the
// target's Validate method when it has one.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if v, ok := target.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("validate env: %w", err)
		}
	}
	return nil
}

// ParseEnvWithPrefix loads configuration whose env tags omit the shared
// prefix, e.g. `env:"ADDR"` with prefix "MINDTRAIN_TRAINER_".
func ParseEnvWithPrefix(target any, prefix string) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: prefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if v, ok := target.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("validate env: %w", err)
		}
	}
	return nil
}
