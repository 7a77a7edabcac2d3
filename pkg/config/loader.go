// Package config loads service configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Validator is implemented by configurations with invariants beyond what
// struct tags express.
type Validator interface {
	Validate() error
}

// Load fills a T from `env`/`envDefault` tags and runs its Validate method
// when T implements Validator.
func Load[T any]() (*T, error) {
	cfg := new(T)
	if err := env.ParseWithOptions(cfg, env.Options{}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if v, ok := any(cfg).(Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	}
	return cfg, nil
}
