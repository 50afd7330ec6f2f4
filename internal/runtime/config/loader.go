package config

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	errspkg "github.com/drblury/restbridge/internal/runtime/errors"
)

// EnvPrefix is prepended to every environment key, e.g. RESTBRIDGE_INPUT_TOPIC.
const EnvPrefix = "RESTBRIDGE"

// Load reads the configuration once at startup:
//  1. a .env file in the working directory is loaded if present (existing
//     variables win);
//  2. envconfig populates the struct from RESTBRIDGE_* variables and defaults;
//  3. struct tags are checked with go-playground/validator;
//  4. Validate runs the cross-field checks.
//
// Any failure in steps 3 or 4 is returned as a ConfigValidationError.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return loadFromEnv()
}

func loadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}
	return &cfg, nil
}

// IsValidationError reports whether err came from configuration validation
// rather than from parsing the environment.
func IsValidationError(err error) bool {
	var cfgErr errspkg.ConfigValidationError
	return errors.As(err, &cfgErr)
}
