package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const EnvPrefix = "GAMELIB"

const (
	EnvAppEnv         = "GAMELIB_APP_ENV"
	EnvLogLevel       = "GAMELIB_LOG_LEVEL"
	EnvLogFormat      = "GAMELIB_LOG_FORMAT"
	EnvLogWarnStack   = "GAMELIB_LOG_WARN_STACK"
	EnvDBPath         = "GAMELIB_DB_PATH"
	EnvDBBusyTimeout  = "GAMELIB_DB_BUSY_TIMEOUT"
	EnvAccessLoanDays = "GAMELIB_ACCESS_LOAN_DAYS"
	EnvUPCMaxAttempts = "GAMELIB_UPC_MAX_ATTEMPTS"
	EnvBcryptCost     = "GAMELIB_BCRYPT_COST"
)

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

// bcrypt accepts costs in [4, 31].
const (
	minBcryptCost = 4
	maxBcryptCost = 31
)

type Config struct {
	App     AppConfig
	DB      DBConfig
	Loans   LoanConfig
	Catalog CatalogConfig
	Auth    AuthConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"GAMELIB_APP_ENV" default:"dev"`
	LogLevel     string `envconfig:"GAMELIB_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"GAMELIB_LOG_FORMAT" default:"console"`
	LogWarnStack bool   `envconfig:"GAMELIB_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	Path        string        `envconfig:"GAMELIB_DB_PATH" default:"library.db"`
	BusyTimeout time.Duration `envconfig:"GAMELIB_DB_BUSY_TIMEOUT" default:"5s"`
}

type LoanConfig struct {
	// AccessLoanDays is the duration of loans created when a collection
	// access request is approved.
	AccessLoanDays int `envconfig:"GAMELIB_ACCESS_LOAN_DAYS" default:"14"`
}

type CatalogConfig struct {
	UPCMaxAttempts int `envconfig:"GAMELIB_UPC_MAX_ATTEMPTS" default:"10"`
}

type AuthConfig struct {
	BcryptCost int `envconfig:"GAMELIB_BCRYPT_COST" default:"10"`
}

var allowedLoanDays = []int{7, 14, 21, 28}

func (c *Config) validate() error {
	if strings.TrimSpace(c.DB.Path) == "" {
		return fmt.Errorf("%s must not be empty", EnvDBPath)
	}
	if c.DB.BusyTimeout < 0 {
		return fmt.Errorf("%s must not be negative", EnvDBBusyTimeout)
	}
	validDays := false
	for _, d := range allowedLoanDays {
		if c.Loans.AccessLoanDays == d {
			validDays = true
			break
		}
	}
	if !validDays {
		return fmt.Errorf("%s must be one of %v, got %d", EnvAccessLoanDays, allowedLoanDays, c.Loans.AccessLoanDays)
	}
	if c.Catalog.UPCMaxAttempts < 1 {
		return fmt.Errorf("%s must be at least 1", EnvUPCMaxAttempts)
	}
	if c.Auth.BcryptCost < minBcryptCost || c.Auth.BcryptCost > maxBcryptCost {
		return fmt.Errorf("%s must be between %d and %d", EnvBcryptCost, minBcryptCost, maxBcryptCost)
	}
	switch strings.ToLower(c.App.LogFormat) {
	case "json", "console":
	default:
		return fmt.Errorf("%s must be json or console", EnvLogFormat)
	}
	return nil
}
