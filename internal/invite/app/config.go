package app

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/northbridgehq/gatepass/pkg/jwtx"
)

// Key provisioning modes. "ephemeral" must be asked for by name; it is never
// a fallback when key material is missing.
const (
	KeyModeFile      = "file"
	KeyModeStore     = "store"
	KeyModeEphemeral = "ephemeral"
)

// Config is the full engine configuration, parsed from environment
// variables. CLI flags only carry per-command inputs.
type Config struct {
	Issuer   string   `env:"GATEPASS_ISSUER" envDefault:"gatepass"`
	Audience []string `env:"GATEPASS_AUDIENCE" envDefault:"supplier-portal"`
	BaseURL  string   `env:"GATEPASS_BASE_URL" envDefault:"https://localhost:8443/onboard"`

	DatabaseFile string `env:"GATEPASS_DATABASE_FILE" envDefault:"gatepass.db"`

	// Key provisioning.
	KeyMode        string        `env:"GATEPASS_KEY_MODE" envDefault:"file"`
	KeyDir         string        `env:"GATEPASS_KEY_DIR" envDefault:"./keys"`
	KeyWatch       bool          `env:"GATEPASS_KEY_WATCH" envDefault:"true"`
	Algorithm      string        `env:"GATEPASS_ALGORITHM" envDefault:"RS256"`
	RSABits        int           `env:"GATEPASS_RSA_BITS" envDefault:"2048"`
	NumKeys        int           `env:"GATEPASS_NUM_KEYS" envDefault:"1"`
	KeyGracePeriod time.Duration `env:"GATEPASS_KEY_GRACE_PERIOD" envDefault:"720h"`
	MasterKeyPath  string        `env:"GATEPASS_MASTER_KEY_PATH"`
	MasterKey      string        `env:"GATEPASS_MASTER_KEY"`

	// Issuance policy.
	DefaultExpiryDays int `env:"GATEPASS_DEFAULT_EXPIRY_DAYS" envDefault:"7"`
	MinExpiryDays     int `env:"GATEPASS_MIN_EXPIRY_DAYS" envDefault:"1"`
	MaxExpiryDays     int `env:"GATEPASS_MAX_EXPIRY_DAYS" envDefault:"30"`

	// Validation policy.
	MaxValidationAttempts int `env:"GATEPASS_MAX_VALIDATION_ATTEMPTS" envDefault:"5"`

	// Creation quota per actor. Zero disables.
	CreationLimit       int           `env:"GATEPASS_CREATION_LIMIT" envDefault:"50"`
	CreationLimitWindow time.Duration `env:"GATEPASS_CREATION_LIMIT_WINDOW" envDefault:"1h"`

	// Sweeper. Zero disables the background worker.
	SweepInterval time.Duration `env:"GATEPASS_SWEEP_INTERVAL" envDefault:"1h"`

	Env       string `env:"GATEPASS_ENV" envDefault:"dev"`
	LogLevel  string `env:"GATEPASS_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"GATEPASS_LOG_FORMAT" envDefault:"json"`
}

// LoadConfig parses the environment and validates the result.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run safely with.
func (c Config) Validate() error {
	switch c.KeyMode {
	case KeyModeFile, KeyModeStore, KeyModeEphemeral:
	default:
		return fmt.Errorf("invalid key mode %q (file, store, ephemeral)", c.KeyMode)
	}

	switch c.Algorithm {
	case jwtx.AlgorithmRS256, jwtx.AlgorithmES256, jwtx.AlgorithmEdDSA:
	default:
		return fmt.Errorf("unsupported algorithm %q", c.Algorithm)
	}

	if c.Algorithm == jwtx.AlgorithmRS256 && c.RSABits < 2048 {
		return fmt.Errorf("RSA keys must be at least 2048 bits, got %d", c.RSABits)
	}

	if c.KeyMode == KeyModeFile && c.KeyDir == "" {
		return fmt.Errorf("key dir is required in file key mode")
	}
	if c.KeyMode == KeyModeStore && c.MasterKeyPath == "" && c.MasterKey == "" {
		return fmt.Errorf("store key mode requires a master secret (GATEPASS_MASTER_KEY or GATEPASS_MASTER_KEY_PATH)")
	}

	if c.MinExpiryDays < 1 || c.MaxExpiryDays < c.MinExpiryDays {
		return fmt.Errorf("invalid expiry bounds [%d, %d]", c.MinExpiryDays, c.MaxExpiryDays)
	}
	if c.DefaultExpiryDays < c.MinExpiryDays || c.DefaultExpiryDays > c.MaxExpiryDays {
		return fmt.Errorf("default expiry %d outside bounds [%d, %d]",
			c.DefaultExpiryDays, c.MinExpiryDays, c.MaxExpiryDays)
	}

	if c.MaxValidationAttempts < 1 {
		return fmt.Errorf("max validation attempts must be at least 1, got %d", c.MaxValidationAttempts)
	}

	return nil
}
