package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backends understood by the db package.
const (
	BackendPostgres  = "postgres"
	BackendMySQL     = "mysql"
	BackendSQLServer = "sqlserver"
	BackendSQLite    = "sqlite"
)

// Config is the full probe configuration.
type Config struct {
	Target Target `yaml:"target"`

	// Timeout bounds one probe run, connector setup included.
	Timeout time.Duration `yaml:"timeout"`
	// Interval is the pause between runs in poolprobed.
	Interval time.Duration `yaml:"interval"`
}

// Target is the endpoint under test.
type Target struct {
	Backend     string            `yaml:"backend"`
	Endpoint    string            `yaml:"endpoint"` // host:port, or a file path for sqlite
	Database    string            `yaml:"database"`
	Credentials Credentials       `yaml:"credentials"`
	Params      map[string]string `yaml:"params"`

	// DSN, when set, is passed to the driver as is and the fields above are ignored.
	DSN string `yaml:"dsn"`

	// Pooling toggles driver-side connection reuse.
	Pooling bool `yaml:"pooling"`
	// MaxConns caps the driver pool. Zero keeps the driver default.
	MaxConns int32 `yaml:"max_conns"`
}

type Credentials struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

func Default() *Config {
	return &Config{
		Target: Target{
			Backend: BackendPostgres,
			Pooling: true,
		},
		Timeout:  30 * time.Second,
		Interval: time.Minute,
	}
}

// Load reads path (optional) over the defaults, applies POOLPROBE_* env
// overrides, then each override in order, and validates the result.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	for _, o := range overrides {
		o(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	t := &cfg.Target
	t.Backend = Getenv("POOLPROBE_BACKEND", t.Backend)
	t.Endpoint = Getenv("POOLPROBE_ENDPOINT", t.Endpoint)
	t.Database = Getenv("POOLPROBE_DATABASE", t.Database)
	t.Credentials.User = Getenv("POOLPROBE_USER", t.Credentials.User)
	t.Credentials.Password = Getenv("POOLPROBE_PASSWORD", t.Credentials.Password)
	t.DSN = Getenv("POOLPROBE_DSN", t.DSN)
	t.Pooling = GetenvBool("POOLPROBE_POOLING", t.Pooling)
	cfg.Timeout = GetenvDuration("POOLPROBE_TIMEOUT", cfg.Timeout)
	cfg.Interval = GetenvDuration("POOLPROBE_INTERVAL", cfg.Interval)

	n, err := GetenvInt32("POOLPROBE_MAX_CONNS", t.MaxConns)
	if err != nil {
		return err
	}
	t.MaxConns = n
	return nil
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.Interval <= 0 {
		return errors.New("interval must be positive")
	}
	return c.Target.Validate()
}

func (t Target) Validate() error {
	switch t.Backend {
	case BackendPostgres, BackendMySQL, BackendSQLServer, BackendSQLite:
	default:
		return fmt.Errorf("unsupported backend %q", t.Backend)
	}
	if t.DSN == "" && strings.TrimSpace(t.Endpoint) == "" {
		return errors.New("target needs an endpoint or a dsn")
	}
	if t.MaxConns < 0 {
		return fmt.Errorf("max_conns must not be negative, got %d", t.MaxConns)
	}
	return nil
}

// Getenv returns the value of k, or d when unset or empty.
func Getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

// GetenvInt32 parses k as a 32-bit integer. A set but unparsable or out of
// range value is an error rather than the default.
func GetenvInt32(k string, d int32) (int32, error) {
	v := os.Getenv(k)
	if v == "" {
		return d, nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return int32(n), nil
}

func GetenvBool(k string, d bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return d
}

func GetenvDuration(k string, d time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			return dur
		}
	}
	return d
}
