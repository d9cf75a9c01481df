// Package config provides layered configuration loading for linkvault.
// It merges Defaults -> Environment Variables, with validation. Command
// line flags are applied on top by the cmd package.
package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment variable names before they are
// lower-cased into config keys, e.g. LINKVAULT_MAX_TTL -> max_ttl.
const EnvPrefix = "LINKVAULT_"

// Config holds the merged runtime configuration.
type Config struct {
	Addr    string `koanf:"addr" validate:"required,ip_port"`
	DataDir string `koanf:"data_dir" validate:"required,safe_path"`

	StoreDriver string `koanf:"store_driver" validate:"oneof=sqlite postgres"`
	PostgresDSN string `koanf:"postgres_dsn"`

	BlobDriver  string `koanf:"blob_driver" validate:"oneof=filesystem s3"`
	S3Bucket    string `koanf:"s3_bucket"`
	S3Region    string `koanf:"s3_region"`
	S3Endpoint  string `koanf:"s3_endpoint" validate:"omitempty,url"`
	S3AccessKey string `koanf:"s3_access_key"`
	S3SecretKey string `koanf:"s3_secret_key"`
	S3Prefix    string `koanf:"s3_prefix"`

	MaxTextBytes ByteSize      `koanf:"max_text_bytes" validate:"gt=0"`
	MaxFileBytes ByteSize      `koanf:"max_file_bytes" validate:"gt=0"`
	DefaultTTL   time.Duration `koanf:"default_ttl" validate:"gt=0"`
	MaxTTL       time.Duration `koanf:"max_ttl" validate:"gt=0"`

	SweepInterval time.Duration `koanf:"sweep_interval" validate:"gt=0"`
	OrphanGrace   time.Duration `koanf:"orphan_grace" validate:"gte=0"`
	BcryptCost    int           `koanf:"bcrypt_cost" validate:"min=4,max=31"`

	JWTSecret    string `koanf:"jwt_secret"`
	MetricsToken string `koanf:"metrics_token"`

	LogLevel  string `koanf:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `koanf:"log_format" validate:"oneof=json text pretty"`
}

// DefaultAppConfig is the lowest configuration layer.
var DefaultAppConfig = Config{
	Addr:          ":8080",
	DataDir:       "./data",
	StoreDriver:   "sqlite",
	BlobDriver:    "filesystem",
	S3Region:      "us-east-1",
	S3Prefix:      "blobs/",
	MaxTextBytes:  1_000_000,
	MaxFileBytes:  50 << 20, // 50 MiB
	DefaultTTL:    10 * time.Minute,
	MaxTTL:        7 * 24 * time.Hour,
	SweepInterval: time.Minute,
	OrphanGrace:   time.Hour,
	BcryptCost:    10,
	LogLevel:      "info",
	LogFormat:     "json",
}

// layer loaders are variables so tests can force failures.
var (
	defaultLoader = func(k *koanf.Koanf) error {
		return k.Load(structs.Provider(DefaultAppConfig, "koanf"), nil)
	}
	envLoader = func(k *koanf.Koanf) error {
		return k.Load(env.Provider(".", env.Opt{
			Prefix: EnvPrefix,
			TransformFunc: func(key, value string) (string, any) {
				return strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), value
			},
		}), nil)
	}
	registerValidators = func(v *validator.Validate) error {
		if err := v.RegisterValidation("ip_port", validIPPort); err != nil {
			return err
		}
		return v.RegisterValidation("safe_path", validSafePath)
	}
)

// Load builds the configuration from defaults overlaid by LINKVAULT_*
// environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				StringToByteSize(),
			),
			WeaklyTypedInput: true,
			Result:           &cfg,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate runs the struct tag rules and the cross-field checks.
func (c *Config) Validate() error {
	v := validator.New()
	if err := registerValidators(v); err != nil {
		return fmt.Errorf("register validators: %w", err)
	}
	if err := v.Struct(c); err != nil {
		return err
	}
	if c.DefaultTTL > c.MaxTTL {
		return errors.New("default_ttl must not exceed max_ttl")
	}
	if c.StoreDriver == "postgres" && c.PostgresDSN == "" {
		return errors.New("postgres_dsn is required when store_driver is postgres")
	}
	if c.BlobDriver == "s3" && c.S3Bucket == "" {
		return errors.New("s3_bucket is required when blob_driver is s3")
	}
	return nil
}

// SQLiteDSN returns the DSN of the SQLite database kept in DataDir.
func (c *Config) SQLiteDSN() string {
	return "file:" + filepath.Join(c.DataDir, "linkvault.db") +
		"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_synchronous=FULL"
}

// BlobDir is where the filesystem blob store keeps payloads.
func (c *Config) BlobDir() string {
	return filepath.Join(c.DataDir, "blobs")
}

// validIPPort accepts "host:port" where host is empty or a literal IP and
// port is in 1..65535.
func validIPPort(fl validator.FieldLevel) bool {
	addr := fl.Field().String()
	if addr == "" || strings.ContainsAny(addr, " \t\n") {
		return false
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host != "" && net.ParseIP(host) == nil {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 1 && n <= 65535
}

// validSafePath rejects empty paths, the filesystem root, the current
// directory and any path with a ".." element.
func validSafePath(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	if strings.TrimSpace(p) == "" {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(p), "/") {
		if part == ".." {
			return false
		}
	}
	clean := filepath.Clean(p)
	return clean != "." && clean != string(filepath.Separator)
}
