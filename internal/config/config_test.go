package config

import (
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	assert.EqualValues(t, DefaultAppConfig, *cfg)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LINKVAULT_ADDR", "127.0.0.1:9090")
	t.Setenv("LINKVAULT_MAX_FILE_BYTES", "2MiB")
	t.Setenv("LINKVAULT_MAX_TEXT_BYTES", "4096")
	t.Setenv("LINKVAULT_DEFAULT_TTL", "30m")
	t.Setenv("LINKVAULT_BCRYPT_COST", "12")
	t.Setenv("LINKVAULT_BLOB_DRIVER", "s3")
	t.Setenv("LINKVAULT_S3_BUCKET", "vault")
	t.Setenv("LINKVAULT_LOG_FORMAT", "pretty")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", cfg.Addr)
	assert.EqualValues(t, 2<<20, cfg.MaxFileBytes)
	assert.EqualValues(t, 4096, cfg.MaxTextBytes)
	assert.Equal(t, 30*time.Minute, cfg.DefaultTTL)
	assert.Equal(t, 12, cfg.BcryptCost)
	assert.Equal(t, "s3", cfg.BlobDriver)
	assert.Equal(t, "vault", cfg.S3Bucket)
	assert.Equal(t, "pretty", cfg.LogFormat)
}

func TestBadEnvValues(t *testing.T) {
	cases := map[string]string{
		"LINKVAULT_MAX_FILE_BYTES": "lots",
		"LINKVAULT_MAX_TTL":        "forever",
		"LINKVAULT_STORE_DRIVER":   "mysql",
		"LINKVAULT_LOG_LEVEL":      "verbose",
		"LINKVAULT_BCRYPT_COST":    "2",
		"LINKVAULT_SWEEP_INTERVAL": "0s",
	}
	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv(k, v)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestValidPaths(t *testing.T) {
	valid := []string{
		"data",
		"/var/lib/linkvault",
		"./data",
		"relative/path/to/data",
		"nested/dir/structure",
	}
	for _, p := range valid {
		t.Setenv("LINKVAULT_DATA_DIR", p)
		cfg, err := Load()
		if err != nil {
			t.Errorf("expected valid path %q, got error: %v", p, err)
			continue
		}
		if cfg.DataDir != p {
			t.Errorf("expected DataDir %q, got %q", p, cfg.DataDir)
		}
	}
}

func TestInvalidPaths(t *testing.T) {
	invalid := []string{
		"",
		".",
		"/",
		"//",
		"../data",
		"data/..",
		"data/../../../etc",
	}
	for _, p := range invalid {
		t.Setenv("LINKVAULT_DATA_DIR", p)
		_, err := Load()
		if err == nil {
			t.Errorf("expected error for invalid path %q, got nil", p)
			continue
		}
	}
}

func TestValidIPPort(t *testing.T) {
	type sample struct {
		Addr string `validate:"ip_port"`
	}

	v := validator.New()
	if err := v.RegisterValidation("ip_port", validIPPort); err != nil {
		t.Fatalf("register validation: %v", err)
	}

	tests := []struct {
		name  string
		addr  string
		valid bool
	}{
		{name: "empty", addr: "", valid: false},
		{name: "missing_port", addr: "127.0.0.1", valid: false},
		{name: "missing_port_after_colon", addr: "127.0.0.1:", valid: false},
		{name: "just_colon_port", addr: ":8080", valid: true},
		{name: "loopback_ipv4", addr: "127.0.0.1:8080", valid: true},
		{name: "any_ipv4_low_port", addr: "0.0.0.0:1", valid: true},
		{name: "ipv6_loopback", addr: "[::1]:8080", valid: true},
		{name: "ipv6_any", addr: "[::]:443", valid: true},
		{name: "unbracketed_ipv6", addr: "::1:8080", valid: false},
		{name: "hostname_not_ip", addr: "localhost:8080", valid: false},
		{name: "invalid_host_chars", addr: "not_an_ip!:80", valid: false},
		{name: "non_numeric_port", addr: "127.0.0.1:http", valid: false},
		{name: "port_zero", addr: "127.0.0.1:0", valid: false},
		{name: "port_max_valid", addr: "127.0.0.1:65535", valid: true},
		{name: "port_overflow", addr: "127.0.0.1:65536", valid: false},
		{name: "negative_port", addr: "127.0.0.1:-1", valid: false},
		{name: "multi_leading_zero_port", addr: "127.0.0.1:00080", valid: true},
		{name: "space_prefixed", addr: " :8080", valid: false},
		{name: "trailing_space", addr: "127.0.0.1:8080 ", valid: false},
		{name: "embedded_space", addr: "127.0. 0.1:8080", valid: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := sample{Addr: tc.addr}
			err := v.Struct(&s)
			if tc.valid && err != nil {
				t.Fatalf("expected valid, got error: %v", err)
			}
			if !tc.valid && err == nil {
				t.Fatalf("expected error, got nil")
			}
		})
	}
}

func TestSQLiteDSN(t *testing.T) {
	const params = "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_synchronous=FULL"
	tests := []struct {
		name    string
		dataDir string
		path    string
	}{
		{name: "default_config", dataDir: DefaultAppConfig.DataDir, path: "data/linkvault.db"},
		{name: "relative_no_slash", dataDir: "data", path: "data/linkvault.db"},
		{name: "relative_trailing_slash", dataDir: "data/", path: "data/linkvault.db"},
		{name: "absolute_no_slash", dataDir: "/var/lib/linkvault", path: "/var/lib/linkvault/linkvault.db"},
		{name: "absolute_trailing_slash", dataDir: "/var/lib/linkvault/", path: "/var/lib/linkvault/linkvault.db"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{DataDir: tt.dataDir}
			assert.Equal(t, "file:"+tt.path+params, c.SQLiteDSN())
		})
	}
}

func TestLoadDefaultError(t *testing.T) {
	// swap out the defaultLoader to return an error
	orig := defaultLoader
	t.Cleanup(func() { defaultLoader = orig })
	defaultLoader = func(k *koanf.Koanf) error {
		assert.NotNil(t, k)
		return assert.AnError
	}
	_, err := Load()
	if !errors.Is(err, assert.AnError) {
		t.Fatalf("expected assert.AnError, got: %v", err)
	}
}

func TestLoadEnvError(t *testing.T) {
	orig := envLoader
	t.Cleanup(func() { envLoader = orig })
	envLoader = func(k *koanf.Koanf) error {
		assert.NotNil(t, k)
		return assert.AnError
	}
	_, err := Load()
	if !errors.Is(err, assert.AnError) {
		t.Fatalf("expected assert.AnError, got: %v", err)
	}
}

func TestRegisterValidationFails(t *testing.T) {
	orig := registerValidators
	t.Cleanup(func() { registerValidators = orig })
	registerValidators = func(v *validator.Validate) error {
		assert.NotNil(t, v)
		return assert.AnError
	}
	_, err := Load()
	if !errors.Is(err, assert.AnError) {
		t.Fatalf("expected assert.AnError, got: %v", err)
	}
}

func TestBadTTL(t *testing.T) {
	t.Setenv("LINKVAULT_DEFAULT_TTL", "10h")
	t.Setenv("LINKVAULT_MAX_TTL", "5h")
	_, err := Load()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if err.Error() != "default_ttl must not exceed max_ttl" {
		t.Fatalf("expected default/max ttl error, got: %v", err)
	}
}

func TestDriverRequirements(t *testing.T) {
	t.Run("postgres needs dsn", func(t *testing.T) {
		t.Setenv("LINKVAULT_STORE_DRIVER", "postgres")
		_, err := Load()
		assert.EqualError(t, err, "postgres_dsn is required when store_driver is postgres")
		t.Setenv("LINKVAULT_POSTGRES_DSN", "postgres://u:p@localhost/linkvault")
		_, err = Load()
		assert.NoError(t, err)
	})
	t.Run("s3 needs bucket", func(t *testing.T) {
		t.Setenv("LINKVAULT_BLOB_DRIVER", "s3")
		_, err := Load()
		assert.EqualError(t, err, "s3_bucket is required when blob_driver is s3")
	})
}
