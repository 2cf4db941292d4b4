package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Bloque app (opcional en YAML). Si no está, queda vacío.
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Keys struct {
		// EdDSA | RS256
		Algorithm string `yaml:"algorithm"`
		RSABits   int    `yaml:"rsa_bits"`

		RotationInterval string `yaml:"rotation_interval"` // ej: "168h"
		OverlapWindow    string `yaml:"overlap_window"`    // ej: "24h"
		SweepInterval    string `yaml:"sweep_interval"`    // ej: "5m"
		MaxActiveKeys    int    `yaml:"max_active_keys"`

		// memory | fs | postgres
		Store string `yaml:"store"`
		FSDir string `yaml:"fs_dir"`
		DSN   string `yaml:"dsn"`
	} `yaml:"keys"`

	Token struct {
		Issuer   string `yaml:"issuer"`
		Audience string `yaml:"audience"`
		TTL      string `yaml:"ttl"` // ej: "30m"
	} `yaml:"token"`

	Revocation struct {
		// memory | redis
		Driver string `yaml:"driver"`
		Redis  struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
		Timeout string `yaml:"timeout"` // ej: "150ms"
		// closed | open: qué hacer si el backend de revocación no responde
		FailMode string `yaml:"fail_mode"`
	} `yaml:"revocation"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Load lee el YAML, aplica overrides de ENV y valida.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv pisa valores del YAML con variables KEYWARDEN_*.
func (c *Config) applyEnv() {
	c.App.Env = getenv("KEYWARDEN_ENV", c.App.Env)
	c.Server.Addr = getenv("KEYWARDEN_ADDR", c.Server.Addr)

	c.Keys.Algorithm = getenv("KEYWARDEN_KEYS_ALGORITHM", c.Keys.Algorithm)
	c.Keys.RSABits = getenvInt("KEYWARDEN_KEYS_RSA_BITS", c.Keys.RSABits)
	c.Keys.RotationInterval = getenv("KEYWARDEN_KEYS_ROTATION_INTERVAL", c.Keys.RotationInterval)
	c.Keys.OverlapWindow = getenv("KEYWARDEN_KEYS_OVERLAP_WINDOW", c.Keys.OverlapWindow)
	c.Keys.SweepInterval = getenv("KEYWARDEN_KEYS_SWEEP_INTERVAL", c.Keys.SweepInterval)
	c.Keys.MaxActiveKeys = getenvInt("KEYWARDEN_KEYS_MAX_ACTIVE", c.Keys.MaxActiveKeys)
	c.Keys.Store = getenv("KEYWARDEN_KEYS_STORE", c.Keys.Store)
	c.Keys.FSDir = getenv("KEYWARDEN_KEYS_FS_DIR", c.Keys.FSDir)
	c.Keys.DSN = getenv("KEYWARDEN_KEYS_DSN", c.Keys.DSN)

	c.Token.Issuer = getenv("KEYWARDEN_TOKEN_ISSUER", c.Token.Issuer)
	c.Token.Audience = getenv("KEYWARDEN_TOKEN_AUDIENCE", c.Token.Audience)
	c.Token.TTL = getenv("KEYWARDEN_TOKEN_TTL", c.Token.TTL)

	c.Revocation.Driver = getenv("KEYWARDEN_REVOCATION_DRIVER", c.Revocation.Driver)
	c.Revocation.Redis.Addr = getenv("KEYWARDEN_REDIS_ADDR", c.Revocation.Redis.Addr)
	c.Revocation.Redis.Password = getenv("KEYWARDEN_REDIS_PASSWORD", c.Revocation.Redis.Password)
	c.Revocation.Redis.DB = getenvInt("KEYWARDEN_REDIS_DB", c.Revocation.Redis.DB)
	c.Revocation.Redis.Prefix = getenv("KEYWARDEN_REDIS_PREFIX", c.Revocation.Redis.Prefix)
	c.Revocation.Timeout = getenv("KEYWARDEN_REVOCATION_TIMEOUT", c.Revocation.Timeout)
	c.Revocation.FailMode = getenv("KEYWARDEN_REVOCATION_FAIL_MODE", c.Revocation.FailMode)

	c.Log.Level = getenv("KEYWARDEN_LOG_LEVEL", c.Log.Level)
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Keys.Algorithm == "" {
		c.Keys.Algorithm = "EdDSA"
	}
	if c.Keys.RSABits == 0 {
		c.Keys.RSABits = 2048
	}
	if c.Keys.RotationInterval == "" {
		c.Keys.RotationInterval = "168h" // semanal
	}
	if c.Keys.OverlapWindow == "" {
		c.Keys.OverlapWindow = "24h"
	}
	if c.Keys.SweepInterval == "" {
		c.Keys.SweepInterval = "5m"
	}
	if c.Keys.MaxActiveKeys == 0 {
		c.Keys.MaxActiveKeys = 3
	}
	if c.Keys.Store == "" {
		c.Keys.Store = "memory"
	}
	if c.Keys.FSDir == "" {
		c.Keys.FSDir = "./data/keys"
	}
	if c.Token.TTL == "" {
		c.Token.TTL = "30m"
	}
	if c.Revocation.Driver == "" {
		c.Revocation.Driver = "memory"
	}
	if c.Revocation.Redis.Prefix == "" {
		c.Revocation.Redis.Prefix = "kw"
	}
	if c.Revocation.Timeout == "" {
		c.Revocation.Timeout = "150ms"
	}
	if c.Revocation.FailMode == "" {
		c.Revocation.FailMode = "closed"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate chequea coherencia mínima antes de arrancar.
func (c *Config) Validate() error {
	switch c.Keys.Algorithm {
	case "EdDSA", "RS256":
	default:
		return fmt.Errorf("config: keys.algorithm %q no soportado (EdDSA|RS256)", c.Keys.Algorithm)
	}
	if c.Keys.Algorithm == "RS256" && c.Keys.RSABits < 2048 {
		return fmt.Errorf("config: keys.rsa_bits %d muy chico (mínimo 2048)", c.Keys.RSABits)
	}
	switch c.Keys.Store {
	case "memory", "fs", "postgres":
	default:
		return fmt.Errorf("config: keys.store %q no soportado (memory|fs|postgres)", c.Keys.Store)
	}
	if c.Keys.Store == "postgres" && c.Keys.DSN == "" {
		return fmt.Errorf("config: keys.store=postgres requiere keys.dsn")
	}
	switch c.Revocation.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: revocation.driver %q no soportado (memory|redis)", c.Revocation.Driver)
	}
	switch c.Revocation.FailMode {
	case "closed", "open":
	default:
		return fmt.Errorf("config: revocation.fail_mode %q no soportado (closed|open)", c.Revocation.FailMode)
	}
	if c.Keys.MaxActiveKeys < 1 {
		return fmt.Errorf("config: keys.max_active_keys debe ser >= 1")
	}
	if c.Token.Issuer == "" {
		return fmt.Errorf("config: token.issuer es obligatorio")
	}
	if c.Token.Audience == "" {
		return fmt.Errorf("config: token.audience es obligatorio")
	}

	// Las duraciones se validan parseando
	for name, v := range map[string]string{
		"keys.rotation_interval": c.Keys.RotationInterval,
		"keys.overlap_window":    c.Keys.OverlapWindow,
		"keys.sweep_interval":    c.Keys.SweepInterval,
		"token.ttl":              c.Token.TTL,
		"revocation.timeout":     c.Revocation.Timeout,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("config: %s=%q inválido: %w", name, v, err)
		}
	}
	return nil
}

// ─── Accessors con duración ya parseada (Validate garantiza que no fallan) ───

func (c *Config) RotationInterval() time.Duration { return mustDur(c.Keys.RotationInterval) }
func (c *Config) OverlapWindow() time.Duration    { return mustDur(c.Keys.OverlapWindow) }
func (c *Config) SweepInterval() time.Duration    { return mustDur(c.Keys.SweepInterval) }
func (c *Config) TokenTTL() time.Duration         { return mustDur(c.Token.TTL) }
func (c *Config) RevocationTimeout() time.Duration {
	return mustDur(c.Revocation.Timeout)
}

func mustDur(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
