// Package config loads service configuration from a YAML file with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hyperledger/fabric/common/flogging"
	"gopkg.in/yaml.v3"
)

// EnvPrefix starts every environment override, e.g. ORGREGISTRY_ADDR.
const EnvPrefix = "ORGREGISTRY_"

// Verifier configures the proof verifier service.
type Verifier struct {
	Addr       string `yaml:"addr"`
	LogSpec    string `yaml:"logSpec"`
	VerifierID string `yaml:"verifierId"`
	// VerifyingKeyPath is mandatory: the service refuses to start without it.
	VerifyingKeyPath string `yaml:"verifyingKeyPath"`
	SigningKeyPath   string `yaml:"signingKeyPath"` // PEM, ECDSA P-256
	Workers          int    `yaml:"workers"`
	CacheSize        int    `yaml:"cacheSize"`
}

// Fabric locates the registry chaincode through a gateway connection profile.
type Fabric struct {
	ConnectionProfile string `yaml:"connectionProfile"`
	WalletPath        string `yaml:"walletPath"`
	Identity          string `yaml:"identity"`
	Channel           string `yaml:"channel"`
	Chaincode         string `yaml:"chaincode"`
}

// Redis mirrors the options the indexer passes to go-redis.
type Redis struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"poolSize"`
	MinIdleConns int           `yaml:"minIdleConns"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	KeyPrefix    string        `yaml:"keyPrefix"`
}

// Access configures download-token issuance.
type Access struct {
	SigningKey         string        `yaml:"signingKey"`
	Issuer             string        `yaml:"issuer"`
	TokenTTL           time.Duration `yaml:"tokenTTL"`
	MaxVerificationAge time.Duration `yaml:"maxVerificationAge"`
	// Source is "index" (default) or "ledger".
	Source   string        `yaml:"source"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// Indexer configures the event indexer and the access API it serves.
type Indexer struct {
	Addr    string `yaml:"addr"`
	LogSpec string `yaml:"logSpec"`
	// Store is "redis" (default) or "memory".
	Store  string `yaml:"store"`
	Fabric Fabric `yaml:"fabric"`
	Redis  Redis  `yaml:"redis"`
	Access Access `yaml:"access"`
}

func readYAML(path string, out interface{}) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func envString(name string, dst *string) {
	if v, ok := os.LookupEnv(EnvPrefix + name); ok {
		*dst = v
	}
}

func envInt(name string, dst *int) error {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	*dst = n
	return nil
}

func envDuration(name string, dst *time.Duration) error {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	*dst = d
	return nil
}

// LoadVerifier reads path (optional) and applies ORGREGISTRY_* overrides and defaults.
func LoadVerifier(path string) (*Verifier, error) {
	cfg := &Verifier{
		Addr:       ":8081",
		LogSpec:    "info",
		VerifierID: "verifier-1",
		Workers:    4,
		CacheSize:  1024,
	}
	if err := readYAML(path, cfg); err != nil {
		return nil, err
	}

	envString("ADDR", &cfg.Addr)
	envString("LOG_SPEC", &cfg.LogSpec)
	envString("VERIFIER_ID", &cfg.VerifierID)
	envString("VERIFYING_KEY", &cfg.VerifyingKeyPath)
	envString("SIGNING_KEY", &cfg.SigningKeyPath)
	if err := envInt("WORKERS", &cfg.Workers); err != nil {
		return nil, err
	}
	if err := envInt("CACHE_SIZE", &cfg.CacheSize); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Verifier) Validate() error {
	var errs []error
	if c.VerifyingKeyPath == "" {
		errs = append(errs, errors.New("verifyingKeyPath is required"))
	}
	if c.SigningKeyPath == "" {
		errs = append(errs, errors.New("signingKeyPath is required"))
	}
	if c.VerifierID == "" {
		errs = append(errs, errors.New("verifierId is required"))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if c.CacheSize <= 0 {
		errs = append(errs, fmt.Errorf("cacheSize must be positive, got %d", c.CacheSize))
	}
	return errors.Join(errs...)
}

// LoadIndexer reads path (optional) and applies ORGREGISTRY_* overrides and defaults.
func LoadIndexer(path string) (*Indexer, error) {
	cfg := &Indexer{
		Addr:    ":8082",
		LogSpec: "info",
		Store:   "redis",
		Fabric: Fabric{
			Identity:  "appUser",
			Channel:   "mychannel",
			Chaincode: "orgregistry",
		},
		Redis: Redis{
			URL:          "redis://localhost:6379/0",
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			KeyPrefix:    "orgregistry:",
		},
		Access: Access{
			Issuer:             "orgregistry-access",
			TokenTTL:           5 * time.Minute,
			MaxVerificationAge: time.Hour,
			Source:             "index",
			CacheTTL:           30 * time.Second,
		},
	}
	if err := readYAML(path, cfg); err != nil {
		return nil, err
	}

	envString("ADDR", &cfg.Addr)
	envString("LOG_SPEC", &cfg.LogSpec)
	envString("STORE", &cfg.Store)
	envString("FABRIC_CONNECTION_PROFILE", &cfg.Fabric.ConnectionProfile)
	envString("FABRIC_WALLET", &cfg.Fabric.WalletPath)
	envString("FABRIC_IDENTITY", &cfg.Fabric.Identity)
	envString("FABRIC_CHANNEL", &cfg.Fabric.Channel)
	envString("FABRIC_CHAINCODE", &cfg.Fabric.Chaincode)
	envString("REDIS_URL", &cfg.Redis.URL)
	envString("ACCESS_SIGNING_KEY", &cfg.Access.SigningKey)
	envString("ACCESS_SOURCE", &cfg.Access.Source)
	if err := envInt("REDIS_POOL_SIZE", &cfg.Redis.PoolSize); err != nil {
		return nil, err
	}
	if err := envDuration("ACCESS_TOKEN_TTL", &cfg.Access.TokenTTL); err != nil {
		return nil, err
	}
	if err := envDuration("ACCESS_MAX_VERIFICATION_AGE", &cfg.Access.MaxVerificationAge); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Indexer) Validate() error {
	var errs []error
	switch c.Store {
	case "redis":
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis.url is required for the redis store"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if c.Fabric.ConnectionProfile == "" {
		errs = append(errs, errors.New("fabric.connectionProfile is required"))
	}
	if c.Fabric.WalletPath == "" {
		errs = append(errs, errors.New("fabric.walletPath is required"))
	}
	if len(c.Access.SigningKey) < 32 {
		errs = append(errs, errors.New("access.signingKey must be at least 32 bytes"))
	}
	if c.Access.TokenTTL <= 0 || c.Access.MaxVerificationAge <= 0 {
		errs = append(errs, errors.New("access durations must be positive"))
	}
	switch c.Access.Source {
	case "index", "ledger":
	default:
		errs = append(errs, fmt.Errorf("unknown access source %q", c.Access.Source))
	}
	return errors.Join(errs...)
}

// ActivateLogging applies a flogging spec such as "info" or "orgregistry.indexer=debug:info".
func ActivateLogging(spec string) error {
	if spec == "" {
		return nil
	}
	if err := flogging.Global.ActivateSpec(spec); err != nil {
		return fmt.Errorf("invalid log spec %q: %w", spec, err)
	}
	return nil
}
