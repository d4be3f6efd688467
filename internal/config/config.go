// Package config handles configuration loading for the ebMS message service handler.
//
// Configuration is loaded from a YAML file with support for environment
// variable expansion (${VAR} or $VAR syntax). This allows credentials such
// as the MongoDB URI or the Redis password to be injected at runtime.
//
// # Configuration Sections
//
//   - server: inbound HTTPS listener (address, TLS, client certificates)
//   - client: outbound HTTPS settings (timeouts, trust anchors)
//   - storage: where PModes are kept (memory, file or mongodb) and the read cache
//   - ledger: duplicate detection backend (memory or redis)
//   - engine: spool directory, default PMode and outbound retention
//   - logging: log level and format
//
// # Example Configuration
//
//	server:
//	  address: ":8443"
//	  tls:
//	    certFile: /etc/ssl/msh.crt
//	    keyFile: /etc/ssl/msh.key
//
//	storage:
//	  type: mongodb
//	  mongodb:
//	    uri: ${MONGODB_URI}
//	    database: ebms
//	  cache:
//	    enabled: true
//
//	ledger:
//	  type: redis
//	  redis:
//	    address: ${REDIS_ADDR}
//
// See [Load] for loading configuration from a file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends
const (
	StorageMemory  = "memory"
	StorageFile    = "file"
	StorageMongoDB = "mongodb"
)

// Ledger backends
const (
	LedgerMemory = "memory"
	LedgerRedis  = "redis"
)

// Config is the root configuration structure
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Client  ClientConfig  `yaml:"client"`
	Storage StorageConfig `yaml:"storage"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Engine  EngineConfig  `yaml:"engine"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds the inbound HTTPS listener settings
type ServerConfig struct {
	Address      string        `yaml:"address"`
	Timeout      time.Duration `yaml:"timeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
	MaxBodyBytes int64         `yaml:"maxBodyBytes"`
	TLS          TLSConfig     `yaml:"tls"`
}

// ClientConfig holds the outbound HTTPS settings
type ClientConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxBodyBytes int64         `yaml:"maxBodyBytes"`
	TLS          TLSConfig     `yaml:"tls"`
}

// TLSConfig names PEM files. On the server CAFile holds the accepted client
// certificate issuers; on the client it replaces the system roots.
type TLSConfig struct {
	CertFile          string `yaml:"certFile"`
	KeyFile           string `yaml:"keyFile"`
	CAFile            string `yaml:"caFile"`
	RequireClientCert bool   `yaml:"requireClientCert"`
}

// StorageConfig selects the PMode store
type StorageConfig struct {
	Type    string        `yaml:"type"`
	File    FileConfig    `yaml:"file"`
	MongoDB MongoDBConfig `yaml:"mongodb"`
	Cache   CacheConfig   `yaml:"cache"`
}

// FileConfig holds the YAML PMode document location
type FileConfig struct {
	Path string `yaml:"path"`
}

// MongoDBConfig holds MongoDB connection settings
type MongoDBConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// CacheConfig holds the PMode read cache settings
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled"`
	SizeBytes int           `yaml:"sizeBytes"`
	TTL       time.Duration `yaml:"ttl"`
}

// LedgerConfig selects the duplicate detection backend
type LedgerConfig struct {
	Type string `yaml:"type"`
	// ClaimTTL bounds how long an unfinished claim blocks redeliveries
	ClaimTTL      time.Duration `yaml:"claimTTL"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
	Redis         RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"keyPrefix"`
}

// EngineConfig holds message service handler settings
type EngineConfig struct {
	// TempDir receives spooled attachments; empty uses the system default
	TempDir        string `yaml:"tempDir"`
	DefaultPModeID string `yaml:"defaultPModeId"`
	// Retention is how long finished outbound messages are remembered;
	// zero uses the default duplicate window
	Retention time.Duration `yaml:"retention"`
}

// LoggingConfig holds slog settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes configuration from YAML, expanding environment variables
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used without a config file
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8443"
	}
	if c.Server.Timeout == 0 {
		c.Server.Timeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 90 * time.Second
	}
	if c.Client.Timeout == 0 {
		c.Client.Timeout = 30 * time.Second
	}
	if c.Storage.Type == "" {
		c.Storage.Type = StorageMemory
	}
	if c.Storage.MongoDB.Database == "" {
		c.Storage.MongoDB.Database = "ebms"
	}
	if c.Storage.MongoDB.Collection == "" {
		c.Storage.MongoDB.Collection = "pmodes"
	}
	if c.Storage.Cache.SizeBytes == 0 {
		c.Storage.Cache.SizeBytes = 4 * 1024 * 1024
	}
	if c.Storage.Cache.TTL == 0 {
		c.Storage.Cache.TTL = 5 * time.Minute
	}
	if c.Ledger.Type == "" {
		c.Ledger.Type = LedgerMemory
	}
	if c.Ledger.ClaimTTL == 0 {
		c.Ledger.ClaimTTL = 5 * time.Minute
	}
	if c.Ledger.SweepInterval == 0 {
		c.Ledger.SweepInterval = time.Minute
	}
	if c.Ledger.Redis.KeyPrefix == "" {
		c.Ledger.Redis.KeyPrefix = "ebms:dedup:"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func (c *Config) validate() error {
	switch c.Storage.Type {
	case StorageMemory:
	case StorageFile:
		if c.Storage.File.Path == "" {
			return fmt.Errorf("storage.file.path is required when type is 'file'")
		}
	case StorageMongoDB:
		if c.Storage.MongoDB.URI == "" {
			return fmt.Errorf("storage.mongodb.uri is required when type is 'mongodb'")
		}
	default:
		return fmt.Errorf("storage.type must be 'memory', 'file', or 'mongodb', got '%s'", c.Storage.Type)
	}

	switch c.Ledger.Type {
	case LedgerMemory:
	case LedgerRedis:
		if c.Ledger.Redis.Address == "" {
			return fmt.Errorf("ledger.redis.address is required when type is 'redis'")
		}
	default:
		return fmt.Errorf("ledger.type must be 'memory' or 'redis', got '%s'", c.Ledger.Type)
	}

	if c.Engine.Retention < 0 {
		return fmt.Errorf("engine.retention must not be negative")
	}

	if (c.Server.TLS.CertFile == "") != (c.Server.TLS.KeyFile == "") {
		return fmt.Errorf("server.tls.certFile and server.tls.keyFile must be set together")
	}
	if (c.Client.TLS.CertFile == "") != (c.Client.TLS.KeyFile == "") {
		return fmt.Errorf("client.tls.certFile and client.tls.keyFile must be set together")
	}
	if c.Server.TLS.RequireClientCert && c.Server.TLS.CAFile == "" {
		return fmt.Errorf("server.tls.caFile is required when requireClientCert is set")
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be 'text' or 'json', got '%s'", c.Logging.Format)
	}

	return nil
}

// SlogLevel parses Level ("debug", "info", "warn", "error")
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(l.Level))
	return level, err
}
