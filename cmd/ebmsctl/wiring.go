package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/sirosfoundation/go-ebms/internal/config"
	"github.com/sirosfoundation/go-ebms/internal/storage/mongodb"
	"github.com/sirosfoundation/go-ebms/pkg/pmode"
	"github.com/sirosfoundation/go-ebms/pkg/reliability"
	"github.com/sirosfoundation/go-ebms/pkg/transport"
)

func newLogger(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// openStore returns the configured PMode store and a function releasing it
func openStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (pmode.Store, func(), error) {
	var (
		store   pmode.Store
		cleanup = func() {}
	)

	switch cfg.Type {
	case config.StorageFile:
		fs, err := pmode.OpenFileStore(cfg.File.Path)
		if err != nil {
			return nil, nil, err
		}
		store = fs
	case config.StorageMongoDB:
		ms, err := mongodb.NewStore(ctx, &mongodb.Config{
			URI:        cfg.MongoDB.URI,
			Database:   cfg.MongoDB.Database,
			Collection: cfg.MongoDB.Collection,
		})
		if err != nil {
			return nil, nil, err
		}
		store = ms
		cleanup = func() {
			if err := ms.Close(context.Background()); err != nil {
				logger.Warn("closing pmode store", slog.Any("error", err))
			}
		}
	default:
		store = pmode.NewMemoryStore()
	}

	if cfg.Cache.Enabled {
		store = pmode.NewCachedStore(store, cfg.Cache.SizeBytes, cfg.Cache.TTL, logger)
	}
	return store, cleanup, nil
}

// openLedger returns the configured duplicate detection ledger
func openLedger(cfg config.LedgerConfig) (reliability.Ledger, func(), error) {
	switch cfg.Type {
	case config.LedgerRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		l := reliability.NewRedisLedger(client,
			reliability.WithRedisPrefix(cfg.Redis.KeyPrefix),
			reliability.WithRedisClaimTTL(cfg.ClaimTTL))
		return l, func() { _ = client.Close() }, nil
	case config.LedgerMemory:
		l := reliability.NewMemoryLedger(
			reliability.WithClaimTTL(cfg.ClaimTTL),
			reliability.WithJanitor(cfg.SweepInterval))
		return l, func() { _ = l.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown ledger type %q", cfg.Type)
}

// httpsConfig builds the transport settings for one side of the connection
func httpsConfig(t config.TLSConfig, server bool) (*transport.HTTPSConfig, error) {
	hc := transport.DefaultHTTPSConfig()

	if t.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading TLS key pair: %w", err)
		}
		hc.Certificates = []tls.Certificate{cert}
	}

	if t.CAFile != "" {
		pem, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", t.CAFile)
		}
		if server {
			hc.ClientCAs = pool
		} else {
			hc.RootCAs = pool
		}
	}

	if server && t.RequireClientCert {
		hc.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return hc, nil
}

func serverConfig(cfg config.ServerConfig) (*transport.HTTPSConfig, error) {
	hc, err := httpsConfig(cfg.TLS, true)
	if err != nil {
		return nil, err
	}
	hc.Timeout = cfg.Timeout
	hc.IdleConnTimeout = cfg.IdleTimeout
	hc.MaxBodySize = cfg.MaxBodyBytes
	return hc, nil
}

func clientConfig(cfg config.ClientConfig) (*transport.HTTPSConfig, error) {
	hc, err := httpsConfig(cfg.TLS, false)
	if err != nil {
		return nil, err
	}
	hc.Timeout = cfg.Timeout
	hc.MaxBodySize = cfg.MaxBodyBytes
	return hc, nil
}
