// Package secrets resolves named secrets such as signer keys from the
// environment or AWS Secrets Manager.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// ErrNotFound is returned when a provider has no value for a key
var ErrNotFound = errors.New("secret not found")

type Provider interface {
	GetSecret(ctx context.Context, key string) (string, error)
}

// Source selects a Provider implementation
type Source string

const (
	SourceNone Source = ""
	SourceEnv  Source = "env"
	SourceAWS  Source = "aws"
)

// Config configures the provider built by NewProvider
type Config struct {
	Source   Source
	Region   string
	Prefix   string
	CacheTTL time.Duration
}

// NewProvider builds the provider for cfg.Source. SourceNone yields a nil provider.
func NewProvider(ctx context.Context, cfg Config) (Provider, error) {
	switch Source(strings.ToLower(string(cfg.Source))) {
	case SourceNone:
		return nil, nil
	case SourceEnv:
		return NewEnvProvider(cfg.Prefix), nil
	case SourceAWS:
		if cfg.CacheTTL <= 0 {
			cfg.CacheTTL = 5 * time.Minute
		}
		return NewAWSSecretsManagerProvider(ctx, cfg.Region, cfg.Prefix, cfg.CacheTTL)
	default:
		return nil, fmt.Errorf("unknown secrets source %q", cfg.Source)
	}
}

// EnvProvider reads secrets from environment variables named prefix+key
type EnvProvider struct {
	prefix string
}

func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{prefix: prefix}
}

func (p *EnvProvider) GetSecret(ctx context.Context, key string) (string, error) {
	value := os.Getenv(p.prefix + key)
	if value == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, p.prefix+key)
	}
	return value, nil
}

// Resolve returns inline when set, otherwise the provider's value for key.
// An empty key with no inline value resolves to "".
func Resolve(ctx context.Context, p Provider, inline, key string) (string, error) {
	if inline != "" {
		return inline, nil
	}
	if key == "" {
		return "", nil
	}
	if p == nil {
		return "", fmt.Errorf("secret %s requested but no secrets source is configured", key)
	}
	return p.GetSecret(ctx, key)
}
