package authserver

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/vakharwalad23/google-mcp-remote/pkg/util"
)

type Option func(*Server) error

func WithRegistry(registry *Registry) Option {
	return func(s *Server) error {
		s.registry = registry
		for _, client := range registry.Clients {
			slog.Info("Using registered client", "client_id", client.ClientID, "name", client.Name)
		}
		return nil
	}
}

func WithGrantStore(store GrantStore) Option {
	return func(s *Server) error {
		s.store = store
		return nil
	}
}

func WithIssuer(issuer string) Option {
	return func(s *Server) error {
		s.issuer = issuer
		return nil
	}
}

func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Server) error {
		s.tokenTTL = ttl
		return nil
	}
}

func WithSigningKey(sigPrK jwk.Key) Option {
	return func(s *Server) error {
		sigPuK, err := sigPrK.PublicKey()
		if err != nil {
			return fmt.Errorf("unable to derive public key: %w", err)
		}

		s.sigPrK = sigPrK
		s.sigPuK = sigPuK
		s.jwks = jwk.NewSet()
		s.jwks.AddKey(sigPuK)
		return nil
	}
}

type ErrorTolerance bool

const (
	UseRandomIfNotAvailable ErrorTolerance = true
	FailIfNotAvailable      ErrorTolerance = false
)

// WithSigningKeyFromFile loads a JWK from path. With
// UseRandomIfNotAvailable a missing or unreadable file falls back to an
// ephemeral key, which invalidates outstanding tokens on restart.
func WithSigningKeyFromFile(path string, tolerance ErrorTolerance) Option {
	return func(s *Server) error {
		data, err := os.ReadFile(path)
		if err != nil {
			if tolerance == UseRandomIfNotAvailable {
				slog.Warn("Failed to read key file", "path", path, "error", err)
				return WithRandomSigningKey()(s)
			}
			return fmt.Errorf("unable to read key file: %w", err)
		}

		sigPrK, err := jwk.ParseKey(data)
		if err != nil {
			if tolerance == UseRandomIfNotAvailable {
				slog.Warn("Failed to parse key file", "path", path, "error", err)
				return WithRandomSigningKey()(s)
			}
			return fmt.Errorf("unable to parse key file: %w", err)
		}

		return WithSigningKey(sigPrK)(s)
	}
}

func WithRandomSigningKey() Option {
	return func(s *Server) error {
		sigPrK, err := util.RandomSigningKey()
		if err != nil {
			return fmt.Errorf("unable to generate signing key: %w", err)
		}

		slog.Debug("Generated random access token signing key", "kid", sigPrK.KeyID())

		return WithSigningKey(sigPrK)(s)
	}
}
