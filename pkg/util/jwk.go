package util

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// RandomSigningKey generates an ephemeral ES256 key with its key ID set to
// the base64url SHA-256 thumbprint. Suitable for development and tests;
// production deployments load a persistent key instead.
func RandomSigningKey() (jwk.Key, error) {
	raw, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("unable to generate key: %w", err)
	}

	key, err := jwk.FromRaw(raw)
	if err != nil {
		return nil, fmt.Errorf("unable to wrap key: %w", err)
	}

	thumbprint, err := key.Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("unable to compute thumbprint: %w", err)
	}

	key.Set(jwk.KeyUsageKey, "sig")
	key.Set(jwk.KeyIDKey, base64.RawURLEncoding.EncodeToString(thumbprint))

	return key, nil
}
