// Package relaystate encodes the downstream authorization request into the
// opaque value round-tripped through the upstream provider's state
// parameter. The encoding carries no secrets and is not integrity
// protected; decoding only guarantees shape, never authorization. Anything
// that fails to decode aborts the current request.
package relaystate

import (
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/vakharwalad23/google-mcp-remote/pkg/oauth2"
)

var (
	ErrMalformed       = errors.New("state is not base64-encoded JSON")
	ErrMissingClientID = errors.New("state has no client_id")
)

// Encode serializes the request deterministically. The result is URL-safe.
func Encode(req *oauth2.AuthorizationRequest) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode recovers the request encoded by Encode. It fails closed: a value
// that is not well-formed or lacks a client identifier is rejected before
// any upstream contact happens.
func Decode(encoded string) (*oauth2.AuthorizationRequest, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrMalformed
	}

	var req oauth2.AuthorizationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, ErrMalformed
	}

	if req.ClientID == "" {
		return nil, ErrMissingClientID
	}

	return &req, nil
}
