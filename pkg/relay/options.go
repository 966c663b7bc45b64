package relay

import (
	"errors"

	"github.com/vakharwalad23/google-mcp-remote/pkg/approval"
	"github.com/vakharwalad23/google-mcp-remote/pkg/googleauth"
)

type Option func(*Server) error

func WithAuthorizationServer(authz AuthorizationServer) Option {
	return func(s *Server) error {
		s.authz = authz
		return nil
	}
}

func WithUpstreamClient(client *googleauth.Client) Option {
	return func(s *Server) error {
		s.upstream = client
		return nil
	}
}

func WithApprovalDialog(dialog *approval.Dialog) Option {
	return func(s *Server) error {
		s.dialog = dialog
		return nil
	}
}

// WithCookieSecret sets the server-wide secret the consent cookie is signed
// with. Changing it invalidates every previously issued cookie.
func WithCookieSecret(secret []byte) Option {
	return func(s *Server) error {
		if len(secret) < 16 {
			return errors.New("cookie secret must be at least 16 bytes")
		}
		s.cookieSecret = secret
		return nil
	}
}
