package authserver

import (
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/vakharwalad23/google-mcp-remote/pkg/oauth2"
)

const propsContextKey = "authserver.props"

// RequireSession verifies the bearer access token and resolves the grant's
// session props, making them available to the handler via PropsFromContext.
// Props travel through the request context only; there is no ambient state.
func (s *Server) RequireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authz := c.Request().Header.Get(echo.HeaderAuthorization)
		tokenStr, found := strings.CutPrefix(authz, "Bearer ")
		if !found {
			c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer error="invalid_request"`)
			return echo.ErrUnauthorized
		}

		token, err := jwt.ParseString(
			tokenStr,
			jwt.WithKey(jwa.ES256, s.sigPuK),
			jwt.WithIssuer(s.issuer),
			jwt.WithValidate(true),
		)
		if err != nil {
			slog.Debug("rejected access token", "error", err)
			c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer error="invalid_token"`)
			return echo.ErrUnauthorized
		}

		grant, err := s.store.GetGrant(token.JwtID())
		if err != nil {
			// token outlived its grant, e.g. after revocation or restart
			c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer error="invalid_token"`)
			return echo.ErrUnauthorized
		}

		c.Set(propsContextKey, grant.Props)
		return next(c)
	}
}

// PropsFromContext returns the session props attached by RequireSession.
func PropsFromContext(c echo.Context) (oauth2.Props, bool) {
	props, ok := c.Get(propsContextKey).(oauth2.Props)
	return props, ok
}
