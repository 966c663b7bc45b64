// Package authserver is the downstream-facing OAuth2 authorization server:
// it validates inbound authorization requests against the client registry,
// mints single-use codes once the relay completes, and exchanges those
// codes for signed access tokens at /token. The upstream credential stays
// inside the grant store and is never embedded in issued tokens.
package authserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/segmentio/ksuid"

	"github.com/vakharwalad23/google-mcp-remote/pkg/oauth2"
	"github.com/vakharwalad23/google-mcp-remote/pkg/relay"
	"github.com/vakharwalad23/google-mcp-remote/pkg/util"
)

type Server struct {
	registry *Registry
	store    GrantStore
	issuer   string
	tokenTTL time.Duration
	sigPrK   jwk.Key
	sigPuK   jwk.Key
	jwks     jwk.Set
}

func NewServer(opts ...Option) (*Server, error) {
	s := &Server{
		store:    NewMemoryGrantStore(),
		tokenTTL: time.Hour,
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.registry == nil {
		return nil, errors.New("authserver: no client registry configured")
	}
	if s.sigPrK == nil {
		if err := WithRandomSigningKey()(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Server) MountRoutes(group *echo.Group) {
	group.Use(relay.ErrorLogMiddleware)
	group.POST("/token", s.TokenEndpoint)
	group.GET("/jwks", s.JWKS)
	group.GET("/userinfo", s.UserinfoEndpoint, s.RequireSession)
}

// ParseAuthRequest validates the inbound authorization request against the
// registry. The relay calls this at /authorize.
func (s *Server) ParseAuthRequest(c echo.Context) (*oauth2.AuthorizationRequest, error) {
	var responseType, clientID, redirectURI, scope, state string
	binderr := echo.FormFieldBinder(c).
		MustString("response_type", &responseType).
		MustString("client_id", &clientID).
		MustString("redirect_uri", &redirectURI).
		String("scope", &scope).
		String("state", &state).
		BindError()
	if binderr != nil {
		return nil, binderr
	}

	if responseType != "code" {
		return nil, fmt.Errorf("unsupported response_type: %s", responseType)
	}
	if s.registry.Client(clientID) == nil {
		return nil, fmt.Errorf("unknown client_id: %s", clientID)
	}
	if !s.registry.AllowedRedirectURI(clientID, redirectURI) {
		return nil, errors.New("redirect_uri not registered for client")
	}

	return &oauth2.AuthorizationRequest{
		ResponseType: responseType,
		ClientID:     clientID,
		RedirectURI:  redirectURI,
		Scope:        strings.Fields(scope),
		State:        state,
	}, nil
}

func (s *Server) LookupClient(clientID string) (*oauth2.ClientMetadata, error) {
	client := s.registry.Client(clientID)
	if client == nil {
		return nil, fmt.Errorf("unknown client_id: %s", clientID)
	}
	return client.Metadata(), nil
}

// CompleteAuthorization mints the downstream code for a finished upstream
// flow and returns the redirect that delivers it to the client.
func (s *Server) CompleteAuthorization(ctx context.Context, completed relay.CompletedAuthorization) (string, error) {
	request := completed.Request
	if s.registry.Client(request.ClientID) == nil {
		return "", fmt.Errorf("unknown client_id: %s", request.ClientID)
	}
	if !s.registry.AllowedRedirectURI(request.ClientID, request.RedirectURI) {
		return "", errors.New("redirect_uri not registered for client")
	}

	grant := &Grant{
		ID:        ksuid.New().String(),
		Code:      ksuid.New().String(),
		Request:   request,
		UserID:    completed.UserID,
		Metadata:  completed.Metadata,
		Props:     completed.Props,
		CreatedAt: time.Now(),
	}

	if err := s.store.SaveGrant(grant); err != nil {
		return "", fmt.Errorf("unable to save grant: %w", err)
	}

	slog.Info("authorization completed", "client_id", request.ClientID, "user_id", completed.UserID)

	params := url.Values{}
	params.Set("code", grant.Code)
	if request.State != "" {
		params.Set("state", request.State)
	}

	return request.RedirectURI + "?" + params.Encode(), nil
}

// TokenEndpoint exchanges a downstream code for a signed access token.
// Clients are public; the binding checks are client_id and redirect_uri
// matches against the redeemed grant.
func (s *Server) TokenEndpoint(c echo.Context) error {
	var grantType, code, clientID, redirectURI string
	binderr := echo.FormFieldBinder(c).
		MustString("grant_type", &grantType).
		MustString("code", &code).
		MustString("client_id", &clientID).
		MustString("redirect_uri", &redirectURI).
		BindError()
	if binderr != nil {
		return echo.NewHTTPError(http.StatusBadRequest, oauth2.Error{
			Code:        "invalid_request",
			Description: binderr.Error(),
		})
	}

	if grantType != "authorization_code" {
		return echo.NewHTTPError(http.StatusBadRequest, oauth2.Error{
			Code:        "unsupported_grant_type",
			Description: grantType,
		})
	}

	grant, err := s.store.RedeemCode(code)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, oauth2.Error{
			Code:        "invalid_grant",
			Description: "unknown or expired code",
		})
	}

	if grant.Request.ClientID != clientID {
		return echo.NewHTTPError(http.StatusBadRequest, oauth2.Error{
			Code:        "invalid_grant",
			Description: "client_id mismatch",
		})
	}
	if grant.Request.RedirectURI != redirectURI {
		return echo.NewHTTPError(http.StatusBadRequest, oauth2.Error{
			Code:        "invalid_grant",
			Description: "redirect_uri mismatch",
		})
	}

	accessToken, err := s.issueAccessToken(grant)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, oauth2.Error{
			Code:        "server_error",
			Description: fmt.Errorf("unable to issue access token: %w", err).Error(),
		})
	}

	slog.Debug("issued access token", "client_id", clientID, "details", util.JWSToText(accessToken))

	return c.JSON(http.StatusOK, oauth2.TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.tokenTTL.Seconds()),
		Scope:       strings.Join(grant.Request.Scope, " "),
	})
}

func (s *Server) issueAccessToken(grant *Grant) (string, error) {
	now := time.Now()

	accessJwt := jwt.New()
	accessJwt.Set(jwt.IssuerKey, s.issuer)
	accessJwt.Set(jwt.SubjectKey, grant.UserID)
	accessJwt.Set(jwt.AudienceKey, grant.Request.ClientID)
	accessJwt.Set(jwt.IssuedAtKey, now.Unix())
	accessJwt.Set(jwt.ExpirationKey, now.Add(s.tokenTTL).Unix())
	accessJwt.Set(jwt.JwtIDKey, grant.ID)
	accessJwt.Set("scope", strings.Join(grant.Request.Scope, " "))

	signed, err := jwt.Sign(accessJwt, jwt.WithKey(jwa.ES256, s.sigPrK))
	if err != nil {
		return "", fmt.Errorf("unable to sign access token: %w", err)
	}

	return string(signed), nil
}

func (s *Server) JWKS(c echo.Context) error {
	return c.JSON(http.StatusOK, s.jwks)
}

// UserinfoEndpoint returns the session's identity claims. The upstream
// access token stays server-side.
func (s *Server) UserinfoEndpoint(c echo.Context) error {
	props, ok := PropsFromContext(c)
	if !ok {
		return echo.ErrUnauthorized
	}

	return c.JSON(http.StatusOK, map[string]string{
		"sub":   props.Subject,
		"name":  props.Name,
		"email": props.Email,
	})
}
