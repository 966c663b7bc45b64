// Package relay implements the authorization flow orchestrator: the
// /authorize and /callback endpoints that broker a downstream authorization
// request into an upstream Google authorization-code flow. The relay holds
// no session state; everything that must survive the redirect round trip
// travels in the state parameter or the signed consent cookie.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/vakharwalad23/google-mcp-remote/pkg/approval"
	"github.com/vakharwalad23/google-mcp-remote/pkg/consent"
	"github.com/vakharwalad23/google-mcp-remote/pkg/googleauth"
	"github.com/vakharwalad23/google-mcp-remote/pkg/oauth2"
	"github.com/vakharwalad23/google-mcp-remote/pkg/relaystate"
)

// CompletedAuthorization is handed to the downstream authorization server
// once the upstream exchange succeeded. Request is the original request as
// received at /authorize; Props is the session payload that outlives the
// flow.
type CompletedAuthorization struct {
	Request  *oauth2.AuthorizationRequest
	UserID   string
	Metadata map[string]string
	Props    oauth2.Props
}

// AuthorizationServer is the downstream component that validates inbound
// authorization requests, knows the registered clients, and mints the
// client-facing credential.
type AuthorizationServer interface {
	ParseAuthRequest(c echo.Context) (*oauth2.AuthorizationRequest, error)
	LookupClient(clientID string) (*oauth2.ClientMetadata, error)
	CompleteAuthorization(ctx context.Context, completed CompletedAuthorization) (redirectTo string, err error)
}

type Server struct {
	authz        AuthorizationServer
	upstream     *googleauth.Client
	dialog       *approval.Dialog
	cookieSecret []byte
}

func NewServer(opts ...Option) (*Server, error) {
	s := &Server{}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.authz == nil {
		return nil, errors.New("relay: no authorization server configured")
	}
	if s.upstream == nil {
		return nil, errors.New("relay: no upstream client configured")
	}
	if s.dialog == nil {
		return nil, errors.New("relay: no approval dialog configured")
	}
	if len(s.cookieSecret) == 0 {
		return nil, errors.New("relay: no cookie secret configured")
	}

	return s, nil
}

func ErrorLogMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		if err != nil {
			slog.Error("Error", "error", err, "path", c.Path(), "remote_addr", c.RealIP())
		}
		return err
	}
}

func (s *Server) MountRoutes(group *echo.Group) {
	group.Use(ErrorLogMiddleware)
	group.GET("/authorize", s.AuthorizeEndpoint)
	group.POST("/authorize", s.ApproveEndpoint)
	group.GET("/callback", s.CallbackEndpoint)
}

// AuthorizeEndpoint receives the downstream authorization request. A
// browser that already approved this client skips straight to the upstream
// redirect; everyone else gets the approval dialog.
func (s *Server) AuthorizeEndpoint(c echo.Context) error {
	request, err := s.authz.ParseAuthRequest(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, oauth2.Error{
			Code:        "invalid_request",
			Description: err.Error(),
		})
	}

	if request.ClientID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, oauth2.Error{
			Code:        "invalid_request",
			Description: "missing client_id",
		})
	}

	state, err := relaystate.Encode(request)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, oauth2.Error{
			Code:        "server_error",
			Description: "unable to encode state",
		})
	}

	if consent.IsApproved(c.Request(), request.ClientID, s.cookieSecret) {
		slog.Debug("consent cached, skipping dialog", "client_id", request.ClientID)
		return c.Redirect(http.StatusFound, s.upstream.AuthCodeURL(state))
	}

	client, err := s.authz.LookupClient(request.ClientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, oauth2.Error{
			Code:        "invalid_request",
			Description: err.Error(),
		})
	}

	return s.dialog.Render(c, client, request, state)
}

// ApproveEndpoint handles the consent form submission and redirects
// upstream, attaching the extended approval cookie if the user opted in.
func (s *Server) ApproveEndpoint(c echo.Context) error {
	submission, err := s.dialog.ParseSubmission(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, oauth2.Error{
			Code:        "invalid_request",
			Description: err.Error(),
		})
	}

	if submission.Cookie != nil {
		c.SetCookie(submission.Cookie)
	}

	return c.Redirect(http.StatusFound, s.upstream.AuthCodeURL(submission.State))
}

// CallbackEndpoint completes the flow when the browser returns from
// upstream: code-for-token exchange, identity fetch, then hand-off to the
// downstream authorization server. Each step depends on the previous one;
// any failure is terminal and the user restarts at /authorize.
func (s *Server) CallbackEndpoint(c echo.Context) error {
	var state, code string
	binderr := echo.QueryParamsBinder(c).
		MustString("state", &state).
		MustString("code", &code).
		BindError()
	if binderr != nil {
		return echo.NewHTTPError(http.StatusBadRequest, oauth2.Error{
			Code:        "invalid_request",
			Description: binderr.Error(),
		})
	}

	request, err := relaystate.Decode(state)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, oauth2.Error{
			Code:        "invalid_request",
			Description: err.Error(),
		})
	}

	ctx := c.Request().Context()

	tokenResponse, err := s.upstream.Exchange(ctx, code)
	if err != nil {
		var exchangeErr *oauth2.Error
		if errors.As(err, &exchangeErr) {
			// upstream rejection, relayed verbatim
			return echo.NewHTTPError(http.StatusInternalServerError, *exchangeErr)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, oauth2.Error{
			Code:        "server_error",
			Description: err.Error(),
		})
	}

	userInfo, err := s.upstream.FetchIdentity(ctx, tokenResponse.AccessToken)
	if err != nil {
		slog.Error("identity fetch failed", "error", err, "client_id", request.ClientID)
		return echo.NewHTTPError(http.StatusInternalServerError, oauth2.Error{
			Code:        "server_error",
			Description: "identity fetch failed",
		})
	}

	redirectTo, err := s.authz.CompleteAuthorization(ctx, CompletedAuthorization{
		Request: request,
		UserID:  userInfo.Subject,
		Metadata: map[string]string{
			"label": userInfo.Name,
		},
		Props: oauth2.Props{
			Subject:     userInfo.Subject,
			Name:        userInfo.Name,
			Email:       userInfo.Email,
			AccessToken: tokenResponse.AccessToken,
		},
	})
	if err != nil {
		slog.Error("completion failed", "error", err, "client_id", request.ClientID)
		return echo.NewHTTPError(http.StatusInternalServerError, oauth2.Error{
			Code:        "server_error",
			Description: "unable to complete authorization",
		})
	}

	return c.Redirect(http.StatusFound, redirectTo)
}
