package relay_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/vakharwalad23/google-mcp-remote/pkg/approval"
	"github.com/vakharwalad23/google-mcp-remote/pkg/consent"
	"github.com/vakharwalad23/google-mcp-remote/pkg/googleauth"
	"github.com/vakharwalad23/google-mcp-remote/pkg/oauth2"
	"github.com/vakharwalad23/google-mcp-remote/pkg/relay"
	"github.com/vakharwalad23/google-mcp-remote/pkg/relaystate"
)

var cookieSecret = []byte("0123456789abcdef0123456789abcdef")

type stubAuthz struct {
	completed   *relay.CompletedAuthorization
	completeErr error
}

func (s *stubAuthz) ParseAuthRequest(c echo.Context) (*oauth2.AuthorizationRequest, error) {
	clientID := c.QueryParam("client_id")
	if clientID == "" {
		return nil, errors.New("missing client_id")
	}
	return &oauth2.AuthorizationRequest{
		ResponseType: "code",
		ClientID:     clientID,
		RedirectURI:  c.QueryParam("redirect_uri"),
		Scope:        strings.Fields(c.QueryParam("scope")),
		State:        c.QueryParam("state"),
	}, nil
}

func (s *stubAuthz) LookupClient(clientID string) (*oauth2.ClientMetadata, error) {
	if clientID != "example-agent" {
		return nil, errors.New("unknown client_id")
	}
	return &oauth2.ClientMetadata{ClientID: clientID, Name: "Example Agent"}, nil
}

func (s *stubAuthz) CompleteAuthorization(ctx context.Context, completed relay.CompletedAuthorization) (string, error) {
	if s.completeErr != nil {
		return "", s.completeErr
	}
	s.completed = &completed
	return completed.Request.RedirectURI + "?code=downstream-code&state=" + completed.Request.State, nil
}

type fakeUpstream struct {
	*httptest.Server
	tokenCalls int
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()

	upstream := &fakeUpstream{}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		upstream.tokenCalls++
		r.ParseForm()
		if r.PostForm.Get("code") != "upstream-code" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(oauth2.Error{Code: "invalid_grant", Description: "bad code"})
			return
		}
		json.NewEncoder(w).Encode(oauth2.TokenResponse{AccessToken: "upstream-token", TokenType: "Bearer"})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(googleauth.UserInfo{Subject: "u1", Name: "Jane", Email: "jane@x.com"})
	})
	upstream.Server = httptest.NewServer(mux)
	t.Cleanup(upstream.Close)
	return upstream
}

func newRelay(t *testing.T, authz relay.AuthorizationServer, upstream *fakeUpstream) *echo.Echo {
	t.Helper()

	upstreamClient, err := googleauth.NewClient(googleauth.Config{
		ClientID:         "upstream-client",
		ClientSecret:     "upstream-secret",
		RedirectURI:      "http://localhost:8080/callback",
		AuthEndpoint:     upstream.URL + "/auth",
		TokenEndpoint:    upstream.URL + "/token",
		UserinfoEndpoint: upstream.URL + "/userinfo",
	})
	if err != nil {
		t.Fatal("expected nil, got ", err)
	}

	dialog := approval.NewDialog(approval.ServerMetadata{Name: "Google MCP Remote"}, cookieSecret)

	server, err := relay.NewServer(
		relay.WithAuthorizationServer(authz),
		relay.WithUpstreamClient(upstreamClient),
		relay.WithApprovalDialog(dialog),
		relay.WithCookieSecret(cookieSecret),
	)
	if err != nil {
		t.Fatal("expected nil, got ", err)
	}

	e := echo.New()
	server.MountRoutes(e.Group(""))
	return e
}

func do(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

const authorizeQuery = "/authorize?response_type=code&client_id=example-agent" +
	"&redirect_uri=http%3A%2F%2Flocalhost%3A3334%2Foauth%2Fcallback&scope=mail+drive&state=abc"

// First visit: dialog, submission, upstream redirect with decodable state
// and a Set-Cookie recording the approval.
func TestFirstTimeAuthorization(t *testing.T) {
	upstream := newFakeUpstream(t)
	e := newRelay(t, &stubAuthz{}, upstream)

	rec := do(e, httptest.NewRequest(http.MethodGet, authorizeQuery, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected dialog with 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Example Agent") {
		t.Error("dialog does not show client name")
	}

	// pull the hidden state field out of the form
	_, rest, found := strings.Cut(body, `name="state" value="`)
	if !found {
		t.Fatal("dialog has no hidden state field")
	}
	state, _, _ := strings.Cut(rest, `"`)

	form := url.Values{"state": {state}, "remember": {"on"}}
	post := httptest.NewRequest(http.MethodPost, "/authorize", strings.NewReader(form.Encode()))
	post.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)

	rec = do(e, post)
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d: %s", rec.Code, rec.Body.String())
	}

	location, err := url.Parse(rec.Header().Get(echo.HeaderLocation))
	if err != nil {
		t.Fatal("expected nil, got ", err)
	}
	if !strings.HasPrefix(location.Path, "/auth") {
		t.Errorf("expected redirect to upstream auth endpoint, got %s", location)
	}

	decoded, err := relaystate.Decode(location.Query().Get("state"))
	if err != nil {
		t.Fatal("upstream state not decodable: ", err)
	}
	if decoded.ClientID != "example-agent" || decoded.State != "abc" {
		t.Errorf("original request not preserved: %+v", decoded)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != consent.CookieName {
		t.Fatalf("expected approval Set-Cookie, got %v", cookies)
	}
}

// Repeat visit with a valid consent cookie: straight 302, no dialog.
func TestRepeatAuthorizationSkipsDialog(t *testing.T) {
	upstream := newFakeUpstream(t)
	e := newRelay(t, &stubAuthz{}, upstream)

	cookie, err := consent.Approve(httptest.NewRequest(http.MethodGet, "/authorize", nil), "example-agent", cookieSecret)
	if err != nil {
		t.Fatal("expected nil, got ", err)
	}

	req := httptest.NewRequest(http.MethodGet, authorizeQuery, nil)
	req.AddCookie(cookie)

	rec := do(e, req)
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Header().Get(echo.HeaderLocation), "/auth?") {
		t.Errorf("expected upstream redirect, got %s", rec.Header().Get(echo.HeaderLocation))
	}
}

// A cookie signed with a different secret must re-show the dialog.
func TestForeignCookieShowsDialog(t *testing.T) {
	upstream := newFakeUpstream(t)
	e := newRelay(t, &stubAuthz{}, upstream)

	cookie, err := consent.Approve(
		httptest.NewRequest(http.MethodGet, "/authorize", nil),
		"example-agent",
		[]byte("another-secret-another-secret!!!"),
	)
	if err != nil {
		t.Fatal("expected nil, got ", err)
	}

	req := httptest.NewRequest(http.MethodGet, authorizeQuery, nil)
	req.AddCookie(cookie)

	if rec := do(e, req); rec.Code != http.StatusOK {
		t.Errorf("expected dialog with 200, got %d", rec.Code)
	}
}

func TestAuthorizeWithoutClientID(t *testing.T) {
	upstream := newFakeUpstream(t)
	e := newRelay(t, &stubAuthz{}, upstream)

	rec := do(e, httptest.NewRequest(http.MethodGet, "/authorize", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if upstream.tokenCalls != 0 {
		t.Error("unexpected upstream contact")
	}
}

// Callback happy path: exchange, identity fetch, downstream completion.
func TestCallbackCompletes(t *testing.T) {
	upstream := newFakeUpstream(t)
	authz := &stubAuthz{}
	e := newRelay(t, authz, upstream)

	state, _ := relaystate.Encode(&oauth2.AuthorizationRequest{
		ResponseType: "code",
		ClientID:     "example-agent",
		RedirectURI:  "http://localhost:3334/oauth/callback",
		State:        "abc",
	})

	rec := do(e, httptest.NewRequest(http.MethodGet, "/callback?state="+url.QueryEscape(state)+"&code=upstream-code", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d: %s", rec.Code, rec.Body.String())
	}

	if authz.completed == nil {
		t.Fatal("completeAuthorization not invoked")
	}
	if authz.completed.UserID != "u1" {
		t.Errorf("expected userId u1, got %s", authz.completed.UserID)
	}
	if authz.completed.Props.AccessToken != "upstream-token" {
		t.Errorf("props missing upstream token: %+v", authz.completed.Props)
	}
	if authz.completed.Props.Email != "jane@x.com" {
		t.Errorf("props missing identity claims: %+v", authz.completed.Props)
	}
	if authz.completed.Request.ClientID != "example-agent" {
		t.Errorf("client identifier changed in flight: %+v", authz.completed.Request)
	}

	location := rec.Header().Get(echo.HeaderLocation)
	if !strings.HasPrefix(location, "http://localhost:3334/oauth/callback?code=downstream-code") {
		t.Errorf("expected downstream redirect, got %s", location)
	}
}

// Undecodable state: 400 before any upstream contact.
func TestCallbackRejectsBadState(t *testing.T) {
	upstream := newFakeUpstream(t)
	e := newRelay(t, &stubAuthz{}, upstream)

	rec := do(e, httptest.NewRequest(http.MethodGet, "/callback?state=not-decodable&code=upstream-code", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if upstream.tokenCalls != 0 {
		t.Error("token endpoint called despite bad state")
	}
}

func TestCallbackRequiresStateAndCode(t *testing.T) {
	upstream := newFakeUpstream(t)
	e := newRelay(t, &stubAuthz{}, upstream)

	for _, target := range []string{"/callback", "/callback?state=x", "/callback?code=x"} {
		if rec := do(e, httptest.NewRequest(http.MethodGet, target, nil)); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, rec.Code)
		}
	}
	if upstream.tokenCalls != 0 {
		t.Error("token endpoint called despite missing parameters")
	}
}

func TestCallbackRelaysExchangeError(t *testing.T) {
	upstream := newFakeUpstream(t)
	e := newRelay(t, &stubAuthz{}, upstream)

	state, _ := relaystate.Encode(&oauth2.AuthorizationRequest{
		ClientID:    "example-agent",
		RedirectURI: "http://localhost:3334/oauth/callback",
	})

	rec := do(e, httptest.NewRequest(http.MethodGet, "/callback?state="+url.QueryEscape(state)+"&code=stale-code", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid_grant") {
		t.Errorf("upstream diagnostics not relayed: %s", rec.Body.String())
	}
}

func TestCallbackCompletionFailure(t *testing.T) {
	upstream := newFakeUpstream(t)
	e := newRelay(t, &stubAuthz{completeErr: errors.New("unknown client")}, upstream)

	state, _ := relaystate.Encode(&oauth2.AuthorizationRequest{
		ClientID:    "example-agent",
		RedirectURI: "http://localhost:3334/oauth/callback",
	})

	rec := do(e, httptest.NewRequest(http.MethodGet, "/callback?state="+url.QueryEscape(state)+"&code=upstream-code", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}
