package approval_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/vakharwalad23/google-mcp-remote/pkg/approval"
	"github.com/vakharwalad23/google-mcp-remote/pkg/consent"
	"github.com/vakharwalad23/google-mcp-remote/pkg/oauth2"
	"github.com/vakharwalad23/google-mcp-remote/pkg/relaystate"
)

var secret = []byte("0123456789abcdef0123456789abcdef")

func newDialog() *approval.Dialog {
	return approval.NewDialog(approval.ServerMetadata{
		Name: "Google MCP Remote",
	}, secret)
}

func testRequest() *oauth2.AuthorizationRequest {
	return &oauth2.AuthorizationRequest{
		ResponseType: "code",
		ClientID:     "example-agent",
		RedirectURI:  "http://localhost:3334/oauth/callback",
		Scope:        []string{"mail"},
		State:        "xyz",
	}
}

func TestRenderShowsClientAndState(t *testing.T) {
	request := testRequest()
	state, err := relaystate.Encode(request)
	if err != nil {
		t.Fatal("expected nil, got ", err)
	}

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/authorize", nil), rec)

	client := &oauth2.ClientMetadata{ClientID: "example-agent", Name: "Example Agent"}
	if err := newDialog().Render(c, client, request, state); err != nil {
		t.Fatal("expected nil, got ", err)
	}

	body := rec.Body.String()
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(body, "Example Agent") {
		t.Error("dialog does not show client name")
	}
	if !strings.Contains(body, state) {
		t.Error("dialog does not embed the encoded state")
	}
	if !strings.Contains(body, `name="remember"`) {
		t.Error("dialog has no remember checkbox")
	}
}

func submit(t *testing.T, form url.Values) (*approval.Submission, error) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/authorize", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	c := e.NewContext(req, httptest.NewRecorder())

	return newDialog().ParseSubmission(c)
}

func TestParseSubmissionWithRemember(t *testing.T) {
	request := testRequest()
	state, _ := relaystate.Encode(request)

	submission, err := submit(t, url.Values{"state": {state}, "remember": {"on"}})
	if err != nil {
		t.Fatal("expected nil, got ", err)
	}

	if submission.Request.ClientID != request.ClientID {
		t.Errorf("expected client %s, got %s", request.ClientID, submission.Request.ClientID)
	}
	if submission.State != state {
		t.Error("raw state not preserved")
	}
	if !submission.Remember || submission.Cookie == nil {
		t.Fatal("expected approval cookie")
	}

	next := httptest.NewRequest(http.MethodGet, "/authorize", nil)
	next.AddCookie(submission.Cookie)
	if !consent.IsApproved(next, request.ClientID, secret) {
		t.Error("cookie from submission does not verify")
	}
}

func TestParseSubmissionWithoutRemember(t *testing.T) {
	state, _ := relaystate.Encode(testRequest())

	submission, err := submit(t, url.Values{"state": {state}})
	if err != nil {
		t.Fatal("expected nil, got ", err)
	}
	if submission.Remember || submission.Cookie != nil {
		t.Error("expected no cookie without remember")
	}
}

func TestParseSubmissionInvalid(t *testing.T) {
	for _, form := range []url.Values{
		{},
		{"state": {"%%%not-decodable%%%"}},
	} {
		_, err := submit(t, form)
		if !errors.Is(err, approval.ErrInvalidSubmission) {
			t.Errorf("form %v: expected ErrInvalidSubmission, got %v", form, err)
		}
	}
}
