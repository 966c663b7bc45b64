// Package approval renders the consent dialog shown before redirecting a
// browser to the upstream provider, and parses its submission back into the
// original authorization request. The dialog carries the encoded relay
// state in a hidden field; no server-side session backs the form.
package approval

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/vakharwalad23/google-mcp-remote/pkg/consent"
	"github.com/vakharwalad23/google-mcp-remote/pkg/oauth2"
	"github.com/vakharwalad23/google-mcp-remote/pkg/relaystate"
)

//go:embed approval.html
var templatesFS embed.FS

// ErrInvalidSubmission marks a posted form whose hidden state field is
// absent or undecodable. Surfaced as a 400-class error, never retried.
var ErrInvalidSubmission = errors.New("invalid approval submission")

// ServerMetadata describes this server on the dialog.
type ServerMetadata struct {
	Name        string
	Description string
}

type Dialog struct {
	template   *template.Template
	serverMeta ServerMetadata
	secret     []byte
}

func NewDialog(serverMeta ServerMetadata, secret []byte) *Dialog {
	return &Dialog{
		template:   template.Must(template.ParseFS(templatesFS, "approval.html")),
		serverMeta: serverMeta,
		secret:     secret,
	}
}

// Render writes the consent page for the given client. state must be the
// relay-state encoding of req; it is embedded as-is in the form.
func (d *Dialog) Render(c echo.Context, client *oauth2.ClientMetadata, req *oauth2.AuthorizationRequest, state string) error {
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(http.StatusOK)

	return d.template.Execute(c.Response().Writer, map[string]any{
		"server": d.serverMeta,
		"client": client,
		"scopes": req.Scope,
		"state":  state,
	})
}

// Submission is the outcome of a posted consent form.
type Submission struct {
	Request *oauth2.AuthorizationRequest
	// State is the raw encoded form value, reused verbatim for the
	// upstream redirect.
	State    string
	Remember bool
	// Cookie is the updated approval cookie, nil unless Remember was set.
	Cookie *http.Cookie
}

// ParseSubmission decodes the posted form and, if the user opted to be
// remembered, produces the extended consent cookie.
func (d *Dialog) ParseSubmission(c echo.Context) (*Submission, error) {
	state := c.FormValue("state")
	if state == "" {
		return nil, fmt.Errorf("%w: missing state field", ErrInvalidSubmission)
	}

	req, err := relaystate.Decode(state)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSubmission, err)
	}

	submission := &Submission{
		Request:  req,
		State:    state,
		Remember: c.FormValue("remember") == "on",
	}

	if submission.Remember {
		cookie, err := consent.Approve(c.Request(), req.ClientID, d.secret)
		if err != nil {
			return nil, fmt.Errorf("unable to build approval cookie: %w", err)
		}
		submission.Cookie = cookie
	}

	return submission, nil
}
