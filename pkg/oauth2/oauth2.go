// Package oauth2 holds the wire and domain types shared by both sides of
// the relay: the downstream authorization server surface and the upstream
// provider client.
package oauth2

import "fmt"

// AuthorizationRequest is the downstream client's authorization request as
// received at /authorize. It is carried opaquely through the whole flow and
// must round-trip unchanged.
type AuthorizationRequest struct {
	ResponseType string   `json:"response_type"`
	ClientID     string   `json:"client_id"`
	RedirectURI  string   `json:"redirect_uri"`
	Scope        []string `json:"scope,omitempty"`
	State        string   `json:"state,omitempty"`
}

// ClientMetadata is the registered downstream client's self-description,
// shown on the approval dialog.
type ClientMetadata struct {
	ClientID    string
	Name        string
	LogoURI     string
	Description string
}

// Props is the session payload handed to downstream resource access after
// authorization completes. It is the only artifact that outlives the flow.
// The upstream access token never leaves the server process.
type Props struct {
	Subject     string `json:"sub"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	AccessToken string `json:"access_token"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

// Error is an RFC 6749 error response. It doubles as a Go error so upstream
// rejections can be passed through unchanged.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}
