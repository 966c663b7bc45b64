// Package googleauth is the OAuth2 client toward the upstream Google
// identity provider: it builds the authorization redirect, performs the
// server-to-server code exchange and fetches the authenticated user's
// profile. Endpoints are configurable so tests can point the client at a
// local server.
package googleauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/vakharwalad23/google-mcp-remote/pkg/oauth2"
)

const (
	DefaultAuthEndpoint     = "https://accounts.google.com/o/oauth2/v2/auth"
	DefaultTokenEndpoint    = "https://oauth2.googleapis.com/token"
	DefaultUserinfoEndpoint = "https://openidconnect.googleapis.com/v1/userinfo"
)

// Scopes is the static bundle requested on every authorization. The relay
// does not support narrower per-tool consent.
var Scopes = []string{
	"openid",
	"email",
	"profile",
	"https://www.googleapis.com/auth/gmail.modify",
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/drive",
	"https://www.googleapis.com/auth/calendar",
	"https://www.googleapis.com/auth/tasks",
	"https://www.googleapis.com/auth/contacts",
	"https://www.googleapis.com/auth/youtube.readonly",
}

type Config struct {
	ClientID     string `validate:"required"`
	ClientSecret string `validate:"required"`
	// RedirectURI is this server's /callback URL as registered upstream.
	RedirectURI      string `validate:"required,url"`
	AuthEndpoint     string
	TokenEndpoint    string
	UserinfoEndpoint string
}

// UserInfo carries the profile claims returned by the userinfo endpoint.
type UserInfo struct {
	Subject string `json:"sub"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture,omitempty"`
	Locale  string `json:"locale,omitempty"`
}

type Client struct {
	config Config
	http   *http.Client
}

func NewClient(config Config) (*Client, error) {
	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid upstream config: %w", err)
	}

	if config.AuthEndpoint == "" {
		config.AuthEndpoint = DefaultAuthEndpoint
	}
	if config.TokenEndpoint == "" {
		config.TokenEndpoint = DefaultTokenEndpoint
	}
	if config.UserinfoEndpoint == "" {
		config.UserinfoEndpoint = DefaultUserinfoEndpoint
	}

	return &Client{
		config: config,
		http:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// AuthCodeURL builds the upstream authorization redirect carrying the
// encoded relay state.
func (c *Client) AuthCodeURL(state string) string {
	query := url.Values{}
	query.Set("client_id", c.config.ClientID)
	query.Set("redirect_uri", c.config.RedirectURI)
	query.Set("response_type", "code")
	query.Set("scope", strings.Join(Scopes, " "))
	query.Set("state", state)

	return fmt.Sprintf("%s?%s", c.config.AuthEndpoint, query.Encode())
}

// Exchange posts the authorization code to the upstream token endpoint. A
// non-success response is returned as *oauth2.Error so the caller can relay
// the upstream diagnostics; codes are single-use, so there is no retry.
func (c *Client) Exchange(ctx context.Context, code string) (*oauth2.TokenResponse, error) {
	params := url.Values{}
	params.Set("client_id", c.config.ClientID)
	params.Set("client_secret", c.config.ClientSecret)
	params.Set("code", code)
	params.Set("redirect_uri", c.config.RedirectURI)
	params.Set("grant_type", "authorization_code")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenEndpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("unable to exchange code for token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("unable to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var exchangeErr oauth2.Error
		if err := json.Unmarshal(body, &exchangeErr); err != nil || exchangeErr.Code == "" {
			return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
		}
		return nil, &exchangeErr
	}

	var tokenResponse oauth2.TokenResponse
	if err := json.Unmarshal(body, &tokenResponse); err != nil {
		return nil, fmt.Errorf("unable to decode token response: %w", err)
	}

	return &tokenResponse, nil
}

// FetchIdentity retrieves the profile claims for a freshly obtained access
// token. Failure here is distinct from exchange failure so the two show up
// separately in diagnostics.
func (c *Client) FetchIdentity(ctx context.Context, accessToken string) (*UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.UserinfoEndpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity fetch failed: status %d", resp.StatusCode)
	}

	var userInfo UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
		return nil, fmt.Errorf("identity fetch failed: %w", err)
	}

	if userInfo.Subject == "" {
		return nil, fmt.Errorf("identity fetch failed: response has no sub claim")
	}

	return &userInfo, nil
}
