// Package consent manages the signed browser cookie recording which
// downstream clients a user has already approved. The cookie is the only
// input allowed to skip the approval dialog, so it is trusted exclusively
// after HMAC verification against the server secret. Every verification
// failure degrades to "not approved" and is never surfaced to the user.
package consent

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// CookieName identifies the approval cookie in the browser.
const CookieName = "mcp_approved_clients"

const cookieMaxAge = 30 * 24 * time.Hour

// cookie payload is CBOR in canonical form so the signed bytes are stable
// for a given approval set
var encMode, _ = cbor.CanonicalEncOptions().EncMode()

// Approvals maps an approved client ID to the unix time of approval.
type Approvals map[string]int64

// IsApproved reports whether the browser sending r has previously approved
// clientID. Missing cookie, bad signature and malformed payload all count
// as not approved.
func IsApproved(r *http.Request, clientID string, secret []byte) bool {
	_, ok := FromRequest(r, secret)[clientID]
	return ok
}

// FromRequest parses and verifies the approval cookie. The zero-value map
// is returned whenever the cookie is absent or fails verification.
func FromRequest(r *http.Request, secret []byte) Approvals {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return Approvals{}
	}

	sigPart, payloadPart, found := strings.Cut(cookie.Value, ".")
	if !found {
		return Approvals{}
	}

	sig, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil {
		return Approvals{}
	}
	payload, err := base64.RawURLEncoding.DecodeString(payloadPart)
	if err != nil {
		return Approvals{}
	}

	if !hmac.Equal(sig, sign(payload, secret)) {
		// diagnostic only; tampering must not change behavior
		slog.Debug("consent cookie signature mismatch", "cookie", CookieName)
		return Approvals{}
	}

	var approvals Approvals
	if err := cbor.Unmarshal(payload, &approvals); err != nil {
		return Approvals{}
	}

	return approvals
}

// Approve returns a Set-Cookie directive extending the browser's verified
// approval set with clientID. Prior approvals that fail verification are
// dropped rather than carried over.
func Approve(r *http.Request, clientID string, secret []byte) (*http.Cookie, error) {
	approvals := FromRequest(r, secret)
	approvals[clientID] = time.Now().Unix()

	payload, err := encMode.Marshal(approvals)
	if err != nil {
		return nil, err
	}

	value := base64.RawURLEncoding.EncodeToString(sign(payload, secret)) +
		"." + base64.RawURLEncoding.EncodeToString(payload)

	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(cookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}, nil
}

func sign(payload, secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return mac.Sum(nil)
}
