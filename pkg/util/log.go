package util

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// JWSToText renders a compact JWS in a human-readable form for debug logs.
// The signature is truncated; the header and payload are pretty-printed.
func JWSToText(jwsData string) string {
	parts := strings.Split(jwsData, ".")
	if len(parts) != 3 {
		return jwsData
	}
	return fmt.Sprintf("%s.%s.signature(%.10s...)", decodePart(parts[0]), decodePart(parts[1]), parts[2])
}

func decodePart(s string) string {
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return err.Error()
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return string(data)
	}
	pretty, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err.Error()
	}
	return string(pretty)
}
