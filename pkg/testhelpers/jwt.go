// Package testhelpers provides utilities for testing ekaya-sqlguard components.
package testhelpers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// GenerateTestJWT creates an unsigned (alg: none) token for use when verification
// is disabled. roles populate the "roles" claim; include "admin" for admin access.
func GenerateTestJWT(sub, username string, roles ...string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))

	claims := map[string]any{"sub": sub, "aud": "sqlguard"}
	if username != "" {
		claims["preferred_username"] = username
	}
	if len(roles) > 0 {
		claims["roles"] = roles
	}
	payload, _ := json.Marshal(claims)

	return fmt.Sprintf("%s.%s.", header, base64.RawURLEncoding.EncodeToString(payload))
}

// GenerateTestJWTWithBearer returns a test token with the "Bearer " prefix for the Authorization header.
func GenerateTestJWTWithBearer(sub, username string, roles ...string) string {
	return "Bearer " + GenerateTestJWT(sub, username, roles...)
}
