// Package token provides the stored OAuth credential and the key-value
// stores it is read from.
package token

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Credential is the access credential written by the external token-setup
// flow. Only the fields the proxy reads are declared; extra fields in the
// stored JSON (refresh token, scopes) are ignored.
type Credential struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"` // unix seconds; 0 means no expiry recorded
}

// Parse deserializes a stored credential value.
func Parse(raw string) (Credential, error) {
	var c Credential
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return Credential{}, fmt.Errorf("decode credential: %w", err)
	}
	if strings.TrimSpace(c.AccessToken) == "" {
		return Credential{}, fmt.Errorf("decode credential: missing access_token")
	}
	return c, nil
}

// Expired reports whether the credential is unusable at now. The boundary
// is inclusive: a credential whose expiry equals now is already expired.
func (c Credential) Expired(now time.Time) bool {
	if c.ExpiresAt == 0 {
		return false
	}
	return !now.Before(time.Unix(c.ExpiresAt, 0))
}
