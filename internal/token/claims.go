package token

import (
	"encoding/json"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Harshith2412/zta-finance/internal/domain"
)

// Claims is the claim set carried by every token this gateway issues.
// Standard fields are typed; anything a caller adds at mint time lands in
// Extra and survives the round trip through the wire form intact.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string           `json:"user_id,omitempty"`
	Roles    []string         `json:"roles,omitempty"`
	DeviceID string           `json:"device_id,omitempty"`
	Type     domain.TokenType `json:"type"`

	// Extra holds additional claims outside the fixed schema. Keys that
	// collide with fixed claim names are ignored on encode.
	Extra map[string]any `json:"-"`
}

// fixedClaimKeys are the JSON keys owned by the typed fields above.
// Extra entries under these names never override the typed values.
var fixedClaimKeys = map[string]struct{}{
	"iss": {}, "sub": {}, "aud": {}, "exp": {}, "nbf": {}, "iat": {}, "jti": {},
	"user_id": {}, "roles": {}, "device_id": {}, "type": {},
}

// claimsAlias breaks the MarshalJSON/UnmarshalJSON recursion.
type claimsAlias Claims

// MarshalJSON flattens Extra into the claim object next to the fixed fields.
func (c Claims) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(claimsAlias(c))
	if err != nil {
		return nil, err
	}
	if len(c.Extra) == 0 {
		return raw, nil
	}

	var merged map[string]any
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, err
	}
	for k, v := range c.Extra {
		if _, fixed := fixedClaimKeys[k]; fixed {
			continue
		}
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON fills the fixed fields and collects every unknown claim
// into Extra, so verification hands back exactly what was minted.
func (c *Claims) UnmarshalJSON(data []byte) error {
	var alias claimsAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*c = Claims(alias)

	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k := range all {
		if _, fixed := fixedClaimKeys[k]; fixed {
			delete(all, k)
		}
	}
	if len(all) > 0 {
		c.Extra = all
	}
	return nil
}

// Ensure Claims satisfies the jwt claim contract at compile time.
var _ jwt.Claims = (*Claims)(nil)
