package domain

import "time"

// Attribute names understood by policy conditions. Fixed attributes resolve
// from the typed fields of AccessContext; any other name resolves from
// Extensions. Policy documents reference these names directly.
const (
	AttrUserID            = "user_id"
	AttrUsername          = "username"
	AttrRoles             = "roles"
	AttrUserVerified      = "user_verified"
	AttrDeviceTrusted     = "device_trusted"
	AttrMFAVerified       = "mfa_verified"
	AttrDeviceID          = "device_id"
	AttrIPAddress         = "ip_address"
	AttrLocation          = "location"
	AttrTransactionAmount = "transaction_amount"
	AttrSessionID         = "session_id"
	AttrRiskScore         = "risk_score"
	AttrDecisionTimestamp = "decision_timestamp"
)

// AccessContext carries everything known about one request at decision time.
// It is a value: enrichment returns a copy, callers never share mutable state
// through it.
//
// RiskScore and DecisionTime are set together by the decision point via
// WithDecision; they are absent until then.
type AccessContext struct {
	UserID       string
	Username     string
	Roles        []string
	UserVerified bool

	// DeviceTrusted and MFAVerified are claims established upstream
	// (device verifier, authenticator) before the decision is made.
	DeviceTrusted bool
	MFAVerified   bool

	DeviceID  string
	IPAddress string
	Location  Location
	SessionID string

	// Amount is nil when the request carries no monetary value. A present
	// zero and an absent amount are different things to range conditions.
	Amount *float64

	RiskScore    int
	DecisionTime time.Time

	// Extensions holds deployment-specific attributes (e.g. ip_whitelisted,
	// suspicious_ip). Fixed attribute names never fall back here.
	Extensions map[string]any
}

// WithDecision returns a copy enriched with the computed risk score and the
// decision timestamp. The decision point calls this exactly once per request
// before policy evaluation.
func (c AccessContext) WithDecision(riskScore int, at time.Time) AccessContext {
	c.RiskScore = riskScore
	c.DecisionTime = at.UTC()
	return c
}

// TransactionAmount returns the monetary value of the request, if any.
func (c AccessContext) TransactionAmount() (float64, bool) {
	if c.Amount == nil {
		return 0, false
	}
	return *c.Amount, true
}

// Attribute resolves a condition key to its value. The second return is
// false when the attribute is absent from this context. Boolean attributes
// are always present; their zero value is an honest "false".
func (c AccessContext) Attribute(key string) (any, bool) {
	switch key {
	case AttrUserID:
		return presentString(c.UserID)
	case AttrUsername:
		return presentString(c.Username)
	case AttrRoles:
		if len(c.Roles) == 0 {
			return nil, false
		}
		return c.Roles, true
	case AttrUserVerified:
		return c.UserVerified, true
	case AttrDeviceTrusted:
		return c.DeviceTrusted, true
	case AttrMFAVerified:
		return c.MFAVerified, true
	case AttrDeviceID:
		return presentString(c.DeviceID)
	case AttrIPAddress:
		return presentString(c.IPAddress)
	case AttrLocation:
		if c.Location.IsZero() {
			return nil, false
		}
		return c.Location.String(), true
	case AttrTransactionAmount:
		if c.Amount == nil {
			return nil, false
		}
		return *c.Amount, true
	case AttrSessionID:
		return presentString(c.SessionID)
	case AttrRiskScore:
		if c.DecisionTime.IsZero() {
			return nil, false
		}
		return c.RiskScore, true
	case AttrDecisionTimestamp:
		if c.DecisionTime.IsZero() {
			return nil, false
		}
		return FormatTimestamp(c.DecisionTime), true
	default:
		if c.Extensions == nil {
			return nil, false
		}
		v, ok := c.Extensions[key]
		return v, ok
	}
}

// BoolExtension reads a boolean extension attribute, absent meaning false.
func (c AccessContext) BoolExtension(key string) bool {
	v, ok := c.Extensions[key]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// HasRole reports whether the context carries the given role.
func (c AccessContext) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func presentString(s string) (any, bool) {
	if s == "" {
		return nil, false
	}
	return s, true
}
