package authn

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/Harshith2412/zta-finance/internal/domain"
)

// totpSecretBytes sizes new TOTP secrets at 160 bits, the RFC 4226
// recommended minimum.
const totpSecretBytes = 20

var b32NoPadding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateMFASecret creates a new shared TOTP secret, base32-encoded for
// authenticator apps.
func GenerateMFASecret() (domain.SecretString, error) {
	buf := make([]byte, totpSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate totp secret: %w", err)
	}
	return domain.SecretString(b32NoPadding.EncodeToString(buf)), nil
}

// ProvisioningURI renders the otpauth:// enrollment URI for a secret, in
// the form authenticator apps consume from a QR code.
func ProvisioningURI(secret domain.SecretString, account, issuer string) (string, error) {
	raw, err := b32NoPadding.DecodeString(secret.Expose())
	if err != nil {
		return "", fmt.Errorf("decode totp secret: %w", err)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Secret:      raw,
		Period:      uint(domain.TOTPPeriod.Seconds()),
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("build provisioning uri: %w", err)
	}
	return key.URL(), nil
}

// validTOTPCode checks a six-digit code against the secret, accepting one
// step of clock skew either side of now.
func validTOTPCode(secret domain.SecretString, code string, now time.Time) bool {
	// ValidateCustom only errors on malformed input, which counts as an
	// invalid code here.
	ok, err := totp.ValidateCustom(code, secret.Expose(), now, totp.ValidateOpts{
		Period:    uint(domain.TOTPPeriod.Seconds()),
		Skew:      domain.TOTPSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// GenerateTOTPCode computes the current code for a secret. Test helper and
// enrollment verification aid; production verification goes through
// Service.VerifyMFACode so replay suppression applies.
func GenerateTOTPCode(secret domain.SecretString, now time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret.Expose(), now, totp.ValidateOpts{
		Period:    uint(domain.TOTPPeriod.Seconds()),
		Skew:      domain.TOTPSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}
