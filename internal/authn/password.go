package authn

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/Harshith2412/zta-finance/internal/domain"
)

// HashParams are the argon2id cost parameters. Stored hashes embed the
// parameters they were created with, so raising these later only affects
// new hashes; Verify flags old ones for rehash.
type HashParams struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultHashParams match the OWASP recommendation for argon2id.
var DefaultHashParams = HashParams{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 4,
	SaltLength:  16,
	KeyLength:   32,
}

// VerifyResult reports the outcome of a password check.
type VerifyResult struct {
	Verified bool
	// RehashNeeded is set when the stored hash was created with weaker
	// parameters than the hasher currently uses. Callers should rehash
	// and store on next successful login.
	RehashNeeded bool
}

// Hasher hashes and verifies passwords with argon2id. The encoded form is
// the standard PHC string, e.g.
//
//	$argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
type Hasher struct {
	params HashParams
}

// NewHasher creates a Hasher; zero params fall back to defaults.
func NewHasher(params HashParams) *Hasher {
	if params == (HashParams{}) {
		params = DefaultHashParams
	}
	return &Hasher{params: params}
}

// Hash derives an argon2id hash of password with a fresh random salt.
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt,
		h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.Memory, h.params.Iterations, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key))
	return encoded, nil
}

// Verify checks password against an encoded hash in constant time.
//
// A mismatch and an unparseable hash both come back as ErrBadCredentials.
// Callers verifying against a nonexistent user should pass any well-formed
// dummy hash; either way the same work is done and the same error returned,
// so response timing does not reveal which usernames exist.
func (h *Hasher) Verify(password, encoded string) (VerifyResult, error) {
	params, salt, key, err := decodeHash(encoded)
	if err != nil {
		// Burn the same work as a real comparison before rejecting.
		dummy := make([]byte, h.params.SaltLength)
		argon2.IDKey([]byte(password), dummy,
			h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)
		return VerifyResult{}, domain.ErrBadCredentials
	}

	candidate := argon2.IDKey([]byte(password), salt,
		params.Iterations, params.Memory, params.Parallelism, uint32(len(key)))

	if subtle.ConstantTimeCompare(candidate, key) != 1 {
		return VerifyResult{}, domain.ErrBadCredentials
	}

	return VerifyResult{
		Verified:     true,
		RehashNeeded: h.needsRehash(params),
	}, nil
}

// needsRehash reports whether stored parameters are weaker than current ones.
func (h *Hasher) needsRehash(stored HashParams) bool {
	return stored.Memory < h.params.Memory ||
		stored.Iterations < h.params.Iterations ||
		stored.Parallelism < h.params.Parallelism ||
		stored.KeyLength < h.params.KeyLength
}

var errMalformedHash = errors.New("malformed password hash")

// decodeHash splits a PHC argon2id string into its parameters, salt and key.
func decodeHash(encoded string) (HashParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return HashParams{}, nil, nil, errMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return HashParams{}, nil, nil, errMalformedHash
	}
	if version != argon2.Version {
		return HashParams{}, nil, nil, fmt.Errorf("unsupported argon2 version %d", version)
	}

	var params HashParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d",
		&params.Memory, &params.Iterations, &params.Parallelism); err != nil {
		return HashParams{}, nil, nil, errMalformedHash
	}

	salt, err := base64.RawStdEncoding.Strict().DecodeString(parts[4])
	if err != nil {
		return HashParams{}, nil, nil, errMalformedHash
	}
	key, err := base64.RawStdEncoding.Strict().DecodeString(parts[5])
	if err != nil {
		return HashParams{}, nil, nil, errMalformedHash
	}

	params.SaltLength = uint32(len(salt))
	params.KeyLength = uint32(len(key))
	return params, salt, key, nil
}
