package authn_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harshith2412/zta-finance/internal/authn"
	"github.com/Harshith2412/zta-finance/internal/domain"
)

// fastParams keeps argon2 cheap in tests; strength is not under test here.
var fastParams = authn.HashParams{
	Memory:      8 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

func TestHashVerify(t *testing.T) {
	hasher := authn.NewHasher(fastParams)

	t.Run("round trip", func(t *testing.T) {
		encoded, err := hasher.Hash("correct horse battery staple")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$"), "PHC format: %s", encoded)

		res, err := hasher.Verify("correct horse battery staple", encoded)
		require.NoError(t, err)
		assert.True(t, res.Verified)
		assert.False(t, res.RehashNeeded)
	})

	t.Run("same password hashes differently", func(t *testing.T) {
		a, err := hasher.Hash("pw")
		require.NoError(t, err)
		b, err := hasher.Hash("pw")
		require.NoError(t, err)
		assert.NotEqual(t, a, b, "salts must differ")
	})

	t.Run("wrong password", func(t *testing.T) {
		encoded, err := hasher.Hash("right")
		require.NoError(t, err)

		res, err := hasher.Verify("wrong", encoded)
		assert.ErrorIs(t, err, domain.ErrBadCredentials)
		assert.False(t, res.Verified)
	})

	t.Run("malformed hash is indistinguishable from a mismatch", func(t *testing.T) {
		for _, bad := range []string{
			"",
			"plaintext",
			"$argon2i$v=19$m=8192,t=1,p=1$AAAA$BBBB",
			"$argon2id$v=19$m=8192,t=1,p=1$not!base64$BBBB",
		} {
			_, err := hasher.Verify("anything", bad)
			assert.ErrorIs(t, err, domain.ErrBadCredentials, "input: %q", bad)
		}
	})

	t.Run("rehash flagged after parameters are raised", func(t *testing.T) {
		old, err := authn.NewHasher(fastParams).Hash("pw")
		require.NoError(t, err)

		stronger := fastParams
		stronger.Iterations = 2
		res, err := authn.NewHasher(stronger).Verify("pw", old)
		require.NoError(t, err)
		assert.True(t, res.Verified)
		assert.True(t, res.RehashNeeded)
	})

	t.Run("default parameters verify their own output", func(t *testing.T) {
		def := authn.NewHasher(authn.DefaultHashParams)
		encoded, err := def.Hash("pw")
		require.NoError(t, err)
		assert.Contains(t, encoded, "m=65536,t=3,p=4")

		res, err := def.Verify("pw", encoded)
		require.NoError(t, err)
		assert.True(t, res.Verified)
	})
}
