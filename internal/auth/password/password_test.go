package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerify(t *testing.T) {
	encoded, err := Hash("correct-horse")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$"))

	assert.True(t, Verify("correct-horse", encoded))
	assert.False(t, Verify("wrong-password", encoded))
	assert.False(t, Verify("", encoded))
}

func TestHashIsSalted(t *testing.T) {
	a, err := Hash("correct-horse")
	require.NoError(t, err)
	b, err := Hash("correct-horse")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.True(t, Verify("correct-horse", a))
	assert.True(t, Verify("correct-horse", b))
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	for _, encoded := range []string{
		"",
		"plaintext",
		"$argon2i$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=65536,t=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=65536,t=1,p=4$!!!$aGFzaA",
	} {
		assert.False(t, Verify("correct-horse", encoded), "hash %q", encoded)
	}
}
