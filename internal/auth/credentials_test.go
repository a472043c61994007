package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/nexuzy/fides/internal/errors"
)

func TestHashAndVerifySecret(t *testing.T) {
	digest, err := HashSecret("secret1")
	require.NoError(t, err)
	assert.NotEqual(t, "secret1", digest, "digest must not be the plain secret")

	assert.True(t, VerifySecret(digest, "secret1"))
	assert.False(t, VerifySecret(digest, "secret2"))
	assert.False(t, VerifySecret("", "secret1"))
}

func TestHashSecretSalted(t *testing.T) {
	a, err := HashSecret("secret1")
	require.NoError(t, err)
	b, err := HashSecret("secret1")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "bcrypt digests carry a random salt")
}

func TestValidateSecretStrength(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		ok     bool
	}{
		{"valid", "abc123", true},
		{"valid long", "correct horse 9", true},
		{"too short", "a1", false},
		{"letters only", "abcdef", false},
		{"digits only", "123456", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSecretStrength(tt.secret)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
			}
		})
	}
}
