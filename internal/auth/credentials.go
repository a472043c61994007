// Package auth provides credential hashing and the login flow.
package auth

import (
	"unicode"

	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/nexuzy/fides/internal/errors"
)

// MinSecretLength is the minimum accepted secret length.
const MinSecretLength = 6

// HashSecret derives a bcrypt digest from a plain secret. The plain secret
// never leaves this package boundary in any other form.
func HashSecret(secret string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrInternal, "failed to hash secret", err)
	}
	return string(digest), nil
}

// VerifySecret checks a plain secret against a stored digest.
func VerifySecret(digest, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(secret)) == nil
}

// ValidateSecretStrength enforces the minimum secret policy: at least six
// characters, containing both letters and digits.
func ValidateSecretStrength(secret string) error {
	if len(secret) < MinSecretLength {
		return apperrors.Newf(apperrors.ErrValidation,
			"secret must be at least %d characters", MinSecretLength)
	}

	hasLetter, hasDigit := false, false
	for _, r := range secret {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return apperrors.New(apperrors.ErrValidation,
			"secret must contain letters and digits")
	}
	return nil
}
