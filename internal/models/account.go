// Package models provides data model definitions for the Fides sync core.
package models

import (
	"time"

	apperrors "github.com/nexuzy/fides/internal/errors"
)

// Role represents an account permission level.
type Role string

const (
	RoleStandard      Role = "standard"
	RoleAdministrator Role = "administrator"
)

// Valid reports whether the role is one of the known permission levels.
func (r Role) Valid() bool {
	return r == RoleStandard || r == RoleAdministrator
}

// Account represents a local user account.
// CredentialDigest holds a bcrypt digest and is never serialized to metadata
// documents or logs.
type Account struct {
	ID                  string     `db:"id" json:"id" validate:"required"`
	Handle              string     `db:"handle" json:"handle" validate:"required"`
	CredentialDigest    string     `db:"credential_digest" json:"-" validate:"required"`
	Role                Role       `db:"role" json:"role" validate:"required"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	LastAuthenticatedAt *time.Time `db:"last_authenticated_at" json:"last_authenticated_at,omitempty"`
}

// TableName returns the table name for Account.
func (Account) TableName() string {
	return "accounts"
}

// IsAdministrator reports whether the account has administrator permissions.
func (a *Account) IsAdministrator() bool {
	return a.Role == RoleAdministrator
}

// Validate checks required fields and enum values.
func (a *Account) Validate() error {
	if err := validate.Struct(a); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "invalid account", err)
	}
	if !a.Role.Valid() {
		return apperrors.Newf(apperrors.ErrValidation, "unknown role %q", a.Role)
	}
	return nil
}

// AccountDocument is the remote wire form of an Account.
// CredentialDigest is present only on account-creation writes; metadata
// updates omit it entirely.
type AccountDocument struct {
	Handle              string `json:"handle"`
	Role                string `json:"role"`
	CredentialDigest    string `json:"credential_digest,omitempty"`
	CreatedAt           string `json:"created_at,omitempty"`
	LastAuthenticatedAt string `json:"last_authenticated_at,omitempty"`
}

// ToDocument converts the account to its wire form. The credential digest is
// included only when includeDigest is set (account creation).
func (a *Account) ToDocument(includeDigest bool) AccountDocument {
	doc := AccountDocument{
		Handle:    a.Handle,
		Role:      string(a.Role),
		CreatedAt: FormatTime(a.CreatedAt),
	}
	if a.LastAuthenticatedAt != nil {
		doc.LastAuthenticatedAt = FormatTime(*a.LastAuthenticatedAt)
	}
	if includeDigest {
		doc.CredentialDigest = a.CredentialDigest
	}
	return doc
}

// AccountFromDocument converts a wire document back into an Account.
// Remote documents may omit the digest; such accounts cannot authenticate
// locally until a digest is set.
func AccountFromDocument(id string, doc AccountDocument) (*Account, error) {
	createdAt, err := ParseTimeOrZero(doc.CreatedAt)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "bad created_at in account document", err)
	}

	acc := &Account{
		ID:               id,
		Handle:           doc.Handle,
		CredentialDigest: doc.CredentialDigest,
		Role:             Role(doc.Role),
		CreatedAt:        createdAt,
	}
	if doc.Role == "" {
		acc.Role = RoleStandard
	}
	if doc.LastAuthenticatedAt != "" {
		t, err := ParseTime(doc.LastAuthenticatedAt)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrValidation, "bad last_authenticated_at in account document", err)
		}
		acc.LastAuthenticatedAt = &t
	}
	return acc, nil
}
