package models

import (
	"time"

	apperrors "github.com/nexuzy/fides/internal/errors"
)

// SyncState is the two-state sync lifecycle flag on an Item.
type SyncState int

const (
	// SyncPending means the latest local version has not been confirmed
	// written to the remote document store.
	SyncPending SyncState = 0
	// SyncSynced means the remote store holds the latest local version.
	SyncSynced SyncState = 1
)

// String returns a human-readable form of the sync state.
func (s SyncState) String() string {
	if s == SyncSynced {
		return "synced"
	}
	return "pending"
}

// Item represents an inventory article record.
// AttachmentPath, once set, always holds a remote blob path of the form
// <base_dir>/<filename>; it is never rewritten to a local filesystem path.
type Item struct {
	ID             string    `db:"id" json:"id" validate:"required"`
	Name           string    `db:"name" json:"name" validate:"required"`
	CategoryA      string    `db:"category_a" json:"category_a" validate:"required"`
	CategoryB      string    `db:"category_b" json:"category_b"`
	VariantTag     string    `db:"variant" json:"variant"`
	OwnerID        string    `db:"owner_id" json:"owner_id" validate:"required"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
	SyncState      SyncState `db:"sync_state" json:"sync_state"`
	AttachmentPath *string   `db:"attachment_path" json:"attachment_path,omitempty"`
}

// TableName returns the table name for Item.
func (Item) TableName() string {
	return "items"
}

// Validate checks required fields. OwnerID is a soft reference; existence of
// the referenced account is not checked here.
func (i *Item) Validate() error {
	if err := validate.Struct(i); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "invalid item", err)
	}
	return nil
}

// ItemFields is the set of caller-editable item fields used by updates.
type ItemFields struct {
	Name       string `validate:"required"`
	CategoryA  string `validate:"required"`
	CategoryB  string
	VariantTag string
}

// Validate checks required update fields.
func (f *ItemFields) Validate() error {
	if err := validate.Struct(f); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "invalid item fields", err)
	}
	return nil
}

// ItemDocument is the remote wire form of an Item. The local sync_state flag
// is deliberately absent: it has no meaning outside the local store.
type ItemDocument struct {
	Name           string `json:"name"`
	CategoryA      string `json:"category_a"`
	CategoryB      string `json:"category_b"`
	VariantTag     string `json:"variant"`
	OwnerID        string `json:"owner_id"`
	CreatedAt      string `json:"created_at,omitempty"`
	UpdatedAt      string `json:"updated_at,omitempty"`
	AttachmentPath string `json:"attachment_path,omitempty"`
}

// ToDocument converts the item to its wire form.
func (i *Item) ToDocument() ItemDocument {
	doc := ItemDocument{
		Name:       i.Name,
		CategoryA:  i.CategoryA,
		CategoryB:  i.CategoryB,
		VariantTag: i.VariantTag,
		OwnerID:    i.OwnerID,
		CreatedAt:  FormatTime(i.CreatedAt),
		UpdatedAt:  FormatTime(i.UpdatedAt),
	}
	if i.AttachmentPath != nil {
		doc.AttachmentPath = *i.AttachmentPath
	}
	return doc
}

// ItemFromDocument converts a wire document back into an Item. Items coming
// off the wire are remote-confirmed, so the sync state is synced.
func ItemFromDocument(id string, doc ItemDocument) (*Item, error) {
	createdAt, err := ParseTimeOrZero(doc.CreatedAt)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "bad created_at in item document", err)
	}
	updatedAt, err := ParseTimeOrZero(doc.UpdatedAt)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "bad updated_at in item document", err)
	}

	item := &Item{
		ID:         id,
		Name:       doc.Name,
		CategoryA:  doc.CategoryA,
		CategoryB:  doc.CategoryB,
		VariantTag: doc.VariantTag,
		OwnerID:    doc.OwnerID,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
		SyncState:  SyncSynced,
	}
	if doc.AttachmentPath != "" {
		p := doc.AttachmentPath
		item.AttachmentPath = &p
	}
	return item, nil
}
