// Package db provides unit tests for the account and item store.
package db

import (
	"context"
	"testing"
	"time"

	"github.com/nexuzy/fides/internal/ids"
	"github.com/nexuzy/fides/internal/models"

	apperrors "github.com/nexuzy/fides/internal/errors"
)

// setupTestStore creates an in-memory SQLite store with migrations applied.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	store := NewStore(database)
	t.Cleanup(func() { store.Close() })
	return store
}

func testAccount(t *testing.T, handle string) *models.Account {
	t.Helper()
	return &models.Account{
		ID:               ids.NewAccountID(),
		Handle:           handle,
		CredentialDigest: "$2a$10$abcdefghijklmnopqrstuvwxyz0123456789abcdefghijklmnopq",
		Role:             models.RoleStandard,
		CreatedAt:        time.Now().UTC(),
	}
}

func testItem(t *testing.T, ownerID string) *models.Item {
	t.Helper()
	return &models.Item{
		ID:        ids.NewItemID(),
		Name:      "Blue Widget",
		CategoryA: "Widgets",
		CategoryB: "Small",
		OwnerID:   ownerID,
	}
}

// =====================================================
// Schema
// =====================================================

func TestMigrationsApplySchema(t *testing.T) {
	store := setupTestStore(t)

	// The additive migration must leave attachment_path readable.
	var count int
	err := store.DB().QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info('items') WHERE name = 'attachment_path'`,
	).Scan(&count)
	if err != nil {
		t.Fatalf("Failed to inspect schema: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected attachment_path column to exist, got count %d", count)
	}
}

// =====================================================
// Account Store Tests
// =====================================================

func TestPutAndGetAccount(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	acc := testAccount(t, "alice")
	if err := store.PutAccount(ctx, acc); err != nil {
		t.Fatalf("PutAccount failed: %v", err)
	}

	got, err := store.GetAccountByHandle(ctx, "alice")
	if err != nil {
		t.Fatalf("GetAccountByHandle failed: %v", err)
	}
	if got.ID != acc.ID {
		t.Errorf("Expected id %s, got %s", acc.ID, got.ID)
	}
	if got.CredentialDigest != acc.CredentialDigest {
		t.Error("Expected credential digest to round-trip")
	}
	if got.Role != models.RoleStandard {
		t.Errorf("Expected role standard, got %s", got.Role)
	}
	if got.LastAuthenticatedAt != nil {
		t.Error("Expected last_authenticated_at to be unset")
	}
}

func TestPutAccountUpsertsByID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	acc := testAccount(t, "alice")
	if err := store.PutAccount(ctx, acc); err != nil {
		t.Fatalf("PutAccount failed: %v", err)
	}

	acc.Role = models.RoleAdministrator
	if err := store.PutAccount(ctx, acc); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := store.GetAccountByID(ctx, acc.ID)
	if err != nil {
		t.Fatalf("GetAccountByID failed: %v", err)
	}
	if got.Role != models.RoleAdministrator {
		t.Errorf("Expected role administrator after upsert, got %s", got.Role)
	}

	n, err := store.CountAccounts(ctx)
	if err != nil {
		t.Fatalf("CountAccounts failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 account after upsert, got %d", n)
	}
}

func TestPutAccountHandleConflict(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.PutAccount(ctx, testAccount(t, "alice")); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	dup := testAccount(t, "alice")
	err := store.PutAccount(ctx, dup)
	if !apperrors.Is(err, apperrors.ErrConflict) {
		t.Errorf("Expected CONFLICT for duplicate handle, got %v", err)
	}
}

func TestGetAccountNotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.GetAccountByHandle(ctx, "nobody"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected NOT_FOUND, got %v", err)
	}
	if _, err := store.GetAccountByID(ctx, ids.NewAccountID()); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected NOT_FOUND, got %v", err)
	}
}

func TestDeleteAccount(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	acc := testAccount(t, "alice")
	if err := store.PutAccount(ctx, acc); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	if err := store.DeleteAccount(ctx, acc.ID); err != nil {
		t.Fatalf("DeleteAccount failed: %v", err)
	}
	if _, err := store.GetAccountByID(ctx, acc.ID); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected NOT_FOUND after delete, got %v", err)
	}
	if err := store.DeleteAccount(ctx, acc.ID); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected NOT_FOUND for second delete, got %v", err)
	}
}

func TestTouchLastAuthenticated(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	acc := testAccount(t, "alice")
	if err := store.PutAccount(ctx, acc); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	when := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := store.TouchLastAuthenticated(ctx, acc.ID, when); err != nil {
		t.Fatalf("TouchLastAuthenticated failed: %v", err)
	}

	got, err := store.GetAccountByID(ctx, acc.ID)
	if err != nil {
		t.Fatalf("GetAccountByID failed: %v", err)
	}
	if got.LastAuthenticatedAt == nil || !got.LastAuthenticatedAt.Equal(when) {
		t.Errorf("Expected last_authenticated_at %v, got %v", when, got.LastAuthenticatedAt)
	}
}

func TestInsertImportedAccountAllowsMissingDigest(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	acc := testAccount(t, "alice")
	acc.CredentialDigest = ""
	if err := store.InsertImportedAccount(ctx, acc); err != nil {
		t.Fatalf("InsertImportedAccount failed: %v", err)
	}

	got, err := store.GetAccountByHandle(ctx, "alice")
	if err != nil {
		t.Fatalf("GetAccountByHandle failed: %v", err)
	}
	if got.CredentialDigest != "" {
		t.Error("Expected empty digest for imported account")
	}
}

func TestListAccountsOrderedByCreation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first := testAccount(t, "alice")
	first.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	second := testAccount(t, "bob")
	second.CreatedAt = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	// Insert out of order to prove the sort.
	if err := store.PutAccount(ctx, second); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if err := store.PutAccount(ctx, first); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	accounts, err := store.ListAccounts(ctx)
	if err != nil {
		t.Fatalf("ListAccounts failed: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("Expected 2 accounts, got %d", len(accounts))
	}
	if accounts[0].Handle != "alice" || accounts[1].Handle != "bob" {
		t.Errorf("Expected creation order alice,bob, got %s,%s",
			accounts[0].Handle, accounts[1].Handle)
	}
}

// =====================================================
// Item Store Tests
// =====================================================

func TestPutItemDefaultsToPending(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	item := testItem(t, ids.NewAccountID())
	if err := store.PutItem(ctx, item); err != nil {
		t.Fatalf("PutItem failed: %v", err)
	}

	got, err := store.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if got.SyncState != models.SyncPending {
		t.Errorf("Expected new item pending, got %s", got.SyncState)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("Expected timestamps to be filled on insert")
	}
}

func TestPutItemValidation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	item := testItem(t, ids.NewAccountID())
	item.CategoryA = ""
	if err := store.PutItem(ctx, item); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected VALIDATION_ERROR for missing category, got %v", err)
	}
}

func TestUpdateItemResetsToPending(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	item := testItem(t, ids.NewAccountID())
	if err := store.PutItem(ctx, item); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if _, err := store.MarkItemSynced(ctx, item.ID, item.UpdatedAt); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	before, _ := store.GetItem(ctx, item.ID)

	fields := models.ItemFields{
		Name:      "Red Widget",
		CategoryA: "Widgets",
	}
	if err := store.UpdateItem(ctx, item.ID, fields); err != nil {
		t.Fatalf("UpdateItem failed: %v", err)
	}

	got, err := store.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if got.Name != "Red Widget" {
		t.Errorf("Expected name Red Widget, got %s", got.Name)
	}
	if got.SyncState != models.SyncPending {
		t.Error("Expected edit to flip item back to pending")
	}
	if got.UpdatedAt.Before(before.UpdatedAt) {
		t.Error("Expected updated_at to advance")
	}
}

func TestUpdateItemNotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	fields := models.ItemFields{Name: "x", CategoryA: "y"}
	if err := store.UpdateItem(ctx, "Fides-ZZZZZZ", fields); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected NOT_FOUND, got %v", err)
	}
}

func TestSetItemAttachment(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	item := testItem(t, ids.NewAccountID())
	if err := store.PutItem(ctx, item); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if _, err := store.MarkItemSynced(ctx, item.ID, item.UpdatedAt); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	remotePath := "/fides/articles/images/article_20260301_120000_abc123.jpg"
	if err := store.SetItemAttachment(ctx, item.ID, remotePath); err != nil {
		t.Fatalf("SetItemAttachment failed: %v", err)
	}

	got, err := store.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if got.AttachmentPath == nil || *got.AttachmentPath != remotePath {
		t.Errorf("Expected attachment path %s, got %v", remotePath, got.AttachmentPath)
	}
	if got.SyncState != models.SyncPending {
		t.Error("Expected attachment change to flip item back to pending")
	}

	if err := store.SetItemAttachment(ctx, item.ID, ""); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Error("Expected VALIDATION_ERROR for empty attachment path")
	}
}

func TestMarkItemSynced(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	item := testItem(t, ids.NewAccountID())
	if err := store.PutItem(ctx, item); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	flipped, err := store.MarkItemSynced(ctx, item.ID, item.UpdatedAt)
	if err != nil {
		t.Fatalf("MarkItemSynced failed: %v", err)
	}
	if !flipped {
		t.Fatal("Expected pending item matching the snapshot to flip")
	}

	got, _ := store.GetItem(ctx, item.ID)
	if got.SyncState != models.SyncSynced {
		t.Errorf("Expected synced, got %s", got.SyncState)
	}

	pending, err := store.CountPendingItems(ctx)
	if err != nil {
		t.Fatalf("CountPendingItems failed: %v", err)
	}
	if pending != 0 {
		t.Errorf("Expected 0 pending items, got %d", pending)
	}
}

func TestMarkItemSyncedSkipsStaleSnapshot(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	item := testItem(t, ids.NewAccountID())
	item.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	item.UpdatedAt = item.CreatedAt
	if err := store.PutItem(ctx, item); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	snapshot := item.UpdatedAt

	// An edit after the snapshot was taken bumps updated_at, so the flip
	// keyed on the stale snapshot must not land.
	fields := models.ItemFields{Name: "Edited", CategoryA: item.CategoryA}
	if err := store.UpdateItem(ctx, item.ID, fields); err != nil {
		t.Fatalf("UpdateItem failed: %v", err)
	}

	flipped, err := store.MarkItemSynced(ctx, item.ID, snapshot)
	if err != nil {
		t.Fatalf("MarkItemSynced failed: %v", err)
	}
	if flipped {
		t.Fatal("Expected stale snapshot not to flip an edited item")
	}

	got, _ := store.GetItem(ctx, item.ID)
	if got.SyncState != models.SyncPending {
		t.Errorf("Expected edited item to stay pending, got %s", got.SyncState)
	}

	// Already-synced items never flip again either.
	current, _ := store.GetItem(ctx, item.ID)
	if flipped, err := store.MarkItemSynced(ctx, item.ID, current.UpdatedAt); err != nil || !flipped {
		t.Fatalf("Expected fresh snapshot to flip, got flipped=%v err=%v", flipped, err)
	}
	if flipped, err := store.MarkItemSynced(ctx, item.ID, current.UpdatedAt); err != nil || flipped {
		t.Fatalf("Expected synced item not to flip again, got flipped=%v err=%v", flipped, err)
	}
}

func TestListPendingItemsAscendingByCreation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	owner := ids.NewAccountID()

	older := testItem(t, owner)
	older.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	older.UpdatedAt = older.CreatedAt
	newer := testItem(t, owner)
	newer.CreatedAt = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	newer.UpdatedAt = newer.CreatedAt
	synced := testItem(t, owner)

	for _, it := range []*models.Item{newer, older, synced} {
		if err := store.PutItem(ctx, it); err != nil {
			t.Fatalf("Setup failed: %v", err)
		}
	}
	if _, err := store.MarkItemSynced(ctx, synced.ID, synced.UpdatedAt); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	pending, err := store.ListPendingItems(ctx)
	if err != nil {
		t.Fatalf("ListPendingItems failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("Expected 2 pending items, got %d", len(pending))
	}
	if pending[0].ID != older.ID || pending[1].ID != newer.ID {
		t.Error("Expected pending items in ascending creation order")
	}
}

func TestListItemsByOwner(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	ownerA := ids.NewAccountID()
	ownerB := ids.NewAccountID()
	for i := 0; i < 3; i++ {
		if err := store.PutItem(ctx, testItem(t, ownerA)); err != nil {
			t.Fatalf("Setup failed: %v", err)
		}
	}
	if err := store.PutItem(ctx, testItem(t, ownerB)); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	items, err := store.ListItemsByOwner(ctx, ownerA)
	if err != nil {
		t.Fatalf("ListItemsByOwner failed: %v", err)
	}
	if len(items) != 3 {
		t.Errorf("Expected 3 items for owner, got %d", len(items))
	}
}

func TestInsertSyncedItemPreservesState(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	created := time.Date(2025, 12, 1, 8, 30, 0, 0, time.UTC)
	item := testItem(t, ids.NewAccountID())
	item.CreatedAt = created
	item.UpdatedAt = created

	if err := store.InsertSyncedItem(ctx, item); err != nil {
		t.Fatalf("InsertSyncedItem failed: %v", err)
	}

	got, err := store.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if got.SyncState != models.SyncSynced {
		t.Error("Expected imported item to be synced")
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("Expected created_at preserved as %v, got %v", created, got.CreatedAt)
	}

	if err := store.InsertSyncedItem(ctx, item); !apperrors.Is(err, apperrors.ErrConflict) {
		t.Errorf("Expected CONFLICT for duplicate import, got %v", err)
	}
}

func TestDeleteItem(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	item := testItem(t, ids.NewAccountID())
	if err := store.PutItem(ctx, item); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	if err := store.DeleteItem(ctx, item.ID); err != nil {
		t.Fatalf("DeleteItem failed: %v", err)
	}
	if _, err := store.GetItem(ctx, item.ID); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected NOT_FOUND after delete, got %v", err)
	}
}
