// Package sync drives reconciliation between the local record store and the
// remote document store.
package sync

import (
	"context"

	"github.com/nexuzy/fides/internal/blob/cache"
	"github.com/nexuzy/fides/internal/db"
	apperrors "github.com/nexuzy/fides/internal/errors"
	"github.com/nexuzy/fides/internal/logging"
	"github.com/nexuzy/fides/internal/models"
)

// RecordKind names an entity type for delete propagation.
type RecordKind string

const (
	KindItem    RecordKind = "item"
	KindAccount RecordKind = "account"
)

// DocumentStore is the remote surface the engine needs. *remote.Client
// implements it; tests substitute an in-memory fake.
type DocumentStore interface {
	IsReachable() bool
	UpsertItem(ctx context.Context, item models.Item) error
	DeleteItem(ctx context.Context, id string) error
	ListAllItems(ctx context.Context) ([]models.Item, error)
	ListAllAccounts(ctx context.Context) ([]models.Account, error)
	DeleteAccount(ctx context.Context, id string) error
}

// Engine reconciles the local store with the remote document store.
//
// Delivery is at-least-once: every remote write is an upsert keyed by the
// same id used locally, so a record pushed twice converges to one remote
// document and no durable outbox is needed.
type Engine struct {
	store  *db.Store
	remote DocumentStore  // nil when no document store is configured
	cache  *cache.Manager // nil when no blob store is configured
}

// NewEngine creates a reconciliation engine. All collaborators are injected;
// the engine owns no connections itself.
func NewEngine(store *db.Store, remote DocumentStore, blobCache *cache.Manager) *Engine {
	return &Engine{
		store:  store,
		remote: remote,
		cache:  blobCache,
	}
}

// PendingCount reports how many items await a push. The UI polls this as its
// aggregate view of background sync health.
func (e *Engine) PendingCount(ctx context.Context) (int, error) {
	return e.store.CountPendingItems(ctx)
}

// PushPending pushes every pending item to the remote store in ascending
// creation order and flips each to synced after the remote write is
// confirmed. A failed push leaves the item pending and moves on; the next
// scheduled run retries it. Returns the number of items synced.
//
// An unreachable remote store yields a TRANSPORT_ERROR; whether that
// surfaces or is absorbed is the caller's policy: the scheduler absorbs,
// SyncNow surfaces.
func (e *Engine) PushPending(ctx context.Context) (int, error) {
	if e.remote == nil || !e.remote.IsReachable() {
		return 0, apperrors.New(apperrors.ErrTransport, "remote document store unreachable")
	}

	pending, err := e.store.ListPendingItems(ctx)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	synced := 0
	for _, item := range pending {
		select {
		case <-ctx.Done():
			return synced, ctx.Err()
		default:
		}

		if err := e.remote.UpsertItem(ctx, item); err != nil {
			logging.Warn("item push failed, will retry next run", err,
				map[string]interface{}{"item_id": item.ID})
			continue
		}
		flipped, err := e.store.MarkItemSynced(ctx, item.ID, item.UpdatedAt)
		if err != nil {
			// The remote write landed; the flag flip retries next run via
			// another idempotent upsert.
			logging.Error("failed to mark item synced", err,
				map[string]interface{}{"item_id": item.ID})
			continue
		}
		if !flipped {
			// Edited or deleted while the push was in flight. The pushed
			// snapshot is stale; the current version stays pending and the
			// next run upserts it over this one.
			logging.Debug("item changed during push, left pending",
				map[string]interface{}{"item_id": item.ID})
			continue
		}
		synced++
	}

	logging.Info("push completed", map[string]interface{}{
		"synced": synced, "pending": len(pending) - synced,
	})
	return synced, nil
}

// SyncNow runs a foreground-triggered push. Unlike the scheduled path, its
// transport errors surface to the caller so the UI can report them.
func (e *Engine) SyncNow(ctx context.Context) (int, error) {
	return e.PushPending(ctx)
}

// ImportStats summarizes an initial import run.
type ImportStats struct {
	AccountsImported int
	AccountsSkipped  int
	ItemsImported    int
	ItemsSkipped     int
}

// InitialImportIfEmpty seeds a fresh install from the remote store. When
// local counts are below remote counts, missing records are downloaded and
// inserted as synced; records whose id already exists locally are skipped,
// so running it twice changes nothing.
func (e *Engine) InitialImportIfEmpty(ctx context.Context) (ImportStats, error) {
	var stats ImportStats

	if e.remote == nil || !e.remote.IsReachable() {
		return stats, apperrors.New(apperrors.ErrTransport, "remote document store unreachable")
	}

	localAccounts, err := e.store.CountAccounts(ctx)
	if err != nil {
		return stats, err
	}
	remoteAccounts, err := e.remote.ListAllAccounts(ctx)
	if err != nil {
		return stats, err
	}
	if localAccounts < len(remoteAccounts) {
		for _, acc := range remoteAccounts {
			if _, err := e.store.GetAccountByID(ctx, acc.ID); err == nil {
				stats.AccountsSkipped++
				continue
			}
			if err := e.store.InsertImportedAccount(ctx, &acc); err != nil {
				if apperrors.Is(err, apperrors.ErrConflict) {
					// Same handle under a different id, usually a re-created
					// account. The local row wins.
					logging.Warn("skipping conflicting remote account", err,
						map[string]interface{}{"account_id": acc.ID})
					stats.AccountsSkipped++
					continue
				}
				return stats, err
			}
			stats.AccountsImported++
		}
	}

	localItems, err := e.store.CountItems(ctx)
	if err != nil {
		return stats, err
	}
	remoteItems, err := e.remote.ListAllItems(ctx)
	if err != nil {
		return stats, err
	}
	if localItems < len(remoteItems) {
		for _, item := range remoteItems {
			if _, err := e.store.GetItem(ctx, item.ID); err == nil {
				stats.ItemsSkipped++
				continue
			}
			if err := e.store.InsertSyncedItem(ctx, &item); err != nil {
				if apperrors.Is(err, apperrors.ErrConflict) {
					stats.ItemsSkipped++
					continue
				}
				return stats, err
			}
			stats.ItemsImported++
		}
	}

	logging.Info("initial import completed", map[string]interface{}{
		"accounts_imported": stats.AccountsImported,
		"items_imported":    stats.ItemsImported,
	})
	return stats, nil
}

// PropagateDelete mirrors a local delete to the remote store, best effort.
//
// This is deliberately fire-and-forget: the local deletion has already
// committed, and blocking or retrying here would break offline-first
// guarantees. A failure is logged at WARN and discarded; do not "fix" this
// into a blocking retry.
func (e *Engine) PropagateDelete(ctx context.Context, kind RecordKind, id string) {
	if e.remote == nil || !e.remote.IsReachable() {
		logging.Debug("skipping remote delete, store unreachable",
			map[string]interface{}{"kind": string(kind), "id": id})
		return
	}

	var err error
	switch kind {
	case KindItem:
		err = e.remote.DeleteItem(ctx, id)
	case KindAccount:
		err = e.remote.DeleteAccount(ctx, id)
	default:
		logging.Error("unknown record kind for delete propagation", nil,
			map[string]interface{}{"kind": string(kind)})
		return
	}
	if err != nil {
		logging.Warn("remote delete failed, not retried", err,
			map[string]interface{}{"kind": string(kind), "id": id})
	}
}

// WarmStats summarizes an attachment cache warm-up pass.
type WarmStats struct {
	Total         int
	Downloaded    int
	AlreadyCached int
	Failed        int
	NoAttachment  int
}

// WarmAttachmentCache walks all items and ensures their attachments are in
// the local blob cache, so a fresh install can render images offline later.
// Failures are counted, not fatal.
func (e *Engine) WarmAttachmentCache(ctx context.Context) WarmStats {
	var stats WarmStats
	if e.cache == nil {
		return stats
	}

	items, err := e.store.ListItems(ctx)
	if err != nil {
		logging.Error("cache warm-up aborted, cannot list items", err)
		return stats
	}

	for _, item := range items {
		select {
		case <-ctx.Done():
			return stats
		default:
		}

		stats.Total++
		if item.AttachmentPath == nil {
			stats.NoAttachment++
			continue
		}
		if _, ok := e.cache.CachedPath(*item.AttachmentPath); ok {
			stats.AlreadyCached++
			continue
		}
		if _, err := e.cache.EnsureLocal(*item.AttachmentPath, false); err != nil {
			logging.Warn("attachment warm-up failed", err,
				map[string]interface{}{"item_id": item.ID, "remote_path": *item.AttachmentPath})
			stats.Failed++
			continue
		}
		stats.Downloaded++
	}

	logging.Info("attachment cache warm-up completed", map[string]interface{}{
		"downloaded": stats.Downloaded,
		"cached":     stats.AlreadyCached,
		"failed":     stats.Failed,
	})
	return stats
}
