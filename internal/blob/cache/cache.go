// Package cache provides the hash-keyed local cache for remote blobs.
//
// Cache entries never expire on their own; eviction is manual. The cache key
// is a deterministic hash of the remote path, so the same blob always lands
// in the same file across runs.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	apperrors "github.com/nexuzy/fides/internal/errors"
	"github.com/nexuzy/fides/internal/logging"
)

// Transport downloads a remote blob to a local destination. *blob.Client
// implements it; tests substitute a fake.
type Transport interface {
	Download(remotePath, localDest string) error
}

// Manager maps remote blob paths to locally cached files.
type Manager struct {
	dir       string
	transport Transport

	// mu guards keyLocks; each key gets its own lock so downloads of
	// different remote paths never serialize.
	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex
}

// Stats describes the cache contents.
type Stats struct {
	FileCount  int
	TotalBytes int64
}

// NewManager creates a cache manager rooted at dir, creating it if needed.
func NewManager(dir string, transport Transport) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to create cache directory", err)
	}
	return &Manager{
		dir:       dir,
		transport: transport,
		keyLocks:  make(map[string]*sync.Mutex),
	}, nil
}

// cacheFilename derives the cache key for a remote path: a truncated SHA-256
// of the path with the original extension preserved. Stable across runs.
func cacheFilename(remotePath string) string {
	sum := sha256.Sum256([]byte(remotePath))
	ext := strings.ToLower(path.Ext(remotePath))
	if ext == "" {
		ext = ".jpg"
	}
	return hex.EncodeToString(sum[:])[:16] + ext
}

// validRemotePath rejects obvious non-remote paths before any filesystem or
// network work happens.
func validRemotePath(remotePath string) bool {
	return remotePath != "" && strings.HasPrefix(remotePath, "/")
}

// CachedPath returns the local path for a remote blob if it is already
// cached. Pure lookup; no network I/O.
func (m *Manager) CachedPath(remotePath string) (string, bool) {
	if !validRemotePath(remotePath) {
		return "", false
	}
	local := filepath.Join(m.dir, cacheFilename(remotePath))
	if _, err := os.Stat(local); err != nil {
		return "", false
	}
	return local, true
}

// EnsureLocal returns the local path for a remote blob, downloading it on a
// cache miss (or always, when force is set). Concurrent calls for the same
// remote path download at most once; calls for different paths proceed
// independently.
func (m *Manager) EnsureLocal(remotePath string, force bool) (string, error) {
	if !validRemotePath(remotePath) {
		return "", apperrors.Newf(apperrors.ErrValidation, "invalid remote path %q", remotePath)
	}

	local := filepath.Join(m.dir, cacheFilename(remotePath))
	if !force {
		if _, err := os.Stat(local); err == nil {
			return local, nil
		}
	}

	lock := m.lockFor(remotePath)
	lock.Lock()
	defer lock.Unlock()

	// Another caller may have completed the download while we waited.
	if !force {
		if _, err := os.Stat(local); err == nil {
			return local, nil
		}
	}

	// Download to a temp name, then rename: a failed transfer never leaves a
	// half-written entry that a later lookup would treat as a hit.
	tmp := local + ".part"
	if err := m.transport.Download(remotePath, tmp); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, local); err != nil {
		os.Remove(tmp)
		return "", apperrors.Wrap(apperrors.ErrInternal, "failed to finalize cache entry", err)
	}

	logging.Debug("blob cached", map[string]interface{}{
		"remote_path": remotePath, "local_path": local,
	})
	return local, nil
}

// lockFor returns the per-key lock for a remote path. Locks are kept for the
// process lifetime; the key space is bounded by the attachment count.
func (m *Manager) lockFor(remotePath string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.keyLocks[remotePath]
	if !ok {
		l = &sync.Mutex{}
		m.keyLocks[remotePath] = l
	}
	return l
}

// EvictAll removes every cached file and returns how many were deleted.
func (m *Manager) EvictAll() (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrInternal, "failed to read cache directory", err)
	}

	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(m.dir, entry.Name())); err != nil {
			return count, apperrors.Wrap(apperrors.ErrInternal,
				fmt.Sprintf("failed to evict %s", entry.Name()), err)
		}
		count++
	}
	logging.Info("blob cache evicted", map[string]interface{}{"files": count})
	return count, nil
}

// CacheStats reports the current file count and total size on disk.
func (m *Manager) CacheStats() (Stats, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return Stats{}, apperrors.Wrap(apperrors.ErrInternal, "failed to read cache directory", err)
	}

	var stats Stats
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		stats.FileCount++
		stats.TotalBytes += info.Size()
	}
	return stats, nil
}
