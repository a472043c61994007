// Package main is the Fides offline-first sync core daemon. It opens the
// local store, starts the background sync scheduler and pulls the remote
// dataset into an empty local database when the document store is
// reachable.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nexuzy/fides/internal/auth"
	"github.com/nexuzy/fides/internal/blob"
	"github.com/nexuzy/fides/internal/blob/cache"
	"github.com/nexuzy/fides/internal/config"
	"github.com/nexuzy/fides/internal/db"
	"github.com/nexuzy/fides/internal/logging"
	"github.com/nexuzy/fides/internal/netx"
	"github.com/nexuzy/fides/internal/remote"
	appsync "github.com/nexuzy/fides/internal/sync"
)

// Version is set at build time.
var Version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to config file")
	logLevel := flag.String("log-level", "INFO", "minimum log level (DEBUG, INFO, WARN, ERROR)")
	flag.Parse()

	logging.Init(os.Stderr, logging.ParseLevel(*logLevel))

	if err := run(*configPath); err != nil {
		logging.Error("fatal", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Info("starting fides core", map[string]interface{}{
		"version":  Version,
		"database": cfg.DatabasePath,
	})

	database, err := db.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	store := db.NewStore(database)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	probe := netx.NewProbe(cfg.Network.ProbeAddr, cfg.Network.ProbeTimeout())

	var docStore *remote.Client
	if cfg.DocumentStoreConfigured() {
		docStore = remote.NewClient(&remote.Config{
			Endpoint: cfg.DocumentStore.Endpoint,
			APIKey:   cfg.DocumentStore.APIKey,
			Timeout:  cfg.DocumentStore.Timeout(),
		}, probe)
		if err := docStore.Connect(ctx); err != nil {
			// Offline start is supported; the scheduler retries.
			logging.Warn("document store unreachable at startup", err)
		}
	} else {
		logging.Info("no document store configured, running offline only")
	}

	var blobClient *blob.Client
	var cacheManager *cache.Manager
	if cfg.BlobStoreConfigured() {
		blobClient = blob.NewClient(&blob.Config{
			Host:     cfg.BlobStore.Host,
			Port:     cfg.BlobStore.Port,
			Username: cfg.BlobStore.Username,
			Password: cfg.BlobStore.Password,
			BaseDir:  cfg.BlobStore.RemoteDir,
			Timeout:  cfg.BlobStore.Timeout(),
		})
		defer blobClient.Close()

		cacheManager, err = cache.NewManager(cfg.CacheDir, blobClient)
		if err != nil {
			return fmt.Errorf("init blob cache: %w", err)
		}
	}

	authService := auth.NewService(store, remoteOrNil(docStore))
	if cfg.Bootstrap.AdminHandle != "" {
		if err := authService.EnsureDefaultAdmin(ctx, cfg.Bootstrap.AdminHandle, cfg.Bootstrap.AdminSecret); err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
	}

	engine := appsync.NewEngine(store, docStoreOrNil(docStore), cacheManager)

	if docStore != nil && docStore.IsReachable() {
		stats, err := engine.InitialImportIfEmpty(ctx)
		if err != nil {
			logging.Warn("initial import failed", err)
		} else if stats.AccountsImported > 0 || stats.ItemsImported > 0 {
			logging.Info("initial import complete", map[string]interface{}{
				"accounts": stats.AccountsImported,
				"items":    stats.ItemsImported,
			})
		}
		if cacheManager != nil {
			warm := engine.WarmAttachmentCache(ctx)
			logging.Info("attachment cache warmed", map[string]interface{}{
				"downloaded":     warm.Downloaded,
				"already_cached": warm.AlreadyCached,
				"failed":         warm.Failed,
			})
		}
	}

	scheduler := appsync.NewScheduler(engine, cfg.SyncInterval())
	scheduler.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("shutting down", map[string]interface{}{"signal": sig.String()})

	scheduler.Stop()
	if docStore != nil {
		docStore.Close()
	}
	return nil
}

// docStoreOrNil avoids storing a typed nil in the engine's interface field.
func docStoreOrNil(c *remote.Client) appsync.DocumentStore {
	if c == nil {
		return nil
	}
	return c
}

func remoteOrNil(c *remote.Client) auth.RemoteDirectory {
	if c == nil {
		return nil
	}
	return c
}
