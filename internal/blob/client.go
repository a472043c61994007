// Package blob provides the authenticated FTP client for the remote blob store.
package blob

import (
	"crypto/rand"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"

	apperrors "github.com/nexuzy/fides/internal/errors"
	"github.com/nexuzy/fides/internal/logging"
)

// Config holds FTP connection configuration, read from the settings file.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// BaseDir is the remote directory all uploads land in. Created on
	// connect if absent.
	BaseDir string
	Timeout time.Duration
}

// Client manages an authenticated FTP session against the remote blob store.
// All transfers run in binary mode over a passive connection. The session is
// re-established transparently when the server drops it.
type Client struct {
	config *Config

	// mu serializes transfers; one FTP control connection cannot multiplex.
	mu   sync.Mutex
	conn *ftp.ServerConn
}

// NewClient creates an FTP blob client. No connection is made until Connect
// or the first transfer.
func NewClient(config *Config) *Client {
	if config.Port == 0 {
		config.Port = 21
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Client{config: config}
}

// Connect authenticates and changes into the configured base directory,
// creating it if absent. Idempotent; safe to call before every transfer.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureConnected()
}

// ensureConnected dials and logs in unless a live session already exists.
// Caller must hold mu.
func (c *Client) ensureConnected() error {
	if c.conn != nil {
		// NOOP probes whether the server kept the session alive.
		if err := c.conn.NoOp(); err == nil {
			return nil
		}
		c.conn.Quit()
		c.conn = nil
	}

	if c.config.Host == "" || c.config.Username == "" {
		return apperrors.New(apperrors.ErrTransport, "blob store credentials not configured")
	}

	addr := fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(c.config.Timeout))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrTransport, "blob store connect failed", err)
	}

	if err := conn.Login(c.config.Username, c.config.Password); err != nil {
		conn.Quit()
		return apperrors.Wrap(apperrors.ErrTransport, "blob store login rejected", err)
	}

	if err := conn.Type(ftp.TransferTypeBinary); err != nil {
		conn.Quit()
		return apperrors.Wrap(apperrors.ErrTransport, "failed to set binary mode", err)
	}

	if err := conn.ChangeDir(c.config.BaseDir); err != nil {
		// Base directory may not exist yet on a fresh server.
		if mkErr := conn.MakeDir(c.config.BaseDir); mkErr != nil {
			conn.Quit()
			return apperrors.Wrap(apperrors.ErrTransport,
				fmt.Sprintf("remote directory %s missing and uncreatable", c.config.BaseDir), mkErr)
		}
		if err := conn.ChangeDir(c.config.BaseDir); err != nil {
			conn.Quit()
			return apperrors.Wrap(apperrors.ErrTransport,
				fmt.Sprintf("cannot enter remote directory %s", c.config.BaseDir), err)
		}
	}

	c.conn = conn
	logging.Info("blob store connected", map[string]interface{}{
		"host": c.config.Host, "base_dir": c.config.BaseDir,
	})
	return nil
}

// Close terminates the FTP session.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Quit()
	c.conn = nil
	return err
}

// Upload transfers a local file to the blob store under a generated
// collision-resistant name and returns the remote path
// (<base_dir>/<filename>), never a URL and never the local path.
func (c *Client) Upload(localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrValidation, "local file not readable", err)
	}
	defer f.Close()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(); err != nil {
		return "", err
	}

	filename := generateFilename(localPath)
	if err := c.conn.ChangeDir(c.config.BaseDir); err != nil {
		return "", apperrors.Wrap(apperrors.ErrTransport, "cannot enter remote directory", err)
	}
	if err := c.conn.Stor(filename, f); err != nil {
		return "", apperrors.Wrap(apperrors.ErrTransport, "upload failed", err)
	}

	remotePath := c.config.BaseDir + "/" + filename
	logging.Info("blob uploaded", map[string]interface{}{"remote_path": remotePath})
	return remotePath, nil
}

// Download transfers the named remote file to localDest. A partially written
// destination is removed on failure.
func (c *Client) Download(remotePath, localDest string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(); err != nil {
		return err
	}

	dir := path.Dir(remotePath)
	filename := path.Base(remotePath)
	if dir != "" && dir != "." {
		if err := c.conn.ChangeDir(dir); err != nil {
			return apperrors.Wrap(apperrors.ErrTransport,
				fmt.Sprintf("cannot enter remote directory %s", dir), err)
		}
	}

	resp, err := c.conn.Retr(filename)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrTransport,
			fmt.Sprintf("download of %s failed", remotePath), err)
	}
	defer resp.Close()

	out, err := os.Create(localDest)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "cannot create local file", err)
	}

	if _, err := out.ReadFrom(resp); err != nil {
		out.Close()
		os.Remove(localDest)
		return apperrors.Wrap(apperrors.ErrTransport, "transfer interrupted", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(localDest)
		return apperrors.Wrap(apperrors.ErrInternal, "cannot finalize local file", err)
	}
	return nil
}

// Delete removes a file from the base directory.
func (c *Client) Delete(filename string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(); err != nil {
		return err
	}
	if err := c.conn.ChangeDir(c.config.BaseDir); err != nil {
		return apperrors.Wrap(apperrors.ErrTransport, "cannot enter remote directory", err)
	}
	if err := c.conn.Delete(filename); err != nil {
		return apperrors.Wrap(apperrors.ErrTransport,
			fmt.Sprintf("delete of %s failed", filename), err)
	}
	return nil
}

const filenameAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// generateFilename builds a collision-resistant remote filename:
// article_<timestamp>_<random><ext>. The original extension is preserved so
// cache entries keep a usable suffix.
func generateFilename(localPath string) string {
	ext := strings.ToLower(filepath.Ext(localPath))
	suffix := make([]byte, 6)
	if _, err := rand.Read(suffix); err != nil {
		// Same stance as the id generator: a broken platform RNG has no
		// sensible fallback.
		panic(fmt.Sprintf("blob: rand.Read failed: %v", err))
	}
	for i, b := range suffix {
		suffix[i] = filenameAlphabet[int(b)%len(filenameAlphabet)]
	}
	return fmt.Sprintf("article_%s_%s%s",
		time.Now().Format("20060102_150405"), string(suffix), ext)
}
