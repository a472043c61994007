// Package remote provides the HTTP client for the remote document store.
//
// The store exposes two top-level collections, items and accounts, each
// document keyed by the same id used locally:
//
//	GET    {endpoint}/v1/{collection}          list all documents
//	GET    {endpoint}/v1/{collection}/{id}     fetch one document
//	PUT    {endpoint}/v1/{collection}/{id}     upsert one document
//	DELETE {endpoint}/v1/{collection}/{id}     delete one document
//	POST   {endpoint}/v1/{collection}:batchUpsert
//	POST   {endpoint}/v1/accounts:authenticate
//
// Requests authenticate with a bearer API key. Timestamps cross the wire as
// RFC 3339 text via the models codec.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/nexuzy/fides/internal/errors"
	"github.com/nexuzy/fides/internal/models"
	"github.com/nexuzy/fides/internal/netx"
)

const (
	collectionItems    = "items"
	collectionAccounts = "accounts"

	// maxBatchSize caps one batch write to respect backend limits. Chunking
	// is transparent to callers.
	maxBatchSize = 500
)

// Config holds document store connection configuration.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Client implements access to the remote document store.
type Client struct {
	config     *Config
	httpClient *http.Client
	probe      *netx.Probe

	mu          sync.Mutex
	initialized bool
}

// NewClient creates a document store client. The probe decides network
// reachability independently of the store endpoint; pass nil for the default.
func NewClient(config *Config, probe *netx.Probe) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if probe == nil {
		probe = netx.NewProbe("", 0)
	}
	return &Client{
		config: config,
		probe:  probe,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// Connect verifies the endpoint accepts our credentials and marks the client
// initialized. Idempotent; safe to call when already connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	req, err := c.newRequest(ctx, http.MethodGet, "/v1/"+collectionAccounts, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrTransport, "document store unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return apperrors.Newf(apperrors.ErrTransport,
			"document store rejected credentials (status %d)", resp.StatusCode)
	}
	if resp.StatusCode >= 500 {
		return apperrors.Newf(apperrors.ErrTransport,
			"document store error (status %d)", resp.StatusCode)
	}

	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()
	return nil
}

// IsReachable reports whether the client is initialized and the network
// probe passes. Both must hold before any sync attempt.
func (c *Client) IsReachable() bool {
	c.mu.Lock()
	initialized := c.initialized
	c.mu.Unlock()
	return initialized && c.probe.Online()
}

// Close releases idle connections. No remote session state to tear down.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
	c.mu.Lock()
	c.initialized = false
	c.mu.Unlock()
}

// UpsertItem writes one item document keyed by its id.
func (c *Client) UpsertItem(ctx context.Context, item models.Item) error {
	return c.putDocument(ctx, collectionItems, item.ID, item.ToDocument())
}

// UpsertItems writes items in chunks of at most maxBatchSize documents.
// Returns the count of documents actually written.
func (c *Client) UpsertItems(ctx context.Context, items []models.Item) (int, error) {
	written := 0
	for start := 0; start < len(items); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(items) {
			end = len(items)
		}

		batch := make(map[string]models.ItemDocument, end-start)
		for _, item := range items[start:end] {
			batch[item.ID] = item.ToDocument()
		}

		n, err := c.batchUpsert(ctx, collectionItems, batch)
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// GetItem fetches one item by id. Missing documents map to NOT_FOUND.
func (c *Client) GetItem(ctx context.Context, id string) (*models.Item, error) {
	var doc models.ItemDocument
	if err := c.getDocument(ctx, collectionItems, id, &doc); err != nil {
		return nil, err
	}
	return models.ItemFromDocument(id, doc)
}

// DeleteItem removes one item document. An already-missing document counts
// as success.
func (c *Client) DeleteItem(ctx context.Context, id string) error {
	return c.deleteDocument(ctx, collectionItems, id)
}

// ListAllItems downloads every item document.
func (c *Client) ListAllItems(ctx context.Context) ([]models.Item, error) {
	raw, err := c.listDocuments(ctx, collectionItems)
	if err != nil {
		return nil, err
	}

	items := make([]models.Item, 0, len(raw))
	for id, data := range raw {
		var doc models.ItemDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrTransport,
				fmt.Sprintf("malformed item document %s", id), err)
		}
		item, err := models.ItemFromDocument(id, doc)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, nil
}

// CreateAccount writes a full account document, digest included. Used only
// on account creation.
func (c *Client) CreateAccount(ctx context.Context, acc models.Account) error {
	return c.putDocument(ctx, collectionAccounts, acc.ID, acc.ToDocument(true))
}

// UpsertAccountMetadata writes an account document without the credential
// digest. All metadata-only updates go through here.
func (c *Client) UpsertAccountMetadata(ctx context.Context, acc models.Account) error {
	return c.putDocument(ctx, collectionAccounts, acc.ID, acc.ToDocument(false))
}

// DeleteAccount removes one account document.
func (c *Client) DeleteAccount(ctx context.Context, id string) error {
	return c.deleteDocument(ctx, collectionAccounts, id)
}

// ListAllAccounts downloads every account document. Digests are typically
// absent; they are only present on documents written at creation time.
func (c *Client) ListAllAccounts(ctx context.Context) ([]models.Account, error) {
	raw, err := c.listDocuments(ctx, collectionAccounts)
	if err != nil {
		return nil, err
	}

	accounts := make([]models.Account, 0, len(raw))
	for id, data := range raw {
		var doc models.AccountDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrTransport,
				fmt.Sprintf("malformed account document %s", id), err)
		}
		acc, err := models.AccountFromDocument(id, doc)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *acc)
	}
	return accounts, nil
}

// authenticateRequest is the wire form of a server-side credential check.
type authenticateRequest struct {
	Handle string `json:"handle"`
	Secret string `json:"secret"`
}

// authenticateResponse carries the verified account back.
type authenticateResponse struct {
	ID       string                 `json:"id"`
	Document models.AccountDocument `json:"document"`
}

// Authenticate performs a server-side lookup and credential verification.
// Used only when the local account lookup misses. A rejected credential maps
// to AUTH_FAILED, everything transport-shaped to TRANSPORT_ERROR.
func (c *Client) Authenticate(ctx context.Context, handle, secret string) (*models.Account, error) {
	body, err := json.Marshal(authenticateRequest{Handle: handle, Secret: secret})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to encode authenticate request", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/accounts:authenticate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrTransport, "authenticate request failed", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusNotFound:
		return nil, apperrors.New(apperrors.ErrAuthFailed, "remote authentication rejected")
	default:
		return nil, readStatusError("authenticate", resp)
	}

	var ar authenticateResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrTransport, "malformed authenticate response", err)
	}
	return models.AccountFromDocument(ar.ID, ar.Document)
}

// ---- wire plumbing ----

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.config.Endpoint+path, body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) putDocument(ctx context.Context, collection, id string, doc interface{}) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode document", err)
	}

	req, err := c.newRequest(ctx, http.MethodPut,
		fmt.Sprintf("/v1/%s/%s", collection, id), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrTransport, "upsert request failed", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return nil
	default:
		return readStatusError("upsert", resp)
	}
}

func (c *Client) getDocument(ctx context.Context, collection, id string, out interface{}) error {
	req, err := c.newRequest(ctx, http.MethodGet,
		fmt.Sprintf("/v1/%s/%s", collection, id), nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrTransport, "get request failed", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return apperrors.Newf(apperrors.ErrNotFound, "document %s/%s not found", collection, id)
	default:
		return readStatusError("get", resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(apperrors.ErrTransport, "malformed document", err)
	}
	return nil
}

func (c *Client) deleteDocument(ctx context.Context, collection, id string) error {
	req, err := c.newRequest(ctx, http.MethodDelete,
		fmt.Sprintf("/v1/%s/%s", collection, id), nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrTransport, "delete request failed", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		// already-gone counts as deleted
		return nil
	default:
		return readStatusError("delete", resp)
	}
}

// listResponse is the envelope returned by collection listings: documents
// keyed by record id.
type listResponse struct {
	Documents map[string]json.RawMessage `json:"documents"`
}

func (c *Client) listDocuments(ctx context.Context, collection string) (map[string]json.RawMessage, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/"+collection, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrTransport, "list request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readStatusError("list", resp)
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrTransport, "malformed list response", err)
	}
	return lr.Documents, nil
}

// batchRequest is the wire form of a chunked batch write.
type batchRequest struct {
	Documents map[string]models.ItemDocument `json:"documents"`
}

// batchResponse reports how many documents the backend accepted.
type batchResponse struct {
	Written int `json:"written"`
}

func (c *Client) batchUpsert(ctx context.Context, collection string, docs map[string]models.ItemDocument) (int, error) {
	body, err := json.Marshal(batchRequest{Documents: docs})
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrInternal, "failed to encode batch", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost,
		fmt.Sprintf("/v1/%s:batchUpsert", collection), bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrTransport, "batch request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, readStatusError("batch upsert", resp)
	}

	var br batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrTransport, "malformed batch response", err)
	}
	return br.Written, nil
}

func readStatusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return apperrors.Newf(apperrors.ErrTransport,
		"%s failed with status %d: %s", op, resp.StatusCode, string(body))
}
