// Package backend talks to the local aggregation endpoint that fronts the
// configured UniSet servers.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Etersoft/uniset2-viewer-go-sub001/internal/models"
)

// Fetcher is the backend-facing surface the engine consumes. It is an
// interface so components can be tested against fakes.
type Fetcher interface {
	// FetchServerObjects returns the current object name list of one server.
	FetchServerObjects(ctx context.Context, serverID string) ([]string, error)
	// FetchObjectSnapshot returns the descriptor and current data of one object.
	FetchObjectSnapshot(ctx context.Context, objectName, serverID string) (*models.ObjectSnapshot, error)
	// SavePollInterval persists the operator-chosen poll interval upstream.
	SavePollInterval(ctx context.Context, intervalMs int) error
}

// HTTPClient implements Fetcher against the aggregation endpoint's REST API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client for the given aggregation endpoint base URL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type objectListResponse struct {
	Objects []string `json:"objects"`
}

// FetchServerObjects fetches the object list for one server.
func (h *HTTPClient) FetchServerObjects(ctx context.Context, serverID string) ([]string, error) {
	u := fmt.Sprintf("%s/api/servers/%s/objects", h.baseURL, url.PathEscape(serverID))

	var resp objectListResponse
	if err := h.getJSON(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("fetching objects for server %s: %w", serverID, err)
	}

	return resp.Objects, nil
}

// FetchObjectSnapshot fetches the descriptor plus current data of one object.
func (h *HTTPClient) FetchObjectSnapshot(ctx context.Context, objectName, serverID string) (*models.ObjectSnapshot, error) {
	u := fmt.Sprintf("%s/api/objects/%s?server=%s",
		h.baseURL, url.PathEscape(objectName), url.QueryEscape(serverID))

	var snap models.ObjectSnapshot
	if err := h.getJSON(ctx, u, &snap); err != nil {
		return nil, fmt.Errorf("fetching snapshot of %s@%s: %w", objectName, serverID, err)
	}
	if snap.Descriptor.Name == "" {
		snap.Descriptor.Name = objectName
	}

	return &snap, nil
}

// SavePollInterval persists the poll interval. Callers treat failure as
// non-fatal; it is logged, not propagated to the operator.
func (h *HTTPClient) SavePollInterval(ctx context.Context, intervalMs int) error {
	body, _ := json.Marshal(map[string]int{"pollIntervalMs": intervalMs})

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		h.baseURL+"/api/settings/poll-interval", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building settings request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("saving poll interval: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("saving poll interval: unexpected status %d", resp.StatusCode)
	}

	return nil
}

func (h *HTTPClient) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
