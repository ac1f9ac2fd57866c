package segment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/hamgr/pkg/auth"
	"github.com/cuemby/hamgr/pkg/haerrors"
	"github.com/cuemby/hamgr/pkg/types"
)

// HTTPClient is the production Client, backed by the downstream HA
// service's segment and notification REST API.
type HTTPClient struct {
	BaseURL string
	Tokens  *auth.Source
	HTTP    *http.Client
}

// NewHTTPClient builds an HTTPClient against baseURL.
func NewHTTPClient(baseURL string, tokens *auth.Source, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClient{BaseURL: baseURL, Tokens: tokens, HTTP: httpClient}
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	tok, err := c.Tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("segment: acquiring token: %w", err)
	}

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("segment: encoding request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("segment: building request: %w", err)
	}
	req.Header.Set("X-Auth-Token", tok.ID)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

type segmentDTO struct {
	Name  string   `json:"name"`
	Hosts []string `json:"hosts"`
}

// CreateSegment implements Client.
func (c *HTTPClient) CreateSegment(ctx context.Context, name string, hosts []string) error {
	req, err := c.newRequest(ctx, http.MethodPut, "/segments/"+name, segmentDTO{Name: name, Hosts: hosts})
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("segment: create %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("segment: create %s: unexpected status %d", name, resp.StatusCode)
	}
	return nil
}

// DeleteSegment implements Client.
func (c *HTTPClient) DeleteSegment(ctx context.Context, name string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/segments/"+name, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("segment: delete %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("segment: delete %s: unexpected status %d", name, resp.StatusCode)
	}
	return nil
}

// ListHostsInSegment implements Client.
func (c *HTTPClient) ListHostsInSegment(ctx context.Context, name string) ([]types.SegmentHost, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/segments/"+name, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("segment: list %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, haerrors.Wrap(haerrors.ErrSegmentNotFound, name)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("segment: list %s: unexpected status %d", name, resp.StatusCode)
	}

	var dto segmentDTO
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		return nil, fmt.Errorf("segment: decoding response: %w", err)
	}

	hosts := make([]types.SegmentHost, 0, len(dto.Hosts))
	for _, h := range dto.Hosts {
		hosts = append(hosts, types.SegmentHost{Name: dto.Name, Host: h})
	}
	return hosts, nil
}

// notificationDTO mirrors masakari.create_notification(token, type, host,
// time, payload) in the original: the host and time are request fields in
// their own right, not folded into payload.
type notificationDTO struct {
	Host             string                 `json:"hostname"`
	GeneratedTime    time.Time              `json:"generated_time"`
	Event            types.NotificationKind `json:"event"`
	HostStatus       string                 `json:"host_status"`
	ClusterStatus    string                 `json:"cluster_status"`
	NotificationType string                 `json:"notification_type"`
}

// Notify implements Client.
func (c *HTTPClient) Notify(ctx context.Context, host string, at time.Time, payload types.NotificationPayload) error {
	dto := notificationDTO{
		Host:             host,
		GeneratedTime:    at,
		Event:            payload.Event,
		HostStatus:       payload.HostStatus,
		ClusterStatus:    payload.ClusterStatus,
		NotificationType: payload.NotificationType,
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/notifications", dto)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("segment: notify: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("segment: notify: unexpected status %d", resp.StatusCode)
	}
	return nil
}
