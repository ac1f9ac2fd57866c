package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/hamgr/pkg/auth"
	"github.com/cuemby/hamgr/pkg/haerrors"
	"github.com/cuemby/hamgr/pkg/types"
)

// defaultServiceBinary is the compute-service binary whose state determines
// host liveness when no override is configured.
const defaultServiceBinary = "nova-compute"

// HTTPClient is the production Client, backed by the inventory service's
// REST API. Reads are not retried: a failed listing is surfaced to the
// caller rather than masked behind a retry loop.
type HTTPClient struct {
	BaseURL string
	Tokens  *auth.Source
	HTTP    *http.Client

	// ServiceBinary is the compute-service binary whose os-services record
	// determines a host's liveness (§4.2). Defaults to "nova-compute" when
	// left empty.
	ServiceBinary string
}

// NewHTTPClient builds an HTTPClient against baseURL, using tokens for
// authentication. A 10 second timeout is applied when httpClient is nil.
// serviceBinary selects the compute-service binary ServiceState checks; an
// empty string defaults to "nova-compute".
func NewHTTPClient(baseURL string, tokens *auth.Source, serviceBinary string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if serviceBinary == "" {
		serviceBinary = defaultServiceBinary
	}
	return &HTTPClient{BaseURL: baseURL, Tokens: tokens, HTTP: httpClient, ServiceBinary: serviceBinary}
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	tok, err := c.Tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("inventory: acquiring token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("inventory: building request: %w", err)
	}
	req.Header.Set("X-Auth-Token", tok.ID)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *HTTPClient) do(req *http.Request, out interface{}) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("inventory: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return haerrors.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inventory: %s %s: unexpected status %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("inventory: decoding response: %w", err)
	}
	return nil
}

type aggregateDTO struct {
	ID    string   `json:"id"`
	Hosts []string `json:"hosts"`
}

// ListAggregates implements Client.
func (c *HTTPClient) ListAggregates(ctx context.Context) ([]types.Aggregate, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/os-aggregates")
	if err != nil {
		return nil, err
	}

	var dtos []aggregateDTO
	if err := c.do(req, &dtos); err != nil {
		return nil, err
	}

	aggregates := make([]types.Aggregate, 0, len(dtos))
	for _, d := range dtos {
		aggregates = append(aggregates, types.Aggregate{ID: d.ID, Hosts: d.Hosts})
	}
	return aggregates, nil
}

// GetAggregate implements Client.
func (c *HTTPClient) GetAggregate(ctx context.Context, id string) (types.Aggregate, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/os-aggregates/"+id)
	if err != nil {
		return types.Aggregate{}, err
	}

	var dto aggregateDTO
	if err := c.do(req, &dto); err != nil {
		if err == haerrors.ErrNotFound {
			return types.Aggregate{}, haerrors.Wrap(haerrors.ErrAggregateNotFound, id)
		}
		return types.Aggregate{}, err
	}
	return types.Aggregate{ID: dto.ID, Hosts: dto.Hosts}, nil
}

type hypervisorDTO struct {
	HypervisorHostname string `json:"hypervisor_hostname"`
	HostIP             string `json:"host_ip"`
}

// ListHypervisors implements Client.
func (c *HTTPClient) ListHypervisors(ctx context.Context) ([]types.HostIP, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/os-hypervisors/detail")
	if err != nil {
		return nil, err
	}

	var dtos []hypervisorDTO
	if err := c.do(req, &dtos); err != nil {
		return nil, err
	}

	hosts := make([]types.HostIP, 0, len(dtos))
	for _, d := range dtos {
		hosts = append(hosts, types.HostIP{Host: d.HypervisorHostname, IP: d.HostIP})
	}
	return hosts, nil
}

type serviceDTO struct {
	Binary string `json:"binary"`
	Host   string `json:"host"`
	State  string `json:"state"`
	Status string `json:"status"`
}

// ServiceState implements Client. Only c.ServiceBinary's state counts
// towards liveness; every other service record for host is ignored.
func (c *HTTPClient) ServiceState(ctx context.Context, host string) (types.HostLiveness, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/os-services?host="+host+"&binary="+c.ServiceBinary)
	if err != nil {
		return "", err
	}

	var envelope struct {
		Services []serviceDTO `json:"services"`
	}
	if err := c.do(req, &envelope); err != nil {
		return "", err
	}

	if len(envelope.Services) != 1 {
		return "", haerrors.Wrap(haerrors.ErrHostNotFound, host)
	}

	svc := envelope.Services[0]
	if svc.Status == "disabled" {
		return types.HostUnknown, nil
	}
	if svc.State == "up" {
		return types.HostUp, nil
	}
	return types.HostDown, nil
}
