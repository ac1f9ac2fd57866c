package role

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/hamgr/pkg/auth"
	"github.com/cuemby/hamgr/pkg/haerrors"
	"github.com/cuemby/hamgr/pkg/types"
)

// HTTPClient is the production Client, backed by the host-role management
// service's REST API (resmgr-shaped: PUT/DELETE under /resmgr/v1/hosts/).
type HTTPClient struct {
	BaseURL string
	Tokens  *auth.Source
	HTTP    *http.Client

	// ConflictRetryBudget bounds how long Attach/Detach retry a 409
	// response before giving up.
	ConflictRetryBudget time.Duration
	// RemovalPollBudget bounds how long WaitForRemoval polls before
	// giving up.
	RemovalPollBudget time.Duration

	// PollInterval is the delay between WaitForRemoval polls. Defaults to
	// 5 seconds; tests shrink it to keep the suite fast.
	PollInterval time.Duration
	// RetryBackoff is the fixed delay between conflict retries. Defaults to
	// 5 seconds; tests shrink it to keep the suite fast.
	RetryBackoff time.Duration
}

// NewHTTPClient builds an HTTPClient against baseURL.
func NewHTTPClient(baseURL string, tokens *auth.Source, conflictBudget, pollBudget time.Duration, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClient{
		BaseURL:             baseURL,
		Tokens:              tokens,
		HTTP:                httpClient,
		ConflictRetryBudget: conflictBudget,
		RemovalPollBudget:   pollBudget,
		PollInterval:        5 * time.Second,
		RetryBackoff:        5 * time.Second,
	}
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	tok, err := c.Tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("role: acquiring token: %w", err)
	}

	var reader *strings.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("role: encoding request: %w", err)
		}
		reader = strings.NewReader(string(payload))
	} else {
		reader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("role: building request: %w", err)
	}
	req.Header.Set("X-Auth-Token", tok.ID)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// retryOnConflict issues attempt repeatedly until it stops returning a 409,
// succeeds, or deadline elapses. Mirrors the original provider's retry loop
// (hamgr/providers/nova.py _auth/_deauth) but drives it off a wall-clock
// deadline instead of a fixed sleep-counter loop.
func retryOnConflict(ctx context.Context, budget, interval time.Duration, attempt func(ctx context.Context) (int, error)) error {
	deadline := time.Now().Add(budget)

	for {
		status, err := attempt(ctx)
		if err != nil {
			return err
		}
		if status != http.StatusConflict {
			return nil
		}
		if time.Now().After(deadline) {
			return haerrors.ErrRoleAttachFailed
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

type roleAssignment struct {
	Join            string `json:"join,omitempty"`
	IPAddress       string `json:"ip_address,omitempty"`
	BootstrapExpect int    `json:"bootstrap_expect,omitempty"`
}

// Attach implements Client.
func (c *HTTPClient) Attach(ctx context.Context, host string, spec AttachSpec) error {
	body := roleAssignment{Join: spec.JoinIP, IPAddress: spec.HostIP, BootstrapExpect: spec.BootstrapExpect}

	return retryOnConflict(ctx, c.ConflictRetryBudget, c.RetryBackoff, func(ctx context.Context) (int, error) {
		req, err := c.newRequest(ctx, http.MethodPut, "/resmgr/v1/hosts/"+host+"/roles/"+string(spec.Role), body)
		if err != nil {
			return 0, err
		}
		resp, err := c.HTTP.Do(req)
		if err != nil {
			return 0, fmt.Errorf("role: attach %s on %s: %w", spec.Role, host, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted {
			return resp.StatusCode, nil
		}
		if resp.StatusCode == http.StatusConflict {
			return resp.StatusCode, nil
		}
		if resp.StatusCode == http.StatusNotFound {
			respBody, _ := io.ReadAll(resp.Body)
			if strings.Contains(string(respBody), "HostDown") {
				return 0, haerrors.Wrap(haerrors.ErrHostOffline, host)
			}
		}
		return 0, fmt.Errorf("role: attach %s on %s: unexpected status %d", spec.Role, host, resp.StatusCode)
	})
}

// Detach implements Client.
func (c *HTTPClient) Detach(ctx context.Context, host string, role types.Role) error {
	return retryOnConflict(ctx, c.ConflictRetryBudget, c.RetryBackoff, func(ctx context.Context) (int, error) {
		req, err := c.newRequest(ctx, http.MethodDelete, "/resmgr/v1/hosts/"+host+"/roles/"+string(role), nil)
		if err != nil {
			return 0, err
		}
		resp, err := c.HTTP.Do(req)
		if err != nil {
			return 0, fmt.Errorf("role: detach %s on %s: %w", role, host, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusNotFound {
			return http.StatusOK, nil
		}
		if resp.StatusCode == http.StatusConflict {
			return resp.StatusCode, nil
		}
		return 0, fmt.Errorf("role: detach %s on %s: unexpected status %d", role, host, resp.StatusCode)
	})
}

type hostDoc struct {
	RoleStatus string   `json:"role_status"`
	Roles      []string `json:"roles"`
}

func (d hostDoc) has(role types.Role) bool {
	for _, r := range d.Roles {
		if r == string(role) {
			return true
		}
	}
	return false
}

// WaitForRemoval implements Client.
func (c *HTTPClient) WaitForRemoval(ctx context.Context, host string, role types.Role) error {
	deadline := time.Now().Add(c.RemovalPollBudget)

	for {
		req, err := c.newRequest(ctx, http.MethodGet, "/resmgr/v1/hosts/"+host, nil)
		if err != nil {
			return err
		}

		removed, err := func() (bool, error) {
			resp, err := c.HTTP.Do(req)
			if err != nil {
				return false, fmt.Errorf("role: poll removal of %s on %s: %w", role, host, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusNotFound {
				return true, nil
			}
			if resp.StatusCode != http.StatusOK {
				return false, fmt.Errorf("role: poll removal of %s on %s: unexpected status %d", role, host, resp.StatusCode)
			}

			var doc hostDoc
			if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
				return false, fmt.Errorf("role: decoding removal status: %w", err)
			}
			return doc.RoleStatus == "ok" && !doc.has(role), nil
		}()
		if err != nil {
			return err
		}
		if removed {
			return nil
		}
		if time.Now().After(deadline) {
			return haerrors.Wrap(haerrors.ErrRoleConvergeFailed, host)
		}

		timer := time.NewTimer(c.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
