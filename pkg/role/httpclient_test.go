package role

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/hamgr/pkg/auth"
	"github.com/cuemby/hamgr/pkg/haerrors"
	"github.com/cuemby/hamgr/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticFetcher struct{}

func (staticFetcher) Fetch(ctx context.Context) (auth.Token, error) {
	return auth.Token{ID: "test-token", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewHTTPClient(srv.URL, auth.NewSource(staticFetcher{}, time.Minute), time.Minute, time.Minute, nil)
	c.PollInterval = 10 * time.Millisecond
	c.RetryBackoff = 10 * time.Millisecond
	return c
}

func TestHTTPClient_AttachSucceeds(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		w.WriteHeader(http.StatusOK)
	})

	err := c.Attach(context.Background(), "host-a", AttachSpec{Role: types.RoleServer, JoinIP: "10.0.0.1", HostIP: "10.0.0.2", BootstrapExpect: 3})
	require.NoError(t, err)
}

func TestHTTPClient_AttachRetriesOnConflict(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	err := c.Attach(context.Background(), "host-a", AttachSpec{Role: types.RoleAgent, JoinIP: "10.0.0.1", HostIP: "10.0.0.3"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestHTTPClient_AttachGivesUpAfterBudget(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	c.ConflictRetryBudget = 30 * time.Millisecond

	err := c.Attach(context.Background(), "host-a", AttachSpec{Role: types.RoleAgent})
	require.Error(t, err)
	assert.ErrorIs(t, err, haerrors.ErrRoleAttachFailed)
}

func TestHTTPClient_AttachSurfacesHostOffline(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"HostDown"}`))
	})

	err := c.Attach(context.Background(), "host-a", AttachSpec{Role: types.RoleServer})
	require.Error(t, err)
	assert.ErrorIs(t, err, haerrors.ErrHostOffline)
}

func TestHTTPClient_DetachTreatsNotFoundAsSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	})

	err := c.Detach(context.Background(), "host-a", types.RoleAgent)
	require.NoError(t, err)
}

func TestHTTPClient_WaitForRemovalSucceedsImmediately(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	err := c.WaitForRemoval(context.Background(), "host-a", types.RoleAgent)
	require.NoError(t, err)
}

func TestHTTPClient_WaitForRemovalPollsUntilGone(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			_, _ = w.Write([]byte(`{"role_status":"ok","roles":["agent"]}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	err := c.WaitForRemoval(context.Background(), "host-a", types.RoleAgent)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestHTTPClient_WaitForRemovalGivesUpAfterBudget(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"role_status":"ok","roles":["agent"]}`))
	})
	c.RemovalPollBudget = 30 * time.Millisecond

	err := c.WaitForRemoval(context.Background(), "host-a", types.RoleAgent)
	require.Error(t, err)
	assert.ErrorIs(t, err, haerrors.ErrRoleConvergeFailed)
}
