package controller

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/hamgr/pkg/haerrors"
	"github.com/cuemby/hamgr/pkg/role"
	"github.com/cuemby/hamgr/pkg/types"
	"github.com/google/uuid"
)

// fakeStore is a minimal in-memory store.Store for controller tests.
type fakeStore struct {
	mu       sync.Mutex
	clusters map[string]*types.Cluster
}

func newFakeStore() *fakeStore {
	return &fakeStore{clusters: make(map[string]*types.Cluster)}
}

func (s *fakeStore) Get(name string) (*types.Cluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clusters[name]
	if !ok {
		return nil, haerrors.Wrap(haerrors.ErrNotFound, name)
	}
	copied := *c
	return &copied, nil
}

func (s *fakeStore) GetAllActive() ([]*types.Cluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Cluster
	for _, c := range s.clusters {
		if c.Enabled {
			copied := *c
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeStore) CreateIfAbsent(name string, initial types.TaskState) (*types.Cluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clusters[name]; ok {
		copied := *c
		return &copied, nil
	}
	c := &types.Cluster{ID: uuid.New().String(), Name: name, Enabled: false, TaskState: initial}
	s.clusters[name] = c
	copied := *c
	return &copied, nil
}

func (s *fakeStore) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clusters {
		if c.ID == id {
			c.Enabled = enabled
			return nil
		}
	}
	return haerrors.Wrap(haerrors.ErrNotFound, id)
}

func (s *fakeStore) SetTaskState(id string, state types.TaskState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clusters {
		if c.ID == id {
			c.TaskState = state
			return nil
		}
	}
	return haerrors.Wrap(haerrors.ErrNotFound, id)
}

func (s *fakeStore) CompareAndSetTaskState(id string, want, set types.TaskState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clusters {
		if c.ID == id {
			if c.TaskState != want {
				return haerrors.NewClusterBusy(c.Name, string(c.TaskState))
			}
			c.TaskState = set
			return nil
		}
	}
	return haerrors.Wrap(haerrors.ErrNotFound, id)
}

func (s *fakeStore) Close() error { return nil }

// fakeInventory is a minimal inventory.Client fake.
type fakeInventory struct {
	aggregates map[string]types.Aggregate
	ips        map[string]string
}

func (f *fakeInventory) ListAggregates(ctx context.Context) ([]types.Aggregate, error) {
	var out []types.Aggregate
	for _, a := range f.aggregates {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeInventory) GetAggregate(ctx context.Context, id string) (types.Aggregate, error) {
	a, ok := f.aggregates[id]
	if !ok {
		return types.Aggregate{}, haerrors.Wrap(haerrors.ErrAggregateNotFound, id)
	}
	return a, nil
}

func (f *fakeInventory) ListHypervisors(ctx context.Context) ([]types.HostIP, error) {
	out := make([]types.HostIP, 0, len(f.ips))
	for h, ip := range f.ips {
		out = append(out, types.HostIP{Host: h, IP: ip})
	}
	return out, nil
}

func (f *fakeInventory) ServiceState(ctx context.Context, host string) (types.HostLiveness, error) {
	if _, ok := f.ips[host]; !ok {
		return "", haerrors.Wrap(haerrors.ErrHostNotFound, host)
	}
	return types.HostUp, nil
}

// fakeRoles is a minimal role.Client fake.
type fakeRoles struct {
	mu          sync.Mutex
	attached    map[string]types.Role
	failAttach  map[string]bool
	failDetach  map[string]bool
	attachCalls []role.AttachSpec
}

func newFakeRoles() *fakeRoles {
	return &fakeRoles{
		attached:   make(map[string]types.Role),
		failAttach: make(map[string]bool),
		failDetach: make(map[string]bool),
	}
}

func (f *fakeRoles) Attach(ctx context.Context, host string, spec role.AttachSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAttach[host] {
		return errTestAttachFailed
	}
	f.attached[host] = spec.Role
	f.attachCalls = append(f.attachCalls, spec)
	return nil
}

func (f *fakeRoles) Detach(ctx context.Context, host string, role types.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDetach[host] {
		return errTestDetachFailed
	}
	delete(f.attached, host)
	return nil
}

func (f *fakeRoles) WaitForRemoval(ctx context.Context, host string, role types.Role) error {
	return nil
}

// fakeSegments is a minimal segment.Client fake.
type fakeSegments struct {
	mu          sync.Mutex
	segments    map[string][]string
	failCreate  bool
	failList    bool
	notifyCalls []types.NotificationPayload
}

func newFakeSegments() *fakeSegments {
	return &fakeSegments{segments: make(map[string][]string)}
}

func (f *fakeSegments) CreateSegment(ctx context.Context, name string, hosts []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return errTestSegmentCreateFailed
	}
	f.segments[name] = hosts
	return nil
}

func (f *fakeSegments) DeleteSegment(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.segments, name)
	return nil
}

func (f *fakeSegments) ListHostsInSegment(ctx context.Context, name string) ([]types.SegmentHost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList {
		return nil, errTestSegmentListFailed
	}
	hosts, ok := f.segments[name]
	if !ok {
		return nil, haerrors.Wrap(haerrors.ErrSegmentNotFound, name)
	}
	out := make([]types.SegmentHost, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, types.SegmentHost{Name: name, Host: h})
	}
	return out, nil
}

func (f *fakeSegments) Notify(ctx context.Context, host string, at time.Time, payload types.NotificationPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifyCalls = append(f.notifyCalls, payload)
	return nil
}

type testError string

func (e testError) Error() string { return string(e) }

const (
	errTestAttachFailed        = testError("test: attach failed")
	errTestDetachFailed        = testError("test: detach failed")
	errTestSegmentCreateFailed = testError("test: segment create failed")
	errTestSegmentListFailed   = testError("test: segment list failed")
)
