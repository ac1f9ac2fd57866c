package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/hamgr/pkg/controller"
	"github.com/cuemby/hamgr/pkg/haerrors"
	"github.com/cuemby/hamgr/pkg/role"
	"github.com/cuemby/hamgr/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu       sync.Mutex
	clusters map[string]*types.Cluster
}

func newFakeStore() *fakeStore { return &fakeStore{clusters: make(map[string]*types.Cluster)} }

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
	c := &types.Cluster{ID: uuid.New().String(), Name: name, Enabled: true, TaskState: initial}
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

type fakeInventory struct {
	mu         sync.Mutex
	aggregates map[string]types.Aggregate
	liveness   map[string]types.HostLiveness
}

func (f *fakeInventory) ListAggregates(ctx context.Context) ([]types.Aggregate, error) { return nil, nil }

func (f *fakeInventory) GetAggregate(ctx context.Context, id string) (types.Aggregate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.aggregates[id]
	if !ok {
		return types.Aggregate{}, haerrors.Wrap(haerrors.ErrAggregateNotFound, id)
	}
	return a, nil
}

func (f *fakeInventory) ListHypervisors(ctx context.Context) ([]types.HostIP, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.HostIP
	for _, a := range f.aggregates {
		for _, h := range a.Hosts {
			out = append(out, types.HostIP{Host: h, IP: "ip-" + h})
		}
	}
	return out, nil
}

func (f *fakeInventory) ServiceState(ctx context.Context, host string) (types.HostLiveness, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if state, ok := f.liveness[host]; ok {
		return state, nil
	}
	return types.HostUp, nil
}

type fakeSegments struct {
	mu       sync.Mutex
	segments map[string][]string
}

func newFakeSegments() *fakeSegments { return &fakeSegments{segments: make(map[string][]string)} }

func (f *fakeSegments) CreateSegment(ctx context.Context, name string, hosts []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
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
	return nil
}

type fakeRoles struct {
	mu       sync.Mutex
	attached map[string]types.Role
}

func newFakeRoles() *fakeRoles { return &fakeRoles{attached: make(map[string]types.Role)} }

func (f *fakeRoles) Attach(ctx context.Context, host string, spec role.AttachSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached[host] = spec.Role
	return nil
}

func (f *fakeRoles) Detach(ctx context.Context, host string, role types.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.attached, host)
	return nil
}

func (f *fakeRoles) WaitForRemoval(ctx context.Context, host string, role types.Role) error { return nil }

func newHarness(aggregates map[string]types.Aggregate, segments map[string][]string) (*Reconciler, *fakeStore, *fakeRoles) {
	st := newFakeStore()
	inv := &fakeInventory{aggregates: aggregates, liveness: make(map[string]types.HostLiveness)}
	roles := newFakeRoles()
	seg := newFakeSegments()
	for name, hosts := range segments {
		seg.segments[name] = hosts
	}
	ctrl := controller.New(st, inv, roles, seg)
	rec := New(st, inv, seg, ctrl, time.Hour)
	return rec, st, roles
}

func TestReconcile_DriftReshapeAddsNewHosts(t *testing.T) {
	aggregates := map[string]types.Aggregate{
		"A1": {ID: "A1", Hosts: []string{"h1", "h2", "h3", "h4", "h5", "h6"}},
	}
	rec, st, roles := newHarness(aggregates, map[string][]string{"A1": {"h1", "h2", "h3", "h4"}})

	cluster, err := st.CreateIfAbsent("A1", types.TaskStateCompleted)
	require.NoError(t, err)
	require.NoError(t, st.SetEnabled(cluster.ID, true))

	rec.reconcileOne(context.Background(), cluster)

	assert.Contains(t, roles.attached, "h5")
	assert.Contains(t, roles.attached, "h6")

	got, err := st.Get("A1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateCompleted, got.TaskState)
}

func TestReconcile_NoDriftDoesNothing(t *testing.T) {
	aggregates := map[string]types.Aggregate{
		"A1": {ID: "A1", Hosts: []string{"h1", "h2", "h3", "h4"}},
	}
	rec, st, roles := newHarness(aggregates, map[string][]string{"A1": {"h1", "h2", "h3", "h4"}})

	cluster, err := st.CreateIfAbsent("A1", types.TaskStateCompleted)
	require.NoError(t, err)
	require.NoError(t, st.SetEnabled(cluster.ID, true))

	rec.reconcileOne(context.Background(), cluster)

	assert.Empty(t, roles.attached, "no new hosts means no reshape call at all")
}

func TestReconcile_DefersWhenInactiveHostsPresent(t *testing.T) {
	aggregates := map[string]types.Aggregate{
		"A1": {ID: "A1", Hosts: []string{"h1", "h2", "h3", "h4", "h5"}},
	}
	rec, st, roles := newHarness(aggregates, map[string][]string{"A1": {"h1", "h2", "h3", "h4"}})
	rec.Inventory.(*fakeInventory).liveness["h2"] = types.HostDown

	cluster, err := st.CreateIfAbsent("A1", types.TaskStateCompleted)
	require.NoError(t, err)
	require.NoError(t, st.SetEnabled(cluster.ID, true))

	rec.reconcileOne(context.Background(), cluster)

	assert.Empty(t, roles.attached, "inactive (down but in segment) host must defer the reshape")
}

func TestReconcile_SkipsOnSegmentNotFound(t *testing.T) {
	aggregates := map[string]types.Aggregate{
		"A1": {ID: "A1", Hosts: []string{"h1", "h2", "h3"}},
	}
	rec, st, roles := newHarness(aggregates, nil)

	cluster, err := st.CreateIfAbsent("A1", types.TaskStateCompleted)
	require.NoError(t, err)
	require.NoError(t, st.SetEnabled(cluster.ID, true))

	rec.reconcileOne(context.Background(), cluster)

	assert.Empty(t, roles.attached)
}

func TestReconcile_TickFansOutOverMultipleClusters(t *testing.T) {
	aggregates := map[string]types.Aggregate{
		"A1": {ID: "A1", Hosts: []string{"h1", "h2", "h3", "h4"}},
		"A2": {ID: "A2", Hosts: []string{"g1", "g2", "g3", "g4"}},
	}
	rec, st, roles := newHarness(aggregates, map[string][]string{
		"A1": {"h1", "h2", "h3"},
		"A2": {"g1", "g2", "g3"},
	})

	c1, err := st.CreateIfAbsent("A1", types.TaskStateCompleted)
	require.NoError(t, err)
	require.NoError(t, st.SetEnabled(c1.ID, true))
	c2, err := st.CreateIfAbsent("A2", types.TaskStateCompleted)
	require.NoError(t, err)
	require.NoError(t, st.SetEnabled(c2.ID, true))

	rec.tick(context.Background())

	assert.Contains(t, roles.attached, "h4")
	assert.Contains(t, roles.attached, "g4")
}
