package storeha

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/hamgr/pkg/haerrors"
	"github.com/cuemby/hamgr/pkg/store"
	"github.com/cuemby/hamgr/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// ErrNotLeader is returned by every write method when called on a follower.
// Writes are not forwarded to the leader; Raft() exposes the underlying
// raft.Raft, which reports the current leader.
var ErrNotLeader = errors.New("storeha: not the raft leader")

// Config configures a Node's Raft transport and log storage.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// Node replicates a store.Store across a Raft group, implementing
// store.Store itself so the rest of the core (Controller, Coordinator,
// Reconciler) can use it as a drop-in replacement for a single-instance
// BoltStore. Reads are served locally (possibly stale on a follower);
// writes are replicated via raft.Apply and only succeed on the leader.
type Node struct {
	cfg   Config
	raft  *raft.Raft
	fsm   *FSM
	local store.Store
}

// NewNode wraps local in a Node ready to Bootstrap or Join.
func NewNode(cfg Config, local store.Store) *Node {
	return &Node{cfg: cfg, local: local, fsm: NewFSM(local)}
}

// Raft exposes the underlying raft.Raft handle, e.g. for callers that need
// raft.Raft.Leader() to forward a write.
func (n *Node) Raft() *raft.Raft { return n.raft }

func (n *Node) raftConfig() *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(n.cfg.NodeID)
	// Tuned for LAN-deployed HA controllers, not WAN: the aggregate-level
	// reshape workflow already tolerates multi-second latency, so these
	// just need to be faster than the 120s reconciler tick.
	config.HeartbeatTimeout = 1 * time.Second
	config.ElectionTimeout = 1 * time.Second
	config.LeaderLeaseTimeout = 500 * time.Millisecond
	return config
}

func (n *Node) newTransport() (*raft.NetworkTransport, error) {
	addr, err := net.ResolveTCPAddr("tcp", n.cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("storeha: resolving bind addr: %w", err)
	}
	return raft.NewTCPTransport(n.cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
}

func (n *Node) newRaft() (*raft.Raft, *raft.NetworkTransport, error) {
	if err := os.MkdirAll(n.cfg.DataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("storeha: creating data dir: %w", err)
	}

	transport, err := n.newTransport()
	if err != nil {
		return nil, nil, err
	}

	snapshotStore, err := raft.NewFileSnapshotStore(n.cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("storeha: creating snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(n.cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("storeha: creating log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(n.cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("storeha: creating stable store: %w", err)
	}

	r, err := raft.NewRaft(n.raftConfig(), n.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, nil, fmt.Errorf("storeha: creating raft: %w", err)
	}
	return r, transport, nil
}

// Bootstrap forms a brand new single-node Raft group with this node as its
// only member.
func (n *Node) Bootstrap() error {
	r, transport, err := n.newRaft()
	if err != nil {
		return err
	}
	n.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{{ID: n.raftConfig().LocalID, Address: transport.LocalAddr()}},
	}
	if err := r.BootstrapCluster(configuration).Error(); err != nil {
		return fmt.Errorf("storeha: bootstrapping cluster: %w", err)
	}
	return nil
}

// Join starts this node's Raft instance without bootstrapping; the caller
// is expected to have already been added to the leader's configuration
// (e.g. via an out-of-band AddVoter call against the leader).
func (n *Node) Join() error {
	r, _, err := n.newRaft()
	if err != nil {
		return err
	}
	n.raft = r
	return nil
}

// Shutdown releases the Raft instance's resources.
func (n *Node) Shutdown() error {
	if n.raft == nil {
		return nil
	}
	return n.raft.Shutdown().Error()
}

func (n *Node) apply(op string, payload []byte) (interface{}, error) {
	if n.raft.State() != raft.Leader {
		return nil, ErrNotLeader
	}
	future := n.raft.Apply(payload, 10*time.Second)
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("storeha: applying %s: %w", op, err)
	}
	if err, ok := future.Response().(error); ok && err != nil {
		return nil, err
	}
	return future.Response(), nil
}

// Get implements store.Store by reading the local replica directly.
func (n *Node) Get(name string) (*types.Cluster, error) { return n.local.Get(name) }

// GetAllActive implements store.Store by reading the local replica directly.
func (n *Node) GetAllActive() ([]*types.Cluster, error) { return n.local.GetAllActive() }

// CreateIfAbsent implements store.Store, replicated through Raft.
func (n *Node) CreateIfAbsent(name string, initial types.TaskState) (*types.Cluster, error) {
	payload, err := encodeCommand("create_if_absent", createIfAbsentArgs{Name: name, Initial: initial})
	if err != nil {
		return nil, err
	}
	resp, err := n.apply("create_if_absent", payload)
	if err != nil {
		return nil, err
	}
	cluster, ok := resp.(*types.Cluster)
	if !ok {
		return nil, fmt.Errorf("storeha: unexpected response type for create_if_absent")
	}
	return cluster, nil
}

// SetEnabled implements store.Store, replicated through Raft.
func (n *Node) SetEnabled(id string, enabled bool) error {
	payload, err := encodeCommand("set_enabled", setEnabledArgs{ID: id, Enabled: enabled})
	if err != nil {
		return err
	}
	_, err = n.apply("set_enabled", payload)
	return err
}

// SetTaskState implements store.Store, replicated through Raft.
func (n *Node) SetTaskState(id string, state types.TaskState) error {
	payload, err := encodeCommand("set_task_state", setTaskStateArgs{ID: id, State: state})
	if err != nil {
		return err
	}
	_, err = n.apply("set_task_state", payload)
	return err
}

// CompareAndSetTaskState implements store.Store, replicated through Raft.
// Because Apply only ever runs on a single Raft leader at a time, this CAS
// is free of the races a multi-writer deployment would otherwise need a
// database-level transaction to avoid.
func (n *Node) CompareAndSetTaskState(id string, want, set types.TaskState) error {
	payload, err := encodeCommand("compare_and_set_task_state", compareAndSetArgs{ID: id, Want: want, Set: set})
	if err != nil {
		return err
	}
	_, err = n.apply("compare_and_set_task_state", payload)
	if err != nil {
		var busy *haerrors.ClusterBusyError
		if errors.As(err, &busy) {
			return busy
		}
	}
	return err
}

// Close implements store.Store by closing the local replica; the Raft
// instance itself is released separately via Shutdown.
func (n *Node) Close() error { return n.local.Close() }

var _ store.Store = (*Node)(nil)
