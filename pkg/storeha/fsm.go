// Package storeha wraps the Cluster Store in a Raft log so multiple hamgr
// instances can share one consistent view of cluster records, following
// the teacher's manager/fsm.go shape (one raft.FSM per process, commands
// JSON-encoded onto the log) generalized from Warren's node/service/task
// records down to HAMgr's single Cluster record type.
package storeha

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/cuemby/hamgr/pkg/store"
	"github.com/cuemby/hamgr/pkg/types"
	"github.com/hashicorp/raft"
)

// FSM applies committed cluster-store commands to an underlying store.Store.
// Every write in the core goes through here instead of calling the store
// directly, so it only ever executes once consensus is reached.
type FSM struct {
	mu    sync.RWMutex
	store store.Store
}

// NewFSM builds an FSM over the given backing store.
func NewFSM(s store.Store) *FSM {
	return &FSM{store: s}
}

// command is the Raft log entry payload: an operation name plus its
// JSON-encoded arguments.
type command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

type createIfAbsentArgs struct {
	Name    string          `json:"name"`
	Initial types.TaskState `json:"initial"`
}

type setEnabledArgs struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

type setTaskStateArgs struct {
	ID    string          `json:"id"`
	State types.TaskState `json:"state"`
}

type compareAndSetArgs struct {
	ID   string          `json:"id"`
	Want types.TaskState `json:"want"`
	Set  types.TaskState `json:"set"`
}

func encodeCommand(op string, args interface{}) ([]byte, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return json.Marshal(command{Op: op, Data: data})
}

// Apply implements raft.FSM. It is only ever invoked by the raft library
// once a command is committed to a quorum of the log.
func (f *FSM) Apply(entry *raft.Log) interface{} {
	var cmd command
	if err := json.Unmarshal(entry.Data, &cmd); err != nil {
		return fmt.Errorf("storeha: decoding log entry: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case "create_if_absent":
		var args createIfAbsentArgs
		if err := json.Unmarshal(cmd.Data, &args); err != nil {
			return err
		}
		cluster, err := f.store.CreateIfAbsent(args.Name, args.Initial)
		if err != nil {
			return err
		}
		return cluster

	case "set_enabled":
		var args setEnabledArgs
		if err := json.Unmarshal(cmd.Data, &args); err != nil {
			return err
		}
		return f.store.SetEnabled(args.ID, args.Enabled)

	case "set_task_state":
		var args setTaskStateArgs
		if err := json.Unmarshal(cmd.Data, &args); err != nil {
			return err
		}
		return f.store.SetTaskState(args.ID, args.State)

	case "compare_and_set_task_state":
		var args compareAndSetArgs
		if err := json.Unmarshal(cmd.Data, &args); err != nil {
			return err
		}
		return f.store.CompareAndSetTaskState(args.ID, args.Want, args.Set)

	default:
		return fmt.Errorf("storeha: unknown command %q", cmd.Op)
	}
}

// snapshot is a point-in-time copy of every cluster record, used to seed a
// new follower without replaying the entire log.
type snapshot struct {
	clusters []*types.Cluster
}

// Snapshot implements raft.FSM.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	clusters, err := f.store.GetAllActive()
	if err != nil {
		return nil, err
	}
	return &snapshot{clusters: clusters}, nil
}

// Persist implements raft.FSMSnapshot.
func (s *snapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		encoder := json.NewEncoder(sink)
		return encoder.Encode(s.clusters)
	}()
	if err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

// Release implements raft.FSMSnapshot.
func (s *snapshot) Release() {}

// Restore implements raft.FSM by replaying a snapshot onto the backing
// store, recreating every cluster record with CreateIfAbsent and then
// pushing its enabled/task_state fields to match.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var clusters []*types.Cluster
	if err := json.NewDecoder(rc).Decode(&clusters); err != nil {
		return fmt.Errorf("storeha: decoding snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range clusters {
		created, err := f.store.CreateIfAbsent(c.Name, c.TaskState)
		if err != nil {
			return err
		}
		if err := f.store.SetEnabled(created.ID, c.Enabled); err != nil {
			return err
		}
		if err := f.store.SetTaskState(created.ID, c.TaskState); err != nil {
			return err
		}
	}
	return nil
}
