/*
Package types defines the data structures shared across HAMgr's cluster
reconciliation engine: the cluster record and its task-state machine, the
read-only aggregate/host-liveness views supplied by the inventory service,
and the derived server/agent topology assignment.

None of these types carry behavior beyond small, pure helpers — the state
machine transitions live in pkg/controller, and the topology derivation
lives in pkg/topology.
*/
package types
