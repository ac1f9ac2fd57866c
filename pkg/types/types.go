package types

import "time"

// TaskState is the per-cluster phase in its enable/disable state machine.
type TaskState string

const (
	TaskStateCompleted     TaskState = "COMPLETED"
	TaskStateCreating      TaskState = "CREATING"
	TaskStateUpdating      TaskState = "UPDATING"
	TaskStateMigrating     TaskState = "MIGRATING"
	TaskStateRemoving      TaskState = "REMOVING"
	TaskStateErrorRemoving TaskState = "ERROR_REMOVING"
)

// Cluster is the persisted HA view of an aggregate: one record per
// aggregate, keyed by Name (the aggregate id in string form).
type Cluster struct {
	ID        string
	Name      string
	Enabled   bool
	TaskState TaskState
}

// Aggregate is the inventory service's read-only view of an administrator
// defined host group.
type Aggregate struct {
	ID    string
	Hosts []string
}

// HostLiveness is the inventory service's read-only liveness classification
// for a single host.
type HostLiveness string

const (
	HostUp      HostLiveness = "up"
	HostDown    HostLiveness = "down"
	HostUnknown HostLiveness = "unknown"
)

// HostIP pairs a hypervisor host name with its management IP, as returned
// by the inventory client's hypervisor listing.
type HostIP struct {
	Host string
	IP   string
}

// Role is the HA agent/server role attached to a host via the role client.
type Role string

const (
	RoleServer Role = "server"
	RoleAgent  Role = "agent"
)

// Topology is the derived (never stored) server/agent assignment for a
// sorted host list, as produced by pkg/topology. Servers does not include
// Leader; the "server" role is attached to Leader plus every host in
// Servers.
type Topology struct {
	Leader  string
	Servers []string // sorted lexicographically, excludes Leader
	Agents  []string
}

// BootstrapExpect returns the bootstrap_expect value for role, per the
// topology invariant: 3 for server-role hosts (leader included), 0 for
// agent-role hosts.
func BootstrapExpect(role Role) int {
	if role == RoleServer {
		return 3
	}
	return 0
}

// SegmentHost is one entry in the downstream HA service's segment
// membership listing.
type SegmentHost struct {
	Name string
	Host string
}

// NotificationKind selects the payload shape for a segment notification.
type NotificationKind string

const (
	NotificationStopped NotificationKind = "STOPPED"
	NotificationStarted NotificationKind = "STARTED"
)

// NotificationPayload is posted to the HA service on a host up/down event.
type NotificationPayload struct {
	Event            NotificationKind
	HostStatus       string
	ClusterStatus    string
	NotificationType string
}

// Notification is a NotificationPayload addressed to a specific host at a
// specific time, matching masakari.create_notification(token, type, host,
// time, payload) in the original: a notification that doesn't name the host
// can't drive evacuation of that host's VMs.
type Notification struct {
	Host    string
	At      time.Time
	Payload NotificationPayload
}

// HostDownNotification is the payload posted when a host is observed down.
func HostDownNotification() NotificationPayload {
	return NotificationPayload{
		Event:            NotificationStopped,
		HostStatus:       "NORMAL",
		ClusterStatus:    "OFFLINE",
		NotificationType: "COMPUTE_HOST",
	}
}

// HostUpNotification is the payload posted when a host is observed up.
func HostUpNotification() NotificationPayload {
	return NotificationPayload{
		Event:            NotificationStarted,
		HostStatus:       "NORMAL",
		ClusterStatus:    "ONLINE",
		NotificationType: "COMPUTE_HOST",
	}
}

// HostEvent describes a single host up/down event as reported by an
// external caller (the out-of-scope notification ingress).
type HostEvent struct {
	Host string
	Time time.Time
}
