// Package config defines every configuration key the core recognizes.
// Values are loaded by cmd/hamgr from an optional YAML file overlaid on the
// defaults, with serve's flags overriding the data directory and listen
// address; environment variables are not read. Values are never read ad-hoc
// from a free-form map.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every configuration key recognized by the cluster
// reconciliation engine, per spec.md §6.
type Config struct {
	// Credential helper (keystone_middleware in the original).
	AdminUser       string `yaml:"admin_user"`
	AdminPassword   string `yaml:"admin_password"`
	AuthURI         string `yaml:"auth_uri"`
	AdminTenantName string `yaml:"admin_tenant_name"`

	// Region is the compute region. It is loaded but not read by any
	// component: the inventory client is not scoped by region.
	Region string `yaml:"region"`

	// ReconcileInterval is how often the Drift Reconciler runs.
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`

	// MinHostCount is the minimum aggregate size. It is loaded but not read
	// by any component: the Topology Planner's floor is fixed at 3 hosts and
	// does not change with this value.
	MinHostCount int `yaml:"min_host_count"`

	// RoleConflictRetryBudget bounds the role client's 409-conflict retry
	// loop on attach/detach.
	RoleConflictRetryBudget time.Duration `yaml:"role_conflict_retry_budget"`

	// RoleRemovalPollBudget bounds the role client's wait-for-removal poll.
	RoleRemovalPollBudget time.Duration `yaml:"role_removal_poll_budget"`

	// RoleServiceBaseURL is the base URL of the host-role management
	// service, e.g. "http://localhost:8080".
	RoleServiceBaseURL string `yaml:"role_service_base_url"`

	// RoleName is loaded but not read by any component: the role client
	// names each host's role server or agent after its topology assignment.
	RoleName string `yaml:"role_name"`

	// DataDir is where the Cluster Store persists its BoltDB file.
	DataDir string `yaml:"data_dir"`

	// InventoryBaseURL is the base URL of the host-aggregate inventory
	// service, e.g. "http://localhost:8600".
	InventoryBaseURL string `yaml:"inventory_base_url"`

	// InventoryServiceBinary is the compute-service binary whose
	// os-services record determines a host's liveness (§4.2). Defaults to
	// "nova-compute".
	InventoryServiceBinary string `yaml:"inventory_service_binary"`

	// SegmentBaseURL is the base URL of the HA service's failover-segment
	// and notification API, e.g. "http://localhost:8601".
	SegmentBaseURL string `yaml:"segment_base_url"`

	// ListenAddr is the address the HTTP API server binds to.
	ListenAddr string `yaml:"listen_addr"`

	// SchedulerWorkers bounds the Host-Down Coordinator's deferred task
	// pool size.
	SchedulerWorkers int `yaml:"scheduler_workers"`

	// TokenRefreshSkew is how far ahead of a token's expiry the auth
	// Source proactively refreshes it.
	TokenRefreshSkew time.Duration `yaml:"token_refresh_skew"`
}

// Default returns the configuration defaults named in spec.md §6.
func Default() Config {
	return Config{
		ReconcileInterval:       120 * time.Second,
		MinHostCount:            3,
		RoleConflictRetryBudget: 120 * time.Second,
		RoleRemovalPollBudget:   300 * time.Second,
		RoleName:                "pf9-ha-slave",
		DataDir:                 "/var/lib/hamgr",
		InventoryBaseURL:        "http://localhost:8600",
		InventoryServiceBinary:  "nova-compute",
		SegmentBaseURL:          "http://localhost:8601",
		ListenAddr:              ":8602",
		SchedulerWorkers:        4,
		TokenRefreshSkew:        time.Minute,
	}
}

// Load reads a YAML file at path and overlays it onto Default(), so a file
// that sets only a handful of keys still gets sane values for the rest.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}
