// Package topology computes the server/agent role assignment for a cluster
// from its member host list. Plan is pure and deterministic: it performs no
// I/O and depends only on its input.
package topology

import (
	"sort"

	"github.com/cuemby/hamgr/pkg/haerrors"
	"github.com/cuemby/hamgr/pkg/types"
)

// minServers is the size of the server set (leader included) once the host
// count reaches it; hosts beyond it become agents.
const minServers = 5

// minHosts is the absolute floor below which no topology can be planned.
const minHosts = 3

// Plan assigns roles over hosts, an unordered set of host names. Hosts are
// sorted lexicographically before assignment: leader = hosts[0], servers =
// hosts[1:min(5,n)] (leader excluded), agents = hosts[min(5,n):]. Returns
// haerrors.ErrInsufficientHosts when len(hosts) < 3.
func Plan(hosts []string) (types.Topology, error) {
	if len(hosts) < minHosts {
		return types.Topology{}, haerrors.ErrInsufficientHosts
	}

	sorted := make([]string, len(hosts))
	copy(sorted, hosts)
	sort.Strings(sorted)

	serverSetSize := minServers
	if len(sorted) < serverSetSize {
		serverSetSize = len(sorted)
	}

	return types.Topology{
		Leader:  sorted[0],
		Servers: sorted[1:serverSetSize],
		Agents:  sorted[serverSetSize:],
	}, nil
}
