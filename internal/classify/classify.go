// Package classify holds the engine's pure health predicates. Every
// function here takes value snapshots only — no adapter, no clock mutation
// — so each is independently testable and, per the specification, a panic
// here is a programming bug that should propagate rather than be swallowed
// like a phase failure.
package classify

import (
	"time"

	"github.com/samber/lo"

	"github.com/aws/clustermgtd/internal/config"
	"github.com/aws/clustermgtd/internal/types"
)

// IsStaticNodeConfigurationValid reports whether a static node has been
// assigned a backing IP, i.e. its address no longer equals its name.
func IsStaticNodeConfigurationValid(node types.Node) bool {
	return node.Address != node.Name
}

// IsBackingInstanceValid reports whether node has a live instance behind it,
// or doesn't need one because it is a power-saving dynamic node.
func IsBackingInstanceValid(node types.Node, instanceIPs map[string]types.Instance) bool {
	if node.IsDynamic() && node.IsPowerSaving() {
		return true
	}
	_, ok := instanceIPs[node.Address]
	return ok
}

// IsNodeBeingReplaced reports whether node is currently mid-replacement: its
// name is tracked in the replacement set, it still has a backing instance,
// and that instance was launched recently enough to still be within the
// replacement timeout.
func IsNodeBeingReplaced(
	node types.Node,
	ipToInstance map[string]types.Instance,
	inReplacement map[string]struct{},
	now time.Time,
	replacementTimeout time.Duration,
) bool {
	if _, tracked := inReplacement[node.Name]; !tracked {
		return false
	}

	instance, ok := ipToInstance[node.Address]
	if !ok {
		return false
	}

	return now.Sub(instance.LaunchTime) < replacementTimeout
}

// IsNodeStateHealthy applies the DOWN/DRAIN state policy: a node in either
// state is unhealthy unless it is mid-replacement, or the matching
// terminate_* config flag opts it out of churn entirely.
func IsNodeStateHealthy(
	node types.Node,
	ipToInstance map[string]types.Instance,
	inReplacement map[string]struct{},
	now time.Time,
	cfg config.Config,
) bool {
	switch {
	case node.State.Has(types.NodeStateDown):
		if !cfg.TerminateDownNodes {
			return true
		}
		return IsNodeBeingReplaced(node, ipToInstance, inReplacement, now, cfg.NodeReplacementTimeout)
	case node.State.Has(types.NodeStateDrain):
		if !cfg.TerminateDrainNodes {
			return true
		}
		return IsNodeBeingReplaced(node, ipToInstance, inReplacement, now, cfg.NodeReplacementTimeout)
	default:
		return true
	}
}

// IsNodeHealthy is the top-level per-node verdict: a static node must have a
// valid address, every node must have a valid backing instance (or be a
// power-saving dynamic node), and the node's reported state must not be one
// of the unhealthy DOWN/DRAIN combinations.
func IsNodeHealthy(
	node types.Node,
	ipToInstance map[string]types.Instance,
	inReplacement map[string]struct{},
	now time.Time,
	cfg config.Config,
) bool {
	if node.IsStatic() && !IsStaticNodeConfigurationValid(node) {
		return false
	}
	if !IsBackingInstanceValid(node, ipToInstance) {
		return false
	}
	return IsNodeStateHealthy(node, ipToInstance, inReplacement, now, cfg)
}

// FailEC2HealthCheck reports whether health fails the instance/system status
// check: either status is unhealthy and the earlier of the two
// ImpairedSince markers is at least timeout in the past.
func FailEC2HealthCheck(health types.InstanceHealthState, now time.Time, timeout time.Duration) bool {
	checks := lo.Filter([]types.StatusCheck{health.InstanceStatus, health.SystemStatus}, func(c types.StatusCheck, _ int) bool {
		return c.Unhealthy() && c.ImpairedSince != nil
	})
	if len(checks) == 0 {
		return false
	}

	earliest := checks[0].ImpairedSince
	for _, c := range checks[1:] {
		if c.ImpairedSince.Before(*earliest) {
			earliest = c.ImpairedSince
		}
	}

	return now.Sub(*earliest) >= timeout
}

// FailScheduledEventsCheck reports whether the instance has any pending
// provider-initiated scheduled event (reboot, retirement, maintenance).
func FailScheduledEventsCheck(health types.InstanceHealthState) bool {
	return len(health.ScheduledEvents) > 0
}

// BuildInstanceIPMap indexes alive cloud instances by private IP.
func BuildInstanceIPMap(instances []types.Instance) map[string]types.Instance {
	return lo.KeyBy(instances, func(i types.Instance) string { return i.PrivateIP })
}

// BuildInstanceIDMap indexes alive cloud instances by instance ID.
func BuildInstanceIDMap(instances []types.Instance) map[string]types.Instance {
	return lo.KeyBy(instances, func(i types.Instance) string { return i.InstanceID })
}

// BuildNodeIPMap indexes active nodes by address. The map holds one node per
// address: when several nodes share an address (the scheduler can report
// more than one node name for the same backing instance), only the last of
// them in nodes is kept. The health-check phase resolves nodes through this
// map, so it drains only that one node for a failing instance; the
// maintenance phase classifies the node slice itself and handles every node.
func BuildNodeIPMap(nodes []types.Node) map[string]types.Node {
	m := make(map[string]types.Node, len(nodes))
	for _, n := range nodes {
		m[n.Address] = n
	}
	return m
}

// SplitActiveInactive partitions nodes into those belonging to an active
// (UP) partition and all others, keyed by the supplied partition lookup.
func SplitActiveInactive(nodes []types.Node, partitionByName map[string]types.Partition) (active, inactive []types.Node) {
	for _, n := range nodes {
		p, ok := partitionByName[n.Partition]
		if ok && p.IsActive() {
			active = append(active, n)
		} else {
			inactive = append(inactive, n)
		}
	}
	return active, inactive
}
