// Package types holds the value types shared by the scheduler adapter, the
// cloud adapter, the classifiers and the reconciliation phases. Everything
// here is a plain snapshot: nothing in this package talks to the network.
package types

import (
	"strings"
	"time"
)

// NodeState is one flag in a node's state set, e.g. DOWN or DRAIN.
type NodeState string

const (
	NodeStateIdle       NodeState = "IDLE"
	NodeStateMixed      NodeState = "MIXED"
	NodeStateAllocated  NodeState = "ALLOCATED"
	NodeStateDown       NodeState = "DOWN"
	NodeStateDrain      NodeState = "DRAIN"
	NodeStateCompleting NodeState = "COMPLETING"
	NodeStatePower      NodeState = "POWER"
	NodeStateCloud      NodeState = "CLOUD"
)

// NodeStateSet is the unordered set of flags the scheduler reports for a node.
type NodeStateSet map[NodeState]struct{}

// NewNodeStateSet builds a set from individual flags.
func NewNodeStateSet(states ...NodeState) NodeStateSet {
	set := make(NodeStateSet, len(states))
	for _, s := range states {
		set[s] = struct{}{}
	}
	return set
}

// Has reports whether the set contains the flag.
func (s NodeStateSet) Has(state NodeState) bool {
	_, ok := s[state]
	return ok
}

// IsExactly reports whether the set contains exactly the given flags, no more, no fewer.
func (s NodeStateSet) IsExactly(states ...NodeState) bool {
	if len(s) != len(states) {
		return false
	}
	for _, st := range states {
		if !s.Has(st) {
			return false
		}
	}
	return true
}

// Node is the scheduler's view of a single compute node.
type Node struct {
	Name      string
	Address   string // routable IP once assigned, else equal to Name
	Hostname  string
	State     NodeStateSet
	Partition string // name of the owning partition; decides whether the node is active
}

// IsStatic reports whether the node's name matches the static-node naming convention.
func (n Node) IsStatic() bool {
	return strings.Contains(n.Name, "-static-")
}

// IsDynamic reports whether the node's name matches the dynamic-node naming convention.
func (n Node) IsDynamic() bool {
	return strings.Contains(n.Name, "-dynamic-")
}

// IsPowerSaving reports whether the node's state set includes POWER.
func (n Node) IsPowerSaving() bool {
	return n.State.Has(NodeStatePower)
}

// PartitionState is the scheduler's reported state for a partition.
type PartitionState string

const (
	PartitionStateUp       PartitionState = "UP"
	PartitionStateInactive PartitionState = "INACTIVE"
	PartitionStateDrain    PartitionState = "DRAIN"
)

// Partition groups nodes under a scheduling policy.
type Partition struct {
	Name                  string
	NodeNameSpecification string
	State                 PartitionState
}

// IsActive reports whether the partition currently accepts scheduling, i.e. is UP.
func (p Partition) IsActive() bool {
	return p.State == PartitionStateUp
}

// Instance is the cloud provider's view of a running virtual machine.
type Instance struct {
	InstanceID string
	PrivateIP  string
	Hostname   string
	LaunchTime time.Time
}

// HealthStatus is the normalized value of an EC2 instance/system status check.
type HealthStatus string

const (
	HealthStatusOK               HealthStatus = "ok"
	HealthStatusImpaired         HealthStatus = "impaired"
	HealthStatusInitializing     HealthStatus = "initializing"
	HealthStatusInsufficientData HealthStatus = "insufficient-data"
	HealthStatusNotApplicable    HealthStatus = "not-applicable"
)

// StatusCheck is one of the two EC2 status-check results (instance or system).
type StatusCheck struct {
	Status        HealthStatus
	Details       []string
	ImpairedSince *time.Time // nil unless an impairment start has been recorded (see phases.HealthTracker)
}

// Unhealthy reports whether this status check is not one of the benign states.
func (c StatusCheck) Unhealthy() bool {
	switch c.Status {
	case HealthStatusOK, HealthStatusInitializing, HealthStatusInsufficientData, HealthStatusNotApplicable:
		return false
	default:
		return true
	}
}

// InstanceHealthState is a single instance's provider-reported health snapshot.
type InstanceHealthState struct {
	InstanceID      string
	LifecycleState  string
	InstanceStatus  StatusCheck
	SystemStatus    StatusCheck
	ScheduledEvents []string
}

// HealthCheckType enumerates the health-check phases the engine runs, in order.
type HealthCheckType int

const (
	HealthCheckEC2 HealthCheckType = iota
	HealthCheckScheduledEvent
)

func (t HealthCheckType) String() string {
	switch t {
	case HealthCheckEC2:
		return "EC2_HEALTH"
	case HealthCheckScheduledEvent:
		return "SCHEDULED_EVENT"
	default:
		return "UNKNOWN"
	}
}
