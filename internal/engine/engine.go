// Package engine implements the reconciler: the per-tick orchestration of
// the phase handlers in internal/phases, with the failure-isolation model
// the specification requires between them.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aws/clustermgtd/internal/classify"
	"github.com/aws/clustermgtd/internal/clock"
	"github.com/aws/clustermgtd/internal/cloudadapter"
	"github.com/aws/clustermgtd/internal/config"
	"github.com/aws/clustermgtd/internal/heartbeat"
	"github.com/aws/clustermgtd/internal/logging"
	"github.com/aws/clustermgtd/internal/phases"
	"github.com/aws/clustermgtd/internal/schedadapter"
	"github.com/aws/clustermgtd/internal/types"
)

// ErrSchedulerUnavailable means the scheduler could not be queried this
// tick; fatal for the tick, every phase is skipped.
var ErrSchedulerUnavailable = errors.New("scheduler unavailable")

// ErrCloudInventoryUnavailable means live cloud instances could not be
// listed this tick; fatal for the tick after inactive-partition cleanup has
// already run.
var ErrCloudInventoryUnavailable = errors.New("cloud inventory unavailable")

// Report summarizes one tick's outcome for logging/metrics. It carries no
// information the reconciler itself acts on.
type Report struct {
	Skipped              bool
	FatalErr             error
	ActiveNodeCount       int
	InactiveNodeCount     int
	ClusterInstanceCount int
}

// Reconciler runs one tick at a time against an injected clock, scheduler
// adapter and cloud adapter. Its only mutable state is the replacement set
// and the health-check impaired-since tracker, both of which persist across
// ticks by design (§3 of the specification).
type Reconciler struct {
	Clock clock.Clock
	Sched schedadapter.Adapter
	Cloud cloudadapter.Adapter
	Log   zerolog.Logger

	NodeNameSpecification string

	replacementSet map[string]struct{}
	healthTracker  *phases.HealthTracker
}

// New builds a Reconciler with fresh persistent state.
func New(clk clock.Clock, sched schedadapter.Adapter, cloud cloudadapter.Adapter, log zerolog.Logger, nodeNameSpecification string) *Reconciler {
	return &Reconciler{
		Clock:                 clk,
		Sched:                 sched,
		Cloud:                 cloud,
		Log:                   log,
		NodeNameSpecification: nodeNameSpecification,
		replacementSet:        make(map[string]struct{}),
		healthTracker:         phases.NewHealthTracker(),
	}
}

// ReplacementSet exposes the current set of node names being replaced, for
// tests and diagnostics. The engine is the only writer.
func (r *Reconciler) ReplacementSet() map[string]struct{} {
	return r.replacementSet
}

// Tick runs one reconciliation pass per §4.1. Every phase failure is logged
// and swallowed except the two fatal-for-tick cases, which are returned on
// the report for the caller to log at a higher level.
func (r *Reconciler) Tick(ctx context.Context, cfg config.Config) Report {
	now := r.Clock.Now()

	if err := heartbeat.Write(cfg.HeartbeatFilePath, now); err != nil {
		r.Log.Error().Err(err).Msg("failed to write heartbeat")
	}

	if cfg.DisableAllClusterManagement {
		return Report{Skipped: true}
	}

	partitionsByName, nodes, err := r.fetchSchedulerState(ctx)
	if err != nil {
		r.Log.Error().Err(err).Msg("scheduler unavailable, skipping tick")
		return Report{FatalErr: fmt.Errorf("%w: %v", ErrSchedulerUnavailable, err)}
	}

	activeNodes, inactiveNodes := classify.SplitActiveInactive(nodes, partitionsByName)
	report := Report{ActiveNodeCount: len(activeNodes), InactiveNodeCount: len(inactiveNodes)}

	inactiveLog := logging.ForPhase(r.Log, "inactive_cleanup")
	if err := phases.InactiveCleanup(ctx, cfg, inactiveNodes, r.Cloud, inactiveLog); err != nil {
		inactiveLog.Error().Err(err).Msg("inactive-partition cleanup failed")
	}

	instances, err := r.Cloud.ListClusterInstances(ctx)
	if err != nil {
		r.Log.Error().Err(err).Msg("cloud inventory unavailable, skipping remaining phases")
		report.FatalErr = fmt.Errorf("%w: %v", ErrCloudInventoryUnavailable, err)
		return report
	}
	report.ClusterInstanceCount = len(instances)

	if len(activeNodes) == 0 {
		orphanLog := logging.ForPhase(r.Log, "orphan")
		if err := phases.Orphaned(ctx, cfg, now, instances, map[string]struct{}{}, r.Cloud, orphanLog); err != nil {
			orphanLog.Error().Err(err).Msg("orphan termination failed")
		}
		return report
	}

	ipToInstance := classify.BuildInstanceIPMap(instances)
	ipToNode := classify.BuildNodeIPMap(activeNodes)

	if len(cfg.EnabledHealthChecks()) > 0 {
		healthLog := logging.ForPhase(r.Log, "health_check")
		if err := phases.HealthCheck(ctx, cfg, now, instances, ipToNode, r.healthTracker, r.Sched, r.Cloud, healthLog); err != nil {
			healthLog.Error().Err(err).Msg("health-check phase failed")
		}
	}

	maintenanceLog := logging.ForPhase(r.Log, "node_maintenance")
	phases.NodeMaintenance(ctx, cfg, now, activeNodes, ipToInstance, r.replacementSet, r.Sched, r.Cloud, maintenanceLog)

	ipsUsedByScheduler := make(map[string]struct{}, len(activeNodes))
	for _, n := range activeNodes {
		if n.Address != n.Name {
			ipsUsedByScheduler[n.Address] = struct{}{}
		}
	}

	orphanLog := logging.ForPhase(r.Log, "orphan")
	if err := phases.Orphaned(ctx, cfg, now, instances, ipsUsedByScheduler, r.Cloud, orphanLog); err != nil {
		orphanLog.Error().Err(err).Msg("orphan termination failed")
	}

	return report
}

func (r *Reconciler) fetchSchedulerState(ctx context.Context) (map[string]types.Partition, []types.Node, error) {
	partitions, err := r.Sched.ListPartitions(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list partitions: %w", err)
	}

	nodes, err := r.Sched.ListNodes(ctx, r.NodeNameSpecification)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	partitionsByName := make(map[string]types.Partition, len(partitions))
	for _, p := range partitions {
		partitionsByName[p.Name] = p
	}

	return partitionsByName, nodes, nil
}
