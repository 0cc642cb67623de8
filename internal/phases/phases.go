// Package phases implements the reconciler's four phase handlers: health
// checking, node maintenance, orphaned-instance termination and inactive-
// partition cleanup. Each phase logs its own adapter failures or returns them
// to the engine, which logs them, so one failing phase does not stop the
// phases after it.
package phases

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aws/clustermgtd/internal/classify"
	"github.com/aws/clustermgtd/internal/clock"
	"github.com/aws/clustermgtd/internal/cloudadapter"
	"github.com/aws/clustermgtd/internal/config"
	"github.com/aws/clustermgtd/internal/schedadapter"
	"github.com/aws/clustermgtd/internal/types"
)

// chunkStrings splits items into groups of at most size, preserving order.
func chunkStrings(items []string, size int) [][]string {
	if size <= 0 {
		size = len(items)
	}
	var chunks [][]string
	for size < len(items) {
		items, chunks = items[size:], append(chunks, items[0:size:size])
	}
	if len(items) > 0 {
		chunks = append(chunks, items)
	}
	return chunks
}

// HealthCheck implements §4.6: query unhealthy instance health states and,
// for each enabled check type in order, drain the nodes whose backing
// instance fails that check.
func HealthCheck(
	ctx context.Context,
	cfg config.Config,
	now time.Time,
	instances []types.Instance,
	ipToNode map[string]types.Node,
	tracker *HealthTracker,
	sched schedadapter.Adapter,
	cloud cloudadapter.Adapter,
	log zerolog.Logger,
) error {
	ids := make([]string, 0, len(instances))
	for _, inst := range instances {
		ids = append(ids, inst.InstanceID)
	}

	states, err := cloud.DescribeUnhealthy(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to describe instance health: %w", err)
	}
	states = tracker.Annotate(states, now)

	idToInstance := classify.BuildInstanceIDMap(instances)

	for _, checkType := range cfg.EnabledHealthChecks() {
		names := handleHealthCheck(states, idToInstance, ipToNode, checkType, now, cfg.HealthCheckTimeout)
		if len(names) == 0 {
			continue
		}
		reason := fmt.Sprintf("Node failing %s", checkType)
		if err := sched.Drain(ctx, names, reason); err != nil {
			log.Error().Err(err).Strs("nodes", names).Str("check", checkType.String()).Msg("failed to drain unhealthy nodes")
		}
	}
	return nil
}

func handleHealthCheck(
	states []types.InstanceHealthState,
	idToInstance map[string]types.Instance,
	ipToNode map[string]types.Node,
	checkType types.HealthCheckType,
	now time.Time,
	timeout time.Duration,
) []string {
	var names []string
	for _, s := range states {
		var failed bool
		switch checkType {
		case types.HealthCheckEC2:
			failed = classify.FailEC2HealthCheck(s, now, timeout)
		case types.HealthCheckScheduledEvent:
			failed = classify.FailScheduledEventsCheck(s)
		}
		if !failed {
			continue
		}

		inst, ok := idToInstance[s.InstanceID]
		if !ok {
			continue
		}
		node, ok := ipToNode[inst.PrivateIP]
		if !ok {
			continue
		}
		names = append(names, node.Name)
	}
	return names
}

// NodeMaintenance implements §4.7: refresh the replacement set, classify
// active nodes into unhealthy dynamic/static, power-save the dynamic ones
// and retire-and-relaunch the static ones.
func NodeMaintenance(
	ctx context.Context,
	cfg config.Config,
	now time.Time,
	activeNodes []types.Node,
	ipToInstance map[string]types.Instance,
	replacementSet map[string]struct{},
	sched schedadapter.Adapter,
	cloud cloudadapter.Adapter,
	log zerolog.Logger,
) {
	updateReplacementSet(activeNodes, replacementSet)

	var unhealthyDynamic, unhealthyStatic []types.Node
	for _, n := range activeNodes {
		if classify.IsNodeHealthy(n, ipToInstance, replacementSet, now, cfg) {
			continue
		}
		if n.IsDynamic() {
			unhealthyDynamic = append(unhealthyDynamic, n)
		} else {
			unhealthyStatic = append(unhealthyStatic, n)
		}
	}

	if len(unhealthyDynamic) > 0 {
		names := nodeNames(unhealthyDynamic)
		if err := sched.DownAndPowerSave(ctx, names, "Scheduler health check failed"); err != nil {
			log.Error().Err(err).Strs("nodes", names).Msg("failed to down and power-save unhealthy dynamic nodes")
		}
	}

	if len(unhealthyStatic) == 0 {
		return
	}

	staticNames := nodeNames(unhealthyStatic)
	if err := sched.Down(ctx, staticNames, "Static node maintenance: unhealthy node is being replaced"); err != nil {
		log.Error().Err(err).Strs("nodes", staticNames).Msg("failed to down unhealthy static nodes")
	}

	var backingIDs []string
	for _, n := range unhealthyStatic {
		if inst, ok := ipToInstance[n.Address]; ok {
			backingIDs = append(backingIDs, inst.InstanceID)
		}
	}
	for _, batch := range chunkStrings(backingIDs, cfg.TerminateMaxBatchSize) {
		if err := cloud.Terminate(ctx, batch); err != nil {
			log.Error().Err(err).Strs("instance_ids", batch).Msg("failed to terminate replaced static node instances")
		}
	}

	for _, batch := range chunkStrings(staticNames, cfg.LaunchMaxBatchSize) {
		if _, err := cloud.LaunchForNodes(ctx, batch); err != nil {
			log.Error().Err(err).Strs("nodes", batch).Msg("failed to launch replacement instances")
		}
	}

	for _, name := range staticNames {
		replacementSet[name] = struct{}{}
	}
}

// updateReplacementSet drops any tracked node whose active state is no
// longer exactly {DOWN} — it has either come back healthy or moved further
// (e.g. DRAIN), meaning the replacement it was tracking is resolved or moot.
func updateReplacementSet(activeNodes []types.Node, replacementSet map[string]struct{}) {
	byName := make(map[string]types.Node, len(activeNodes))
	for _, n := range activeNodes {
		byName[n.Name] = n
	}

	for name := range replacementSet {
		node, ok := byName[name]
		if !ok {
			continue
		}
		if !node.State.IsExactly(types.NodeStateDown) {
			delete(replacementSet, name)
		}
	}
}

func nodeNames(nodes []types.Node) []string {
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = n.Name
	}
	return names
}

// Orphaned implements §4.8: terminate instances whose IP is unclaimed by the
// scheduler and old enough to clear the orphan grace period.
func Orphaned(
	ctx context.Context,
	cfg config.Config,
	now time.Time,
	instances []types.Instance,
	ipsUsedByScheduler map[string]struct{},
	cloud cloudadapter.Adapter,
	log zerolog.Logger,
) error {
	var orphanIDs []string
	for _, inst := range instances {
		if _, used := ipsUsedByScheduler[inst.PrivateIP]; used {
			continue
		}
		if !clock.TimeIsUp(inst.LaunchTime, now, cfg.OrphanedInstanceTimeout) {
			continue
		}
		orphanIDs = append(orphanIDs, inst.InstanceID)
	}

	for _, batch := range chunkStrings(orphanIDs, cfg.TerminateMaxBatchSize) {
		if err := cloud.Terminate(ctx, batch); err != nil {
			log.Error().Err(err).Strs("instance_ids", batch).Msg("failed to terminate orphaned instances")
		}
	}
	return nil
}

// InactiveCleanup implements §4.9: terminate the backing instances of every
// node in an inactive partition. Nodes with no resolvable IP yet are skipped
// this tick per the design note in §9 — they are picked up once an IP
// resolves, or eventually by the orphan phase if one never does.
func InactiveCleanup(
	ctx context.Context,
	cfg config.Config,
	inactiveNodes []types.Node,
	cloud cloudadapter.Adapter,
	log zerolog.Logger,
) error {
	var ips []string
	for _, n := range inactiveNodes {
		if n.Address == n.Name {
			continue
		}
		ips = append(ips, n.Address)
	}
	if len(ips) == 0 {
		return nil
	}

	instances, err := cloud.ListInstancesByIP(ctx, ips)
	if err != nil {
		return fmt.Errorf("failed to resolve inactive-partition instances: %w", err)
	}

	ids := make([]string, 0, len(instances))
	for _, inst := range instances {
		ids = append(ids, inst.InstanceID)
	}

	for _, batch := range chunkStrings(ids, cfg.TerminateMaxBatchSize) {
		if err := cloud.Terminate(ctx, batch); err != nil {
			log.Error().Err(err).Strs("instance_ids", batch).Msg("failed to terminate inactive-partition instances")
		}
	}
	return nil
}
