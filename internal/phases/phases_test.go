package phases

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aws/clustermgtd/internal/cloudadapter"
	"github.com/aws/clustermgtd/internal/config"
	"github.com/aws/clustermgtd/internal/schedadapter"
	"github.com/aws/clustermgtd/internal/types"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return tm
}

func TestOrphaned_TimeoutBoundary(t *testing.T) {
	launch := mustParse(t, "2020-01-01T00:00:00Z")
	instances := []types.Instance{
		{InstanceID: "id-3", PrivateIP: "ip-3", LaunchTime: launch},
		{InstanceID: "id-2", PrivateIP: "ip-2", LaunchTime: launch},
	}
	used := map[string]struct{}{"ip-1": {}, "ip-2": {}}
	cfg := config.Default()
	cfg.OrphanedInstanceTimeout = 30 * time.Second
	cfg.TerminateMaxBatchSize = 5

	cloud := cloudadapter.NewFakeAdapter()
	err := Orphaned(context.Background(), cfg, mustParse(t, "2020-01-01T00:00:30Z"), instances, used, cloud, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"id-3"}, cloud.Terminated)

	cloud2 := cloudadapter.NewFakeAdapter()
	err = Orphaned(context.Background(), cfg, mustParse(t, "2020-01-01T00:00:29Z"), instances, used, cloud2, zerolog.Nop())
	require.NoError(t, err)
	assert.Empty(t, cloud2.Terminated)
}

func TestNodeMaintenance_UnhealthyStaticReplacement(t *testing.T) {
	n1 := types.Node{Name: "n1", Address: "ip-1", State: types.NewNodeStateSet(types.NodeStateDown)}
	n2 := types.Node{Name: "n2", Address: "ip-2", State: types.NewNodeStateSet(types.NodeStateDown)}
	n3 := types.Node{Name: "n3", Address: "ip-3", State: types.NewNodeStateSet(types.NodeStateDown)}
	activeNodes := []types.Node{n1, n2, n3}

	ipToInstance := map[string]types.Instance{
		"ip-1": {InstanceID: "id-1", PrivateIP: "ip-1"},
		"ip-2": {InstanceID: "id-2", PrivateIP: "ip-2"},
	}

	replacementSet := map[string]struct{}{"X": {}}
	cfg := config.Default()
	cfg.TerminateDownNodes = true
	cfg.TerminateMaxBatchSize = 1
	cfg.LaunchMaxBatchSize = 5

	sched := schedadapter.NewFakeAdapter()
	cloud := cloudadapter.NewFakeAdapter()

	NodeMaintenance(context.Background(), cfg, time.Now(), activeNodes, ipToInstance, replacementSet, sched, cloud, zerolog.Nop())

	assert.ElementsMatch(t, []string{"n1", "n2", "n3"}, sched.Downed)
	assert.ElementsMatch(t, []string{"id-1", "id-2"}, cloud.Terminated)
	assert.ElementsMatch(t, []string{"n1", "n2", "n3"}, cloud.LaunchedNames)

	_, stillX := replacementSet["X"]
	_, hasN1 := replacementSet["n1"]
	_, hasN2 := replacementSet["n2"]
	_, hasN3 := replacementSet["n3"]
	assert.True(t, stillX)
	assert.True(t, hasN1)
	assert.True(t, hasN2)
	assert.True(t, hasN3)
}

func TestNodeMaintenance_UpdateReplacementSet_RemovesRecoveredNode(t *testing.T) {
	recovered := types.Node{Name: "n1", Address: "ip-1", State: types.NewNodeStateSet(types.NodeStateIdle)}
	stillDown := types.Node{Name: "n2", Address: "ip-2", State: types.NewNodeStateSet(types.NodeStateDown)}

	replacementSet := map[string]struct{}{"n1": {}, "n2": {}}
	updateReplacementSet([]types.Node{recovered, stillDown}, replacementSet)

	_, hasN1 := replacementSet["n1"]
	_, hasN2 := replacementSet["n2"]
	assert.False(t, hasN1)
	assert.True(t, hasN2)
}

func TestNodeMaintenance_DynamicGoesToDownAndPowerSave(t *testing.T) {
	dyn := types.Node{Name: "q-dy-dynamic-1", Address: "ip-1", State: types.NewNodeStateSet(types.NodeStateDown)}
	ipToInstance := map[string]types.Instance{"ip-1": {InstanceID: "id-1", PrivateIP: "ip-1"}}

	cfg := config.Default()
	cfg.TerminateDownNodes = true
	sched := schedadapter.NewFakeAdapter()
	cloud := cloudadapter.NewFakeAdapter()
	replacementSet := map[string]struct{}{}

	NodeMaintenance(context.Background(), cfg, time.Now(), []types.Node{dyn}, ipToInstance, replacementSet, sched, cloud, zerolog.Nop())

	assert.Equal(t, []string{"q-dy-dynamic-1"}, sched.DownedPowerSaved)
	assert.Empty(t, sched.Downed)
}

func TestInactiveCleanup_SkipsNodesWithoutResolvedIP(t *testing.T) {
	unresolved := types.Node{Name: "n1", Address: "n1"}
	resolved := types.Node{Name: "n2", Address: "10.0.0.2"}

	cloud := cloudadapter.NewFakeAdapter()
	cloud.Instances = []types.Instance{{InstanceID: "i-2", PrivateIP: "10.0.0.2"}}

	cfg := config.Default()
	cfg.TerminateMaxBatchSize = 10

	err := InactiveCleanup(context.Background(), cfg, []types.Node{unresolved, resolved}, cloud, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"i-2"}, cloud.Terminated)
}

func TestHealthCheck_DrainsNodeFailingEC2Check(t *testing.T) {
	cfg := config.Default()
	cfg.HealthCheckTimeout = 30 * time.Second
	cfg.DisableScheduledEventHealthCheck = true

	instances := []types.Instance{{InstanceID: "i-1", PrivateIP: "10.0.0.1"}}
	ipToNode := map[string]types.Node{"10.0.0.1": {Name: "n1", Address: "10.0.0.1"}}

	cloud := cloudadapter.NewFakeAdapter()
	cloud.HealthStates["i-1"] = types.InstanceHealthState{
		InstanceID:     "i-1",
		InstanceStatus: types.StatusCheck{Status: types.HealthStatusImpaired},
		SystemStatus:   types.StatusCheck{Status: types.HealthStatusOK},
	}
	sched := schedadapter.NewFakeAdapter()
	tracker := NewHealthTracker()

	now := mustParse(t, "2020-01-01T00:00:00Z")
	err := HealthCheck(context.Background(), cfg, now, instances, ipToNode, tracker, sched, cloud, zerolog.Nop())
	require.NoError(t, err)
	assert.Empty(t, sched.Drained, "not yet past health_check_timeout on first observation")

	later := now.Add(30 * time.Second)
	err = HealthCheck(context.Background(), cfg, later, instances, ipToNode, tracker, sched, cloud, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"n1"}, sched.Drained)
}
