package schedadapter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aws/clustermgtd/internal/types"
)

type stubRunner struct {
	calls   [][]string
	outputs map[string]string
	err     error
}

func (s *stubRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	call := append([]string{name}, args...)
	s.calls = append(s.calls, call)
	if s.err != nil {
		return "", s.err
	}
	return s.outputs[name], nil
}

func TestReal_ListPartitions(t *testing.T) {
	runner := &stubRunner{outputs: map[string]string{
		"sinfo": "queue1|up\nqueue2*|inactive\n",
	}}
	adapter := NewReal(runner)

	partitions, err := adapter.ListPartitions(context.Background())
	require.NoError(t, err)
	require.Len(t, partitions, 2)
	assert.Equal(t, types.Partition{Name: "queue1", State: types.PartitionStateUp}, partitions[0])
	assert.Equal(t, types.Partition{Name: "queue2", State: types.PartitionStateInactive}, partitions[1])
}

func TestReal_ListNodes(t *testing.T) {
	runner := &stubRunner{outputs: map[string]string{
		"scontrol": "NodeName=queue1-st-static-1 NodeAddr=10.0.0.5 NodeHostName=ip-10-0-0-5 State=IDLE+CLOUD Partitions=queue1\n" +
			"\n" +
			"NodeName=queue1-dy-dynamic-1 NodeAddr=queue1-dy-dynamic-1 State=IDLE+POWER Partitions=queue1\n",
	}}
	adapter := NewReal(runner)

	nodes, err := adapter.ListNodes(context.Background(), "queue1-*")
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	assert.Equal(t, "queue1-st-static-1", nodes[0].Name)
	assert.Equal(t, "10.0.0.5", nodes[0].Address)
	assert.True(t, nodes[0].State.Has(types.NodeStateCloud))

	assert.Equal(t, "queue1-dy-dynamic-1", nodes[1].Name)
	assert.True(t, nodes[1].IsPowerSaving())
}

func TestReal_Drain_EmptyIsNoop(t *testing.T) {
	runner := &stubRunner{}
	adapter := NewReal(runner)

	require.NoError(t, adapter.Drain(context.Background(), nil, "unhealthy"))
	assert.Empty(t, runner.calls)
}

func TestReal_Drain_IssuesScontrolUpdate(t *testing.T) {
	runner := &stubRunner{}
	adapter := NewReal(runner)

	require.NoError(t, adapter.Drain(context.Background(), []string{"n1", "n2"}, "ec2_health_check_failed"))
	require.Len(t, runner.calls, 1)
	call := runner.calls[0]
	assert.Equal(t, "scontrol", call[0])
	assert.Contains(t, call, "NodeName=n1,n2")
	assert.Contains(t, call, "State=DRAIN")
}

func TestReal_DownAndPowerSave_IssuesTwoUpdates(t *testing.T) {
	runner := &stubRunner{}
	adapter := NewReal(runner)

	require.NoError(t, adapter.DownAndPowerSave(context.Background(), []string{"n1"}, "orphaned"))
	require.Len(t, runner.calls, 2)
	assert.Contains(t, runner.calls[0], "State=DOWN")
	assert.Contains(t, runner.calls[1], "State=POWER_DOWN")
}

func TestReal_ListPartitions_WrapsFailureAfterRetries(t *testing.T) {
	runner := &stubRunner{err: errors.New("scheduler unreachable")}
	adapter := NewReal(runner)
	adapter.RetryAttempts = 1

	_, err := adapter.ListPartitions(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list partitions")
}
