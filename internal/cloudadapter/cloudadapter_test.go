package cloudadapter

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEC2 struct {
	describeOut       *ec2.DescribeInstancesOutput
	describeErr       error
	terminateCalls    [][]string
	terminateErr      error
	runCalls          []*ec2.RunInstancesInput
	runErr            error
	statusOut         *ec2.DescribeInstanceStatusOutput
	statusErr         error
}

func (s *stubEC2) DescribeInstances(_ context.Context, _ *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	return s.describeOut, s.describeErr
}

func (s *stubEC2) TerminateInstances(_ context.Context, in *ec2.TerminateInstancesInput, _ ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	s.terminateCalls = append(s.terminateCalls, in.InstanceIds)
	return &ec2.TerminateInstancesOutput{}, s.terminateErr
}

func (s *stubEC2) RunInstances(_ context.Context, in *ec2.RunInstancesInput, _ ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
	s.runCalls = append(s.runCalls, in)
	if s.runErr != nil {
		return nil, s.runErr
	}
	return &ec2.RunInstancesOutput{Instances: []ec2types.Instance{
		{InstanceId: aws.String("i-new"), PrivateIpAddress: aws.String("10.0.0.9")},
	}}, nil
}

func (s *stubEC2) DescribeInstanceStatus(_ context.Context, _ *ec2.DescribeInstanceStatusInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstanceStatusOutput, error) {
	return s.statusOut, s.statusErr
}

func newTestAdapter(client *stubEC2) *Real {
	a := NewReal(client, "test-cluster", LaunchTemplate{ID: "lt-1", Version: "1"}, zerolog.Nop())
	a.RetryAttempts = 1
	return a
}

func TestListClusterInstances(t *testing.T) {
	client := &stubEC2{describeOut: &ec2.DescribeInstancesOutput{
		Reservations: []ec2types.Reservation{{
			Instances: []ec2types.Instance{
				{InstanceId: aws.String("i-1"), PrivateIpAddress: aws.String("10.0.0.1")},
			},
		}},
	}}
	adapter := newTestAdapter(client)

	instances, err := adapter.ListClusterInstances(context.Background())
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "i-1", instances[0].InstanceID)
	assert.Equal(t, "10.0.0.1", instances[0].PrivateIP)
}

func TestTerminate_EmptyIsNoop(t *testing.T) {
	client := &stubEC2{}
	adapter := newTestAdapter(client)
	require.NoError(t, adapter.Terminate(context.Background(), nil))
	assert.Empty(t, client.terminateCalls)
}

func TestTerminate_BatchesLargeLists(t *testing.T) {
	client := &stubEC2{}
	adapter := newTestAdapter(client)

	ids := make([]string, 1500)
	for i := range ids {
		ids[i] = "i-x"
	}
	require.NoError(t, adapter.Terminate(context.Background(), ids))
	require.Len(t, client.terminateCalls, 2)
	assert.Len(t, client.terminateCalls[0], 1000)
	assert.Len(t, client.terminateCalls[1], 500)
}

func TestLaunchForNodes(t *testing.T) {
	client := &stubEC2{}
	adapter := newTestAdapter(client)

	launched, err := adapter.LaunchForNodes(context.Background(), []string{"queue1-st-static-1"})
	require.NoError(t, err)
	require.Len(t, launched, 1)
	assert.Equal(t, "i-new", launched[0].InstanceID)
	require.Len(t, client.runCalls, 1)
	assert.Equal(t, "lt-1", *client.runCalls[0].LaunchTemplate.LaunchTemplateId)
}

func TestDescribeUnhealthy(t *testing.T) {
	client := &stubEC2{statusOut: &ec2.DescribeInstanceStatusOutput{
		InstanceStatuses: []ec2types.InstanceStatus{{
			InstanceId:     aws.String("i-1"),
			InstanceState:  &ec2types.InstanceState{Name: ec2types.InstanceStateNameRunning},
			InstanceStatus: &ec2types.InstanceStatusSummary{Status: ec2types.SummaryStatusImpaired},
			SystemStatus:   &ec2types.InstanceStatusSummary{Status: ec2types.SummaryStatusOk},
			Events: []ec2types.InstanceStatusEvent{
				{Code: ec2types.EventCodeSystemReboot},
			},
		}},
	}}
	adapter := newTestAdapter(client)

	states, err := adapter.DescribeUnhealthy(context.Background(), []string{"i-1"})
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, "i-1", states[0].InstanceID)
	assert.True(t, states[0].InstanceStatus.Unhealthy())
	assert.False(t, states[0].SystemStatus.Unhealthy())
	assert.Len(t, states[0].ScheduledEvents, 1)
}

func TestChunk(t *testing.T) {
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, chunk([]string{"a", "b", "c"}, 2))
	assert.Equal(t, [][]string{{"a"}}, chunk([]string{"a"}, 2))
}
