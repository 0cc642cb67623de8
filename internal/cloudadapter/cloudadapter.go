// Package cloudadapter is the engine's narrow view of the cloud provider: EC2
// instance inventory, health-check status, termination and launch. The real
// implementation wraps aws-sdk-go-v2's ec2 client with retry-go backoff,
// adapted from the teacher's ComputeService but trimmed to exactly the
// operations the reconciler needs.
package cloudadapter

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/avast/retry-go"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/aws/clustermgtd/internal/types"
)

// Adapter is the capability surface the reconciler consumes for talking to
// the cloud provider, mirroring the specification's cloud-adapter operations.
type Adapter interface {
	ListClusterInstances(ctx context.Context) ([]types.Instance, error)
	ListInstancesByIP(ctx context.Context, ips []string) ([]types.Instance, error)
	Terminate(ctx context.Context, instanceIDs []string) error
	LaunchForNodes(ctx context.Context, nodeNames []string) ([]types.Instance, error)
	DescribeUnhealthy(ctx context.Context, instanceIDs []string) ([]types.InstanceHealthState, error)
}

// EC2Client is the subset of *ec2.Client the adapter calls, narrowed for
// testability without standing up a real AWS endpoint.
type EC2Client interface {
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	TerminateInstances(ctx context.Context, in *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
	RunInstances(ctx context.Context, in *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	DescribeInstanceStatus(ctx context.Context, in *ec2.DescribeInstanceStatusInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstanceStatusOutput, error)
}

// LaunchTemplate describes the single launch template every managed instance
// is created from; the reconciler itself never picks AMIs or instance types.
type LaunchTemplate struct {
	ID      string
	Version string
}

// Real is the production Adapter. Every EC2 call is retried with exponential
// backoff, mirroring the teacher's utils.RetryWithBackoff usage but backed by
// retry-go and logged with zerolog instead of bracket-tag Printf.
type Real struct {
	Client       EC2Client
	ClusterName  string
	Template     LaunchTemplate
	Log          zerolog.Logger
	RetryAttempts uint
}

// NewReal builds a cloud adapter scoped to clusterName, launching instances
// from template.
func NewReal(client EC2Client, clusterName string, template LaunchTemplate, log zerolog.Logger) *Real {
	return &Real{
		Client:        client,
		ClusterName:   clusterName,
		Template:      template,
		Log:           log,
		RetryAttempts: 3,
	}
}

func (a *Real) withRetry(ctx context.Context, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(a.RetryAttempts),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			a.Log.Warn().Uint("attempt", n).Err(err).Msg("retrying ec2 call")
		}),
	)
}

func (a *Real) clusterFilters() []ec2types.Filter {
	return []ec2types.Filter{
		{Name: aws.String("tag:ClusterName"), Values: []string{a.ClusterName}},
		{Name: aws.String("tag:aws-parallelcluster-node-type"), Values: []string{"Compute"}},
		{Name: aws.String("instance-state-name"), Values: []string{"pending", "running"}},
	}
}

// ListClusterInstances lists every live instance tagged as belonging to this
// cluster, regardless of which node they back.
func (a *Real) ListClusterInstances(ctx context.Context) ([]types.Instance, error) {
	var out *ec2.DescribeInstancesOutput
	err := a.withRetry(ctx, func() error {
		var runErr error
		out, runErr = a.Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			Filters: a.clusterFilters(),
		})
		return runErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list cluster instances: %w", err)
	}
	return flattenInstances(out), nil
}

// ListInstancesByIP looks up cluster instances by their private IP addresses,
// used to resolve the backing instance for a specific set of nodes.
func (a *Real) ListInstancesByIP(ctx context.Context, ips []string) ([]types.Instance, error) {
	if len(ips) == 0 {
		return nil, nil
	}

	filters := append(a.clusterFilters(), ec2types.Filter{
		Name:   aws.String("private-ip-address"),
		Values: ips,
	})

	var out *ec2.DescribeInstancesOutput
	err := a.withRetry(ctx, func() error {
		var runErr error
		out, runErr = a.Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{Filters: filters})
		return runErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list instances by ip: %w", err)
	}
	return flattenInstances(out), nil
}

// Terminate terminates instanceIDs in batches, continuing past a single
// batch's failure so one bad instance ID doesn't block the rest.
func (a *Real) Terminate(ctx context.Context, instanceIDs []string) error {
	if len(instanceIDs) == 0 {
		return nil
	}

	const batchSize = 1000 // EC2's own per-call cap
	var firstErr error
	for _, batch := range chunk(instanceIDs, batchSize) {
		err := a.withRetry(ctx, func() error {
			_, runErr := a.Client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
				InstanceIds: batch,
			})
			return runErr
		})
		if err != nil {
			a.Log.Error().Err(err).Strs("instance_ids", batch).Msg("failed to terminate instance batch")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return fmt.Errorf("failed to terminate one or more instance batches: %w", firstErr)
	}
	return nil
}

// LaunchForNodes launches one instance per node name, tagging each with the
// node name it is meant to back so the next tick's scheduler/cloud join can
// find it by address once it reports in.
func (a *Real) LaunchForNodes(ctx context.Context, nodeNames []string) ([]types.Instance, error) {
	if len(nodeNames) == 0 {
		return nil, nil
	}

	var launched []types.Instance
	var firstErr error
	for _, name := range nodeNames {
		var out *ec2.RunInstancesOutput
		err := a.withRetry(ctx, func() error {
			var runErr error
			out, runErr = a.Client.RunInstances(ctx, &ec2.RunInstancesInput{
				MinCount: aws.Int32(1),
				MaxCount: aws.Int32(1),
				LaunchTemplate: &ec2types.LaunchTemplateSpecification{
					LaunchTemplateId: aws.String(a.Template.ID),
					Version:          aws.String(a.Template.Version),
				},
				TagSpecifications: []ec2types.TagSpecification{{
					ResourceType: ec2types.ResourceTypeInstance,
					Tags: []ec2types.Tag{
						{Key: aws.String("ClusterName"), Value: aws.String(a.ClusterName)},
						{Key: aws.String("aws-parallelcluster-node-type"), Value: aws.String("Compute")},
						{Key: aws.String("parallelcluster:node-name"), Value: aws.String(name)},
					},
				}},
			})
			return runErr
		})
		if err != nil {
			a.Log.Error().Err(err).Str("node", name).Msg("failed to launch instance")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, inst := range out.Instances {
			launched = append(launched, instanceFromEC2(inst))
		}
	}

	if firstErr != nil {
		return launched, fmt.Errorf("failed to launch one or more instances: %w", firstErr)
	}
	return launched, nil
}

// DescribeUnhealthy returns EC2/system status-check state plus pending
// scheduled events for instanceIDs, the raw material the health-check phase
// classifies.
func (a *Real) DescribeUnhealthy(ctx context.Context, instanceIDs []string) ([]types.InstanceHealthState, error) {
	if len(instanceIDs) == 0 {
		return nil, nil
	}

	var out *ec2.DescribeInstanceStatusOutput
	err := a.withRetry(ctx, func() error {
		var runErr error
		out, runErr = a.Client.DescribeInstanceStatus(ctx, &ec2.DescribeInstanceStatusInput{
			InstanceIds:         instanceIDs,
			IncludeAllInstances: aws.Bool(true),
		})
		return runErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe instance status: %w", err)
	}

	return lo.Map(out.InstanceStatuses, func(s ec2types.InstanceStatus, _ int) types.InstanceHealthState {
		return healthStateFromEC2(s)
	}), nil
}

func flattenInstances(out *ec2.DescribeInstancesOutput) []types.Instance {
	var instances []types.Instance
	for _, reservation := range out.Reservations {
		for _, inst := range reservation.Instances {
			instances = append(instances, instanceFromEC2(inst))
		}
	}
	return instances
}

func instanceFromEC2(inst ec2types.Instance) types.Instance {
	i := types.Instance{InstanceID: aws.ToString(inst.InstanceId)}
	if inst.PrivateIpAddress != nil {
		i.PrivateIP = *inst.PrivateIpAddress
	}
	if inst.PrivateDnsName != nil {
		i.Hostname = *inst.PrivateDnsName
	}
	if inst.LaunchTime != nil {
		i.LaunchTime = *inst.LaunchTime
	}
	return i
}

func healthStateFromEC2(s ec2types.InstanceStatus) types.InstanceHealthState {
	var events []string
	for _, e := range s.Events {
		events = append(events, string(e.Code))
	}

	return types.InstanceHealthState{
		InstanceID:      aws.ToString(s.InstanceId),
		LifecycleState:  string(s.InstanceState.Name),
		InstanceStatus:  statusCheckFromEC2(s.InstanceStatus),
		SystemStatus:    statusCheckFromEC2(s.SystemStatus),
		ScheduledEvents: events,
	}
}

func statusCheckFromEC2(s *ec2types.InstanceStatusSummary) types.StatusCheck {
	if s == nil {
		return types.StatusCheck{Status: types.HealthStatusInsufficientData}
	}

	status := types.HealthStatusInsufficientData
	switch s.Status {
	case ec2types.SummaryStatusOk:
		status = types.HealthStatusOK
	case ec2types.SummaryStatusImpaired:
		status = types.HealthStatusImpaired
	case ec2types.SummaryStatusInsufficientData:
		status = types.HealthStatusInsufficientData
	case ec2types.SummaryStatusNotApplicable:
		status = types.HealthStatusNotApplicable
	case ec2types.SummaryStatusInitializing:
		status = types.HealthStatusInitializing
	}

	var details []string
	for _, d := range s.Details {
		details = append(details, string(d.Name))
	}

	return types.StatusCheck{Status: status, Details: details}
}

func chunk(items []string, size int) [][]string {
	var chunks [][]string
	for size < len(items) {
		items, chunks = items[size:], append(chunks, items[0:size:size])
	}
	return append(chunks, items)
}
