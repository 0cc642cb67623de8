package cloudadapter

import (
	"context"

	"github.com/aws/clustermgtd/internal/types"
)

// FakeAdapter is an in-memory Adapter for engine and phase tests.
type FakeAdapter struct {
	Instances      []types.Instance
	HealthStates   map[string]types.InstanceHealthState
	LaunchedNames  []string
	Terminated     []string

	ListErr      error
	TerminateErr error
	LaunchErr    error
}

// NewFakeAdapter builds an empty fake, ready to be seeded by tests.
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{HealthStates: map[string]types.InstanceHealthState{}}
}

func (f *FakeAdapter) ListClusterInstances(_ context.Context) ([]types.Instance, error) {
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	return f.Instances, nil
}

func (f *FakeAdapter) ListInstancesByIP(_ context.Context, ips []string) ([]types.Instance, error) {
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	wanted := make(map[string]struct{}, len(ips))
	for _, ip := range ips {
		wanted[ip] = struct{}{}
	}
	var out []types.Instance
	for _, i := range f.Instances {
		if _, ok := wanted[i.PrivateIP]; ok {
			out = append(out, i)
		}
	}
	return out, nil
}

func (f *FakeAdapter) Terminate(_ context.Context, instanceIDs []string) error {
	if f.TerminateErr != nil {
		return f.TerminateErr
	}
	f.Terminated = append(f.Terminated, instanceIDs...)
	return nil
}

func (f *FakeAdapter) LaunchForNodes(_ context.Context, nodeNames []string) ([]types.Instance, error) {
	if f.LaunchErr != nil {
		return nil, f.LaunchErr
	}
	f.LaunchedNames = append(f.LaunchedNames, nodeNames...)
	var launched []types.Instance
	for _, name := range nodeNames {
		inst := types.Instance{InstanceID: "i-" + name, PrivateIP: "10.0.0." + name}
		launched = append(launched, inst)
		f.Instances = append(f.Instances, inst)
	}
	return launched, nil
}

func (f *FakeAdapter) DescribeUnhealthy(_ context.Context, instanceIDs []string) ([]types.InstanceHealthState, error) {
	var out []types.InstanceHealthState
	for _, id := range instanceIDs {
		if h, ok := f.HealthStates[id]; ok {
			out = append(out, h)
		}
	}
	return out, nil
}
