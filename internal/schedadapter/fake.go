package schedadapter

import (
	"context"

	"github.com/aws/clustermgtd/internal/types"
)

// FakeAdapter is an in-memory Adapter for engine and phase tests. It records
// every mutating call so tests can assert on exactly what the engine asked
// the scheduler to do, without spinning up a real scheduler binary.
type FakeAdapter struct {
	Partitions []types.Partition
	Nodes      []types.Node

	Drained        []string
	DownedPowerSaved []string
	Downed         []string

	ListPartitionsErr error
	ListNodesErr      error
}

// NewFakeAdapter builds an empty fake, ready to be seeded by tests.
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{}
}

func (f *FakeAdapter) ListPartitions(_ context.Context) ([]types.Partition, error) {
	if f.ListPartitionsErr != nil {
		return nil, f.ListPartitionsErr
	}
	return f.Partitions, nil
}

func (f *FakeAdapter) ListNodes(_ context.Context, _ string) ([]types.Node, error) {
	if f.ListNodesErr != nil {
		return nil, f.ListNodesErr
	}
	return f.Nodes, nil
}

func (f *FakeAdapter) Drain(_ context.Context, nodeNames []string, _ string) error {
	f.Drained = append(f.Drained, nodeNames...)
	return nil
}

func (f *FakeAdapter) DownAndPowerSave(_ context.Context, nodeNames []string, _ string) error {
	f.DownedPowerSaved = append(f.DownedPowerSaved, nodeNames...)
	return nil
}

func (f *FakeAdapter) Down(_ context.Context, nodeNames []string, _ string) error {
	f.Downed = append(f.Downed, nodeNames...)
	return nil
}
