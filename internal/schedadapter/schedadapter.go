// Package schedadapter is the narrow interface the engine uses to read and
// mutate the scheduler's view of partitions and nodes. The production
// implementation shells out to scontrol/sinfo-equivalent binaries through an
// injected CommandRunner; tests substitute a FakeAdapter.
package schedadapter

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/avast/retry-go"

	"github.com/aws/clustermgtd/internal/types"
)

// Adapter is the capability surface the reconciler consumes, mirroring the
// specification's scheduler-adapter operations one to one.
type Adapter interface {
	ListPartitions(ctx context.Context) ([]types.Partition, error)
	ListNodes(ctx context.Context, nameSpecification string) ([]types.Node, error)
	Drain(ctx context.Context, nodeNames []string, reason string) error
	DownAndPowerSave(ctx context.Context, nodeNames []string, reason string) error
	Down(ctx context.Context, nodeNames []string, reason string) error
}

// CommandRunner executes a scheduler CLI command and returns its stdout.
// Swapping this out is how the real adapter below is exercised against a
// fake binary in tests without a live scheduler.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout string, err error)
}

// ExecRunner runs commands via os/exec. It is the production CommandRunner.
type ExecRunner struct{}

// Run executes name with args and returns its stdout, wrapping any
// non-zero exit with the captured stderr for diagnosability.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, stderr.String())
	}
	return stdout.String(), nil
}

// Real is the production Adapter. It issues `sinfo`/`scontrol`-style calls
// through the injected CommandRunner and retries transient failures with
// exponential backoff, same shape as the teacher's retry loop but backed by
// the ecosystem's own retry-go instead of a hand-rolled one.
type Real struct {
	Runner      CommandRunner
	RetryAttempts uint
}

// NewReal builds a scheduler adapter around runner, defaulting to 3 retry
// attempts for every scheduler call, matching the engine's "best-effort,
// not retried by the engine itself" contract: retries live entirely inside
// the adapter.
func NewReal(runner CommandRunner) *Real {
	return &Real{Runner: runner, RetryAttempts: 3}
}

func (r *Real) withRetry(ctx context.Context, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(r.RetryAttempts),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
	)
}

// ListPartitions lists every partition the scheduler knows about.
func (r *Real) ListPartitions(ctx context.Context) ([]types.Partition, error) {
	var out string
	err := r.withRetry(ctx, func() error {
		var runErr error
		out, runErr = r.Runner.Run(ctx, "sinfo", "--noheader", "--format=%P|%a")
		return runErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}
	return parsePartitions(out), nil
}

// ListNodes lists every node matching nameSpecification (a scheduler node
// name pattern, e.g. "queue1-*").
func (r *Real) ListNodes(ctx context.Context, nameSpecification string) ([]types.Node, error) {
	var out string
	err := r.withRetry(ctx, func() error {
		var runErr error
		out, runErr = r.Runner.Run(ctx, "scontrol", "show", "nodes", nameSpecification)
		return runErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	return parseNodes(out), nil
}

// Drain marks nodeNames DRAIN with the given operator-visible reason.
func (r *Real) Drain(ctx context.Context, nodeNames []string, reason string) error {
	if len(nodeNames) == 0 {
		return nil
	}
	return r.update(ctx, nodeNames, "DRAIN", reason)
}

// DownAndPowerSave marks nodeNames DOWN and additionally requests they be
// power-saved, the dynamic-node retirement path.
func (r *Real) DownAndPowerSave(ctx context.Context, nodeNames []string, reason string) error {
	if len(nodeNames) == 0 {
		return nil
	}
	if err := r.update(ctx, nodeNames, "DOWN", reason); err != nil {
		return err
	}
	return r.update(ctx, nodeNames, "POWER_DOWN", reason)
}

// Down marks nodeNames DOWN, the static-node retirement path.
func (r *Real) Down(ctx context.Context, nodeNames []string, reason string) error {
	if len(nodeNames) == 0 {
		return nil
	}
	return r.update(ctx, nodeNames, "DOWN", reason)
}

func (r *Real) update(ctx context.Context, nodeNames []string, state, reason string) error {
	nodeList := strings.Join(nodeNames, ",")
	return r.withRetry(ctx, func() error {
		_, err := r.Runner.Run(ctx, "scontrol", "update",
			fmt.Sprintf("NodeName=%s", nodeList),
			fmt.Sprintf("State=%s", state),
			fmt.Sprintf("Reason=%s", reason),
		)
		return err
	})
}

// parsePartitions parses sinfo's pipe-delimited "%P|%a" output.
func parsePartitions(out string) []types.Partition {
	var partitions []types.Partition
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "|", 2)
		if len(fields) != 2 {
			continue
		}
		name := strings.TrimSuffix(fields[0], "*")
		partitions = append(partitions, types.Partition{
			Name:  name,
			State: types.PartitionState(strings.ToUpper(fields[1])),
		})
	}
	return partitions
}

// parseNodes parses scontrol's "Key=Value Key=Value" per-node block output.
func parseNodes(out string) []types.Node {
	var nodes []types.Node
	var current map[string]string

	flush := func() {
		if current == nil {
			return
		}
		nodes = append(nodes, nodeFromFields(current))
	}

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "NodeName=") {
			flush()
			current = map[string]string{}
		}
		if current == nil {
			continue
		}
		for _, tok := range strings.Fields(line) {
			kv := strings.SplitN(tok, "=", 2)
			if len(kv) == 2 {
				current[kv[0]] = kv[1]
			}
		}
	}
	flush()

	return nodes
}

func nodeFromFields(f map[string]string) types.Node {
	name := f["NodeName"]
	address := f["NodeAddr"]
	if address == "" {
		address = name
	}

	var states []types.NodeState
	for _, s := range strings.Split(f["State"], "+") {
		if s == "" {
			continue
		}
		states = append(states, types.NodeState(s))
	}

	partition := f["Partitions"]

	return types.Node{
		Name:      name,
		Address:   address,
		Hostname:  f["NodeHostName"],
		State:     types.NewNodeStateSet(states...),
		Partition: partition,
	}
}
