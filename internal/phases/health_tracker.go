package phases

import (
	"time"

	"github.com/aws/clustermgtd/internal/types"
)

// HealthTracker records, per instance and per status-check kind, the first
// tick an unhealthy status was observed. The EC2 status-check API reports
// only a current status, not how long it has persisted, so the engine must
// keep this across ticks itself for classify.FailEC2HealthCheck's
// ImpairedSince-based grace period to mean anything. Tracking resets the
// moment a check reports healthy again.
type HealthTracker struct {
	instanceSince map[string]time.Time
	systemSince   map[string]time.Time
}

// NewHealthTracker builds an empty tracker.
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		instanceSince: make(map[string]time.Time),
		systemSince:   make(map[string]time.Time),
	}
}

// Annotate fills in ImpairedSince on each unhealthy status check, using the
// first-seen time recorded across prior calls, and forgets instances whose
// checks have recovered.
func (t *HealthTracker) Annotate(states []types.InstanceHealthState, now time.Time) []types.InstanceHealthState {
	annotated := make([]types.InstanceHealthState, len(states))
	for i, s := range states {
		s.InstanceStatus = t.annotateOne(t.instanceSince, s.InstanceID, s.InstanceStatus, now)
		s.SystemStatus = t.annotateOne(t.systemSince, s.InstanceID, s.SystemStatus, now)
		annotated[i] = s
	}
	return annotated
}

func (t *HealthTracker) annotateOne(since map[string]time.Time, instanceID string, check types.StatusCheck, now time.Time) types.StatusCheck {
	if !check.Unhealthy() {
		delete(since, instanceID)
		check.ImpairedSince = nil
		return check
	}

	first, tracked := since[instanceID]
	if !tracked {
		first = now
		since[instanceID] = first
	}
	check.ImpairedSince = &first
	return check
}
