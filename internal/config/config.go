// Package config defines the engine's typed configuration record and the
// defaults/overrides applied when loading it from disk, mirroring the
// recognized options table of the reconciliation-engine specification.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aws/clustermgtd/internal/types"
)

// Config is the complete set of options recognized by the reconciler.
// Every field below corresponds to one row of the configuration table.
type Config struct {
	Region      string `yaml:"region"`
	ClusterName string `yaml:"cluster_name"`

	LoopTime time.Duration `yaml:"loop_time"`

	DisableAllClusterManagement bool   `yaml:"disable_all_cluster_management"`
	HeartbeatFilePath           string `yaml:"heartbeat_file_path"`

	LaunchMaxBatchSize    int  `yaml:"launch_max_batch_size"`
	TerminateMaxBatchSize int  `yaml:"terminate_max_batch_size"`
	UpdateNodeAddress     bool `yaml:"update_node_address"`

	NodeReplacementTimeout time.Duration `yaml:"node_replacement_timeout"`
	TerminateDrainNodes    bool          `yaml:"terminate_drain_nodes"`
	TerminateDownNodes     bool          `yaml:"terminate_down_nodes"`

	OrphanedInstanceTimeout time.Duration `yaml:"orphaned_instance_timeout"`

	DisableEC2HealthCheck            bool `yaml:"disable_ec2_health_check"`
	DisableScheduledEventHealthCheck bool `yaml:"disable_scheduled_event_health_check"`
	DisableAllHealthChecks           bool `yaml:"disable_all_health_checks"`
	HealthCheckTimeout                time.Duration `yaml:"health_check_timeout"`
}

// Default returns the engine's built-in defaults, the same values a fresh
// ParallelCluster-style deployment ships with.
func Default() Config {
	return Config{
		Region:      getEnvOrDefault("AWS_REGION", "us-east-1"),
		ClusterName: getEnvOrDefault("CLUSTER_NAME", ""),

		LoopTime: 60 * time.Second,

		DisableAllClusterManagement: false,
		HeartbeatFilePath:           "/var/run/clustermgtd/heartbeat",

		LaunchMaxBatchSize:    500,
		TerminateMaxBatchSize: 1000,
		UpdateNodeAddress:     true,

		NodeReplacementTimeout: 30 * time.Minute,
		TerminateDrainNodes:    false,
		TerminateDownNodes:     true,

		OrphanedInstanceTimeout: 5 * time.Minute,

		DisableEC2HealthCheck:            false,
		DisableScheduledEventHealthCheck: false,
		DisableAllHealthChecks:           false,
		HealthCheckTimeout:               10 * time.Minute,
	}
}

// Load reads a YAML configuration file and overlays it onto Default(). A
// missing file is not an error: the engine falls back to defaults plus
// environment overrides, the way the teacher's NewConfig does.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// EnabledHealthChecks returns, in spec order, the health-check kinds the
// engine should run this tick.
func (c Config) EnabledHealthChecks() []types.HealthCheckType {
	if c.DisableAllHealthChecks {
		return nil
	}

	var checks []types.HealthCheckType
	if !c.DisableEC2HealthCheck {
		checks = append(checks, types.HealthCheckEC2)
	}
	if !c.DisableScheduledEventHealthCheck {
		checks = append(checks, types.HealthCheckScheduledEvent)
	}
	return checks
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
