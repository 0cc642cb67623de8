// Command clustermgtd is the daemon entrypoint: it wires the scheduler and
// cloud adapters together and drives the reconciler's sleep-then-tick loop.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aws/clustermgtd/internal/clock"
	"github.com/aws/clustermgtd/internal/cloudadapter"
	"github.com/aws/clustermgtd/internal/config"
	"github.com/aws/clustermgtd/internal/engine"
	"github.com/aws/clustermgtd/internal/logging"
	"github.com/aws/clustermgtd/internal/schedadapter"
)

var (
	configPath            string
	regionOverride        string
	clusterNameOverride   string
	launchTemplateID      string
	launchTemplateVersion string
	nodeNameSpecification string
	once                  bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clustermgtd",
		Short: "Reconciles a batch scheduler's compute-node inventory with a cloud provider's VM fleet",
		RunE:  run,
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the YAML configuration file")
	cmd.Flags().StringVar(&regionOverride, "region", "", "override the configured AWS region")
	cmd.Flags().StringVar(&clusterNameOverride, "cluster-name", "", "override the configured cluster name")
	cmd.Flags().StringVar(&launchTemplateID, "launch-template-id", "", "EC2 launch template ID used for replacement instances")
	cmd.Flags().StringVar(&launchTemplateVersion, "launch-template-version", "$Latest", "EC2 launch template version")
	cmd.Flags().StringVar(&nodeNameSpecification, "node-name-specification", "*", "scheduler node-name pattern to reconcile")
	cmd.Flags().BoolVar(&once, "once", false, "run a single tick and exit, instead of looping")

	return cmd
}

func run(cmd *cobra.Command, _ []string) error {
	log := logging.New()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if regionOverride != "" {
		cfg.Region = regionOverride
	}
	if clusterNameOverride != "" {
		cfg.ClusterName = clusterNameOverride
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	runID := uuid.New().String()
	log = log.With().Str("cluster", cfg.ClusterName).Str("run_id", runID).Logger()

	cloud := cloudadapter.NewReal(
		ec2.NewFromConfig(awsCfg),
		cfg.ClusterName,
		cloudadapter.LaunchTemplate{ID: launchTemplateID, Version: launchTemplateVersion},
		log,
	)
	sched := schedadapter.NewReal(schedadapter.ExecRunner{})

	r := engine.New(clock.Real{}, sched, cloud, log, nodeNameSpecification)

	if once {
		report := r.Tick(ctx, cfg)
		logReport(log, report)
		if report.FatalErr != nil {
			return report.FatalErr
		}
		return nil
	}

	log.Info().Dur("loop_time", cfg.LoopTime).Msg("starting reconciliation loop")
	for {
		report := r.Tick(ctx, cfg)
		logReport(log, report)
		time.Sleep(cfg.LoopTime)
	}
}

func logReport(log zerolog.Logger, report engine.Report) {
	event := log.Info()
	if report.FatalErr != nil {
		event = log.Error().Err(report.FatalErr)
	}
	event.
		Bool("skipped", report.Skipped).
		Int("active_nodes", report.ActiveNodeCount).
		Int("inactive_nodes", report.InactiveNodeCount).
		Int("cluster_instances", report.ClusterInstanceCount).
		Msg("tick complete")
}
