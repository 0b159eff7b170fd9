package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cuemby/flowbench/pkg/archive"
	"github.com/cuemby/flowbench/pkg/config"
	"github.com/cuemby/flowbench/pkg/coordinator"
	"github.com/cuemby/flowbench/pkg/log"
	"github.com/cuemby/flowbench/pkg/output"
	"github.com/cuemby/flowbench/pkg/resource"
	"github.com/cuemby/flowbench/pkg/stats"
)

var coordinatorCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Drive a benchmark across a cluster of flowbench nodes",
	Long: `coordinator loads a cluster manifest naming a shared workload,
target set, and node list, dials every node, synchronizes a start
barrier, fans in heartbeats into a live cluster aggregate, and
collects each node's final results.`,
	RunE: runCoordinator,
}

func init() {
	coordinatorCmd.Flags().String("manifest", "", "Path to a YAML cluster manifest (required)")
	coordinatorCmd.Flags().StringSlice("output-format", []string{"text"}, "Final report format(s): text, json, csv")
	coordinatorCmd.Flags().String("output-path", "", "Write the final report to this path (per-format extension appended); empty means stdout")
	coordinatorCmd.Flags().String("archive-dir", "", "If set, archive the run's metadata and per-node results to this bbolt data directory")
	_ = coordinatorCmd.MarkFlagRequired("manifest")
}

func runCoordinator(cmd *cobra.Command, args []string) error {
	manifestPath, _ := cmd.Flags().GetString("manifest")
	outputFormats, _ := cmd.Flags().GetStringSlice("output-format")
	outputPath, _ := cmd.Flags().GetString("output-path")
	archiveDir, _ := cmd.Flags().GetString("archive-dir")

	cm, err := config.LoadClusterManifest(manifestPath)
	if err != nil {
		return err
	}
	if err := cm.Validate(); err != nil {
		return err
	}

	runID := uuid.NewString()
	logger := log.WithRunID(runID)
	logger.Info().Str("manifest", manifestPath).Int("nodes", len(cm.Nodes)).Msg("starting coordinator run")

	nodes := make([]coordinator.NodeSpec, len(cm.Nodes))
	workerCursor := 0
	for i, n := range cm.Nodes {
		nodes[i] = coordinator.NodeSpec{
			ID:            n.ID,
			Addr:          n.Addr,
			WorkerIDStart: workerCursor,
			WorkerIDEnd:   workerCursor + n.Workers,
		}
		workerCursor += n.Workers
	}

	perNode := make(map[string]stats.Snapshot, len(nodes))
	coord := coordinator.New(coordinator.Options{
		Nodes:                   nodes,
		Workload:                cm.Workload,
		Targets:                 cm.Targets,
		PrepareFiles:            cm.PrepareFiles,
		FillFiles:               cm.FillFiles,
		SkipPreallocation:       cm.SkipPreallocation,
		MonitorIntervalSec:      cm.Monitor.IntervalSeconds,
		ContinueOnWorkerFailure: cm.ContinueOnWorkerFailure,
	}, func(hb coordinator.HeartbeatSample) {
		logger.Debug().Str("node", hb.NodeID).Uint64("elapsed_ns", hb.ElapsedNs).Msg("heartbeat")
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	stopCh := make(chan struct{})
	sigDone := make(chan struct{})
	defer close(sigDone)
	go func() {
		select {
		case <-sigCh:
			logger.Info().Msg("signal received, stopping cluster")
			close(stopCh)
		case <-sigDone:
		}
	}()

	runStart := time.Now()
	results, runErr := coord.Run(stopCh)
	duration := time.Since(runStart)

	var failed []string
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", r.NodeID, r.Err))
			continue
		}
		snap := protocolAggregateSnapshot(r)
		perNode[r.NodeID] = snap
	}
	if len(failed) > 0 {
		logger.Warn().Strs("failed_nodes", failed).Msg("some nodes failed")
	}

	if archiveDir != "" {
		if err := archiveRun(archiveDir, runID, runStart, duration, results); err != nil {
			logger.Warn().Err(err).Msg("archiving run failed")
		}
	}

	var agg stats.Snapshot
	first := true
	for _, snap := range perNode {
		if first {
			agg = snap
			first = false
			continue
		}
		agg = agg.Merge(snap)
	}

	report := output.BuildReport(runID, duration, agg, resource.Stats{}, perNode)
	if err := output.WriteAll(report, outputFormats, outputPath); err != nil {
		return err
	}

	return runErr
}

func protocolAggregateSnapshot(r coordinator.Result) stats.Snapshot {
	return r.Results.Aggregate.ToSnapshot()
}

func archiveRun(dir, runID string, startedAt time.Time, duration time.Duration, results []coordinator.Result) error {
	store, err := archive.Open(dir)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.PutRunMeta(archive.RunMeta{
		RunID:      runID,
		StartedAt:  startedAt,
		FinishedAt: startedAt.Add(duration),
		NumNodes:   len(results),
	}); err != nil {
		return err
	}

	for _, r := range results {
		if r.Err != nil {
			continue
		}
		if err := store.PutNodeResult(runID, archive.NodeResult{
			NodeID:  r.NodeID,
			Results: r.Results,
		}); err != nil {
			return err
		}
	}
	return nil
}
