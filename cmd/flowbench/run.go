package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cuemby/flowbench/pkg/config"
	"github.com/cuemby/flowbench/pkg/log"
	"github.com/cuemby/flowbench/pkg/monitor"
	"github.com/cuemby/flowbench/pkg/output"
	"github.com/cuemby/flowbench/pkg/resource"
	"github.com/cuemby/flowbench/pkg/stats"
	"github.com/cuemby/flowbench/pkg/target"
	"github.com/cuemby/flowbench/pkg/worker"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a benchmark against a single host's targets",
	Long: `run loads a workload/target manifest, prepares the target's
files, drives concurrent workers against it until the completion
criterion is met, and prints a final report.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().String("manifest", "", "Path to a YAML workload/target manifest (required)")
	runCmd.Flags().StringSlice("output-format", []string{"text"}, "Final report format(s): text, json, csv")
	runCmd.Flags().String("output-path", "", "Write the final report to this path (per-format extension appended); empty means stdout")
	runCmd.Flags().Bool("monitor-text", false, "Print a live text progress line every monitor interval")
	_ = runCmd.MarkFlagRequired("manifest")
}

func runRun(cmd *cobra.Command, args []string) error {
	manifestPath, _ := cmd.Flags().GetString("manifest")
	outputFormats, _ := cmd.Flags().GetStringSlice("output-format")
	outputPath, _ := cmd.Flags().GetString("output-path")
	monitorText, _ := cmd.Flags().GetBool("monitor-text")

	manifest, err := config.LoadManifest(manifestPath)
	if err != nil {
		return err
	}
	if err := manifest.Validate(); err != nil {
		return err
	}

	runID := uuid.NewString()
	logger := log.WithRunID(runID)
	logger.Info().Str("manifest", manifestPath).Msg("starting run")

	tgt := manifest.Targets[0]
	resolved, err := target.Setup(tgt, manifest.Workload, nil)
	if err != nil {
		return fmt.Errorf("flowbench: preparing target: %w", err)
	}

	windows, err := target.Partition(&resolved, manifest.Workers)
	if err != nil {
		return fmt.Errorf("flowbench: partitioning target: %w", err)
	}

	granularity := uint64(0)
	if manifest.Workload.HeatmapEnabled {
		granularity = manifest.Workload.HeatmapBucketBytes
	}

	workers := make([]*worker.Worker, manifest.Workers)
	workerStats := make([]*stats.Stats, manifest.Workers)
	sources := make([]monitor.WorkerSource, manifest.Workers)
	for i := 0; i < manifest.Workers; i++ {
		st := stats.New(granularity)
		w, err := worker.New(worker.Config{
			Index:    i,
			Workload: manifest.Workload,
			Target:   tgt,
			Windows:  windows[i],
			Stats:    st,
			Seed:     uint64(i) + 1,
		})
		if err != nil {
			for _, prior := range workers[:i] {
				if prior != nil {
					prior.Close()
				}
			}
			return fmt.Errorf("flowbench: initialising worker %d: %w", i, err)
		}
		workers[i] = w
		workerStats[i] = st
		sources[i] = st
	}
	defer func() {
		for _, w := range workers {
			w.Close()
		}
	}()

	sinks, closeSinks, err := buildSinks(manifest.Monitor, monitorText)
	if err != nil {
		return err
	}
	defer closeSinks()

	interval := time.Duration(manifest.Monitor.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Second
	}

	resTracker := resource.NewTracker()
	resTracker.Start()

	mon := monitor.New(sources, sinks, monitor.Options{
		Interval: interval,
		Resource: resTracker,
	})
	mon.Run()
	defer mon.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	runStart := time.Now()
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			if err := w.Run(); err != nil {
				logger.Warn().Err(err).Msg("worker exited with error")
			}
		}(w)
	}

	runDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(runDone)
	}()

	select {
	case <-runDone:
	case <-sigCh:
		logger.Info().Msg("signal received, stopping workers")
		for _, w := range workers {
			w.Stop()
		}
		<-runDone
	}

	duration := time.Since(runStart)

	var agg stats.Snapshot
	for i, st := range workerStats {
		if i == 0 {
			agg = st.Snapshot()
			continue
		}
		agg = agg.Merge(st.Snapshot())
	}

	resTracker.Sample()
	resStats, _ := resTracker.Stats()

	report := output.BuildReport(runID, duration, agg, resStats, nil)
	return output.WriteAll(report, outputFormats, outputPath)
}

func buildSinks(cfg config.ManifestMonitor, monitorText bool) ([]monitor.Sink, func(), error) {
	var sinks []monitor.Sink
	var closers []func() error

	if monitorText {
		sinks = append(sinks, monitor.NewTextSink(os.Stdout))
	}

	for _, format := range cfg.OutputFormats {
		switch format {
		case "json":
			if cfg.OutputPath == "" {
				sinks = append(sinks, monitor.NewJSONSink(os.Stdout))
				continue
			}
			f, err := os.Create(cfg.OutputPath + ".timeseries.json")
			if err != nil {
				return nil, nil, fmt.Errorf("flowbench: opening time-series output: %w", err)
			}
			sinks = append(sinks, monitor.NewJSONSink(f))
			closers = append(closers, f.Close)
		case "csv":
			if cfg.OutputPath == "" {
				sinks = append(sinks, monitor.NewCSVSink(os.Stdout))
				continue
			}
			f, err := os.Create(cfg.OutputPath + ".timeseries.csv")
			if err != nil {
				return nil, nil, fmt.Errorf("flowbench: opening time-series output: %w", err)
			}
			sinks = append(sinks, monitor.NewCSVSink(f))
			closers = append(closers, f.Close)
		case "gzip-jsonl":
			if cfg.OutputPath == "" {
				return nil, nil, fmt.Errorf("flowbench: gzip-jsonl time-series sink requires monitor.output_path")
			}
			fs, err := monitor.NewFileSink(cfg.OutputPath+".timeseries.jsonl.gz", 1024)
			if err != nil {
				return nil, nil, err
			}
			sinks = append(sinks, fs)
			closers = append(closers, fs.Close)
		}
	}

	return sinks, func() {
		for _, c := range closers {
			_ = c()
		}
	}, nil
}
