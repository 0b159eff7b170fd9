package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/flowbench/pkg/archive"
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Inspect archived run results",
}

var resultsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived run ids",
	RunE:  runResultsList,
}

var resultsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run's metadata and every node's archived results",
	Args:  cobra.ExactArgs(1),
	RunE:  runResultsShow,
}

var resultsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete an archived run",
	Args:  cobra.ExactArgs(1),
	RunE:  runResultsDelete,
}

func init() {
	resultsCmd.PersistentFlags().String("archive-dir", "", "Path to the bbolt archive data directory (required)")
	_ = resultsCmd.MarkPersistentFlagRequired("archive-dir")

	resultsCmd.AddCommand(resultsListCmd)
	resultsCmd.AddCommand(resultsShowCmd)
	resultsCmd.AddCommand(resultsDeleteCmd)
}

func openArchive(cmd *cobra.Command) (*archive.Store, error) {
	dir, _ := cmd.Flags().GetString("archive-dir")
	return archive.Open(dir)
}

func runResultsList(cmd *cobra.Command, args []string) error {
	store, err := openArchive(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	ids, err := store.ListRunIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

func runResultsShow(cmd *cobra.Command, args []string) error {
	store, err := openArchive(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	runID := args[0]
	meta, err := store.GetRunMeta(runID)
	if err != nil {
		return err
	}
	fmt.Printf("run %s: started %s, finished %s, %d node(s)\n",
		meta.RunID, meta.StartedAt.Format("2006-01-02T15:04:05Z07:00"), meta.FinishedAt.Format("2006-01-02T15:04:05Z07:00"), meta.NumNodes)

	nodeResults, err := store.ListNodeResults(runID)
	if err != nil {
		return err
	}
	for _, nr := range nodeResults {
		agg := nr.Results.Aggregate
		fmt.Printf("  node %s: read_ops=%d write_ops=%d duration_ns=%d\n",
			nr.NodeID, agg.ReadOps, agg.WriteOps, nr.Results.DurationNs)
	}
	return nil
}

func runResultsDelete(cmd *cobra.Command, args []string) error {
	store, err := openArchive(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	return store.DeleteRun(args[0])
}
