package main

import (
	"net"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cuemby/flowbench/pkg/log"
	"github.com/cuemby/flowbench/pkg/node"
	"github.com/cuemby/flowbench/pkg/resource"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run as a node, listening for a coordinator connection",
	Long: `node listens on an address and, for every coordinator connection
it accepts, runs the full node-side protocol state machine to
completion (Config, Start barrier, heartbeats, Stop/Results), then
goes back to listening for the next run.`,
	RunE: runNode,
}

func init() {
	nodeCmd.Flags().String("listen", ":7070", "Address to listen on for coordinator connections")
	nodeCmd.Flags().String("id", "", "This node's id; defaults to a generated uuid")
	nodeCmd.Flags().Duration("dead-man-timeout", 0, "Self-terminate a run if no HeartbeatAck arrives within this window (0 means the package default)")
}

func runNode(cmd *cobra.Command, args []string) error {
	listenAddr, _ := cmd.Flags().GetString("listen")
	nodeID, _ := cmd.Flags().GetString("id")
	deadManTimeout, _ := cmd.Flags().GetDuration("dead-man-timeout")

	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	logger := log.WithNodeID(nodeID)

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}
	defer ln.Close()

	logger.Info().Str("addr", ln.Addr().String()).Msg("node listening for coordinator")

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}

		logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("coordinator connected")

		resTracker := resource.NewTracker()
		resTracker.Start()

		n := node.New(conn, node.Options{
			NodeID:         nodeID,
			DeadManTimeout: deadManTimeout,
			Resource:       resTracker,
		})

		if err := n.Run(); err != nil {
			logger.Warn().Err(err).Msg("run ended with error")
		} else {
			logger.Info().Msg("run complete")
		}
	}
}
