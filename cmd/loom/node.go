package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loomvcs/loom/internal/config"
	"github.com/loomvcs/loom/internal/identity"
)

var (
	flagEventCount   int
	flagEventTimeout int
	flagListen       string

	nodeCmd = &cobra.Command{
		Use:   "node",
		Short: "Run and inspect the node",
	}

	nodeStartCmd = &cobra.Command{
		Use:   "start",
		Short: "Serve gossip connections and sync in the background",
		RunE:  runNodeStart,
	}

	nodeEventsCmd = &cobra.Command{
		Use:   "events",
		Short: "Stream protocol events as newline-delimited JSON",
		RunE:  runNodeEvents,
	}

	nodeIDCmd = &cobra.Command{
		Use:   "id",
		Short: "Print this node's DID",
		RunE:  runNodeID,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage node configuration",
	}

	configInitCmd = &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.WriteDefault(flagConfig)
		},
	}
)

func init() {
	nodeStartCmd.Flags().StringVar(&flagListen, "listen", "", "listen address (host:port)")
	nodeEventsCmd.Flags().IntVarP(&flagEventCount, "count", "n", 1, "number of events to wait for")
	nodeEventsCmd.Flags().IntVar(&flagEventTimeout, "timeout", 5, "timeout in seconds")
	nodeCmd.AddCommand(nodeStartCmd, nodeEventsCmd, nodeIDCmd)
	configCmd.AddCommand(configInitCmd)
}

func runNodeStart(cmd *cobra.Command, args []string) error {
	n, err := openNode()
	if err != nil {
		return err
	}
	defer n.Close()
	return n.Listen(flagListen)
}

func runNodeEvents(cmd *cobra.Command, args []string) error {
	n, err := openNode()
	if err != nil {
		return err
	}
	defer n.Close()

	events := n.Bus.Subscribe(flagEventCount, time.Duration(flagEventTimeout)*time.Second)
	for _, e := range events {
		line, err := e.Encode()
		if err != nil {
			return err
		}
		os.Stdout.Write(line)
	}
	return nil
}

func runNodeID(cmd *cobra.Command, args []string) error {
	id, err := identity.Load("")
	if err != nil {
		return err
	}
	fmt.Println(id.DID)
	return nil
}
