package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/loomvcs/loom/internal/node"
)

var (
	flagFetch    bool
	flagAnnounce bool

	syncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Synchronize with tracked peers",
		RunE:  runSync,
	}
)

func init() {
	syncCmd.Flags().BoolVar(&flagFetch, "fetch", false, "fetch from tracked peers")
	syncCmd.Flags().BoolVar(&flagAnnounce, "announce", false, "announce local refs to peers")
}

func runSync(cmd *cobra.Command, args []string) error {
	n, err := openNode()
	if err != nil {
		return err
	}
	defer n.Close()

	// Default: do both.
	if !flagFetch && !flagAnnounce {
		flagFetch, flagAnnounce = true, true
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.FetchTimeout())
	defer cancel()

	if flagFetch {
		summary, err := n.Fetcher.Fetch(ctx, n.RID)
		if err != nil {
			return err
		}
		for _, res := range summary.Succeeded {
			fmt.Printf("ok\t%s\t%d ops\n", res.DID, res.Ops)
		}
		for _, res := range summary.Failed {
			fmt.Printf("failed\t%s\t%v\n", res.DID, res.Error)
		}
		for _, did := range summary.Skipped {
			fmt.Printf("skipped\t%s\tno address\n", did)
		}
	}

	if flagAnnounce {
		if err := n.Announcer.Announce(ctx, n.RID); err != nil {
			return err
		}
	}
	return nil
}

// announceBestEffort pushes the repository's refs after a local change.
// Failure is not an error: offline peers catch up on their next fetch.
func announceBestEffort(n *node.Node) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = n.Announcer.Announce(ctx, n.RID)
}
