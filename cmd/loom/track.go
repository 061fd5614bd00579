package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomvcs/loom/internal/tracking"
)

var (
	flagAlias string
	flagScope string

	trackCmd = &cobra.Command{
		Use:   "track [did]",
		Short: "Track a peer's refs for this repository",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runTrack,
	}

	untrackCmd = &cobra.Command{
		Use:   "untrack [did-or-alias]",
		Short: "Stop tracking a peer",
		Args:  cobra.ExactArgs(1),
		RunE:  runUntrack,
	}

	remoteCmd = &cobra.Command{
		Use:   "remote",
		Short: "Manage known peers",
	}

	remoteAddCmd = &cobra.Command{
		Use:   "add [did] [address]",
		Short: "Register a peer and its dial address",
		Args:  cobra.ExactArgs(2),
		RunE:  runRemoteAdd,
	}

	remoteListCmd = &cobra.Command{
		Use:   "list",
		Short: "List known peers",
		RunE:  runRemoteList,
	}
)

func init() {
	trackCmd.Flags().StringVar(&flagAlias, "alias", "", "display alias for the peer")
	trackCmd.Flags().StringVar(&flagScope, "scope", "", "set the repository tracking scope (all, selected, none)")
	remoteAddCmd.Flags().StringVar(&flagAlias, "alias", "", "display alias for the peer")
	remoteCmd.AddCommand(remoteAddCmd, remoteListCmd)
}

func runTrack(cmd *cobra.Command, args []string) error {
	n, err := openNode()
	if err != nil {
		return err
	}
	defer n.Close()

	if flagScope != "" {
		scope, err := tracking.ParseScope(flagScope)
		if err != nil {
			return err
		}
		if err := n.DB.SetPolicy(n.RID, scope); err != nil {
			return err
		}
		fmt.Printf("policy for %s set to %s\n", n.RID, scope)
	}

	if len(args) == 0 {
		return nil
	}
	did := args[0]
	if err := n.DB.Track(n.RID, did, flagAlias); err != nil {
		return err
	}
	peer, err := n.DB.ResolvePeer(did)
	if err != nil {
		return err
	}
	fmt.Printf("tracking %s (%s)\n", peer.Alias, did)
	return nil
}

func runUntrack(cmd *cobra.Command, args []string) error {
	n, err := openNode()
	if err != nil {
		return err
	}
	defer n.Close()

	peer, err := n.DB.ResolvePeer(args[0])
	if err != nil {
		return err
	}
	if err := n.DB.Untrack(n.RID, peer.DID); err != nil {
		return err
	}
	fmt.Printf("untracked %s\n", peer.Alias)
	return nil
}

func runRemoteAdd(cmd *cobra.Command, args []string) error {
	n, err := openNode()
	if err != nil {
		return err
	}
	defer n.Close()

	if err := n.DB.AddPeer(args[0], flagAlias, args[1]); err != nil {
		return err
	}
	peer, err := n.DB.ResolvePeer(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("added %s at %s\n", peer.Alias, peer.Address)
	return nil
}

func runRemoteList(cmd *cobra.Command, args []string) error {
	n, err := openNode()
	if err != nil {
		return err
	}
	defer n.Close()

	peers, err := n.DB.Peers()
	if err != nil {
		return err
	}
	for _, p := range peers {
		tracked, err := n.DB.Evaluate(n.RID, p.DID)
		if err != nil {
			return err
		}
		mark := " "
		if tracked {
			mark = "*"
		}
		fmt.Printf("%s %s\t%s\t%s\n", mark, p.Alias, p.DID, p.Address)
	}
	return nil
}
