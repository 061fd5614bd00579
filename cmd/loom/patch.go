package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomvcs/loom/internal/cob"
)

var (
	patchCmd = &cobra.Command{
		Use:   "patch",
		Short: "Manage patches",
	}

	patchListCmd = &cobra.Command{
		Use:   "list",
		Short: "List patches",
		RunE:  runPatchList,
	}

	patchShowCmd = &cobra.Command{
		Use:   "show [id]",
		Short: "Show a patch",
		Args:  cobra.ExactArgs(1),
		RunE:  runPatchShow,
	}

	patchUpdateCmd = &cobra.Command{
		Use:   "update [branch] [commit]",
		Short: "Record a push of a branch as a patch revision",
		Args:  cobra.ExactArgs(2),
		RunE:  runPatchUpdate,
	}

	patchCheckoutCmd = &cobra.Command{
		Use:   "checkout [id]",
		Short: "Create a local branch tracking the patch's current head",
		Args:  cobra.ExactArgs(1),
		RunE:  runPatchCheckout,
	}

	patchReviewCmd = &cobra.Command{
		Use:   "review [id] [revision] [accept|reject]",
		Short: "Review a patch revision",
		Args:  cobra.ExactArgs(3),
		RunE:  runPatchReview,
	}

	patchStatusCmd = &cobra.Command{
		Use:   "status [id] [open|merged|closed]",
		Short: "Change a patch's status",
		Args:  cobra.ExactArgs(2),
		RunE:  runPatchStatus,
	}
)

func init() {
	patchCmd.AddCommand(patchListCmd, patchShowCmd, patchUpdateCmd,
		patchCheckoutCmd, patchReviewCmd, patchStatusCmd)
}

func runPatchList(cmd *cobra.Command, args []string) error {
	n, err := openNode()
	if err != nil {
		return err
	}
	defer n.Close()

	ids, err := n.Store.List(cob.KindPatch)
	if err != nil {
		return err
	}
	for _, id := range ids {
		state, err := n.Store.Materialize(cob.KindPatch, id)
		if err != nil {
			return err
		}
		head := ""
		if rev := state.CurrentRevision(); rev != nil {
			head = rev.Head
		}
		fmt.Printf("%s\t%s\t%s\t%s\n", shortID(id), state.Status, state.Title, head)
	}
	return nil
}

func runPatchShow(cmd *cobra.Command, args []string) error {
	n, err := openNode()
	if err != nil {
		return err
	}
	defer n.Close()

	state, err := n.Store.Materialize(cob.KindPatch, args[0])
	if err != nil {
		return err
	}
	printState(state)

	if ahead, behind, err := n.Patches.AheadBehind(args[0]); err == nil {
		fmt.Printf("ahead:   %d\nbehind:  %d\n", ahead, behind)
	}
	return nil
}

func runPatchUpdate(cmd *cobra.Command, args []string) error {
	n, err := openNode()
	if err != nil {
		return err
	}
	defer n.Close()

	patchID, err := n.Patches.Push(n.Identity, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Println(patchID)

	announceBestEffort(n)
	return nil
}

func runPatchCheckout(cmd *cobra.Command, args []string) error {
	n, err := openNode()
	if err != nil {
		return err
	}
	defer n.Close()

	branch, err := n.Patches.Checkout(args[0])
	if err != nil {
		return err
	}
	fmt.Println(branch)
	return nil
}

func runPatchReview(cmd *cobra.Command, args []string) error {
	return appendAction(args[0], cob.KindPatch, cob.Action{
		Type:        cob.ActionReview,
		Verdict:     args[2],
		RevisionRef: args[1],
	})
}

func runPatchStatus(cmd *cobra.Command, args []string) error {
	return appendAction(args[0], cob.KindPatch, cob.Action{
		Type:   cob.ActionStatus,
		Status: args[1],
	})
}
