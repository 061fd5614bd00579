package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loomvcs/loom/internal/cob"
)

var (
	flagDescription string
	flagStatus      string

	issueCmd = &cobra.Command{
		Use:   "issue",
		Short: "Manage issues",
	}

	issueOpenCmd = &cobra.Command{
		Use:   "open [title]",
		Short: "Open a new issue",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runIssueOpen,
	}

	issueListCmd = &cobra.Command{
		Use:   "list",
		Short: "List issues",
		RunE:  runIssueList,
	}

	issueShowCmd = &cobra.Command{
		Use:   "show [id]",
		Short: "Show an issue",
		Args:  cobra.ExactArgs(1),
		RunE:  runIssueShow,
	}

	issueCommentCmd = &cobra.Command{
		Use:   "comment [id] [body]",
		Short: "Comment on an issue",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runIssueComment,
	}

	issueAssignCmd = &cobra.Command{
		Use:   "assign [id] [did...]",
		Short: "Assign identities to an issue",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runIssueAssign,
	}

	issueUnassignCmd = &cobra.Command{
		Use:   "unassign [id] [did...]",
		Short: "Remove assignees from an issue",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runIssueUnassign,
	}

	issueLabelCmd = &cobra.Command{
		Use:   "label [id] [label...]",
		Short: "Add labels to an issue (prefix with - to remove)",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runIssueLabel,
	}

	issueStatusCmd = &cobra.Command{
		Use:   "status [id] [open|closed]",
		Short: "Change an issue's status",
		Args:  cobra.ExactArgs(2),
		RunE:  runIssueStatus,
	}
)

func init() {
	issueOpenCmd.Flags().StringVar(&flagDescription, "description", "", "issue description")
	issueListCmd.Flags().StringVar(&flagStatus, "status", "", "filter by status")
	issueCmd.AddCommand(issueOpenCmd, issueListCmd, issueShowCmd, issueCommentCmd,
		issueAssignCmd, issueUnassignCmd, issueLabelCmd, issueStatusCmd)
}

func runIssueOpen(cmd *cobra.Command, args []string) error {
	n, err := openNode()
	if err != nil {
		return err
	}
	defer n.Close()

	id, err := n.Store.Create(n.Identity, cob.KindIssue, strings.Join(args, " "), flagDescription)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func runIssueList(cmd *cobra.Command, args []string) error {
	n, err := openNode()
	if err != nil {
		return err
	}
	defer n.Close()

	ids, err := n.Store.List(cob.KindIssue)
	if err != nil {
		return err
	}
	for _, id := range ids {
		state, err := n.Store.Materialize(cob.KindIssue, id)
		if err != nil {
			return err
		}
		if flagStatus != "" && state.Status != flagStatus {
			continue
		}
		fmt.Printf("%s\t%s\t%s\n", shortID(id), state.Status, state.Title)
	}
	return nil
}

func runIssueShow(cmd *cobra.Command, args []string) error {
	n, err := openNode()
	if err != nil {
		return err
	}
	defer n.Close()

	state, err := n.Store.Materialize(cob.KindIssue, args[0])
	if err != nil {
		return err
	}
	printState(state)
	return nil
}

func runIssueComment(cmd *cobra.Command, args []string) error {
	return appendAction(args[0], cob.KindIssue, cob.Action{
		Type: cob.ActionComment,
		Body: strings.Join(args[1:], " "),
	})
}

func runIssueAssign(cmd *cobra.Command, args []string) error {
	return appendAction(args[0], cob.KindIssue, cob.Action{
		Type:       cob.ActionAssign,
		Identities: args[1:],
	})
}

func runIssueUnassign(cmd *cobra.Command, args []string) error {
	return appendAction(args[0], cob.KindIssue, cob.Action{
		Type:       cob.ActionUnassign,
		Identities: args[1:],
	})
}

func runIssueLabel(cmd *cobra.Command, args []string) error {
	var add, remove []string
	for _, l := range args[1:] {
		if strings.HasPrefix(l, "-") {
			remove = append(remove, strings.TrimPrefix(l, "-"))
		} else {
			add = append(add, l)
		}
	}
	return appendAction(args[0], cob.KindIssue, cob.Action{
		Type:   cob.ActionLabel,
		Add:    add,
		Remove: remove,
	})
}

func runIssueStatus(cmd *cobra.Command, args []string) error {
	return appendAction(args[0], cob.KindIssue, cob.Action{
		Type:   cob.ActionStatus,
		Status: args[1],
	})
}

// appendAction opens the node, appends one operation, and announces it.
func appendAction(cobID, kind string, action cob.Action) error {
	n, err := openNode()
	if err != nil {
		return err
	}
	defer n.Close()

	op, err := n.Store.Append(n.Identity, kind, cobID, action)
	if err != nil {
		return err
	}
	fmt.Println(op.ID)

	announceBestEffort(n)
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func printState(s *cob.State) {
	fmt.Printf("id:      %s\n", s.ID)
	fmt.Printf("kind:    %s\n", s.Kind)
	fmt.Printf("title:   %s\n", s.Title)
	fmt.Printf("status:  %s\n", s.Status)
	if s.Description != "" {
		fmt.Printf("about:   %s\n", s.Description)
	}
	if len(s.Assignees) > 0 {
		fmt.Printf("assign:  %s\n", strings.Join(s.Assignees, ", "))
	}
	if len(s.Labels) > 0 {
		fmt.Printf("labels:  %s\n", strings.Join(s.Labels, ", "))
	}
	for _, r := range s.Revisions {
		fmt.Printf("revision %s head=%s", shortID(r.ID), r.Head)
		if r.Base != "" {
			fmt.Printf(" base=%s", r.Base)
		}
		fmt.Println()
		for _, review := range r.Reviews {
			fmt.Printf("  review %s by %s\n", review.Verdict, review.Author)
		}
	}
	for _, c := range s.Comments {
		fmt.Printf("--- %s (%s)\n%s\n", c.Author, c.Time, c.Body)
	}
	if len(s.Stale) > 0 {
		fmt.Printf("warning: %d stale operation(s) excluded from view\n", len(s.Stale))
	}
}
