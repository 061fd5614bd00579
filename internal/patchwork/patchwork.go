// Package patchwork maps git branch pushes onto patch COB revisions. It
// performs no merging itself: commit-graph traversal, fast-forwards, and
// checkouts are delegated to the git collaborator, whose results are
// surfaced as-is.
package patchwork

import (
	"fmt"
	"sync"

	gocid "github.com/ipfs/go-cid"

	"github.com/loomvcs/loom/internal/cob"
	"github.com/loomvcs/loom/internal/identity"
	"github.com/loomvcs/loom/internal/storage"
)

// GitBackend is the external git interface. Implementations shell out to
// git or speak to a daemon; this package only consumes the results.
type GitBackend interface {
	// AheadBehind counts commits reachable from head but not base, and
	// vice versa.
	AheadBehind(head, base string) (ahead, behind int, err error)
	// CreateBranch points a local branch at the given commit.
	CreateBranch(name, commit string) error
}

// Adapter binds pushed branches to patch COBs.
type Adapter struct {
	Store *cob.Store
	Git   GitBackend

	mu sync.Mutex
}

// NewAdapter wires an adapter.
func NewAdapter(store *cob.Store, git GitBackend) *Adapter {
	return &Adapter{Store: store, Git: git}
}

// branchRef is where the branch -> patch binding is persisted.
func branchRef(branch string) string {
	return "refs/loom/branch-patches/" + branch
}

// Push records a push of branch at commit head. The first push of a branch
// creates the patch (create + revision); later pushes append a revision
// whose base is the previous head.
func (a *Adapter) Push(id *identity.Identity, branch, head string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ref := branchRef(branch)
	if a.Store.Refs.Has(ref) {
		c, err := a.Store.Refs.Get(ref)
		if err != nil {
			return "", err
		}
		patchID := storage.CIDToFilename(c)

		state, err := a.Store.Materialize(cob.KindPatch, patchID)
		if err != nil {
			return "", err
		}
		prev := state.CurrentRevision()
		if prev != nil && prev.Head == head {
			return patchID, nil // nothing new pushed
		}
		base := ""
		if prev != nil {
			base = prev.Head
		}
		_, err = a.Store.Append(id, cob.KindPatch, patchID, cob.Action{
			Type: cob.ActionRevision,
			Head: head,
			Base: base,
		})
		if err != nil {
			return "", err
		}
		return patchID, nil
	}

	patchID, err := a.Store.Create(id, cob.KindPatch, branch, "")
	if err != nil {
		return "", err
	}
	if _, err := a.Store.Append(id, cob.KindPatch, patchID, cob.Action{
		Type: cob.ActionRevision,
		Head: head,
	}); err != nil {
		return "", err
	}

	c, err := storage.ParseCID(patchID)
	if err != nil {
		return "", err
	}
	if err := a.Store.Refs.SetTips(ref, []gocid.Cid{c}); err != nil {
		return "", err
	}
	return patchID, nil
}

// Checkout materializes a local branch tracking the patch's current head.
// Returns the branch name. The branch creation itself is git's job.
func (a *Adapter) Checkout(patchID string) (string, error) {
	state, err := a.Store.Materialize(cob.KindPatch, patchID)
	if err != nil {
		return "", err
	}
	rev := state.CurrentRevision()
	if rev == nil {
		return "", fmt.Errorf("patch %s has no revisions", patchID)
	}

	short := patchID
	if len(short) > 12 {
		short = short[:12]
	}
	branch := "patch/" + short
	if err := a.Git.CreateBranch(branch, rev.Head); err != nil {
		return "", fmt.Errorf("create branch %s: %w", branch, err)
	}
	return branch, nil
}

// AheadBehind reports how far the patch's current head has diverged from
// its declared base, via the git collaborator.
func (a *Adapter) AheadBehind(patchID string) (ahead, behind int, err error) {
	state, err := a.Store.Materialize(cob.KindPatch, patchID)
	if err != nil {
		return 0, 0, err
	}
	rev := state.CurrentRevision()
	if rev == nil {
		return 0, 0, fmt.Errorf("patch %s has no revisions", patchID)
	}
	base := rev.Base
	if base == "" {
		// Root revision: diff against the first revision's base when the
		// chain never declared one.
		base = state.Revisions[0].Base
	}
	if base == "" {
		return 0, 0, nil
	}
	return a.Git.AheadBehind(rev.Head, base)
}
