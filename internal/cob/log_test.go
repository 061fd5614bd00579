package cob

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/loomvcs/loom/internal/identity"
)

func testIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.Ephemeral()
	if err != nil {
		t.Fatalf("Ephemeral: %v", err)
	}
	return id
}

func newIssueLog(t *testing.T, id *identity.Identity, title string) *Log {
	t.Helper()
	l := NewLog()
	if _, err := l.Append(id, Action{Type: ActionCreate, Kind: KindIssue, Title: title}); err != nil {
		t.Fatalf("Append create: %v", err)
	}
	return l
}

func TestLog_AppendBuildsChain(t *testing.T) {
	id := testIdentity(t)
	l := newIssueLog(t, id, "broken build")

	op, err := l.Append(id, Action{Type: ActionComment, Body: "reproduced on linux"})
	if err != nil {
		t.Fatalf("Append comment: %v", err)
	}
	if len(op.Parents) != 1 || op.Parents[0] != l.Root() {
		t.Fatalf("parents = %v, want [%s]", op.Parents, l.Root())
	}
	if op.Clock != 1 {
		t.Fatalf("clock = %d, want 1", op.Clock)
	}
	if l.Len() != 2 {
		t.Fatalf("len = %d, want 2", l.Len())
	}
	tips := l.Tips()
	if len(tips) != 1 || tips[0] != op.ID {
		t.Fatalf("tips = %v, want [%s]", tips, op.ID)
	}
}

func TestLog_FirstOpMustCreate(t *testing.T) {
	id := testIdentity(t)
	l := NewLog()
	if _, err := l.Append(id, Action{Type: ActionComment, Body: "hi"}); err == nil {
		t.Fatal("expected error appending to empty log")
	}
}

func TestLog_SecondCreateRejected(t *testing.T) {
	id := testIdentity(t)
	l := newIssueLog(t, id, "one")
	if _, err := l.Append(id, Action{Type: ActionCreate, Kind: KindIssue, Title: "two"}); err == nil {
		t.Fatal("expected error on second create")
	}
}

func TestLog_InsertIdempotent(t *testing.T) {
	id := testIdentity(t)
	src := newIssueLog(t, id, "dup")
	op := src.Operations()[0]

	l := NewLog()
	added, err := l.Insert(op)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if !added {
		t.Fatal("first insert reported not added")
	}
	added, err = l.Insert(op)
	if err != nil {
		t.Fatalf("re-Insert: %v", err)
	}
	if added {
		t.Fatal("duplicate insert reported added")
	}
	if l.Len() != 1 {
		t.Fatalf("len = %d, want 1", l.Len())
	}
}

func TestLog_InsertUnknownParent(t *testing.T) {
	id := testIdentity(t)
	src := newIssueLog(t, id, "gap")
	child, err := src.Append(id, Action{Type: ActionComment, Body: "orphan"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	l := NewLog()
	if _, err := l.Insert(child); !errors.Is(err, ErrUnknownParent) {
		t.Fatalf("err = %v, want ErrUnknownParent", err)
	}
	if l.Len() != 0 {
		t.Fatalf("orphan admitted, len = %d", l.Len())
	}
}

func TestLog_TamperedOperationRejected(t *testing.T) {
	id := testIdentity(t)
	src := newIssueLog(t, id, "tamper")
	op, err := src.Append(id, Action{Type: ActionComment, Body: "original"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Re-encode with an altered body: both the signature and the content
	// address stop matching.
	forged := *op
	forged.Action.Body = "forged"
	l := NewLog()
	if _, err := l.Insert(src.Operations()[0]); err != nil {
		t.Fatalf("Insert root: %v", err)
	}
	if _, err := l.Insert(&forged); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestLog_ForgedSignatureRejected(t *testing.T) {
	id := testIdentity(t)
	src := newIssueLog(t, id, "sig")
	op := src.Operations()[0]

	forged := *op
	sig, _ := base64.StdEncoding.DecodeString(forged.Sig)
	sig[0] ^= 0xff
	forged.Sig = base64.StdEncoding.EncodeToString(sig)
	forged.ID = "" // recompute so only the signature is wrong

	l := NewLog()
	if _, err := l.Insert(&forged); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestLog_AppendKindGuards(t *testing.T) {
	id := testIdentity(t)
	l := newIssueLog(t, id, "guards")

	if _, err := l.Append(id, Action{Type: ActionRevision, Head: "abc"}); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("revision on issue: err = %v, want ErrWrongKind", err)
	}
	if _, err := l.Append(id, Action{Type: ActionStatus, Status: StatusMerged}); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("merged on issue: err = %v, want ErrWrongKind", err)
	}
}

// buildSampleOps authors a small chain and returns its operations in canonical
// order.
func buildSampleOps(t *testing.T, id *identity.Identity) []*Operation {
	t.Helper()
	l := newIssueLog(t, id, "permute me")
	actions := []Action{
		{Type: ActionComment, Body: "first"},
		{Type: ActionAssign, Identities: []string{id.DID}},
		{Type: ActionLabel, Add: []string{"bug"}},
		{Type: ActionComment, Body: "second"},
		{Type: ActionStatus, Status: StatusClosed},
	}
	for _, a := range actions {
		if _, err := l.Append(id, a); err != nil {
			t.Fatalf("Append %s: %v", a.Type, err)
		}
	}
	return l.Operations()
}

func materialized(t *testing.T, l *Log) string {
	t.Helper()
	s, err := l.Materialize()
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal state: %v", err)
	}
	return string(data)
}

func TestLog_MergeOrderIndependent(t *testing.T) {
	id := testIdentity(t)
	ops := buildSampleOps(t, id)

	want := ""
	perms := [][]int{
		{0, 1, 2, 3, 4, 5},
		{5, 4, 3, 2, 1, 0},
		{2, 0, 5, 1, 4, 3},
		{3, 5, 0, 4, 2, 1},
	}
	for _, perm := range perms {
		batch := make([]*Operation, len(perm))
		for i, j := range perm {
			batch[i] = ops[j]
		}
		l := NewLog()
		res, err := l.Merge(batch)
		if err != nil {
			t.Fatalf("Merge %v: %v", perm, err)
		}
		if len(res.Accepted) != len(ops) {
			t.Fatalf("Merge %v accepted %d, want %d", perm, len(res.Accepted), len(ops))
		}
		if len(res.Missing) != 0 {
			t.Fatalf("Merge %v missing %v", perm, res.Missing)
		}
		got := materialized(t, l)
		if want == "" {
			want = got
		} else if got != want {
			t.Fatalf("state for order %v diverged:\n got %s\nwant %s", perm, got, want)
		}
	}
}

func TestLog_MergeIdempotent(t *testing.T) {
	id := testIdentity(t)
	ops := buildSampleOps(t, id)

	l := NewLog()
	if _, err := l.Merge(ops); err != nil {
		t.Fatalf("first Merge: %v", err)
	}
	res, err := l.Merge(ops)
	if err != nil {
		t.Fatalf("second Merge: %v", err)
	}
	if len(res.Accepted) != 0 {
		t.Fatalf("re-merge accepted %d ops", len(res.Accepted))
	}
	if l.Len() != len(ops) {
		t.Fatalf("len = %d, want %d", l.Len(), len(ops))
	}
}

func TestLog_MergeReportsMissingAncestors(t *testing.T) {
	id := testIdentity(t)
	ops := buildSampleOps(t, id)

	// Withhold the middle of the chain: everything after the gap must be
	// parked and the gap's id reported.
	gap := ops[2]
	batch := append(append([]*Operation{}, ops[:2]...), ops[3:]...)

	l := NewLog()
	res, err := l.Merge(batch)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(res.Accepted) != 2 {
		t.Fatalf("accepted %d, want 2", len(res.Accepted))
	}
	if len(res.Missing) != 1 || res.Missing[0] != gap.ID {
		t.Fatalf("missing = %v, want [%s]", res.Missing, gap.ID)
	}

	// Delivering the gap completes the log.
	res, err = l.Merge(append([]*Operation{gap}, ops[3:]...))
	if err != nil {
		t.Fatalf("follow-up Merge: %v", err)
	}
	if len(res.Missing) != 0 {
		t.Fatalf("still missing %v", res.Missing)
	}
	if l.Len() != len(ops) {
		t.Fatalf("len = %d, want %d", l.Len(), len(ops))
	}
}

func TestLog_Unknown(t *testing.T) {
	id := testIdentity(t)
	l := newIssueLog(t, id, "known")
	root := l.Root()

	got := l.Unknown([]string{root, "bafyfakehead"})
	if len(got) != 1 || got[0] != "bafyfakehead" {
		t.Fatalf("Unknown = %v, want [bafyfakehead]", got)
	}
}

func TestLog_ConcurrentTipsConverge(t *testing.T) {
	alice := testIdentity(t)
	bob := testIdentity(t)

	a := newIssueLog(t, alice, "divergent")
	b := NewLog()
	if _, err := b.Merge(a.Operations()); err != nil {
		t.Fatalf("seed b: %v", err)
	}

	// Both peers extend the same tip without seeing each other.
	opA, err := a.Append(alice, Action{Type: ActionComment, Body: "from alice"})
	if err != nil {
		t.Fatalf("alice append: %v", err)
	}
	opB, err := b.Append(bob, Action{Type: ActionComment, Body: "from bob"})
	if err != nil {
		t.Fatalf("bob append: %v", err)
	}

	if _, err := a.Merge([]*Operation{opB}); err != nil {
		t.Fatalf("merge into a: %v", err)
	}
	if _, err := b.Merge([]*Operation{opA}); err != nil {
		t.Fatalf("merge into b: %v", err)
	}

	if len(a.Tips()) != 2 {
		t.Fatalf("a tips = %v, want two heads", a.Tips())
	}
	if materialized(t, a) != materialized(t, b) {
		t.Fatal("peers diverged after exchanging concurrent operations")
	}

	// A later append heals the fork: both tips become its parents.
	heal, err := a.Append(alice, Action{Type: ActionComment, Body: "seen both"})
	if err != nil {
		t.Fatalf("healing append: %v", err)
	}
	if len(heal.Parents) != 2 {
		t.Fatalf("healing op parents = %v, want both tips", heal.Parents)
	}
	if tips := a.Tips(); len(tips) != 1 || tips[0] != heal.ID {
		t.Fatalf("a tips = %v, want [%s]", tips, heal.ID)
	}
}
