package storage

import (
	"testing"

	gocid "github.com/ipfs/go-cid"
)

func testCids(t *testing.T, payloads ...string) []gocid.Cid {
	t.Helper()
	cids := make([]gocid.Cid, 0, len(payloads))
	for _, p := range payloads {
		c, err := ComputeCID([]byte(p))
		if err != nil {
			t.Fatal(err)
		}
		cids = append(cids, c)
	}
	return cids
}

func TestRefStore_SetTips_Tips(t *testing.T) {
	refs, err := NewRefStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewRefStore: %v", err)
	}

	cids := testCids(t, "op-1", "op-2")
	ref := CobRef("issue", "abc")
	if err := refs.SetTips(ref, cids); err != nil {
		t.Fatalf("SetTips: %v", err)
	}

	got, err := refs.Tips(ref)
	if err != nil {
		t.Fatalf("Tips: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Tips returned %d entries, want 2", len(got))
	}
	found := map[gocid.Cid]bool{}
	for _, c := range got {
		found[c] = true
	}
	for _, c := range cids {
		if !found[c] {
			t.Errorf("tip %s missing after round trip", c)
		}
	}
}

func TestRefStore_SingleValue(t *testing.T) {
	refs, err := NewRefStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	c := testCids(t, "head")[0]
	if err := refs.Set(BranchRef("main"), c); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := refs.Get(BranchRef("main"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != c {
		t.Errorf("Get = %s, want %s", got, c)
	}
}

func TestRefStore_DIDPathSegments(t *testing.T) {
	refs, err := NewRefStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	// DIDs contain colons, which must survive the on-disk encoding.
	ref := RemoteCobRef("did:key:z6MkTest", "issue", "abc")
	c := testCids(t, "remote-tip")[0]
	if err := refs.SetTips(ref, []gocid.Cid{c}); err != nil {
		t.Fatalf("SetTips: %v", err)
	}
	if !refs.Has(ref) {
		t.Fatal("Has = false for remote ref")
	}

	listed, err := refs.List("refs/remotes/did:key:z6MkTest/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != 1 || listed[0] != ref {
		t.Errorf("List = %v, want [%s]", listed, ref)
	}
}

func TestRefStore_ListPrefix(t *testing.T) {
	refs, err := NewRefStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	c := testCids(t, "x")[0]
	refs.SetTips(CobRef("issue", "i1"), []gocid.Cid{c})
	refs.SetTips(CobRef("issue", "i2"), []gocid.Cid{c})
	refs.SetTips(CobRef("patch", "p1"), []gocid.Cid{c})

	issues, err := refs.List(CobRef("issue", ""))
	if err != nil {
		t.Fatal(err)
	}
	if len(issues) != 2 {
		t.Errorf("issue refs = %v, want 2 entries", issues)
	}

	all, err := refs.List("")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("all refs = %v, want 3 entries", all)
	}
}

func TestRefStore_Delete(t *testing.T) {
	refs, err := NewRefStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	c := testCids(t, "x")[0]
	ref := CobRef("issue", "gone")
	refs.SetTips(ref, []gocid.Cid{c})
	if err := refs.Delete(ref); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if refs.Has(ref) {
		t.Error("Has = true after Delete")
	}
}
