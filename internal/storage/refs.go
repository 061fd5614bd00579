package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	gocid "github.com/ipfs/go-cid"
)

// Ref namespace layout. COB logs live under refs/loom/<kind>s/<id>; refs
// fetched from a peer are kept under refs/remotes/<peer-did>/. The default
// branch ref is separate and never holds COB data.
const (
	localNamespace  = "refs/loom"
	remoteNamespace = "refs/remotes"
)

// CobRef returns the local ref path for a COB, e.g. refs/loom/issues/<id>.
func CobRef(kind, id string) string {
	return localNamespace + "/" + kind + "s/" + id
}

// RemoteCobRef returns the ref path for a peer's copy of a COB.
func RemoteCobRef(peer, kind, id string) string {
	return remoteNamespace + "/" + peer + "/" + kind + "s/" + id
}

// BranchRef returns the ref path for a plain git branch.
func BranchRef(name string) string {
	return "refs/heads/" + name
}

// RefStore maps ref paths to sets of CIDs (a COB log's tips; a branch ref
// holds exactly one). Each ref is a file whose content is one CID string per
// line. Colons in path segments (DIDs) become double underscores on disk.
type RefStore struct {
	dir string
}

// NewRefStore creates a RefStore at the given directory.
func NewRefStore(dir string) (*RefStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create refs dir: %w", err)
	}
	return &RefStore{dir: dir}, nil
}

func (r *RefStore) refPath(ref string) string {
	encoded := strings.ReplaceAll(ref, ":", "__")
	return filepath.Join(r.dir, filepath.FromSlash(encoded))
}

func refFromRelPath(rel string) string {
	decoded := strings.ReplaceAll(filepath.ToSlash(rel), "__", ":")
	return decoded
}

// SetTips writes a ref's tip set, replacing the previous value.
func (r *RefStore) SetTips(ref string, tips []gocid.Cid) error {
	path := r.refPath(ref)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create ref dir: %w", err)
	}
	lines := make([]string, 0, len(tips))
	for _, c := range tips {
		lines = append(lines, CIDToFilename(c))
	}
	sort.Strings(lines)
	return SafeWrite(path, []byte(strings.Join(lines, "\n")+"\n"), 0644)
}

// Tips reads a ref's tip set.
func (r *RefStore) Tips(ref string) ([]gocid.Cid, error) {
	data, err := os.ReadFile(r.refPath(ref))
	if err != nil {
		return nil, fmt.Errorf("ref not found: %s", ref)
	}
	var tips []gocid.Cid
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		c, err := ParseCID(line)
		if err != nil {
			return nil, fmt.Errorf("ref %s: %w", ref, err)
		}
		tips = append(tips, c)
	}
	return tips, nil
}

// Set writes a single-valued ref (a branch head).
func (r *RefStore) Set(ref string, c gocid.Cid) error {
	return r.SetTips(ref, []gocid.Cid{c})
}

// Get resolves a single-valued ref. Fails if the ref holds multiple tips.
func (r *RefStore) Get(ref string) (gocid.Cid, error) {
	tips, err := r.Tips(ref)
	if err != nil {
		return gocid.Undef, err
	}
	if len(tips) != 1 {
		return gocid.Undef, fmt.Errorf("ref %s has %d tips, want 1", ref, len(tips))
	}
	return tips[0], nil
}

// Delete removes a ref.
func (r *RefStore) Delete(ref string) error {
	return os.Remove(r.refPath(ref))
}

// Has checks if a ref exists.
func (r *RefStore) Has(ref string) bool {
	_, err := os.Stat(r.refPath(ref))
	return err == nil
}

// List returns all ref paths under the given prefix ("" for all refs).
func (r *RefStore) List(prefix string) ([]string, error) {
	var refs []string
	err := filepath.WalkDir(r.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(r.dir, path)
		if err != nil {
			return err
		}
		ref := refFromRelPath(rel)
		if prefix == "" || strings.HasPrefix(ref, prefix) {
			refs = append(refs, ref)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	sort.Strings(refs)
	return refs, nil
}
