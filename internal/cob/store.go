package cob

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gocid "github.com/ipfs/go-cid"

	"github.com/loomvcs/loom/internal/identity"
	"github.com/loomvcs/loom/internal/storage"
)

// Store is the top-level facade for a repository's collaborative objects.
// Operations live in a CID-addressed object store; each COB's tip set is
// tracked under a deterministic ref path. Logs are cached in memory and
// rebuilt from the object store on first access.
type Store struct {
	root    string
	Objects *storage.ObjectStore
	Refs    *storage.RefStore

	mu   sync.Mutex
	logs map[string]*Log // cob id -> log
}

// Open opens or creates the COB store under root/.loom/.
func Open(root string) (*Store, error) {
	loomDir := filepath.Join(root, ".loom")
	for _, dir := range []string{
		loomDir,
		filepath.Join(loomDir, "objects"),
		filepath.Join(loomDir, "refs"),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	objects, err := storage.NewObjectStore(filepath.Join(loomDir, "objects"))
	if err != nil {
		return nil, err
	}
	refs, err := storage.NewRefStore(filepath.Join(loomDir, "refs"))
	if err != nil {
		return nil, err
	}

	return &Store{
		root:    root,
		Objects: objects,
		Refs:    refs,
		logs:    make(map[string]*Log),
	}, nil
}

// Dir returns the path to the .loom/ data directory.
func (s *Store) Dir() string {
	return filepath.Join(s.root, ".loom")
}

// Create authors a new COB of the given kind and persists its root operation.
// Returns the new object's id.
func (s *Store) Create(id *identity.Identity, kind, title, description string) (string, error) {
	log := NewLog()
	op, err := log.Append(id, Action{
		Type:        ActionCreate,
		Kind:        kind,
		Title:       title,
		Description: description,
	})
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.logs[op.ID] = log
	s.mu.Unlock()

	if err := s.persist(log, op); err != nil {
		return "", err
	}
	return op.ID, nil
}

// Append authors a new operation on an existing COB and persists it.
func (s *Store) Append(id *identity.Identity, kind, cobID string, action Action) (*Operation, error) {
	log, err := s.Load(kind, cobID)
	if err != nil {
		return nil, err
	}
	op, err := log.Append(id, action)
	if err != nil {
		return nil, err
	}
	if err := s.persist(log, op); err != nil {
		return nil, err
	}
	return op, nil
}

// MergeRemote verifies and admits a batch of remote operations into the COB,
// creating it locally if the batch contains its root. Newly accepted
// operations are persisted.
func (s *Store) MergeRemote(kind, cobID string, ops []*Operation) (*MergeResult, error) {
	log, err := s.Load(kind, cobID)
	if err != nil {
		// The batch may carry the root; start an empty log.
		log = s.emptyLog(cobID)
	}
	res, err := log.Merge(ops)
	if err != nil {
		return res, err
	}
	for _, op := range res.Accepted {
		if err := s.persist(log, op); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (s *Store) emptyLog(cobID string) *Log {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log, ok := s.logs[cobID]; ok {
		return log
	}
	log := NewLog()
	s.logs[cobID] = log
	return log
}

// Load returns the COB's log, reading it from disk on first access.
func (s *Store) Load(kind, cobID string) (*Log, error) {
	s.mu.Lock()
	if log, ok := s.logs[cobID]; ok && log.Len() > 0 {
		s.mu.Unlock()
		return log, nil
	}
	s.mu.Unlock()

	ref := storage.CobRef(kind, cobID)
	tips, err := s.Refs.Tips(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownObject, cobID)
	}

	var ops []*Operation
	seen := map[string]bool{}
	queue := make([]string, 0, len(tips))
	for _, c := range tips {
		queue = append(queue, storage.CIDToFilename(c))
	}
	for len(queue) > 0 {
		opID := queue[0]
		queue = queue[1:]
		if seen[opID] {
			continue
		}
		seen[opID] = true

		c, err := storage.ParseCID(opID)
		if err != nil {
			return nil, err
		}
		data, err := s.Objects.Get(c)
		if err != nil {
			return nil, fmt.Errorf("load operation %s: %w", opID, err)
		}
		op, err := DecodeOperation(data)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
		queue = append(queue, op.Parents...)
	}

	log := s.emptyLog(cobID)
	res, err := log.Merge(ops)
	if err != nil {
		return nil, fmt.Errorf("rebuild %s: %w", cobID, err)
	}
	if len(res.Missing) > 0 {
		return nil, fmt.Errorf("rebuild %s: store is missing ancestors %s",
			cobID, strings.Join(res.Missing, ", "))
	}
	return log, nil
}

// Materialize loads a COB and computes its materialized state.
func (s *Store) Materialize(kind, cobID string) (*State, error) {
	log, err := s.Load(kind, cobID)
	if err != nil {
		return nil, err
	}
	return log.Materialize()
}

// List returns the ids of all local COBs of the given kind.
func (s *Store) List(kind string) ([]string, error) {
	prefix := storage.CobRef(kind, "")
	refs, err := s.Refs.List(prefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, strings.TrimPrefix(ref, prefix))
	}
	return ids, nil
}

// Tips returns a COB's current tip set as operation id strings.
func (s *Store) Tips(kind, cobID string) ([]string, error) {
	log, err := s.Load(kind, cobID)
	if err != nil {
		return nil, err
	}
	return log.Tips(), nil
}

// persist writes one admitted operation and refreshes the COB's tip ref.
func (s *Store) persist(log *Log, op *Operation) error {
	data, err := op.Encode()
	if err != nil {
		return err
	}
	if _, err := s.Objects.Put(data); err != nil {
		return err
	}

	tips := log.Tips()
	cids := make([]gocid.Cid, 0, len(tips))
	for _, t := range tips {
		c, err := storage.ParseCID(t)
		if err != nil {
			return err
		}
		cids = append(cids, c)
	}
	ref := storage.CobRef(log.Kind(), log.Root())
	return s.Refs.SetTips(ref, cids)
}
