package cob

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/loomvcs/loom/internal/identity"
)

// Log is the append-only operation DAG of a single COB: an arena of
// operations indexed by id with explicit parent-id edges. A Log is mutated
// only by admitting verified operations; nothing is ever updated or removed,
// so concurrent readers never observe a torn state. A single mutex
// serializes writers to the same object; distinct objects are never
// contended.
type Log struct {
	mu   sync.RWMutex
	root string
	kind string
	ops  map[string]*Operation
	tips map[string]bool // operation ids with no local children
}

// NewLog creates an empty log. The first admitted operation must be a root
// create action, which fixes the object's id and kind.
func NewLog() *Log {
	return &Log{
		ops:  make(map[string]*Operation),
		tips: make(map[string]bool),
	}
}

// Root returns the object id (the root operation's id), or "" if empty.
func (l *Log) Root() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.root
}

// Kind returns the object kind, or "" if empty.
func (l *Log) Kind() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.kind
}

// Len returns the number of operations in the log.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ops)
}

// Has reports whether the operation id is in the log.
func (l *Log) Has(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.ops[id]
	return ok
}

// Get returns an operation by id.
func (l *Log) Get(id string) (*Operation, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	op, ok := l.ops[id]
	return op, ok
}

// Tips returns the current tip set, sorted.
func (l *Log) Tips() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tips := make([]string, 0, len(l.tips))
	for id := range l.tips {
		tips = append(tips, id)
	}
	sort.Strings(tips)
	return tips
}

// Operations returns every operation in the log, sorted by the canonical
// total order (clock, author, id).
func (l *Log) Operations() []*Operation {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ops := make([]*Operation, 0, len(l.ops))
	for _, op := range l.ops {
		ops = append(ops, op)
	}
	sortOperations(ops)
	return ops
}

// sortOperations orders by (clock, author DID, operation id). Clocks alone
// are not a total order across unsynchronized peers; the lexicographic
// tie-break makes the fold fully deterministic.
func sortOperations(ops []*Operation) {
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].Clock != ops[j].Clock {
			return ops[i].Clock < ops[j].Clock
		}
		if ops[i].Author != ops[j].Author {
			return ops[i].Author < ops[j].Author
		}
		return ops[i].ID < ops[j].ID
	})
}

// Insert admits a single verified remote operation. It returns true if the
// operation was newly added, false if it was already known (idempotent).
// Fails with ErrInvalidSignature, ErrUnknownParent or ErrCyclicReference.
func (l *Log) Insert(op *Operation) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.insertLocked(op)
}

func (l *Log) insertLocked(op *Operation) (bool, error) {
	if op.ID == "" {
		id, err := op.ComputeID()
		if err != nil {
			return false, err
		}
		op.ID = id
	}
	if _, known := l.ops[op.ID]; known {
		return false, nil
	}

	if err := op.Verify(); err != nil {
		return false, err
	}

	for _, p := range op.Parents {
		if p == op.ID {
			return false, fmt.Errorf("%w: operation %s lists itself as parent", ErrCyclicReference, op.ID)
		}
		if _, ok := l.ops[p]; !ok {
			return false, fmt.Errorf("%w: %s requires %s", ErrUnknownParent, op.ID, p)
		}
	}

	if op.IsRoot() {
		if op.Action.Type != ActionCreate {
			return false, fmt.Errorf("root operation %s is not a create", op.ID)
		}
		if l.root != "" && l.root != op.ID {
			return false, fmt.Errorf("log already rooted at %s, got second root %s", l.root, op.ID)
		}
		l.root = op.ID
		l.kind = op.Action.Kind
	} else if l.root == "" {
		return false, fmt.Errorf("%w: non-root operation %s on empty log", ErrUnknownParent, op.ID)
	}

	// Parents are all present and ids are content hashes, so a cycle would
	// require a hash collision. Admission order alone keeps the arena acyclic.
	l.ops[op.ID] = op
	l.tips[op.ID] = true
	for _, p := range op.Parents {
		delete(l.tips, p)
	}
	return true, nil
}

// MergeResult reports the outcome of a batch merge.
type MergeResult struct {
	Accepted []*Operation // newly admitted, in admission order
	Missing  []string     // parent ids absent locally and not in the batch
}

// Merge admits a batch of remote operations in any order. Operations whose
// parents arrive later in the batch are retried until a fixpoint; only
// operations whose ancestors are genuinely absent are left behind, with the
// missing parent ids reported for a follow-up fetch. Merge is commutative,
// associative and idempotent over verified operation sets.
func (l *Log) Merge(ops []*Operation) (*MergeResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	res := &MergeResult{}
	pending := append([]*Operation{}, ops...)

	for {
		var next []*Operation
		progressed := false
		for _, op := range pending {
			added, err := l.insertLocked(op)
			if err != nil {
				if errors.Is(err, ErrUnknownParent) {
					next = append(next, op)
					continue
				}
				return res, err
			}
			if added {
				res.Accepted = append(res.Accepted, op)
			}
			progressed = true
		}
		pending = next
		if !progressed || len(pending) == 0 {
			break
		}
	}

	missing := map[string]bool{}
	inBatch := map[string]bool{}
	for _, op := range ops {
		inBatch[op.ID] = true
	}
	for _, op := range pending {
		for _, p := range op.Parents {
			if _, ok := l.ops[p]; !ok && !inBatch[p] {
				missing[p] = true
			}
		}
	}
	for id := range missing {
		res.Missing = append(res.Missing, id)
	}
	sort.Strings(res.Missing)
	return res, nil
}

// Append authors a new local operation on top of the current tips, signs it
// with id, and admits it.
func (l *Log) Append(id *identity.Identity, action Action) (*Operation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var parents []string
	var clocks []uint64
	for tip := range l.tips {
		parents = append(parents, tip)
		clocks = append(clocks, l.ops[tip].Clock)
	}
	sort.Strings(parents)

	if l.root == "" && action.Type != ActionCreate {
		return nil, fmt.Errorf("%w: first operation must create the object", ErrUnknownObject)
	}
	if l.root != "" && action.Type == ActionCreate {
		return nil, fmt.Errorf("object already created")
	}
	if l.kind == KindIssue && (action.Type == ActionRevision || action.Type == ActionReview) {
		return nil, fmt.Errorf("%w: %s on an issue", ErrWrongKind, action.Type)
	}
	if l.kind == KindIssue && action.Type == ActionStatus && action.Status == StatusMerged {
		return nil, fmt.Errorf("%w: issues cannot be merged", ErrWrongKind)
	}

	op, err := NewOperation(id, parents, clocks, action)
	if err != nil {
		return nil, err
	}
	if _, err := l.insertLocked(op); err != nil {
		return nil, err
	}
	return op, nil
}

// Unknown filters the given operation ids down to those not present
// locally. Fetch starts from a peer's advertised heads and narrows requests
// with this; deeper gaps surface through MergeResult.Missing as batches
// arrive.
func (l *Log) Unknown(heads []string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var missing []string
	for _, h := range heads {
		if _, ok := l.ops[h]; !ok {
			missing = append(missing, h)
		}
	}
	sort.Strings(missing)
	return missing
}
