package gossip

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/loomvcs/loom/internal/cob"
	"github.com/loomvcs/loom/internal/logging"
	"github.com/loomvcs/loom/internal/storage"
	"github.com/loomvcs/loom/internal/tracking"
)

// PeerResult is the outcome of fetching from one peer.
type PeerResult struct {
	DID   string
	Error error  // nil on success
	Cobs  int    // COBs with newly accepted operations
	Ops   int    // operations newly accepted
}

// Summary aggregates a fetch across peers. Partial failure is the normal
// case: unreachable peers land in Failed without affecting the others.
type Summary struct {
	Succeeded []PeerResult
	Failed    []PeerResult
	Skipped   []string // peers with no dialable address
}

// Fetcher pulls tracked peers' refs and operations into the local store.
type Fetcher struct {
	DB    *tracking.DB
	Store *cob.Store
	Dial  Dialer
	Bus   *Bus

	log *logging.Logger
}

// NewFetcher wires a Fetcher.
func NewFetcher(db *tracking.DB, store *cob.Store, dial Dialer, bus *Bus) *Fetcher {
	return &Fetcher{
		DB:    db,
		Store: store,
		Dial:  dial,
		Bus:   bus,
		log:   logging.New("fetch"),
	}
}

// Fetch contacts every peer the tracking policy admits for the repository
// and merges whatever they advertise. Peers run concurrently; an
// unreachable peer is reported in the summary, never fatal.
func (f *Fetcher) Fetch(ctx context.Context, rid string) (*Summary, error) {
	peers, err := f.DB.Peers()
	if err != nil {
		return nil, err
	}

	summary := &Summary{}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, peer := range peers {
		ok, err := f.DB.Evaluate(rid, peer.DID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if peer.Address == "" {
			summary.Skipped = append(summary.Skipped, peer.DID)
			continue
		}

		wg.Add(1)
		go func(peer tracking.Peer) {
			defer wg.Done()
			res := f.fetchPeer(ctx, rid, peer)

			mu.Lock()
			defer mu.Unlock()
			if res.Error != nil {
				summary.Failed = append(summary.Failed, res)
			} else {
				summary.Succeeded = append(summary.Succeeded, res)
			}
		}(peer)
	}
	wg.Wait()

	sort.Slice(summary.Succeeded, func(i, j int) bool { return summary.Succeeded[i].DID < summary.Succeeded[j].DID })
	sort.Slice(summary.Failed, func(i, j int) bool { return summary.Failed[i].DID < summary.Failed[j].DID })
	sort.Strings(summary.Skipped)
	return summary, nil
}

// fetchPeer pulls one peer's advertised COB heads and chases missing
// ancestors until each log is causally complete or the round budget runs out.
func (f *Fetcher) fetchPeer(ctx context.Context, rid string, peer tracking.Peer) PeerResult {
	res := PeerResult{DID: peer.DID}

	conn, err := f.Dial(ctx, peer.Address)
	if err != nil {
		res.Error = err
		f.log.Warnf("peer %s unreachable: %v", peer.Alias, err)
		f.Bus.Emit(Event{Type: EventFetchFailed, Remote: peer.DID, RID: rid, Detail: err.Error()})
		return res
	}
	defer conn.Close()

	f.Bus.Emit(Event{Type: EventPeerConnected, Remote: conn.DID(), RID: rid})
	defer f.Bus.Emit(Event{Type: EventPeerDisconnected, Remote: conn.DID(), RID: rid})

	refs, err := conn.LsRefs(ctx, rid)
	if err != nil {
		res.Error = err
		f.Bus.Emit(Event{Type: EventFetchFailed, Remote: conn.DID(), RID: rid, Detail: err.Error()})
		return res
	}

	for _, heads := range refs.Cobs {
		accepted, err := f.fetchCob(ctx, conn, rid, heads)
		if err != nil {
			res.Error = err
			f.Bus.Emit(Event{Type: EventFetchFailed, Remote: conn.DID(), RID: rid, Detail: err.Error()})
			return res
		}
		if accepted > 0 {
			res.Cobs++
			res.Ops += accepted
		}
		remoteRef := storage.RemoteCobRef(conn.DID(), heads.Kind, heads.ID)
		if err := f.DB.SetRemoteRefs(conn.DID(), rid, remoteRef, heads.Tips); err != nil {
			res.Error = err
			return res
		}
	}

	// Remember advertised branches too; they are the peer's word, not ours.
	for name, hash := range refs.Branches {
		ref := storage.RemoteCobRef(conn.DID(), "branch", name)
		if err := f.DB.SetRemoteRefs(conn.DID(), rid, ref, []string{hash}); err != nil {
			res.Error = err
			return res
		}
	}

	f.Bus.Emit(Event{
		Type:   EventRefsSynced,
		Remote: conn.DID(),
		RID:    rid,
		Detail: fmt.Sprintf("%d operations", res.Ops),
	})
	return res
}

// fetchCob requests the missing operation set for one COB: first the unknown
// advertised tips, then whatever parents each merge round reports missing.
// Rounds continue as long as they make progress, so history depth never
// bounds what can be fetched; a peer that stops supplying wanted ancestors
// fails the fetch.
func (f *Fetcher) fetchCob(ctx context.Context, conn Peer, rid string, heads CobHeads) (int, error) {
	want := heads.Tips
	if log, err := f.Store.Load(heads.Kind, heads.ID); err == nil {
		want = log.Unknown(heads.Tips)
	}
	if len(want) == 0 {
		return 0, nil
	}

	// Operations arrive newest-first, so early rounds are parked on missing
	// parents. The cumulative batch is re-merged each round; merging is
	// idempotent, and only newly accepted operations are counted. An id never
	// reappears in want once delivered, so an unchanged want set means the
	// peer cannot supply the rest.
	total := 0
	var batch []*cob.Operation
	lastWant := ""
	for len(want) > 0 {
		key := strings.Join(want, " ")
		if key == lastWant {
			return total, fmt.Errorf("peer %s cannot supply %d missing ancestors of %s", conn.DID(), len(want), heads.ID)
		}
		lastWant = key

		ops, err := conn.Want(ctx, rid, heads.Kind, heads.ID, want)
		if err != nil {
			return total, err
		}
		if len(ops) == 0 {
			return total, fmt.Errorf("peer %s did not supply wanted operations for %s", conn.DID(), heads.ID)
		}
		batch = append(batch, ops...)
		res, err := f.Store.MergeRemote(heads.Kind, heads.ID, batch)
		if err != nil {
			return total, fmt.Errorf("merge %s: %w", heads.ID, err)
		}
		total += len(res.Accepted)
		want = res.Missing
	}
	return total, nil
}
