package gossip

import (
	"context"
	"time"

	"github.com/loomvcs/loom/internal/cob"
	"github.com/loomvcs/loom/internal/logging"
	"github.com/loomvcs/loom/internal/tracking"
)

// Announcer pushes local ref updates to known peers. Delivery is
// best-effort: a peer offline at announce time will pick the update up on
// its next fetch.
type Announcer struct {
	DB    *tracking.DB
	Store *cob.Store
	Dial  Dialer
	DID   string
	Alias string

	log *logging.Logger
}

// NewAnnouncer wires an Announcer.
func NewAnnouncer(db *tracking.DB, store *cob.Store, dial Dialer, did, alias string) *Announcer {
	return &Announcer{
		DB:    db,
		Store: store,
		Dial:  dial,
		DID:   did,
		Alias: alias,
		log:   logging.New("announce"),
	}
}

// snapshot collects the local COB heads for a repository announcement.
func (a *Announcer) snapshot(rid string) (*Frame, error) {
	f := &Frame{
		Type:      MsgAnnounce,
		From:      a.DID,
		RID:       rid,
		Timestamp: time.Now().UnixMilli(),
	}
	for _, kind := range []string{cob.KindIssue, cob.KindPatch} {
		ids, err := a.Store.List(kind)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			tips, err := a.Store.Tips(kind, id)
			if err != nil {
				return nil, err
			}
			f.Cobs = append(f.Cobs, CobHeads{Kind: kind, ID: id, Tips: tips})
		}
	}
	return f, nil
}

// Announce sends the repository's current heads to every addressed peer the
// tracking policy admits for it. Failures are logged and skipped, never
// returned per-peer: the protocol promises nothing stronger than "eventually
// fetched".
func (a *Announcer) Announce(ctx context.Context, rid string) error {
	frame, err := a.snapshot(rid)
	if err != nil {
		return err
	}
	peers, err := a.DB.Peers()
	if err != nil {
		return err
	}
	for _, peer := range peers {
		if peer.Address == "" {
			continue
		}
		ok, err := a.DB.Evaluate(rid, peer.DID)
		if err != nil {
			return err
		}
		if !ok {
			a.log.Debugf("announce to %s skipped: not tracked for %s", peer.Alias, rid)
			continue
		}
		conn, err := a.Dial(ctx, peer.Address)
		if err != nil {
			a.log.Debugf("announce to %s skipped: %v", peer.Alias, err)
			continue
		}
		if err := conn.Announce(ctx, frame); err != nil {
			a.log.Debugf("announce to %s failed: %v", peer.Alias, err)
		}
		conn.Close()
	}
	return nil
}

// Syncer periodically fetches and announces in the background.
type Syncer struct {
	fetcher   *Fetcher
	announcer *Announcer
	interval  time.Duration
	stopCh    chan struct{}
	doneCh    chan struct{}

	log *logging.Logger
}

// NewSyncer creates a syncer that runs a fetch+announce cycle at the given
// interval for every repository in the node's inventory.
func NewSyncer(fetcher *Fetcher, announcer *Announcer, interval time.Duration) *Syncer {
	return &Syncer{
		fetcher:   fetcher,
		announcer: announcer,
		interval:  interval,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		log:       logging.New("sync"),
	}
}

// Start launches the background polling goroutine.
func (s *Syncer) Start() {
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.cycle()
			}
		}
	}()
}

func (s *Syncer) cycle() {
	rids, err := s.fetcher.DB.Inventory()
	if err != nil {
		s.log.Errorf("inventory: %v", err)
		return
	}
	for _, rid := range rids {
		ctx, cancel := context.WithTimeout(context.Background(), s.interval)
		summary, err := s.fetcher.Fetch(ctx, rid)
		if err != nil {
			s.log.Errorf("fetch %s: %v", rid, err)
		} else if len(summary.Failed) > 0 {
			s.log.Warnf("fetch %s: %d ok, %d failed, %d skipped",
				rid, len(summary.Succeeded), len(summary.Failed), len(summary.Skipped))
		}
		if err := s.announcer.Announce(ctx, rid); err != nil {
			s.log.Errorf("announce %s: %v", rid, err)
		}
		cancel()
	}
}

// Stop signals the syncer to stop and waits for it to finish.
func (s *Syncer) Stop() {
	close(s.stopCh)
	<-s.doneCh
}
