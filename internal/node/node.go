// Package node composes a loom repository node: identity, COB store, node
// database, and the gossip machinery. All state is rooted under the
// repository directory so multiple nodes can coexist in one process.
package node

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loomvcs/loom/internal/cob"
	"github.com/loomvcs/loom/internal/config"
	"github.com/loomvcs/loom/internal/gossip"
	"github.com/loomvcs/loom/internal/identity"
	"github.com/loomvcs/loom/internal/logging"
	"github.com/loomvcs/loom/internal/patchwork"
	"github.com/loomvcs/loom/internal/tracking"
)

// Node is one repository's view of the network.
type Node struct {
	RID      string
	Identity *identity.Identity
	Config   *config.Config
	Store    *cob.Store
	DB       *tracking.DB
	Bus      *gossip.Bus

	Fetcher   *gossip.Fetcher
	Announcer *gossip.Announcer
	Patches   *patchwork.Adapter

	server *http.Server
	syncer *gossip.Syncer
	log    *logging.Logger
}

// Open opens or initializes the node rooted at dir. The repository id is
// minted on first open and persisted under .loom/rid.
func Open(dir string, cfg *config.Config, id *identity.Identity, git patchwork.GitBackend) (*Node, error) {
	store, err := cob.Open(dir)
	if err != nil {
		return nil, err
	}

	rid, err := loadOrMintRID(store.Dir())
	if err != nil {
		return nil, err
	}

	db, err := tracking.Open(filepath.Join(store.Dir(), "node.db"))
	if err != nil {
		return nil, err
	}
	if err := db.AddInventory(rid); err != nil {
		db.Close()
		return nil, err
	}

	bus := gossip.NewBus()
	alias := cfg.String("node.alias", "")
	dial := gossip.WebsocketDialer(id.DID)

	n := &Node{
		RID:       rid,
		Identity:  id,
		Config:    cfg,
		Store:     store,
		DB:        db,
		Bus:       bus,
		Fetcher:   gossip.NewFetcher(db, store, dial, bus),
		Announcer: gossip.NewAnnouncer(db, store, dial, id.DID, alias),
		Patches:   patchwork.NewAdapter(store, git),
		log:       logging.New("node"),
	}
	return n, nil
}

func loadOrMintRID(loomDir string) (string, error) {
	path := filepath.Join(loomDir, "rid")
	data, err := os.ReadFile(path)
	if err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("read rid: %w", err)
	}
	rid := "rid:" + uuid.NewString()
	if err := os.WriteFile(path, []byte(rid+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write rid: %w", err)
	}
	return rid, nil
}

// Listen starts the gossip server and the background sync loop. Blocks
// until the server stops.
func (n *Node) Listen(addr string) error {
	if addr == "" {
		addr = n.Config.String("node.listen", "127.0.0.1:8776")
	}
	srv := gossip.NewServer(n.Identity.DID, n.Config.String("node.alias", ""), n.Store, n.DB, n.Bus)

	mux := http.NewServeMux()
	mux.Handle("/gossip", srv)

	interval := time.Duration(n.Config.Int("sync.interval_seconds", 300)) * time.Second
	n.syncer = gossip.NewSyncer(n.Fetcher, n.Announcer, interval)
	n.syncer.Start()

	n.server = &http.Server{Addr: addr, Handler: mux}
	n.log.Infof("listening on %s as %s", addr, n.Identity.DID)
	err := n.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close releases the node's resources.
func (n *Node) Close() error {
	if n.syncer != nil {
		n.syncer.Stop()
	}
	if n.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		n.server.Shutdown(ctx)
	}
	return n.DB.Close()
}

// FetchTimeout returns the configured fetch deadline.
func (n *Node) FetchTimeout() time.Duration {
	return time.Duration(n.Config.Int("sync.fetch_timeout_seconds", 30)) * time.Second
}
