// Package tracking holds the node database: which repositories this node
// seeds, which peers it knows, and the per-repository tracking policy that
// decides whose refs the sync protocol will fetch. All mutations are pure
// local sqlite writes; no network I/O happens here.
package tracking

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// ErrNotTracked is returned when an action targets a peer or object that
// the tracking policy does not admit. The user must track first.
var ErrNotTracked = errors.New("peer is not tracked for this repository")

// Scope of a repository's tracking policy.
type Scope string

const (
	// ScopeAll fetches refs from every known peer.
	ScopeAll Scope = "all"
	// ScopeSelected fetches refs only from explicitly tracked peers.
	ScopeSelected Scope = "selected"
	// ScopeNone fetches nothing.
	ScopeNone Scope = "none"
)

// ParseScope validates a scope string.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeAll, ScopeSelected, ScopeNone:
		return Scope(s), nil
	}
	return "", fmt.Errorf("unknown tracking scope %q", s)
}

// Peer is a known remote node.
type Peer struct {
	DID     string
	Alias   string
	Address string
	AddedAt string
}

// DB is the sqlite-backed node database.
type DB struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS peers (
	did      TEXT PRIMARY KEY,
	alias    TEXT NOT NULL DEFAULT '',
	address  TEXT NOT NULL DEFAULT '',
	added_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS policies (
	rid   TEXT PRIMARY KEY,
	scope TEXT NOT NULL CHECK (scope IN ('all','selected','none'))
);
CREATE TABLE IF NOT EXISTS tracked (
	rid TEXT NOT NULL,
	did TEXT NOT NULL,
	PRIMARY KEY (rid, did)
);
CREATE TABLE IF NOT EXISTS remote_refs (
	did  TEXT NOT NULL,
	rid  TEXT NOT NULL,
	ref  TEXT NOT NULL,
	tips TEXT NOT NULL,
	PRIMARY KEY (did, rid, ref)
);
CREATE TABLE IF NOT EXISTS inventory (
	rid      TEXT PRIMARY KEY,
	added_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS announcements (
	did       TEXT PRIMARY KEY,
	timestamp INTEGER NOT NULL,
	alias     TEXT NOT NULL DEFAULT ''
);
`

// Open opens or creates the node database at path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}

// --- policy ---

// SetPolicy sets the tracking scope for a repository.
func (d *DB) SetPolicy(rid string, scope Scope) error {
	_, err := d.db.Exec(`INSERT INTO policies (rid, scope) VALUES (?, ?)
		ON CONFLICT(rid) DO UPDATE SET scope = excluded.scope`, rid, string(scope))
	if err != nil {
		return fmt.Errorf("set policy: %w", err)
	}
	return nil
}

// Policy returns the repository's scope. Repositories with no explicit
// policy default to ScopeSelected.
func (d *DB) Policy(rid string) (Scope, error) {
	var scope string
	err := d.db.QueryRow(`SELECT scope FROM policies WHERE rid = ?`, rid).Scan(&scope)
	if err == sql.ErrNoRows {
		return ScopeSelected, nil
	}
	if err != nil {
		return "", fmt.Errorf("get policy: %w", err)
	}
	return Scope(scope), nil
}

// Evaluate reports whether the given peer's refs should be fetched for the
// repository under the current policy.
func (d *DB) Evaluate(rid, did string) (bool, error) {
	scope, err := d.Policy(rid)
	if err != nil {
		return false, err
	}
	switch scope {
	case ScopeAll:
		return true, nil
	case ScopeNone:
		return false, nil
	}
	var n int
	err = d.db.QueryRow(`SELECT COUNT(*) FROM tracked WHERE rid = ? AND did = ?`, rid, did).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check tracked: %w", err)
	}
	return n > 0, nil
}

// Require returns ErrNotTracked unless Evaluate admits the peer.
func (d *DB) Require(rid, did string) error {
	ok, err := d.Evaluate(rid, did)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotTracked, did)
	}
	return nil
}

// Track adds a peer to the repository's tracked set. A new peer with no
// alias gets a deterministic petname; a known peer's alias is only replaced
// when the caller names one.
func (d *DB) Track(rid, did, alias string) error {
	insertAlias := alias
	if insertAlias == "" {
		insertAlias = Petname(did)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := d.db.Exec(`INSERT INTO peers (did, alias, added_at) VALUES (?, ?, ?)
		ON CONFLICT(did) DO UPDATE SET alias = CASE WHEN ? != '' THEN ? ELSE peers.alias END`,
		did, insertAlias, now, alias, alias); err != nil {
		return fmt.Errorf("upsert peer: %w", err)
	}
	if _, err := d.db.Exec(`INSERT OR IGNORE INTO tracked (rid, did) VALUES (?, ?)`, rid, did); err != nil {
		return fmt.Errorf("track peer: %w", err)
	}
	return nil
}

// Untrack removes a peer from the repository's tracked set.
func (d *DB) Untrack(rid, did string) error {
	res, err := d.db.Exec(`DELETE FROM tracked WHERE rid = ? AND did = ?`, rid, did)
	if err != nil {
		return fmt.Errorf("untrack peer: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotTracked, did)
	}
	return nil
}

// Tracked returns the DIDs tracked for a repository, sorted.
func (d *DB) Tracked(rid string) ([]string, error) {
	rows, err := d.db.Query(`SELECT did FROM tracked WHERE rid = ? ORDER BY did`, rid)
	if err != nil {
		return nil, fmt.Errorf("list tracked: %w", err)
	}
	defer rows.Close()
	var dids []string
	for rows.Next() {
		var did string
		if err := rows.Scan(&did); err != nil {
			return nil, err
		}
		dids = append(dids, did)
	}
	return dids, rows.Err()
}

// --- peers ---

// AddPeer registers a remote node with an optional alias and address. Empty
// fields never overwrite what a known peer already has; a new peer with no
// alias gets a deterministic petname.
func (d *DB) AddPeer(did, alias, address string) error {
	insertAlias := alias
	if insertAlias == "" {
		insertAlias = Petname(did)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := d.db.Exec(`INSERT INTO peers (did, alias, address, added_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(did) DO UPDATE SET
			alias   = CASE WHEN ? != '' THEN ? ELSE peers.alias   END,
			address = CASE WHEN ? != '' THEN ? ELSE peers.address END`,
		did, insertAlias, address, now, alias, alias, address, address)
	if err != nil {
		return fmt.Errorf("add peer: %w", err)
	}
	return nil
}

// Peers lists all known peers, sorted by alias.
func (d *DB) Peers() ([]Peer, error) {
	rows, err := d.db.Query(`SELECT did, alias, address, added_at FROM peers ORDER BY alias`)
	if err != nil {
		return nil, fmt.Errorf("list peers: %w", err)
	}
	defer rows.Close()
	var peers []Peer
	for rows.Next() {
		var p Peer
		if err := rows.Scan(&p.DID, &p.Alias, &p.Address, &p.AddedAt); err != nil {
			return nil, err
		}
		peers = append(peers, p)
	}
	return peers, rows.Err()
}

// ResolvePeer looks a peer up by DID or alias.
func (d *DB) ResolvePeer(didOrAlias string) (*Peer, error) {
	var p Peer
	err := d.db.QueryRow(`SELECT did, alias, address, added_at FROM peers
		WHERE did = ? OR alias = ?`, didOrAlias, didOrAlias).
		Scan(&p.DID, &p.Alias, &p.Address, &p.AddedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("unknown peer: %s", didOrAlias)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve peer: %w", err)
	}
	return &p, nil
}

// --- remote refs ---

// SetRemoteRefs records what a peer last advertised for a repository ref.
// Tips are stored newline-joined; order is normalized by the caller.
func (d *DB) SetRemoteRefs(did, rid, ref string, tips []string) error {
	_, err := d.db.Exec(`INSERT INTO remote_refs (did, rid, ref, tips) VALUES (?, ?, ?, ?)
		ON CONFLICT(did, rid, ref) DO UPDATE SET tips = excluded.tips`,
		did, rid, ref, strings.Join(tips, "\n"))
	if err != nil {
		return fmt.Errorf("set remote refs: %w", err)
	}
	return nil
}

// RemoteRefs returns a peer's advertised refs for a repository.
func (d *DB) RemoteRefs(did, rid string) (map[string][]string, error) {
	rows, err := d.db.Query(`SELECT ref, tips FROM remote_refs WHERE did = ? AND rid = ?`, did, rid)
	if err != nil {
		return nil, fmt.Errorf("get remote refs: %w", err)
	}
	defer rows.Close()
	refs := make(map[string][]string)
	for rows.Next() {
		var ref, tips string
		if err := rows.Scan(&ref, &tips); err != nil {
			return nil, err
		}
		if tips == "" {
			refs[ref] = nil
		} else {
			refs[ref] = strings.Split(tips, "\n")
		}
	}
	return refs, rows.Err()
}

// --- inventory ---

// AddInventory marks a repository as seeded (offered to peers).
func (d *DB) AddInventory(rid string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := d.db.Exec(`INSERT OR IGNORE INTO inventory (rid, added_at) VALUES (?, ?)`, rid, now)
	if err != nil {
		return fmt.Errorf("add inventory: %w", err)
	}
	return nil
}

// Inventory lists the repositories this node seeds.
func (d *DB) Inventory() ([]string, error) {
	rows, err := d.db.Query(`SELECT rid FROM inventory ORDER BY rid`)
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	defer rows.Close()
	var rids []string
	for rows.Next() {
		var rid string
		if err := rows.Scan(&rid); err != nil {
			return nil, err
		}
		rids = append(rids, rid)
	}
	return rids, rows.Err()
}

// --- announcements ---

// RecordAnnouncement stores a node announcement if it is fresher than the
// last one seen from the same peer. Returns false for stale announcements.
func (d *DB) RecordAnnouncement(did string, timestamp int64, alias string) (bool, error) {
	var last int64
	err := d.db.QueryRow(`SELECT timestamp FROM announcements WHERE did = ?`, did).Scan(&last)
	if err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("check announcement: %w", err)
	}
	if err == nil && timestamp <= last {
		return false, nil
	}
	_, err = d.db.Exec(`INSERT INTO announcements (did, timestamp, alias) VALUES (?, ?, ?)
		ON CONFLICT(did) DO UPDATE SET timestamp = excluded.timestamp, alias = excluded.alias`,
		did, timestamp, alias)
	if err != nil {
		return false, fmt.Errorf("record announcement: %w", err)
	}
	return true, nil
}
