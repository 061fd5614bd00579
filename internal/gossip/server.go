package gossip

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/loomvcs/loom/internal/cob"
	"github.com/loomvcs/loom/internal/identity"
	"github.com/loomvcs/loom/internal/logging"
	"github.com/loomvcs/loom/internal/storage"
	"github.com/loomvcs/loom/internal/tracking"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Server answers incoming gossip connections: handshakes, ref listings,
// operation transfers, and announcements. Mount at /gossip.
type Server struct {
	DID   string
	Alias string
	Store *cob.Store
	DB    *tracking.DB
	Bus   *Bus

	log *logging.Logger
}

// NewServer wires a gossip server.
func NewServer(did, alias string, store *cob.Store, db *tracking.DB, bus *Bus) *Server {
	return &Server{
		DID:   did,
		Alias: alias,
		Store: store,
		DB:    db,
		Bus:   bus,
		log:   logging.New("server"),
	}
}

// ServeHTTP upgrades the connection and serves gossip frames until the peer
// hangs up.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	remote := ""
	defer func() {
		if remote != "" {
			s.Bus.Emit(Event{Type: EventPeerDisconnected, Remote: remote})
		}
	}()

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		reply := s.handle(&f, &remote)
		if reply == nil {
			continue
		}
		if err := conn.WriteJSON(reply); err != nil {
			s.log.Warnf("write to %s failed: %v", remote, err)
			return
		}
	}
}

// handle dispatches one frame. A nil return means no reply is owed (announce
// and node frames are fire-and-forget).
func (s *Server) handle(f *Frame, remote *string) *Frame {
	switch f.Type {
	case MsgHello:
		if !identity.Valid(f.From) {
			return errFrame("invalid identity in handshake")
		}
		*remote = f.From
		s.Bus.Emit(Event{Type: EventPeerConnected, Remote: f.From})
		return &Frame{Type: MsgHello, From: s.DID, Alias: s.Alias}

	case MsgLsRefs:
		return s.handleLsRefs(f)

	case MsgWant:
		return s.handleWant(f)

	case MsgAnnounce:
		s.handleAnnounce(f)
		return nil

	case MsgNode:
		s.handleNode(f)
		return nil

	default:
		return errFrame("unknown frame type: " + f.Type)
	}
}

func (s *Server) handleLsRefs(f *Frame) *Frame {
	seeded, err := s.DB.Inventory()
	if err != nil {
		return errFrame(err.Error())
	}
	found := false
	for _, rid := range seeded {
		if rid == f.RID {
			found = true
			break
		}
	}
	if !found {
		return errFrame("repository not seeded: " + f.RID)
	}

	reply := &Frame{Type: MsgRefs, From: s.DID, RID: f.RID, Session: f.Session}
	for _, kind := range []string{cob.KindIssue, cob.KindPatch} {
		ids, err := s.Store.List(kind)
		if err != nil {
			return errFrame(err.Error())
		}
		for _, id := range ids {
			tips, err := s.Store.Tips(kind, id)
			if err != nil {
				return errFrame(err.Error())
			}
			reply.Cobs = append(reply.Cobs, CobHeads{Kind: kind, ID: id, Tips: tips})
		}
	}

	branches, err := s.Store.Refs.List("refs/heads/")
	if err == nil && len(branches) > 0 {
		reply.Branches = make(map[string]string, len(branches))
		for _, ref := range branches {
			c, err := s.Store.Refs.Get(ref)
			if err != nil {
				continue
			}
			reply.Branches[ref[len("refs/heads/"):]] = storage.CIDToFilename(c)
		}
	}
	return reply
}

// maxWantBatch caps one ops response. The fetcher re-requests whatever is
// still missing, so the cap bounds frame size, not reachable history.
const maxWantBatch = 512

// handleWant serves the requested operations plus their ancestor closure:
// the requester asked because it lacks them, and it will need every
// transitive parent before any of them can be admitted.
func (s *Server) handleWant(f *Frame) *Frame {
	reply := &Frame{Type: MsgOps, From: s.DID, RID: f.RID, Session: f.Session}
	queue := append([]string{}, f.Want...)
	seen := map[string]bool{}
	for len(queue) > 0 && len(reply.Ops) < maxWantBatch {
		opID := queue[0]
		queue = queue[1:]
		if seen[opID] {
			continue
		}
		seen[opID] = true

		c, err := storage.ParseCID(opID)
		if err != nil {
			return errFrame("bad operation id: " + opID)
		}
		data, err := s.Store.Objects.Get(c)
		if err != nil {
			continue // we simply don't have it
		}
		op, err := cob.DecodeOperation(data)
		if err != nil {
			s.log.Errorf("corrupt operation %s: %v", opID, err)
			continue
		}
		reply.Ops = append(reply.Ops, op)
		queue = append(queue, op.Parents...)
	}
	return reply
}

// handleAnnounce records what the peer claims to have. Nothing is fetched
// here; the next fetch cycle decides, under the tracking policy, whether to
// pull the announced heads.
func (s *Server) handleAnnounce(f *Frame) {
	if !identity.Valid(f.From) {
		return
	}
	for _, heads := range f.Cobs {
		ref := storage.RemoteCobRef(f.From, heads.Kind, heads.ID)
		if err := s.DB.SetRemoteRefs(f.From, f.RID, ref, heads.Tips); err != nil {
			s.log.Errorf("record announce from %s: %v", f.From, err)
			return
		}
	}
	s.Bus.Emit(Event{Type: EventRefsAnnounced, Remote: f.From, RID: f.RID})
}

func (s *Server) handleNode(f *Frame) {
	if !identity.Valid(f.From) {
		return
	}
	fresh, err := s.DB.RecordAnnouncement(f.From, f.Timestamp, f.Alias)
	if err != nil {
		s.log.Errorf("record node announcement: %v", err)
		return
	}
	if !fresh {
		s.log.Debugf("stale node announcement from %s", f.From)
	}
}

func errFrame(msg string) *Frame {
	return &Frame{Type: MsgErr, Error: msg}
}
