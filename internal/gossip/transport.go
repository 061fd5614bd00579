package gossip

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/loomvcs/loom/internal/cob"
)

// Peer is an established connection to a remote node. Implementations must
// be safe for concurrent use; requests on one connection are serialized.
type Peer interface {
	// DID returns the remote node's identity, learned during the handshake.
	DID() string
	// LsRefs requests the peer's advertised refs for a repository.
	LsRefs(ctx context.Context, rid string) (*Frame, error)
	// Want requests operations by id for one COB.
	Want(ctx context.Context, rid, kind, cobID string, want []string) ([]*cob.Operation, error)
	// Announce pushes a ref update announcement. Best-effort: no reply.
	Announce(ctx context.Context, f *Frame) error
	// Close tears the connection down.
	Close() error
}

// Dialer establishes a connection to a peer at the given address.
type Dialer func(ctx context.Context, address string) (Peer, error)

// wsPeer is a websocket-backed Peer. One in-flight request at a time; the
// mutex pairs each request frame with its response frame.
type wsPeer struct {
	conn *websocket.Conn
	did  string
	mu   sync.Mutex
}

// WebsocketDialer returns a Dialer speaking the loom gossip protocol over
// websockets. localDID identifies this node in the handshake.
func WebsocketDialer(localDID string) Dialer {
	return func(ctx context.Context, address string) (Peer, error) {
		u := url.URL{Scheme: "ws", Host: address, Path: "/gossip"}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrPeerUnreachable, address, err)
		}

		p := &wsPeer{conn: conn}
		hello := &Frame{Type: MsgHello, From: localDID}
		reply, err := p.roundTrip(ctx, hello)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: handshake with %s: %v", ErrPeerUnreachable, address, err)
		}
		if reply.Type != MsgHello || reply.From == "" {
			conn.Close()
			return nil, fmt.Errorf("%w: %s sent bad handshake", ErrPeerUnreachable, address)
		}
		p.did = reply.From
		return p, nil
	}
}

func (p *wsPeer) DID() string {
	return p.did
}

// roundTrip sends a frame and reads the response, honoring the context
// deadline. On expiry the request is abandoned; local state is untouched.
func (p *wsPeer) roundTrip(ctx context.Context, f *Frame) (*Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	deadline := time.Now().Add(30 * time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	p.conn.SetWriteDeadline(deadline)
	p.conn.SetReadDeadline(deadline)

	if err := p.conn.WriteJSON(f); err != nil {
		return nil, fmt.Errorf("write %s: %w", f.Type, err)
	}
	var reply Frame
	if err := p.conn.ReadJSON(&reply); err != nil {
		return nil, fmt.Errorf("read reply to %s: %w", f.Type, err)
	}
	if reply.Type == MsgErr {
		return nil, fmt.Errorf("peer error: %s", reply.Error)
	}
	return &reply, nil
}

func (p *wsPeer) LsRefs(ctx context.Context, rid string) (*Frame, error) {
	reply, err := p.roundTrip(ctx, &Frame{
		Type:    MsgLsRefs,
		Session: uuid.NewString(),
		RID:     rid,
	})
	if err != nil {
		return nil, err
	}
	if reply.Type != MsgRefs {
		return nil, fmt.Errorf("unexpected reply %q to ls-refs", reply.Type)
	}
	return reply, nil
}

func (p *wsPeer) Want(ctx context.Context, rid, kind, cobID string, want []string) ([]*cob.Operation, error) {
	reply, err := p.roundTrip(ctx, &Frame{
		Type:    MsgWant,
		Session: uuid.NewString(),
		RID:     rid,
		Kind:    kind,
		CobID:   cobID,
		Want:    want,
	})
	if err != nil {
		return nil, err
	}
	if reply.Type != MsgOps {
		return nil, fmt.Errorf("unexpected reply %q to want", reply.Type)
	}
	return reply.Ops, nil
}

func (p *wsPeer) Announce(ctx context.Context, f *Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	p.conn.SetWriteDeadline(deadline)
	return p.conn.WriteJSON(f)
}

func (p *wsPeer) Close() error {
	return p.conn.Close()
}
