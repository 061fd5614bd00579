// Package gossip implements the sync protocol: fetching tracked peers'
// refs and operations, announcing local updates, and the observable event
// stream. Peers speak newline-delimited JSON frames over websockets.
package gossip

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/loomvcs/loom/internal/cob"
)

// Frame types.
const (
	MsgHello    = "hello"     // connection handshake: who is calling
	MsgAnnounce = "announce"  // ref update announcement (best-effort push)
	MsgNode     = "node"      // node announcement: alias, addresses
	MsgLsRefs   = "ls-refs"   // request a peer's refs for a repository
	MsgRefs     = "refs"      // response to ls-refs
	MsgWant     = "want"      // request operations by id
	MsgOps      = "ops"       // response to want
	MsgErr      = "error"     // error response
)

// CobHeads is one advertised COB: its kind, id and log tips.
type CobHeads struct {
	Kind string   `json:"kind"`
	ID   string   `json:"id"`
	Tips []string `json:"tips"`
}

// Frame is the single wire envelope. Type selects which fields are
// meaningful; unused fields are omitted.
type Frame struct {
	Type    string `json:"type"`
	Session string `json:"session,omitempty"`
	From    string `json:"from,omitempty"` // sender DID
	RID     string `json:"rid,omitempty"`  // repository id

	// node announcement
	Alias     string   `json:"alias,omitempty"`
	Addresses []string `json:"addresses,omitempty"`
	Timestamp int64    `json:"timestamp,omitempty"` // monotonic, for staleness

	// refs / announce
	Branches map[string]string `json:"branches,omitempty"` // name -> commit hash
	Cobs     []CobHeads        `json:"cobs,omitempty"`

	// want / ops
	Kind  string           `json:"kind,omitempty"`
	CobID string           `json:"cob,omitempty"`
	Want  []string         `json:"want,omitempty"`
	Ops   []*cob.Operation `json:"ops,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

// WriteFrame writes one newline-delimited JSON frame.
func WriteFrame(w io.Writer, f *Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one newline-delimited JSON frame.
func ReadFrame(r *bufio.Reader) (*Frame, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	var f Frame
	if err := json.Unmarshal(line, &f); err != nil {
		return nil, fmt.Errorf("unmarshal frame: %w", err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("frame missing type")
	}
	return &f, nil
}
