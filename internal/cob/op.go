package cob

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/loomvcs/loom/internal/identity"
	"github.com/loomvcs/loom/internal/storage"
)

// Operation is an immutable, signed, content-addressed unit of change to a
// COB. Its ID is the CID of its canonical encoding minus the ID itself, so
// the identifier covers the signature: tampering with any field, signature
// included, yields a different operation.
type Operation struct {
	ID      string   `json:"id,omitempty"`
	Author  string   `json:"author"`
	Parents []string `json:"parents"`
	Clock   uint64   `json:"clock"`
	Time    string   `json:"time"`
	Action  Action   `json:"action"`
	Sig     string   `json:"sig,omitempty"`
}

// IsRoot reports whether the operation creates its object.
func (op *Operation) IsRoot() bool {
	return len(op.Parents) == 0
}

// asMap renders the operation as a generic map for canonical encoding,
// excluding the ID and optionally the signature.
func (op *Operation) asMap(withSig bool) (map[string]interface{}, error) {
	parents := op.Parents
	if parents == nil {
		parents = []string{}
	}
	action, err := json.Marshal(op.Action)
	if err != nil {
		return nil, err
	}
	var actionRaw interface{}
	if err := json.Unmarshal(action, &actionRaw); err != nil {
		return nil, err
	}

	m := map[string]interface{}{
		"author":  op.Author,
		"parents": parents,
		"clock":   op.Clock,
		"time":    op.Time,
		"action":  actionRaw,
	}
	if withSig {
		m["sig"] = op.Sig
	}
	return m, nil
}

// signingPayload is the canonical JSON covered by the signature: every field
// except id and sig.
func (op *Operation) signingPayload() ([]byte, error) {
	m, err := op.asMap(false)
	if err != nil {
		return nil, fmt.Errorf("signing payload: %w", err)
	}
	return storage.CanonicalJSON(m)
}

// Encode returns the canonical signed bytes of the operation (everything but
// the ID). These are the bytes stored in the object store; the ID is their CID.
func (op *Operation) Encode() ([]byte, error) {
	m, err := op.asMap(true)
	if err != nil {
		return nil, fmt.Errorf("encode operation: %w", err)
	}
	return storage.CanonicalJSON(m)
}

// ComputeID derives the content address of the signed operation.
func (op *Operation) ComputeID() (string, error) {
	data, err := op.Encode()
	if err != nil {
		return "", err
	}
	c, err := storage.ComputeCID(data)
	if err != nil {
		return "", err
	}
	return storage.CIDToFilename(c), nil
}

// DecodeOperation parses the canonical bytes of an operation and stamps its
// derived ID. The signature is not verified here.
func DecodeOperation(data []byte) (*Operation, error) {
	var op Operation
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, fmt.Errorf("unmarshal operation: %w", err)
	}
	c, err := storage.ComputeCID(data)
	if err != nil {
		return nil, err
	}
	op.ID = storage.CIDToFilename(c)
	return &op, nil
}

// NewOperation builds, clocks, and signs an operation authored by id.
// Parent clocks must already be known; clock = 1 + max(parent clocks), or 0
// for a root.
func NewOperation(id *identity.Identity, parents []string, parentClocks []uint64, action Action) (*Operation, error) {
	if err := action.Validate(); err != nil {
		return nil, err
	}

	var clock uint64
	for _, pc := range parentClocks {
		if pc+1 > clock {
			clock = pc + 1
		}
	}

	sorted := append([]string{}, parents...)
	sort.Strings(sorted)

	op := &Operation{
		Author:  id.DID,
		Parents: sorted,
		Clock:   clock,
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Action:  action,
	}

	key, err := id.SigningKey()
	if err != nil {
		return nil, fmt.Errorf("signing key: %w", err)
	}
	payload, err := op.signingPayload()
	if err != nil {
		return nil, err
	}
	op.Sig = base64.StdEncoding.EncodeToString(ed25519.Sign(key, payload))

	op.ID, err = op.ComputeID()
	if err != nil {
		return nil, err
	}
	return op, nil
}

// Verify checks the operation's signature against its claimed author DID
// and that its ID matches its content.
func (op *Operation) Verify() error {
	if op.Sig == "" {
		return fmt.Errorf("%w: missing signature", ErrInvalidSignature)
	}

	pub, err := identity.DecodeDIDKey(op.Author)
	if err != nil {
		return fmt.Errorf("%w: bad author DID: %v", ErrInvalidSignature, err)
	}
	sig, err := base64.StdEncoding.DecodeString(op.Sig)
	if err != nil {
		return fmt.Errorf("%w: undecodable signature", ErrInvalidSignature)
	}
	payload, err := op.signingPayload()
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), payload, sig) {
		return fmt.Errorf("%w: author %s", ErrInvalidSignature, op.Author)
	}

	want, err := op.ComputeID()
	if err != nil {
		return err
	}
	if op.ID != "" && op.ID != want {
		return fmt.Errorf("%w: id %s does not match content", ErrInvalidSignature, op.ID)
	}
	return nil
}
