// Package cob implements collaborative objects: issues and patches
// represented as append-only DAGs of signed, content-addressed operations,
// merged deterministically across peers.
package cob

import "fmt"

// COB kinds.
const (
	KindIssue = "issue"
	KindPatch = "patch"
)

// Action types.
const (
	ActionCreate   = "create"
	ActionEdit     = "edit"
	ActionComment  = "comment"
	ActionAssign   = "assign"
	ActionUnassign = "unassign"
	ActionLabel    = "label"
	ActionStatus   = "status"
	ActionRevision = "revision"
	ActionReview   = "review"
)

// Object statuses.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
	StatusMerged = "merged" // patch only
)

// Review verdicts.
const (
	VerdictAccept = "accept"
	VerdictReject = "reject"
)

// Action is the payload of an operation. Type selects the variant; unused
// fields are omitted from the canonical encoding so that hashes stay stable.
type Action struct {
	Type string `json:"type"`

	// create / edit
	Kind        string `json:"kind,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`

	// comment
	Body    string `json:"body,omitempty"`
	ReplyTo string `json:"replyTo,omitempty"`

	// assign / unassign
	Identities []string `json:"identities,omitempty"`

	// label
	Add    []string `json:"add,omitempty"`
	Remove []string `json:"remove,omitempty"`

	// status
	Status string `json:"status,omitempty"`

	// revision (patch)
	Head string `json:"head,omitempty"`
	Base string `json:"base,omitempty"`

	// review (patch)
	Verdict     string `json:"verdict,omitempty"`
	RevisionRef string `json:"revisionRef,omitempty"`
}

// Validate checks structural well-formedness of an action. It does not
// consult any log state.
func (a Action) Validate() error {
	switch a.Type {
	case ActionCreate:
		if a.Kind != KindIssue && a.Kind != KindPatch {
			return fmt.Errorf("create: unknown kind %q", a.Kind)
		}
		if a.Title == "" {
			return fmt.Errorf("create: empty title")
		}
	case ActionEdit:
		if a.Title == "" && a.Description == "" {
			return fmt.Errorf("edit: nothing to change")
		}
	case ActionComment:
		if a.Body == "" {
			return fmt.Errorf("comment: empty body")
		}
	case ActionAssign, ActionUnassign:
		if len(a.Identities) == 0 {
			return fmt.Errorf("%s: no identities", a.Type)
		}
	case ActionLabel:
		if len(a.Add) == 0 && len(a.Remove) == 0 {
			return fmt.Errorf("label: nothing to add or remove")
		}
	case ActionStatus:
		switch a.Status {
		case StatusOpen, StatusClosed, StatusMerged:
		default:
			return fmt.Errorf("status: unknown status %q", a.Status)
		}
	case ActionRevision:
		if a.Head == "" {
			return fmt.Errorf("revision: empty head")
		}
	case ActionReview:
		if a.Verdict != VerdictAccept && a.Verdict != VerdictReject {
			return fmt.Errorf("review: unknown verdict %q", a.Verdict)
		}
		if a.RevisionRef == "" {
			return fmt.Errorf("review: missing revision reference")
		}
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}
