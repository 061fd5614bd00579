package cob

import "sort"

// Comment is one entry in a COB's comment thread.
type Comment struct {
	ID      string `json:"id"`
	Author  string `json:"author"`
	Body    string `json:"body"`
	ReplyTo string `json:"replyTo,omitempty"`
	Time    string `json:"time"`
}

// Review is a verdict on a specific patch revision.
type Review struct {
	ID          string `json:"id"`
	Author      string `json:"author"`
	Verdict     string `json:"verdict"`
	RevisionRef string `json:"revisionRef"`
	Time        string `json:"time"`
}

// Revision is one proposed head of a patch.
type Revision struct {
	ID      string   `json:"id"`
	Author  string   `json:"author"`
	Head    string   `json:"head"`
	Base    string   `json:"base,omitempty"`
	Time    string   `json:"time"`
	Reviews []Review `json:"reviews,omitempty"`
}

// State is the materialized view of a COB: a pure, deterministic function of
// the verified operation set. It is a cache, never the source of truth.
// Two peers holding the same operations always compute an identical State.
type State struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	Assignees   []string   `json:"assignees,omitempty"`
	Labels      []string   `json:"labels,omitempty"`
	Comments    []Comment  `json:"comments,omitempty"`
	Revisions   []Revision `json:"revisions,omitempty"`

	// Stale lists operations admitted for auditability but excluded from
	// the view (status or revision changes after a terminal patch status).
	Stale []string `json:"stale,omitempty"`
}

// CurrentRevision returns the patch's latest revision, or nil.
func (s *State) CurrentRevision() *Revision {
	if len(s.Revisions) == 0 {
		return nil
	}
	return &s.Revisions[len(s.Revisions)-1]
}

// terminal reports whether a patch status admits no further changes.
func terminalPatchStatus(status string) bool {
	return status == StatusMerged || status == StatusClosed
}

// Materialize folds the log's operations, in the canonical total order, into
// a State. Set fields (assignees, labels) merge adds and removes in fold
// order; title, description and status are last-writer-wins; comments and
// revisions are append-only sequences keyed by operation id.
func (l *Log) Materialize() (*State, error) {
	ops := l.Operations()
	if len(ops) == 0 {
		return nil, ErrUnknownObject
	}

	s := &State{Status: StatusOpen}
	assignees := map[string]bool{}
	labels := map[string]bool{}
	revisionIdx := map[string]int{}

	for _, op := range ops {
		a := op.Action
		switch a.Type {
		case ActionCreate:
			s.ID = op.ID
			s.Kind = a.Kind
			s.Title = a.Title
			s.Description = a.Description

		case ActionComment:
			s.Comments = append(s.Comments, Comment{
				ID:      op.ID,
				Author:  op.Author,
				Body:    a.Body,
				ReplyTo: a.ReplyTo,
				Time:    op.Time,
			})

		case ActionAssign:
			for _, did := range a.Identities {
				assignees[did] = true
			}

		case ActionUnassign:
			for _, did := range a.Identities {
				delete(assignees, did)
			}

		case ActionLabel:
			for _, lb := range a.Add {
				labels[lb] = true
			}
			for _, lb := range a.Remove {
				delete(labels, lb)
			}

		case ActionEdit:
			if a.Title != "" {
				s.Title = a.Title
			}
			if a.Description != "" {
				s.Description = a.Description
			}

		case ActionStatus:
			// Append refuses these locally, but a remote peer can sign one;
			// admit it to the log, keep it out of the view.
			if s.Kind == KindIssue && a.Status == StatusMerged {
				s.Stale = append(s.Stale, op.ID)
				continue
			}
			if s.Kind == KindPatch && terminalPatchStatus(s.Status) {
				s.Stale = append(s.Stale, op.ID)
				continue
			}
			s.Status = a.Status

		case ActionRevision:
			if s.Kind != KindPatch {
				s.Stale = append(s.Stale, op.ID)
				continue
			}
			if terminalPatchStatus(s.Status) {
				s.Stale = append(s.Stale, op.ID)
				continue
			}
			revisionIdx[op.ID] = len(s.Revisions)
			s.Revisions = append(s.Revisions, Revision{
				ID:     op.ID,
				Author: op.Author,
				Head:   a.Head,
				Base:   a.Base,
				Time:   op.Time,
			})

		case ActionReview:
			idx, ok := revisionIdx[a.RevisionRef]
			if !ok {
				s.Stale = append(s.Stale, op.ID)
				continue
			}
			s.Revisions[idx].Reviews = append(s.Revisions[idx].Reviews, Review{
				ID:          op.ID,
				Author:      op.Author,
				Verdict:     a.Verdict,
				RevisionRef: a.RevisionRef,
				Time:        op.Time,
			})
		}
	}

	s.Assignees = sortedKeys(assignees)
	s.Labels = sortedKeys(labels)
	return s, nil
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
