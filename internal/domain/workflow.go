package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// Node is a single step of a Workflow's DAG. Config is an opaque mapping
// interpreted by whichever handler Kind resolves to in the registry.
type Node struct {
	ID       string                 `json:"id"`
	Kind     BlockKind              `json:"kind"`
	Name     string                 `json:"name,omitempty"`
	Config   map[string]any         `json:"config"`
	Data     map[string]any         `json:"data,omitempty"`
	Position map[string]float64     `json:"position,omitempty"`
}

// Edge connects two nodes. A conditional edge's Config carries a
// "condition" expression evaluated by the engine's condition evaluator
// against the outputs of every completed node, keyed by node id, before
// the edge is traversed.
type Edge struct {
	Source string         `json:"source"`
	Target string         `json:"target"`
	Kind   EdgeKind       `json:"kind,omitempty"`
	Config map[string]any `json:"config,omitempty"`
}

// Condition returns the edge's condition expression, if any.
func (e Edge) Condition() (string, bool) {
	if e.Kind != EdgeKindConditional {
		return "", false
	}
	raw, ok := e.Config["condition"]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok
}

// Workflow is a DAG of Nodes connected by Edges, owned by a single user.
type Workflow struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"userId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Nodes       []Node    `json:"nodes"`
	Edges       []Edge    `json:"edges"`
}

// NodeByID returns the node with the given id, if present.
func (w *Workflow) NodeByID(id string) (Node, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// OutgoingEdges returns all edges whose source is nodeID.
func (w *Workflow) OutgoingEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range w.Edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// IncomingEdges returns all edges whose target is nodeID.
func (w *Workflow) IncomingEdges(nodeID string) []Edge {
	var in []Edge
	for _, e := range w.Edges {
		if e.Target == nodeID {
			in = append(in, e)
		}
	}
	return in
}

// Validate checks structural invariants: every edge must reference nodes
// that exist, and node ids must be unique. Cycle detection is the graph
// builder's job (internal/engine), not the document's.
func (w *Workflow) Validate() error {
	seen := make(map[string]bool, len(w.Nodes))
	for _, n := range w.Nodes {
		if n.ID == "" {
			return NewDomainError(ErrCodeValidationFailed, "node missing id", nil)
		}
		if seen[n.ID] {
			return NewDomainError(ErrCodeValidationFailed, fmt.Sprintf("duplicate node id %q", n.ID), nil)
		}
		seen[n.ID] = true
	}
	for _, e := range w.Edges {
		if !seen[e.Source] {
			return NewDomainError(ErrCodeValidationFailed, fmt.Sprintf("edge references unknown source %q", e.Source), nil)
		}
		if !seen[e.Target] {
			return NewDomainError(ErrCodeValidationFailed, fmt.Sprintf("edge references unknown target %q", e.Target), nil)
		}
	}
	return nil
}
