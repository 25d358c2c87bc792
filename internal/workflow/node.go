// Package workflow holds job templates: loading, classification of nodes into
// roles, the registry that maps job types to templates and the materializer
// that turns a template into a submittable job document.
package workflow

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Role is the part a node plays when a template is materialized
type Role int

const (
	RoleOpaque Role = iota
	RoleTextInput
	RoleSeedSource
)

func (r Role) String() string {
	switch r {
	case RoleTextInput:
		return "text_input"
	case RoleSeedSource:
		return "seed_source"
	default:
		return "opaque"
	}
}

// Node is one entry of a template document. The source document body is
// kept as-is so unknown keys (_meta, is_changed, ...) survive a round trip.
type Node struct {
	ID        string
	ClassType string
	Role      Role
	// Field is the input key written for RoleTextInput and RoleSeedSource nodes
	Field string

	body map[string]any // nil when the document value is not an object
	raw  any
}

// Inputs returns the node's inputs mapping, or nil if the node has none
func (n *Node) Inputs() map[string]any {
	if n.body == nil {
		return nil
	}
	inputs, _ := n.body["inputs"].(map[string]any)
	return inputs
}

// Input returns a single input value
func (n *Node) Input(key string) (any, bool) {
	inputs := n.Inputs()
	if inputs == nil {
		return nil, false
	}
	v, ok := inputs[key]
	return v, ok
}

func (n *Node) setInput(key string, value any) {
	inputs := n.Inputs()
	if inputs == nil {
		return
	}
	inputs[key] = value
}

func (n *Node) value() any {
	if n.body != nil {
		return n.body
	}
	return n.raw
}

func (n *Node) clone() *Node {
	c := *n
	if n.body != nil {
		c.body = copyValue(n.body).(map[string]any)
	} else {
		c.raw = copyValue(n.raw)
	}
	return &c
}

// Template is a job template document keyed by node id
type Template struct {
	Name  string
	Nodes map[string]*Node
}

// NewTemplate builds a template from a decoded document, classifying every
// node once. The document is copied; doc is not retained.
func NewTemplate(name string, doc map[string]any, classifier *Classifier) *Template {
	if classifier == nil {
		classifier = DefaultClassifier()
	}
	t := &Template{Name: name, Nodes: make(map[string]*Node, len(doc))}
	for id, v := range doc {
		n := &Node{ID: id}
		if body, ok := v.(map[string]any); ok {
			n.body = copyValue(body).(map[string]any)
			n.ClassType, _ = body["class_type"].(string)
		} else {
			n.raw = copyValue(v)
		}
		classifier.Classify(n)
		t.Nodes[id] = n
	}
	return t
}

// IDs returns node ids in a stable order
func (t *Template) IDs() []string {
	ids := make([]string, 0, len(t.Nodes))
	for id := range t.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NodesWithRole returns the nodes of a given role, ordered by id
func (t *Template) NodesWithRole(role Role) []*Node {
	var nodes []*Node
	for _, id := range t.IDs() {
		if n := t.Nodes[id]; n.Role == role {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// Clone returns a deep copy sharing no mutable state with t
func (t *Template) Clone() *Template {
	c := &Template{Name: t.Name, Nodes: make(map[string]*Node, len(t.Nodes))}
	for id, n := range t.Nodes {
		c.Nodes[id] = n.clone()
	}
	return c
}

// Document returns the template as a plain document mapping
func (t *Template) Document() map[string]any {
	doc := make(map[string]any, len(t.Nodes))
	for id, n := range t.Nodes {
		doc[id] = n.value()
	}
	return doc
}

// MarshalJSON encodes the template in the remote queue's prompt format
func (t *Template) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(t.Document())
	if err != nil {
		return nil, fmt.Errorf("marshal template %s: %w", t.Name, err)
	}
	return data, nil
}

// copyValue deep-copies decoded JSON/YAML values
func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, item := range val {
			m[k] = copyValue(item)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, item := range val {
			s[i] = copyValue(item)
		}
		return s
	default:
		return val
	}
}
