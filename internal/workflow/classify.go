package workflow

import (
	"fmt"
	"strings"
)

const (
	ClassTextEncode = "CLIPTextEncode"
	ClassKSampler   = "KSampler"
)

// RoleRule maps a node class_type to a role and the input field it owns
type RoleRule struct {
	Role  Role
	Field string
	// RequireField limits the rule to nodes that already carry Field in inputs
	RequireField bool
}

// Classifier assigns roles to nodes by class_type
type Classifier struct {
	rules map[string]RoleRule
}

// DefaultClassifier knows the stock text-encode and sampler nodes
func DefaultClassifier() *Classifier {
	return &Classifier{rules: map[string]RoleRule{
		ClassTextEncode: {Role: RoleTextInput, Field: "text", RequireField: true},
		ClassKSampler:   {Role: RoleSeedSource, Field: "seed"},
	}}
}

// NewClassifier returns the default classifier extended with extra rules.
// Extra rules override defaults for the same class_type.
func NewClassifier(extra map[string]RoleRule) *Classifier {
	c := DefaultClassifier()
	for class, rule := range extra {
		c.rules[class] = rule
	}
	return c
}

// ParseRoleRule builds a rule from its configuration form ("text" or "seed")
func ParseRoleRule(role, field string) (RoleRule, error) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "text", "text_input":
		if field == "" {
			field = "text"
		}
		return RoleRule{Role: RoleTextInput, Field: field, RequireField: true}, nil
	case "seed", "seed_source":
		if field == "" {
			field = "seed"
		}
		return RoleRule{Role: RoleSeedSource, Field: field}, nil
	}
	return RoleRule{}, fmt.Errorf("unknown node role %q (want text or seed)", role)
}

// Classify sets n.Role and n.Field
func (c *Classifier) Classify(n *Node) {
	n.Role = RoleOpaque
	n.Field = ""

	rule, ok := c.rules[n.ClassType]
	if !ok || n.Inputs() == nil {
		return
	}
	if rule.RequireField {
		if _, has := n.Input(rule.Field); !has {
			return
		}
	}
	n.Role = rule.Role
	n.Field = rule.Field
}
