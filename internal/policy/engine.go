// Package policy classifies tool calls into risk tiers.
package policy

import (
	"errors"
	"fmt"
	"strings"
)

// ErrClassificationGap marks a tool or sub-operation with no risk mapping.
// Classify still returns Dangerous alongside it.
var ErrClassificationGap = errors.New("classification gap")

// Rule maps one tool to a tier. When OpField is set the tier is looked up in
// Ops using the string value of that argument, and Tier is ignored.
type Rule struct {
	Tier    Tier            `yaml:"tier"`
	OpField string          `yaml:"op_field,omitempty"`
	Ops     map[string]Tier `yaml:"ops,omitempty"`
}

// Engine classifies a tool call.
type Engine interface {
	Classify(tool string, args map[string]any) (Tier, error)
}

// Classifier is a static per-tool rule table. It is immutable once built, so
// Classify is safe for concurrent use and deterministic.
type Classifier struct {
	rules map[string]Rule
}

// NewClassifier builds a classifier from the given rules. The map is copied.
func NewClassifier(rules map[string]Rule) *Classifier {
	c := &Classifier{rules: make(map[string]Rule, len(rules))}
	for name, r := range rules {
		c.rules[name] = cloneRule(r)
	}
	return c
}

// NewDefaultClassifier returns a classifier over DefaultRules.
func NewDefaultClassifier() *Classifier {
	return NewClassifier(DefaultRules())
}

// Classify returns the tier for a call. Unknown tools and unmapped
// sub-operations return Dangerous with an error wrapping ErrClassificationGap.
func (c *Classifier) Classify(tool string, args map[string]any) (Tier, error) {
	rule, ok := c.rules[tool]
	if !ok {
		return Dangerous, fmt.Errorf("%w: unknown tool %q", ErrClassificationGap, tool)
	}
	if rule.OpField == "" {
		return rule.Tier, nil
	}
	raw, _ := args[rule.OpField].(string)
	op := strings.ToLower(strings.TrimSpace(raw))
	if op == "" {
		return Dangerous, fmt.Errorf("%w: %s: missing %q", ErrClassificationGap, tool, rule.OpField)
	}
	tier, ok := rule.Ops[op]
	if !ok {
		return Dangerous, fmt.Errorf("%w: %s: unmapped %s %q", ErrClassificationGap, tool, rule.OpField, op)
	}
	return tier, nil
}

// Known reports whether the classifier has a rule for tool.
func (c *Classifier) Known(tool string) bool {
	_, ok := c.rules[tool]
	return ok
}

// Rules returns a copy of the rule table.
func (c *Classifier) Rules() map[string]Rule {
	out := make(map[string]Rule, len(c.rules))
	for name, r := range c.rules {
		out[name] = cloneRule(r)
	}
	return out
}

// With returns a new classifier with overrides merged over this one. Op
// tables are merged per key; a tier-only override replaces the rule. Only
// tools already in the table can be overridden, so a gap stays a gap.
func (c *Classifier) With(overrides map[string]Rule) (*Classifier, error) {
	merged := c.Rules()
	for name, o := range overrides {
		base, ok := merged[name]
		if !ok {
			return nil, fmt.Errorf("override for unknown tool %q", name)
		}
		switch {
		case len(o.Ops) == 0:
			merged[name] = Rule{Tier: o.Tier}
		case base.OpField != "" && (o.OpField == "" || o.OpField == base.OpField):
			for op, tier := range o.Ops {
				base.Ops[strings.ToLower(op)] = tier
			}
			merged[name] = base
		case o.OpField == "":
			return nil, fmt.Errorf("override for %q: ops need an op_field", name)
		default:
			merged[name] = cloneRule(o)
		}
	}
	return &Classifier{rules: merged}, nil
}

func cloneRule(r Rule) Rule {
	out := Rule{Tier: r.Tier, OpField: r.OpField}
	if r.Ops != nil || r.OpField != "" {
		out.Ops = make(map[string]Tier, len(r.Ops))
		for op, t := range r.Ops {
			out.Ops[strings.ToLower(op)] = t
		}
	}
	return out
}
