package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type overridesFile struct {
	Tools map[string]*overrideRule `yaml:"tools"`
}

// overrideRule keeps pointers so an absent tier is distinguishable from safe.
type overrideRule struct {
	Tier    *Tier            `yaml:"tier"`
	OpField string           `yaml:"op_field"`
	Ops     map[string]*Tier `yaml:"ops"`
}

// UnmarshalYAML decodes a tier name.
func (t *Tier) UnmarshalYAML(node *yaml.Node) error {
	return t.UnmarshalText([]byte(node.Value))
}

// LoadOverrides reads a YAML rule table:
//
//	tools:
//	  device_command:
//	    op_field: command
//	    ops:
//	      restart: critical
//	  set_wlan_enabled:
//	    tier: critical
func LoadOverrides(path string) (map[string]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy overrides: %w", err)
	}
	return ParseOverrides(data)
}

// ParseOverrides decodes a YAML rule table. Unknown keys are rejected, and
// every entry must name a tier or a non-empty op table.
func ParseOverrides(data []byte) (map[string]Rule, error) {
	var f overridesFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse policy overrides: %w", err)
	}

	names := make([]string, 0, len(f.Tools))
	for name := range f.Tools {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]Rule, len(f.Tools))
	for _, name := range names {
		rule, err := f.Tools[name].rule()
		if err != nil {
			return nil, fmt.Errorf("parse policy overrides: %s: %w", name, err)
		}
		out[name] = rule
	}
	return out, nil
}

func (o *overrideRule) rule() (Rule, error) {
	if o == nil {
		return Rule{}, errors.New("empty rule")
	}
	switch {
	case o.Tier != nil && (o.OpField != "" || len(o.Ops) > 0):
		return Rule{}, errors.New("tier and ops are exclusive")
	case o.Tier != nil:
		return Rule{Tier: *o.Tier}, nil
	case len(o.Ops) == 0:
		return Rule{}, errors.New("rule needs a tier or ops")
	}
	r := Rule{OpField: o.OpField, Ops: make(map[string]Tier, len(o.Ops))}
	for op, t := range o.Ops {
		if t == nil {
			return Rule{}, fmt.Errorf("op %q has no tier", op)
		}
		r.Ops[strings.ToLower(op)] = *t
	}
	return r, nil
}
