package rules

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidRule = errors.New("invalid rule")

// Match is the set of optional predicates a rule tests. A nil predicate is
// not specified; a non-nil predicate must hold for the rule to match.
type Match struct {
	Task     *string `json:"task,omitempty" yaml:"task,omitempty" mapstructure:"task"`
	Mime     *string `json:"mime,omitempty" yaml:"mime,omitempty" mapstructure:"mime"`
	Contains *string `json:"contains,omitempty" yaml:"contains,omitempty" mapstructure:"contains"`
}

// Rule maps a Match to a provider/model override.
type Rule struct {
	Match    Match  `json:"match" yaml:"match" mapstructure:"match"`
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty" mapstructure:"provider"`
	Model    string `json:"model,omitempty" yaml:"model,omitempty" mapstructure:"model"`
}

// Descriptor is what rules are evaluated against.
type Descriptor struct {
	Query string
	Task  string
	Mime  string
}

// Decision is the outcome of Choose. Empty fields mean "use the default".
type Decision struct {
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

func (d Decision) IsZero() bool {
	return d.Provider == "" && d.Model == ""
}

// Validate rejects rules that could never match or that override nothing.
func (r Rule) Validate() error {
	if r.Match.Task == nil && r.Match.Mime == nil && r.Match.Contains == nil {
		return fmt.Errorf("%w: match must specify at least one of task, mime, contains", ErrInvalidRule)
	}
	if r.Provider == "" && r.Model == "" {
		return fmt.Errorf("%w: rule must set provider or model", ErrInvalidRule)
	}
	return nil
}

// compiled holds a rule with its contains predicate pre-folded.
type compiled struct {
	rule     Rule
	contains string
}

// Engine evaluates rules in list order; the first satisfied rule wins.
// It is immutable after New and safe for concurrent use.
type Engine struct {
	rules []compiled
}

// New validates and loads rules. Order is preserved and significant.
func New(rules []Rule) (*Engine, error) {
	e := &Engine{rules: make([]compiled, 0, len(rules))}
	for i, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		c := compiled{rule: r}
		if r.Match.Contains != nil {
			c.contains = strings.ToLower(*r.Match.Contains)
		}
		e.rules = append(e.rules, c)
	}
	return e, nil
}

// Len returns the number of loaded rules.
func (e *Engine) Len() int {
	return len(e.rules)
}

// Choose returns the override of the first matching rule, or a zero Decision.
func (e *Engine) Choose(d Descriptor) Decision {
	var query string
	folded := false

	for _, c := range e.rules {
		m := c.rule.Match

		// an absent descriptor field never satisfies a present predicate
		if m.Task != nil && (d.Task == "" || d.Task != *m.Task) {
			continue
		}
		if m.Mime != nil && (d.Mime == "" || d.Mime != *m.Mime) {
			continue
		}
		if m.Contains != nil {
			if !folded {
				query = strings.ToLower(d.Query)
				folded = true
			}
			if !strings.Contains(query, c.contains) {
				continue
			}
		}

		return Decision{Provider: c.rule.Provider, Model: c.rule.Model}
	}

	return Decision{}
}
