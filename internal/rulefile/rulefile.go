// Package rulefile loads and validates YAML rule packs: portable bundles of
// logic scripts used to seed a tenant or move rules between environments.
//
// A pack is authoring input, not storage: importing assigns fresh ids and
// timestamps, so the same pack can seed many tenants.
package rulefile

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tollgate-dev/tollgate/internal/rules"
)

// Pack is one rule-pack file.
type Pack struct {
	Version     string       `yaml:"version"`
	Description string       `yaml:"description,omitempty"`
	Scripts     []PackScript `yaml:"scripts"`
}

// PackScript is one script entry in a pack.
type PackScript struct {
	Trigger     string `yaml:"trigger"`
	Expression  string `yaml:"expression"`
	Description string `yaml:"description,omitempty"`
	Sequence    int    `yaml:"sequence"`
	Active      *bool  `yaml:"active,omitempty"`
	Prompt      string `yaml:"prompt,omitempty"`
}

// IsActive applies the default: a pack entry is active unless it says not.
func (p PackScript) IsActive() bool {
	return p.Active == nil || *p.Active
}

// Severity of a validation issue.
type Severity string

const (
	// SeverityError blocks an import.
	SeverityError Severity = "error"
	// SeverityWarning is reported but does not block.
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding, positioned by script index within the pack.
type Issue struct {
	Index    int
	Severity Severity
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("scripts[%d]: %s: %s", i.Index, i.Severity, i.Message)
}

// Load reads and parses a pack file.
func Load(path string) (*Pack, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load rule pack: %w", err)
	}
	return Parse(raw)
}

// Parse parses pack bytes. Unknown fields are rejected so a typoed key is a
// parse error rather than a silently dropped rule attribute.
func Parse(raw []byte) (*Pack, error) {
	var pack Pack
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&pack); err != nil {
		return nil, fmt.Errorf("parse rule pack: %w", err)
	}
	return &pack, nil
}

// CheckFunc compile-checks an expression for a trigger. Wired to
// engine.Engine.Check; nil skips compile checking.
type CheckFunc func(tp rules.TriggerPoint, expr string) error

// Validate reports issues across the pack.
//
// Blocking: unknown trigger, empty expression, an expression that fails to
// compile. Warning: duplicate (trigger, sequence) pairs - the store permits
// them and evaluation order falls back to creation order, but the author
// probably did not mean it.
func (p *Pack) Validate(check CheckFunc) []Issue {
	var issues []Issue
	seen := map[string]int{}

	if len(p.Scripts) == 0 {
		issues = append(issues, Issue{Index: -1, Severity: SeverityError, Message: "pack contains no scripts"})
		return issues
	}

	for i, ps := range p.Scripts {
		tp, err := rules.ParseTriggerPoint(ps.Trigger)
		if err != nil {
			issues = append(issues, Issue{Index: i, Severity: SeverityError, Message: err.Error()})
			continue
		}

		if ps.Expression == "" {
			issues = append(issues, Issue{Index: i, Severity: SeverityError, Message: "empty expression"})
			continue
		}

		if check != nil {
			if err := check(tp, ps.Expression); err != nil {
				issues = append(issues, Issue{Index: i, Severity: SeverityError, Message: err.Error()})
			}
		}

		key := fmt.Sprintf("%s/%d", ps.Trigger, ps.Sequence)
		if prev, dup := seen[key]; dup {
			issues = append(issues, Issue{
				Index:    i,
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("duplicate sequence %d for trigger %s (also scripts[%d]); evaluation order will fall back to creation order", ps.Sequence, ps.Trigger, prev),
			})
		} else {
			seen[key] = i
		}
	}

	return issues
}

// HasBlocking reports whether any issue is an error.
func HasBlocking(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// IssuesError folds issues into a single error for callers that want one.
func IssuesError(issues []Issue) error {
	msgs := make([]string, 0, len(issues))
	for _, i := range issues {
		if i.Severity == SeverityError {
			msgs = append(msgs, i.String())
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return errors.New(strings.Join(msgs, "; "))
}
