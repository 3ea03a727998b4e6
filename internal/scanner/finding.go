package scanner

import (
	"fmt"
	"sort"
)

// Severity of a finding
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityBlock
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityBlock:
		return "block"
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// MarshalText encodes the severity by name
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name
func (s *Severity) UnmarshalText(text []byte) error {
	switch string(text) {
	case "info":
		*s = SeverityInfo
	case "warning":
		*s = SeverityWarning
	case "block":
		*s = SeverityBlock
	default:
		return fmt.Errorf("unknown severity %q", text)
	}
	return nil
}

// Rule identifiers
const (
	RuleSourceTooLarge   = "SourceTooLarge"
	RuleSyntaxInvalid    = "SyntaxInvalid"
	RuleDynamicEval      = "DynamicEval"
	RuleDynamicImport    = "DynamicImport"
	RuleDeniedImport     = "DeniedImport"
	RuleUnknownImport    = "UnknownImport"
	RulePrivateAttribute = "PrivateAttribute"
	RuleDangerousCall    = "DangerousCall"
	RuleReflection       = "Reflection"
	RuleHostCommand      = "HostCommand"
)

// Finding is one static-analysis detection
type Finding struct {
	RuleID   string   `json:"rule_id" yaml:"rule_id"`
	Severity Severity `json:"severity" yaml:"severity"`
	Line     int      `json:"line" yaml:"line"`
	Column   int      `json:"column" yaml:"column"`
	Message  string   `json:"message" yaml:"message"`
}

func (f Finding) String() string {
	return fmt.Sprintf("%d:%d: %s [%s] %s", f.Line, f.Column, f.Severity, f.RuleID, f.Message)
}

// Outcome is the verdict of one scan
type Outcome struct {
	Accepted       bool      `json:"accepted" yaml:"accepted"`
	Findings       []Finding `json:"findings" yaml:"findings"`
	RejectedReason string    `json:"rejected_reason,omitempty" yaml:"rejected_reason,omitempty"`
}

// Blocking returns the block-severity findings
func (o Outcome) Blocking() []Finding {
	var out []Finding
	for _, f := range o.Findings {
		if f.Severity == SeverityBlock {
			out = append(out, f)
		}
	}
	return out
}

// Warnings returns the warning-severity findings
func (o Outcome) Warnings() []Finding {
	var out []Finding
	for _, f := range o.Findings {
		if f.Severity == SeverityWarning {
			out = append(out, f)
		}
	}
	return out
}

func (o Outcome) clone() Outcome {
	cp := o
	cp.Findings = append([]Finding(nil), o.Findings...)
	return cp
}

// newOutcome sorts findings by position and derives the verdict
func newOutcome(findings []Finding) Outcome {
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Line != findings[j].Line {
			return findings[i].Line < findings[j].Line
		}
		return findings[i].Column < findings[j].Column
	})

	out := Outcome{Accepted: true, Findings: findings}
	for _, f := range findings {
		if f.Severity == SeverityBlock {
			out.Accepted = false
			out.RejectedReason = f.RuleID + ": " + f.Message
			break
		}
	}
	return out
}
