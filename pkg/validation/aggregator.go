package validation

import (
	"sort"
	"time"
)

// Aggregator collects issues and audit metadata across a validation pass
// and produces one deterministic Result. Issues are stable-sorted by
// (code, field, message) and split by severity, so identical inputs yield
// identical output apart from the ValidatedAt stamp.
type Aggregator struct {
	engineVersion string
	issues        []Issue
	checks        []string
	ruleIDs       []string
	details       map[string]any
}

// NewAggregator creates an aggregator stamped with the engine version.
func NewAggregator(engineVersion string) *Aggregator {
	return &Aggregator{engineVersion: engineVersion}
}

// Add appends issues to the pass.
func (a *Aggregator) Add(issues ...Issue) {
	a.issues = append(a.issues, issues...)
}

// MarkCheck records that a named check ran, once.
func (a *Aggregator) MarkCheck(name string) {
	for _, c := range a.checks {
		if c == name {
			return
		}
	}
	a.checks = append(a.checks, name)
}

// SetRuleIDs records the rule ids actually evaluated.
func (a *Aggregator) SetRuleIDs(ids []string) {
	a.ruleIDs = append([]string(nil), ids...)
	sort.Strings(a.ruleIDs)
}

// SetDetail attaches a keyed detail to the result.
func (a *Aggregator) SetDetail(key string, value any) {
	if a.details == nil {
		a.details = make(map[string]any)
	}
	a.details[key] = value
}

// HasErrors reports whether any error-severity issue was added.
func (a *Aggregator) HasErrors() bool {
	for _, is := range a.issues {
		if is.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Result seals the pass. IsValid is true iff no error-severity issues
// were collected; warnings and infos never affect validity.
func (a *Aggregator) Result() *Result {
	sorted := append([]Issue(nil), a.issues...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Code != sorted[j].Code {
			return sorted[i].Code < sorted[j].Code
		}
		if sorted[i].Field != sorted[j].Field {
			return sorted[i].Field < sorted[j].Field
		}
		return sorted[i].Message < sorted[j].Message
	})

	res := &Result{
		Errors:      []Issue{},
		Warnings:    []Issue{},
		ValidatedAt: time.Now().UTC(),
		Details:     a.details,
		Metadata: Metadata{
			EngineVersion:    a.engineVersion,
			ChecksRun:        append([]string(nil), a.checks...),
			RuleIDsEvaluated: a.ruleIDs,
		},
	}
	if res.Metadata.ChecksRun == nil {
		res.Metadata.ChecksRun = []string{}
	}
	for _, is := range sorted {
		switch is.Severity {
		case SeverityError:
			res.Errors = append(res.Errors, is)
		case SeverityWarning:
			res.Warnings = append(res.Warnings, is)
		default:
			res.Infos = append(res.Infos, is)
		}
	}
	res.IsValid = len(res.Errors) == 0
	return res
}
