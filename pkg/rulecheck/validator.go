// Package rulecheck is the admission gate for requirement rule sets. A
// version may only be published when ValidateRuleStructure returns a valid
// result, which lets the evaluator assume the alternatives graph is a DAG.
package rulecheck

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ClearPath-Edu/articulate/core/pkg/model"
	"github.com/ClearPath-Edu/articulate/core/pkg/rulegraph"
	"github.com/ClearPath-Edu/articulate/core/pkg/validation"
)

// ErrNilRules signals programmer misuse: the rule set argument was omitted
// entirely. Business-invalid content never produces this; it is itemized
// in the result instead.
var ErrNilRules = errors.New("rulecheck: nil rule set")

// Validator performs admission-time structural validation.
type Validator struct {
	engineVersion string
}

// New creates a Validator stamping results with the given engine version.
func New(engineVersion string) *Validator {
	return &Validator{engineVersion: engineVersion}
}

// ValidateRuleStructure checks shape, numeric sanity, and acyclicity of a
// rule set. Every violation carries a distinct code; the result is valid
// iff there are zero errors (warnings do not affect validity).
func (v *Validator) ValidateRuleStructure(rules *model.RequirementRules) (*validation.Result, error) {
	if rules == nil {
		return nil, ErrNilRules
	}
	agg := validation.NewAggregator(v.engineVersion)
	v.Check(rules, agg)
	return agg.Result(), nil
}

// Check runs every admission check, accumulating into agg. Split out so
// the evaluation pipeline can reuse the same pass inside a larger result.
func (v *Validator) Check(rules *model.RequirementRules, agg *validation.Aggregator) {
	v.checkTotals(rules, agg)
	v.checkEquivalencies(rules, agg)
	v.checkRuleGraph(rules, agg)
}

func (v *Validator) checkTotals(rules *model.RequirementRules, agg *validation.Aggregator) {
	agg.MarkCheck("total_credits")
	if rules.TotalCredits <= 0 {
		agg.Add(validation.Error(validation.CodeInvalidCredits, "total_credits",
			fmt.Sprintf("total credits must be positive, got %g", rules.TotalCredits)))
	}

	agg.MarkCheck("minimum_gpa")
	if rules.MinimumGPA != nil {
		if gpa := *rules.MinimumGPA; gpa < 0 || gpa > 4 {
			agg.Add(validation.Error(validation.CodeInvalidGPA, "minimum_gpa",
				fmt.Sprintf("minimum GPA must be within [0, 4], got %g", gpa)))
		}
	}
}

func (v *Validator) checkEquivalencies(rules *model.RequirementRules, agg *validation.Aggregator) {
	agg.MarkCheck("duplicate_sources")
	agg.MarkCheck("equivalency_credits")

	seen := make(map[string]bool, len(rules.Equivalencies))
	for _, eq := range rules.Equivalencies {
		if seen[eq.SourceCode] {
			agg.Add(validation.Error(validation.CodeDuplicateCourse, eq.SourceCode,
				fmt.Sprintf("source course %s appears more than once", eq.SourceCode)))
		}
		seen[eq.SourceCode] = true

		if eq.Credits <= 0 {
			agg.Add(validation.Error(validation.CodeInvalidCourseCredits, eq.SourceCode,
				fmt.Sprintf("equivalency %s -> %s has non-positive credits %g", eq.SourceCode, eq.TargetCode, eq.Credits)))
		}
	}
}

func (v *Validator) checkRuleGraph(rules *model.RequirementRules, agg *validation.Aggregator) {
	g := rulegraph.Build(rules.Rules)

	agg.MarkCheck("cycle_detection")
	cycles := g.Cycles()
	rulegraph.SortCycles(cycles)
	for _, cyc := range cycles {
		agg.Add(validation.Error(validation.CodeCircularDependency, cyc[0],
			fmt.Sprintf("rule alternatives form a cycle: %s", strings.Join(cyc, " -> "))))
	}

	agg.MarkCheck("dangling_references")
	dangling := g.Dangling()
	for _, id := range g.RuleIDs() {
		for _, missing := range dangling[id] {
			agg.Add(validation.Warning(validation.CodeDanglingReference, id,
				fmt.Sprintf("rule %s lists alternative %s which does not exist in this rule set", id, missing)))
		}
	}
}
