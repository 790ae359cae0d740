package evaluator

import (
	"fmt"
	"sort"

	"github.com/ClearPath-Edu/articulate/core/pkg/equivalency"
	"github.com/ClearPath-Edu/articulate/core/pkg/model"
	"github.com/ClearPath-Edu/articulate/core/pkg/rulegraph"
	"github.com/ClearPath-Edu/articulate/core/pkg/validation"
)

// Outcome is the evaluator's verdict for one student against one rule set.
type Outcome struct {
	PerRule              map[string]bool    `json:"per_rule"`
	Overall              bool               `json:"overall"`
	CompletionPercentage float64            `json:"completion_percentage"`
	CreditsApplied       float64            `json:"credits_applied"`
	EvaluatedOrder       []string           `json:"evaluated_order"`
	Issues               []validation.Issue `json:"issues,omitempty"`
}

// Evaluator walks rules in topological order and applies threshold checks.
type Evaluator struct {
	registry *Registry
}

// New creates an evaluator with the built-in criteria registry.
func New() *Evaluator {
	return &Evaluator{registry: NewRegistry()}
}

// Registry exposes the criteria registry for extension.
func (e *Evaluator) Registry() *Registry { return e.registry }

// Evaluate assumes the alternatives graph is acyclic; that is guaranteed
// by the admission gate for any published version. Rules are visited
// leaves first, so by the time a rule is considered every alternative it
// references already has a verdict — OR semantics need no re-traversal.
func (e *Evaluator) Evaluate(rules *model.RequirementRules, res *equivalency.Resolution, academic model.AcademicInfo) *Outcome {
	g := rulegraph.Build(rules.Rules)
	order := g.TopoOrder()

	byID := make(map[string]model.RequirementRule, len(rules.Rules))
	for _, r := range rules.Rules {
		if _, dup := byID[r.ID]; !dup {
			byID[r.ID] = r
		}
	}

	out := &Outcome{
		PerRule:        make(map[string]bool, len(order)),
		EvaluatedOrder: order,
	}
	ctx := &Context{Resolution: res, GPA: academic.GPA, TotalUnits: academic.TotalUnits}
	ruleCredits := make(map[string]float64, len(order))
	ruleTargets := make(map[string][]string, len(order))
	satisfiedVia := make(map[string]string)

	for _, id := range order {
		rule := byID[id]
		ctx.RuleID = id

		direct, credits, targets := e.ruleDirect(rule, ctx, out)
		ruleCredits[id] = credits
		ruleTargets[id] = targets

		satisfied := direct
		if !satisfied {
			for _, alt := range rule.Alternatives {
				if out.PerRule[alt] {
					satisfied = true
					satisfiedVia[id] = alt
					out.Issues = append(out.Issues, validation.Info(validation.CodeSatisfiedViaAlternative, id,
						fmt.Sprintf("rule %s satisfied via alternative rule %s", id, alt)))
					break
				}
			}
		}
		out.PerRule[id] = satisfied

		if rule.Required && !satisfied {
			out.Issues = append(out.Issues, validation.Error(validation.CodeRuleNotSatisfied, id,
				fmt.Sprintf("required rule %s is not satisfied", id)))
		}
	}

	out.CreditsApplied = e.appliedCredits(res, out, ruleTargets, satisfiedVia, byID)
	if out.CreditsApplied < rules.TotalCredits {
		out.Issues = append(out.Issues, validation.Error(validation.CodeInvalidCredits, "total_credits",
			fmt.Sprintf("applied credits %g below required total %g", out.CreditsApplied, rules.TotalCredits)))
	}

	gpaOK := e.checkGPA(rules, academic, out)

	satisfiedCount := 0
	for _, ok := range out.PerRule {
		if ok {
			satisfiedCount++
		}
	}
	if len(out.PerRule) == 0 {
		out.CompletionPercentage = 100
	} else {
		out.CompletionPercentage = 100 * float64(satisfiedCount) / float64(len(out.PerRule))
	}

	requiredOK := true
	for _, r := range byID {
		if r.Required && !out.PerRule[r.ID] {
			requiredOK = false
			break
		}
	}
	out.Overall = requiredOK && gpaOK && out.CreditsApplied >= rules.TotalCredits
	return out
}

// ruleDirect evaluates a rule's own criteria, conjunctively across
// recognized keys. A rule with no recognized criteria is only satisfiable
// through its alternatives.
func (e *Evaluator) ruleDirect(rule model.RequirementRule, ctx *Context, out *Outcome) (bool, float64, []string) {
	keys := make([]string, 0, len(rule.Criteria))
	for k := range rule.Criteria {
		if _, ok := e.registry.For(k); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return false, 0, nil
	}

	satisfied := true
	var credits float64
	targetSet := map[string]bool{}
	for _, key := range keys {
		crit, _ := e.registry.For(key)
		cr, err := crit.Evaluate(rule.Criteria, ctx)
		if err != nil {
			out.Issues = append(out.Issues, validation.Error(validation.CodeValidationError, rule.ID, err.Error()))
			return false, 0, nil
		}
		satisfied = satisfied && cr.Satisfied
		if cr.Credits > credits {
			credits = cr.Credits
		}
		for _, t := range cr.MatchedTargets {
			targetSet[t] = true
		}
	}

	if rule.MinCredits != nil && credits < *rule.MinCredits {
		satisfied = false
	}
	if rule.MaxCredits != nil && credits > *rule.MaxCredits {
		credits = *rule.MaxCredits
	}

	targets := make([]string, 0, len(targetSet))
	for t := range targetSet {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	return satisfied, credits, targets
}

// appliedCredits sums the resolved credit values of courses that satisfy
// required rules, deduplicated by target code so two rules naming the
// same course never double-count it. A rule satisfied through an
// alternative carries the alternative's matched courses, following the
// alternative chain until a rule that matched directly. A rule set with
// no rules falls back to the total resolved credits, which keeps
// threshold-only requirements (equivalencies plus totals, no rule graph)
// evaluable.
func (e *Evaluator) appliedCredits(res *equivalency.Resolution, out *Outcome, ruleTargets map[string][]string, satisfiedVia map[string]string, byID map[string]model.RequirementRule) float64 {
	if len(byID) == 0 {
		var total float64
		for target := range res.Matches {
			total += completedCredits(res, target)
		}
		return total
	}

	counted := map[string]bool{}
	countRule := func(id string) {
		for seen := map[string]bool{}; !seen[id]; {
			seen[id] = true
			for _, t := range ruleTargets[id] {
				counted[t] = true
			}
			alt, ok := satisfiedVia[id]
			if !ok {
				break
			}
			id = alt
		}
	}
	anyRequired := false
	for id, rule := range byID {
		if !rule.Required {
			continue
		}
		anyRequired = true
		if !out.PerRule[id] {
			continue
		}
		countRule(id)
	}
	if !anyRequired {
		// No required rules: every satisfied rule's courses count.
		for id := range byID {
			if out.PerRule[id] {
				countRule(id)
			}
		}
	}

	var total float64
	for t := range counted {
		total += completedCredits(res, t)
	}
	return total
}

func (e *Evaluator) checkGPA(rules *model.RequirementRules, academic model.AcademicInfo, out *Outcome) bool {
	if rules.MinimumGPA == nil {
		return true
	}
	if academic.GPA == nil {
		out.Issues = append(out.Issues, validation.Error(validation.CodeDataIncomplete, "minimum_gpa",
			"rule set requires a minimum GPA but no student GPA was supplied"))
		return false
	}
	if *academic.GPA < *rules.MinimumGPA {
		out.Issues = append(out.Issues, validation.Error(validation.CodeInvalidGPA, "minimum_gpa",
			fmt.Sprintf("student GPA %.2f below required minimum %.2f", *academic.GPA, *rules.MinimumGPA)))
		return false
	}
	return true
}
