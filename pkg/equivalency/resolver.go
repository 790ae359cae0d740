// Package equivalency maps a student's source-institution courses onto
// target-institution course codes through a version-scoped equivalency
// table with effective/expiration windows.
package equivalency

import (
	"fmt"
	"sort"
	"time"

	"github.com/ClearPath-Edu/articulate/core/pkg/model"
	"github.com/ClearPath-Edu/articulate/core/pkg/validation"
)

// ResolvedCourse is one student course credited against a target code.
type ResolvedCourse struct {
	SourceCourse    model.StudentCourseRecord `json:"source_course"`
	ResolvedCredits float64                   `json:"resolved_credits"`
}

// Resolution is the outcome of a resolve pass: target code to the student
// courses that satisfy it, plus the source codes nothing matched.
type Resolution struct {
	Matches    map[string][]ResolvedCourse `json:"matches"`
	Unresolved []string                    `json:"unresolved,omitempty"`
}

// Credits sums the resolved credits for a target code.
func (r *Resolution) Credits(targetCode string) float64 {
	var total float64
	for _, rc := range r.Matches[targetCode] {
		total += rc.ResolvedCredits
	}
	return total
}

// Resolve matches each student course against the equivalency entries
// whose source code matches and whose validity window contains asOf.
//
// When several entries map the same source onto the same target, the most
// recently effective entry wins. This precedence is a documented default,
// not a confirmed product decision; an exact effective-date tie with
// differing credit values is reported as CONFLICTING_EQUIVALENCY instead
// of silently picking one. A course matching no entry produces an
// UNRESOLVED_COURSE warning and processing continues.
func Resolve(courses []model.StudentCourseRecord, eqs []model.CourseEquivalency, asOf time.Time) (*Resolution, []validation.Issue) {
	res := &Resolution{Matches: make(map[string][]ResolvedCourse)}
	var issues []validation.Issue
	conflicted := make(map[string]bool)

	for _, course := range courses {
		byTarget := make(map[string][]model.CourseEquivalency)
		var targets []string
		for _, eq := range eqs {
			if eq.SourceCode != course.CourseCode || !eq.ActiveAt(asOf) {
				continue
			}
			if _, seen := byTarget[eq.TargetCode]; !seen {
				targets = append(targets, eq.TargetCode)
			}
			byTarget[eq.TargetCode] = append(byTarget[eq.TargetCode], eq)
		}

		if len(targets) == 0 {
			res.Unresolved = append(res.Unresolved, course.CourseCode)
			issues = append(issues, validation.Warning(validation.CodeUnresolvedCourse, course.CourseCode,
				fmt.Sprintf("course %s has no equivalency in the active version", course.CourseCode)))
			continue
		}

		sort.Strings(targets)
		for _, target := range targets {
			winner, conflict := pickWinner(byTarget[target])
			if conflict {
				pair := course.CourseCode + " -> " + target
				if !conflicted[pair] {
					conflicted[pair] = true
					issues = append(issues, validation.Error(validation.CodeConflictingEquivalency, pair,
						fmt.Sprintf("equivalency entries for %s tie on effective date with differing credits", pair)))
				}
				continue
			}
			res.Matches[target] = append(res.Matches[target], ResolvedCourse{
				SourceCourse:    course,
				ResolvedCredits: winner.Credits,
			})
		}
	}
	return res, issues
}

// pickWinner selects the most recently effective entry. A nil effective
// date sorts as the epoch. Returns conflict=true when the latest
// effective date is shared by entries with different credit values.
func pickWinner(candidates []model.CourseEquivalency) (model.CourseEquivalency, bool) {
	effective := func(eq model.CourseEquivalency) time.Time {
		if eq.EffectiveFrom == nil {
			return time.Time{}
		}
		return *eq.EffectiveFrom
	}

	winner := candidates[0]
	for _, c := range candidates[1:] {
		if effective(c).After(effective(winner)) {
			winner = c
		}
	}
	for _, c := range candidates {
		if effective(c).Equal(effective(winner)) && c.Credits != winner.Credits {
			return model.CourseEquivalency{}, true
		}
	}
	return winner, false
}
