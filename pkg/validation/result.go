// Package validation defines the result model shared by the admission-time
// rule validator and the student-facing evaluator: coded issues with
// severities, and the aggregator that merges them into one deterministic
// ValidationResult.
package validation

import "time"

// Severity classifies an issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Issue codes surfaced in results.
const (
	CodeInvalidCredits          = "INVALID_CREDITS"
	CodeInvalidGPA              = "INVALID_GPA"
	CodeDuplicateCourse         = "DUPLICATE_COURSE"
	CodeInvalidCourseCredits    = "INVALID_COURSE_CREDITS"
	CodeCircularDependency      = "CIRCULAR_DEPENDENCY"
	CodeDanglingReference       = "DANGLING_REFERENCE"
	CodeUnresolvedCourse        = "UNRESOLVED_COURSE"
	CodeConflictingEquivalency  = "CONFLICTING_EQUIVALENCY"
	CodeDataIncomplete          = "DATA_INCOMPLETE"
	CodeRuleNotSatisfied        = "RULE_NOT_SATISFIED"
	CodeSatisfiedViaAlternative = "SATISFIED_VIA_ALTERNATIVE"
	CodeValidationError         = "VALIDATION_ERROR"
)

// Issue is a single coded finding. Field names the offending element
// (a rule id, a course code, or a rule-set field).
type Issue struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Field    string   `json:"field,omitempty"`
}

// Metadata records which checks ran and under which engine, for
// reproducibility and audit.
type Metadata struct {
	EngineVersion    string   `json:"engine_version"`
	ChecksRun        []string `json:"checks_run"`
	RuleIDsEvaluated []string `json:"rule_ids_evaluated,omitempty"`
}

// Result is the structured outcome of one validation or evaluation call.
// Transient: produced per call, never persisted by the engine itself.
// Given identical inputs a Result is byte-identical apart from ValidatedAt.
type Result struct {
	IsValid     bool           `json:"is_valid"`
	Errors      []Issue        `json:"errors"`
	Warnings    []Issue        `json:"warnings"`
	Infos       []Issue        `json:"infos,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	ValidatedAt time.Time      `json:"validated_at"`
	Metadata    Metadata       `json:"metadata"`
}

// Error builds an error-severity issue.
func Error(code, field, message string) Issue {
	return Issue{Code: code, Message: message, Severity: SeverityError, Field: field}
}

// Warning builds a warning-severity issue.
func Warning(code, field, message string) Issue {
	return Issue{Code: code, Message: message, Severity: SeverityWarning, Field: field}
}

// Info builds an info-severity issue.
func Info(code, field, message string) Issue {
	return Issue{Code: code, Message: message, Severity: SeverityInfo, Field: field}
}
