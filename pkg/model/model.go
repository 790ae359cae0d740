// Package model defines the articulation domain objects: transfer
// requirements, their immutable published versions, rule sets, course
// equivalencies, and the student-side records supplied by callers.
package model

import (
	"encoding/json"
	"time"
)

// RequirementStatus is the lifecycle state of a TransferRequirement.
type RequirementStatus string

const (
	StatusDraft      RequirementStatus = "draft"
	StatusPublished  RequirementStatus = "published"
	StatusArchived   RequirementStatus = "archived"
	StatusDeprecated RequirementStatus = "deprecated"
)

// TransferRequirement describes what a student must complete to move from
// a source institution into a major at a target institution. Published
// requirements are never edited in place; every change creates a new
// RequirementVersion and only one version is active for evaluation.
type TransferRequirement struct {
	ID                  string            `json:"id"`
	SourceInstitutionID string            `json:"source_institution_id"`
	TargetInstitutionID string            `json:"target_institution_id"`
	MajorCode           string            `json:"major_code"`
	Status              RequirementStatus `json:"status"`
	EffectiveFrom       *time.Time        `json:"effective_from,omitempty"`
	ExpiresAt           *time.Time        `json:"expires_at,omitempty"`
	CurrentVersion      int               `json:"current_version"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// RequirementVersion is an immutable snapshot of a requirement's rule set.
// Version numbers increase monotonically per requirement. Never mutated
// after publish.
type RequirementVersion struct {
	ID            string           `json:"id"`
	RequirementID string           `json:"requirement_id"`
	Version       int              `json:"version"`
	Rules         RequirementRules `json:"rules"`
	PublishedBy   string           `json:"published_by"`
	PublishedAt   time.Time        `json:"published_at"`
	// EngineVersion is the engine semver the snapshot was admitted under.
	EngineVersion string   `json:"engine_version"`
	ChangeLog     []string `json:"change_log,omitempty"`
}

// RequirementRules is the rule-set payload of a version.
type RequirementRules struct {
	Equivalencies []CourseEquivalency `json:"equivalencies"`
	Rules         []RequirementRule   `json:"rules"`
	TotalCredits  float64             `json:"total_credits"`
	MinimumGPA    *float64            `json:"minimum_gpa,omitempty"`
	// Criteria is an open-ended extension map evaluated through the
	// criteria registry; unknown keys are ignored.
	Criteria map[string]any `json:"criteria,omitempty"`
}

// RequirementRule is a single rule inside a rule set. Alternatives lists
// other rule ids that can satisfy this rule instead (logical OR). The
// alternatives relation over rule ids must be acyclic; that is enforced
// at admission time, not here.
type RequirementRule struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Criteria     map[string]any `json:"criteria,omitempty"`
	MinCredits   *float64       `json:"min_credits,omitempty"`
	MaxCredits   *float64       `json:"max_credits,omitempty"`
	Required     bool           `json:"required"`
	Alternatives []string       `json:"alternatives,omitempty"`
}

// CourseEquivalency states that a source-institution course satisfies a
// target-institution course, with a credit conversion and an optional
// validity window. A nil ExpiresAt means the window is open-ended.
type CourseEquivalency struct {
	SourceCode    string         `json:"source_code"`
	TargetCode    string         `json:"target_code"`
	Credits       float64        `json:"credits"`
	Conditions    map[string]any `json:"conditions,omitempty"`
	EffectiveFrom *time.Time     `json:"effective_from,omitempty"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty"`
}

// ActiveAt reports whether the equivalency's validity window contains t.
func (e CourseEquivalency) ActiveAt(t time.Time) bool {
	if e.EffectiveFrom != nil && t.Before(*e.EffectiveFrom) {
		return false
	}
	if e.ExpiresAt != nil && !t.Before(*e.ExpiresAt) {
		return false
	}
	return true
}

// CourseStatus is the completion state of a student course record.
type CourseStatus string

const (
	CourseCompleted  CourseStatus = "completed"
	CourseInProgress CourseStatus = "in_progress"
	CoursePlanned    CourseStatus = "planned"
	CourseWithdrawn  CourseStatus = "withdrawn"
)

// StudentCourseRecord is a single course from the student's history,
// supplied by the student-profile subsystem.
type StudentCourseRecord struct {
	CourseCode string       `json:"course_code"`
	Status     CourseStatus `json:"status"`
	Term       string       `json:"term"`
	Grade      string       `json:"grade,omitempty"`
	Units      float64      `json:"units"`
}

// AcademicInfo carries the student's aggregate academics for evaluation.
// A nil GPA means the caller did not supply one; the engine reports
// DATA_INCOMPLETE rather than guessing. AsOf pins the equivalency
// resolution date; zero means "now".
type AcademicInfo struct {
	GPA        *float64  `json:"gpa,omitempty"`
	TotalUnits float64   `json:"total_units"`
	AsOf       time.Time `json:"as_of,omitempty"`
}

// Clone returns a deep copy of the version via a JSON round trip. Stores
// hand out clones so published snapshots stay immutable.
func (v *RequirementVersion) Clone() *RequirementVersion {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		// All fields are plain data; marshalling cannot fail in practice.
		cp := *v
		return &cp
	}
	var out RequirementVersion
	if err := json.Unmarshal(raw, &out); err != nil {
		cp := *v
		return &cp
	}
	return &out
}

// Clone returns a deep copy of the requirement.
func (r *TransferRequirement) Clone() *TransferRequirement {
	if r == nil {
		return nil
	}
	cp := *r
	if r.EffectiveFrom != nil {
		t := *r.EffectiveFrom
		cp.EffectiveFrom = &t
	}
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		cp.ExpiresAt = &t
	}
	return &cp
}

// Float64 returns a pointer to f. Convenience for optional numeric fields.
func Float64(f float64) *float64 { return &f }
