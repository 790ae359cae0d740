// Package store persists transfer requirements and their immutable
// published versions. Publication runs through the admission gate: a rule
// set that fails structural validation is never written, which is what
// lets the evaluator assume acyclic rule graphs for any stored version.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ClearPath-Edu/articulate/core/pkg/model"
	"github.com/ClearPath-Edu/articulate/core/pkg/rulecheck"
)

var (
	// ErrNotFound is returned when a requirement or version does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrNotAdmitted is returned when a rule set fails the admission gate.
	ErrNotAdmitted = errors.New("store: rule set failed structural validation")
)

// Store is the persistence collaborator consumed by the API layer.
type Store interface {
	SaveRequirement(ctx context.Context, req *model.TransferRequirement) error
	GetRequirement(ctx context.Context, id string) (*model.TransferRequirement, error)

	// PublishVersion validates rules through the admission gate, assigns
	// the next monotonic version number, marks the requirement published,
	// and stores the immutable snapshot.
	PublishVersion(ctx context.Context, requirementID string, rules model.RequirementRules, publishedBy string, changeLog []string) (*model.RequirementVersion, error)

	// GetActiveVersion returns the single version pinned for evaluation.
	GetActiveVersion(ctx context.Context, requirementID string) (*model.RequirementVersion, error)
	GetVersion(ctx context.Context, requirementID string, version int) (*model.RequirementVersion, error)
	ListVersions(ctx context.Context, requirementID string) ([]model.RequirementVersion, error)
}

// admit runs the admission gate for publication. The validation result's
// warnings are tolerated; errors block the write.
func admit(engineVersion string, rules *model.RequirementRules) error {
	res, err := rulecheck.New(engineVersion).ValidateRuleStructure(rules)
	if err != nil {
		return err
	}
	if !res.IsValid {
		return fmt.Errorf("%w: %d error(s), first: %s", ErrNotAdmitted, len(res.Errors), res.Errors[0].Message)
	}
	return nil
}
