package rulecheck

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ClearPath-Edu/articulate/core/pkg/model"
	"github.com/ClearPath-Edu/articulate/core/pkg/validation"
)

// rulesSchema is the structural-parse tier: input that does not look like
// a RequirementRules object at all is rejected here, before any domain
// check runs. Domain sanity (positive credits, GPA bounds, acyclicity)
// deliberately stays out of the schema so it surfaces as itemized issues.
const rulesSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["equivalencies", "rules", "total_credits"],
  "properties": {
    "equivalencies": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["source_code", "target_code", "credits"],
        "properties": {
          "source_code": {"type": "string", "minLength": 1},
          "target_code": {"type": "string", "minLength": 1},
          "credits": {"type": "number"},
          "conditions": {"type": "object"},
          "effective_from": {"type": "string", "format": "date-time"},
          "expires_at": {"type": ["string", "null"], "format": "date-time"}
        }
      }
    },
    "rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "type": {"type": "string", "minLength": 1},
          "criteria": {"type": "object"},
          "min_credits": {"type": "number"},
          "max_credits": {"type": "number"},
          "required": {"type": "boolean"},
          "alternatives": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "total_credits": {"type": "number"},
    "minimum_gpa": {"type": ["number", "null"]},
    "criteria": {"type": "object"}
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		const url = "https://schemas.clearpath.dev/articulate/requirement_rules.schema.json"
		if err := c.AddResource(url, strings.NewReader(rulesSchema)); err != nil {
			schemaErr = fmt.Errorf("rulecheck: schema load failed: %w", err)
			return
		}
		schema, schemaErr = c.Compile(url)
	})
	return schema, schemaErr
}

// ParseRules admits raw JSON through the structural schema and decodes it
// into a RequirementRules. Shape failures return a single
// VALIDATION_ERROR issue and a nil rule set; callers short-circuit, since
// no trustworthy domain result can be produced from malformed input.
func ParseRules(data []byte) (*model.RequirementRules, []validation.Issue) {
	sch, err := compiledSchema()
	if err != nil {
		return nil, []validation.Issue{validation.Error(validation.CodeValidationError, "", err.Error())}
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, []validation.Issue{validation.Error(validation.CodeValidationError, "",
			fmt.Sprintf("input is not valid JSON: %v", err))}
	}
	if err := sch.Validate(generic); err != nil {
		return nil, []validation.Issue{validation.Error(validation.CodeValidationError, "",
			fmt.Sprintf("input does not match the rule-set shape: %v", err))}
	}

	var rules model.RequirementRules
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, []validation.Issue{validation.Error(validation.CodeValidationError, "",
			fmt.Sprintf("decoding rule set failed: %v", err))}
	}
	return &rules, nil
}
