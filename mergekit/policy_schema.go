package mergekit

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// DefaultPolicySchema constrains the shape of a policy file. Setting values
// are parsed by BasicPolicyValidator; the schema adds naming rules.
const DefaultPolicySchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["version", "name"],
  "properties": {
    "version": {"type": "string", "pattern": "^[0-9]+(\\.[0-9]+){0,2}$"},
    "name": {"type": "string", "pattern": "^[A-Za-z0-9][A-Za-z0-9._-]*$", "maxLength": 64},
    "description": {"type": "string", "maxLength": 512},
    "policy": {
      "type": "object",
      "properties": {
        "auto_resolve": {"type": "boolean"},
        "preferred_strategy": {"type": "string"},
        "max_auto_resolve_severity": {"type": "string"},
        "diff_algorithm": {"type": "string"}
      }
    }
  }
}`

// SchemaPolicyValidator checks a policy against a JSON Schema. Teams can
// pass a stricter schema, for example one that pins preferred_strategy.
type SchemaPolicyValidator struct {
	schema *gojsonschema.Schema
}

// NewSchemaPolicyValidator compiles schema, or DefaultPolicySchema when
// schema is empty.
func NewSchemaPolicyValidator(schema string) (*SchemaPolicyValidator, error) {
	if schema == "" {
		schema = DefaultPolicySchema
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("invalid policy schema: %w", err)
	}
	return &SchemaPolicyValidator{schema: compiled}, nil
}

func (v *SchemaPolicyValidator) Name() string { return "schema" }

func (v *SchemaPolicyValidator) Validate(p *PolicyFile) error {
	result, err := v.schema.Validate(gojsonschema.NewGoLoader(p))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("policy does not match schema: %s", strings.Join(msgs, "; "))
	}
	return nil
}
