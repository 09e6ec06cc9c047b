package content

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/p-n-ai/pai-planner/internal/apperr"
)

// responseSchema is the contract every generated response must satisfy.
const responseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["tasks"],
  "properties": {
    "tasks": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["subject", "topic", "title", "steps"],
        "properties": {
          "subject": {"type": "string", "minLength": 1},
          "topic":   {"type": "string", "minLength": 1},
          "title":   {"type": "string", "minLength": 1},
          "steps": {
            "type": "array",
            "minItems": 1,
            "items": {"type": "string", "minLength": 1}
          },
          "resources": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["title", "url"],
              "properties": {
                "title": {"type": "string", "minLength": 1},
                "url":   {"type": "string", "format": "uri"}
              }
            }
          }
        }
      }
    }
  }
}`

// Validator checks raw generator output against the response schema.
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator compiles the response schema.
func NewValidator() (*Validator, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(responseSchema))
	if err != nil {
		return nil, fmt.Errorf("compiling response schema: %w", err)
	}
	return &Validator{schema: s}, nil
}

// Decode validates raw and decodes it. Any schema violation, including
// output that is not JSON at all, is apperr.ErrGenerationFormat.
func (v *Validator) Decode(raw []byte) (*Response, error) {
	const op = "content.Decode"

	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, apperr.Wrap(op, apperr.ErrGenerationFormat, fmt.Errorf("not JSON: %w", err))
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return nil, apperr.New(op, apperr.ErrGenerationFormat, "schema mismatch: %s", strings.Join(problems, "; "))
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, apperr.Wrap(op, apperr.ErrGenerationFormat, err)
	}
	for i := range resp.Tasks {
		resp.Tasks[i].Source = SourceGenerated
	}
	return &resp, nil
}
