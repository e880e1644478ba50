package generation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const verdictSchema = `{
  "type": "object",
  "required": ["results"],
  "properties": {
    "results": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["checklist_id", "evaluation", "comment"],
        "properties": {
          "checklist_id": {"type": "string", "minLength": 1},
          "evaluation": {"type": "string", "minLength": 1},
          "comment": {"type": "string"}
        }
      }
    }
  }
}`

const findingSchema = `{
  "type": "object",
  "required": ["results"],
  "properties": {
    "results": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["checklist_id", "comment"],
        "properties": {
          "checklist_id": {"type": "string", "minLength": 1},
          "comment": {"type": "string"}
        }
      }
    }
  }
}`

const categorySchema = `{
  "type": "object",
  "required": ["categories"],
  "properties": {
    "categories": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["checklist_ids"],
        "properties": {
          "name": {"type": "string"},
          "checklist_ids": {"type": "array", "items": {"type": "string"}}
        }
      }
    }
  }
}`

const checklistSchema = `{
  "type": "object",
  "required": ["items"],
  "properties": {
    "items": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "string", "minLength": 1}
    }
  }
}`

// schemaValidator validates model output against a compiled JSON Schema.
type schemaValidator struct {
	name   string
	schema *jsonschema.Schema
}

func compileSchema(name, schemaJSON string) (*schemaValidator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema %s: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	url := name + ".json"
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", name, err)
	}
	s, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &schemaValidator{name: name, schema: s}, nil
}

func mustCompileSchema(name, schemaJSON string) *schemaValidator {
	v, err := compileSchema(name, schemaJSON)
	if err != nil {
		panic(err)
	}
	return v
}

var (
	verdictValidator   = mustCompileSchema("verdicts", verdictSchema)
	findingValidator   = mustCompileSchema("findings", findingSchema)
	categoryValidator  = mustCompileSchema("categories", categorySchema)
	checklistValidator = mustCompileSchema("checklist", checklistSchema)
)

// decode validates raw against the schema and unmarshals it into out.
func (v *schemaValidator) decode(raw json.RawMessage, out any) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidResponse, v.name, err)
	}
	if err := v.schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %s schema: %v", ErrInvalidResponse, v.name, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidResponse, v.name, err)
	}
	return nil
}

// ExtractJSON finds the JSON object or array in a model reply, tolerating
// markdown fences and surrounding prose. It returns "" if none is found.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)
	if json.Valid([]byte(text)) {
		return text
	}
	if idx := strings.Index(text, "```"); idx >= 0 {
		start := idx + 3
		if nl := strings.IndexByte(text[start:], '\n'); nl >= 0 {
			start += nl + 1
		}
		if end := strings.Index(text[start:], "```"); end >= 0 {
			candidate := strings.TrimSpace(text[start : start+end])
			if json.Valid([]byte(candidate)) {
				return candidate
			}
		}
	}
	for i := 0; i < len(text); i++ {
		if text[i] == '{' || text[i] == '[' {
			if candidate := extractBalanced(text[i:]); candidate != "" && json.Valid([]byte(candidate)) {
				return candidate
			}
		}
	}
	return ""
}

// extractBalanced returns the balanced JSON structure at the start of s.
func extractBalanced(s string) string {
	open := s[0]
	closing := byte('}')
	if open == '[' {
		closing = ']'
	}
	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == open:
			depth++
		case ch == closing:
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}
