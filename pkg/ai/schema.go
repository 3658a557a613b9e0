package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	gradingResultSchemaName = "grading_result"
	gradingResultSchemaURL  = "https://schemas.gema.local/grading_result.json"
)

// GradingResultSchema is the closed contract every grading response must meet.
const GradingResultSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "required": ["overall_score", "feedback"],
  "properties": {
    "overall_score": {"type": "integer", "minimum": 0, "maximum": 100},
    "feedback": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["criterion", "points_awarded", "points_possible", "comment"],
        "properties": {
          "criterion": {"type": "string", "minLength": 1},
          "points_awarded": {"type": "integer", "minimum": 0},
          "points_possible": {"type": "integer", "minimum": 0},
          "comment": {"type": "string"}
        }
      }
    }
  }
}`

// wireSchema is sent to providers. Strict structured output rejects numeric
// and length bounds, so those are only checked locally.
const wireSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["overall_score", "feedback"],
  "properties": {
    "overall_score": {"type": "integer"},
    "feedback": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["criterion", "points_awarded", "points_possible", "comment"],
        "properties": {
          "criterion": {"type": "string"},
          "points_awarded": {"type": "integer"},
          "points_possible": {"type": "integer"},
          "comment": {"type": "string"}
        }
      }
    }
  }
}`

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func gradingSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(gradingResultSchemaURL, strings.NewReader(GradingResultSchema)); err != nil {
			compileErr = err
			return
		}
		compiledSchema, compileErr = compiler.Compile(gradingResultSchemaURL)
	})
	return compiledSchema, compileErr
}

func gradingWireSchema() JSONSchema {
	return JSONSchema{Name: gradingResultSchemaName, Schema: []byte(wireSchema)}
}

// ParseGradingResult validates raw model output against the closed schema and
// the rubric. Any deviation is an ErrInvalidResult.
func ParseGradingResult(raw string, rubric []RubricCriterion) (GradingResult, error) {
	text := stripCodeFence(raw)

	var document interface{}
	decoder := json.NewDecoder(strings.NewReader(text))
	decoder.UseNumber()
	if err := decoder.Decode(&document); err != nil {
		return GradingResult{}, fmt.Errorf("%w: decode: %v", ErrInvalidResult, err)
	}
	if decoder.More() {
		return GradingResult{}, fmt.Errorf("%w: trailing data after json object", ErrInvalidResult)
	}

	schema, err := gradingSchema()
	if err != nil {
		return GradingResult{}, fmt.Errorf("compile grading schema: %w", err)
	}
	if err := schema.Validate(document); err != nil {
		return GradingResult{}, fmt.Errorf("%w: %v", ErrInvalidResult, err)
	}

	var result GradingResult
	strict := json.NewDecoder(bytes.NewReader([]byte(text)))
	strict.DisallowUnknownFields()
	if err := strict.Decode(&result); err != nil {
		return GradingResult{}, fmt.Errorf("%w: %v", ErrInvalidResult, err)
	}

	if len(rubric) > 0 {
		known := make(map[string]struct{}, len(rubric))
		for _, criterion := range rubric {
			known[criterion.Criterion] = struct{}{}
		}
		for _, item := range result.Feedback {
			if _, ok := known[item.Criterion]; !ok {
				return GradingResult{}, fmt.Errorf("%w: unknown criterion %q", ErrInvalidResult, item.Criterion)
			}
		}
	}

	return result, nil
}

func stripCodeFence(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if newline := strings.IndexByte(text, '\n'); newline >= 0 {
		text = text[newline+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
