package prompt

import (
	"encoding/json"
	"sync"
)

// ResultShape is the reply shape quoted in the user instruction.
const ResultShape = `{ "studentName": string, "recognizedText": string, "feedback": string,
  "totalScore": number, "maxScore": number,
  "scoreBreakdown": [ { "description": string, "pointsAwarded": number, "maxPoints": number } ] }`

// ResultSchemaJSON is the JSON Schema every reply is validated against.
const ResultSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "GradingResult",
  "type": "object",
  "required": ["studentName", "recognizedText", "feedback", "totalScore", "maxScore", "scoreBreakdown"],
  "properties": {
    "studentName":    {"type": "string"},
    "recognizedText": {"type": "string"},
    "feedback":       {"type": "string"},
    "totalScore":     {"type": "number"},
    "maxScore":       {"type": "number"},
    "scoreBreakdown": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["description", "pointsAwarded", "maxPoints"],
        "properties": {
          "description":   {"type": "string"},
          "pointsAwarded": {"type": "number"},
          "maxPoints":     {"type": "number"}
        }
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schemaMap  map[string]any
)

// ResultSchema returns ResultSchemaJSON decoded. Callers must not modify it.
func ResultSchema() map[string]any {
	schemaOnce.Do(func() {
		if err := json.Unmarshal([]byte(ResultSchemaJSON), &schemaMap); err != nil {
			panic("prompt: bad result schema: " + err.Error())
		}
	})
	return schemaMap
}
