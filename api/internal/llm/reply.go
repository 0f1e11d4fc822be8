package llm

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"exam-grader/api/internal/apperr"
	"exam-grader/api/internal/grading"
	"exam-grader/api/internal/prompt"
	"exam-grader/api/internal/util"
)

const schemaURL = "grading_result.schema.json"

var (
	compileOnce sync.Once
	resultSch   *jsonschema.Schema
	compileErr  error
)

func resultSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, strings.NewReader(prompt.ResultSchemaJSON)); err != nil {
			compileErr = err
			return
		}
		resultSch, compileErr = c.Compile(schemaURL)
	})
	return resultSch, compileErr
}

// DecodeReply strips a code fence from the reply, checks it against the result
// schema and decodes it.
func DecodeReply(text string) (grading.GradingResult, error) {
	if strings.TrimSpace(text) == "" {
		return grading.GradingResult{}, apperr.New(apperr.EmptyReply, "model returned an empty reply")
	}
	body := util.StripCodeFences(text)
	if body == "" {
		return grading.GradingResult{}, apperr.New(apperr.EmptyReply, "model returned an empty code block")
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return grading.GradingResult{}, apperr.Wrap(apperr.MalformedReply, "reply is not valid JSON", err)
	}

	sch, err := resultSchema()
	if err != nil {
		return grading.GradingResult{}, apperr.Wrap(apperr.MalformedReply, "compile result schema", err)
	}
	if err := sch.Validate(doc); err != nil {
		return grading.GradingResult{}, apperr.Wrap(apperr.MalformedReply, "reply does not match the result shape", err)
	}

	var out grading.GradingResult
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return grading.GradingResult{}, apperr.Wrap(apperr.MalformedReply, "decode reply", err)
	}
	if out.ScoreBreakdown == nil {
		out.ScoreBreakdown = []grading.ScoreItem{}
	}
	return out, nil
}
