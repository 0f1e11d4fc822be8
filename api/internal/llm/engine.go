package llm

import (
	"context"
	"fmt"

	"exam-grader/api/internal/grading"
	"exam-grader/api/internal/prompt"
)

// Engine is one backend wire protocol. Grade returns the raw reply text.
type Engine interface {
	Name() grading.BackendID
	GetModel() string
	Grade(ctx context.Context, c prompt.Composed, cfg grading.DispatchConfig) (string, error)
}

type Engines struct {
	Gemini Engine
	GPT    Engine
}

func (e *Engines) GetEngine(id grading.BackendID) (Engine, error) {
	var eng Engine
	switch id {
	case grading.BackendGemini:
		eng = e.Gemini
	case grading.BackendGPT:
		eng = e.GPT
	default:
		return nil, fmt.Errorf("unknown backend: %q", id)
	}
	if eng == nil {
		return nil, fmt.Errorf("backend %q is not configured", id)
	}
	return eng, nil
}
