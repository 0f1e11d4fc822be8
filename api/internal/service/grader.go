// Package service runs one grading request end to end:
// normalize files, compose the request, dispatch it, record the result.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"exam-grader/api/internal/apperr"
	"exam-grader/api/internal/grading"
	"exam-grader/api/internal/normalize"
	"exam-grader/api/internal/prompt"
	"exam-grader/api/internal/store"
)

// Submission is what a front end collects for one grading.
// Each side is text or files, not both.
type Submission struct {
	Question     string
	RubricText   string
	RubricFiles  []grading.RawDocument
	StudentText  string
	StudentFiles []grading.RawDocument
}

type Outcome struct {
	ID        string                `json:"id,omitempty"`
	RequestID string                `json:"requestId"`
	Backend   grading.BackendID     `json:"backend"`
	Model     string                `json:"model"`
	Result    grading.GradingResult `json:"result"`
	Warnings  []string              `json:"warnings,omitempty"`
}

type Normalizer interface {
	NormalizeReport(ctx context.Context, doc grading.RawDocument, c grading.Constraints) (normalize.Report, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, req grading.LogicalRequest, cfg grading.DispatchConfig) (grading.GradingResult, error)
}

// Recorder stores finished gradings. Optional.
type Recorder interface {
	Insert(ctx context.Context, row store.GradingRow) error
}

type Grader struct {
	norm Normalizer
	disp Dispatcher
	rec  Recorder
	log  zerolog.Logger

	// DefaultBackend is used when the caller names none.
	DefaultBackend grading.BackendID
	// Models maps a backend to the model id reported when the caller names none.
	Models map[grading.BackendID]string
}

func New(norm Normalizer, disp Dispatcher, rec Recorder, log zerolog.Logger) *Grader {
	return &Grader{
		norm:           norm,
		disp:           disp,
		rec:            rec,
		log:            log.With().Str("component", "grader").Logger(),
		DefaultBackend: grading.BackendGemini,
	}
}

func (g *Grader) Grade(ctx context.Context, sub Submission, cfg grading.DispatchConfig) (Outcome, error) {
	if cfg.Backend == "" {
		cfg.Backend = g.DefaultBackend
	}
	if cfg.Model == "" {
		cfg.Model = g.Models[cfg.Backend]
	}
	out := Outcome{RequestID: uuid.NewString(), Backend: cfg.Backend, Model: cfg.Model}
	log := g.log.With().Str("req_id", out.RequestID).Str("backend", string(cfg.Backend)).Logger()
	start := time.Now()
	log.Info().
		Int("rubric_files", len(sub.RubricFiles)).
		Int("student_files", len(sub.StudentFiles)).
		Msg("grade.start")

	res, warnings, err := g.run(ctx, sub, cfg)
	if err != nil {
		log.Warn().Err(err).
			Str("kind", string(apperr.KindOf(err))).
			Int64("elapsed_ms", time.Since(start).Milliseconds()).
			Msg("grade.failed")
		return Outcome{}, err
	}
	out.Result = res
	out.Warnings = warnings

	if g.rec != nil {
		id := uuid.New()
		row := store.GradingRow{
			ID:        id,
			RequestID: out.RequestID,
			Backend:   string(cfg.Backend),
			Model:     cfg.Model,
			Question:  strings.TrimSpace(sub.Question),
			Result:    res,
		}
		if err := g.rec.Insert(ctx, row); err != nil {
			log.Warn().Err(err).Msg("grade.record_failed")
		} else {
			out.ID = id.String()
		}
	}

	log.Info().
		Float64("total", res.TotalScore).
		Float64("max", res.MaxScore).
		Int("warnings", len(warnings)).
		Int64("elapsed_ms", time.Since(start).Milliseconds()).
		Msg("grade.done")
	return out, nil
}

func (g *Grader) run(ctx context.Context, sub Submission, cfg grading.DispatchConfig) (grading.GradingResult, []string, error) {
	if strings.TrimSpace(sub.RubricText) != "" && len(sub.RubricFiles) > 0 {
		return grading.GradingResult{}, nil, apperr.New(apperr.InvalidRequest, "rubric: give either text or files, not both")
	}
	if strings.TrimSpace(sub.StudentText) != "" && len(sub.StudentFiles) > 0 {
		return grading.GradingResult{}, nil, apperr.New(apperr.InvalidRequest, "student answer: give either text or files, not both")
	}

	c := cfg.Backend.Constraints()
	var warnings []string
	rubricImgs, w, err := g.normalizeAll(ctx, sub.RubricFiles, c)
	if err != nil {
		return grading.GradingResult{}, nil, err
	}
	warnings = append(warnings, w...)
	studentImgs, w, err := g.normalizeAll(ctx, sub.StudentFiles, c)
	if err != nil {
		return grading.GradingResult{}, nil, err
	}
	warnings = append(warnings, w...)

	req, err := prompt.Build(sub.Question,
		prompt.Material{Text: sub.RubricText, Images: rubricImgs},
		prompt.Material{Text: sub.StudentText, Images: studentImgs},
		cfg.Backend)
	if err != nil {
		return grading.GradingResult{}, nil, err
	}
	res, err := g.disp.Dispatch(ctx, req, cfg)
	if err != nil {
		return grading.GradingResult{}, nil, err
	}
	return res, warnings, nil
}

func (g *Grader) normalizeAll(ctx context.Context, docs []grading.RawDocument, c grading.Constraints) ([]grading.ImagePart, []string, error) {
	var (
		parts    []grading.ImagePart
		warnings []string
	)
	for _, d := range docs {
		rep, err := g.norm.NormalizeReport(ctx, d, c)
		if err != nil {
			return nil, nil, err
		}
		if rep.DroppedPages > 0 {
			warnings = append(warnings, fmt.Sprintf("%s: only the first %d of %d pages were graded",
				d.Name, rep.PageCount-rep.DroppedPages, rep.PageCount))
		}
		parts = append(parts, rep.Parts...)
	}
	return parts, warnings, nil
}
