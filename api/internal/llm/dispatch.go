// Package llm sends a composed grading request to the selected backend and
// decodes its reply.
package llm

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"exam-grader/api/internal/apperr"
	"exam-grader/api/internal/grading"
	"exam-grader/api/internal/prompt"
)

// Dispatcher holds no per-request state; one Dispatch call is one backend call, never retried.
type Dispatcher struct {
	engs *Engines
	log  zerolog.Logger
}

func NewDispatcher(engs *Engines, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{engs: engs, log: log.With().Str("component", "dispatch").Logger()}
}

// Dispatch renders req for the backend named by cfg (or by req when cfg names none),
// performs the call and decodes the reply.
func (d *Dispatcher) Dispatch(ctx context.Context, req grading.LogicalRequest, cfg grading.DispatchConfig) (grading.GradingResult, error) {
	if cfg.Backend == "" {
		cfg.Backend = req.Backend
	}
	eng, err := d.engs.GetEngine(cfg.Backend)
	if err != nil {
		return grading.GradingResult{}, apperr.Wrap(apperr.InvalidRequest, "select backend", err)
	}
	model := cfg.Model
	if model == "" {
		model = eng.GetModel()
	}

	c := prompt.Render(req)
	start := time.Now()
	d.log.Info().
		Str("backend", string(eng.Name())).
		Str("model", model).
		Int("attachments", len(c.Attachments)).
		Msg("llm.dispatch.start")

	raw, err := eng.Grade(ctx, c, cfg)
	if err != nil {
		d.log.Warn().Err(err).
			Str("backend", string(eng.Name())).
			Str("kind", string(apperr.KindOf(err))).
			Int64("elapsed_ms", time.Since(start).Milliseconds()).
			Msg("llm.dispatch.failed")
		return grading.GradingResult{}, err
	}

	res, err := DecodeReply(raw)
	if err != nil {
		d.log.Warn().Err(err).
			Str("backend", string(eng.Name())).
			Int("reply_len", len(raw)).
			Msg("llm.dispatch.bad_reply")
		return grading.GradingResult{}, err
	}
	d.log.Info().
		Str("backend", string(eng.Name())).
		Float64("total", res.TotalScore).
		Float64("max", res.MaxScore).
		Int64("elapsed_ms", time.Since(start).Milliseconds()).
		Msg("llm.dispatch.done")
	return res, nil
}
