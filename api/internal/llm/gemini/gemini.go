package gemini

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"exam-grader/api/internal/apperr"
	"exam-grader/api/internal/grading"
	"exam-grader/api/internal/llm"
	"exam-grader/api/internal/prompt"
)

var _ llm.Engine = (*Engine)(nil)

// generator is the part of *genai.GenerativeModel the engine calls.
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type openFunc func(ctx context.Context, apiKey, model, system string) (generator, func(), error)

type Engine struct {
	APIKey          string
	Model           string
	MaxOutputTokens int32
	Temperature     float32

	log  zerolog.Logger
	open openFunc
}

func New(apiKey, model string, maxOutputTokens int32, log zerolog.Logger) *Engine {
	e := &Engine{
		APIKey:          strings.TrimSpace(apiKey),
		Model:           strings.TrimSpace(model),
		MaxOutputTokens: maxOutputTokens,
		Temperature:     0.2,
		log:             log.With().Str("component", "gemini").Logger(),
	}
	e.open = e.openGenAI
	return e
}

func (e *Engine) Name() grading.BackendID { return grading.BackendGemini }
func (e *Engine) GetModel() string        { return e.Model }

// Grade sends the attachments as inline data parts followed by one text part.
// The caller's credential wins over the server key.
func (e *Engine) Grade(ctx context.Context, c prompt.Composed, cfg grading.DispatchConfig) (string, error) {
	key := strings.TrimSpace(cfg.Credential)
	if key == "" {
		key = e.APIKey
	}
	if key == "" {
		return "", apperr.New(apperr.MissingCredential, "gemini API key is not set")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = e.Model
	}

	parts, err := BuildParts(c)
	if err != nil {
		return "", err
	}

	gen, closeFn, err := e.open(ctx, key, model, c.System)
	if err != nil {
		return "", apperr.Wrap(apperr.BackendError, "gemini client", err)
	}
	defer closeFn()

	start := time.Now()
	resp, err := gen.GenerateContent(ctx, parts...)
	e.log.Debug().
		Str("model", model).
		Int("parts", len(parts)).
		Int64("elapsed_ms", time.Since(start).Milliseconds()).
		Bool("ok", err == nil).
		Msg("llm.gemini.request")
	if err != nil {
		return "", backendError(err)
	}

	txt := firstText(resp)
	if strings.TrimSpace(txt) == "" {
		return "", apperr.New(apperr.EmptyReply, "gemini returned no text")
	}
	return txt, nil
}

// BuildParts renders attachments as blobs and the instruction as the trailing text part.
func BuildParts(c prompt.Composed) ([]genai.Part, error) {
	parts := make([]genai.Part, 0, len(c.Attachments)+1)
	for i, a := range c.Attachments {
		data, err := a.Bytes()
		if err != nil {
			return nil, apperr.Wrap(apperr.InvalidRequest, "attachment "+strconv.Itoa(i+1)+" is not base64", err)
		}
		parts = append(parts, &genai.Blob{MIMEType: a.MIMEType, Data: data})
	}
	return append(parts, genai.Text(c.User)), nil
}

func (e *Engine) openGenAI(ctx context.Context, apiKey, model, system string) (generator, func(), error) {
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, nil, err
	}
	m := cl.GenerativeModel(model)
	e.configure(m, system)
	return m, func() { _ = cl.Close() }, nil
}

func (e *Engine) configure(m *genai.GenerativeModel, system string) {
	m.SetTemperature(e.Temperature)
	if e.MaxOutputTokens > 0 {
		m.SetMaxOutputTokens(e.MaxOutputTokens)
	}
	m.ResponseMIMEType = "application/json"
	m.ResponseSchema = ResponseSchema()
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
}

// ResponseSchema mirrors the grading result: six required fields and a three-field item.
func ResponseSchema() *genai.Schema {
	item := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"description":   {Type: genai.TypeString},
			"pointsAwarded": {Type: genai.TypeNumber},
			"maxPoints":     {Type: genai.TypeNumber},
		},
		Required: []string{"description", "pointsAwarded", "maxPoints"},
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"studentName":    {Type: genai.TypeString},
			"recognizedText": {Type: genai.TypeString},
			"feedback":       {Type: genai.TypeString},
			"totalScore":     {Type: genai.TypeNumber},
			"maxScore":       {Type: genai.TypeNumber},
			"scoreBreakdown": {Type: genai.TypeArray, Items: item},
		},
		Required: []string{"studentName", "recognizedText", "feedback", "totalScore", "maxScore", "scoreBreakdown"},
	}
}

func backendError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return apperr.Backend(gerr.Code, gerr.Message)
	}
	return apperr.Wrap(apperr.BackendError, "gemini request failed", err)
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		var b strings.Builder
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		if b.Len() > 0 {
			return b.String()
		}
	}
	return ""
}
