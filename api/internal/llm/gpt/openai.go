package gpt

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"exam-grader/api/internal/apperr"
	"exam-grader/api/internal/grading"
	"exam-grader/api/internal/llm"
	"exam-grader/api/internal/prompt"
	"exam-grader/api/internal/util"
)

var _ llm.Engine = (*Engine)(nil)

const DefaultBaseURL = "https://api.openai.com/v1"

type Engine struct {
	BaseURL string
	Model   string
	httpc   *http.Client
	log     zerolog.Logger
}

func New(baseURL, model string, timeout time.Duration, log zerolog.Logger) *Engine {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &Engine{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Model:   model,
		httpc:   &http.Client{Timeout: timeout, Transport: tr},
		log:     log.With().Str("component", "gpt").Logger(),
	}
}

// WithHTTPClient swaps the transport, mainly for tests.
func (e *Engine) WithHTTPClient(c *http.Client) *Engine {
	if c != nil {
		e.httpc = c
	}
	return e
}

func (e *Engine) Name() grading.BackendID { return grading.BackendGPT }
func (e *Engine) GetModel() string        { return e.Model }

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Grade requires the caller's credential and image-only attachments; both are
// checked before any network call.
func (e *Engine) Grade(ctx context.Context, c prompt.Composed, cfg grading.DispatchConfig) (string, error) {
	if err := CheckAttachments(c.Attachments); err != nil {
		return "", err
	}
	key := strings.TrimSpace(cfg.Credential)
	if key == "" {
		return "", apperr.New(apperr.MissingCredential, "an OpenAI-compatible API key must be supplied")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = e.Model
	}

	payload, err := json.Marshal(buildRequest(model, c))
	if err != nil {
		return "", apperr.Wrap(apperr.InvalidRequest, "encode chat request", err)
	}
	raw, err := e.post(ctx, key, payload)
	if err != nil {
		return "", err
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", apperr.Wrap(apperr.MalformedReply, "decode chat completion envelope", err)
	}
	if len(out.Choices) == 0 {
		return "", apperr.New(apperr.EmptyReply, "chat completion has no choices")
	}
	txt := out.Choices[0].Message.Content
	if strings.TrimSpace(txt) == "" {
		return "", apperr.New(apperr.EmptyReply, "chat completion content is empty")
	}
	return txt, nil
}

// CheckAttachments rejects raw PDFs and other non-image payloads.
func CheckAttachments(parts []grading.ImagePart) error {
	for i, p := range parts {
		if p.IsDocument() {
			return apperr.Newf(apperr.UnsupportedPayload, "attachment %d is a raw PDF; this backend accepts only images", i+1)
		}
		if !strings.HasPrefix(strings.ToLower(p.MIMEType), "image/") {
			return apperr.Newf(apperr.UnsupportedPayload, "attachment %d has type %q; this backend accepts only images", i+1, p.MIMEType)
		}
	}
	return nil
}

// buildRequest renders the composed request as a chat completion body:
// a system message and one user message of text followed by image_url segments.
func buildRequest(model string, c prompt.Composed) chatRequest {
	content := make([]contentPart, 0, len(c.Attachments)+1)
	content = append(content, contentPart{Type: "text", Text: c.User})
	for _, a := range c.Attachments {
		content = append(content, contentPart{Type: "image_url", ImageURL: &imageURL{URL: a.DataURL()}})
	}
	return chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: c.System},
			{Role: "user", Content: content},
		},
		ResponseFormat: responseFormat{Type: "json_object"},
	}
}

func (e *Engine) post(ctx context.Context, key string, payload []byte) ([]byte, error) {
	reqID := uuid.NewString()
	url := e.BaseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidRequest, "build chat request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("X-Request-Id", reqID)

	start := time.Now()
	e.log.Debug().Str("req_id", reqID).Str("url", url).Int("bytes", len(payload)).Msg("llm.gpt.http.request")
	resp, err := e.httpc.Do(req)
	if err != nil {
		e.log.Warn().Err(err).Str("req_id", reqID).Int64("elapsed_ms", time.Since(start).Milliseconds()).Msg("llm.gpt.http.error")
		return nil, apperr.Wrap(apperr.BackendError, "chat completion request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, apperr.Wrap(apperr.BackendError, "read chat completion response", err)
	}
	e.log.Debug().
		Str("req_id", reqID).
		Int("status", resp.StatusCode).
		Int64("elapsed_ms", time.Since(start).Milliseconds()).
		Msg("llm.gpt.http.response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.Backend(resp.StatusCode, errorMessage(body))
	}
	return body, nil
}

// errorMessage extracts the provider's message from an error body.
func errorMessage(body []byte) string {
	var env struct {
		Error json.RawMessage `json:"error"`
		Msg   string          `json:"message"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		if len(env.Error) > 0 {
			var obj struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(env.Error, &obj) == nil && obj.Message != "" {
				return obj.Message
			}
			var s string
			if json.Unmarshal(env.Error, &s) == nil && s != "" {
				return s
			}
		}
		if env.Msg != "" {
			return env.Msg
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" && !strings.HasPrefix(s, "<") {
		return util.Truncate(s, 300)
	}
	return ""
}
