package gpt

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exam-grader/api/internal/apperr"
	"exam-grader/api/internal/grading"
	"exam-grader/api/internal/prompt"
)

func composed(atts ...grading.ImagePart) prompt.Composed {
	return prompt.Composed{System: prompt.Persona, User: "QUESTION:\nExplain X", Attachments: atts}
}

func completion(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"}},
	})
	return string(b)
}

func newServer(t *testing.T, h http.HandlerFunc) (*Engine, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	e := New(srv.URL+"/v1/", "gpt-test", 5*time.Second, zerolog.Nop()).WithHTTPClient(srv.Client())
	return e, &hits
}

func TestGradeSendsChatCompletion(t *testing.T) {
	var body map[string]any
	e, hits := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-caller", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))
		b, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(b, &body))
		_, _ = io.WriteString(w, completion("```json\n{}\n```"))
	})

	jpg := grading.NewImagePart([]byte{0xFF, 0xD8, 0xFF}, "image/jpeg")
	out, err := e.Grade(context.Background(), composed(jpg), grading.DispatchConfig{Credential: "sk-caller"})
	require.NoError(t, err)
	assert.Equal(t, "```json\n{}\n```", out)
	assert.EqualValues(t, 1, *hits)

	assert.Equal(t, "gpt-test", body["model"])
	assert.Equal(t, map[string]any{"type": "json_object"}, body["response_format"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	sys := msgs[0].(map[string]any)
	assert.Equal(t, "system", sys["role"])
	assert.Equal(t, prompt.Persona, sys["content"])

	user := msgs[1].(map[string]any)
	assert.Equal(t, "user", user["role"])
	content := user["content"].([]any)
	require.Len(t, content, 2)
	assert.Equal(t, "text", content[0].(map[string]any)["type"])
	img := content[1].(map[string]any)
	assert.Equal(t, "image_url", img["type"])
	assert.Equal(t, "data:image/jpeg;base64,/9j/", img["image_url"].(map[string]any)["url"])
}

func TestGradeRejectsRawPDFWithoutNetwork(t *testing.T) {
	e, hits := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, completion("{}"))
	})
	pdf := grading.NewImagePart([]byte("%PDF-1.4"), "application/pdf")

	// fails the same way with or without a key
	for _, key := range []string{"sk-caller", ""} {
		_, err := e.Grade(context.Background(), composed(pdf), grading.DispatchConfig{Credential: key})
		assert.ErrorIs(t, err, apperr.ErrUnsupportedPayload)
	}
	assert.Zero(t, atomic.LoadInt32(hits))
}

func TestGradeRequiresCallerCredential(t *testing.T) {
	e, hits := newServer(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := e.Grade(context.Background(), composed(), grading.DispatchConfig{Credential: "  "})
	assert.ErrorIs(t, err, apperr.ErrMissingCredential)
	assert.Zero(t, atomic.LoadInt32(hits))
}

func TestGradeErrorResponses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    error
		message string
	}{
		{"openai error object", 401, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`, apperr.ErrBackend, "Incorrect API key provided"},
		{"string error", 400, `{"error":"bad model"}`, apperr.ErrBackend, "bad model"},
		{"html gateway page", 502, `<html>bad gateway</html>`, apperr.ErrBackend, "Bad Gateway"},
		{"no choices", 200, `{"choices":[]}`, apperr.ErrEmptyReply, ""},
		{"empty content", 200, completion(" "), apperr.ErrEmptyReply, ""},
		{"not json", 200, `ok`, apperr.ErrMalformedReply, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := e.Grade(context.Background(), composed(), grading.DispatchConfig{Credential: "k"})
			require.ErrorIs(t, err, tt.want)
			if tt.message != "" {
				var ae *apperr.Error
				require.ErrorAs(t, err, &ae)
				assert.Equal(t, tt.message, ae.Message)
				assert.Equal(t, tt.status, ae.Status)
			}
		})
	}
}

func TestPayloadTooLargeGetsGuidance(t *testing.T) {
	e, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
	})
	_, err := e.Grade(context.Background(), composed(), grading.DispatchConfig{Credential: "k"})
	require.Error(t, err)
	assert.True(t, apperr.IsPayloadTooLarge(err))
	assert.Contains(t, apperr.Human(err), "Reduce input size")
}

func TestCheckAttachments(t *testing.T) {
	assert.NoError(t, CheckAttachments(nil))
	assert.NoError(t, CheckAttachments([]grading.ImagePart{{MIMEType: "image/heic"}}))
	assert.ErrorIs(t, CheckAttachments([]grading.ImagePart{{MIMEType: "text/plain"}}), apperr.ErrUnsupportedPayload)
}
