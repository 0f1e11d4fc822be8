package handle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"exam-grader/api/internal/apperr"
	"exam-grader/api/internal/grading"
	"exam-grader/api/internal/service"
	"exam-grader/api/internal/store"
)

type fakeGrader struct {
	out service.Outcome
	err error

	sub      service.Submission
	cfg      grading.DispatchConfig
	deadline time.Duration
}

func (f *fakeGrader) Grade(ctx context.Context, sub service.Submission, cfg grading.DispatchConfig) (service.Outcome, error) {
	f.sub, f.cfg = sub, cfg
	if dl, ok := ctx.Deadline(); ok {
		f.deadline = time.Until(dl)
	}
	return f.out, f.err
}

type fakeHistory struct {
	rows map[uuid.UUID]*store.GradingRow
}

func (f *fakeHistory) Get(ctx context.Context, id uuid.UUID) (*store.GradingRow, error) {
	if r, ok := f.rows[id]; ok {
		return r, nil
	}
	return nil, store.ErrNotFound
}

var result = grading.GradingResult{
	StudentName:    "Ann",
	Feedback:       "Good.",
	TotalScore:     2,
	MaxScore:       2,
	ScoreBreakdown: []grading.ScoreItem{{Description: "Mentions Y", PointsAwarded: 2, MaxPoints: 2}},
}

func TestGradeJSON(t *testing.T) {
	g := &fakeGrader{out: service.Outcome{RequestID: "r1", Backend: grading.BackendGPT, Result: result}}
	h := New(g, nil, zerolog.Nop())

	body := `{"question":"Explain X","rubric_text":"Mentions Y: 2 pts","backend":"openai","model":"gpt-4o-mini",
	  "student_files":[{"name":"a.jpg","data":"data:image/jpeg;base64,/9j/"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/grade", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer sk-123")
	req.Header.Set("X-Request-Timeout", "30")
	rec := httptest.NewRecorder()

	h.Grade(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, grading.DispatchConfig{Backend: grading.BackendGPT, Credential: "sk-123", Model: "gpt-4o-mini"}, g.cfg)
	assert.Equal(t, "Explain X", g.sub.Question)
	require.Len(t, g.sub.StudentFiles, 1)
	assert.Equal(t, "image/jpeg", g.sub.StudentFiles[0].MIMEType)
	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF}, g.sub.StudentFiles[0].Data)
	assert.InDelta(t, 30, g.deadline.Seconds(), 1)

	var out service.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, result, out.Result)
}

func TestRequestTimeoutIsCapped(t *testing.T) {
	h := New(&fakeGrader{}, nil, zerolog.Nop())
	h.Timeout = time.Minute

	tests := []struct {
		name   string
		header string
		query  string
		want   time.Duration
	}{
		{"default", "", "", time.Minute},
		{"shorter header", "30", "", 30 * time.Second},
		{"longer header", "36000", "", time.Minute},
		{"longer query", "", "?timeoutSec=7200", time.Minute},
		{"garbage", "soon", "", time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/grade"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("X-Request-Timeout", tt.header)
			}
			assert.Equal(t, tt.want, h.requestTimeout(req))
		})
	}
}

func TestGradeMultipart(t *testing.T) {
	g := &fakeGrader{out: service.Outcome{Result: result}}
	h := New(g, nil, zerolog.Nop())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("question", "Explain X"))
	require.NoError(t, mw.WriteField("rubric_text", "Mentions Y"))
	for _, name := range []string{"p1.heic", "p2.heic"} {
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", `form-data; name="student_files"; filename="`+name+`"`)
		hdr.Set("Content-Type", "application/octet-stream")
		pw, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		_, _ = pw.Write([]byte("heic-bytes-" + name))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/grade", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Api-Key", "gem-key")
	rec := httptest.NewRecorder()

	h.Grade(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "gem-key", g.cfg.Credential)
	assert.Empty(t, g.cfg.Backend)
	require.Len(t, g.sub.StudentFiles, 2)
	assert.Equal(t, "p1.heic", g.sub.StudentFiles[0].Name)
	assert.Equal(t, "p2.heic", g.sub.StudentFiles[1].Name)
}

func TestGradeOversizedPart(t *testing.T) {
	g := &fakeGrader{}
	h := New(g, nil, zerolog.Nop())
	h.MaxInputBytes = 10

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("student_files", "big.jpg")
	require.NoError(t, err)
	_, _ = fw.Write(bytes.Repeat([]byte{0xFF}, 64))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/grade", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.Grade(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	var eb errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &eb))
	assert.Equal(t, string(apperr.OversizedInput), eb.Kind)
}

func TestGradeErrors(t *testing.T) {
	tests := []struct {
		name string
		ct   string
		body string
		err  error
		want int
	}{
		{"bad json", "application/json", `{`, nil, http.StatusBadRequest},
		{"bad backend", "application/json", `{"backend":"claude"}`, nil, http.StatusBadRequest},
		{"text/plain body", "text/plain", `hi`, nil, http.StatusBadRequest},
		{"grader error", "application/json", `{}`, apperr.New(apperr.UnsupportedPayload, "raw pdf"), http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(&fakeGrader{err: tt.err}, nil, zerolog.Nop())
			req := httptest.NewRequest(http.MethodPost, "/v1/grade", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.ct)
			rec := httptest.NewRecorder()
			h.Grade(rec, req)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperr.New(apperr.InvalidRequest, ""), http.StatusBadRequest},
		{apperr.New(apperr.UnsupportedFormat, ""), http.StatusUnsupportedMediaType},
		{apperr.New(apperr.OversizedInput, ""), http.StatusRequestEntityTooLarge},
		{apperr.New(apperr.MissingCredential, ""), http.StatusUnauthorized},
		{apperr.New(apperr.ConversionFailure, ""), http.StatusUnprocessableEntity},
		{apperr.Backend(500, "x"), http.StatusBadGateway},
		{apperr.New(apperr.MalformedReply, ""), http.StatusBadGateway},
		{apperr.Wrap(apperr.BackendError, "call", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), "%v", tt.err)
	}
}

func historyRouter(h *Handle) http.Handler {
	r := chi.NewRouter()
	r.Get("/v1/gradings/{id}", h.GetGrading)
	r.Get("/v1/gradings/{id}/xlsx", h.GradingXLSX)
	r.Get("/v1/schema", h.Schema)
	return r
}

func TestHistoryEndpoints(t *testing.T) {
	id := uuid.New()
	hist := &fakeHistory{rows: map[uuid.UUID]*store.GradingRow{
		id: {ID: id, CreatedAt: time.Now(), Backend: "gemini", Question: "Explain X", Result: result},
	}}
	srv := httptest.NewServer(historyRouter(New(&fakeGrader{}, hist, zerolog.Nop())))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/gradings/" + id.String())
	require.NoError(t, err)
	var got struct {
		Question string                `json:"question"`
		Result   grading.GradingResult `json:"result"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Explain X", got.Question)
	assert.Equal(t, result, got.Result)

	resp, err = http.Get(srv.URL + "/v1/gradings/" + id.String() + "/xlsx")
	require.NoError(t, err)
	f, err := excelize.OpenReader(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	v, err := f.GetCellValue("Breakdown", "B2")
	require.NoError(t, err)
	assert.Equal(t, "Mentions Y", v)

	for path, want := range map[string]int{
		"/v1/gradings/" + uuid.NewString(): http.StatusNotFound,
		"/v1/gradings/not-a-uuid":          http.StatusBadRequest,
		"/v1/schema":                       http.StatusOK,
	} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, want, resp.StatusCode, path)
	}
}

func TestHistoryDisabled(t *testing.T) {
	srv := httptest.NewServer(historyRouter(New(&fakeGrader{}, nil, zerolog.Nop())))
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/v1/gradings/" + uuid.NewString())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}
