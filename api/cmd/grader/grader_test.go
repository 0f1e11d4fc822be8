package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadDocumentsKeepsOrderAndGuessesType(t *testing.T) {
	dir := t.TempDir()
	pdf := filepath.Join(dir, "rubric.pdf")
	heic := filepath.Join(dir, "IMG_1.HEIC")
	noext := filepath.Join(dir, "scan")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.4"), 0o644))
	require.NoError(t, os.WriteFile(heic, append([]byte{0, 0, 0, 0x18}, []byte("ftypheic0000")...), 0o644))
	require.NoError(t, os.WriteFile(noext, []byte{0xFF, 0xD8, 0xFF}, 0o644))

	docs, err := readDocuments([]string{pdf, heic, noext})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "rubric.pdf", docs[0].Name)
	assert.Equal(t, "application/pdf", docs[0].MIMEType)
	assert.Equal(t, "IMG_1.HEIC", docs[1].Name)
	assert.Equal(t, "image/heic", docs[1].MIMEType)
	assert.Equal(t, "image/jpeg", docs[2].MIMEType)

	_, err = readDocuments([]string{filepath.Join(dir, "missing.jpg")})
	assert.Error(t, err)
}

func TestBuildSubmission(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.jpg")
	require.NoError(t, os.WriteFile(p, []byte{0xFF, 0xD8}, 0o644))

	sub, err := buildSubmission(gradeFlags{question: "  Explain X ", rubricText: "Mentions Y", studentFiles: []string{p}})
	require.NoError(t, err)
	assert.Equal(t, "Explain X", sub.Question)
	assert.Equal(t, "Mentions Y", sub.RubricText)
	assert.Empty(t, sub.RubricFiles)
	require.Len(t, sub.StudentFiles, 1)
}

func TestSchemaCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"schema"})
	require.NoError(t, root.Execute())

	var s map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &s))
	assert.Equal(t, "GradingResult", s["title"])
}

func TestGradeRequiresQuestion(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"grade", "--student-text", "x"})
	assert.Error(t, root.Execute())
}

func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"GRADER_CONFIG", "DEFAULT_BACKEND", "GEMINI_API_KEY", "OPENAI_API_KEY", "OPENAI_MODEL",
		"OPENAI_BASE_URL", "OPENAI_TIMEOUT", "DATABASE_URL", "PGHOST", "REQUEST_TIMEOUT", "MAX_INPUT_BYTES",
	} {
		t.Setenv(k, "")
	}
	t.Chdir(t.TempDir())
}

func TestGradeReportsHumanMessage(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"payload too large", http.StatusRequestEntityTooLarge, "<html>413 Request Entity Too Large</html>", "Reduce input size"},
		{"backend message", http.StatusUnauthorized, `{"error":{"message":"Incorrect API key provided"}}`, "Model service error: Incorrect API key provided"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateEnv(t)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()
			t.Setenv("OPENAI_BASE_URL", srv.URL)
			t.Setenv("OPENAI_API_KEY", "sk-test")

			root := newRootCmd()
			var out bytes.Buffer
			root.SetOut(&out)
			root.SetErr(&bytes.Buffer{})
			root.SetArgs([]string{"grade", "-q", "Explain X", "--rubric-text", "1 point: defines X",
				"--student-text", "X is ...", "--backend", "gpt"})

			err := root.Execute()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.NotContains(t, err.Error(), "sk-test")
			assert.Empty(t, out.String())
		})
	}
}

func TestGradeMissingCredentialIsHuman(t *testing.T) {
	isolateEnv(t)
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"grade", "-q", "Q", "--rubric-text", "R", "--student-text", "S", "--backend", "gpt"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "An API key is required")
}
