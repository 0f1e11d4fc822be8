package grading

import (
	"encoding/base64"
	"fmt"
	"strings"

	"exam-grader/api/internal/util"
)

type BackendID string

const (
	// BackendGemini is the schema-constrained generation backend.
	BackendGemini BackendID = "gemini"
	// BackendGPT is the OpenAI-compatible chat completions backend.
	BackendGPT BackendID = "gpt"
)

func ParseBackend(s string) (BackendID, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gemini", "google":
		return BackendGemini, nil
	case "gpt", "openai":
		return BackendGPT, nil
	default:
		return "", fmt.Errorf("unknown backend %q (want gemini | gpt)", s)
	}
}

// Constraints are the payload limits the normalizer has to respect for a backend.
type Constraints struct {
	// AcceptsDocuments is true when the backend reads application/pdf natively.
	AcceptsDocuments bool
}

func (b BackendID) Constraints() Constraints {
	switch b {
	case BackendGemini:
		return Constraints{AcceptsDocuments: true}
	default:
		return Constraints{}
	}
}

// RawDocument is one user-supplied file before normalization.
type RawDocument struct {
	Name     string
	MIMEType string
	Data     []byte
}

func (d RawDocument) Size() int64 { return int64(len(d.Data)) }

// ImagePart is one inline attachment: base64 data plus its MIME type.
type ImagePart struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

func NewImagePart(b []byte, mime string) ImagePart {
	return ImagePart{Data: base64.StdEncoding.EncodeToString(b), MIMEType: mime}
}

func (p ImagePart) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(p.Data)
}

func (p ImagePart) DataURL() string { return util.MakeDataURL(p.MIMEType, p.Data) }

// IsDocument reports a raw, non-rasterized PDF.
func (p ImagePart) IsDocument() bool {
	return strings.EqualFold(p.MIMEType, util.MIMEPDF)
}

// LogicalRequest is one grading request independent of the backend wire format.
// Rubric and student answer are each either text or images, never both.
type LogicalRequest struct {
	QuestionText  string      `json:"questionText"`
	RubricText    string      `json:"rubricText,omitempty"`
	RubricImages  []ImagePart `json:"rubricImages,omitempty"`
	StudentText   string      `json:"studentText,omitempty"`
	StudentImages []ImagePart `json:"studentImages,omitempty"`
	Backend       BackendID   `json:"backendId"`
}

// Attachments returns rubric images followed by student images.
func (r LogicalRequest) Attachments() []ImagePart {
	out := make([]ImagePart, 0, len(r.RubricImages)+len(r.StudentImages))
	out = append(out, r.RubricImages...)
	return append(out, r.StudentImages...)
}

// ScoreItem is one rubric line. PointsAwarded is not clamped to MaxPoints.
type ScoreItem struct {
	Description   string  `json:"description"`
	PointsAwarded float64 `json:"pointsAwarded"`
	MaxPoints     float64 `json:"maxPoints"`
}

type GradingResult struct {
	StudentName    string      `json:"studentName"`
	RecognizedText string      `json:"recognizedText"`
	Feedback       string      `json:"feedback"`
	TotalScore     float64     `json:"totalScore"`
	MaxScore       float64     `json:"maxScore"`
	ScoreBreakdown []ScoreItem `json:"scoreBreakdown"`
}

// DispatchConfig selects the backend and carries the caller's credential for one dispatch.
type DispatchConfig struct {
	Backend    BackendID
	Credential string
	Model      string
}
