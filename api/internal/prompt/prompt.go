// Package prompt assembles a grading request: the grader persona, the grading
// rules, the question, rubric and student answer, and the reply shape.
package prompt

import (
	"fmt"
	"strings"

	"exam-grader/api/internal/apperr"
	"exam-grader/api/internal/grading"
)

// Persona is the system instruction sent to every backend.
const Persona = `You are an expert, impartial exam grader. You read a student's handwritten or typed answer, compare it with the official rubric or answer key, and award points strictly according to that rubric. You never invent rubric criteria and you never give credit for content the student did not write.`

// Rules are the grading rules appended to every request.
const Rules = `GRADING RULES (apply all of them):
1. Literal keyword matching: when the rubric names a specific term, value, formula or fact, award the point only if the student's answer contains that term or an unambiguous equivalent. Do not infer knowledge the student did not write down.
2. Task-verb sensitivity: respect the command word of the question. "State" or "Name" needs only the item; "Describe" needs characteristics; "Explain" needs a reason or mechanism ("because", "due to", "so that"); "Compare" needs both similarities or differences made explicit; "Calculate" needs the working and the final answer with units when the rubric asks for them. An answer that lists facts where an explanation is required does not earn the explanation points.
3. Contradiction penalty: if the student states a correct point and also a contradicting or incorrect version of the same point, award no credit for that point.
4. Partial credit: each rubric point is binary (full points or zero) unless the rubric explicitly defines partial marks for it.
5. Evidence citation: for every rubric point, quote the exact words from the student's answer that earned the credit, or state that no matching evidence was found. Put this evidence in the feedback and in each scoreBreakdown description.
6. Recognition: transcribe the student's answer as faithfully as possible into recognizedText, marking illegible fragments as [illegible]. If the student's name is not visible, use "N/A" for studentName.
7. totalScore must equal the sum of pointsAwarded, and maxScore must equal the sum of maxPoints as defined by the rubric.`

// Material is one side of the request, given either as text or as images.
type Material struct {
	Text   string
	Images []grading.ImagePart
}

func (m Material) empty() bool { return strings.TrimSpace(m.Text) == "" && len(m.Images) == 0 }

// Build checks the inputs and assembles the logical request.
func Build(question string, rubric, student Material, backend grading.BackendID) (grading.LogicalRequest, error) {
	if strings.TrimSpace(question) == "" {
		return grading.LogicalRequest{}, apperr.New(apperr.InvalidRequest, "question is required")
	}
	if err := checkMaterial("rubric", rubric); err != nil {
		return grading.LogicalRequest{}, err
	}
	if err := checkMaterial("student answer", student); err != nil {
		return grading.LogicalRequest{}, err
	}
	return grading.LogicalRequest{
		QuestionText:  strings.TrimSpace(question),
		RubricText:    strings.TrimSpace(rubric.Text),
		RubricImages:  rubric.Images,
		StudentText:   strings.TrimSpace(student.Text),
		StudentImages: student.Images,
		Backend:       backend,
	}, nil
}

func checkMaterial(what string, m Material) error {
	if m.empty() {
		return apperr.Newf(apperr.InvalidRequest, "%s is required (text or files)", what)
	}
	if strings.TrimSpace(m.Text) != "" && len(m.Images) > 0 {
		return apperr.Newf(apperr.InvalidRequest, "%s: give either text or files, not both", what)
	}
	return nil
}

// Composed is a logical request rendered into instructions, ready for any backend.
type Composed struct {
	System string
	User   string
	// Attachments are rubric images followed by student images.
	Attachments []grading.ImagePart
}

func Render(req grading.LogicalRequest) Composed {
	var b strings.Builder
	b.WriteString("QUESTION:\n")
	b.WriteString(req.QuestionText)
	b.WriteString("\n\n")

	nr := len(req.RubricImages)
	b.WriteString("RUBRIC / ANSWER KEY:\n")
	if nr > 0 {
		fmt.Fprintf(&b, "Provided as the first %d attached image(s).\n\n", nr)
	} else {
		b.WriteString(req.RubricText)
		b.WriteString("\n\n")
	}

	b.WriteString("STUDENT ANSWER:\n")
	if ns := len(req.StudentImages); ns > 0 {
		if nr > 0 {
			fmt.Fprintf(&b, "Provided as the %d attached image(s) that follow the rubric images.\n\n", ns)
		} else {
			fmt.Fprintf(&b, "Provided as the %d attached image(s).\n\n", ns)
		}
	} else {
		b.WriteString(req.StudentText)
		b.WriteString("\n\n")
	}

	b.WriteString(Rules)
	b.WriteString("\n\nReturn ONLY a JSON object of exactly this shape, with no text outside the JSON:\n")
	b.WriteString(ResultShape)

	return Composed{
		System:      Persona,
		User:        b.String(),
		Attachments: req.Attachments(),
	}
}
