package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"exam-grader/api/internal/app"
	"exam-grader/api/internal/apperr"
	"exam-grader/api/internal/export"
	"exam-grader/api/internal/grading"
	"exam-grader/api/internal/service"
	"exam-grader/api/internal/util"
)

type gradeFlags struct {
	question     string
	rubricText   string
	rubricFiles  []string
	studentText  string
	studentFiles []string
	backend      string
	model        string
	apiKey       string
	xlsx         string
	record       bool
	timeout      time.Duration
}

func newGradeCmd() *cobra.Command {
	var f gradeFlags
	cmd := &cobra.Command{
		Use:   "grade",
		Short: "Grade one student answer",
		Example: `  grader grade --question "Explain X" --rubric-text "Mentions Y: 2 pts" --student-file answer.jpg
  grader grade -q "Explain X" --rubric-file rubric.pdf --student-file p1.heic --student-file p2.heic --backend gpt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runGrade(cmd.Context(), cmd.OutOrStdout(), f); err != nil {
				return errors.New(apperr.Human(err))
			}
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.question, "question", "q", "", "exam question text")
	fl.StringVar(&f.rubricText, "rubric-text", "", "rubric as text")
	fl.StringArrayVar(&f.rubricFiles, "rubric-file", nil, "rubric photo, PDF or HEIC file (repeatable)")
	fl.StringVar(&f.studentText, "student-text", "", "student answer as text")
	fl.StringArrayVar(&f.studentFiles, "student-file", nil, "student answer photo, PDF or HEIC file (repeatable)")
	fl.StringVarP(&f.backend, "backend", "b", "", "gemini or gpt (default from config)")
	fl.StringVarP(&f.model, "model", "m", "", "model id (default from config)")
	fl.StringVar(&f.apiKey, "api-key", "", "API key for the backend (default from config)")
	fl.StringVar(&f.xlsx, "xlsx", "", "also write the grading to this .xlsx file")
	fl.BoolVar(&f.record, "record", false, "store the grading in the configured database")
	fl.DurationVar(&f.timeout, "timeout", 0, "overall timeout (default from config)")
	_ = cmd.MarkFlagRequired("question")
	return cmd
}

func runGrade(ctx context.Context, w io.Writer, f gradeFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := cliLogger()

	sub, err := buildSubmission(f)
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg, log, f.record)
	if err != nil {
		return err
	}
	defer a.Close()

	dc := grading.DispatchConfig{Backend: a.Grader.DefaultBackend, Model: f.model}
	if f.backend != "" {
		if dc.Backend, err = grading.ParseBackend(f.backend); err != nil {
			return err
		}
	}
	dc.Credential = f.apiKey
	if dc.Credential == "" {
		dc.Credential = a.Credentials()[dc.Backend]
	}

	timeout := f.timeout
	if timeout <= 0 {
		timeout = cfg.RequestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := a.Grader.Grade(ctx, sub, dc)
	if err != nil {
		return err
	}
	if f.xlsx != "" {
		b, err := export.GradingXLSX(sub.Question, out.Result)
		if err != nil {
			return fmt.Errorf("xlsx: %w", err)
		}
		if err := os.WriteFile(f.xlsx, b, 0o644); err != nil {
			return err
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func buildSubmission(f gradeFlags) (service.Submission, error) {
	sub := service.Submission{
		Question:    strings.TrimSpace(f.question),
		RubricText:  f.rubricText,
		StudentText: f.studentText,
	}
	var err error
	if sub.RubricFiles, err = readDocuments(f.rubricFiles); err != nil {
		return service.Submission{}, err
	}
	if sub.StudentFiles, err = readDocuments(f.studentFiles); err != nil {
		return service.Submission{}, err
	}
	return sub, nil
}

// readDocuments loads files in argument order and guesses each MIME type from
// the extension, then from the content.
func readDocuments(paths []string) ([]grading.RawDocument, error) {
	docs := make([]grading.RawDocument, 0, len(paths))
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		hint := mime.TypeByExtension(strings.ToLower(filepath.Ext(p)))
		if i := strings.IndexByte(hint, ';'); i >= 0 {
			hint = hint[:i]
		}
		docs = append(docs, grading.RawDocument{
			Name:     filepath.Base(p),
			MIMEType: util.PickMIME("", hint, b),
			Data:     b,
		})
	}
	return docs, nil
}
