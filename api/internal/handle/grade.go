package handle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"exam-grader/api/internal/apperr"
	"exam-grader/api/internal/grading"
	"exam-grader/api/internal/service"
	"exam-grader/api/internal/util"
)

// --- GRADE ------------------------------------------------------------------

type fileIn struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	// Data is base64 or a data: URI.
	Data string `json:"data"`
}

type gradeReq struct {
	Question     string   `json:"question"`
	RubricText   string   `json:"rubric_text"`
	StudentText  string   `json:"student_text"`
	Backend      string   `json:"backend"`
	Model        string   `json:"model"`
	RubricFiles  []fileIn `json:"rubric_files"`
	StudentFiles []fileIn `json:"student_files"`
}

// Grade accepts multipart/form-data (files as rubric_files / student_files)
// or a JSON body with base64 files.
func (h *Handle) Grade(w http.ResponseWriter, r *http.Request) {
	// headroom for several files plus form fields
	r.Body = http.MaxBytesReader(w, r.Body, 8*h.MaxInputBytes+(1<<20))

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var (
		sub     service.Submission
		backend string
		model   string
		err     error
	)
	switch ct {
	case "multipart/form-data":
		sub, backend, model, err = h.readMultipart(r)
	case "application/json", "":
		sub, backend, model, err = h.readJSON(r)
	default:
		err = apperr.Newf(apperr.InvalidRequest, "unsupported content type %q", ct)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	cfg := grading.DispatchConfig{Credential: credential(r), Model: strings.TrimSpace(model)}
	if strings.TrimSpace(backend) != "" {
		id, err := grading.ParseBackend(backend)
		if err != nil {
			writeError(w, apperr.Wrap(apperr.InvalidRequest, "backend", err))
			return
		}
		cfg.Backend = id
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout(r))
	defer cancel()

	out, err := h.grader.Grade(ctx, sub, cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handle) readMultipart(r *http.Request) (service.Submission, string, string, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return service.Submission{}, "", "", bodyError(err)
	}
	sub := service.Submission{
		Question:    r.FormValue("question"),
		RubricText:  r.FormValue("rubric_text"),
		StudentText: r.FormValue("student_text"),
	}
	var err error
	if sub.RubricFiles, err = h.readParts(r.MultipartForm.File["rubric_files"]); err != nil {
		return service.Submission{}, "", "", err
	}
	if sub.StudentFiles, err = h.readParts(r.MultipartForm.File["student_files"]); err != nil {
		return service.Submission{}, "", "", err
	}
	return sub, r.FormValue("backend"), r.FormValue("model"), nil
}

func (h *Handle) readParts(fhs []*multipart.FileHeader) ([]grading.RawDocument, error) {
	docs := make([]grading.RawDocument, 0, len(fhs))
	for _, fh := range fhs {
		if h.MaxInputBytes > 0 && fh.Size > h.MaxInputBytes {
			return nil, apperr.Newf(apperr.OversizedInput, "%s is %d bytes, limit is %d", fh.Filename, fh.Size, h.MaxInputBytes)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, apperr.Wrap(apperr.InvalidRequest, "open "+fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return nil, apperr.Wrap(apperr.InvalidRequest, "read "+fh.Filename, err)
		}
		docs = append(docs, grading.RawDocument{
			Name:     fh.Filename,
			MIMEType: util.PickMIME(fh.Header.Get("Content-Type"), "", data),
			Data:     data,
		})
	}
	return docs, nil
}

func (h *Handle) readJSON(r *http.Request) (service.Submission, string, string, error) {
	var req gradeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return service.Submission{}, "", "", bodyError(err)
	}
	rubric, err := decodeFiles(req.RubricFiles)
	if err != nil {
		return service.Submission{}, "", "", err
	}
	student, err := decodeFiles(req.StudentFiles)
	if err != nil {
		return service.Submission{}, "", "", err
	}
	return service.Submission{
		Question:     req.Question,
		RubricText:   req.RubricText,
		RubricFiles:  rubric,
		StudentText:  req.StudentText,
		StudentFiles: student,
	}, req.Backend, req.Model, nil
}

func decodeFiles(in []fileIn) ([]grading.RawDocument, error) {
	docs := make([]grading.RawDocument, 0, len(in))
	for i, f := range in {
		data, hint, err := util.DecodeBase64MaybeDataURL(f.Data)
		if err != nil {
			return nil, apperr.Wrap(apperr.InvalidRequest, fmt.Sprintf("file %d (%s): bad base64", i+1, f.Name), err)
		}
		docs = append(docs, grading.RawDocument{
			Name:     f.Name,
			MIMEType: util.PickMIME(f.MIMEType, hint, data),
			Data:     data,
		})
	}
	return docs, nil
}

func bodyError(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return apperr.Newf(apperr.OversizedInput, "request body exceeds %d bytes", mbe.Limit)
	}
	return apperr.Wrap(apperr.InvalidRequest, "bad request body", err)
}
