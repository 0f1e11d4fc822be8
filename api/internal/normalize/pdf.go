package normalize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/gen2brain/go-fitz"

	"exam-grader/api/internal/apperr"
	"exam-grader/api/internal/grading"
	"exam-grader/api/internal/util"
)

// pdfBaseDPI is the user-space resolution a render scale of 1.0 maps to.
const pdfBaseDPI = 72.0

// MuPDF rasterizes pages with go-fitz.
type MuPDF struct{}

func (MuPDF) Rasterize(ctx context.Context, pdf []byte, maxPages int, dpi float64) ([]image.Image, int, error) {
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, 0, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	total := doc.NumPage()
	if total == 0 {
		return nil, 0, errors.New("pdf has no pages")
	}
	n := min(total, maxPages)
	pages := make([]image.Image, 0, n)
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return nil, total, ctx.Err()
		default:
		}
		img, err := doc.ImageDPI(i, dpi)
		if err != nil {
			return nil, total, fmt.Errorf("render page %d: %w", i+1, err)
		}
		pages = append(pages, img)
	}
	return pages, total, nil
}

func (n *Normalizer) normalizePDF(ctx context.Context, doc grading.RawDocument, c grading.Constraints) (Report, error) {
	size := doc.Size()
	if c.AcceptsDocuments && size <= n.opts.PDFRasterizeAbove {
		return Report{Parts: []grading.ImagePart{grading.NewImagePart(doc.Data, util.MIMEPDF)}}, nil
	}

	rep, err := n.rasterizePDF(ctx, doc)
	if err == nil {
		return rep, nil
	}
	if c.AcceptsDocuments && size <= n.opts.RawPDFFallbackMax {
		n.log.Warn().Err(err).Str("name", doc.Name).Int64("size", size).Msg("normalize.pdf.raw_fallback")
		return Report{Parts: []grading.ImagePart{grading.NewImagePart(doc.Data, util.MIMEPDF)}}, nil
	}
	return Report{}, apperr.Wrap(apperr.ConversionFailure, "rasterize "+displayName(doc), err)
}

func (n *Normalizer) rasterizePDF(ctx context.Context, doc grading.RawDocument) (Report, error) {
	pages, total, err := n.raster.Rasterize(ctx, doc.Data, n.opts.MaxPages, pdfBaseDPI*n.opts.RenderScale)
	if err != nil {
		return Report{}, err
	}
	if len(pages) == 0 {
		return Report{}, errors.New("no pages rendered")
	}

	parts := make([]grading.ImagePart, 0, len(pages))
	for i, img := range pages {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: n.opts.JPEGQuality}); err != nil {
			return Report{}, fmt.Errorf("encode page %d: %w", i+1, err)
		}
		parts = append(parts, grading.NewImagePart(buf.Bytes(), util.MIMEJPEG))
	}

	dropped := max(total-len(parts), 0)
	if dropped > 0 {
		n.log.Info().Str("name", doc.Name).Int("pages", total).Int("dropped", dropped).Msg("normalize.pdf.truncated")
	}
	return Report{Parts: parts, PageCount: total, DroppedPages: dropped}, nil
}
