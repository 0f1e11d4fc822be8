// Package normalize turns one user file into inline image parts a vision backend can take:
// PDFs are rasterized, large photos are downscaled, HEIC is passed through.
package normalize

import (
	"context"
	"image"
	"strings"

	"github.com/rs/zerolog"

	"exam-grader/api/internal/apperr"
	"exam-grader/api/internal/grading"
	"exam-grader/api/internal/util"
)

type Options struct {
	// MaxInputBytes rejects a file before any processing.
	MaxInputBytes int64
	// PDFRasterizeAbove forces rasterization of larger PDFs even for backends that read PDFs.
	PDFRasterizeAbove int64
	// RawPDFFallbackMax bounds the raw-PDF fallback when rasterization fails.
	RawPDFFallbackMax int64
	MaxPages          int
	RenderScale       float64
	JPEGQuality       int
	// ImagePassthroughBelow keeps smaller raster images byte-identical.
	ImagePassthroughBelow int64
	MaxImageEdge          int
	// MaxDecodePixels bounds width*height of a raster before it is decoded.
	// Larger images are passed through raw.
	MaxDecodePixels int64
}

func DefaultOptions() Options {
	return Options{
		MaxInputBytes:         20 << 20,
		PDFRasterizeAbove:     3 << 20,
		RawPDFFallbackMax:     15 << 20,
		MaxPages:              5,
		RenderScale:           1.5,
		JPEGQuality:           70,
		ImagePassthroughBelow: 2 << 20,
		MaxImageEdge:          1536,
		MaxDecodePixels:       50_000_000,
	}
}

// Rasterizer renders the first maxPages pages of a PDF at dpi.
// total is the page count of the whole document.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdf []byte, maxPages int, dpi float64) (pages []image.Image, total int, err error)
}

type Normalizer struct {
	opts   Options
	raster Rasterizer
	log    zerolog.Logger
}

type Option func(*Normalizer)

func WithOptions(o Options) Option { return func(n *Normalizer) { n.opts = o } }

func WithRasterizer(r Rasterizer) Option { return func(n *Normalizer) { n.raster = r } }

func New(log zerolog.Logger, opts ...Option) *Normalizer {
	n := &Normalizer{
		opts:   DefaultOptions(),
		raster: MuPDF{},
		log:    log.With().Str("component", "normalize").Logger(),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Report is the outcome of one normalization.
type Report struct {
	Parts []grading.ImagePart
	// PageCount and DroppedPages are set for rasterized PDFs.
	PageCount    int
	DroppedPages int
}

// Normalize converts doc into 1..N image parts for a backend with constraints c.
func (n *Normalizer) Normalize(ctx context.Context, doc grading.RawDocument, c grading.Constraints) ([]grading.ImagePart, error) {
	rep, err := n.NormalizeReport(ctx, doc, c)
	if err != nil {
		return nil, err
	}
	return rep.Parts, nil
}

// NormalizeReport is Normalize plus page accounting for PDFs.
func (n *Normalizer) NormalizeReport(ctx context.Context, doc grading.RawDocument, c grading.Constraints) (Report, error) {
	mime, err := n.Check(doc)
	if err != nil {
		return Report{}, err
	}
	ev := n.log.Debug().Str("name", doc.Name).Str("mime", mime).Int64("size", doc.Size())

	switch {
	case mime == util.MIMEPDF:
		ev.Msg("normalize.pdf")
		return n.normalizePDF(ctx, doc, c)
	case isStandardRaster(mime):
		ev.Msg("normalize.image")
		return n.normalizeRaster(doc, mime), nil
	default:
		ev.Msg("normalize.passthrough")
		return Report{Parts: []grading.ImagePart{grading.NewImagePart(doc.Data, mime)}}, nil
	}
}

// Check validates size and type and returns the MIME type normalization will use.
func (n *Normalizer) Check(doc grading.RawDocument) (string, error) {
	if doc.Size() == 0 {
		return "", apperr.Newf(apperr.ConversionFailure, "%s is empty", displayName(doc))
	}
	if n.opts.MaxInputBytes > 0 && doc.Size() > n.opts.MaxInputBytes {
		return "", apperr.Newf(apperr.OversizedInput, "%s is %d bytes, limit is %d", displayName(doc), doc.Size(), n.opts.MaxInputBytes)
	}
	// a generic declared type is resolved from the name or content first
	mt := ResolveMIME(doc)
	if !Accepts(doc.Name, mt) {
		return "", apperr.Newf(apperr.UnsupportedFormat, "%s has type %q", displayName(doc), mt)
	}
	return mt, nil
}

// Accepts reports whether a file is an image, a PDF or a .heic photo.
func Accepts(name, mime string) bool {
	mt := strings.ToLower(strings.TrimSpace(mime))
	return strings.HasPrefix(mt, "image/") || mt == util.MIMEPDF || IsHEICName(name)
}

func IsHEICName(name string) bool {
	return strings.HasSuffix(strings.ToLower(strings.TrimSpace(name)), ".heic")
}

// ResolveMIME returns the declared type. A generic or absent one becomes
// image/heic for .heic names and is sniffed from the content otherwise.
func ResolveMIME(doc grading.RawDocument) string {
	mt := strings.ToLower(strings.TrimSpace(doc.MIMEType))
	if util.IsGenericMIME(mt) {
		if IsHEICName(doc.Name) {
			return util.MIMEHEIC
		}
		if sniffed := util.SniffMIME(doc.Data); sniffed != "" {
			return sniffed
		}
	}
	if mt == "image/jpg" {
		return util.MIMEJPEG
	}
	return mt
}

func isStandardRaster(mime string) bool {
	switch mime {
	case util.MIMEJPEG, util.MIMEPNG, util.MIMEWebP:
		return true
	}
	return false
}

func displayName(doc grading.RawDocument) string {
	if doc.Name != "" {
		return doc.Name
	}
	return "file"
}
