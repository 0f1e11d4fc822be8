package normalize

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"exam-grader/api/internal/grading"
	"exam-grader/api/internal/util"
)

func (n *Normalizer) normalizeRaster(doc grading.RawDocument, mime string) Report {
	if doc.Size() < n.opts.ImagePassthroughBelow {
		return Report{Parts: []grading.ImagePart{grading.NewImagePart(doc.Data, mime)}}
	}
	out, err := Downscale(doc.Data, n.opts.MaxImageEdge, n.opts.JPEGQuality, n.opts.MaxDecodePixels)
	if err != nil {
		n.log.Warn().Err(err).Str("name", doc.Name).Int64("size", doc.Size()).Msg("normalize.image.raw_fallback")
		return Report{Parts: []grading.ImagePart{grading.NewImagePart(doc.Data, mime)}}
	}
	return Report{Parts: []grading.ImagePart{grading.NewImagePart(out, util.MIMEJPEG)}}
}

// ErrTooManyPixels is returned by Downscale for images whose decoded size
// would exceed the pixel budget.
var ErrTooManyPixels = errors.New("image exceeds the decode pixel limit")

// Downscale decodes an image, fits its longer edge into maxEdge and re-encodes it as JPEG.
// Images already within maxEdge keep their size and are only re-encoded.
// The header is read first; images over maxPixels are not decoded. maxPixels <= 0 disables the check.
func Downscale(b []byte, maxEdge, quality int, maxPixels int64) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrTooManyPixels, cfg.Width, cfg.Height)
	}
	src, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	sb := src.Bounds()
	w, h := FitWithin(sb.Dx(), sb.Dy(), maxEdge)
	if w == 0 || h == 0 {
		return nil, errors.New("empty image")
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// JPEG has no alpha: flatten onto white
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, sb, draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// FitWithin scales (w, h) proportionally so the longer edge is at most maxEdge.
func FitWithin(w, h, maxEdge int) (int, int) {
	long := max(w, h)
	if long <= maxEdge || maxEdge <= 0 {
		return w, h
	}
	scale := float64(maxEdge) / float64(long)
	nw := int(math.Round(float64(w) * scale))
	nh := int(math.Round(float64(h) * scale))
	if w >= h {
		nw = maxEdge
	} else {
		nh = maxEdge
	}
	return max(nw, 1), max(nh, 1)
}
