package recognizer

import (
	"bytes"
	"image"
	_ "image/jpeg"
	"image/png"

	xdraw "golang.org/x/image/draw"

	"document-translator/internal/logger"
	"document-translator/internal/types"
)

const (
	// cropPadding widens the block region slightly so ascenders and
	// descenders survive the crop. In page points.
	cropPadding = 4.0
	// minCropHeight is the smallest crop height, in pixels, handed to
	// recognition or embedded in the output. Smaller crops get upscaled.
	minCropHeight = 32
)

// cropSpan cuts the span's block region out of the page raster and returns
// it as PNG. Returns nil when the page has no raster or the block carries no
// region.
func (r *Recognizer) cropSpan(doc *types.Document, span *types.FormulaSpan) []byte {
	if doc == nil || span.PageIndex < 0 || span.PageIndex >= len(doc.Pages) {
		return nil
	}
	page := &doc.Pages[span.PageIndex]
	if len(page.Raster) == 0 || page.Width <= 0 || page.Height <= 0 {
		return nil
	}

	var region *types.Region
	for i := range page.Blocks {
		if page.Blocks[i].Index == span.BlockIndex {
			region = page.Blocks[i].Region
			break
		}
	}
	if region == nil || region.IsEmpty() {
		return nil
	}

	img, _, err := image.Decode(bytes.NewReader(page.Raster))
	if err != nil {
		logger.Debug("page raster undecodable", logger.Int("page", span.PageIndex), logger.Err(err))
		return nil
	}
	b := img.Bounds()
	scaleX := float64(b.Dx()) / page.Width
	scaleY := float64(b.Dy()) / page.Height

	// Block regions use the PDF bottom-left origin; rasters are top-left.
	top := page.Height - (region.Y + region.Height)

	x0 := clamp(int((region.X-cropPadding)*scaleX), 0, b.Dx())
	x1 := clamp(int((region.X+region.Width+cropPadding)*scaleX), 0, b.Dx())
	y0 := clamp(int((top-cropPadding)*scaleY), 0, b.Dy())
	y1 := clamp(int((top+region.Height+cropPadding)*scaleY), 0, b.Dy())
	if x1 <= x0 || y1 <= y0 {
		return nil
	}

	rect := image.Rect(b.Min.X+x0, b.Min.Y+y0, b.Min.X+x1, b.Min.Y+y1)
	crop := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	xdraw.Draw(crop, crop.Bounds(), img, rect.Min, xdraw.Src)

	out := image.Image(crop)
	if h := crop.Bounds().Dy(); h > 0 && h < minCropHeight {
		scaled := image.NewRGBA(image.Rect(0, 0, crop.Bounds().Dx()*2, h*2))
		xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), crop, crop.Bounds(), xdraw.Src, nil)
		out = scaled
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		logger.Debug("formula crop encoding failed", logger.Err(err))
		return nil
	}
	return buf.Bytes()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
