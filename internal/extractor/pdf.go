package extractor

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"document-translator/internal/logger"
	"document-translator/internal/types"
)

// Thresholds for classifying an embedded image as a rendered formula strip:
// short, wide and not page-sized.
const (
	formulaImageMaxHeight   = 160
	formulaImageMinWidth    = 40
	formulaImageMaxWidth    = 1400
	formulaImageMinAspect   = 2.0
	rowYTolerance           = 5.0
	defaultFontSize         = 10.0
)

// extractPDF validates the PDF, pulls the text layer page by page, attaches
// embedded images, and falls back to OCR for pages without usable text.
func (e *Extractor) extractPDF(ctx context.Context, data []byte, lang types.Language) (*types.Document, []types.Warning, error) {
	conf := model.NewDefaultConfiguration()

	if err := api.Validate(bytes.NewReader(data), conf); err != nil {
		return nil, nil, types.NewAppError(types.ErrExtractionFailure, "PDF failed structural validation", err)
	}
	pageCount, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return nil, nil, types.NewAppError(types.ErrExtractionFailure, "failed to determine PDF page count", err)
	}
	if pageCount == 0 {
		return nil, nil, types.NewAppError(types.ErrExtractionFailure, "PDF has no pages", nil)
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, types.NewAppError(types.ErrExtractionFailure, "failed to open PDF", err)
	}

	pageImages := extractPageImages(data, conf)

	doc := &types.Document{Language: lang, PageCount: pageCount}
	var warnings []types.Warning

	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, types.NewAppError(types.ErrExtractionFailure, "extraction cancelled", err)
		}

		page := types.Page{Index: pageNum - 1}
		page.Width, page.Height = pageSize(reader, pageNum)
		page.Blocks = extractPageText(reader, pageNum)
		images := pageImages[pageNum]

		if countTextChars(page.Blocks) < e.cfg.MinPageChars {
			// Image-only (scanned) page: OCR the largest embedded image,
			// which for scans is the full page raster.
			page.Raster = largestImage(images)
			ocrBlocks, warn := e.ocrPage(ctx, page.Raster, lang, pageNum)
			if warn != nil {
				page.Degraded = true
				warnings = append(warnings, *warn)
			} else {
				page.Blocks = ocrBlocks
				page.UsedOCR = true
			}
		} else {
			// Text page: embedded images ride along as image blocks so the
			// detector can pick out rendered formula strips.
			for _, img := range images {
				page.Blocks = append(page.Blocks, types.Block{
					Index:     len(page.Blocks),
					Kind:      types.BlockImage,
					Image:     img,
					IsFormula: isLikelyFormulaImage(img),
				})
			}
			if len(images) > 0 {
				page.Raster = largestImage(images)
			}
		}

		doc.Pages = append(doc.Pages, page)
	}

	logger.Info("PDF extraction complete",
		logger.Int("pages", pageCount),
		logger.Int("warnings", len(warnings)))
	return doc, warnings, nil
}

// pageSize reads the page MediaBox in PDF points. Returns zeros when the
// page carries no geometry of its own.
func pageSize(reader *pdf.Reader, pageNum int) (float64, float64) {
	p := reader.Page(pageNum)
	if p.V.IsNull() {
		return 0, 0
	}
	mb := p.V.Key("MediaBox")
	if mb.Kind() != pdf.Array || mb.Len() < 4 {
		return 0, 0
	}
	return mb.Index(2).Float64() - mb.Index(0).Float64(),
		mb.Index(3).Float64() - mb.Index(1).Float64()
}

// extractPageText pulls the text layer of one page as row blocks in reading
// order. Rows of PDF operator garbage and control-character noise are
// filtered out.
func extractPageText(reader *pdf.Reader, pageNum int) []types.Block {
	page := reader.Page(pageNum)
	if page.V.IsNull() {
		return nil
	}
	if page.V.Key("Contents").Kind() == pdf.Null {
		return nil
	}

	rows, err := page.GetTextByRow()
	if err != nil {
		logger.Debug("text layer unreadable", logger.Int("page", pageNum), logger.Err(err))
		return nil
	}

	type rowBlock struct {
		text     string
		x, y     float64
		width    float64
		height   float64
	}
	var collected []rowBlock

	for _, row := range rows {
		if len(row.Content) == 0 {
			continue
		}

		var sb strings.Builder
		var minX, maxX, minY float64
		var totalFontSize float64
		first := true
		for _, t := range row.Content {
			if t.S == "" || isPostScriptCode(t.S) {
				continue
			}
			sb.WriteString(t.S)
			if first {
				minX, maxX, minY = t.X, t.X, t.Y
				first = false
			} else {
				if t.X < minX {
					minX = t.X
				}
				if t.X > maxX {
					maxX = t.X
				}
				if t.Y < minY {
					minY = t.Y
				}
			}
			totalFontSize += t.FontSize
		}

		text := strings.TrimSpace(sb.String())
		if text == "" || isPostScriptCode(text) || hasExcessiveNonPrintable(text) {
			continue
		}

		avgFontSize := totalFontSize / float64(len(row.Content))
		if avgFontSize <= 0 {
			avgFontSize = defaultFontSize
		}
		width := maxX - minX + avgFontSize
		if est := float64(len(text)) * avgFontSize * 0.5; est > width {
			width = est
		}

		collected = append(collected, rowBlock{
			text:   text,
			x:      minX,
			y:      minY,
			width:  width,
			height: avgFontSize * 1.2,
		})
	}

	// PDF coordinates have the origin at the bottom left: sort descending by
	// Y for top-to-bottom reading order, left to right within a line.
	sort.SliceStable(collected, func(i, j int) bool {
		if diff := collected[i].y - collected[j].y; diff > rowYTolerance || diff < -rowYTolerance {
			return collected[i].y > collected[j].y
		}
		return collected[i].x < collected[j].x
	})

	blocks := make([]types.Block, 0, len(collected))
	for _, rb := range collected {
		blocks = append(blocks, types.Block{
			Index: len(blocks),
			Kind:  types.BlockText,
			Text:  rb.text,
			Region: &types.Region{
				X:      rb.x,
				Y:      rb.y,
				Width:  rb.width,
				Height: rb.height,
			},
			IsFormula: isMathFormula(rb.text),
		})
	}
	return blocks
}

// extractPageImages pulls all embedded raster images, keyed by 1-based page
// number. Extraction problems are logged and tolerated; images are an
// enrichment, not a requirement.
func extractPageImages(data []byte, conf *model.Configuration) map[int][][]byte {
	out := make(map[int][][]byte)

	images, err := api.ExtractImagesRaw(bytes.NewReader(data), nil, conf)
	if err != nil {
		logger.Debug("embedded image extraction failed", logger.Err(err))
		return out
	}

	for _, pageMap := range images {
		for _, img := range pageMap {
			b, err := io.ReadAll(img)
			if err != nil || len(b) == 0 {
				continue
			}
			out[img.PageNr] = append(out[img.PageNr], b)
		}
	}
	return out
}

// largestImage returns the image with the biggest pixel area, or the longest
// byte slice when no image decodes.
func largestImage(images [][]byte) []byte {
	var best []byte
	bestArea := -1
	for _, img := range images {
		w, h, ok := imageSize(img)
		area := w * h
		if !ok {
			area = 0
		}
		if area > bestArea || (area == bestArea && len(img) > len(best)) {
			best = img
			bestArea = area
		}
	}
	return best
}

// isLikelyFormulaImage reports whether an embedded image has the shape of a
// rendered formula: a short, wide strip rather than a figure or a full page.
func isLikelyFormulaImage(img []byte) bool {
	w, h, ok := imageSize(img)
	if !ok || h <= 0 {
		return false
	}
	if h > formulaImageMaxHeight || w < formulaImageMinWidth || w > formulaImageMaxWidth {
		return false
	}
	return float64(w)/float64(h) >= formulaImageMinAspect
}

// imageSize decodes only the image header.
func imageSize(img []byte) (int, int, bool) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}

// isPostScriptCode reports whether text looks like PDF/PostScript operator
// garbage leaked out of a content stream.
func isPostScriptCode(text string) bool {
	if len(text) == 0 {
		return false
	}
	textLower := strings.ToLower(text)

	if (strings.Contains(text, " def ") || strings.HasSuffix(text, " def")) && strings.Contains(text, "/") {
		return true
	}
	if strings.Contains(textLower, "null def") {
		return true
	}
	if strings.Contains(text, "@stx") || strings.Contains(text, "@etx") {
		return true
	}

	psOperators := []string{
		"currentpoint", "gsave", "grestore", "newpath", "closepath",
		"setrgbcolor", "setgray", "setlinewidth", "showpage",
		"moveto", "lineto", "curveto",
	}
	for _, op := range psOperators {
		if strings.Contains(textLower, op) {
			return true
		}
	}

	// Many PostScript-style /Name tokens in one row is operator garbage,
	// unless the row is a URL.
	if !strings.Contains(textLower, "http") {
		nameCount := 0
		for _, word := range strings.Fields(text) {
			if len(word) > 1 && word[0] == '/' && isPSName(word[1:]) {
				nameCount++
			}
		}
		if nameCount >= 3 {
			return true
		}
	}
	return false
}

func isPSName(s string) bool {
	for _, c := range s {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '@') {
			return false
		}
	}
	return true
}
