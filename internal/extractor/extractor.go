// Package extractor turns raw document bytes (PDF, DOCX, plain text) into the
// normalized page/block model consumed by the rest of the pipeline. Pages
// without a usable text layer fall back to optical character recognition;
// pages where that also fails are emitted empty, flagged degraded, and
// surfaced as warnings instead of failing the whole document.
package extractor

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	xunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"document-translator/internal/config"
	"document-translator/internal/logger"
	"document-translator/internal/types"
)

// OCRCapability recognizes text in a raster image. Implementations live
// outside this package; the extractor only depends on the contract.
type OCRCapability interface {
	RecognizeImage(ctx context.Context, image []byte, languages []string) (string, error)
}

// Extractor converts input documents into the normalized Document model.
type Extractor struct {
	cfg *config.Config
	ocr OCRCapability
}

// New creates an Extractor. The OCR capability may be nil; image-only pages
// are then emitted degraded.
func New(cfg *config.Config, ocr OCRCapability) *Extractor {
	return &Extractor{cfg: cfg, ocr: ocr}
}

// DetectFormat sniffs the document format from the leading bytes.
func DetectFormat(data []byte) (types.Format, error) {
	switch {
	case len(data) == 0:
		return "", types.NewAppError(types.ErrUnsupportedFormat, "empty input", nil)
	case bytes.HasPrefix(data, []byte("%PDF-")):
		return types.FormatPDF, nil
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		return types.FormatDocx, nil
	case looksLikeText(data):
		return types.FormatPlainText, nil
	default:
		return "", types.NewAppError(types.ErrUnsupportedFormat, "unrecognized document format", nil)
	}
}

// Extract parses data in the given format and declared source language.
// Warnings report per-page degradations; the returned error is fatal.
func (e *Extractor) Extract(ctx context.Context, data []byte, format types.Format, lang types.Language) (*types.Document, []types.Warning, error) {
	logger.Info("extracting document",
		logger.String("format", string(format)),
		logger.String("language", string(lang)),
		logger.Int("bytes", len(data)))

	switch format {
	case types.FormatPDF:
		return e.extractPDF(ctx, data, lang)
	case types.FormatDocx:
		doc, err := e.extractDocx(data, lang)
		return doc, nil, err
	case types.FormatPlainText:
		doc, err := e.extractPlainText(data, lang)
		return doc, nil, err
	default:
		return nil, nil, types.NewAppErrorWithDetails(types.ErrUnsupportedFormat,
			"unsupported document format", string(format), nil)
	}
}

// extractPlainText decodes the byte stream and splits it into line blocks on
// a single page.
func (e *Extractor) extractPlainText(data []byte, lang types.Language) (*types.Document, error) {
	text, err := decodeText(data, lang)
	if err != nil {
		return nil, err
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	page := types.Page{Index: 0}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			continue
		}
		page.Blocks = append(page.Blocks, types.Block{
			Index:     len(page.Blocks),
			Kind:      types.BlockText,
			Text:      line,
			IsFormula: isMathFormula(line),
		})
	}

	return &types.Document{Language: lang, PageCount: 1, Pages: []types.Page{page}}, nil
}

// decodeText converts the raw bytes to UTF-8. A byte-order mark wins; valid
// UTF-8 passes through; otherwise the declared language selects the legacy
// codepage to try.
func decodeText(data []byte, lang types.Language) (string, error) {
	switch {
	case bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}):
		return string(data[3:]), nil
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}), bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		dec := xunicode.UTF16(xunicode.LittleEndian, xunicode.UseBOM).NewDecoder()
		out, _, err := transform.Bytes(dec, data)
		if err != nil {
			return "", types.NewAppError(types.ErrExtractionFailure, "failed to decode UTF-16 text", err)
		}
		return string(out), nil
	}

	if utf8.Valid(data) {
		return string(data), nil
	}

	var dec *encoding.Decoder
	switch lang {
	case types.LanguageChinese:
		dec = simplifiedchinese.GBK.NewDecoder()
	case types.LanguageRussian:
		dec = charmap.Windows1251.NewDecoder()
	case types.LanguageArabic:
		dec = charmap.Windows1256.NewDecoder()
	default:
		return "", types.NewAppError(types.ErrExtractionFailure, "text is not valid UTF-8 and no fallback codepage applies", nil)
	}

	out, _, err := transform.Bytes(dec, data)
	if err != nil || !utf8.Valid(out) {
		return "", types.NewAppError(types.ErrExtractionFailure, "failed to decode legacy text encoding", err)
	}
	logger.Debug("decoded text with legacy codepage", logger.String("language", string(lang)))
	return string(out), nil
}

// looksLikeText reports whether data is plausibly a character stream rather
// than a binary container.
func looksLikeText(data []byte) bool {
	if bytes.HasPrefix(data, []byte{0xFF, 0xFE}) || bytes.HasPrefix(data, []byte{0xFE, 0xFF}) {
		return true
	}
	sample := data
	if len(sample) > 4096 {
		sample = sample[:4096]
	}
	return !bytes.ContainsRune(sample, 0)
}

// ocrLanguages maps the declared source language to OCR trained-data codes.
func (e *Extractor) ocrLanguages(lang types.Language) []string {
	if codes, ok := e.cfg.OCRLanguages[lang]; ok {
		return codes
	}
	return []string{"eng"}
}

// ocrPage recognizes a page raster. A nil warning means success; on failure
// the warning explains why the page is degraded.
func (e *Extractor) ocrPage(ctx context.Context, raster []byte, lang types.Language, pageNum int) ([]types.Block, *types.Warning) {
	if len(raster) == 0 {
		return nil, pageWarning(pageNum, "no text layer and no page raster available")
	}
	if e.ocr == nil {
		return nil, pageWarning(pageNum, "no text layer and OCR capability not configured")
	}

	octx, cancel := context.WithTimeout(ctx, e.cfg.OCRTimeout())
	defer cancel()

	text, err := e.ocr.RecognizeImage(octx, raster, e.ocrLanguages(lang))
	if err != nil {
		code := types.ErrOCRUnavailable
		if octx.Err() == context.DeadlineExceeded {
			code = types.ErrOCRTimeout
		} else if c := types.CodeOf(err); c == types.ErrOCRTimeout {
			code = c
		}
		logger.Warn("OCR failed for page",
			logger.Int("page", pageNum),
			logger.String("code", string(code)),
			logger.Err(err))
		return nil, pageWarning(pageNum, "OCR failed ("+string(code)+"): "+err.Error())
	}
	if strings.TrimSpace(text) == "" {
		return nil, pageWarning(pageNum, "OCR produced no text")
	}

	var blocks []types.Block
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		blocks = append(blocks, types.Block{
			Index:     len(blocks),
			Kind:      types.BlockText,
			Text:      line,
			IsFormula: isMathFormula(line),
		})
	}
	if len(blocks) == 0 {
		return nil, pageWarning(pageNum, "OCR produced no text")
	}
	return blocks, nil
}

func pageWarning(pageNum int, msg string) *types.Warning {
	return &types.Warning{
		Stage:   types.StageExtracting,
		Message: fmt.Sprintf("page %d: %s", pageNum, msg),
	}
}

// isMathFormula reports whether a block of text is dominated by mathematical
// symbols and should be pre-classified as a formula candidate.
func isMathFormula(text string) bool {
	if len(text) == 0 {
		return false
	}

	const mathSymbols = "∫∑∏√∂∇±×÷≤≥≠≈∞∈∉⊂⊃∪∩∧∨¬∀∃αβγδεζηθικλμνξοπρστυφχψω"

	if strings.ContainsAny(text, "∫∑∏√∂∇") {
		return true
	}

	symbolCount := 0
	total := 0
	for _, r := range text {
		total++
		switch {
		case strings.ContainsRune("+-*/=<>^_~", r):
			symbolCount++
		case strings.ContainsRune("()[]{}", r):
			symbolCount++
		case strings.ContainsRune(mathSymbols, r):
			symbolCount++
		}
	}
	if float64(symbolCount)/float64(total) > 0.3 {
		return true
	}

	// Short equation-shaped lines: "f(x) = x + 1" with few words.
	if strings.Contains(text, "=") &&
		(strings.Contains(text, "(") || strings.Contains(text, "+") || strings.Contains(text, "-")) {
		if len(strings.Fields(text)) <= 5 && len(text) < 100 {
			return true
		}
	}
	return false
}

// hasExcessiveNonPrintable reports whether more than 10% of the characters
// are control or non-printable codepoints. Such blocks are extraction noise.
func hasExcessiveNonPrintable(text string) bool {
	if len(text) == 0 {
		return false
	}
	nonPrintable := 0
	total := 0
	for _, r := range text {
		total++
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			nonPrintable++
		}
		if r >= 0x7F && r <= 0x9F {
			nonPrintable++
		}
	}
	return float64(nonPrintable)/float64(total) > 0.1
}

// countTextChars counts non-space characters across a page's text blocks,
// used for the text-density threshold.
func countTextChars(blocks []types.Block) int {
	n := 0
	for _, b := range blocks {
		if b.Kind != types.BlockText {
			continue
		}
		for _, r := range b.Text {
			if !unicode.IsSpace(r) {
				n++
			}
		}
	}
	return n
}
