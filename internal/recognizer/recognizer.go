// Package recognizer resolves detected formula spans into structured math:
// textual candidates are normalized to LaTeX locally, image candidates go to
// the math recognition capability. Failures never lose content; a span falls
// back to its image crop, or to its raw text at assembly.
package recognizer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"document-translator/internal/config"
	"document-translator/internal/logger"
	"document-translator/internal/types"
)

// Result is one structured recognition outcome.
type Result struct {
	LaTeX      string
	MathML     string
	Text       string
	Confidence float64
	// IsGraph reports that the image is a plot or diagram rather than a
	// formula; such images are embedded as-is instead of converted to markup.
	IsGraph bool
}

// Capability recognizes a formula in a raster image. Implementations live
// outside this package.
type Capability interface {
	RecognizeFormula(ctx context.Context, image []byte) (*Result, error)
}

// Recognizer resolves the status of every formula span in place.
type Recognizer struct {
	cfg        *config.Config
	capability Capability
}

// New creates a Recognizer. The capability may be nil; image spans then fall
// back to embedding.
func New(cfg *config.Config, capability Capability) *Recognizer {
	return &Recognizer{cfg: cfg, capability: capability}
}

// Recognize resolves all unresolved spans. Spans already resolved are left
// untouched, so calling Recognize twice is a no-op the second time. Image
// recognition runs concurrently, bounded by the configured concurrency.
// The returned warnings are ordered by span index.
func (r *Recognizer) Recognize(ctx context.Context, doc *types.Document, protected *types.ProtectedText, mode types.FormulaMode) []types.Warning {
	pending := make([]int, 0, len(protected.Spans))
	for i := range protected.Spans {
		if protected.Spans[i].Status == types.FormulaUnresolved {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	logger.Info("recognizing formulas",
		logger.Int("pending", len(pending)),
		logger.String("mode", string(mode)))

	collected := make([]*types.Warning, len(protected.Spans))
	sem := make(chan struct{}, r.cfg.Concurrency)
	var wg sync.WaitGroup

	for _, i := range pending {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			collected[i] = r.resolveSpan(ctx, doc, &protected.Spans[i], mode)
		}(i)
	}
	wg.Wait()

	var warnings []types.Warning
	for _, w := range collected {
		if w != nil {
			warnings = append(warnings, *w)
		}
	}
	return warnings
}

// resolveSpan decides one span's final status. Each goroutine owns exactly
// one span, so no locking is needed here.
func (r *Recognizer) resolveSpan(ctx context.Context, doc *types.Document, span *types.FormulaSpan, mode types.FormulaMode) *types.Warning {
	if mode == types.FormulaModeImage {
		if len(span.Image) > 0 {
			span.Status = types.FormulaImageFallback
			return nil
		}
		if crop := r.cropSpan(doc, span); len(crop) > 0 {
			span.Image = crop
			span.Status = types.FormulaImageFallback
			return nil
		}
		// No raster to embed; fall through to markup handling.
	}

	if len(span.Image) == 0 {
		if strings.TrimSpace(span.Text) == "" {
			span.Status = types.FormulaFailed
			return spanWarning(span.Index, "empty formula candidate")
		}
		span.LaTeX = CleanLaTeX(span.Text)
		span.Status = types.FormulaRecognized
		return nil
	}

	if r.capability == nil {
		span.Status = types.FormulaImageFallback
		return spanWarning(span.Index, "math recognition not configured, embedding image")
	}

	res, err := r.recognizeWithRetry(ctx, span.Image)
	if err != nil {
		span.Status = types.FormulaImageFallback
		code := types.CodeOf(err)
		logger.Warn("formula recognition failed",
			logger.Int("formula", span.Index),
			logger.String("code", string(code)),
			logger.Err(err))
		return spanWarning(span.Index, fmt.Sprintf("recognition failed (%s), embedding image", code))
	}
	if res.IsGraph {
		span.Status = types.FormulaImageFallback
		return nil
	}
	if strings.TrimSpace(res.LaTeX) == "" && strings.TrimSpace(res.MathML) == "" {
		span.Status = types.FormulaImageFallback
		return spanWarning(span.Index, "recognition returned no markup, embedding image")
	}

	span.LaTeX = CleanLaTeX(res.LaTeX)
	span.MathML = res.MathML
	span.Confidence = res.Confidence
	span.Status = types.FormulaRecognized
	return nil
}

// recognizeWithRetry calls the capability with a per-call timeout and retries
// once on failure.
func (r *Recognizer) recognizeWithRetry(ctx context.Context, image []byte) (*Result, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, r.cfg.RecognitionTimeout())
		res, err := r.capability.RecognizeFormula(cctx, image)
		cancel()
		if err == nil {
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	code := types.CodeOf(lastErr)
	if code != types.ErrRecognitionTimeout && code != types.ErrRecognitionUnavailable {
		code = types.ErrRecognitionUnavailable
		if lastErr == context.DeadlineExceeded {
			code = types.ErrRecognitionTimeout
		}
	}
	return nil, types.NewAppError(code, "math recognition failed", lastErr)
}

func spanWarning(index int, msg string) *types.Warning {
	return &types.Warning{
		Stage:   types.StageRecognizing,
		Message: fmt.Sprintf("formula %d: %s", index, msg),
	}
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// CleanLaTeX normalizes a LaTeX candidate: whitespace is collapsed and the
// expression is wrapped in display delimiters unless it already carries
// delimiters of its own.
func CleanLaTeX(latex string) string {
	latex = whitespaceRun.ReplaceAllString(strings.TrimSpace(latex), " ")
	if latex == "" {
		return ""
	}

	switch {
	case strings.HasPrefix(latex, `\[`) && strings.HasSuffix(latex, `\]`):
		return latex
	case strings.HasPrefix(latex, `\(`) && strings.HasSuffix(latex, `\)`):
		return latex
	case strings.HasPrefix(latex, "$") && strings.HasSuffix(latex, "$"):
		return `\[` + strings.Trim(latex, "$") + `\]`
	default:
		return `\[` + latex + `\]`
	}
}

// StripDelimiters returns the bare LaTeX body without surrounding math
// delimiters.
func StripDelimiters(latex string) string {
	latex = strings.TrimSpace(latex)
	for _, pair := range [][2]string{{`\[`, `\]`}, {`\(`, `\)`}, {"$$", "$$"}, {"$", "$"}} {
		if strings.HasPrefix(latex, pair[0]) && strings.HasSuffix(latex, pair[1]) && len(latex) >= len(pair[0])+len(pair[1]) {
			return strings.TrimSpace(latex[len(pair[0]) : len(latex)-len(pair[1])])
		}
	}
	return latex
}
