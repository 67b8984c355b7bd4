// Package assembler builds the final output document: every placeholder token
// in the translated text is substituted with its formula's final
// representation, and the result is emitted as Markdown plus rendered HTML.
// Substitution is total by construction; the assembler verifies that zero
// tokens remain before returning.
package assembler

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	treeblood "github.com/wyatt915/goldmark-treeblood"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"

	"document-translator/internal/detector"
	"document-translator/internal/logger"
	"document-translator/internal/recognizer"
	"document-translator/internal/types"
)

// Assembler substitutes formula representations into translated text.
type Assembler struct {
	md goldmark.Markdown
}

// New creates an Assembler with the math-aware Markdown renderer.
func New() *Assembler {
	return &Assembler{
		md: goldmark.New(
			goldmark.WithExtensions(
				treeblood.MathML(),
			),
			// Recognition can return MathML directly; raw markup must pass
			// through to the HTML rendering.
			goldmark.WithRendererOptions(
				html.WithUnsafe(),
			),
		),
	}
}

// Assemble replaces every placeholder token in translated with the span's
// final representation and renders the result. Degraded pages are noted at
// the end of the document. Returns UNRESOLVED_PLACEHOLDER if any token
// survives substitution.
func (a *Assembler) Assemble(translated string, protected *types.ProtectedText, doc *types.Document, lang types.Language, domain types.Domain) (*types.OutputDocument, error) {
	out := translated
	stats := types.OutputStats{FormulaCount: len(protected.Spans)}

	for i := range protected.Spans {
		span := &protected.Spans[i]
		replacement := a.render(span, out)
		out = strings.Replace(out, span.Token, replacement, 1)

		switch span.Status {
		case types.FormulaRecognized:
			stats.RecognizedCount++
		case types.FormulaImageFallback:
			stats.ImageFallbacks++
		default:
			stats.FailedFormulas++
		}
	}

	if leftover := detector.TokensIn(out); len(leftover) > 0 {
		return nil, types.NewAppErrorWithDetails(types.ErrUnresolvedPlaceholder,
			"placeholder tokens survived assembly",
			strings.Join(leftover, ", "), nil)
	}

	if doc != nil {
		var degraded []string
		for _, p := range doc.Pages {
			if p.Degraded {
				degraded = append(degraded, fmt.Sprintf("%d", p.Index+1))
			}
		}
		stats.DegradedPages = len(degraded)
		if len(degraded) > 0 {
			out = strings.TrimRight(out, "\n") + fmt.Sprintf(
				"\n\n> Note: page(s) %s could not be read and are missing from this translation.\n",
				strings.Join(degraded, ", "))
		}
	}

	html, err := a.renderHTML(out)
	if err != nil {
		return nil, types.NewAppError(types.ErrInternal, "failed to render HTML output", err)
	}

	logger.Info("document assembled",
		logger.Int("formulas", stats.FormulaCount),
		logger.Int("recognized", stats.RecognizedCount),
		logger.Int("image_fallbacks", stats.ImageFallbacks),
		logger.Int("failed", stats.FailedFormulas))

	return &types.OutputDocument{
		Markdown: out,
		HTML:     html,
		Language: lang,
		Domain:   domain,
		Stats:    stats,
	}, nil
}

// render produces the Markdown representation for one span.
func (a *Assembler) render(span *types.FormulaSpan, text string) string {
	switch span.Status {
	case types.FormulaRecognized:
		if body := recognizer.StripDelimiters(span.LaTeX); body != "" {
			if tokenStandsAlone(text, span.Token) {
				return "$$" + body + "$$"
			}
			return "$" + body + "$"
		}
		if span.MathML != "" {
			// MathML-only recognition result: substitute the markup as is.
			return span.MathML
		}
		fallthrough

	case types.FormulaImageFallback:
		if len(span.Image) > 0 {
			return fmt.Sprintf("![formula %d](data:image/png;base64,%s)",
				span.Index, base64.StdEncoding.EncodeToString(span.Image))
		}
		fallthrough

	default:
		// Failed or unresolved: the raw candidate is kept, never dropped.
		if strings.TrimSpace(span.Text) != "" {
			return fmt.Sprintf("[formula: %s]", strings.TrimSpace(span.Text))
		}
		return fmt.Sprintf("[formula %d: unrecognized]", span.Index)
	}
}

// tokenStandsAlone reports whether the token occupies its own line, which
// selects display math over inline math.
func tokenStandsAlone(text, token string) bool {
	i := strings.Index(text, token)
	if i < 0 {
		return false
	}
	before := i == 0 || text[i-1] == '\n'
	j := i + len(token)
	after := j == len(text) || text[j] == '\n'
	return before && after
}

// renderHTML converts the assembled Markdown to HTML, turning $...$ and
// $$...$$ math into MathML.
func (a *Assembler) renderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := a.md.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
