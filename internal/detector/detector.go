// Package detector identifies mathematical expressions in extracted document
// text and replaces each with a unique placeholder token, producing the
// protected text that is safe to hand to the translation capability.
//
// Detection is pure and deterministic: the same Document always yields the
// same protected text and span list. No I/O happens here.
package detector

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"document-translator/internal/logger"
	"document-translator/internal/types"
)

const (
	// TokenPrefix is the fixed placeholder prefix. The angle-bracket charset
	// cannot arise from OCR output or translated prose, so a translation
	// capability cannot produce a colliding token by transliteration.
	TokenPrefix = "<<<FORMULA_"
	// TokenSuffix closes a placeholder token.
	TokenSuffix = ">>>"

	// minCandidateLen rejects fragments too short to be formulas.
	minCandidateLen = 3
	// maxCandidateLen rejects over-long matches that are almost certainly
	// prose, unless they carry explicit LaTeX delimiters.
	maxCandidateLen = 300
)

// TokenPattern matches placeholder tokens and captures the span index.
var TokenPattern = regexp.MustCompile(`<<<FORMULA_(\d+)>>>`)

// Token returns the placeholder token for span index i.
func Token(i int) string {
	return fmt.Sprintf("%s%d%s", TokenPrefix, i, TokenSuffix)
}

// TokensIn returns every placeholder token found in text, in order of
// appearance, duplicates included.
func TokensIn(text string) []string {
	return TokenPattern.FindAllString(text, -1)
}

// candidatePatterns are the structural cues for formula candidates, checked
// in priority order. Earlier patterns win on overlap.
var candidatePatterns = []*regexp.Regexp{
	// LaTeX display math: \[...\]
	regexp.MustCompile(`\\\[(?s:.*?)\\\]`),
	// LaTeX inline math: \(...\)
	regexp.MustCompile(`\\\((?s:.*?)\\\)`),
	// Dollar math: $...$ and $$...$$
	regexp.MustCompile(`\$\$?[^$\n]+\$\$?`),
	// Equations: E = mc^2, y = 2x + 1. The right-hand side stops at the
	// first word that carries neither a digit nor an operator, so trailing
	// prose on the same line is not swallowed.
	regexp.MustCompile(`[A-Za-zα-ωΑ-Ω][A-Za-z0-9_^{}]{0,20}\s*=\s*[0-9A-Za-zα-ωΑ-Ω^_{}()+\-*/\\]+(?:\s?[0-9+\-*/^(][0-9A-Za-zα-ωΑ-Ω^_{}()+\-*/\\]*)*`),
	// Subscripts and superscripts: x_1, y^2, A_{ij}, B^{n+1}
	regexp.MustCompile(`[a-zA-Zα-ωΑ-Ω][_^]\{?[a-zA-Z0-9α-ωΑ-Ω+\-]+\}?`),
	// Greek letter followed by an operator: λ = 2πc/ω
	regexp.MustCompile(`[α-ωΑ-Ω]\s*[=+\-*/^_]\s*[0-9A-Za-zα-ωΑ-Ω^_{}()+\-*/\\]+(?: [0-9A-Za-zα-ωΑ-Ω^_{}()+\-*/\\]+)*`),
	// Parenthesized fractions: (x+y)/(z-w)
	regexp.MustCompile(`\([^)\n]{1,50}\)\s*/\s*\([^)\n]{1,50}\)`),
	// Numbered display formulas: (13.7) E = mc^2
	regexp.MustCompile(`\([0-9]+\.[0-9]+\)\s*[^\n]{1,200}[=+\-*/^_]`),
}

// latexDelimiters marks text that is unambiguously a formula.
var latexDelimiters = regexp.MustCompile(`\\[\[\(\]\)]|\$\$?`)

// wordFraction matches plain word pairs like "and/or" that the fraction cue
// would otherwise capture.
var wordFraction = regexp.MustCompile(`^[a-zA-Z]{2,}\s*/\s*[a-zA-Z]{2,}$`)

var (
	hasMathOp = regexp.MustCompile(`[=+\-*/^_]`)
	hasVar    = regexp.MustCompile(`[a-zA-Zα-ωΑ-Ω]`)
	hasDigit  = regexp.MustCompile(`[0-9]`)
	hasSubSup = regexp.MustCompile(`[_^]\{?[a-zA-Z0-9]+\}?`)
)

// span is a half-open candidate range [start, end) within a block's text.
type span struct {
	start int
	end   int
}

// Detect scans the document and produces protected text plus the ordered list
// of formula spans. Block boundaries become newlines, page boundaries become
// blank lines, so the translator can chunk at them later.
func Detect(doc *types.Document) *types.ProtectedText {
	var sb strings.Builder
	var spans []types.FormulaSpan
	next := 0

	for pi := range doc.Pages {
		page := &doc.Pages[pi]
		if pi > 0 {
			sb.WriteString("\n\n")
		}
		firstBlock := true
		for bi := range page.Blocks {
			block := &page.Blocks[bi]
			switch block.Kind {
			case types.BlockText:
				if block.Text == "" {
					continue
				}
				if !firstBlock {
					sb.WriteString("\n")
				}
				firstBlock = false
				protected, blockSpans := protectBlock(block, pi, &next)
				sb.WriteString(protected)
				spans = append(spans, blockSpans...)
			case types.BlockImage:
				// Regions the extractor pre-identified as formula images
				// become image-crop spans on their own line. Other images
				// (diagrams, photos) carry no translatable text and are
				// left to the assembler.
				if !block.IsFormula {
					continue
				}
				if !firstBlock {
					sb.WriteString("\n")
				}
				firstBlock = false
				s := types.FormulaSpan{
					Index:      next,
					Token:      Token(next),
					PageIndex:  pi,
					BlockIndex: block.Index,
					Image:      block.Image,
					Status:     types.FormulaUnresolved,
				}
				sb.WriteString(s.Token)
				spans = append(spans, s)
				next++
			}
		}
	}

	logger.Info("formula detection complete",
		logger.Int("pages", len(doc.Pages)),
		logger.Int("spans", len(spans)))

	return &types.ProtectedText{Text: sb.String(), Spans: spans}
}

// protectBlock replaces every formula candidate in one text block with a
// placeholder token, numbering spans in order of appearance.
func protectBlock(block *types.Block, pageIndex int, next *int) (string, []types.FormulaSpan) {
	text := block.Text

	var candidates []span
	if block.IsFormula {
		// The extractor already classified the whole block as mathematical.
		candidates = []span{{0, len(text)}}
	} else {
		candidates = findCandidates(text)
	}
	if len(candidates) == 0 {
		return text, nil
	}

	var sb strings.Builder
	var spans []types.FormulaSpan
	last := 0
	for _, c := range candidates {
		sb.WriteString(text[last:c.start])
		s := types.FormulaSpan{
			Index:      *next,
			Token:      Token(*next),
			PageIndex:  pageIndex,
			BlockIndex: block.Index,
			Text:       strings.TrimSpace(text[c.start:c.end]),
			Status:     types.FormulaUnresolved,
		}
		sb.WriteString(s.Token)
		spans = append(spans, s)
		*next++
		last = c.end
	}
	sb.WriteString(text[last:])
	return sb.String(), spans
}

// findCandidates returns the merged, filtered, position-sorted candidate
// ranges within text.
func findCandidates(text string) []span {
	var all []span
	for _, p := range candidatePatterns {
		for _, loc := range p.FindAllStringIndex(text, -1) {
			all = append(all, span{loc[0], loc[1]})
		}
	}
	// Whole lines dominated by math symbols are candidates even without a
	// pattern hit (isolated display formulas in OCR output).
	off := 0
	for _, line := range strings.Split(text, "\n") {
		if lineIsFormula(line) {
			all = append(all, span{off, off + len(line)})
		}
		off += len(line) + 1
	}

	merged := mergeSpans(all)

	out := merged[:0]
	for _, c := range merged {
		if IsLikelyFormula(text[c.start:c.end]) {
			out = append(out, c)
		}
	}
	return out
}

// mergeSpans unions candidate ranges that overlap or touch. Partial overlaps
// are merged rather than split: a merged span always covers both candidates,
// so no partial token can be produced. Deterministic for a given input.
func mergeSpans(spans []span) []span {
	if len(spans) == 0 {
		return nil
	}
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end > spans[j].end
	})

	merged := []span{spans[0]}
	for _, s := range spans[1:] {
		top := &merged[len(merged)-1]
		if s.start <= top.end {
			if s.end > top.end {
				top.end = s.end
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

// IsLikelyFormula reports whether text is plausibly a mathematical expression
// rather than ordinary prose. Pure; independently testable with literal
// input/output pairs.
func IsLikelyFormula(text string) bool {
	text = strings.TrimSpace(text)
	if len(text) < minCandidateLen {
		return false
	}

	// Explicit LaTeX delimiters settle it.
	if latexDelimiters.MatchString(text) {
		return true
	}

	if len(text) > maxCandidateLen {
		return false
	}

	// Word pairs like "and/or" are prose, not fractions.
	if wordFraction.MatchString(text) && !hasDigit.MatchString(text) {
		return false
	}

	if hasMathOp.MatchString(text) && (hasVar.MatchString(text) || hasDigit.MatchString(text)) {
		return true
	}

	return hasSubSup.MatchString(text)
}

// mathSymbols are counted toward a line's symbol density.
const mathSymbols = "∫∑∏√∂∇±×÷≤≥≠≈∞∈∉⊂⊃∪∩∧∨¬∀∃αβγδεζηθικλμνξοπρστυφχψω"

// lineIsFormula reports whether a whole line is dominated by mathematical
// symbols: operator/symbol density above 30%, or hard math glyphs, with at
// most a handful of words.
func lineIsFormula(line string) bool {
	line = strings.TrimSpace(line)
	if len(line) < minCandidateLen || len(line) > maxCandidateLen {
		return false
	}

	if strings.ContainsAny(line, "∫∑∏√∂∇") {
		return true
	}

	symbolCount := 0
	total := 0
	for _, r := range line {
		total++
		switch {
		case strings.ContainsRune("+-*/=<>^_~()[]{}", r):
			symbolCount++
		case strings.ContainsRune(mathSymbols, r):
			symbolCount++
		}
	}
	if total == 0 {
		return false
	}
	if float64(symbolCount)/float64(total) <= 0.3 {
		return false
	}
	// Dense in symbols but still wordy means a prose line with punctuation.
	return len(strings.Fields(line)) <= 8
}
