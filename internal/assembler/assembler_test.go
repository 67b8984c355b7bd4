package assembler

import (
	"strings"
	"testing"

	"document-translator/internal/types"
)

func span(index int, status types.FormulaStatus) types.FormulaSpan {
	return types.FormulaSpan{Index: index, Token: "<<<FORMULA_0>>>", Status: status}
}

func TestAssembleRecognizedInline(t *testing.T) {
	s := span(0, types.FormulaRecognized)
	s.LaTeX = `\[E = mc^2\]`
	protected := &types.ProtectedText{Spans: []types.FormulaSpan{s}}

	out, err := New().Assemble("The formula <<<FORMULA_0>>> holds.", protected, nil,
		types.LanguageRussian, types.DomainScientific)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	if out.Markdown != "The formula $E = mc^2$ holds." {
		t.Errorf("markdown = %q", out.Markdown)
	}
	if strings.Contains(out.HTML, "<<<FORMULA") {
		t.Error("token leaked into HTML")
	}
	if out.HTML == "" {
		t.Error("HTML output empty")
	}
	if out.Stats.RecognizedCount != 1 || out.Stats.FormulaCount != 1 {
		t.Errorf("stats = %+v", out.Stats)
	}
}

func TestAssembleRecognizedDisplay(t *testing.T) {
	s := span(0, types.FormulaRecognized)
	s.LaTeX = `\[\int f(x) dx\]`
	protected := &types.ProtectedText{Spans: []types.FormulaSpan{s}}

	out, err := New().Assemble("See below.\n<<<FORMULA_0>>>\nDone.", protected, nil,
		types.LanguageRussian, types.DomainAcademic)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !strings.Contains(out.Markdown, "$$\\int f(x) dx$$") {
		t.Errorf("markdown = %q, want display math", out.Markdown)
	}
}

func TestAssembleRecognizedMathMLOnly(t *testing.T) {
	s := span(0, types.FormulaRecognized)
	s.MathML = "<math><msup><mi>E</mi><mn>2</mn></msup></math>"
	protected := &types.ProtectedText{Spans: []types.FormulaSpan{s}}

	out, err := New().Assemble("The value <<<FORMULA_0>>> is known.", protected, nil,
		types.LanguageRussian, types.DomainScientific)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	want := "The value <math><msup><mi>E</mi><mn>2</mn></msup></math> is known."
	if out.Markdown != want {
		t.Errorf("markdown = %q, want %q", out.Markdown, want)
	}
	if strings.Contains(out.Markdown, "$") {
		t.Errorf("markdown = %q, empty math delimiters emitted", out.Markdown)
	}
	if !strings.Contains(out.HTML, "<msup>") {
		t.Errorf("HTML = %q, MathML did not survive rendering", out.HTML)
	}
}

func TestAssembleRecognizedWithoutMarkupKeepsContentVisible(t *testing.T) {
	s := span(0, types.FormulaRecognized)
	s.Text = "x + y = z"
	protected := &types.ProtectedText{Spans: []types.FormulaSpan{s}}

	out, err := New().Assemble("Here: <<<FORMULA_0>>>", protected, nil,
		types.LanguageRussian, types.DomainGeneral)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !strings.Contains(out.Markdown, "x + y = z") {
		t.Errorf("markdown = %q, formula content dropped", out.Markdown)
	}
}

func TestAssembleImageFallback(t *testing.T) {
	s := span(0, types.FormulaImageFallback)
	s.Image = []byte{0x89, 'P', 'N', 'G'}
	protected := &types.ProtectedText{Spans: []types.FormulaSpan{s}}

	out, err := New().Assemble("Formula: <<<FORMULA_0>>>", protected, nil,
		types.LanguageChinese, types.DomainGeneral)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !strings.Contains(out.Markdown, "![formula 0](data:image/png;base64,") {
		t.Errorf("markdown = %q", out.Markdown)
	}
	if out.Stats.ImageFallbacks != 1 {
		t.Errorf("stats = %+v", out.Stats)
	}
}

func TestAssembleFailedKeepsRawText(t *testing.T) {
	s := span(0, types.FormulaFailed)
	s.Text = "x + y = z"
	protected := &types.ProtectedText{Spans: []types.FormulaSpan{s}}

	out, err := New().Assemble("Here: <<<FORMULA_0>>>", protected, nil,
		types.LanguageArabic, types.DomainGeneral)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !strings.Contains(out.Markdown, "[formula: x + y = z]") {
		t.Errorf("markdown = %q, raw candidate must never be dropped", out.Markdown)
	}
	if out.Stats.FailedFormulas != 1 {
		t.Errorf("stats = %+v", out.Stats)
	}
}

func TestAssembleRejectsLeftoverTokens(t *testing.T) {
	protected := &types.ProtectedText{} // no spans for the token in the text

	_, err := New().Assemble("Translated <<<FORMULA_7>>> text.", protected, nil,
		types.LanguageRussian, types.DomainGeneral)

	if types.CodeOf(err) != types.ErrUnresolvedPlaceholder {
		t.Fatalf("error code = %v, want %v", types.CodeOf(err), types.ErrUnresolvedPlaceholder)
	}
	if !strings.Contains(err.Error(), "<<<FORMULA_7>>>") {
		t.Errorf("error does not name the leftover token: %v", err)
	}
}

func TestAssembleDegradedPageNote(t *testing.T) {
	doc := &types.Document{
		PageCount: 3,
		Pages: []types.Page{
			{Index: 0},
			{Index: 1, Degraded: true},
			{Index: 2, Degraded: true},
		},
	}

	out, err := New().Assemble("Translated text.", &types.ProtectedText{}, doc,
		types.LanguageRussian, types.DomainGeneral)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !strings.Contains(out.Markdown, "page(s) 2, 3") {
		t.Errorf("markdown = %q, want degraded page note", out.Markdown)
	}
	if out.Stats.DegradedPages != 2 {
		t.Errorf("stats = %+v", out.Stats)
	}
}
