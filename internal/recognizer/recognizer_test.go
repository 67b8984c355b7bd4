package recognizer

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"document-translator/internal/config"
	"document-translator/internal/types"
)

type fakeCapability struct {
	result *Result
	err    error
	wait   bool
	calls  int64
}

func (f *fakeCapability) RecognizeFormula(ctx context.Context, image []byte) (*Result, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.wait {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func protectedWith(spans ...types.FormulaSpan) *types.ProtectedText {
	return &types.ProtectedText{Spans: spans}
}

func textSpan(index int, text string) types.FormulaSpan {
	return types.FormulaSpan{Index: index, Text: text, Status: types.FormulaUnresolved}
}

func imageSpan(index int) types.FormulaSpan {
	return types.FormulaSpan{Index: index, Image: []byte{0x89, 'P', 'N', 'G'}, Status: types.FormulaUnresolved}
}

func TestRecognizeTextSpansLocally(t *testing.T) {
	cap := &fakeCapability{}
	r := New(config.Default(), cap)
	p := protectedWith(textSpan(0, "E = mc^2"))

	warnings := r.Recognize(context.Background(), nil, p, types.FormulaModeMarkup)

	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	s := p.Spans[0]
	if s.Status != types.FormulaRecognized {
		t.Errorf("status = %q, want recognized", s.Status)
	}
	if s.LaTeX != `\[E = mc^2\]` {
		t.Errorf("latex = %q", s.LaTeX)
	}
	if atomic.LoadInt64(&cap.calls) != 0 {
		t.Error("text candidate should not hit the recognition capability")
	}
}

func TestRecognizeImageSpanMathMLOnly(t *testing.T) {
	cap := &fakeCapability{result: &Result{
		MathML:     "<math><msup><mi>E</mi><mn>2</mn></msup></math>",
		Confidence: 0.9,
	}}
	r := New(config.Default(), cap)
	p := protectedWith(imageSpan(0))

	warnings := r.Recognize(context.Background(), nil, p, types.FormulaModeMarkup)

	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	s := p.Spans[0]
	if s.Status != types.FormulaRecognized {
		t.Fatalf("status = %q, want recognized", s.Status)
	}
	if s.LaTeX != "" {
		t.Errorf("latex = %q, want empty", s.LaTeX)
	}
	if s.MathML != "<math><msup><mi>E</mi><mn>2</mn></msup></math>" {
		t.Errorf("mathml = %q", s.MathML)
	}
}

func TestRecognizeImageSpan(t *testing.T) {
	cap := &fakeCapability{result: &Result{
		LaTeX:      "$x^2 + y^2 = r^2$",
		MathML:     "<math><mi>x</mi></math>",
		Confidence: 0.97,
	}}
	r := New(config.Default(), cap)
	p := protectedWith(imageSpan(0))

	warnings := r.Recognize(context.Background(), nil, p, types.FormulaModeMarkup)

	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	s := p.Spans[0]
	if s.Status != types.FormulaRecognized {
		t.Fatalf("status = %q, want recognized", s.Status)
	}
	if s.LaTeX != `\[x^2 + y^2 = r^2\]` {
		t.Errorf("latex = %q", s.LaTeX)
	}
	if s.MathML == "" || s.Confidence != 0.97 {
		t.Errorf("span = %+v", s)
	}
}

func TestRecognitionFailureFallsBackToImage(t *testing.T) {
	cap := &fakeCapability{err: types.NewAppError(types.ErrRecognitionUnavailable, "service down", nil)}
	r := New(config.Default(), cap)
	p := protectedWith(imageSpan(3))

	warnings := r.Recognize(context.Background(), nil, p, types.FormulaModeMarkup)

	if p.Spans[0].Status != types.FormulaImageFallback {
		t.Errorf("status = %q, want image-fallback", p.Spans[0].Status)
	}
	if len(p.Spans[0].Image) == 0 {
		t.Error("image crop was lost")
	}
	if len(warnings) != 1 {
		t.Fatalf("got %d warnings, want 1", len(warnings))
	}
	if !strings.Contains(warnings[0].Message, "formula 3") ||
		!strings.Contains(warnings[0].Message, string(types.ErrRecognitionUnavailable)) {
		t.Errorf("warning = %q", warnings[0].Message)
	}
	if got := atomic.LoadInt64(&cap.calls); got != 2 {
		t.Errorf("capability called %d times, want 2 (one retry)", got)
	}
}

func TestRecognitionTimeout(t *testing.T) {
	cfg := config.Default()
	cfg.RecognitionTimeoutSeconds = 0 // expire immediately
	cap := &fakeCapability{wait: true}
	r := New(cfg, cap)
	p := protectedWith(imageSpan(0))

	warnings := r.Recognize(context.Background(), nil, p, types.FormulaModeMarkup)

	if p.Spans[0].Status != types.FormulaImageFallback {
		t.Errorf("status = %q, want image-fallback", p.Spans[0].Status)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0].Message, string(types.ErrRecognitionTimeout)) {
		t.Errorf("warnings = %v, want a recognition timeout", warnings)
	}
}

func TestGraphBecomesImageFallback(t *testing.T) {
	cap := &fakeCapability{result: &Result{
		Text:    strings.Repeat("axis label ", 20),
		IsGraph: true,
	}}
	r := New(config.Default(), cap)
	p := protectedWith(imageSpan(0))

	warnings := r.Recognize(context.Background(), nil, p, types.FormulaModeMarkup)

	if p.Spans[0].Status != types.FormulaImageFallback {
		t.Errorf("status = %q, want image-fallback", p.Spans[0].Status)
	}
	if len(warnings) != 0 {
		t.Errorf("a diagram is not a degradation, got warnings %v", warnings)
	}
}

func TestRecognizeIsIdempotent(t *testing.T) {
	cap := &fakeCapability{result: &Result{LaTeX: "x"}}
	r := New(config.Default(), cap)
	p := protectedWith(textSpan(0, "a + b"), imageSpan(1))

	r.Recognize(context.Background(), nil, p, types.FormulaModeMarkup)
	first := append([]types.FormulaSpan(nil), p.Spans...)
	callsAfterFirst := atomic.LoadInt64(&cap.calls)

	warnings := r.Recognize(context.Background(), nil, p, types.FormulaModeMarkup)

	if warnings != nil {
		t.Errorf("second run produced warnings: %v", warnings)
	}
	if atomic.LoadInt64(&cap.calls) != callsAfterFirst {
		t.Error("second run hit the capability again")
	}
	for i := range p.Spans {
		if p.Spans[i].Status != first[i].Status || p.Spans[i].LaTeX != first[i].LaTeX {
			t.Errorf("span %d changed on second run", i)
		}
	}
}

func TestImageModeEmbedsWithoutRecognition(t *testing.T) {
	cap := &fakeCapability{result: &Result{LaTeX: "x"}}
	r := New(config.Default(), cap)
	p := protectedWith(imageSpan(0))

	r.Recognize(context.Background(), nil, p, types.FormulaModeImage)

	if p.Spans[0].Status != types.FormulaImageFallback {
		t.Errorf("status = %q, want image-fallback", p.Spans[0].Status)
	}
	if atomic.LoadInt64(&cap.calls) != 0 {
		t.Error("image mode should not call recognition for image spans")
	}
}

func TestImageModeTextSpanWithoutRasterUsesMarkup(t *testing.T) {
	r := New(config.Default(), nil)
	p := protectedWith(textSpan(0, "a + b"))

	r.Recognize(context.Background(), nil, p, types.FormulaModeImage)

	if p.Spans[0].Status != types.FormulaRecognized {
		t.Errorf("status = %q, want recognized via local markup", p.Spans[0].Status)
	}
}

func TestEmptyCandidateFails(t *testing.T) {
	r := New(config.Default(), nil)
	p := protectedWith(textSpan(0, "   "))

	warnings := r.Recognize(context.Background(), nil, p, types.FormulaModeMarkup)

	if p.Spans[0].Status != types.FormulaFailed {
		t.Errorf("status = %q, want failed", p.Spans[0].Status)
	}
	if len(warnings) != 1 {
		t.Errorf("got %d warnings, want 1", len(warnings))
	}
}

func TestCleanLaTeX(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"x + y", `\[x + y\]`},
		{"  x   +  y ", `\[x + y\]`},
		{"$x^2$", `\[x^2\]`},
		{`\[x\]`, `\[x\]`},
		{`\(x\)`, `\(x\)`},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CleanLaTeX(tt.in); got != tt.want {
			t.Errorf("CleanLaTeX(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStripDelimiters(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`\[x + y\]`, "x + y"},
		{`\(x\)`, "x"},
		{"$$x$$", "x"},
		{"$x$", "x"},
		{"x", "x"},
	}
	for _, tt := range tests {
		if got := StripDelimiters(tt.in); got != tt.want {
			t.Errorf("StripDelimiters(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
