package translator

import (
	"context"
	"strings"
	"sync"
	"testing"

	"document-translator/internal/config"
	"document-translator/internal/detector"
	"document-translator/internal/types"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.RetryDelaySeconds = 0
	return cfg
}

type fakeTranslation struct {
	mu       sync.Mutex
	requests []Request
	// translate maps a request to its output; defaults to identity.
	translate func(req Request, call int) (string, error)
}

func (f *fakeTranslation) TranslateText(ctx context.Context, req Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	call := len(f.requests)
	f.mu.Unlock()
	if f.translate == nil {
		return req.Text, nil
	}
	return f.translate(req, call)
}

func TestSplitIntoChunks(t *testing.T) {
	t.Run("short text is one chunk", func(t *testing.T) {
		chunks := SplitIntoChunks("короткий текст", 4000)
		if len(chunks) != 1 || chunks[0].Original != "короткий текст" {
			t.Errorf("chunks = %+v", chunks)
		}
	})

	t.Run("exactly at the limit is not split", func(t *testing.T) {
		text := strings.Repeat("a", 100)
		chunks := SplitIntoChunks(text, 100)
		if len(chunks) != 1 {
			t.Errorf("got %d chunks, want 1", len(chunks))
		}
	})

	t.Run("prefers paragraph boundaries", func(t *testing.T) {
		text := strings.Repeat("a", 100) + "\n\n" + strings.Repeat("b", 100)
		chunks := SplitIntoChunks(text, 150)
		if len(chunks) != 2 {
			t.Fatalf("got %d chunks, want 2", len(chunks))
		}
		if !strings.HasSuffix(chunks[0].Original, "\n\n") {
			t.Errorf("chunk 0 does not end at the paragraph boundary: %q", chunks[0].Original[90:])
		}
		if chunks[1].Original != strings.Repeat("b", 100) {
			t.Errorf("chunk 1 = %q", chunks[1].Original[:10])
		}
	})

	t.Run("falls back to line boundaries", func(t *testing.T) {
		text := strings.Repeat("a", 80) + "\n" + strings.Repeat("b", 80)
		chunks := SplitIntoChunks(text, 100)
		if len(chunks) != 2 {
			t.Fatalf("got %d chunks, want 2", len(chunks))
		}
		if chunks[0].Original != strings.Repeat("a", 80)+"\n" {
			t.Errorf("chunk 0 did not cut at the line boundary")
		}
	})

	t.Run("never cuts inside a placeholder token", func(t *testing.T) {
		text := strings.Repeat("x", 95) + "<<<FORMULA_0>>>" + strings.Repeat("y", 50)
		chunks := SplitIntoChunks(text, 100)

		var joined strings.Builder
		for _, c := range chunks {
			joined.WriteString(c.Original)
			partial := strings.Count(c.Original, detector.TokenPrefix)
			complete := len(detector.TokensIn(c.Original))
			if partial != complete {
				t.Errorf("chunk %d holds a split token: %q", c.Index, c.Original)
			}
			if len(c.Original) > 100 {
				t.Errorf("chunk %d exceeds the limit: %d bytes", c.Index, len(c.Original))
			}
		}
		if joined.String() != text {
			t.Error("chunks do not reassemble into the original text")
		}
	})

	t.Run("cuts at rune boundaries", func(t *testing.T) {
		text := strings.Repeat("я", 60) // 120 bytes
		chunks := SplitIntoChunks(text, 101)
		var joined strings.Builder
		for _, c := range chunks {
			if !strings.HasPrefix(c.Original, "я") {
				t.Errorf("chunk %d starts mid-rune", c.Index)
			}
			joined.WriteString(c.Original)
		}
		if joined.String() != text {
			t.Error("chunks do not reassemble into the original text")
		}
	})
}

func TestTranslateReassemblesInOrder(t *testing.T) {
	cfg := testConfig()
	cfg.MaxChunkSize = 30

	fake := &fakeTranslation{}
	tr := New(cfg, fake)

	text := "Первый абзац текста.\n\nВторой абзац текста.\n\nТретий абзац текста."
	var progressCalls int
	var mu sync.Mutex

	got, warnings, err := tr.Translate(context.Background(), text, types.LanguageRussian, types.DomainGeneral, func(done, total int) {
		mu.Lock()
		progressCalls++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != text { // identity capability: output must reassemble exactly
		t.Errorf("reassembled = %q, want %q", got, text)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v", warnings)
	}
	if progressCalls == 0 {
		t.Error("progress callback never invoked")
	}
}

func TestTranslatePreservesTokensAcrossChunks(t *testing.T) {
	cfg := testConfig()
	cfg.MaxChunkSize = 40

	fake := &fakeTranslation{translate: func(req Request, call int) (string, error) {
		// Simulate a real translation that keeps tokens verbatim.
		out := strings.ReplaceAll(req.Text, "текст", "text")
		return out, nil
	}}
	tr := New(cfg, fake)

	text := "Вот формула <<<FORMULA_0>>> в предложении.\nИ ещё одна: <<<FORMULA_1>>> здесь."
	got, _, err := tr.Translate(context.Background(), text, types.LanguageRussian, types.DomainScientific, nil)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if len(detector.TokensIn(got)) != 2 {
		t.Errorf("output lost tokens: %q", got)
	}
}

func TestTranslateRetriesDroppedToken(t *testing.T) {
	fake := &fakeTranslation{translate: func(req Request, call int) (string, error) {
		if !req.ReinforcePlaceholders {
			// First attempt mangles the token.
			return strings.ReplaceAll(req.Text, "<<<FORMULA_0>>>", "FORMULA ZERO"), nil
		}
		return req.Text, nil
	}}
	tr := New(testConfig(), fake)

	text := "Уравнение <<<FORMULA_0>>> выполняется."
	got, warnings, err := tr.Translate(context.Background(), text, types.LanguageRussian, types.DomainGeneral, nil)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if !strings.Contains(got, "<<<FORMULA_0>>>") {
		t.Errorf("token not restored: %q", got)
	}
	if len(fake.requests) != 2 {
		t.Fatalf("capability called %d times, want 2", len(fake.requests))
	}
	if !fake.requests[1].ReinforcePlaceholders {
		t.Error("second attempt did not reinforce the preservation instruction")
	}
	if len(warnings) != 1 {
		t.Fatalf("got %d warnings, want 1: %v", len(warnings), warnings)
	}
	if !strings.Contains(warnings[0].Message, "chunk 0") ||
		!strings.Contains(warnings[0].Message, "placeholder tokens altered") {
		t.Errorf("warning = %q", warnings[0].Message)
	}
}

func TestTranslatePlaceholderIntegrityFatal(t *testing.T) {
	fake := &fakeTranslation{translate: func(req Request, call int) (string, error) {
		return strings.ReplaceAll(req.Text, "<<<FORMULA_0>>>", ""), nil
	}}
	tr := New(testConfig(), fake)

	_, _, err := tr.Translate(context.Background(), "До <<<FORMULA_0>>> после.", types.LanguageRussian, types.DomainGeneral, nil)

	if types.CodeOf(err) != types.ErrPlaceholderIntegrity {
		t.Fatalf("error code = %v, want %v", types.CodeOf(err), types.ErrPlaceholderIntegrity)
	}
	if !strings.Contains(err.Error(), "chunk 0") {
		t.Errorf("error does not name the failing chunk: %v", err)
	}
}

func TestTranslateRetriesTransientErrors(t *testing.T) {
	fake := &fakeTranslation{translate: func(req Request, call int) (string, error) {
		if call == 1 {
			return "", types.NewAppError(types.ErrTranslationUnavailable, "connection reset", nil)
		}
		return req.Text, nil
	}}
	tr := New(testConfig(), fake)

	got, warnings, err := tr.Translate(context.Background(), "Просто текст.", types.LanguageRussian, types.DomainGeneral, nil)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != "Просто текст." {
		t.Errorf("got %q", got)
	}
	if len(fake.requests) != 2 {
		t.Errorf("capability called %d times, want 2", len(fake.requests))
	}
	if len(warnings) != 1 {
		t.Fatalf("got %d warnings, want 1: %v", len(warnings), warnings)
	}
	if !strings.Contains(warnings[0].Message, "retried 1 time") {
		t.Errorf("warning = %q", warnings[0].Message)
	}
	if warnings[0].Stage != types.StageTranslating {
		t.Errorf("warning stage = %q", warnings[0].Stage)
	}
}

func TestTranslateDoesNotRetryFatalErrors(t *testing.T) {
	fake := &fakeTranslation{translate: func(req Request, call int) (string, error) {
		return "", types.NewAppError(types.ErrConfig, "bad credentials", nil)
	}}
	tr := New(testConfig(), fake)

	_, _, err := tr.Translate(context.Background(), "Текст.", types.LanguageRussian, types.DomainGeneral, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(fake.requests) != 1 {
		t.Errorf("fatal error retried %d times", len(fake.requests)-1)
	}
}

func TestTranslateEmptyTextIsNoOp(t *testing.T) {
	fake := &fakeTranslation{}
	tr := New(testConfig(), fake)

	got, _, err := tr.Translate(context.Background(), "   ", types.LanguageRussian, types.DomainGeneral, nil)
	if err != nil || got != "   " {
		t.Errorf("got (%q, %v)", got, err)
	}
	if len(fake.requests) != 0 {
		t.Error("capability called for empty text")
	}
}

func TestTokensMatch(t *testing.T) {
	tests := []struct {
		name     string
		original string
		out      string
		want     bool
	}{
		{"identical", "a <<<FORMULA_0>>> b", "x <<<FORMULA_0>>> y", true},
		{"reordered", "<<<FORMULA_0>>> и <<<FORMULA_1>>>", "<<<FORMULA_1>>> and <<<FORMULA_0>>>", true},
		{"dropped", "a <<<FORMULA_0>>>", "a", false},
		{"duplicated", "a <<<FORMULA_0>>>", "<<<FORMULA_0>>> a <<<FORMULA_0>>>", false},
		{"mutated", "a <<<FORMULA_0>>>", "a <<<FORMULA_1>>>", false},
		{"no tokens", "просто текст", "just text", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tokensMatch(tt.original, tt.out); got != tt.want {
				t.Errorf("tokensMatch = %v, want %v", got, tt.want)
			}
		})
	}
}
