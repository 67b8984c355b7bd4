package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"document-translator/internal/config"
	"document-translator/internal/translator"
	"document-translator/internal/types"
)

type fakeGenerator struct {
	content string
	err     error
	gotIn   []*schema.Message
}

func (f *fakeGenerator) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	f.gotIn = input
	if f.err != nil {
		return nil, f.err
	}
	return &schema.Message{Role: schema.Assistant, Content: f.content}, nil
}

func testClient(gen *fakeGenerator) *Client {
	cfg := config.Default()
	cfg.OpenAIAPIKey = "test-key"
	c := NewClient(cfg)
	c.factory = func(ctx context.Context, modelName string) (generator, error) {
		return gen, nil
	}
	return c
}

func TestTranslateText(t *testing.T) {
	gen := &fakeGenerator{content: "The formula <<<FORMULA_0>>> holds."}
	c := testClient(gen)

	got, err := c.TranslateText(context.Background(), translator.Request{
		Text:           "Формула <<<FORMULA_0>>> верна.\n\n",
		SourceLanguage: types.LanguageRussian,
		Domain:         types.DomainScientific,
	})
	if err != nil {
		t.Fatalf("TranslateText: %v", err)
	}
	if got != "The formula <<<FORMULA_0>>> holds.\n\n" {
		t.Errorf("got %q, want trailing whitespace restored", got)
	}

	if len(gen.gotIn) != 2 {
		t.Fatalf("got %d messages, want system + user", len(gen.gotIn))
	}
	system := gen.gotIn[0]
	if system.Role != schema.System {
		t.Errorf("first message role = %v", system.Role)
	}
	if !strings.Contains(system.Content, "Russian") {
		t.Error("system prompt does not name the source language")
	}
	if !strings.Contains(system.Content, "<<<FORMULA_N>>>") {
		t.Error("system prompt does not explain placeholder tokens")
	}
	if gen.gotIn[1].Content != "Формула <<<FORMULA_0>>> верна.\n\n" {
		t.Errorf("user message = %q", gen.gotIn[1].Content)
	}
}

func TestTranslateTextNoAPIKey(t *testing.T) {
	c := NewClient(config.Default())
	_, err := c.TranslateText(context.Background(), translator.Request{Text: "x"})
	if types.CodeOf(err) != types.ErrTranslationUnavailable {
		t.Errorf("error code = %v", types.CodeOf(err))
	}
}

func TestTranslateTextEmptyResponse(t *testing.T) {
	c := testClient(&fakeGenerator{content: "   "})
	_, err := c.TranslateText(context.Background(), translator.Request{Text: "x"})
	if types.CodeOf(err) != types.ErrTranslationUnavailable {
		t.Errorf("error code = %v", types.CodeOf(err))
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	req := translator.Request{
		SourceLanguage:        types.LanguageChinese,
		Domain:                types.DomainEngineering,
		Glossary:              map[string]string{"轴承": "bearing", "法兰": "flange"},
		ReinforcePlaceholders: true,
	}
	prompt := buildSystemPrompt(req)

	for _, want := range []string{
		"Chinese",
		"engineering terminology",
		"轴承 -> bearing",
		"法兰 -> flange",
		"IMPORTANT",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestClassifyTranslationError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want types.ErrorCode
	}{
		{"quota", errors.New("openai: insufficient quota"), types.ErrQuotaExceeded},
		{"rate limit", errors.New("HTTP 429 rate limit reached"), types.ErrQuotaExceeded},
		{"timeout", errors.New("request timeout"), types.ErrTranslationTimeout},
		{"other", errors.New("connection refused"), types.ErrTranslationUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyTranslationError(context.Background(), tt.err)
			if types.CodeOf(got) != tt.want {
				t.Errorf("code = %v, want %v", types.CodeOf(got), tt.want)
			}
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done()
	got := classifyTranslationError(ctx, errors.New("canceled"))
	if types.CodeOf(got) != types.ErrTranslationTimeout {
		t.Errorf("expired context classified as %v", types.CodeOf(got))
	}
}

func TestModelSelectionByDomain(t *testing.T) {
	cfg := config.Default()
	cfg.OpenAIAPIKey = "k"
	c := NewClient(cfg)

	var created []string
	c.factory = func(ctx context.Context, modelName string) (generator, error) {
		created = append(created, modelName)
		return &fakeGenerator{content: "ok"}, nil
	}

	for _, d := range []types.Domain{types.DomainGeneral, types.DomainAcademic, types.DomainGeneral} {
		if _, err := c.TranslateText(context.Background(), translator.Request{Text: "x", Domain: d}); err != nil {
			t.Fatalf("TranslateText(%s): %v", d, err)
		}
	}

	if len(created) != 2 {
		t.Fatalf("created %d models, want 2 (one per model name): %v", len(created), created)
	}
	if created[0] != cfg.GeneralModel || created[1] != cfg.SpecializedModel {
		t.Errorf("created = %v", created)
	}
}
