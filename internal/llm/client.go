// Package llm implements the translation capability on an OpenAI-compatible
// chat completion API via the eino framework.
package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/cloudwego/eino-ext/components/model/openai"

	"document-translator/internal/config"
	"document-translator/internal/logger"
	"document-translator/internal/translator"
	"document-translator/internal/types"
)

// generator is the slice of the eino chat model the client uses.
type generator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error)
}

// Client translates text through chat completions. Models are created lazily
// per model name, since the translation domain selects the model.
type Client struct {
	cfg *config.Config

	mu      sync.Mutex
	models  map[string]generator
	factory func(ctx context.Context, modelName string) (generator, error)
}

// NewClient creates a translation client over the configured API.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		cfg:    cfg,
		models: make(map[string]generator),
		factory: func(ctx context.Context, modelName string) (generator, error) {
			mc := &openai.ChatModelConfig{
				Model:  modelName,
				APIKey: cfg.OpenAIAPIKey,
			}
			if cfg.OpenAIBaseURL != "" {
				mc.BaseURL = cfg.OpenAIBaseURL
			}
			return openai.NewChatModel(ctx, mc)
		},
	}
}

// TranslateText translates one chunk to English, preserving placeholder
// tokens verbatim and the chunk's edge whitespace so reassembly stays
// seamless.
func (c *Client) TranslateText(ctx context.Context, req translator.Request) (string, error) {
	if c.cfg.OpenAIAPIKey == "" {
		return "", types.NewAppError(types.ErrTranslationUnavailable, "translation API key not configured", nil)
	}

	modelName := c.cfg.ModelForDomain(req.Domain)
	cm, err := c.model(ctx, modelName)
	if err != nil {
		return "", types.NewAppError(types.ErrTranslationUnavailable, "failed to initialize chat model", err)
	}

	messages := []*schema.Message{
		schema.SystemMessage(buildSystemPrompt(req)),
		schema.UserMessage(req.Text),
	}

	resp, err := cm.Generate(ctx, messages)
	if err != nil {
		return "", classifyTranslationError(ctx, err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", types.NewAppError(types.ErrTranslationUnavailable, "translation returned an empty response", nil)
	}

	logger.Debug("chunk translated",
		logger.String("model", modelName),
		logger.Int("in", len(req.Text)),
		logger.Int("out", len(resp.Content)))

	return restoreEdgeWhitespace(req.Text, resp.Content), nil
}

// model returns the chat model for modelName, creating it on first use.
func (c *Client) model(ctx context.Context, modelName string) (generator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.models[modelName]; ok {
		return m, nil
	}
	m, err := c.factory(ctx, modelName)
	if err != nil {
		return nil, err
	}
	c.models[modelName] = m
	return m, nil
}

// domainInstructions selects the translation register.
var domainInstructions = map[types.Domain]string{
	types.DomainGeneral:     "Use clear, natural English suitable for a general audience.",
	types.DomainEngineering: "Use precise engineering terminology and keep units, part numbers and standards references exact.",
	types.DomainAcademic:    "Use formal academic English and keep citations, section references and technical terms exact.",
	types.DomainScientific:  "Use precise scientific terminology and keep variable names, units and chemical or physical notation exact.",
}

// buildSystemPrompt assembles the translation instruction for one request.
func buildSystemPrompt(req translator.Request) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are a professional translator. Translate the user's text from %s to English.\n",
		req.SourceLanguage.Name())
	instr, ok := domainInstructions[req.Domain]
	if !ok {
		instr = domainInstructions[types.DomainGeneral]
	}
	sb.WriteString(instr)
	sb.WriteString("\n")

	sb.WriteString("The text contains placeholder tokens of the form <<<FORMULA_N>>>. " +
		"Copy every token to the output completely unchanged, exactly once, at the position " +
		"where its formula belongs in the translated sentence. Never translate, rewrite, drop or renumber a token.\n")
	if req.ReinforcePlaceholders {
		sb.WriteString("IMPORTANT: your previous attempt altered the placeholder tokens. " +
			"Every <<<FORMULA_N>>> token from the input must appear verbatim in the output.\n")
	}

	if len(req.Glossary) > 0 {
		terms := make([]string, 0, len(req.Glossary))
		for k := range req.Glossary {
			terms = append(terms, k)
		}
		sort.Strings(terms)
		sb.WriteString("Translate these terms as specified:\n")
		for _, k := range terms {
			fmt.Fprintf(&sb, "- %s -> %s\n", k, req.Glossary[k])
		}
	}

	sb.WriteString("Output only the translated text, with no commentary and no markdown fences.")
	return sb.String()
}

// restoreEdgeWhitespace re-applies the original chunk's leading and trailing
// whitespace to the translation, so concatenating translated chunks keeps
// paragraph boundaries intact.
func restoreEdgeWhitespace(original, translated string) string {
	leading := original[:len(original)-len(strings.TrimLeft(original, " \t\n\r"))]
	trailing := original[len(strings.TrimRight(original, " \t\n\r")):]
	return leading + strings.TrimSpace(translated) + trailing
}

// classifyTranslationError maps transport and API failures onto the error
// taxonomy.
func classifyTranslationError(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return types.NewAppError(types.ErrTranslationTimeout, "translation request timed out", err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "quota"), strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"):
		return types.NewAppError(types.ErrQuotaExceeded, "translation quota exceeded", err)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return types.NewAppError(types.ErrTranslationTimeout, "translation request timed out", err)
	default:
		return types.NewAppError(types.ErrTranslationUnavailable, "translation request failed", err)
	}
}
