// Package translator turns protected source text into English. Text is split
// into bounded chunks that never cut through a placeholder token, chunks are
// translated concurrently, and every translated chunk is verified to carry
// exactly the placeholder tokens of its original before the pieces are
// reassembled in order.
package translator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"document-translator/internal/config"
	"document-translator/internal/detector"
	"document-translator/internal/logger"
	"document-translator/internal/types"
)

// Request is one translation call to the capability.
type Request struct {
	Text           string
	SourceLanguage types.Language
	Domain         types.Domain
	Glossary       map[string]string
	// ReinforcePlaceholders asks the capability to restate the token
	// preservation instruction. Set on the integrity retry.
	ReinforcePlaceholders bool
}

// Capability translates text to English. Implementations live outside this
// package.
type Capability interface {
	TranslateText(ctx context.Context, req Request) (string, error)
}

// ProgressFunc reports chunk completion during translation.
type ProgressFunc func(completed, total int)

// Translator coordinates chunking, concurrent translation and placeholder
// integrity verification.
type Translator struct {
	cfg        *config.Config
	capability Capability
}

// New creates a Translator.
func New(cfg *config.Config, capability Capability) *Translator {
	return &Translator{cfg: cfg, capability: capability}
}

// Translate converts protected text to English. The concatenation of the
// translated chunks is the result; chunk boundaries leave no seams because
// chunks partition the input exactly. Chunks that needed a retry, transient
// or integrity, are reported as warnings.
func (t *Translator) Translate(ctx context.Context, protected string, lang types.Language, domain types.Domain, progress ProgressFunc) (string, []types.Warning, error) {
	if strings.TrimSpace(protected) == "" {
		return protected, nil, nil
	}
	if t.capability == nil {
		return "", nil, types.NewAppError(types.ErrTranslationUnavailable, "translation capability not configured", nil)
	}

	chunks := SplitIntoChunks(protected, t.cfg.MaxChunkSize)
	total := len(chunks)
	logger.Info("translating protected text",
		logger.Int("chunks", total),
		logger.String("language", string(lang)),
		logger.String("domain", string(domain)))

	results := make([]string, total)
	errs := make([]error, total)
	chunkWarnings := make([][]types.Warning, total)

	sem := make(chan struct{}, t.cfg.Concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	completed := 0

	for i := range chunks {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			out, warns, err := t.translateChunk(ctx, &chunks[idx], lang, domain)

			mu.Lock()
			results[idx] = out
			errs[idx] = err
			chunkWarnings[idx] = warns
			completed++
			done := completed
			mu.Unlock()

			if progress != nil {
				progress(done, total)
			}
		}(i)
	}
	wg.Wait()

	var warnings []types.Warning
	for _, ws := range chunkWarnings {
		warnings = append(warnings, ws...)
	}

	for i, err := range errs {
		if err != nil {
			logger.Error("chunk translation failed", err, logger.Int("chunk", i))
			return "", warnings, err
		}
	}

	var sb strings.Builder
	for _, r := range results {
		sb.WriteString(r)
	}
	return sb.String(), warnings, nil
}

// translateChunk translates one chunk and verifies placeholder integrity.
// On a token mismatch it retries once with the preservation instruction
// reinforced; a second mismatch is fatal. Every retry, transient or
// integrity, yields a warning.
func (t *Translator) translateChunk(ctx context.Context, chunk *types.TranslationChunk, lang types.Language, domain types.Domain) (string, []types.Warning, error) {
	var warnings []types.Warning
	req := Request{
		Text:           chunk.Original,
		SourceLanguage: lang,
		Domain:         domain,
		Glossary:       t.cfg.Glossary,
	}

	out, retries, err := t.callWithRetry(ctx, req)
	if retries > 0 {
		warnings = append(warnings, chunkWarning(chunk.Index,
			fmt.Sprintf("transient translation failure, retried %d time(s)", retries)))
	}
	if err != nil {
		return "", warnings, err
	}
	if tokensMatch(chunk.Original, out) {
		chunk.Translated = out
		return out, warnings, nil
	}

	logger.Warn("translation altered placeholder tokens, retrying",
		logger.Int("chunk", chunk.Index))
	warnings = append(warnings, chunkWarning(chunk.Index,
		"placeholder tokens altered, retried with reinforced instruction"))
	req.ReinforcePlaceholders = true
	out, retries, err = t.callWithRetry(ctx, req)
	if retries > 0 {
		warnings = append(warnings, chunkWarning(chunk.Index,
			fmt.Sprintf("transient translation failure, retried %d time(s)", retries)))
	}
	if err == nil && tokensMatch(chunk.Original, out) {
		chunk.Translated = out
		return out, warnings, nil
	}

	return "", warnings, types.NewAppErrorWithDetails(types.ErrPlaceholderIntegrity,
		"translation did not preserve placeholder tokens",
		fmt.Sprintf("chunk %d", chunk.Index), err)
}

func chunkWarning(index int, msg string) types.Warning {
	return types.Warning{
		Stage:   types.StageTranslating,
		Message: fmt.Sprintf("chunk %d: %s", index, msg),
	}
}

// callWithRetry invokes the capability with a per-call timeout, retrying
// transient failures with linear backoff. The second return value counts the
// retries performed beyond the first attempt.
func (t *Translator) callWithRetry(ctx context.Context, req Request) (string, int, error) {
	maxAttempts := t.cfg.TranslationRetries + 1
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, t.cfg.TranslationTimeout())
		out, err := t.capability.TranslateText(cctx, req)
		cancel()
		if err == nil {
			return out, attempt - 1, nil
		}

		if cctx.Err() == context.DeadlineExceeded && types.CodeOf(err) == types.ErrInternal {
			err = types.NewAppError(types.ErrTranslationTimeout, "translation timed out", err)
		}
		lastErr = err

		if ctx.Err() != nil || !isRetryableTranslationError(err) {
			return "", attempt - 1, lastErr
		}
		if attempt < maxAttempts {
			delay := t.cfg.RetryDelay() * time.Duration(attempt)
			logger.Debug("retrying translation call",
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Err(err))
			if err := sleepCtx(ctx, delay); err != nil {
				return "", attempt - 1, lastErr
			}
		}
	}
	return "", maxAttempts - 1, lastErr
}

// isRetryableTranslationError reports whether another attempt could succeed.
func isRetryableTranslationError(err error) bool {
	switch types.CodeOf(err) {
	case types.ErrTranslationUnavailable, types.ErrTranslationTimeout, types.ErrQuotaExceeded:
		return true
	default:
		return false
	}
}

// tokensMatch verifies that two texts carry the same multiset of placeholder
// tokens. Reordering within a chunk is legitimate; loss, duplication or
// mutation is not.
func tokensMatch(original, translated string) bool {
	a := detector.TokensIn(original)
	b := detector.TokensIn(translated)
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, tok := range a {
		counts[tok]++
	}
	for _, tok := range b {
		counts[tok]--
		if counts[tok] < 0 {
			return false
		}
	}
	return true
}

// SplitIntoChunks partitions text into chunks of at most maxSize bytes. Cuts
// happen at paragraph boundaries when possible, then line boundaries, then
// rune boundaries, and never inside a placeholder token. Concatenating the
// chunk originals reproduces text exactly.
func SplitIntoChunks(text string, maxSize int) []types.TranslationChunk {
	if maxSize <= 0 || len(text) <= maxSize {
		return []types.TranslationChunk{{Index: 0, Original: text}}
	}

	var chunks []types.TranslationChunk
	rest := text
	for len(rest) > maxSize {
		cut := findCut(rest, maxSize)
		chunks = append(chunks, types.TranslationChunk{Index: len(chunks), Original: rest[:cut]})
		rest = rest[cut:]
	}
	if rest != "" {
		chunks = append(chunks, types.TranslationChunk{Index: len(chunks), Original: rest})
	}
	return chunks
}

// findCut picks the largest safe cut position in (0, limit].
func findCut(s string, limit int) int {
	window := s[:limit]

	if i := strings.LastIndex(window, "\n\n"); i > 0 {
		return i + 2
	}
	if i := strings.LastIndex(window, "\n"); i > 0 {
		return i + 1
	}

	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if start, spans := tokenSpanning(s, cut); spans && start > 0 {
		cut = start
	}
	if cut == 0 {
		// A token longer than the chunk limit cannot occur with realistic
		// limits; make progress on one rune rather than loop forever.
		_, size := utf8.DecodeRuneInString(s)
		cut = size
	}
	return cut
}

// tokenWindow bounds the search around a cut position; placeholder tokens
// are far shorter than this.
const tokenWindow = 32

// tokenSpanning reports whether a placeholder token straddles the cut
// position, and if so where the token starts.
func tokenSpanning(s string, cut int) (int, bool) {
	lo := cut - tokenWindow
	if lo < 0 {
		lo = 0
	}
	hi := cut + tokenWindow
	if hi > len(s) {
		hi = len(s)
	}
	for _, m := range detector.TokenPattern.FindAllStringIndex(s[lo:hi], -1) {
		start, end := lo+m[0], lo+m[1]
		if start < cut && end > cut {
			return start, true
		}
	}
	return 0, false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
