// Package mathpix implements the math recognition capability against the
// Mathpix v3/text API: formula images in, LaTeX and MathML out.
package mathpix

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"document-translator/internal/config"
	"document-translator/internal/logger"
	"document-translator/internal/recognizer"
	"document-translator/internal/types"
)

const (
	maxRetries     = 3
	initialBackoff = time.Second
)

// Client talks to the Mathpix recognition endpoint.
type Client struct {
	appID      string
	appKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Mathpix client. An empty baseURL selects the public
// endpoint.
func NewClient(appID, appKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = config.DefaultMathBaseURL
	}
	return &Client{
		appID:      appID,
		appKey:     appKey,
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}
}

// Available reports whether credentials are configured.
func (c *Client) Available() bool {
	return c.appID != "" && c.appKey != ""
}

type requestPayload struct {
	Src         string      `json:"src"`
	Formats     []string    `json:"formats"`
	OCR         []string    `json:"ocr"`
	DataOptions dataOptions `json:"data_options"`
}

type dataOptions struct {
	IncludeASCIIMath bool `json:"include_asciimath"`
	IncludeLaTeX     bool `json:"include_latex"`
}

type responsePayload struct {
	Latex           string     `json:"latex"`
	LatexStyled     string     `json:"latex_styled"`
	LatexSimplified string     `json:"latex_simplified"`
	MathML          string     `json:"mathml"`
	Text            string     `json:"text"`
	Confidence      confidence `json:"confidence"`
	Error           string     `json:"error"`
}

// confidence tolerates both wire shapes Mathpix uses: a bare number and an
// object with an "overall" field.
type confidence float64

func (c *confidence) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*c = confidence(n)
		return nil
	}
	var obj struct {
		Overall float64 `json:"overall"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*c = confidence(obj.Overall)
	return nil
}

// RecognizeFormula sends one formula image for recognition. Rate limiting and
// server errors are retried with exponential backoff; auth failures are not.
func (c *Client) RecognizeFormula(ctx context.Context, image []byte) (*recognizer.Result, error) {
	if !c.Available() {
		return nil, types.NewAppError(types.ErrRecognitionUnavailable, "math recognition credentials not configured", nil)
	}

	payload := requestPayload{
		Src:     "data:image/png;base64," + base64.StdEncoding.EncodeToString(image),
		Formats: []string{"latex_styled", "latex_simplified", "mathml", "text"},
		OCR:     []string{"math"},
		DataOptions: dataOptions{
			IncludeASCIIMath: false,
			IncludeLaTeX:     true,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, types.NewAppError(types.ErrRecognitionUnavailable, "failed to encode recognition request", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, initialBackoff<<(attempt-1)); err != nil {
				break
			}
		}

		res, retryAfter, err := c.post(ctx, body)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		code := types.CodeOf(err)
		if code == types.ErrRecognitionUnavailable && !isRetryable(err) {
			return nil, err
		}
		if retryAfter > 0 {
			if err := sleepCtx(ctx, retryAfter); err != nil {
				break
			}
		}
	}

	if ctx.Err() == context.DeadlineExceeded {
		return nil, types.NewAppError(types.ErrRecognitionTimeout, "math recognition timed out", lastErr)
	}
	return nil, lastErr
}

// post performs one request attempt. A positive retryAfter carries the
// server's rate-limit hint.
func (c *Client) post(ctx context.Context, body []byte) (*recognizer.Result, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, 0, types.NewAppError(types.ErrRecognitionUnavailable, "failed to build recognition request", err)
	}
	req.Header.Set("app_id", c.appID)
	req.Header.Set("app_key", c.appKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, 0, types.NewAppError(types.ErrRecognitionTimeout, "math recognition request timed out", err)
		}
		return nil, 0, retryableError("math recognition request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// parsed below
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := initialBackoff
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		logger.Warn("math recognition rate limited", logger.Duration("retry_after", retryAfter))
		return nil, retryAfter, retryableError("math recognition rate limited", nil)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, 0, types.NewAppError(types.ErrRecognitionUnavailable,
			"math recognition rejected credentials", nil)
	case resp.StatusCode >= 500:
		return nil, 0, retryableError(fmt.Sprintf("math recognition server error (%d)", resp.StatusCode), nil)
	default:
		return nil, 0, types.NewAppError(types.ErrRecognitionUnavailable,
			fmt.Sprintf("math recognition request failed (%d)", resp.StatusCode), nil)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, retryableError("failed to read recognition response", err)
	}
	var parsed responsePayload
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, 0, types.NewAppError(types.ErrRecognitionUnavailable, "malformed recognition response", err)
	}
	if parsed.Error != "" {
		return nil, 0, types.NewAppErrorWithDetails(types.ErrRecognitionUnavailable,
			"math recognition reported an error", parsed.Error, nil)
	}

	latex := parsed.LatexStyled
	if latex == "" {
		latex = parsed.Latex
	}
	if latex == "" {
		latex = parsed.LatexSimplified
	}

	return &recognizer.Result{
		LaTeX:      latex,
		MathML:     parsed.MathML,
		Text:       parsed.Text,
		Confidence: float64(parsed.Confidence),
		IsGraph:    looksLikeGraph(parsed.Text),
	}, 0, nil
}

// looksLikeGraph flags responses where recognition produced a long wordy
// transcript: the image is a plot or diagram, not a formula.
func looksLikeGraph(text string) bool {
	return len(text) > 100 && strings.Count(text, " ") > 10
}

// retryableError marks transient failures so the retry loop distinguishes
// them from terminal ones.
func retryableError(msg string, cause error) error {
	return types.NewAppErrorWithDetails(types.ErrRecognitionUnavailable, msg, "retryable", cause)
}

func isRetryable(err error) bool {
	appErr, ok := err.(*types.AppError)
	return ok && appErr.Details == "retryable"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
