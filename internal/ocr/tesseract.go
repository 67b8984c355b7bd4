// Package ocr provides the Tesseract-backed optical character recognition
// capability used for pages without a usable text layer.
package ocr

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"

	"document-translator/internal/logger"
	"document-translator/internal/types"
)

// TesseractEngine recognizes text in page rasters using the gosseract client.
// Each call uses a fresh client; gosseract clients are not safe for
// concurrent reuse.
type TesseractEngine struct {
	clientFactory func() *gosseract.Client
}

// NewTesseractEngine constructs a Tesseract-backed OCR engine.
func NewTesseractEngine() *TesseractEngine {
	return &TesseractEngine{clientFactory: gosseract.NewClient}
}

// RecognizeImage runs OCR over one raster image. languages holds Tesseract
// trained-data codes such as "rus" or "chi_sim"; an empty list uses the
// Tesseract default. Recognition runs in its own goroutine so that context
// cancellation and deadlines are honored even though the client blocks.
func (e *TesseractEngine) RecognizeImage(ctx context.Context, image []byte, languages []string) (string, error) {
	if len(image) == 0 {
		return "", types.NewAppError(types.ErrOCRUnavailable, "no image data to recognize", nil)
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)

	go func() {
		c := e.clientFactory()
		defer c.Close()

		if err := c.SetImageFromBytes(image); err != nil {
			done <- result{err: fmt.Errorf("set image: %w", err)}
			return
		}
		if len(languages) > 0 {
			if err := c.SetLanguage(languages...); err != nil {
				done <- result{err: fmt.Errorf("set languages: %w", err)}
				return
			}
		}
		text, err := c.Text()
		if err != nil {
			done <- result{err: fmt.Errorf("recognize text: %w", err)}
			return
		}
		done <- result{text: text}
	}()

	select {
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return "", types.NewAppError(types.ErrOCRTimeout, "OCR timed out", ctx.Err())
		}
		return "", types.NewAppError(types.ErrOCRUnavailable, "OCR cancelled", ctx.Err())
	case r := <-done:
		if r.err != nil {
			logger.Warn("tesseract recognition failed", logger.Err(r.err))
			return "", types.NewAppError(types.ErrOCRUnavailable, "OCR engine failed", r.err)
		}
		logger.Debug("tesseract recognition complete", logger.Int("chars", len(r.text)))
		return r.text, nil
	}
}
