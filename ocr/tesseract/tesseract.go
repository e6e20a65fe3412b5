// Package tesseract provides the production OCR engine backed by the
// Tesseract C library. It requires libtesseract and language data at runtime,
// so everything above it depends only on ocr.Engine.
package tesseract

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/docforge/pdfnamer/ocr"
)

// Engine wraps a gosseract client. The client is not goroutine-safe; calls
// are serialized with a mutex.
type Engine struct {
	mu     sync.Mutex
	client *gosseract.Client
}

var _ ocr.BatchEngine = (*Engine)(nil)

// New starts a Tesseract client for the given languages.
func New(languages ...string) (*Engine, error) {
	client := gosseract.NewClient()
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	if err := client.SetLanguage(languages...); err != nil {
		client.Close()
		return nil, fmt.Errorf("set languages %v: %w", languages, err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
		client.Close()
		return nil, err
	}
	return &Engine{client: client}, nil
}

// Recognize runs OCR over one encoded image.
func (e *Engine) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return ocr.Result{}, err
	}
	if err := e.client.SetImageFromBytes(in.Data); err != nil {
		return ocr.Result{}, fmt.Errorf("set image %s: %w", in.Name, err)
	}
	text, err := e.client.Text()
	if err != nil {
		return ocr.Result{}, fmt.Errorf("recognize %s: %w", in.Name, err)
	}
	return ocr.Result{Text: strings.TrimSpace(text)}, nil
}

// RecognizeBatch reuses the one client across inputs, skipping failures.
func (e *Engine) RecognizeBatch(ctx context.Context, ins []ocr.Input) ([]ocr.Result, error) {
	out := make([]ocr.Result, 0, len(ins))
	for _, in := range ins {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := e.Recognize(ctx, in)
		if err != nil {
			continue
		}
		out = append(out, res)
	}
	return out, nil
}

// Close releases the Tesseract client.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client.Close()
}
