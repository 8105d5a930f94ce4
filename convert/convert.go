// Package convert extracts plain text from heterogeneous resume files.
// Each file format routes to an ordered fallback chain of extraction
// strategies; a strategy wins when it yields enough text, otherwise the
// chain escalates. Content failures never surface as errors — a file that
// defeats every strategy converts to the empty string.
package convert

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// minTextLength is the threshold below which a strategy's output is
// treated as a failed extraction and the chain escalates.
const minTextLength = 20

// Kind classifies a file by its extension.
type Kind string

const (
	KindPDF     Kind = "pdf"
	KindWord    Kind = "word"
	KindImage   Kind = "image"
	KindRTF     Kind = "rtf"
	KindText    Kind = "text"
	KindUnknown Kind = "unknown"
)

// Classify returns the file kind for an extension (with or without the
// leading dot).
func Classify(ext string) Kind {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	switch ext {
	case ".pdf":
		return KindPDF
	case ".doc", ".docx":
		return KindWord
	case ".jpg", ".jpeg", ".png", ".webp":
		return KindImage
	case ".rtf":
		return KindRTF
	case ".txt":
		return KindText
	default:
		return KindUnknown
	}
}

// IsSupported reports whether the extension belongs to the supported set.
func IsSupported(ext string) bool {
	return Classify(ext) != KindUnknown
}

// strategy is one entry in a fallback chain.
type strategy struct {
	name string
	fn   func(ctx context.Context, path string) (string, error)
}

// Converter routes files to extraction chains under bounded concurrency.
type Converter struct {
	fileSem *semaphore.Weighted // CPU-bound conversions
	docSem  *semaphore.Weighted // LibreOffice subprocesses
	ocr     ocrEngine
	logger  *slog.Logger

	// docTimeout bounds one LibreOffice conversion.
	docTimeout time.Duration
}

// Option configures a Converter.
type Option func(*Converter)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Converter) {
		c.logger = logger
	}
}

// WithOCR substitutes the OCR engine. Used by tests.
func WithOCR(engine ocrEngine) Option {
	return func(c *Converter) {
		c.ocr = engine
	}
}

// WithDocTimeout overrides the LibreOffice conversion deadline.
func WithDocTimeout(d time.Duration) Option {
	return func(c *Converter) {
		c.docTimeout = d
	}
}

// New creates a Converter. fileConcurrency caps concurrent conversions;
// docConcurrency caps concurrent LibreOffice subprocesses and should be
// the smaller of the two.
func New(fileConcurrency, docConcurrency int, opts ...Option) *Converter {
	c := &Converter{
		fileSem:    semaphore.NewWeighted(int64(max(fileConcurrency, 1))),
		docSem:     semaphore.NewWeighted(int64(max(docConcurrency, 1))),
		logger:     slog.Default(),
		docTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.ocr == nil {
		c.ocr = &tesseractEngine{}
	}
	return c
}

// ConvertToText extracts text from one file. Returns the empty string when
// every strategy in the file's chain is exhausted; content errors are
// logged, never returned.
func (c *Converter) ConvertToText(ctx context.Context, path string) string {
	switch Classify(filepath.Ext(path)) {
	case KindPDF:
		return c.runChain(ctx, path, c.pdfChain())
	case KindWord:
		if strings.EqualFold(filepath.Ext(path), ".doc") {
			return c.convertLegacyDoc(ctx, path)
		}
		return c.runChain(ctx, path, c.docxChain())
	case KindImage:
		return c.runChain(ctx, path, c.imageChain())
	case KindRTF:
		return c.runChain(ctx, path, c.rtfChain())
	case KindText:
		return c.runChain(ctx, path, c.textChain())
	default:
		c.logger.Warn("Unsupported file type", "path", path)
		return ""
	}
}

// ConvertBatch converts all files concurrently, capped by the converter's
// file semaphore. The result maps each input path to its extracted text.
func (c *Converter) ConvertBatch(ctx context.Context, paths []string) map[string]string {
	results := make(map[string]string, len(paths))

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, path := range paths {
		if err := c.fileSem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			results[path] = ""
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			defer c.fileSem.Release(1)

			text := c.ConvertToText(ctx, path)
			mu.Lock()
			results[path] = text
			mu.Unlock()
		}(path)
	}

	wg.Wait()
	return results
}

// runChain tries each strategy in order until one yields enough text.
func (c *Converter) runChain(ctx context.Context, path string, chain []strategy) string {
	for _, s := range chain {
		if ctx.Err() != nil {
			return ""
		}

		text, err := s.fn(ctx, path)
		if err != nil {
			c.logger.Debug("Extraction strategy failed",
				"strategy", s.name,
				"path", path,
				"error", err)
			continue
		}

		text = strings.TrimSpace(text)
		if len(text) < minTextLength {
			c.logger.Debug("Extraction yielded minimal text, escalating",
				"strategy", s.name,
				"path", path,
				"chars", len(text))
			continue
		}

		c.logger.Info("Extraction success",
			"path", filepath.Base(path),
			"strategy", s.name,
			"chars", len(text))
		return text
	}

	c.logger.Warn("All extraction strategies exhausted",
		"path", path,
		"chain_length", len(chain))
	return ""
}
