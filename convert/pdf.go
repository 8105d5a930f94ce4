package convert

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"strings"

	fitz "github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"
	rscpdf "rsc.io/pdf"
)

// ocrPageThreshold: a PDF page yielding fewer characters than this is
// likely scanned and gets an OCR attempt.
const ocrPageThreshold = 50

// pdfChain is the PDF fallback chain: MuPDF (fast, with per-page OCR for
// scanned pages), then row-grouped extraction (keeps table rows together),
// then the legacy reader for files the others reject.
func (c *Converter) pdfChain() []strategy {
	return []strategy{
		{name: "mupdf", fn: c.extractPDFFitz},
		{name: "row-layout", fn: c.extractPDFRows},
		{name: "legacy", fn: extractPDFLegacy},
	}
}

// extractPDFFitz extracts text page by page via MuPDF. Pages with minimal
// text are rendered and OCRed — scanned resumes are common.
func (c *Converter) extractPDFFitz(ctx context.Context, path string) (string, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return "", fmt.Errorf("open PDF: %w", err)
	}
	defer doc.Close()

	var pages []string
	for i := 0; i < doc.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		text, err := doc.Text(i)
		if err != nil {
			continue
		}

		if len(strings.TrimSpace(text)) < ocrPageThreshold {
			if ocrText, ocrErr := c.ocrPage(ctx, doc, i); ocrErr == nil && ocrText != "" {
				text = ocrText
			} else if ocrErr != nil {
				c.logger.Debug("Page OCR failed",
					"path", path,
					"page", i,
					"error", ocrErr)
			}
		}

		if text != "" {
			pages = append(pages, text)
		}
	}

	return strings.Join(pages, "\n"), nil
}

func (c *Converter) ocrPage(ctx context.Context, doc *fitz.Document, page int) (string, error) {
	img, err := doc.Image(page)
	if err != nil {
		return "", fmt.Errorf("render page %d: %w", page, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode page %d: %w", page, err)
	}

	return c.ocr.Recognize(ctx, buf.Bytes())
}

// extractPDFRows groups text by visual rows, which keeps skill tables and
// multi-column layouts readable.
func (c *Converter) extractPDFRows(ctx context.Context, path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open PDF: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		rows, err := page.GetTextByRow()
		if err != nil {
			continue
		}
		for _, row := range rows {
			for j, word := range row.Content {
				if j > 0 {
					sb.WriteString(" ")
				}
				sb.WriteString(word.S)
			}
			sb.WriteString("\n")
		}
	}

	return sb.String(), nil
}

// extractPDFLegacy is the last-resort reader for PDFs the other libraries
// cannot open.
func extractPDFLegacy(ctx context.Context, path string) (text string, err error) {
	// The legacy reader panics on malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("legacy PDF reader: %v", r)
		}
	}()

	reader, err := rscpdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open PDF: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		for _, t := range page.Content().Text {
			sb.WriteString(t.S)
		}
		sb.WriteString("\n")
	}

	return sb.String(), nil
}
