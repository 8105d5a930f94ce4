package convert

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// ocrEngine recognizes text in an encoded image. Implementations must be
// safe for concurrent use.
type ocrEngine interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// tesseractEngine runs OCR through the tesseract C API. A fresh client per
// call: gosseract clients are not safe for concurrent use.
type tesseractEngine struct{}

func (t *tesseractEngine) Recognize(ctx context.Context, image []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	client := gosseract.NewClient()
	defer client.Close()

	// Single uniform block of text suits resume pages.
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		return "", fmt.Errorf("set page segmentation mode: %w", err)
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return "", fmt.Errorf("set OCR image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("run OCR: %w", err)
	}
	return text, nil
}
