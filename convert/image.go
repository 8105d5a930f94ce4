package convert

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"

	"gocv.io/x/gocv"
)

// imageChain OCRs photographed or scanned resumes. The preprocessed pass
// deskews, upscales, denoises and binarizes before recognition; the raw
// pass is the fallback when OpenCV rejects the input.
func (c *Converter) imageChain() []strategy {
	return []strategy{
		{name: "preprocessed-ocr", fn: c.extractImagePreprocessed},
		{name: "raw-ocr", fn: c.extractImageRaw},
	}
}

func (c *Converter) extractImagePreprocessed(ctx context.Context, path string) (string, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		return "", fmt.Errorf("load image %s", path)
	}
	defer img.Close()

	deskewed := deskew(img)
	defer deskewed.Close()

	processed, err := preprocess(deskewed)
	if err != nil {
		return "", err
	}
	defer processed.Close()

	buf, err := gocv.IMEncode(".png", processed)
	if err != nil {
		return "", fmt.Errorf("encode preprocessed image: %w", err)
	}
	defer buf.Close()

	return c.ocr.Recognize(ctx, buf.GetBytes())
}

func (c *Converter) extractImageRaw(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	return c.ocr.Recognize(ctx, data)
}

// deskew estimates the text rotation from the minimum-area bounding box of
// the foreground pixels and rotates the image upright. Returns a clone of
// the input when estimation fails.
func deskew(img gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	gocv.BitwiseNot(gray, &gray)

	nonZero := gocv.NewMat()
	defer nonZero.Close()
	gocv.FindNonZero(gray, &nonZero)
	if nonZero.Empty() {
		return img.Clone()
	}

	points := gocv.NewPointVectorFromMat(nonZero)
	defer points.Close()
	rect := gocv.MinAreaRect(points)

	angle := float64(rect.Angle)
	if angle < -45 {
		angle = -(90 + angle)
	} else {
		angle = -angle
	}

	size := img.Size()
	center := image.Pt(size[1]/2, size[0]/2)
	rotation := gocv.GetRotationMatrix2D(center, angle, 1.0)
	defer rotation.Close()

	rotated := gocv.NewMat()
	gocv.WarpAffineWithParams(img, &rotated, rotation,
		image.Pt(size[1], size[0]),
		gocv.InterpolationCubic,
		gocv.BorderReplicate,
		color.RGBA{})
	return rotated
}

// preprocess runs the OCR enhancement pipeline: grayscale, 1.5x upscale,
// Gaussian denoise, adaptive threshold, morphological open.
func preprocess(img gocv.Mat) (gocv.Mat, error) {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(gray, &resized, image.Point{}, 1.5, 1.5, gocv.InterpolationLinear)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(resized, &blurred, image.Pt(5, 5), 0, 0, gocv.BorderDefault)

	thresholded := gocv.NewMat()
	defer thresholded.Close()
	gocv.AdaptiveThreshold(blurred, &thresholded, 255,
		gocv.AdaptiveThresholdGaussian, gocv.ThresholdBinary, 11, 2)

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(2, 2))
	defer kernel.Close()

	opened := gocv.NewMat()
	gocv.MorphologyEx(thresholded, &opened, gocv.MorphOpen, kernel)
	if opened.Empty() {
		opened.Close()
		return gocv.Mat{}, fmt.Errorf("preprocessing produced empty image")
	}
	return opened, nil
}
