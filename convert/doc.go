package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// antiwordTimeout bounds the direct .doc text extraction fallback.
const antiwordTimeout = 10 * time.Second

// convertLegacyDoc handles the binary .doc format: convert to .docx with
// LibreOffice and run the .docx chain, falling back to antiword when the
// conversion fails. The doc semaphore keeps the number of LibreOffice
// subprocesses below the general conversion cap.
func (c *Converter) convertLegacyDoc(ctx context.Context, path string) string {
	if err := c.docSem.Acquire(ctx, 1); err != nil {
		return ""
	}
	defer c.docSem.Release(1)

	docxPath, err := c.convertDocToDocx(ctx, path)
	if err == nil {
		defer os.Remove(docxPath)
		return c.runChain(ctx, docxPath, c.docxChain())
	}

	c.logger.Warn("LibreOffice conversion failed, trying antiword",
		"path", path,
		"error", err)

	text, err := extractDocAntiword(ctx, path)
	if err != nil {
		c.logger.Warn("All legacy .doc strategies exhausted",
			"path", path,
			"error", err)
		return ""
	}
	return strings.TrimSpace(text)
}

// convertDocToDocx runs a headless LibreOffice conversion under a hard
// deadline. Each invocation gets its own profile directory: parallel
// soffice processes sharing a profile corrupt each other.
func (c *Converter) convertDocToDocx(ctx context.Context, docPath string) (string, error) {
	outDir := filepath.Dir(docPath)
	base := strings.TrimSuffix(filepath.Base(docPath), filepath.Ext(docPath))
	docxPath := filepath.Join(outDir, base+".docx")
	profileDir := filepath.Join(os.TempDir(), "lo_profile_"+uuid.NewString())
	defer os.RemoveAll(profileDir)

	ctx, cancel := context.WithTimeout(ctx, c.docTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "soffice",
		"--headless",
		"--nofirststartwizard",
		"--norestore",
		"--nologo",
		"-env:UserInstallation=file://"+profileDir,
		"--convert-to", "docx",
		"--outdir", outDir,
		docPath,
	)
	cmd.Env = append(os.Environ(), "HOME="+os.TempDir())

	output, err := cmd.CombinedOutput()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("libreoffice conversion timed out after %s", c.docTimeout)
	}
	if err != nil {
		return "", fmt.Errorf("libreoffice conversion: %w (%s)", err, firstLine(output))
	}

	// soffice exits zero on some failures; trust only the output file.
	if _, statErr := os.Stat(docxPath); statErr != nil {
		return "", fmt.Errorf("libreoffice produced no output: %s", firstLine(output))
	}
	return docxPath, nil
}

// extractDocAntiword extracts text directly from the binary .doc format.
func extractDocAntiword(ctx context.Context, docPath string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, antiwordTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "antiword", "-m", "UTF-8.txt", docPath)
	output, err := cmd.Output()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("antiword timed out after %s", antiwordTimeout)
	}
	if err != nil {
		return "", fmt.Errorf("antiword: %w", err)
	}
	if len(strings.TrimSpace(string(output))) == 0 {
		return "", fmt.Errorf("antiword produced no text")
	}
	return string(output), nil
}

func firstLine(output []byte) string {
	s := strings.TrimSpace(string(output))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
