package convert

import (
	"archive/zip"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConverter(t *testing.T) *Converter {
	t.Helper()
	return New(4, 2, WithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		ext  string
		want Kind
	}{
		{".pdf", KindPDF},
		{"pdf", KindPDF},
		{".PDF", KindPDF},
		{".doc", KindWord},
		{".docx", KindWord},
		{".jpg", KindImage},
		{".jpeg", KindImage},
		{".png", KindImage},
		{".webp", KindImage},
		{".rtf", KindRTF},
		{".txt", KindText},
		{".zip", KindUnknown},
		{".exe", KindUnknown},
		{"", KindUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.ext), "ext %q", tt.ext)
	}
}

func TestIsSupported(t *testing.T) {
	assert.True(t, IsSupported(".pdf"))
	assert.True(t, IsSupported(".TXT"))
	assert.False(t, IsSupported(".tar.gz"))
	assert.False(t, IsSupported(".mp4"))
}

func TestRunChainEscalates(t *testing.T) {
	c := newTestConverter(t)

	var calls []string
	chain := []strategy{
		{name: "fails", fn: func(context.Context, string) (string, error) {
			calls = append(calls, "fails")
			return "", fmt.Errorf("boom")
		}},
		{name: "short", fn: func(context.Context, string) (string, error) {
			calls = append(calls, "short")
			return "tiny", nil
		}},
		{name: "wins", fn: func(context.Context, string) (string, error) {
			calls = append(calls, "wins")
			return "this output is comfortably long enough", nil
		}},
		{name: "unreached", fn: func(context.Context, string) (string, error) {
			calls = append(calls, "unreached")
			return "should not run", nil
		}},
	}

	got := c.runChain(context.Background(), "x.pdf", chain)
	assert.Equal(t, "this output is comfortably long enough", got)
	assert.Equal(t, []string{"fails", "short", "wins"}, calls)
}

func TestRunChainExhausted(t *testing.T) {
	c := newTestConverter(t)
	chain := []strategy{
		{name: "a", fn: func(context.Context, string) (string, error) { return "", fmt.Errorf("no") }},
		{name: "b", fn: func(context.Context, string) (string, error) { return "  ", nil }},
	}
	assert.Empty(t, c.runChain(context.Background(), "x.pdf", chain))
}

func TestRunChainCancelled(t *testing.T) {
	c := newTestConverter(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	chain := []strategy{
		{name: "a", fn: func(context.Context, string) (string, error) {
			ran = true
			return "long enough text that would otherwise win", nil
		}},
	}
	assert.Empty(t, c.runChain(ctx, "x.pdf", chain))
	assert.False(t, ran)
}

func TestConvertText(t *testing.T) {
	c := newTestConverter(t)
	dir := t.TempDir()

	path := filepath.Join(dir, "resume.txt")
	content := "Jane Doe\nSenior Engineer\n10 years of Go experience"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	assert.Equal(t, content, c.ConvertToText(context.Background(), path))
}

func TestConvertTextNonUTF8(t *testing.T) {
	c := newTestConverter(t)
	dir := t.TempDir()

	// 0x93/0x94 are not valid UTF-8; the probe chain must still recover
	// the readable text.
	raw := append([]byte("Led \x93platform\x94 team, detailed resume content follows here"), '\n')
	path := filepath.Join(dir, "resume.txt")
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	got := c.ConvertToText(context.Background(), path)
	assert.Contains(t, got, "platform")
	assert.True(t, utf8.ValidString(got))
}

func TestConvertUnsupported(t *testing.T) {
	c := newTestConverter(t)
	assert.Empty(t, c.ConvertToText(context.Background(), "video.mp4"))
}

func TestConvertBatch(t *testing.T) {
	c := newTestConverter(t)
	dir := t.TempDir()

	paths := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		p := filepath.Join(dir, fmt.Sprintf("resume_%d.txt", i))
		content := fmt.Sprintf("Candidate number %d with plenty of resume text to pass the threshold", i)
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		paths = append(paths, p)
	}
	// An unsupported file converts to "" but is still present in the result.
	bad := filepath.Join(dir, "archive.zip")
	require.NoError(t, os.WriteFile(bad, []byte("PK"), 0o644))
	paths = append(paths, bad)

	results := c.ConvertBatch(context.Background(), paths)
	require.Len(t, results, 7)
	for i := 0; i < 6; i++ {
		assert.Contains(t, results[paths[i]], fmt.Sprintf("Candidate number %d", i))
	}
	assert.Empty(t, results[bad])
}

func TestDecodeWithProbes(t *testing.T) {
	t.Run("valid utf-8 passes through", func(t *testing.T) {
		in := "héllo wörld"
		assert.Equal(t, in, decodeWithProbes([]byte(in)))
	})

	t.Run("latin-1 bytes decode", func(t *testing.T) {
		got := decodeWithProbes([]byte{'c', 'a', 'f', 0xe9}) // café in latin-1
		assert.Equal(t, "café", got)
	})

	t.Run("nothing decodable keeps valid runs", func(t *testing.T) {
		got := decodeWithProbes([]byte("ok"))
		assert.Equal(t, "ok", got)
	})
}

func TestStripUTF8BOM(t *testing.T) {
	assert.Equal(t, "text", stripUTF8BOM("﻿text"))
	assert.Equal(t, "text", stripUTF8BOM("text"))
}

// writeDocx builds a minimal .docx archive containing the given
// word/document.xml payload.
func writeDocx(t *testing.T, dir, name, documentXML string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(documentXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return path
}

const sampleDocumentXML = `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Jane Doe</w:t></w:r></w:p>
    <w:p><w:r><w:t>Senior Software Engineer</w:t></w:r></w:p>
    <w:tbl>
      <w:tr>
        <w:tc><w:p><w:r><w:t>Go</w:t></w:r></w:p></w:tc>
        <w:tc><w:p><w:r><w:t>8 years</w:t></w:r></w:p></w:tc>
      </w:tr>
      <w:tr>
        <w:tc><w:p><w:r><w:t>Python</w:t></w:r></w:p></w:tc>
        <w:tc><w:p><w:r><w:t>5 years</w:t></w:r></w:p></w:tc>
      </w:tr>
    </w:tbl>
    <w:p><w:r><w:t>Available immediately</w:t></w:r></w:p>
  </w:body>
</w:document>`

func TestExtractDocxXML(t *testing.T) {
	path := writeDocx(t, t.TempDir(), "resume.docx", sampleDocumentXML)

	got, err := extractDocxXML(context.Background(), path)
	require.NoError(t, err)

	lines := strings.Split(got, "\n")
	assert.Equal(t, []string{
		"Jane Doe",
		"Senior Software Engineer",
		"Go | 8 years",
		"Python | 5 years",
		"Available immediately",
	}, lines)
}

func TestExtractDocxMarkdown(t *testing.T) {
	path := writeDocx(t, t.TempDir(), "resume.docx", sampleDocumentXML)

	got, err := extractDocxMarkdown(context.Background(), path)
	require.NoError(t, err)
	assert.Contains(t, got, "Jane Doe")
	assert.Contains(t, got, "Go")
	assert.Contains(t, got, "8 years")
}

func TestParseDocumentXMLSalvagesTruncated(t *testing.T) {
	// Truncated mid-table: everything before the corruption point survives.
	truncated := `<w:document xmlns:w="http://x">
  <w:body>
    <w:p><w:r><w:t>Before the corruption</w:t></w:r></w:p>
    <w:tbl><w:tr><w:tc><w:p><w:r><w:t>cell`

	blocks, err := parseDocumentXML(strings.NewReader(truncated))
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "Before the corruption", blocks[0].text)
}

func TestParseDocumentXMLGarbage(t *testing.T) {
	_, err := parseDocumentXML(strings.NewReader("not xml at all <<<"))
	assert.Error(t, err)
}

func TestReadDocumentBlocksMissingDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.docx")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	_, err = readDocumentBlocks(path)
	assert.ErrorContains(t, err, "no word/document.xml")
}

func TestExtractRTFScraped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resume.rtf")
	rtf := `{\rtf1\ansi\deff0 {\fonttbl{\f0 Arial;}}\f0\fs24 John Smith, Staff Engineer with broad experience.}`
	require.NoError(t, os.WriteFile(path, []byte(rtf), 0o644))

	got, err := extractRTFScraped(context.Background(), path)
	require.NoError(t, err)
	assert.Contains(t, got, "John Smith, Staff Engineer")
	assert.NotContains(t, got, `\rtf1`)
	assert.NotContains(t, got, "{")
}

func TestConvertRTF(t *testing.T) {
	c := newTestConverter(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "resume.rtf")
	rtf := `{\rtf1\ansi John Smith has been a Staff Engineer for twelve years.}`
	require.NoError(t, os.WriteFile(path, []byte(rtf), 0o644))

	got := c.ConvertToText(context.Background(), path)
	assert.Contains(t, got, "John Smith")
	assert.Contains(t, got, "twelve years")
}
