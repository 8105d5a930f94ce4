package convert

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"os"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	docxlib "github.com/fumiama/go-docx"
	simpledocx "github.com/nguyenthenguyen/docx"
)

// docxChain is the .docx fallback chain: structured extraction with table
// support, markdown conversion (keeps semantic structure for the LLM), raw
// XML salvage (works on malformed archives), then a plain text scrape.
func (c *Converter) docxChain() []strategy {
	return []strategy{
		{name: "structured", fn: extractDocxStructured},
		{name: "markdown", fn: extractDocxMarkdown},
		{name: "xml-salvage", fn: extractDocxXML},
		{name: "plain", fn: extractDocxPlain},
	}
}

// extractDocxStructured walks the document body, flattening paragraphs and
// table rows. Tables matter: resumes often carry skill matrices.
func extractDocxStructured(_ context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat docx: %w", err)
	}

	doc, err := docxlib.Parse(f, info.Size())
	if err != nil {
		return "", fmt.Errorf("parse docx: %w", err)
	}

	var parts []string
	for _, item := range doc.Document.Body.Items {
		switch block := item.(type) {
		case *docxlib.Paragraph:
			if text := strings.TrimSpace(block.String()); text != "" {
				parts = append(parts, text)
			}
		case *docxlib.Table:
			for _, row := range block.TableRows {
				var cells []string
				for _, cell := range row.TableCells {
					var cellText []string
					for _, p := range cell.Paragraphs {
						if t := strings.TrimSpace(p.String()); t != "" {
							cellText = append(cellText, t)
						}
					}
					cells = append(cells, strings.Join(cellText, " "))
				}
				if rowText := strings.TrimSpace(strings.Join(cells, " | ")); rowText != "" {
					parts = append(parts, rowText)
				}
			}
		}
	}

	return strings.Join(parts, "\n"), nil
}

// extractDocxMarkdown renders the document as minimal HTML and converts it
// to markdown, preserving heading/table semantics for the LLM.
func extractDocxMarkdown(_ context.Context, path string) (string, error) {
	blocks, err := readDocumentBlocks(path)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range blocks {
		if block.rows != nil {
			sb.WriteString("<table>")
			for _, row := range block.rows {
				sb.WriteString("<tr>")
				for _, cell := range row {
					sb.WriteString("<td>")
					sb.WriteString(html.EscapeString(cell))
					sb.WriteString("</td>")
				}
				sb.WriteString("</tr>")
			}
			sb.WriteString("</table>")
			continue
		}
		sb.WriteString("<p>")
		sb.WriteString(html.EscapeString(block.text))
		sb.WriteString("</p>")
	}

	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(sb.String())
	if err != nil {
		return "", fmt.Errorf("convert to markdown: %w", err)
	}
	return markdown, nil
}

// extractDocxXML pulls paragraph text straight out of word/document.xml.
// The zip reader tolerates archives that full parsers reject.
func extractDocxXML(_ context.Context, path string) (string, error) {
	blocks, err := readDocumentBlocks(path)
	if err != nil {
		return "", err
	}

	var lines []string
	for _, block := range blocks {
		if block.rows != nil {
			for _, row := range block.rows {
				if rowText := strings.TrimSpace(strings.Join(row, " | ")); rowText != "" {
					lines = append(lines, rowText)
				}
			}
			continue
		}
		if block.text != "" {
			lines = append(lines, block.text)
		}
	}

	return strings.Join(lines, "\n"), nil
}

var docxTagPattern = regexp.MustCompile(`<[^>]+>`)

// extractDocxPlain is the simplest scrape: read document.xml through the
// lightweight reader and strip markup.
func extractDocxPlain(_ context.Context, path string) (string, error) {
	reader, err := simpledocx.ReadDocxFile(path)
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer reader.Close()

	content := reader.Editable().GetContent()
	content = strings.ReplaceAll(content, "</w:p>", "\n")
	content = docxTagPattern.ReplaceAllString(content, "")
	return html.UnescapeString(content), nil
}

// docxBlock is one body-level block: either a paragraph (text) or a table
// (rows of cell texts).
type docxBlock struct {
	text string
	rows [][]string
}

// readDocumentBlocks opens word/document.xml inside the archive and walks
// its tokens, collecting paragraphs and tables in document order.
func readDocumentBlocks(path string) ([]docxBlock, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open docx archive: %w", err)
	}
	defer zr.Close()

	var docXML io.ReadCloser
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			docXML, err = f.Open()
			if err != nil {
				return nil, fmt.Errorf("open document.xml: %w", err)
			}
			break
		}
	}
	if docXML == nil {
		return nil, fmt.Errorf("no word/document.xml in %s", path)
	}
	defer docXML.Close()

	return parseDocumentXML(docXML)
}

// parseDocumentXML scans WordprocessingML tokens. It tracks just enough
// state to attribute text runs to paragraphs, table rows and cells.
func parseDocumentXML(r io.Reader) ([]docxBlock, error) {
	decoder := xml.NewDecoder(r)

	var (
		blocks     []docxBlock
		paragraph  strings.Builder
		cell       strings.Builder
		row        []string
		table      [][]string
		inText     bool
		tableDepth int
	)

	flushParagraph := func() {
		text := strings.TrimSpace(paragraph.String())
		paragraph.Reset()
		if text == "" {
			return
		}
		if tableDepth > 0 {
			if cell.Len() > 0 {
				cell.WriteString(" ")
			}
			cell.WriteString(text)
			return
		}
		blocks = append(blocks, docxBlock{text: text})
	}

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Salvage whatever was collected before the corruption point.
			if len(blocks) > 0 {
				return blocks, nil
			}
			return nil, fmt.Errorf("scan document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tbl":
				tableDepth++
			case "tr":
				if tableDepth > 0 {
					row = nil
				}
			case "tc":
				cell.Reset()
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				flushParagraph()
			case "tc":
				if tableDepth > 0 {
					row = append(row, strings.TrimSpace(cell.String()))
					cell.Reset()
				}
			case "tr":
				if tableDepth > 0 && len(row) > 0 {
					table = append(table, row)
					row = nil
				}
			case "tbl":
				tableDepth--
				if tableDepth == 0 && len(table) > 0 {
					blocks = append(blocks, docxBlock{rows: table})
					table = nil
				}
			}
		case xml.CharData:
			if inText {
				paragraph.Write(t)
			}
		}
	}

	flushParagraph()
	return blocks, nil
}
