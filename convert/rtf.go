package convert

import (
	"context"
	"fmt"
	"os"
	"strings"

	rtftxt "github.com/EndFirstCorp/rtf2txt"
)

// rtfChain strips RTF control words, with a crude brace-scrape fallback for
// files the parser rejects.
func (c *Converter) rtfChain() []strategy {
	return []strategy{
		{name: "parsed", fn: extractRTFParsed},
		{name: "scraped", fn: extractRTFScraped},
	}
}

func extractRTFParsed(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read rtf: %w", err)
	}

	decoded := decodeWithProbes(data)
	buf, err := rtftxt.Text(strings.NewReader(decoded))
	if err != nil {
		return "", fmt.Errorf("parse rtf: %w", err)
	}
	return buf.String(), nil
}

// extractRTFScraped drops control words and groups by hand. It loses all
// structure but recovers text from truncated or malformed documents.
func extractRTFScraped(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read rtf: %w", err)
	}
	content := decodeWithProbes(data)

	var sb strings.Builder
	i := 0
	for i < len(content) {
		ch := content[i]
		switch ch {
		case '\\':
			i++
			// Skip the control word and its optional numeric parameter.
			for i < len(content) && (isAlpha(content[i]) || isDigit(content[i]) || content[i] == '-') {
				i++
			}
			if i < len(content) && content[i] == ' ' {
				i++
			}
		case '{', '}':
			i++
		case '\r', '\n':
			i++
		default:
			sb.WriteByte(ch)
			i++
		}
	}

	return sb.String(), nil
}

func isAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
