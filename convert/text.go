package convert

import (
	"context"
	"fmt"
	"os"
)

// textChain reads plain text files of unknown encoding.
func (c *Converter) textChain() []strategy {
	return []strategy{
		{name: "probe-decode", fn: extractText},
	}
}

func extractText(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read text file: %w", err)
	}
	return stripUTF8BOM(decodeWithProbes(data)), nil
}
