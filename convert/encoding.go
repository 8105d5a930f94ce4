package convert

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// encodingProbes is the decode order for files of unknown encoding: utf-8
// (validated directly, marked by the nil entry), then latin-1, cp1252 and
// iso-8859-1, matching what resume exports from various tooling actually
// use.
var encodingProbes = []encoding.Encoding{
	nil,
	charmap.ISO8859_1,
	charmap.Windows1252,
	charmap.ISO8859_1,
}

// decodeWithProbes decodes raw bytes by probing encodings in order. When
// every probe fails, the final pass keeps valid UTF-8 sequences and drops
// the rest, so a partially corrupt file still yields its readable text.
func decodeWithProbes(data []byte) string {
	for _, enc := range encodingProbes {
		if enc == nil {
			if utf8.Valid(data) {
				return string(data)
			}
			continue
		}
		decoded, _, err := transform.Bytes(enc.NewDecoder(), data)
		if err == nil && utf8.Valid(decoded) {
			return string(decoded)
		}
	}
	return strings.ToValidUTF8(string(data), "")
}

// stripUTF8BOM removes a leading byte-order mark.
func stripUTF8BOM(s string) string {
	return strings.TrimPrefix(s, "﻿")
}
