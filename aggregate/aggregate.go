// Package aggregate assembles the per-file extraction records into the
// published dataset: a JSON array and a spreadsheet, both keyed by source
// filename.
package aggregate

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/yash91989201/bulk-resume-parser/llm"
)

// SourceFileKey is the injected field naming the file a record came from.
const SourceFileKey = "_source_file"

// Assemble merges each record with its source filename, fills the union of
// all field keys with explicit nulls, and sorts records by source filename.
// A record that came back empty (extraction exhausted its retries) becomes
// all-null except the source field.
func Assemble(records []llm.Record, sourceFiles []string) []llm.Record {
	keys := unionKeys(records)

	out := make([]llm.Record, len(records))
	for i, rec := range records {
		merged := make(llm.Record, len(keys)+1)
		for _, k := range keys {
			if v, ok := rec[k]; ok {
				merged[k] = v
			} else {
				merged[k] = nil
			}
		}
		merged[SourceFileKey] = sourceFiles[i]
		out[i] = merged
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, _ := out[i][SourceFileKey].(string)
		b, _ := out[j][SourceFileKey].(string)
		return a < b
	})
	return out
}

// unionKeys returns the sorted union of field keys across all records,
// excluding the source field.
func unionKeys(records []llm.Record) []string {
	seen := make(map[string]struct{})
	for _, rec := range records {
		for k := range rec {
			if k == SourceFileKey {
				continue
			}
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Columns returns the spreadsheet column order: the sorted union of record
// keys. The source column is always present, even for an empty dataset.
func Columns(records []llm.Record) []string {
	keys := unionKeys(records)
	return append(keys, SourceFileKey)
}

// WriteJSON writes the records as one well-formed JSON array.
func WriteJSON(path string, records []llm.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create json artifact: %w", err)
	}
	defer f.Close()

	if records == nil {
		records = []llm.Record{}
	}
	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(records); err != nil {
		return fmt.Errorf("encode json artifact: %w", err)
	}
	return f.Sync()
}

// CellString renders one record value for a spreadsheet cell. Nulls become
// the empty string; structured values render as compact JSON.
func CellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64, int, int64, bool:
		return fmt.Sprint(t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}
