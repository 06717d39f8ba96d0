// Package ingest normalizes heterogeneous data sources (CSV, JSON, plain
// text, paginated APIs) into a uniform record list. Processors are stateless;
// per-record failures are reported in the result's error list instead of
// aborting the batch, and only an unparsable top-level input fails the call.
package ingest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Record is one normalized unit of ingested content.
type Record struct {
	ID          string         `json:"id"`
	Content     string         `json:"content"`
	Metadata    map[string]any `json:"metadata"`
	ProcessedAt time.Time      `json:"processed_at"`
}

// Result is the outcome of processing one input.
type Result struct {
	Success      bool           `json:"success"`
	Records      []Record       `json:"records"`
	TotalRecords int            `json:"totalRecords"`
	Errors       []string       `json:"errors"`
	Metadata     map[string]any `json:"metadata"`
}

// Config carries processor options. Which fields apply depends on the
// source kind.
type Config struct {
	// CSV: explicit text column override.
	TextColumn string `json:"textColumn"`
	// JSON/API: explicit text field override.
	TextField string `json:"textField"`
	// Text: "chunk" (default), "paragraph" or "sentence".
	SplitBy   string `json:"splitBy"`
	ChunkSize int    `json:"chunkSize"`
	Overlap   int    `json:"overlap"`
	// API source request settings.
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	APIKey  string            `json:"apiKey"`
	// DataPath narrows the API response via a dot path before extraction.
	DataPath string `json:"dataPath"`
}

// Processor converts raw input into a uniform record list.
type Processor interface {
	Process(ctx context.Context, raw string, cfg Config) *Result
}

// ForType returns the processor for a data source kind.
func ForType(sourceType string) (Processor, error) {
	switch sourceType {
	case "csv":
		return &CSVProcessor{}, nil
	case "json":
		return &JSONProcessor{}, nil
	case "text":
		return &TextProcessor{}, nil
	case "api":
		return &APIProcessor{}, nil
	default:
		return nil, fmt.Errorf("unsupported data source type: %s", sourceType)
	}
}

// failure builds a whole-input failure result.
func failure(errs ...string) *Result {
	return &Result{
		Success:  false,
		Records:  []Record{},
		Errors:   errs,
		Metadata: map[string]any{},
	}
}

// schemaOf derives a field->type map from the first record's metadata.
func schemaOf(records []Record) map[string]string {
	schema := map[string]string{}
	if len(records) == 0 {
		return schema
	}
	for key, value := range records[0].Metadata {
		switch value.(type) {
		case float64, int:
			schema[key] = "number"
		case bool:
			schema[key] = "boolean"
		case []any:
			schema[key] = "array"
		case map[string]any:
			schema[key] = "object"
		default:
			schema[key] = "string"
		}
	}
	return schema
}

// sampleMetadata returns the metadata of up to n leading records.
func sampleMetadata(records []Record, n int) []map[string]any {
	if len(records) < n {
		n = len(records)
	}
	out := make([]map[string]any, 0, n)
	for _, r := range records[:n] {
		out = append(out, r.Metadata)
	}
	return out
}

// extractText pulls a text value out of a decoded object: the configured
// field first, then the given ordered candidates, then all string-valued
// fields concatenated with spaces (in sorted key order, for determinism).
func extractText(obj map[string]any, configured string, candidates []string) string {
	if configured != "" {
		if v, ok := obj[configured]; ok && v != nil {
			if s := fmt.Sprint(v); s != "" {
				return s
			}
		}
	}
	for _, field := range candidates {
		if s, ok := obj[field].(string); ok && s != "" {
			return s
		}
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}
