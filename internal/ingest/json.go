package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// jsonTextFields is the ordered list of field names tried when no explicit
// text field is configured.
var jsonTextFields = []string{"text", "content", "message", "description", "body", "title"}

// JSONProcessor accepts either an array of objects (one record per element)
// or a single object (one record).
type JSONProcessor struct{}

// Process implements Processor.
func (p *JSONProcessor) Process(_ context.Context, raw string, cfg Config) *Result {
	var data any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return failure("Invalid JSON")
	}

	records := []Record{}
	errors := []string{}
	now := time.Now()

	switch v := data.(type) {
	case []any:
		for index, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				errors = append(errors, fmt.Sprintf("Item %d: No text content found", index))
				continue
			}
			content := extractText(obj, cfg.TextField, jsonTextFields)
			if content == "" {
				errors = append(errors, fmt.Sprintf("Item %d: No text content found", index))
				continue
			}
			metadata := cloneMap(obj)
			metadata["sourceIndex"] = index
			records = append(records, Record{
				ID:          fmt.Sprintf("json_%d_%d", index, now.UnixMilli()),
				Content:     strings.TrimSpace(content),
				Metadata:    metadata,
				ProcessedAt: now,
			})
		}
	case map[string]any:
		content := extractText(v, cfg.TextField, jsonTextFields)
		if content == "" {
			errors = append(errors, "No text content found in JSON object")
		} else {
			records = append(records, Record{
				ID:          fmt.Sprintf("json_single_%d", now.UnixMilli()),
				Content:     strings.TrimSpace(content),
				Metadata:    v,
				ProcessedAt: now,
			})
		}
	default:
		// Top-level scalars carry no extractable objects.
		errors = append(errors, "No text content found in JSON object")
	}

	return &Result{
		Success:      len(records) > 0,
		Records:      records,
		TotalRecords: len(records),
		Errors:       errors,
		Metadata: map[string]any{
			"dataTypes":  schemaOf(records),
			"sampleData": sampleMetadata(records, 5),
		},
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
