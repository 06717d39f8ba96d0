package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CSVProcessor parses single-line CSV rows with a naive quote-aware splitter.
// The first line is the header. The text column is the configured override,
// else the first header containing "text", "content" or "message", else the
// first column.
type CSVProcessor struct{}

// Process implements Processor.
func (p *CSVProcessor) Process(_ context.Context, raw string, cfg Config) *Result {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return failure("Empty CSV file")
	}
	lines := strings.Split(trimmed, "\n")

	headers := parseCSVLine(lines[0])
	textColumn := cfg.TextColumn
	if textColumn == "" {
		for _, h := range headers {
			lower := strings.ToLower(h)
			if strings.Contains(lower, "text") || strings.Contains(lower, "content") || strings.Contains(lower, "message") {
				textColumn = h
				break
			}
		}
	}
	if textColumn == "" {
		textColumn = headers[0]
	}

	records := []Record{}
	errors := []string{}
	now := time.Now()

	for i := 1; i < len(lines); i++ {
		values := parseCSVLine(lines[i])
		if len(values) != len(headers) {
			errors = append(errors, fmt.Sprintf("Row %d: Column count mismatch", i+1))
			continue
		}

		rowData := make(map[string]any, len(headers)+2)
		for j, header := range headers {
			rowData[header] = values[j]
		}

		content, _ := rowData[textColumn].(string)
		if strings.TrimSpace(content) == "" {
			errors = append(errors, fmt.Sprintf("Row %d: Empty content in text column", i+1))
			continue
		}

		rowData["sourceRow"] = i + 1
		rowData["textColumn"] = textColumn
		records = append(records, Record{
			ID:          fmt.Sprintf("csv_%d_%d", i, now.UnixMilli()),
			Content:     strings.TrimSpace(content),
			Metadata:    rowData,
			ProcessedAt: now,
		})
	}

	return &Result{
		Success:      len(records) > 0,
		Records:      records,
		TotalRecords: len(records),
		Errors:       errors,
		Metadata: map[string]any{
			"columns":    headers,
			"dataTypes":  schemaOf(records),
			"sampleData": sampleMetadata(records, 5),
		},
	}
}

// parseCSVLine splits one line on unquoted commas. A double quote toggles
// the in-quotes flag; escaped quotes are not handled.
func parseCSVLine(line string) []string {
	var result []string
	var current strings.Builder
	inQuotes := false

	for _, ch := range line {
		switch {
		case ch == '"':
			inQuotes = !inQuotes
		case ch == ',' && !inQuotes:
			result = append(result, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteRune(ch)
		}
	}
	result = append(result, strings.TrimSpace(current.String()))
	return result
}
