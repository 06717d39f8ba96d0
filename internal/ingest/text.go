package ingest

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	paragraphSplit = regexp.MustCompile(`\n\s*\n`)
	sentenceSplit  = regexp.MustCompile(`[.!?]+`)
)

// TextProcessor splits plain text into records by fixed-size sliding window
// (default), paragraph, or sentence, selected by Config.SplitBy.
type TextProcessor struct{}

// Process implements Processor.
func (p *TextProcessor) Process(_ context.Context, raw string, cfg Config) *Result {
	records := []Record{}
	errors := []string{}
	now := time.Now()

	switch cfg.SplitBy {
	case "paragraph":
		index := 0
		for _, paragraph := range paragraphSplit.Split(raw, -1) {
			trimmed := strings.TrimSpace(paragraph)
			if trimmed == "" {
				continue
			}
			records = append(records, Record{
				ID:      fmt.Sprintf("text_para_%d_%d", index, now.UnixMilli()),
				Content: trimmed,
				Metadata: map[string]any{
					"type":      "paragraph",
					"index":     index,
					"wordCount": len(strings.Fields(trimmed)),
				},
				ProcessedAt: now,
			})
			index++
		}

	case "sentence":
		index := 0
		for _, sentence := range sentenceSplit.Split(raw, -1) {
			trimmed := strings.TrimSpace(sentence)
			if trimmed == "" {
				continue
			}
			records = append(records, Record{
				ID:      fmt.Sprintf("text_sent_%d_%d", index, now.UnixMilli()),
				Content: trimmed,
				Metadata: map[string]any{
					"type":      "sentence",
					"index":     index,
					"wordCount": len(strings.Fields(trimmed)),
				},
				ProcessedAt: now,
			})
			index++
		}

	default:
		chunkSize := cfg.ChunkSize
		if chunkSize <= 0 {
			chunkSize = 1000
		}
		overlap := cfg.Overlap
		if overlap <= 0 {
			overlap = 100
		}
		step := chunkSize - overlap
		if step <= 0 {
			return failure("overlap must be smaller than chunk size")
		}

		for i := 0; i < len(raw); i += step {
			end := i + chunkSize
			if end > len(raw) {
				end = len(raw)
			}
			chunk := raw[i:end]
			trimmed := strings.TrimSpace(chunk)
			if trimmed == "" {
				continue
			}
			records = append(records, Record{
				ID:      fmt.Sprintf("text_chunk_%d_%d", i, now.UnixMilli()),
				Content: trimmed,
				Metadata: map[string]any{
					"type":       "chunk",
					"startIndex": i,
					"endIndex":   i + len(chunk),
					"wordCount":  len(strings.Fields(trimmed)),
				},
				ProcessedAt: now,
			})
		}
	}

	splitMethod := cfg.SplitBy
	if splitMethod == "" {
		splitMethod = "chunk"
	}
	metadata := map[string]any{
		"originalLength": len(raw),
		"totalWords":     len(strings.Fields(raw)),
		"splitMethod":    splitMethod,
	}
	if splitMethod == "chunk" {
		size := cfg.ChunkSize
		if size <= 0 {
			size = 1000
		}
		metadata["chunkSize"] = size
	}

	return &Result{
		Success:      len(records) > 0,
		Records:      records,
		TotalRecords: len(records),
		Errors:       errors,
		Metadata:     metadata,
	}
}
