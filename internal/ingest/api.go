package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// apiTextFields widens the JSON candidate list with "name", which paginated
// list endpoints commonly use as the only human-readable field.
var apiTextFields = []string{"text", "content", "message", "description", "body", "title", "name"}

// APIProcessor fetches records from an external HTTP API. The raw argument
// is unused; everything comes from the config. A non-2xx response is a hard
// failure for the whole call.
type APIProcessor struct {
	// HTTPClient overrides the default client, used by tests.
	HTTPClient *http.Client
}

// Process implements Processor.
func (p *APIProcessor) Process(ctx context.Context, _ string, cfg Config) *Result {
	if !strings.HasPrefix(cfg.URL, "http") {
		return failure("API processing error: invalid url")
	}

	method := cfg.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, nil)
	if err != nil {
		return failure("API processing error: " + err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	client := p.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return failure("API processing error: " + err.Error())
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return failure(fmt.Sprintf("API request failed: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure("API processing error: " + err.Error())
	}
	if !gjson.ValidBytes(body) {
		return failure("API processing error: invalid JSON response")
	}

	parsed := gjson.ParseBytes(body)
	if cfg.DataPath != "" {
		parsed = parsed.Get(cfg.DataPath)
		if !parsed.Exists() {
			return failure(fmt.Sprintf("API processing error: no data at path %q", cfg.DataPath))
		}
	}

	var items []gjson.Result
	if parsed.IsArray() {
		items = parsed.Array()
	} else {
		items = []gjson.Result{parsed}
	}

	records := []Record{}
	errors := []string{}
	now := time.Now()

	for index, item := range items {
		obj, ok := item.Value().(map[string]any)
		if !ok {
			errors = append(errors, fmt.Sprintf("Item %d: No text content found", index))
			continue
		}
		content := extractText(obj, cfg.TextField, apiTextFields)
		if content == "" {
			errors = append(errors, fmt.Sprintf("Item %d: No text content found", index))
			continue
		}
		metadata := cloneMap(obj)
		metadata["sourceIndex"] = index
		metadata["apiUrl"] = cfg.URL
		records = append(records, Record{
			ID:          fmt.Sprintf("api_%d_%d", index, now.UnixMilli()),
			Content:     strings.TrimSpace(content),
			Metadata:    metadata,
			ProcessedAt: now,
		})
	}

	return &Result{
		Success:      len(records) > 0,
		Records:      records,
		TotalRecords: len(records),
		Errors:       errors,
		Metadata: map[string]any{
			"apiUrl":     cfg.URL,
			"dataPath":   cfg.DataPath,
			"sampleData": sampleMetadata(records, 5),
		},
	}
}
