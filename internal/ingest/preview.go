package ingest

import "context"

const (
	// previewInputLimit bounds how much of an uploaded file is parsed in
	// preview mode.
	previewInputLimit = 10000
	// previewRecordLimit caps how many records a preview returns.
	previewRecordLimit = 10
)

// Preview runs the processor on a bounded prefix of the input and caps the
// returned records. It is a thin composition over Process, used by the
// builder UI before a source is committed.
func Preview(ctx context.Context, p Processor, raw string, cfg Config) *Result {
	if len(raw) > previewInputLimit {
		raw = raw[:previewInputLimit]
	}
	result := p.Process(ctx, raw, cfg)
	if len(result.Records) > previewRecordLimit {
		result.Records = result.Records[:previewRecordLimit]
	}
	return result
}
