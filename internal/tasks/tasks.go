// Package tasks implements the task dispatcher: it builds prompts per task
// kind, routes to the provider client matching the resolved model, and parses
// provider output into structured results.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"aibuilder/internal/catalog"
	"aibuilder/internal/core"
	"aibuilder/internal/providers"
)

// Config selects the model and generation parameters for one task execution.
// Zero Temperature/MaxTokens fall back to per-task defaults.
type Config struct {
	ModelID     string
	Temperature float64
	MaxTokens   int
}

// Result is the outcome of one task execution.
type Result struct {
	Result         any      `json:"result"`
	Confidence     *float64 `json:"confidence,omitempty"`
	ProcessingTime int64    `json:"processingTime"`
	Model          string   `json:"model"`
	// Usage carries provider-reported token counters for the usage envelope.
	Usage core.Usage `json:"-"`
}

// Input is the task-specific payload. Which fields are read depends on the
// task kind: text (+categories, +maxLength), question+context, or prompt+style.
type Input struct {
	Text       string   `json:"text"`
	Categories []string `json:"categories"`
	MaxLength  int      `json:"maxLength"`
	Question   string   `json:"question"`
	Context    string   `json:"context"`
	Prompt     string   `json:"prompt"`
	Style      string   `json:"style"`
}

// SentimentResult is the structured payload for sentiment analysis.
type SentimentResult struct {
	Sentiment string `json:"sentiment"`
	Reasoning string `json:"reasoning"`
}

// ClassificationResult is the structured payload for text classification.
type ClassificationResult struct {
	Category  string `json:"category"`
	Reasoning string `json:"reasoning"`
}

// SummarizationResult is the structured payload for summarization.
type SummarizationResult struct {
	Summary          string `json:"summary"`
	OriginalLength   int    `json:"originalLength"`
	SummaryLength    int    `json:"summaryLength"`
	CompressionRatio int    `json:"compressionRatio"`
}

// AnswerResult is the structured payload for question answering.
type AnswerResult struct {
	Answer    string `json:"answer"`
	Question  string `json:"question"`
	HasAnswer bool   `json:"hasAnswer"`
}

// GenerationResult is the structured payload for content generation.
type GenerationResult struct {
	Content   string `json:"content"`
	WordCount int    `json:"wordCount"`
	Style     string `json:"style"`
}

// Handler dispatches tasks to the configured provider clients.
type Handler struct {
	set *providers.Set
}

// NewHandler creates a task handler backed by the given provider set.
func NewHandler(set *providers.Set) *Handler {
	return &Handler{set: set}
}

// Execute runs the task kind's operation against the input.
func (h *Handler) Execute(ctx context.Context, task core.TaskKind, input Input, cfg Config) (*Result, error) {
	switch task {
	case core.TaskSentimentAnalysis:
		return h.SentimentAnalysis(ctx, input.Text, cfg)
	case core.TaskTextClassification:
		return h.TextClassification(ctx, input.Text, input.Categories, cfg)
	case core.TaskTextSummarization:
		return h.TextSummarization(ctx, input.Text, input.MaxLength, cfg)
	case core.TaskQuestionAnswering:
		return h.QuestionAnswering(ctx, input.Question, input.Context, cfg)
	case core.TaskContentGeneration:
		return h.ContentGeneration(ctx, input.Prompt, input.Style, cfg)
	default:
		return nil, core.NewInvalidRequestError("unsupported task type: "+string(task), nil)
	}
}

// generate resolves the model, routes to its provider and runs the prompt.
func (h *Handler) generate(ctx context.Context, cfg Config, prompt string, defaultTemp float64, defaultMaxTokens int) (string, core.Usage, catalog.Model, error) {
	model, ok := catalog.ByID(cfg.ModelID)
	if !ok {
		return "", core.Usage{}, catalog.Model{}, core.NewInvalidRequestError(fmt.Sprintf("model %s not found", cfg.ModelID), nil)
	}

	client, err := h.set.ForProvider(model.Provider)
	if err != nil {
		return "", core.Usage{}, catalog.Model{}, err
	}

	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = defaultTemp
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	text, usage, err := client.GenerateText(ctx, prompt, providers.GenerateOptions{
		Model:       client.UpstreamModelID(model.ID),
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", core.Usage{}, catalog.Model{}, err
	}
	return text, usage, model, nil
}

// SentimentAnalysis classifies the text as positive, negative or neutral.
func (h *Handler) SentimentAnalysis(ctx context.Context, text string, cfg Config) (*Result, error) {
	start := time.Now()

	prompt := `Analyze the sentiment of the following text. Respond with a JSON object containing:
- sentiment: "positive", "negative", or "neutral"
- confidence: a number between 0 and 1
- reasoning: brief explanation

Text: "` + text + `"

Response:`

	raw, usage, model, err := h.generate(ctx, cfg, prompt, 0.3, 500)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start).Milliseconds()

	var parsed struct {
		Sentiment  string  `json:"sentiment"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &parsed); err == nil {
		return &Result{
			Result:         SentimentResult{Sentiment: parsed.Sentiment, Reasoning: parsed.Reasoning},
			Confidence:     &parsed.Confidence,
			ProcessingTime: elapsed,
			Model:          model.ID,
			Usage:          usage,
		}, nil
	}

	// Fallback parsing if the model did not return valid JSON
	lower := strings.ToLower(raw)
	sentiment := "neutral"
	if strings.Contains(lower, "positive") {
		sentiment = "positive"
	} else if strings.Contains(lower, "negative") {
		sentiment = "negative"
	}
	confidence := 0.8
	return &Result{
		Result:         SentimentResult{Sentiment: sentiment, Reasoning: strings.TrimSpace(raw)},
		Confidence:     &confidence,
		ProcessingTime: elapsed,
		Model:          model.ID,
		Usage:          usage,
	}, nil
}

// TextClassification assigns the text to one of the given categories.
func (h *Handler) TextClassification(ctx context.Context, text string, categories []string, cfg Config) (*Result, error) {
	start := time.Now()

	prompt := `Classify the following text into one of these categories: ` + strings.Join(categories, ", ") + `.
Respond with a JSON object containing:
- category: the most appropriate category
- confidence: a number between 0 and 1
- reasoning: brief explanation

Text: "` + text + `"

Response:`

	raw, usage, model, err := h.generate(ctx, cfg, prompt, 0.3, 500)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start).Milliseconds()

	var parsed struct {
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &parsed); err == nil {
		return &Result{
			Result:         ClassificationResult{Category: parsed.Category, Reasoning: parsed.Reasoning},
			Confidence:     &parsed.Confidence,
			ProcessingTime: elapsed,
			Model:          model.ID,
			Usage:          usage,
		}, nil
	}

	// Fallback: first category mentioned in the raw output, else the first one
	lower := strings.ToLower(raw)
	var category string
	for _, cat := range categories {
		if strings.Contains(lower, strings.ToLower(cat)) {
			category = cat
			break
		}
	}
	if category == "" && len(categories) > 0 {
		category = categories[0]
	}
	confidence := 0.7
	return &Result{
		Result:         ClassificationResult{Category: category, Reasoning: strings.TrimSpace(raw)},
		Confidence:     &confidence,
		ProcessingTime: elapsed,
		Model:          model.ID,
		Usage:          usage,
	}, nil
}

// TextSummarization produces a summary of roughly maxLength words.
// A zero maxLength defaults to 150.
func (h *Handler) TextSummarization(ctx context.Context, text string, maxLength int, cfg Config) (*Result, error) {
	start := time.Now()

	if maxLength <= 0 {
		maxLength = 150
	}
	prompt := fmt.Sprintf(`Summarize the following text in approximately %d words. Make it concise and capture the key points.

Text: "%s"

Summary:`, maxLength, text)

	raw, usage, model, err := h.generate(ctx, cfg, prompt, 0.5, int(math.Ceil(float64(maxLength)*1.5)))
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start).Milliseconds()

	summary := strings.TrimSpace(raw)
	return &Result{
		Result: SummarizationResult{
			Summary:          summary,
			OriginalLength:   len(text),
			SummaryLength:    len(summary),
			CompressionRatio: CompressionRatio(len(text), len(summary)),
		},
		ProcessingTime: elapsed,
		Model:          model.ID,
		Usage:          usage,
	}, nil
}

// CompressionRatio is the percentage of the source removed by the summary,
// rounded to the nearest percent.
func CompressionRatio(sourceLen, summaryLen int) int {
	if sourceLen == 0 {
		return 0
	}
	return int(math.Round((1 - float64(summaryLen)/float64(sourceLen)) * 100))
}

// cannotFindAnswer is the canned phrase the QA prompt instructs the model to
// use when the context does not contain the answer.
const cannotFindAnswer = "cannot find the answer"

// QuestionAnswering answers a question against the provided context.
func (h *Handler) QuestionAnswering(ctx context.Context, question, contextText string, cfg Config) (*Result, error) {
	start := time.Now()

	prompt := fmt.Sprintf(`Answer the following question based on the provided context. If the answer cannot be found in the context, say "I cannot find the answer in the provided context."

Context: "%s"

Question: "%s"

Answer:`, contextText, question)

	raw, usage, model, err := h.generate(ctx, cfg, prompt, 0.3, 1000)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start).Milliseconds()

	answer := strings.TrimSpace(raw)
	return &Result{
		Result: AnswerResult{
			Answer:    answer,
			Question:  question,
			HasAnswer: !strings.Contains(strings.ToLower(raw), cannotFindAnswer),
		},
		ProcessingTime: elapsed,
		Model:          model.ID,
		Usage:          usage,
	}, nil
}

// ContentGeneration generates free-form content in the requested style.
// An empty style defaults to "professional".
func (h *Handler) ContentGeneration(ctx context.Context, prompt, style string, cfg Config) (*Result, error) {
	start := time.Now()

	if style == "" {
		style = "professional"
	}
	fullPrompt := fmt.Sprintf(`Generate content based on the following prompt. Use a %s tone and style.

Prompt: "%s"

Generated content:`, style, prompt)

	raw, usage, model, err := h.generate(ctx, cfg, fullPrompt, 0.7, 2000)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start).Milliseconds()

	content := strings.TrimSpace(raw)
	return &Result{
		Result: GenerationResult{
			Content:   content,
			WordCount: len(strings.Fields(content)),
			Style:     style,
		},
		ProcessingTime: elapsed,
		Model:          model.ID,
		Usage:          usage,
	}, nil
}
