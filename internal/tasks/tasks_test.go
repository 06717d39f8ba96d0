package tasks

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aibuilder/internal/core"
	"aibuilder/internal/providers"
)

// recordingGenerator captures the prompt and options of the last call.
type recordingGenerator struct {
	name       string
	response   string
	err        error
	lastPrompt string
	lastOpts   providers.GenerateOptions
}

func (r *recordingGenerator) Name() string { return r.name }

func (r *recordingGenerator) UpstreamModelID(catalogID string) string {
	return "upstream/" + catalogID
}

func (r *recordingGenerator) GenerateText(_ context.Context, prompt string, opts providers.GenerateOptions) (string, core.Usage, error) {
	r.lastPrompt = prompt
	r.lastOpts = opts
	if r.err != nil {
		return "", core.Usage{}, r.err
	}
	return r.response, core.Usage{PromptTokens: 5, CompletionTokens: 7, TotalTokens: 12}, nil
}

func newTestHandler(response string) (*Handler, *recordingGenerator) {
	gen := &recordingGenerator{name: "cerebras", response: response}
	samba := &recordingGenerator{name: "sambanova", response: response}
	return NewHandler(providers.NewSet(gen, samba)), gen
}

var sentimentCfg = Config{ModelID: "cerebras-llama-3.1-8b"}

func TestSentimentAnalysisParsesJSON(t *testing.T) {
	h, gen := newTestHandler(`{"sentiment": "negative", "confidence": 0.92, "reasoning": "complaint"}`)

	result, err := h.SentimentAnalysis(context.Background(), "this is terrible", sentimentCfg)
	require.NoError(t, err)

	payload := result.Result.(SentimentResult)
	assert.Equal(t, "negative", payload.Sentiment)
	assert.Equal(t, "complaint", payload.Reasoning)
	require.NotNil(t, result.Confidence)
	assert.Equal(t, 0.92, *result.Confidence)
	assert.Equal(t, "cerebras-llama-3.1-8b", result.Model)
	assert.Equal(t, 12, result.Usage.TotalTokens)

	assert.Contains(t, gen.lastPrompt, `Text: "this is terrible"`)
	assert.Equal(t, "upstream/cerebras-llama-3.1-8b", gen.lastOpts.Model)
	assert.Equal(t, 0.3, gen.lastOpts.Temperature)
	assert.Equal(t, 500, gen.lastOpts.MaxTokens)
}

func TestSentimentAnalysisFallbackOnMalformedJSON(t *testing.T) {
	h, _ := newTestHandler("The text reads as quite positive overall.")

	result, err := h.SentimentAnalysis(context.Background(), "nice", sentimentCfg)
	require.NoError(t, err)

	payload := result.Result.(SentimentResult)
	assert.Equal(t, "positive", payload.Sentiment)
	require.NotNil(t, result.Confidence)
	assert.Equal(t, 0.8, *result.Confidence)
}

func TestSentimentAnalysisFallbackKeywordOrder(t *testing.T) {
	// "positive" wins when both keywords appear.
	h, _ := newTestHandler("could be positive or negative")
	result, err := h.SentimentAnalysis(context.Background(), "meh", sentimentCfg)
	require.NoError(t, err)
	assert.Equal(t, "positive", result.Result.(SentimentResult).Sentiment)

	h, _ = newTestHandler("nothing conclusive here")
	result, err = h.SentimentAnalysis(context.Background(), "meh", sentimentCfg)
	require.NoError(t, err)
	assert.Equal(t, "neutral", result.Result.(SentimentResult).Sentiment)
}

func TestTextClassificationParsesJSON(t *testing.T) {
	h, _ := newTestHandler(`{"category": "spam", "confidence": 0.88, "reasoning": "obvious"}`)

	result, err := h.TextClassification(context.Background(), "buy now!!!", []string{"spam", "ham"}, sentimentCfg)
	require.NoError(t, err)

	payload := result.Result.(ClassificationResult)
	assert.Equal(t, "spam", payload.Category)
	assert.Equal(t, 0.88, *result.Confidence)
}

func TestTextClassificationFallbackMatchesCategory(t *testing.T) {
	h, _ := newTestHandler("I would call this ham, not spam-- wait, definitely ham.")

	result, err := h.TextClassification(context.Background(), "hello friend", []string{"ham", "spam"}, sentimentCfg)
	require.NoError(t, err)

	payload := result.Result.(ClassificationResult)
	assert.Equal(t, "ham", payload.Category)
	assert.Equal(t, 0.7, *result.Confidence)
}

func TestTextClassificationFallbackDefaultsToFirstCategory(t *testing.T) {
	h, _ := newTestHandler("no clue")

	result, err := h.TextClassification(context.Background(), "???", []string{"billing", "support"}, sentimentCfg)
	require.NoError(t, err)
	assert.Equal(t, "billing", result.Result.(ClassificationResult).Category)
}

func TestTextSummarization(t *testing.T) {
	source := strings.Repeat("abcdefghij", 10) // 100 chars
	h, gen := newTestHandler(strings.Repeat("x", 20))

	result, err := h.TextSummarization(context.Background(), source, 100, sentimentCfg)
	require.NoError(t, err)

	payload := result.Result.(SummarizationResult)
	assert.Equal(t, 100, payload.OriginalLength)
	assert.Equal(t, 20, payload.SummaryLength)
	assert.Equal(t, 80, payload.CompressionRatio)

	assert.Equal(t, 0.5, gen.lastOpts.Temperature)
	assert.Equal(t, 150, gen.lastOpts.MaxTokens, "ceil(100*1.5)")
}

func TestTextSummarizationDefaultMaxLength(t *testing.T) {
	h, gen := newTestHandler("short summary")

	_, err := h.TextSummarization(context.Background(), "some text", 0, sentimentCfg)
	require.NoError(t, err)
	assert.Contains(t, gen.lastPrompt, "approximately 150 words")
	assert.Equal(t, 225, gen.lastOpts.MaxTokens)
}

func TestCompressionRatio(t *testing.T) {
	assert.Equal(t, 80, CompressionRatio(100, 20))
	assert.Equal(t, 0, CompressionRatio(0, 20))
	assert.Equal(t, 0, CompressionRatio(100, 100))
	assert.Equal(t, 67, CompressionRatio(300, 100))
}

func TestQuestionAnswering(t *testing.T) {
	h, gen := newTestHandler("The capital is Paris.")

	result, err := h.QuestionAnswering(context.Background(), "What is the capital?", "France's capital is Paris.", sentimentCfg)
	require.NoError(t, err)

	payload := result.Result.(AnswerResult)
	assert.Equal(t, "The capital is Paris.", payload.Answer)
	assert.Equal(t, "What is the capital?", payload.Question)
	assert.True(t, payload.HasAnswer)

	assert.Equal(t, 0.3, gen.lastOpts.Temperature)
	assert.Equal(t, 1000, gen.lastOpts.MaxTokens)
}

func TestQuestionAnsweringDetectsMissingAnswer(t *testing.T) {
	h, _ := newTestHandler("I Cannot Find The Answer in the provided context.")

	result, err := h.QuestionAnswering(context.Background(), "Who?", "irrelevant", sentimentCfg)
	require.NoError(t, err)
	assert.False(t, result.Result.(AnswerResult).HasAnswer)
}

func TestContentGeneration(t *testing.T) {
	h, gen := newTestHandler("Once upon a time there were three tests.")

	result, err := h.ContentGeneration(context.Background(), "write a story", "casual", sentimentCfg)
	require.NoError(t, err)

	payload := result.Result.(GenerationResult)
	assert.Equal(t, 8, payload.WordCount)
	assert.Equal(t, "casual", payload.Style)

	assert.Contains(t, gen.lastPrompt, "Use a casual tone")
	assert.Equal(t, 0.7, gen.lastOpts.Temperature)
	assert.Equal(t, 2000, gen.lastOpts.MaxTokens)
}

func TestContentGenerationDefaultStyle(t *testing.T) {
	h, gen := newTestHandler("content")

	result, err := h.ContentGeneration(context.Background(), "anything", "", sentimentCfg)
	require.NoError(t, err)
	assert.Equal(t, "professional", result.Result.(GenerationResult).Style)
	assert.Contains(t, gen.lastPrompt, "Use a professional tone")
}

func TestExecuteDispatch(t *testing.T) {
	h, _ := newTestHandler(`{"sentiment": "neutral", "confidence": 0.5, "reasoning": "flat"}`)

	result, err := h.Execute(context.Background(), core.TaskSentimentAnalysis, Input{Text: "ok"}, sentimentCfg)
	require.NoError(t, err)
	assert.IsType(t, SentimentResult{}, result.Result)
}

func TestExecuteRejectsUnsupportedTask(t *testing.T) {
	h, _ := newTestHandler("")

	_, err := h.Execute(context.Background(), core.TaskNamedEntityRecognition, Input{Text: "x"}, sentimentCfg)
	require.Error(t, err)
	var gwErr *core.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, core.ErrorTypeInvalidRequest, gwErr.Type)
	assert.Contains(t, gwErr.Message, "unsupported task type")
}

func TestExecuteUnknownModel(t *testing.T) {
	h, _ := newTestHandler("")

	_, err := h.Execute(context.Background(), core.TaskSentimentAnalysis, Input{Text: "x"}, Config{ModelID: "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model nope not found")
}

func TestExecuteConfigOverridesDefaults(t *testing.T) {
	h, gen := newTestHandler(`{"sentiment": "positive", "confidence": 1, "reasoning": ""}`)

	_, err := h.Execute(context.Background(), core.TaskSentimentAnalysis, Input{Text: "hi"}, Config{
		ModelID:     "cerebras-llama-3.1-8b",
		Temperature: 0.9,
		MaxTokens:   64,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.9, gen.lastOpts.Temperature)
	assert.Equal(t, 64, gen.lastOpts.MaxTokens)
}
