// Package core provides shared types and the error taxonomy for the AI builder.
package core

// TaskKind identifies the kind of AI task a project is built around.
// It determines the prompt shape and the structure of task results.
type TaskKind string

const (
	TaskSentimentAnalysis      TaskKind = "sentiment_analysis"
	TaskTextClassification     TaskKind = "text_classification"
	TaskNamedEntityRecognition TaskKind = "named_entity_recognition"
	TaskTextSummarization      TaskKind = "text_summarization"
	TaskQuestionAnswering      TaskKind = "question_answering"
	TaskChatbot                TaskKind = "chatbot"
	TaskContentGeneration      TaskKind = "content_generation"
	TaskCustom                 TaskKind = "custom"
)

// TaskKinds lists every valid task kind.
var TaskKinds = []TaskKind{
	TaskSentimentAnalysis,
	TaskTextClassification,
	TaskNamedEntityRecognition,
	TaskTextSummarization,
	TaskQuestionAnswering,
	TaskChatbot,
	TaskContentGeneration,
	TaskCustom,
}

// ValidTaskKind reports whether s is a known task kind.
func ValidTaskKind(s string) bool {
	for _, k := range TaskKinds {
		if string(k) == s {
			return true
		}
	}
	return false
}

// Message is a single turn in a chat-style request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the request body sent to an inference provider.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

// ChatResponse is the provider's chat completion response.
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// FirstContent returns the first choice's message content, or "" if absent.
func (r *ChatResponse) FirstContent() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// Choice is a single completion choice.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage holds token usage counters reported by a provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
