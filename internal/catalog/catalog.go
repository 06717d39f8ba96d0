// Package catalog holds the static registry of available models.
package catalog

import "aibuilder/internal/core"

// Model is a catalog entry describing one hosted model.
type Model struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Provider       string          `json:"provider"`
	Description    string          `json:"description"`
	MaxTokens      int             `json:"maxTokens"`
	SupportedTasks []core.TaskKind `json:"supportedTasks"`
	// ResponseTime and Accuracy are advisory labels, not measurements.
	ResponseTime string `json:"responseTime"`
	Accuracy     string `json:"accuracy"`
}

// SupportsTask reports whether the model supports the given task kind.
func (m Model) SupportsTask(task core.TaskKind) bool {
	for _, t := range m.SupportedTasks {
		if t == task {
			return true
		}
	}
	return false
}

// Models is the catalog, in recommendation order.
var Models = []Model{
	{
		ID:          "cerebras-llama-3.1-8b",
		Name:        "Cerebras Llama 3.1 8B",
		Provider:    "cerebras",
		Description: "Ultra-fast inference with industry-leading performance",
		MaxTokens:   8192,
		SupportedTasks: []core.TaskKind{
			core.TaskSentimentAnalysis,
			core.TaskTextClassification,
			core.TaskNamedEntityRecognition,
			core.TaskTextSummarization,
			core.TaskQuestionAnswering,
			core.TaskContentGeneration,
		},
		ResponseTime: "~50ms",
		Accuracy:     "High",
	},
	{
		ID:          "cerebras-llama-3.1-70b",
		Name:        "Cerebras Llama 3.1 70B",
		Provider:    "cerebras",
		Description: "Powerful model with exceptional speed and accuracy",
		MaxTokens:   8192,
		SupportedTasks: []core.TaskKind{
			core.TaskSentimentAnalysis,
			core.TaskTextClassification,
			core.TaskNamedEntityRecognition,
			core.TaskTextSummarization,
			core.TaskQuestionAnswering,
			core.TaskContentGeneration,
			core.TaskChatbot,
		},
		ResponseTime: "~100ms",
		Accuracy:     "Very High",
	},
	{
		ID:          "sambanova-meta-llama-3.1-8b",
		Name:        "SambaNova Meta Llama 3.1 8B",
		Provider:    "sambanova",
		Description: "Advanced AI with superior accuracy and reasoning",
		MaxTokens:   4096,
		SupportedTasks: []core.TaskKind{
			core.TaskSentimentAnalysis,
			core.TaskTextClassification,
			core.TaskNamedEntityRecognition,
			core.TaskTextSummarization,
			core.TaskQuestionAnswering,
			core.TaskContentGeneration,
		},
		ResponseTime: "~80ms",
		Accuracy:     "High",
	},
	{
		ID:          "sambanova-meta-llama-3.1-70b",
		Name:        "SambaNova Meta Llama 3.1 70B",
		Provider:    "sambanova",
		Description: "Premium model for complex reasoning and analysis",
		MaxTokens:   4096,
		SupportedTasks: []core.TaskKind{
			core.TaskSentimentAnalysis,
			core.TaskTextClassification,
			core.TaskNamedEntityRecognition,
			core.TaskTextSummarization,
			core.TaskQuestionAnswering,
			core.TaskContentGeneration,
			core.TaskChatbot,
		},
		ResponseTime: "~150ms",
		Accuracy:     "Exceptional",
	},
}

// ByID returns the catalog entry for the given model id.
func ByID(modelID string) (Model, bool) {
	for _, m := range Models {
		if m.ID == modelID {
			return m, true
		}
	}
	return Model{}, false
}

// ModelsForTask returns all models supporting the given task, in catalog order.
func ModelsForTask(task core.TaskKind) []Model {
	var out []Model
	for _, m := range Models {
		if m.SupportsTask(task) {
			out = append(out, m)
		}
	}
	return out
}

// RecommendedModel picks a model for the task. Latency-sensitive tasks
// prefer the first cerebras entry, reasoning-heavy tasks the first
// sambanova entry; everything else takes catalog order. Returns false
// when no model supports the task.
func RecommendedModel(task core.TaskKind) (Model, bool) {
	candidates := ModelsForTask(task)
	if len(candidates) == 0 {
		return Model{}, false
	}

	switch task {
	case core.TaskSentimentAnalysis, core.TaskTextClassification:
		for _, m := range candidates {
			if m.Provider == "cerebras" {
				return m, true
			}
		}
	case core.TaskQuestionAnswering, core.TaskChatbot:
		for _, m := range candidates {
			if m.Provider == "sambanova" {
				return m, true
			}
		}
	}
	return candidates[0], true
}
