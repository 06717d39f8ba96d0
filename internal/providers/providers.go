// Package providers implements a generic chat-completion client for the two
// hosted inference providers. The providers share an identical wire contract,
// so a single client type is parameterized by a Spec (base URL, default model,
// model-id mangling rule) instead of duplicating near-identical types.
package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"aibuilder/internal/core"
	"aibuilder/internal/llmclient"
)

// Spec describes one hosted chat-completion provider.
type Spec struct {
	// Name is the provider identity used in the model catalog.
	Name string
	// DefaultBaseURL is used when no base URL override is configured.
	DefaultBaseURL string
	// DefaultModel is the upstream model used when a request omits one.
	DefaultModel string
	// ModelSegments is how many trailing dash-separated segments of a
	// catalog model id form the upstream model id.
	ModelSegments int
}

// Cerebras and SambaNova are the two supported providers.
var (
	Cerebras = Spec{
		Name:           "cerebras",
		DefaultBaseURL: "https://api.cerebras.ai/v1",
		DefaultModel:   "llama3.1-8b",
		ModelSegments:  2,
	}
	SambaNova = Spec{
		Name:           "sambanova",
		DefaultBaseURL: "https://api.sambanova.ai/v1",
		DefaultModel:   "Meta-Llama-3.1-8B-Instruct",
		ModelSegments:  3,
	}
)

// Client is a chat-completion client for one provider.
type Client struct {
	spec   Spec
	apiKey string
	client *llmclient.Client
}

// New creates a provider client. It fails when the API key is absent:
// the system cannot serve requests for a provider without credentials,
// and the failure should surface at construction, not on first use.
func New(spec Spec, apiKey, baseURL string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%s: API key is required", spec.Name)
	}
	if baseURL == "" {
		baseURL = spec.DefaultBaseURL
	}
	c := &Client{spec: spec, apiKey: apiKey}
	c.client = llmclient.New(llmclient.Config{
		ProviderName: spec.Name,
		BaseURL:      baseURL,
	}, c.setHeaders)
	return c, nil
}

// NewWithHTTPClient creates a provider client with a custom HTTP client,
// used by tests to point at an httptest server.
func NewWithHTTPClient(spec Spec, apiKey, baseURL string, httpClient *http.Client) (*Client, error) {
	c, err := New(spec, apiKey, baseURL)
	if err != nil {
		return nil, err
	}
	c.client = llmclient.NewWithHTTPClient(httpClient, llmclient.Config{
		ProviderName: spec.Name,
		BaseURL:      baseURL,
	}, c.setHeaders)
	return c, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}

// Name returns the provider identity.
func (c *Client) Name() string {
	return c.spec.Name
}

// UpstreamModelID converts a catalog model id into the id the provider
// expects, keeping the trailing segments per the provider's rule.
// "cerebras-llama-3.1-8b" -> "3.1-8b", "sambanova-meta-llama-3.1-70b" -> "llama-3.1-70b".
func (c *Client) UpstreamModelID(catalogID string) string {
	parts := strings.Split(catalogID, "-")
	if len(parts) <= c.spec.ModelSegments {
		return catalogID
	}
	return strings.Join(parts[len(parts)-c.spec.ModelSegments:], "-")
}

// Chat sends a chat completion request and returns the parsed response.
func (c *Client) Chat(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	var resp core.ChatResponse
	err := c.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
		Body:     req,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// GenerateOptions configures a GenerateText call. Zero values fall back
// to the provider defaults (temperature 0.7, 2048 max tokens).
type GenerateOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// GenerateText sends a single user turn and returns the first choice's
// content (empty string if the provider returned no choices) together
// with the reported token usage.
func (c *Client) GenerateText(ctx context.Context, prompt string, opts GenerateOptions) (string, core.Usage, error) {
	model := opts.Model
	if model == "" {
		model = c.spec.DefaultModel
	}
	temperature := opts.Temperature
	if temperature == 0 {
		temperature = 0.7
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}

	resp, err := c.Chat(ctx, &core.ChatRequest{
		Model:       model,
		Messages:    []core.Message{{Role: "user", Content: prompt}},
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return "", core.Usage{}, err
	}
	return resp.FirstContent(), resp.Usage, nil
}

// TextGenerator is the provider surface the task dispatcher depends on.
type TextGenerator interface {
	Name() string
	UpstreamModelID(catalogID string) string
	GenerateText(ctx context.Context, prompt string, opts GenerateOptions) (string, core.Usage, error)
}

// Set holds one constructed client per provider and routes by name.
type Set struct {
	clients map[string]TextGenerator
}

// NewSet builds a Set from the given clients.
func NewSet(clients ...TextGenerator) *Set {
	s := &Set{clients: make(map[string]TextGenerator, len(clients))}
	for _, c := range clients {
		s.clients[c.Name()] = c
	}
	return s
}

// ForProvider returns the client for the named provider.
func (s *Set) ForProvider(name string) (TextGenerator, error) {
	c, ok := s.clients[name]
	if !ok {
		return nil, core.NewInvalidRequestError("no client configured for provider: "+name, nil)
	}
	return c, nil
}
