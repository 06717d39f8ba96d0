package core

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatewayErrorMessageFormats(t *testing.T) {
	err := NewProviderError("cerebras", 503, "Service Unavailable", nil)
	assert.Equal(t, "cerebras API error: 503 Service Unavailable", err.Message)
	assert.Equal(t, "[cerebras] provider_error: cerebras API error: 503 Service Unavailable", err.Error())

	plain := NewInvalidRequestError("bad input", nil)
	assert.Equal(t, "invalid_request_error: bad input", plain.Error())
}

func TestHTTPStatusCodes(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, NewProviderError("p", 429, "m", nil).HTTPStatusCode())
	assert.Equal(t, http.StatusBadRequest, NewInvalidRequestError("m", nil).HTTPStatusCode())
	assert.Equal(t, http.StatusUnauthorized, NewAuthenticationError("m").HTTPStatusCode())
	assert.Equal(t, http.StatusNotFound, NewNotFoundError("m").HTTPStatusCode())

	// Type-based fallback when no explicit code is set
	typed := &GatewayError{Type: ErrorTypeRateLimit}
	assert.Equal(t, http.StatusTooManyRequests, typed.HTTPStatusCode())
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewProviderError("sambanova", 500, "boom", cause)
	assert.ErrorIs(t, err, cause)
}

func TestToJSON(t *testing.T) {
	err := NewAuthenticationError("invalid master key")
	payload := err.ToJSON()

	inner, ok := payload["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "authentication_error", inner["type"])
	assert.Equal(t, "invalid master key", inner["message"])
}

func TestParseProviderErrorExtractsMessage(t *testing.T) {
	body := []byte(`{"error": {"message": "model overloaded", "type": "server_error"}}`)
	err := ParseProviderError("cerebras", 500, body, nil)
	assert.Equal(t, ErrorTypeProvider, err.Type)
	assert.Contains(t, err.Message, "cerebras API error: 500 model overloaded")
}

func TestParseProviderErrorFallsBackToStatusText(t *testing.T) {
	err := ParseProviderError("sambanova", 503, []byte("not json"), nil)
	assert.Contains(t, err.Message, "sambanova API error: 503 Service Unavailable")
}

func TestParseProviderErrorRateLimit(t *testing.T) {
	err := ParseProviderError("cerebras", 429, []byte(`{}`), nil)
	assert.Equal(t, ErrorTypeRateLimit, err.Type)
	// Upstream rate limits are reported as gateway-side 500s, not passed through.
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatusCode())
}

func TestValidTaskKind(t *testing.T) {
	assert.True(t, ValidTaskKind("sentiment_analysis"))
	assert.True(t, ValidTaskKind("custom"))
	assert.False(t, ValidTaskKind("mind_reading"))
	assert.False(t, ValidTaskKind(""))
}

func TestFirstContent(t *testing.T) {
	empty := &ChatResponse{}
	assert.Equal(t, "", empty.FirstContent())

	resp := &ChatResponse{Choices: []Choice{{Message: Message{Content: "hi"}}}}
	assert.Equal(t, "hi", resp.FirstContent())
}
