package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// Message is a single chat turn in the uniform format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the uniform chat-completion request passed to every vendor.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// ChatResult is the uniform chat-completion response shape.
type ChatResult struct {
	Content      string `json:"content"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}

// TotalTokens returns input plus output tokens.
func (r *ChatResult) TotalTokens() int64 {
	return r.InputTokens + r.OutputTokens
}

// ModelInfo describes one vendor-side model.
type ModelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Provider is the capability set implemented by each vendor family.
type Provider interface {
	// Chat sends a chat-completion request in the vendor's wire format and
	// translates the response into the uniform result shape.
	Chat(ctx context.Context, req ChatRequest) (*ChatResult, error)
	// ListModels queries the vendor's model listing endpoint; vendors
	// without one return a curated static list.
	ListModels(ctx context.Context) ([]ModelInfo, error)
	// Name identifies the vendor family.
	Name() string
}

// ErrTimeout marks a vendor call that exceeded the configured timeout.
var ErrTimeout = errors.New("provider request timed out")

// Error is a vendor-side failure carrying the HTTP status and error body.
// Credentials never appear in the body preview.
type Error struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s API error: %d - %s", e.Provider, e.StatusCode, preview(e.Body))
}

// preview truncates a response body for error messages.
func preview(body string) string {
	if len(body) > 200 {
		return body[:200] + "..."
	}
	return body
}

// WrapTransportErr converts transport failures into timeout or wrapped errors.
func WrapTransportErr(name string, err error) error {
	var urlErr *url.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &urlErr) && urlErr.Timeout()) {
		return fmt.Errorf("%s: %w", name, ErrTimeout)
	}
	return fmt.Errorf("%s request failed: %w", name, err)
}
