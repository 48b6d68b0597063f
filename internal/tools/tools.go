package tools

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"toolhub/internal/ai"
	"toolhub/internal/provider"
)

const maxPromptLength = 4000

// Result is what a processor returns on success.
type Result struct {
	Content  any     `json:"content"`
	UsedAI   bool    `json:"-"`
	AITokens int64   `json:"-"`
	AICost   float64 `json:"-"`
}

// Definition wires one tool's validation and processing logic into the
// handler factory.
type Definition struct {
	Slug            string
	ValidateInput   func(raw json.RawMessage) error
	Process         func(ctx context.Context, raw json.RawMessage) (*Result, error)
	RequireAuth     bool
	SkipUsageCheck  bool
	SkipContentScan bool
}

// Registry holds the built-in tool definitions.
type Registry struct {
	defs map[string]Definition
}

// NewRegistry registers the built-in tools against the given dispatcher.
func NewRegistry(dispatcher *ai.Dispatcher) *Registry {
	r := &Registry{defs: map[string]Definition{}}
	r.Register(textGenerator(dispatcher))
	r.Register(summarizer(dispatcher))
	r.Register(passwordGenerator())
	return r
}

// Register adds or replaces a tool definition.
func (r *Registry) Register(def Definition) {
	r.defs[def.Slug] = def
}

// Get looks up a tool by slug.
func (r *Registry) Get(slug string) (Definition, bool) {
	def, ok := r.defs[slug]
	return def, ok
}

type promptInput struct {
	Prompt string `json:"prompt"`
	Tone   string `json:"tone"`
}

func textGenerator(dispatcher *ai.Dispatcher) Definition {
	return Definition{
		Slug: "text-generator",
		ValidateInput: func(raw json.RawMessage) error {
			var input promptInput
			if err := json.Unmarshal(raw, &input); err != nil {
				return errors.New("invalid request body")
			}
			if strings.TrimSpace(input.Prompt) == "" {
				return errors.New("prompt is required")
			}
			if len(input.Prompt) > maxPromptLength {
				return fmt.Errorf("prompt exceeds %d characters", maxPromptLength)
			}
			return nil
		},
		Process: func(ctx context.Context, raw json.RawMessage) (*Result, error) {
			var input promptInput
			if err := json.Unmarshal(raw, &input); err != nil {
				return nil, err
			}
			system := "You are a writing assistant. Produce clear, well-structured text for the user's request."
			if input.Tone != "" {
				system += " Use a " + input.Tone + " tone."
			}
			resp, err := dispatcher.Chat(ctx, []provider.Message{
				{Role: "system", Content: system},
				{Role: "user", Content: input.Prompt},
			}, ai.ChatOptions{Temperature: 0.7})
			if err != nil {
				return nil, err
			}
			return &Result{
				Content:  resp.Content,
				UsedAI:   true,
				AITokens: resp.Tokens,
				AICost:   resp.Cost,
			}, nil
		},
	}
}

type summarizeInput struct {
	Text string `json:"text"`
}

func summarizer(dispatcher *ai.Dispatcher) Definition {
	return Definition{
		Slug: "summarizer",
		ValidateInput: func(raw json.RawMessage) error {
			var input summarizeInput
			if err := json.Unmarshal(raw, &input); err != nil {
				return errors.New("invalid request body")
			}
			if strings.TrimSpace(input.Text) == "" {
				return errors.New("text is required")
			}
			if len(input.Text) > 4*maxPromptLength {
				return errors.New("text is too long")
			}
			return nil
		},
		Process: func(ctx context.Context, raw json.RawMessage) (*Result, error) {
			var input summarizeInput
			if err := json.Unmarshal(raw, &input); err != nil {
				return nil, err
			}
			resp, err := dispatcher.Chat(ctx, []provider.Message{
				{Role: "system", Content: "Summarize the user's text in a few concise sentences. Keep the original language."},
				{Role: "user", Content: input.Text},
			}, ai.ChatOptions{Temperature: 0.3})
			if err != nil {
				return nil, err
			}
			return &Result{
				Content:  resp.Content,
				UsedAI:   true,
				AITokens: resp.Tokens,
				AICost:   resp.Cost,
			}, nil
		},
	}
}

type passwordInput struct {
	Length int `json:"length"`
}

const passwordCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*-_"

func passwordGenerator() Definition {
	return Definition{
		Slug: "password-generator",
		ValidateInput: func(raw json.RawMessage) error {
			var input passwordInput
			if err := json.Unmarshal(raw, &input); err != nil {
				return errors.New("invalid request body")
			}
			if input.Length < 8 || input.Length > 128 {
				return errors.New("length must be between 8 and 128")
			}
			return nil
		},
		Process: func(ctx context.Context, raw json.RawMessage) (*Result, error) {
			var input passwordInput
			if err := json.Unmarshal(raw, &input); err != nil {
				return nil, err
			}
			var b strings.Builder
			for i := 0; i < input.Length; i++ {
				idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(passwordCharset))))
				if err != nil {
					return nil, err
				}
				b.WriteByte(passwordCharset[idx.Int64()])
			}
			return &Result{Content: b.String()}, nil
		},
	}
}
