// Package ports declares the narrow interfaces the core consumes its
// external collaborators through: the generative-language-model client and
// the geospatial dataset catalog, plus the tracing seam.
package ports

import (
	"context"
	"fmt"
)

// GenerateRequest aggregates everything one model call needs.
type GenerateRequest struct {
	Model          string
	Prompt         string
	System         string
	Temperature    float32
	TopP           float32
	ThinkingBudget int  // reasoning-token budget; 0 disables thought parts
	JSONOutput     bool // request application/json responses
	SearchGrounded bool // enable web-search grounding
}

// WebSource is a cited grounding source.
type WebSource struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// Grounding carries search queries issued and web sources cited during a
// grounded generation.
type Grounding struct {
	SearchQueries []string
	Sources       []WebSource
}

// Completion is the provider's non-streaming response.
type Completion struct {
	Text      string
	Grounding *Grounding
}

// Chunk is one streaming delta. Thought marks reasoning fragments that are
// surfaced as observability events rather than output text. Grounding
// arrives on the final chunk when available.
type Chunk struct {
	Text      string
	Thought   bool
	Done      bool
	Grounding *Grounding
}

// Provider is the abstraction over the generative-language-model client.
type Provider interface {
	Generate(ctx context.Context, req GenerateRequest) (Completion, error)
	Stream(ctx context.Context, req GenerateRequest) (<-chan Chunk, error)
	// CountTokens is best-effort accounting; callers log failures and move on.
	CountTokens(ctx context.Context, model, prompt string) (int, error)
}

// ProviderError is the typed failure surfaced by provider calls.
type ProviderError struct {
	Model   string
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %s: %v", e.Model, e.Message, e.Err)
	}
	return fmt.Sprintf("provider %s: %s", e.Model, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }
