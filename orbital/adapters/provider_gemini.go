package adapters

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/orbitalgrid/orbital-insight/orbital/config"
	"github.com/orbitalgrid/orbital-insight/orbital/ports"
)

// GeminiProvider implements ports.Provider against the generative-language
// REST API. Streaming uses the server-sent-events variant of the generate
// endpoint; reasoning parts arrive flagged as thoughts when a thinking
// budget is set.
type GeminiProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  zerolog.Logger
}

func NewGeminiProvider(cfg config.ProviderConfig, logger zerolog.Logger) *GeminiProvider {
	return &GeminiProvider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger.With().Str("component", "provider").Logger(),
	}
}

type geminiPart struct {
	Text    string `json:"text,omitempty"`
	Thought bool   `json:"thought,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiThinking struct {
	ThinkingBudget  int  `json:"thinkingBudget"`
	IncludeThoughts bool `json:"includeThoughts"`
}

type geminiGenerationConfig struct {
	Temperature      float32         `json:"temperature,omitempty"`
	TopP             float32         `json:"topP,omitempty"`
	ResponseMimeType string          `json:"responseMimeType,omitempty"`
	ThinkingConfig   *geminiThinking `json:"thinkingConfig,omitempty"`
}

type geminiTool struct {
	GoogleSearch *struct{} `json:"google_search,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
	Tools             []geminiTool           `json:"tools,omitempty"`
}

type geminiWeb struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

type geminiGroundingChunk struct {
	Web *geminiWeb `json:"web,omitempty"`
}

type geminiGroundingMetadata struct {
	WebSearchQueries []string               `json:"webSearchQueries,omitempty"`
	GroundingChunks  []geminiGroundingChunk `json:"groundingChunks,omitempty"`
}

type geminiCandidate struct {
	Content           geminiContent            `json:"content"`
	GroundingMetadata *geminiGroundingMetadata `json:"groundingMetadata,omitempty"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
	Error      *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func buildRequest(req ports.GenerateRequest) geminiRequest {
	out := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature: req.Temperature,
			TopP:        req.TopP,
		},
	}
	if req.System != "" {
		out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	if req.JSONOutput {
		out.GenerationConfig.ResponseMimeType = "application/json"
	}
	if req.ThinkingBudget > 0 {
		out.GenerationConfig.ThinkingConfig = &geminiThinking{
			ThinkingBudget:  req.ThinkingBudget,
			IncludeThoughts: true,
		}
	}
	if req.SearchGrounded {
		out.Tools = []geminiTool{{GoogleSearch: &struct{}{}}}
	}
	return out
}

func convertGrounding(meta *geminiGroundingMetadata) *ports.Grounding {
	if meta == nil {
		return nil
	}
	g := &ports.Grounding{SearchQueries: meta.WebSearchQueries}
	for _, chunk := range meta.GroundingChunks {
		if chunk.Web != nil {
			g.Sources = append(g.Sources, ports.WebSource{Title: chunk.Web.Title, URI: chunk.Web.URI})
		}
	}
	if len(g.SearchQueries) == 0 && len(g.Sources) == 0 {
		return nil
	}
	return g
}

func (p *GeminiProvider) post(ctx context.Context, url string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.apiKey)
	return p.client.Do(httpReq)
}

// Generate performs a blocking completion.
func (p *GeminiProvider) Generate(ctx context.Context, req ports.GenerateRequest) (ports.Completion, error) {
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", p.baseURL, req.Model)
	resp, err := p.post(ctx, url, buildRequest(req))
	if err != nil {
		return ports.Completion{}, &ports.ProviderError{Model: req.Model, Message: "generate request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ports.Completion{}, &ports.ProviderError{Model: req.Model, Message: "read response", Err: err}
	}
	var decoded geminiResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return ports.Completion{}, &ports.ProviderError{Model: req.Model, Message: "decode response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("status %d", resp.StatusCode)
		if decoded.Error != nil {
			msg = decoded.Error.Message
		}
		return ports.Completion{}, &ports.ProviderError{Model: req.Model, Message: msg}
	}
	if len(decoded.Candidates) == 0 {
		return ports.Completion{}, &ports.ProviderError{Model: req.Model, Message: "empty candidate list"}
	}

	candidate := decoded.Candidates[0]
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if !part.Thought {
			text.WriteString(part.Text)
		}
	}
	return ports.Completion{
		Text:      text.String(),
		Grounding: convertGrounding(candidate.GroundingMetadata),
	}, nil
}

// Stream performs a streaming completion over SSE. The returned channel is
// closed when the stream ends; a terminal Done chunk carries grounding
// metadata when the response was search-grounded.
func (p *GeminiProvider) Stream(ctx context.Context, req ports.GenerateRequest) (<-chan ports.Chunk, error) {
	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", p.baseURL, req.Model)
	resp, err := p.post(ctx, url, buildRequest(req))
	if err != nil {
		return nil, &ports.ProviderError{Model: req.Model, Message: "stream request failed", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		var decoded geminiResponse
		msg := fmt.Sprintf("status %d", resp.StatusCode)
		if json.Unmarshal(body, &decoded) == nil && decoded.Error != nil {
			msg = decoded.Error.Message
		}
		return nil, &ports.ProviderError{Model: req.Model, Message: msg}
	}

	out := make(chan ports.Chunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		var grounding *ports.Grounding
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" || payload == "[DONE]" {
				continue
			}
			var decoded geminiResponse
			if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
				p.logger.Debug().Err(err).Msg("skipping malformed stream frame")
				continue
			}
			for _, candidate := range decoded.Candidates {
				if g := convertGrounding(candidate.GroundingMetadata); g != nil {
					grounding = g
				}
				for _, part := range candidate.Content.Parts {
					if part.Text == "" {
						continue
					}
					select {
					case out <- ports.Chunk{Text: part.Text, Thought: part.Thought}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
		if err := scanner.Err(); err != nil {
			p.logger.Warn().Err(err).Str("model", req.Model).Msg("stream terminated early")
		}
		select {
		case out <- ports.Chunk{Done: true, Grounding: grounding}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

type countTokensRequest struct {
	Contents []geminiContent `json:"contents"`
}

type countTokensResponse struct {
	TotalTokens int `json:"totalTokens"`
}

// CountTokens reports the input token count for a prompt. The countTokens
// endpoint takes contents only; generation fields are not part of its schema.
func (p *GeminiProvider) CountTokens(ctx context.Context, model, prompt string) (int, error) {
	url := fmt.Sprintf("%s/v1beta/models/%s:countTokens", p.baseURL, model)
	body := countTokensRequest{Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}}}
	resp, err := p.post(ctx, url, body)
	if err != nil {
		return 0, &ports.ProviderError{Model: model, Message: "count tokens request failed", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, &ports.ProviderError{Model: model, Message: fmt.Sprintf("count tokens status %d", resp.StatusCode)}
	}
	var decoded countTokensResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return 0, &ports.ProviderError{Model: model, Message: "decode count tokens response", Err: err}
	}
	return decoded.TotalTokens, nil
}

var _ ports.Provider = (*GeminiProvider)(nil)
