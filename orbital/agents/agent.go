// Package agents implements the five roles of the pipeline: planner,
// researcher, coder, synthesizer, and chat. Every role reads and writes
// exclusively through the coordination store, and reaches its external
// collaborators through the ports interfaces.
package agents

import (
	"context"
	"fmt"

	"github.com/orbitalgrid/orbital-insight/orbital/coordination"
	"github.com/orbitalgrid/orbital-insight/orbital/ports"
)

// Input carries the stage inputs a role may need; unused fields are nil.
type Input struct {
	Query    string
	Deep     bool
	Research *ResearchResult
	Code     *CodeResult
}

// Output is the tagged union of role products; exactly one field is set by
// each role.
type Output struct {
	Tasks    []Task
	Research *ResearchResult
	Code     *CodeResult
	Report   *Report
	Reply    string
}

// Agent is the uniform capability set shared by every role. New roles are
// added as new implementations, not new orchestration branches.
type Agent interface {
	Name() coordination.Role
	Invoke(ctx context.Context, in Input) (Output, error)
	PendingQuestions() []coordination.RoleMessage
	Answer(ctx context.Context, question string, from coordination.Role) (string, error)
}

// base carries what every role shares: its identity, the store, and the
// tracer.
type base struct {
	role   coordination.Role
	store  *coordination.Store
	tracer ports.Tracer
}

func (b base) Name() coordination.Role { return b.role }

func (b base) PendingQuestions() []coordination.RoleMessage {
	return b.store.PendingQuestions(b.role)
}

// thought records an observability note for this role.
func (b base) thought(text string) {
	b.store.RecordThought(b.role, text, nil)
}

// errNoAnswerer is returned by roles that do not answer cross-questions;
// the researcher is the only automatic answerer in this design.
func (b base) errNoAnswerer() (string, error) {
	return "", fmt.Errorf("role %s does not answer questions", b.role)
}

// consumeStream drains a provider stream. Reasoning fragments become
// thoughts; output text is accumulated and, when chunkEvents is set, also
// published as stream_chunk events. Grounding metadata from the final chunk
// is returned alongside the full text.
func (b base) consumeStream(ch <-chan ports.Chunk, chunkEvents bool) (string, *ports.Grounding) {
	var (
		text         string
		grounding    *ports.Grounding
		thoughtCount int
	)
	for chunk := range ch {
		switch {
		case chunk.Thought:
			thoughtCount++
			b.thought(fmt.Sprintf("[%d] %s", thoughtCount, preview(chunk.Text, 200)))
		case chunk.Text != "":
			text += chunk.Text
			if chunkEvents {
				b.store.RecordStreamChunk(b.role, chunk.Text)
			}
		}
		if chunk.Grounding != nil {
			grounding = chunk.Grounding
		}
	}
	if thoughtCount > 0 {
		b.thought(fmt.Sprintf("Completed %d thinking steps", thoughtCount))
	}
	return text, grounding
}

// countTokens records input-token accounting as a thought. Best-effort:
// failures are traced and never affect the caller.
func (b base) countTokens(ctx context.Context, provider ports.Provider, model, prompt string) {
	count, err := provider.CountTokens(ctx, model, prompt)
	if err != nil {
		b.tracer.Event(ctx, "token_count_failed", map[string]any{"error": err.Error()})
		return
	}
	b.thought(fmt.Sprintf("Token analysis - input token count: %d", count))
}

// preview truncates s for thought streams.
func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
