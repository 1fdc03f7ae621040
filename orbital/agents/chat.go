package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/orbitalgrid/orbital-insight/orbital/config"
	"github.com/orbitalgrid/orbital-insight/orbital/coordination"
	"github.com/orbitalgrid/orbital-insight/orbital/ports"
)

// Chat is the conversational role. It answers user questions from the
// shared snapshot and handles smalltalk with recent conversation history.
type Chat struct {
	base
	provider ports.Provider
	cfg      config.AgentsConfig
}

func NewChat(store *coordination.Store, provider ports.Provider, tracer ports.Tracer, cfg config.AgentsConfig) *Chat {
	return &Chat{
		base:     base{role: coordination.RoleChat, store: store, tracer: tracer},
		provider: provider,
		cfg:      cfg,
	}
}

// AnswerFromContext answers a question about prior work using the shared
// snapshot: recent scripts, research context, and role traffic.
func (c *Chat) AnswerFromContext(ctx context.Context, message string) (reply string, err error) {
	ctx, end := c.tracer.StartSpan(ctx, "chat.answer_from_context", nil)
	defer func() { end(err) }()

	c.thought(fmt.Sprintf("Answering from shared context: %s", preview(message, 150)))

	snap := c.store.Snapshot()
	var b strings.Builder
	fmt.Fprintf(&b, "Answer the user's question using the analysis state below.\n\nQuestion: %s\n", message)

	if len(snap.Scripts) > 0 {
		latest := snap.Scripts[len(snap.Scripts)-1]
		fmt.Fprintf(&b, "\nLatest script (%s) uses datasets: %s\n", latest.Description, strings.Join(latest.DatasetIDs, ", "))
	}
	if entry, ok := snap.Context["latest_research"]; ok {
		fmt.Fprintf(&b, "\nResearch context:\n%v\n", entry.Value)
	}
	if entry, ok := snap.Context["methodology_report"]; ok {
		fmt.Fprintf(&b, "\nMethodology report:\n%v\n", entry.Value)
	}
	if len(snap.RecentMessages) > 0 {
		b.WriteString("\nRecent agent traffic:\n")
		for _, msg := range snap.RecentMessages {
			fmt.Fprintf(&b, "- %s -> %s [%s]: %s\n", msg.From, msg.To, msg.Kind, preview(msg.Text, 120))
		}
	}

	completion, err := c.provider.Generate(ctx, ports.GenerateRequest{
		Model:       c.cfg.ChatModel,
		Prompt:      b.String(),
		Temperature: c.cfg.Temperature,
		TopP:        c.cfg.TopP,
	})
	if err != nil {
		return "", fmt.Errorf("chat context answer: %w", err)
	}
	return completion.Text, nil
}

// GeneralReply handles conversation that needs no delegation, carrying the
// last few turns as history.
func (c *Chat) GeneralReply(ctx context.Context, message string) (reply string, err error) {
	ctx, end := c.tracer.StartSpan(ctx, "chat.general_reply", nil)
	defer func() { end(err) }()

	var b strings.Builder
	b.WriteString("You are a helpful geospatial analysis assistant.\n")
	turns := c.store.RecentTurns(5)
	if len(turns) > 0 {
		b.WriteString("\nConversation so far:\n")
		for _, turn := range turns {
			fmt.Fprintf(&b, "%s: %s\n", turn.Speaker, preview(turn.Text, 300))
		}
	}
	fmt.Fprintf(&b, "\nUser: %s\nAssistant:", message)

	completion, err := c.provider.Generate(ctx, ports.GenerateRequest{
		Model:       c.cfg.ChatModel,
		Prompt:      b.String(),
		Temperature: c.cfg.Temperature,
		TopP:        c.cfg.TopP,
	})
	if err != nil {
		return "", fmt.Errorf("chat reply: %w", err)
	}
	return completion.Text, nil
}

func (c *Chat) Invoke(ctx context.Context, in Input) (Output, error) {
	reply, err := c.GeneralReply(ctx, in.Query)
	return Output{Reply: reply}, err
}

func (c *Chat) Answer(ctx context.Context, question string, from coordination.Role) (string, error) {
	return c.errNoAnswerer()
}

var _ Agent = (*Chat)(nil)
