// Package orchestrator sequences the agent roles: it classifies incoming
// chat messages, runs the full analysis pipeline, and drives the
// question-resolution loop between stages.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/orbitalgrid/orbital-insight/orbital/agents"
	"github.com/orbitalgrid/orbital-insight/orbital/config"
	"github.com/orbitalgrid/orbital-insight/orbital/coordination"
	"github.com/orbitalgrid/orbital-insight/orbital/ports"
)

// StageResult is the success-or-failure outcome of one pipeline stage.
// Error is set when the stage degraded; Value may still carry partial data.
type StageResult[T any] struct {
	Value T      `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

func (r StageResult[T]) Failed() bool { return r.Error != "" }

func ok[T any](v T) StageResult[T] { return StageResult[T]{Value: v} }

func failed[T any](v T, err error) StageResult[T] {
	return StageResult[T]{Value: v, Error: err.Error()}
}

// AnalysisResult always carries all five keys, populated or degraded.
type AnalysisResult struct {
	Tasks       StageResult[[]agents.Task]          `json:"tasks"`
	Research    StageResult[*agents.ResearchResult] `json:"research"`
	Code        StageResult[*agents.CodeResult]     `json:"code"`
	Methodology StageResult[*agents.Report]         `json:"methodology"`
	Context     coordination.Snapshot               `json:"context"`
}

// ChatReply is the routed response to one chat message.
type ChatReply struct {
	Type     string   `json:"type"`
	Content  string   `json:"content"`
	Code     string   `json:"code,omitempty"`
	Datasets []string `json:"datasets,omitempty"`
}

// Orchestrator owns the role set and the store they coordinate through.
type Orchestrator struct {
	store       *coordination.Store
	planner     *agents.Planner
	researcher  *agents.Researcher
	coder       *agents.Coder
	synthesizer *agents.Synthesizer
	chat        *agents.Chat
	cfg         config.AgentsConfig
	classifier  config.ClassifierConfig
	tracer      ports.Tracer
	logger      zerolog.Logger
}

// New wires the five roles over a shared store.
func New(store *coordination.Store, provider ports.Provider, catalog ports.Catalog, tracer ports.Tracer, cfg *config.Config, logger zerolog.Logger) *Orchestrator {
	researcher := agents.NewResearcher(store, provider, catalog, tracer, cfg.Agents)
	return &Orchestrator{
		store:       store,
		planner:     agents.NewPlanner(store, provider, tracer, cfg.Agents),
		researcher:  researcher,
		coder:       agents.NewCoder(store, provider, catalog, researcher, tracer, cfg.Agents),
		synthesizer: agents.NewSynthesizer(store, provider, tracer, cfg.Agents),
		chat:        agents.NewChat(store, provider, tracer, cfg.Agents),
		cfg:         cfg.Agents,
		classifier:  cfg.Classifier,
		tracer:      tracer,
		logger:      logger.With().Str("component", "orchestrator").Logger(),
	}
}

// HandleMessage is the single-turn entry point: record the user turn,
// classify intent, perform at most one delegation, resolve any questions
// the delegation raised, and record the assistant turn.
func (o *Orchestrator) HandleMessage(ctx context.Context, message string) (reply *ChatReply, err error) {
	ctx, end := o.tracer.StartSpan(ctx, "orchestrator.handle_message", nil)
	defer func() { end(err) }()

	o.store.RecordConversationTurn(coordination.SpeakerUser, message)

	latest, hasScript := o.store.LatestScript()
	intent := Classify(message, hasScript, o.classifier)
	o.logger.Debug().Str("intent", string(intent)).Msg("classified message")

	switch intent {
	case IntentRefine:
		code, rerr := o.coder.RefineScript(ctx, latest.Code, message)
		if rerr != nil {
			return nil, fmt.Errorf("refine script: %w", rerr)
		}
		reply = &ChatReply{Type: "code", Content: "Updated the script per your request.", Code: code, Datasets: latest.DatasetIDs}

	case IntentAnalysis:
		research, rerr := o.researcher.Research(ctx, message, false)
		if rerr != nil {
			o.degrade("research", rerr)
		}
		result, gerr := o.coder.GenerateScript(ctx, message, research)
		if gerr != nil {
			return nil, fmt.Errorf("generate script: %w", gerr)
		}
		reply = &ChatReply{Type: "code", Content: result.Description, Code: result.Code, Datasets: result.DatasetIDs}

	case IntentQuestion:
		content, aerr := o.chat.AnswerFromContext(ctx, message)
		if aerr != nil {
			return nil, fmt.Errorf("answer question: %w", aerr)
		}
		reply = &ChatReply{Type: "chat", Content: content}

	default:
		content, gerr := o.chat.GeneralReply(ctx, message)
		if gerr != nil {
			return nil, fmt.Errorf("chat reply: %w", gerr)
		}
		reply = &ChatReply{Type: "chat", Content: content}
	}

	o.ResolvePending(ctx)
	o.store.RecordConversationTurn(coordination.SpeakerAssistant, reply.Content)
	return reply, nil
}

// RunFullAnalysis runs plan, research, code, and synthesis in order. A
// failed stage is recorded as a thought and the pipeline continues with
// what it has; the result always carries all five keys.
func (o *Orchestrator) RunFullAnalysis(ctx context.Context, mission string, deep bool) *AnalysisResult {
	ctx, end := o.tracer.StartSpan(ctx, "orchestrator.full_analysis", map[string]any{"deep": deep})
	defer end(nil)

	o.store.RecordConversationTurn(coordination.SpeakerUser, mission)
	result := &AnalysisResult{}

	tasks, err := o.planner.Plan(ctx, mission)
	if err != nil {
		o.degrade("planning", err)
		result.Tasks = failed(tasks, err)
	} else {
		result.Tasks = ok(tasks)
	}

	research, err := o.researcher.Research(ctx, mission, deep)
	if err != nil {
		o.degrade("research", err)
		result.Research = failed(research, err)
	} else {
		result.Research = ok(research)
	}
	o.ResolvePending(ctx)

	code, err := o.coder.GenerateScript(ctx, mission, research)
	if err != nil {
		o.degrade("code generation", err)
		result.Code = failed(code, err)
	} else {
		result.Code = ok(code)
	}
	o.ResolvePending(ctx)

	report, err := o.synthesizer.Synthesize(ctx, research, code)
	if err != nil {
		o.degrade("synthesis", err)
		result.Methodology = failed(report, err)
	} else {
		result.Methodology = ok(report)
	}

	if !result.Code.Failed() && code != nil {
		o.store.RecordConversationTurn(coordination.SpeakerAssistant, "Generated script: "+code.Description)
	}
	result.Context = o.store.Snapshot()
	return result
}

// ResolvePending answers questions addressed to the researcher, in rounds,
// until none remain or the round budget is spent. Answering can raise new
// questions, hence the loop; the budget bounds total work. Questions
// addressed to the coder are collected each round and counted in the exit
// condition so they stay visible while unanswered, but the researcher is
// the only automatic answerer.
func (o *Orchestrator) ResolvePending(ctx context.Context) int {
	answered := 0
	for round := 0; round < o.cfg.MaxResolveRounds; round++ {
		pending := o.store.PendingQuestions(coordination.RoleResearcher)
		coderPending := o.store.PendingQuestions(coordination.RoleCoder)
		if len(pending) == 0 && len(coderPending) == 0 {
			break
		}
		o.logger.Debug().
			Int("round", round+1).
			Int("pending", len(pending)).
			Int("coder_pending", len(coderPending)).
			Msg("resolving questions")
		for _, q := range pending {
			if _, err := o.researcher.Answer(ctx, q.Text, q.From); err != nil {
				o.logger.Warn().Err(err).Str("from", string(q.From)).Msg("question resolution failed")
				continue
			}
			answered++
		}
		if round+1 < o.cfg.MaxResolveRounds {
			select {
			case <-ctx.Done():
				return answered
			case <-time.After(o.cfg.ResolveBackoff):
			}
		}
	}
	return answered
}

// Reset clears the shared store for a fresh session.
func (o *Orchestrator) Reset() {
	o.store.Reset()
}

// degrade records a stage failure as a thought so observers see the
// pipeline continue rather than silently lose a stage.
func (o *Orchestrator) degrade(stage string, err error) {
	o.logger.Warn().Err(err).Str("stage", stage).Msg("stage degraded")
	o.store.RecordThought(coordination.RoleChat, fmt.Sprintf("Stage %s failed: %v", stage, err), map[string]any{"stage": stage})
}
