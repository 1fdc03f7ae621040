package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/orbitalgrid/orbital-insight/orbital/config"
	"github.com/orbitalgrid/orbital-insight/orbital/coordination"
	"github.com/orbitalgrid/orbital-insight/orbital/ports"
)

// Task is a single step of a decomposed mission.
type Task struct {
	Task        string   `json:"task"`
	Description string   `json:"description"`
	Parallel    bool     `json:"parallel,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty"`
}

// taskListSchema constrains planner output before it is trusted downstream.
const taskListSchema = `{
	"type": "array",
	"minItems": 1,
	"items": {
		"type": "object",
		"required": ["task", "description"],
		"properties": {
			"task": {"type": "string", "minLength": 1},
			"description": {"type": "string"},
			"parallel": {"type": "boolean"},
			"depends_on": {"type": "array", "items": {"type": "string"}}
		}
	}
}`

// Planner decomposes a mission statement into an ordered task list.
type Planner struct {
	base
	provider ports.Provider
	cfg      config.AgentsConfig
}

func NewPlanner(store *coordination.Store, provider ports.Provider, tracer ports.Tracer, cfg config.AgentsConfig) *Planner {
	return &Planner{
		base:     base{role: coordination.RolePlanner, store: store, tracer: tracer},
		provider: provider,
		cfg:      cfg,
	}
}

// Plan asks the model for a JSON task list, validates it against
// taskListSchema, and streams one thought per accepted task.
func (p *Planner) Plan(ctx context.Context, mission string) (tasks []Task, err error) {
	ctx, end := p.tracer.StartSpan(ctx, "planner.plan", nil)
	defer func() { end(err) }()

	p.thought(fmt.Sprintf("Planning mission: %s", preview(mission, 200)))

	prompt := fmt.Sprintf(`You are a mission planner for geospatial analysis.
Decompose the mission below into 2-5 concrete tasks.

Mission: %s

Respond with a JSON array only. Each element must have "task" (short name)
and "description" (what to do), and may have "parallel" (boolean) and
"depends_on" (array of task names).`, mission)

	stream, err := p.provider.Stream(ctx, ports.GenerateRequest{
		Model:          p.cfg.QuickModel,
		Prompt:         prompt,
		Temperature:    p.cfg.Temperature,
		TopP:           p.cfg.TopP,
		ThinkingBudget: 1024,
		JSONOutput:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("planner stream: %w", err)
	}
	raw, _ := p.consumeStream(stream, false)
	raw = strings.TrimSpace(raw)

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(taskListSchema),
		gojsonschema.NewStringLoader(raw),
	)
	if err != nil {
		return nil, fmt.Errorf("planner output is not valid JSON: %w", err)
	}
	if !result.Valid() {
		var reasons []string
		for _, desc := range result.Errors() {
			reasons = append(reasons, desc.String())
		}
		return nil, fmt.Errorf("planner output failed validation: %s", strings.Join(reasons, "; "))
	}

	if err := json.Unmarshal([]byte(raw), &tasks); err != nil {
		return nil, fmt.Errorf("decode task list: %w", err)
	}
	for i, t := range tasks {
		p.thought(fmt.Sprintf("Task %d: %s - %s", i+1, t.Task, preview(t.Description, 150)))
	}
	p.thought(fmt.Sprintf("Created %d tasks", len(tasks)))
	p.countTokens(ctx, p.provider, p.cfg.QuickModel, prompt)
	return tasks, nil
}

func (p *Planner) Invoke(ctx context.Context, in Input) (Output, error) {
	tasks, err := p.Plan(ctx, in.Query)
	return Output{Tasks: tasks}, err
}

func (p *Planner) Answer(ctx context.Context, question string, from coordination.Role) (string, error) {
	return p.errNoAnswerer()
}

var _ Agent = (*Planner)(nil)
