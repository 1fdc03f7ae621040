package agents

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/orbitalgrid/orbital-insight/orbital/config"
	"github.com/orbitalgrid/orbital-insight/orbital/coordination"
	"github.com/orbitalgrid/orbital-insight/orbital/ports"
)

// CodeResult is a generated script plus the provenance it was built from.
type CodeResult struct {
	Code        string                      `json:"code"`
	Description string                      `json:"description"`
	DatasetIDs  []string                    `json:"dataset_ids"`
	Schemas     map[string]ports.BandSchema `json:"schemas"`
	TokenCount  int                         `json:"token_count,omitempty"`
}

var codeFence = regexp.MustCompile("^```(?:javascript|js)?\\s*\\n?|\\n?```\\s*$")

// Coder turns research into Earth Engine scripts. Script output is streamed
// live as stream_chunk events; the finished script is recorded whole.
type Coder struct {
	base
	provider   ports.Provider
	catalog    ports.Catalog
	researcher *Researcher
	cfg        config.AgentsConfig
}

func NewCoder(store *coordination.Store, provider ports.Provider, catalog ports.Catalog, researcher *Researcher, tracer ports.Tracer, cfg config.AgentsConfig) *Coder {
	return &Coder{
		base:       base{role: coordination.RoleCoder, store: store, tracer: tracer},
		provider:   provider,
		catalog:    catalog,
		researcher: researcher,
		cfg:        cfg,
	}
}

// GenerateScript produces a script for the task. Dataset context comes from
// the research result when present, otherwise from a fresh catalog sweep.
func (c *Coder) GenerateScript(ctx context.Context, task string, research *ResearchResult) (result *CodeResult, err error) {
	ctx, end := c.tracer.StartSpan(ctx, "coder.generate", nil)
	defer func() { end(err) }()

	c.thought(fmt.Sprintf("Generating script for: %s", preview(task, 200)))

	var (
		datasets []ports.Dataset
		schemas  map[string]ports.BandSchema
	)
	if research != nil && len(research.Datasets) > 0 {
		datasets = research.Datasets
		schemas = research.Schemas
	} else {
		c.store.RecordToolCall(c.role, "browse_datasets", fmt.Sprintf("query=%q", task))
		found, err := c.catalog.Browse(ctx, task)
		if err != nil {
			c.tracer.Event(ctx, "catalog_browse_failed", map[string]any{"error": err.Error()})
		}
		datasets = found
		schemas = make(map[string]ports.BandSchema)
		for i, ds := range datasets {
			if i >= 3 {
				break
			}
			schema, err := c.catalog.BandSchema(ctx, ds.ID)
			if err != nil {
				continue
			}
			schemas[ds.ID] = schema
		}
	}
	c.thought(fmt.Sprintf("Using %d datasets with %d verified schemas", len(datasets), len(schemas)))

	prompt := c.buildPrompt(task, datasets, schemas, research)
	stream, err := c.provider.Stream(ctx, ports.GenerateRequest{
		Model:          c.cfg.ChatModel,
		Prompt:         prompt,
		Temperature:    c.cfg.Temperature,
		TopP:           c.cfg.TopP,
		ThinkingBudget: 4096,
	})
	if err != nil {
		return nil, fmt.Errorf("coder stream: %w", err)
	}
	raw, _ := c.consumeStream(stream, true)
	code := cleanCode(raw)
	if code == "" {
		return nil, fmt.Errorf("coder produced empty script for task %q", task)
	}

	ids := make([]string, 0, len(datasets))
	for _, ds := range datasets {
		ids = append(ids, ds.ID)
	}
	c.store.RecordScript(code, task, ids)

	result = &CodeResult{Code: code, Description: task, DatasetIDs: ids, Schemas: schemas}
	if count, err := c.provider.CountTokens(ctx, c.cfg.ChatModel, prompt); err == nil {
		result.TokenCount = count
		c.thought(fmt.Sprintf("Token analysis - input token count: %d", count))
	}
	return result, nil
}

// RefineScript rewrites an existing script per the request and records the
// refined version as a new script.
func (c *Coder) RefineScript(ctx context.Context, original, request string) (code string, err error) {
	ctx, end := c.tracer.StartSpan(ctx, "coder.refine", nil)
	defer func() { end(err) }()

	c.thought(fmt.Sprintf("Refining script: %s", preview(request, 150)))

	prompt := fmt.Sprintf(`Modify this Earth Engine script per the request.
Return the complete updated script only, no commentary.

Request: %s

Current script:
%s`, request, original)

	stream, err := c.provider.Stream(ctx, ports.GenerateRequest{
		Model:       c.cfg.ChatModel,
		Prompt:      prompt,
		Temperature: c.cfg.Temperature,
		TopP:        c.cfg.TopP,
	})
	if err != nil {
		return "", fmt.Errorf("coder refine: %w", err)
	}
	raw, _ := c.consumeStream(stream, true)
	code = cleanCode(raw)
	if code == "" {
		return "", fmt.Errorf("refinement produced empty script")
	}
	c.store.RecordScript(code, "Refined: "+request, nil)
	return code, nil
}

// AskResearcher routes a dataset question to the researcher and returns the
// answer. Both sides of the exchange land in the store.
func (c *Coder) AskResearcher(ctx context.Context, question string) (string, error) {
	c.thought(fmt.Sprintf("Asking researcher: %s", preview(question, 150)))
	return c.researcher.Answer(ctx, question, c.role)
}

func (c *Coder) buildPrompt(task string, datasets []ports.Dataset, schemas map[string]ports.BandSchema, research *ResearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Write a complete Google Earth Engine JavaScript script for this task.
Use only the dataset IDs and band names listed below.

Task: %s
`, task)
	for _, ds := range datasets {
		fmt.Fprintf(&b, "\nDataset: %s (%s)", ds.ID, ds.Name)
		if schema, ok := schemas[ds.ID]; ok {
			fmt.Fprintf(&b, " bands: %s", strings.Join(schema.BandNames, ", "))
		}
	}
	if research != nil && research.Research != "" {
		fmt.Fprintf(&b, "\n\nResearch findings:\n%s", preview(research.Research, 4000))
	}
	if research != nil && len(research.Sources) > 0 {
		b.WriteString("\n\nReference sources:")
		for i, src := range research.Sources {
			if i >= 5 {
				break
			}
			fmt.Fprintf(&b, "\n[%d] %s (%s)", i+1, src.Title, src.URI)
		}
	}
	b.WriteString("\n\nReturn only the script.")
	return b.String()
}

// cleanCode strips markdown code fences from model output.
func cleanCode(s string) string {
	s = strings.TrimSpace(s)
	s = codeFence.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

func (c *Coder) Invoke(ctx context.Context, in Input) (Output, error) {
	result, err := c.GenerateScript(ctx, in.Query, in.Research)
	return Output{Code: result}, err
}

func (c *Coder) Answer(ctx context.Context, question string, from coordination.Role) (string, error) {
	return c.errNoAnswerer()
}

var _ Agent = (*Coder)(nil)
