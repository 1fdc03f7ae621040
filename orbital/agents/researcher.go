package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/orbitalgrid/orbital-insight/orbital/config"
	"github.com/orbitalgrid/orbital-insight/orbital/coordination"
	"github.com/orbitalgrid/orbital-insight/orbital/ports"
)

// ResearchResult is what the researcher hands to downstream stages.
type ResearchResult struct {
	Query         string                      `json:"query"`
	Research      string                      `json:"research"`
	Datasets      []ports.Dataset             `json:"datasets"`
	Schemas       map[string]ports.BandSchema `json:"schemas"`
	Sources       []ports.WebSource           `json:"sources"`
	SearchQueries []string                    `json:"search_queries"`
}

// catalogKeywords marks questions the researcher answers with a fresh
// catalog sweep rather than from accumulated research alone.
var catalogKeywords = []string{"band", "dataset", "collection", "schema", "sentinel", "landsat", "modis"}

// Researcher combines catalog tooling with grounded web search to produce
// dataset-backed research for a query.
type Researcher struct {
	base
	provider ports.Provider
	catalog  ports.Catalog
	cfg      config.AgentsConfig
}

func NewResearcher(store *coordination.Store, provider ports.Provider, catalog ports.Catalog, tracer ports.Tracer, cfg config.AgentsConfig) *Researcher {
	return &Researcher{
		base:     base{role: coordination.RoleResearcher, store: store, tracer: tracer},
		provider: provider,
		catalog:  catalog,
		cfg:      cfg,
	}
}

// gatherCatalog sweeps the dataset catalog for the query and fetches the
// band schema of the top matches. Schema failures are skipped, not fatal.
func (r *Researcher) gatherCatalog(ctx context.Context, query string) ([]ports.Dataset, map[string]ports.BandSchema) {
	r.store.RecordToolCall(r.role, "browse_datasets", fmt.Sprintf("query=%q", query))
	datasets, err := r.catalog.Browse(ctx, query)
	if err != nil {
		r.tracer.Event(ctx, "catalog_browse_failed", map[string]any{"error": err.Error()})
		return nil, map[string]ports.BandSchema{}
	}
	r.thought(fmt.Sprintf("Found %d relevant datasets", len(datasets)))

	schemas := make(map[string]ports.BandSchema)
	for i, ds := range datasets {
		if i >= 3 {
			break
		}
		r.store.RecordToolCall(r.role, "get_band_schema", ds.ID)
		schema, err := r.catalog.BandSchema(ctx, ds.ID)
		if err != nil {
			r.tracer.Event(ctx, "band_schema_failed", map[string]any{"dataset": ds.ID, "error": err.Error()})
			continue
		}
		schemas[ds.ID] = schema
	}
	return datasets, schemas
}

// Research runs the full research phase: catalog sweep, grounded synthesis,
// source capture, and context publication under "latest_research".
func (r *Researcher) Research(ctx context.Context, query string, deep bool) (result *ResearchResult, err error) {
	ctx, end := r.tracer.StartSpan(ctx, "researcher.research", nil)
	defer func() { end(err) }()

	r.thought(fmt.Sprintf("[1/5] Starting research: %s", preview(query, 200)))

	r.thought("[2/5] Sweeping dataset catalog")
	datasets, schemas := r.gatherCatalog(ctx, query)

	r.thought("[3/5] Synthesizing with grounded search")
	prompt := r.buildPrompt(query, datasets, schemas)

	model := r.cfg.QuickModel
	budget := 2048
	if deep {
		model = r.cfg.DeepModel
		budget = 8192
	}
	stream, err := r.provider.Stream(ctx, ports.GenerateRequest{
		Model:          model,
		Prompt:         prompt,
		Temperature:    r.cfg.Temperature,
		TopP:           r.cfg.TopP,
		ThinkingBudget: budget,
		SearchGrounded: true,
	})
	if err != nil {
		return nil, fmt.Errorf("researcher stream: %w", err)
	}
	text, grounding := r.consumeStream(stream, false)

	r.thought("[4/5] Collecting sources")
	result = &ResearchResult{
		Query:    query,
		Research: text,
		Datasets: datasets,
		Schemas:  schemas,
	}
	if grounding != nil {
		result.SearchQueries = grounding.SearchQueries
		result.Sources = grounding.Sources
		for _, q := range grounding.SearchQueries {
			r.store.RecordSearchQuery(r.role, q)
		}
		for _, src := range grounding.Sources {
			r.store.RecordSource(r.role, src.Title, src.URI)
		}
		if len(grounding.Sources) > 0 {
			var b strings.Builder
			b.WriteString("\n\n**Sources:**\n")
			for _, src := range grounding.Sources {
				fmt.Fprintf(&b, "- [%s](%s)\n", src.Title, src.URI)
			}
			result.Research += b.String()
		}
	}

	r.thought("[5/5] Research complete")
	r.countTokens(ctx, r.provider, model, prompt)

	r.store.SetContext("latest_research", map[string]any{
		"query":    query,
		"research": result.Research,
		"datasets": datasets,
	})
	return result, nil
}

func (r *Researcher) buildPrompt(query string, datasets []ports.Dataset, schemas map[string]ports.BandSchema) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are a remote sensing researcher.
Research the following request and recommend concrete datasets and bands.

Request: %s
`, query)
	if len(datasets) > 0 {
		b.WriteString("\nCandidate datasets from the catalog:\n")
		for _, ds := range datasets {
			fmt.Fprintf(&b, "- %s (%s, %s)\n", ds.ID, ds.Name, ds.Type)
		}
	}
	for id, schema := range schemas {
		fmt.Fprintf(&b, "\nBands for %s: %s\n", id, strings.Join(schema.BandNames, ", "))
	}
	b.WriteString("\nSummarize findings, name the best dataset and bands, and note caveats.")
	return b.String()
}

// Answer handles a cross-role question addressed to the researcher. The
// question is recorded if not already pending, answered from accumulated
// research plus an optional catalog sweep, and the answer is recorded so
// both are resolved.
func (r *Researcher) Answer(ctx context.Context, question string, from coordination.Role) (answer string, err error) {
	ctx, end := r.tracer.StartSpan(ctx, "researcher.answer", map[string]any{"from": string(from)})
	defer func() { end(err) }()

	if !r.questionPending(question, from) {
		r.store.RecordMessage(from, r.role, coordination.KindQuestion, question)
	}
	r.thought(fmt.Sprintf("Answering question from %s: %s", from, preview(question, 150)))

	var b strings.Builder
	fmt.Fprintf(&b, "Answer this question from the %s agent concisely.\n\nQuestion: %s\n", from, question)

	if containsAny(strings.ToLower(question), catalogKeywords) {
		datasets, schemas := r.gatherCatalog(ctx, question)
		for _, ds := range datasets {
			fmt.Fprintf(&b, "\nCatalog match: %s (%s)", ds.ID, ds.Name)
		}
		for id, schema := range schemas {
			fmt.Fprintf(&b, "\nBands for %s: %s", id, strings.Join(schema.BandNames, ", "))
		}
	}
	if entry, ok := r.store.Context("latest_research"); ok {
		fmt.Fprintf(&b, "\n\nAccumulated research:\n%v", entry.Value)
	}

	completion, err := r.provider.Generate(ctx, ports.GenerateRequest{
		Model:       r.cfg.QuickModel,
		Prompt:      b.String(),
		Temperature: r.cfg.Temperature,
		TopP:        r.cfg.TopP,
	})
	if err != nil {
		return "", fmt.Errorf("researcher answer: %w", err)
	}
	r.store.RecordMessage(r.role, from, coordination.KindAnswer, completion.Text)
	return completion.Text, nil
}

func (r *Researcher) questionPending(question string, from coordination.Role) bool {
	for _, msg := range r.store.PendingQuestions(r.role) {
		if msg.From == from && msg.Text == question {
			return true
		}
	}
	return false
}

func (r *Researcher) Invoke(ctx context.Context, in Input) (Output, error) {
	result, err := r.Research(ctx, in.Query, in.Deep)
	return Output{Research: result}, err
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

var _ Agent = (*Researcher)(nil)
