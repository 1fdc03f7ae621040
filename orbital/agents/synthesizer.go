package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/orbitalgrid/orbital-insight/orbital/config"
	"github.com/orbitalgrid/orbital-insight/orbital/coordination"
	"github.com/orbitalgrid/orbital-insight/orbital/ports"
)

// Report is the methodology summary of a completed run.
type Report struct {
	Methodology   string            `json:"methodology"`
	Sources       []ports.WebSource `json:"sources"`
	SearchQueries []string          `json:"search_queries"`
	Datasets      []ports.Dataset   `json:"datasets"`
	CitationCount int               `json:"citation_count"`
}

// Synthesizer writes the methodology report from the research and code
// stages and publishes it under the "methodology_report" context key.
type Synthesizer struct {
	base
	provider ports.Provider
	cfg      config.AgentsConfig
}

func NewSynthesizer(store *coordination.Store, provider ports.Provider, tracer ports.Tracer, cfg config.AgentsConfig) *Synthesizer {
	return &Synthesizer{
		base:     base{role: coordination.RoleSynthesizer, store: store, tracer: tracer},
		provider: provider,
		cfg:      cfg,
	}
}

// Synthesize produces the report. Provenance (sources, queries, datasets)
// is carried through from the research stage even when generation fails.
func (s *Synthesizer) Synthesize(ctx context.Context, research *ResearchResult, code *CodeResult) (report *Report, err error) {
	ctx, end := s.tracer.StartSpan(ctx, "synthesizer.synthesize", nil)
	defer func() { end(err) }()

	s.thought("Writing methodology report")

	report = &Report{}
	if research != nil {
		report.Sources = research.Sources
		report.SearchQueries = research.SearchQueries
		report.Datasets = research.Datasets
		report.CitationCount = len(research.Sources)
	}

	prompt := s.buildPrompt(research, code)
	stream, err := s.provider.Stream(ctx, ports.GenerateRequest{
		Model:          s.cfg.QuickModel,
		Prompt:         prompt,
		Temperature:    s.cfg.Temperature,
		TopP:           s.cfg.TopP,
		ThinkingBudget: 2048,
	})
	if err != nil {
		report.Methodology = fmt.Sprintf("Error generating report: %v", err)
		return report, fmt.Errorf("synthesizer stream: %w", err)
	}
	text, _ := s.consumeStream(stream, false)
	report.Methodology = text

	s.thought(fmt.Sprintf("Report complete with %d citations", report.CitationCount))
	s.countTokens(ctx, s.provider, s.cfg.QuickModel, prompt)

	s.store.SetContext("methodology_report", report)
	return report, nil
}

func (s *Synthesizer) buildPrompt(research *ResearchResult, code *CodeResult) string {
	var b strings.Builder
	b.WriteString("Write a concise methodology report for this geospatial analysis.\n")
	b.WriteString("Cover data selection, processing approach, and limitations.\n")
	if research != nil {
		fmt.Fprintf(&b, "\nResearch query: %s\n", research.Query)
		fmt.Fprintf(&b, "\nFindings:\n%s\n", preview(research.Research, 4000))
		for _, ds := range research.Datasets {
			fmt.Fprintf(&b, "\nDataset used: %s (%s)", ds.ID, ds.Name)
		}
	}
	if code != nil {
		fmt.Fprintf(&b, "\n\nGenerated script (%s):\n%s\n", code.Description, preview(code.Code, 3000))
	}
	return b.String()
}

func (s *Synthesizer) Invoke(ctx context.Context, in Input) (Output, error) {
	report, err := s.Synthesize(ctx, in.Research, in.Code)
	return Output{Report: report}, err
}

func (s *Synthesizer) Answer(ctx context.Context, question string, from coordination.Role) (string, error) {
	return s.errNoAnswerer()
}

var _ Agent = (*Synthesizer)(nil)
