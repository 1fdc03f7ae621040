package orchestrator

import (
	"strings"

	"github.com/orbitalgrid/orbital-insight/orbital/config"
)

// Intent is the routing decision for one user message.
type Intent string

const (
	IntentRefine   Intent = "refine"   // modify the existing script
	IntentAnalysis Intent = "analysis" // run a new analysis
	IntentQuestion Intent = "question" // answer from accumulated context
	IntentGeneral  Intent = "general"  // plain conversation
)

// Classify routes a user message by keyword rules, evaluated in order:
// refinement first (only when a script exists to refine), then analysis,
// then question, with general conversation as the fallback. The keyword
// lists come from configuration.
func Classify(message string, hasScript bool, cfg config.ClassifierConfig) Intent {
	lower := strings.ToLower(strings.TrimSpace(message))

	if hasScript {
		for _, kw := range cfg.RefineKeywords {
			if strings.Contains(lower, kw) {
				return IntentRefine
			}
		}
	}
	for _, kw := range cfg.AnalysisKeywords {
		if strings.Contains(lower, kw) {
			return IntentAnalysis
		}
	}
	if strings.Contains(lower, "?") {
		return IntentQuestion
	}
	for _, prefix := range cfg.InterrogativePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return IntentQuestion
		}
	}
	return IntentGeneral
}
