package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/orbitalgrid/orbital-insight/orbital/config"
)

func testClassifierConfig() config.ClassifierConfig {
	return config.ClassifierConfig{
		RefineKeywords:        []string{"change the", "modify", "update", "fix", "adjust", "add", "remove", "instead", "rather than", "make it"},
		AnalysisKeywords:      []string{"analyze", "show me", "detect", "find", "calculate", "create a map", "generate", "visualize", "monitor", "ndvi", "deforestation", "flood", "fire", "change detection"},
		InterrogativePrefixes: []string{"what", "how", "why", "which", "can you explain"},
	}
}

func TestClassify(t *testing.T) {
	cfg := testClassifierConfig()

	tests := []struct {
		name      string
		message   string
		hasScript bool
		want      Intent
	}{
		{"refine with script", "Fix the color palette", true, IntentRefine},
		{"refine keyword without script falls through", "Fix the color palette", false, IntentGeneral},
		{"analysis keyword", "Show me NDVI for this region", false, IntentAnalysis},
		{"analysis beats question mark", "Can you detect floods in Pakistan?", false, IntentAnalysis},
		{"question by prefix", "What datasets are available", false, IntentQuestion},
		{"question by suffix", "Is the script done?", false, IntentQuestion},
		{"question mark mid-message", "Is the script finished? thanks", false, IntentQuestion},
		{"general", "Hello there", false, IntentGeneral},
		{"refine beats analysis when script exists", "Update the deforestation map", true, IntentRefine},
		{"case insensitive", "MONITOR the coastline", false, IntentAnalysis},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.message, tt.hasScript, cfg))
		})
	}
}

