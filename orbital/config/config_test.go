package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ConfigTestSuite tests the config package functionality
type ConfigTestSuite struct {
	suite.Suite
	tempDir string
	origDir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) SetupTest() {
	var err error
	suite.origDir, err = os.Getwd()
	require.NoError(suite.T(), err)

	tempDir, err := os.MkdirTemp("", "orbital-config-test-*")
	require.NoError(suite.T(), err)
	suite.tempDir = tempDir

	err = os.Chdir(tempDir)
	require.NoError(suite.T(), err)
}

func (suite *ConfigTestSuite) TearDownTest() {
	if suite.origDir != "" {
		os.Chdir(suite.origDir)
	}
	if suite.tempDir != "" {
		os.RemoveAll(suite.tempDir)
	}
}

func (suite *ConfigTestSuite) TestLoadConfigWithDefaults() {
	cfg, err := LoadConfig("")

	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), "gemini-1.5-pro", cfg.Agents.ChatModel)
	assert.Equal(suite.T(), "gemini-3-pro-preview", cfg.Agents.QuickModel)
	assert.Equal(suite.T(), 3, cfg.Agents.MaxResolveRounds)
	assert.Equal(suite.T(), 100*time.Millisecond, cfg.Agents.ResolveBackoff)

	assert.Equal(suite.T(), 30*time.Second, cfg.Stream.KeepaliveInterval)
	assert.Equal(suite.T(), 100, cfg.Stream.SubscriberBuffer)

	// The keyword sets are closed: routing rules depend on these exact entries.
	assert.Contains(suite.T(), cfg.Classifier.RefineKeywords, "fix")
	assert.Contains(suite.T(), cfg.Classifier.AnalysisKeywords, "ndvi")
	assert.Contains(suite.T(), cfg.Classifier.InterrogativePrefixes, "what")

	assert.Equal(suite.T(), "127.0.0.1:8000", cfg.Gateway.Addr)
	assert.False(suite.T(), cfg.Archive.Enabled)
}

func (suite *ConfigTestSuite) TestLoadConfigWithFile() {
	configContent := `
agents:
  chat_model: "test-chat"
  max_resolve_rounds: 5
  resolve_backoff: "250ms"
stream:
  keepalive_interval: "5s"
  subscriber_buffer: 16
gateway:
  addr: "0.0.0.0:9001"
archive:
  enabled: true
  dsn: "test-archive.db"
`

	configFile := filepath.Join(suite.tempDir, "config.yaml")
	err := os.WriteFile(configFile, []byte(configContent), 0o644)
	require.NoError(suite.T(), err)

	cfg, err := LoadConfig(configFile)

	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), "test-chat", cfg.Agents.ChatModel)
	assert.Equal(suite.T(), 5, cfg.Agents.MaxResolveRounds)
	assert.Equal(suite.T(), 250*time.Millisecond, cfg.Agents.ResolveBackoff)
	assert.Equal(suite.T(), 5*time.Second, cfg.Stream.KeepaliveInterval)
	assert.Equal(suite.T(), 16, cfg.Stream.SubscriberBuffer)
	assert.Equal(suite.T(), "0.0.0.0:9001", cfg.Gateway.Addr)
	assert.True(suite.T(), cfg.Archive.Enabled)
	assert.Equal(suite.T(), "test-archive.db", cfg.Archive.DSN)
}

func (suite *ConfigTestSuite) TestLoadConfigInvalidFile() {
	cfg, err := LoadConfig("/nonexistent/path/config.yaml")

	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestLoadConfigMalformedFile() {
	malformedContent := `
agents:
  chat_model: "x"
  invalid_yaml: [unclosed bracket
`

	configFile := filepath.Join(suite.tempDir, "malformed.yaml")
	err := os.WriteFile(configFile, []byte(malformedContent), 0o644)
	require.NoError(suite.T(), err)

	cfg, err := LoadConfig(configFile)

	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

// TestValidate tests the invariants enforced on loaded configuration.
func TestValidate(t *testing.T) {
	valid := Config{
		Provider: ProviderConfig{BaseURL: "https://generativelanguage.googleapis.com"},
		Agents:   AgentsConfig{MaxResolveRounds: 3, ResolveBackoff: 100 * time.Millisecond},
		Stream:   StreamConfig{KeepaliveInterval: 30 * time.Second, SubscriberBuffer: 100},
		Gateway: GatewayConfig{
			Addr: "127.0.0.1:8000",
		},
	}
	assert.NoError(t, valid.Validate())

	baseURL := valid
	baseURL.Provider.BaseURL = ""
	assert.Error(t, baseURL.Validate())

	rounds := valid
	rounds.Agents.MaxResolveRounds = 0
	assert.Error(t, rounds.Validate())

	keepalive := valid
	keepalive.Stream.KeepaliveInterval = 0
	assert.Error(t, keepalive.Validate())

	buffer := valid
	buffer.Stream.SubscriberBuffer = 0
	assert.Error(t, buffer.Validate())

	archive := valid
	archive.Archive.Enabled = true
	archive.Archive.DSN = ""
	assert.Error(t, archive.Validate())
}
