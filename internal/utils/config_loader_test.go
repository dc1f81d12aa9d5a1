package utils

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"guarddog/internal/rules"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guarddog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_FillsDefaults(t *testing.T) {
	path := writeConfig(t, `
application:
  rules_file: /etc/guarddog/rules.yaml
  metrics_port: "0.0.0.0:9102"
alerting:
  enabled: true
  channels:
    log: true
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/etc/guarddog/rules.yaml", config.Application.RulesFile)
	assert.Equal(t, "5001", config.Application.APIPort)
	assert.Equal(t, "9102", config.GetMetricsPort())
	assert.Equal(t, 4, config.Application.Workers)
	assert.Equal(t, "warning", config.Alerting.MinSeverity)
	assert.Equal(t, 100, config.Alerting.QueueSize)
	assert.Equal(t, "INFO", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "application: [broken"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "alerting:\n  min_severity: apocalyptic\n"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "alerting:\n  channels:\n    webhook: true\n"))
	assert.Error(t, err)
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	config := GetDefaultConfig()
	require.NoError(t, config.Validate())
	assert.Equal(t, "8080", config.GetMetricsPort())
}

func TestRegisterNotifiersFromYAML(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	catalog, err := rules.Load([]byte("pii_detection: {enabled: false}"), rules.WithLogger(logger))
	require.NoError(t, err)
	engine := rules.NewEngine(catalog, logger)

	config := GetDefaultConfig()
	config.Alerting.Channels.Webhook = true
	config.Alerting.Webhook.URL = "http://127.0.0.1:1/hook"
	config.Alerting.Channels.Telegram = true
	assert.Equal(t, 2, RegisterNotifiersFromYAML(engine, config, logger), "telegram without credentials is skipped")
	require.NoError(t, engine.Close())

	config.Alerting.Enabled = false
	assert.Zero(t, RegisterNotifiersFromYAML(engine, config, logger))
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger("debug", "json")
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	logger = NewLogger("", "text")
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
}
