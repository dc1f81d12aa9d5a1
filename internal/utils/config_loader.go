package utils

import (
	"fmt"
	"os"
	"strings"
	"time"

	"guarddog/internal/alert"
	"guarddog/internal/model"
	"guarddog/internal/rules"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type GuardDogConfig struct {
	Application ApplicationYAMLConfig `yaml:"application"`
	Alerting    AlertingYAMLConfig    `yaml:"alerting"`
	Logging     LoggingYAMLConfig     `yaml:"logging"`
}

type ApplicationYAMLConfig struct {
	RulesFile             string `yaml:"rules_file"`
	APIPort               string `yaml:"api_port"`
	MetricsPort           string `yaml:"metrics_port"`
	Workers               int    `yaml:"workers"`
	SkipInvalidCategories bool   `yaml:"skip_invalid_categories"`
	MaxStoredFindings     int    `yaml:"max_stored_findings"`
}

type AlertingYAMLConfig struct {
	Enabled     bool               `yaml:"enabled"`
	MinSeverity string             `yaml:"min_severity"`
	Channels    AlertChannelsYAML  `yaml:"channels"`
	Webhook     WebhookYAMLConfig  `yaml:"webhook"`
	Telegram    TelegramYAMLConfig `yaml:"telegram"`
	QueueSize   int                `yaml:"queue_size"`
}

type AlertChannelsYAML struct {
	Log      bool `yaml:"log"`
	Webhook  bool `yaml:"webhook"`
	Telegram bool `yaml:"telegram"`
}

type WebhookYAMLConfig struct {
	URL            string            `yaml:"url"`
	Headers        map[string]string `yaml:"headers,omitempty"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
}

type TelegramYAMLConfig struct {
	BotToken        string `yaml:"bot_token"`
	ChatID          string `yaml:"chat_id"`
	ParseMode       string `yaml:"parse_mode"`
	Enabled         bool   `yaml:"enabled"`
	MessageTemplate string `yaml:"message_template,omitempty"`
}

type LoggingYAMLConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func LoadConfig(filename string) (*GuardDogConfig, error) {
	if filename == "" {
		filename = "configs/guarddog.yaml"
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %v", filename, err)
	}

	var config GuardDogConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config file %s: %v", filename, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %v", err)
	}

	return &config, nil
}

// Validate fills defaults and rejects settings that cannot work
func (c *GuardDogConfig) Validate() error {
	if c.Application.RulesFile == "" {
		c.Application.RulesFile = "configs/rules.yaml"
	}
	if c.Application.APIPort == "" {
		c.Application.APIPort = "5001"
	}
	if c.Application.MetricsPort == "" {
		c.Application.MetricsPort = "8080"
	}
	if c.Application.Workers <= 0 {
		c.Application.Workers = 4
	}
	if c.Application.MaxStoredFindings <= 0 {
		c.Application.MaxStoredFindings = 10000
	}

	if c.Alerting.MinSeverity == "" {
		c.Alerting.MinSeverity = string(model.SeverityWarning)
	}
	if _, err := model.ParseSeverity(c.Alerting.MinSeverity); err != nil {
		return fmt.Errorf("alerting.min_severity: %v", err)
	}
	if c.Alerting.Channels.Webhook && c.Alerting.Webhook.URL == "" {
		return fmt.Errorf("webhook channel enabled but alerting.webhook.url is empty")
	}
	if c.Alerting.Webhook.TimeoutSeconds <= 0 {
		c.Alerting.Webhook.TimeoutSeconds = 10
	}
	if c.Alerting.Telegram.ParseMode == "" {
		c.Alerting.Telegram.ParseMode = "Markdown"
	}
	if c.Alerting.QueueSize <= 0 {
		c.Alerting.QueueSize = 100
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}

// GetMetricsPort strips a host part from MetricsPort
func (c *GuardDogConfig) GetMetricsPort() string {
	port := c.Application.MetricsPort
	if strings.Contains(port, ":") {
		parts := strings.Split(port, ":")
		port = parts[len(parts)-1]
	}
	return port
}

// LoadOptions returns the rule loading options implied by the config
func (c *GuardDogConfig) LoadOptions(logger *logrus.Logger) []rules.LoadOption {
	opts := []rules.LoadOption{rules.WithLogger(logger)}
	if c.Application.SkipInvalidCategories {
		opts = append(opts, rules.WithSkipInvalidCategories())
	}
	return opts
}

func GetDefaultConfig() *GuardDogConfig {
	return &GuardDogConfig{
		Application: ApplicationYAMLConfig{
			RulesFile:         "configs/rules.yaml",
			APIPort:           "5001",
			MetricsPort:       "8080",
			Workers:           4,
			MaxStoredFindings: 10000,
		},
		Alerting: AlertingYAMLConfig{
			Enabled:     true,
			MinSeverity: string(model.SeverityWarning),
			Channels: AlertChannelsYAML{
				Log:      true,
				Webhook:  false,
				Telegram: false,
			},
			Webhook: WebhookYAMLConfig{
				TimeoutSeconds: 10,
			},
			Telegram: TelegramYAMLConfig{
				ParseMode: "Markdown",
			},
			QueueSize: 100,
		},
		Logging: LoggingYAMLConfig{
			Level:  "INFO",
			Format: "json",
		},
	}
}

// RegisterNotifiersFromYAML wires the configured alert channels to the engine.
// Every channel only receives findings at or above alerting.min_severity.
// Network channels are queued so a slow endpoint never holds up a scan;
// call engine.Close to flush them.
func RegisterNotifiersFromYAML(engine *rules.Engine, config *GuardDogConfig, logger *logrus.Logger) int {
	if !config.Alerting.Enabled {
		logger.Info("Alerting disabled, no notifiers registered")
		return 0
	}

	minSeverity, err := model.ParseSeverity(config.Alerting.MinSeverity)
	if err != nil {
		minSeverity = model.SeverityWarning
	}

	registered := 0
	register := func(name string, n alert.Notifier, queued bool) {
		n = alert.NewSeverityFilter(n, minSeverity)
		if queued {
			n = alert.NewAsyncNotifier(name, n, config.Alerting.QueueSize, logger)
		}
		engine.RegisterNotifier(n)
		registered++
		logger.Infof("Registered notifier: %s (min severity: %s)", name, minSeverity)
	}

	if config.Alerting.Channels.Log {
		register("log", alert.NewLogNotifier(logger), false)
	}

	if config.Alerting.Channels.Webhook {
		timeout := time.Duration(config.Alerting.Webhook.TimeoutSeconds) * time.Second
		register("webhook", alert.NewWebhookNotifier(config.Alerting.Webhook.URL, config.Alerting.Webhook.Headers, timeout, logger), true)
	}

	if config.Alerting.Channels.Telegram {
		tg := config.Alerting.Telegram
		if tg.BotToken == "" || tg.ChatID == "" {
			logger.Warnf("Telegram channel enabled but bot_token or chat_id is empty, skipping")
		} else {
			register("telegram", alert.NewTelegramNotifierWithTemplate(tg.BotToken, tg.ChatID, tg.ParseMode, tg.Enabled, tg.MessageTemplate, logger), true)
		}
	}

	return registered
}
