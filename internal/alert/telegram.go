package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/template"
	"time"

	"guarddog/internal/model"

	"github.com/sirupsen/logrus"
)

const defaultTelegramAPI = "https://api.telegram.org"

type TelegramNotifier struct {
	botToken        string
	chatID          string
	parseMode       string
	enabled         bool
	apiURL          string
	retryDelay      time.Duration
	messageTemplate *template.Template
	client          *http.Client
	logger          *logrus.Logger
}

type TelegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type TelegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

func NewTelegramNotifier(botToken, chatID, parseMode string, enabled bool, logger *logrus.Logger) *TelegramNotifier {
	return NewTelegramNotifierWithTemplate(botToken, chatID, parseMode, enabled, "", logger)
}

// NewTelegramNotifierWithTemplate renders findings with a text/template
// executed against model.Finding. An invalid template falls back to the
// default format.
func NewTelegramNotifierWithTemplate(botToken, chatID, parseMode string, enabled bool, messageTemplate string, logger *logrus.Logger) *TelegramNotifier {
	tn := &TelegramNotifier{
		botToken:   botToken,
		chatID:     chatID,
		parseMode:  parseMode,
		enabled:    enabled,
		apiURL:     defaultTelegramAPI,
		retryDelay: time.Second,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}

	if strings.TrimSpace(messageTemplate) != "" {
		funcMap := template.FuncMap{
			"formatTime": func(t time.Time, layout string) string {
				return t.Format(layout)
			},
		}
		tmpl, err := template.New("telegram_message").Funcs(funcMap).Parse(messageTemplate)
		if err != nil {
			logger.Warnf("Failed to parse Telegram message template: %v, using default format", err)
		} else {
			tn.messageTemplate = tmpl
		}
	}

	return tn
}

// WithAPIURL points the notifier at another Bot API endpoint.
func (tn *TelegramNotifier) WithAPIURL(url string) *TelegramNotifier {
	tn.apiURL = strings.TrimRight(url, "/")
	return tn
}

func (tn *TelegramNotifier) SendFinding(finding model.Finding) error {
	if !tn.enabled {
		tn.logger.Debug("Telegram notifier is disabled, skipping finding")
		return nil
	}

	message := tn.formatFindingMessage(finding)

	maxRetries := 3
	for i := 0; i < maxRetries; i++ {
		err := tn.sendMessage(message)
		if err == nil {
			return nil
		}

		tn.logger.Warnf("Failed to send finding (attempt %d/%d): %v", i+1, maxRetries, err)

		if i < maxRetries-1 {
			time.Sleep(time.Duration(i+1) * tn.retryDelay)
		}
	}

	return fmt.Errorf("failed to send finding after %d attempts", maxRetries)
}

func (tn *TelegramNotifier) formatFindingMessage(finding model.Finding) string {
	if tn.messageTemplate != nil {
		var buf bytes.Buffer
		err := tn.messageTemplate.Execute(&buf, finding)
		if err != nil {
			tn.logger.Warnf("Failed to execute message template: %v, using default format", err)
		} else {
			return buf.String()
		}
	}

	return fmt.Sprintf("FINDING: %s\n\n"+
		"category: %s\n"+
		"time: %s\n"+
		"severity: %s\n"+
		"action: %s\n"+
		"source: %s\n"+
		"description: %s",
		finding.Subtype,
		finding.Category,
		finding.Timestamp.Format("2006-01-02 15:04:05"),
		finding.Severity,
		finding.Action,
		finding.Source,
		finding.Description)
}

func (tn *TelegramNotifier) sendMessage(text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", tn.apiURL, tn.botToken)

	// Markdown modes reject unescaped characters in descriptions
	parseMode := ""
	if tn.parseMode != "" && tn.parseMode != "Markdown" && tn.parseMode != "MarkdownV2" {
		parseMode = tn.parseMode
	}

	message := TelegramMessage{
		ChatID:    tn.chatID,
		Text:      text,
		ParseMode: parseMode,
	}

	jsonData, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %v", err)
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := tn.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %v", err)
	}
	defer resp.Body.Close()

	var telegramResp TelegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&telegramResp); err != nil {
		return fmt.Errorf("failed to decode response: %v", err)
	}

	if !telegramResp.OK {
		return fmt.Errorf("telegram API error: %s", telegramResp.Description)
	}

	tn.logger.Debugf("Finding sent to Telegram successfully")
	return nil
}
