package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"guarddog/internal/model"

	"github.com/sirupsen/logrus"
)

// WebhookNotifier posts every finding as JSON to an HTTP endpoint
type WebhookNotifier struct {
	url     string
	headers map[string]string
	client  *http.Client
	logger  *logrus.Logger
}

func NewWebhookNotifier(url string, headers map[string]string, timeout time.Duration, logger *logrus.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (wn *WebhookNotifier) SendFinding(finding model.Finding) error {
	body, err := json.Marshal(finding)
	if err != nil {
		return fmt.Errorf("failed to marshal finding: %v", err)
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, wn.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range wn.headers {
		req.Header.Set(k, v)
	}

	resp, err := wn.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	wn.logger.Debugf("Finding %s/%s posted to webhook", finding.Category, finding.Subtype)
	return nil
}
