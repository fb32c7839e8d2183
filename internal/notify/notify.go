// Package notify доставляет предупреждения и итоговые отчеты сессий
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"vibration-monitor/internal/models"
	"vibration-monitor/internal/report"
)

// LogNotifier пишет предупреждения и итоги в журнал
type LogNotifier struct {
	log *logrus.Entry
}

// NewLogNotifier создает уведомитель поверх журнала
func NewLogNotifier(log *logrus.Entry) *LogNotifier {
	return &LogNotifier{log: log.WithField("component", "notify")}
}

// Name реализует контракт потребителя событий
func (n *LogNotifier) Name() string { return "log" }

// Consume реализует контракт потребителя событий
func (n *LogNotifier) Consume(_ context.Context, e models.Event) error {
	switch {
	case e.Kind == models.EventAlert && e.Alert != nil:
		n.log.WithFields(logrus.Fields{
			"session": e.SessionID,
			"ema":     e.Alert.EMAScore,
			"elapsed": e.Alert.ElapsedSeconds,
		}).Warn("WARNING: drivetrain damage score is high, check the chain and transmission")
	case e.Kind == models.EventSummary && e.Summary != nil:
		n.log.WithField("session", e.SessionID).Info("\n" + report.Text(*e.Summary))
	}
	return nil
}

// Message тело запроса вебхука
type Message struct {
	Kind      models.EventKind `json:"kind"`
	SessionID string           `json:"session_id"`
	Text      string           `json:"text"`
	Alert     *models.Alert    `json:"alert,omitempty"`
	Summary   *models.Summary  `json:"summary,omitempty"`
}

// WebhookNotifier отправляет предупреждения и итоги POST-запросом в JSON
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier создает уведомитель с таймаутом запроса timeout
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Name реализует контракт потребителя событий
func (n *WebhookNotifier) Name() string { return "webhook" }

// Consume реализует контракт потребителя событий
func (n *WebhookNotifier) Consume(ctx context.Context, e models.Event) error {
	var msg Message
	switch {
	case e.Kind == models.EventAlert && e.Alert != nil:
		msg = Message{
			Kind:      e.Kind,
			SessionID: e.SessionID,
			Alert:     e.Alert,
			Text: fmt.Sprintf("WARNING: smoothed damage score %.0f%% after %.0f s. Check the chain and transmission.",
				e.Alert.EMAScore*100, e.Alert.ElapsedSeconds),
		}
	case e.Kind == models.EventSummary && e.Summary != nil:
		msg = Message{Kind: e.Kind, SessionID: e.SessionID, Summary: e.Summary, Text: report.Text(*e.Summary)}
	default:
		return nil
	}
	return n.post(ctx, msg)
}

func (n *WebhookNotifier) post(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal webhook message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
