// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package alerting

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/smtp"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/vigil/internal/config"
	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/metrics"
)

// channelTimeout bounds one delivery attempt.
const channelTimeout = 10 * time.Second

// newChannelBreaker returns the circuit breaker shared by HTTP channels.
// Five consecutive failures open the circuit for thirty seconds.
func newChannelBreaker(name string) *gobreaker.CircuitBreaker[*http.Response] {
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}

// LogChannel writes notifications to the structured log. Always available;
// the built-in rules use it so threats surface even with no channel config.
type LogChannel struct{}

// NewLogChannel creates the system log channel.
func NewLogChannel() *LogChannel { return &LogChannel{} }

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Send(_ context.Context, recipient, subject, message string, priority Priority, metadata map[string]string) bool {
	ev := logging.Warn().Str("channel", "log").Str("recipient", recipient).
		Str("priority", string(priority)).Str("subject", subject)
	for k, v := range metadata {
		ev = ev.Str(k, v)
	}
	ev.Msg(message)
	return true
}

// EmailChannel delivers notifications over SMTP.
type EmailChannel struct {
	cfg     config.EmailChannelConfig
	limiter *rate.Limiter

	// sendMail is swappable for tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailChannel creates the SMTP email channel.
func NewEmailChannel(cfg config.EmailChannelConfig) *EmailChannel {
	return &EmailChannel{
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Every(time.Second), 3),
		sendMail: smtp.SendMail,
	}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Send(ctx context.Context, recipient, subject, message string, priority Priority, _ map[string]string) bool {
	ctx, cancel := context.WithTimeout(ctx, channelTimeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return false
	}

	addr := fmt.Sprintf("%s:%d", c.cfg.SMTPServer, c.cfg.SMTPPort)
	var auth smtp.Auth
	if c.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", c.cfg.SMTPUsername, c.cfg.SMTPPassword, c.cfg.SMTPServer)
	}

	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: [%s] %s\r\n\r\n%s\r\n",
		c.cfg.FromAddress, recipient, priority, subject, message)

	if err := c.sendMail(addr, auth, c.cfg.FromAddress, []string{recipient}, []byte(body)); err != nil {
		metrics.AlertDeliveryFailures.WithLabelValues("email").Inc()
		logging.Warn().Err(err).Str("recipient", recipient).Msg("email delivery failed")
		return false
	}
	return true
}

// SlackChannel posts notifications to a Slack incoming webhook.
type SlackChannel struct {
	webhookURL string
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker[*http.Response]
	limiter    *rate.Limiter
}

// NewSlackChannel creates the Slack webhook channel.
func NewSlackChannel(cfg config.SlackChannelConfig) *SlackChannel {
	return &SlackChannel{
		webhookURL: cfg.WebhookURL,
		client:     &http.Client{Timeout: channelTimeout},
		breaker:    newChannelBreaker("slack"),
		limiter:    rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
	}
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) Send(ctx context.Context, recipient, subject, message string, priority Priority, _ map[string]string) bool {
	payload := map[string]string{
		"text": fmt.Sprintf("*[%s] %s*\n%s\n_for: %s_", priority, subject, message, recipient),
	}
	return postJSON(ctx, c.client, c.breaker, c.limiter, "slack", c.webhookURL, nil, payload)
}

// WebhookChannel posts the full notification as JSON to a generic endpoint.
type WebhookChannel struct {
	url     string
	headers map[string]string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	limiter *rate.Limiter
}

// NewWebhookChannel creates the generic webhook channel.
func NewWebhookChannel(cfg config.WebhookChannelConfig) *WebhookChannel {
	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	return &WebhookChannel{
		url:     cfg.URL,
		headers: headers,
		client:  &http.Client{Timeout: channelTimeout},
		breaker: newChannelBreaker("webhook"),
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
	}
}

func (c *WebhookChannel) Name() string { return "webhook" }

// webhookPayload is the JSON body posted to generic webhook endpoints.
type webhookPayload struct {
	Recipient string            `json:"recipient"`
	Subject   string            `json:"subject"`
	Message   string            `json:"message"`
	Priority  Priority          `json:"priority"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Source    string            `json:"source"`
}

func (c *WebhookChannel) Send(ctx context.Context, recipient, subject, message string, priority Priority, metadata map[string]string) bool {
	payload := webhookPayload{
		Recipient: recipient,
		Subject:   subject,
		Message:   message,
		Priority:  priority,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
		Source:    "vigil",
	}
	return postJSON(ctx, c.client, c.breaker, c.limiter, "webhook", c.url, c.headers, payload)
}

// postJSON delivers one JSON payload with rate limiting and circuit
// breaking. Returns false on any failure; never panics or errors out.
func postJSON(ctx context.Context, client *http.Client, breaker *gobreaker.CircuitBreaker[*http.Response],
	limiter *rate.Limiter, channel, url string, headers map[string]string, payload interface{}) bool {

	if url == "" {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, channelTimeout)
	defer cancel()

	if err := limiter.Wait(ctx); err != nil {
		return false
	}

	body, err := json.Marshal(payload)
	if err != nil {
		logging.Error().Err(err).Str("channel", channel).Msg("marshal webhook payload")
		return false
	}

	_, err = breaker.Execute(func() (*http.Response, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if reqErr != nil {
			return nil, reqErr
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, doErr := client.Do(req)
		if doErr != nil {
			return nil, doErr
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return resp, fmt.Errorf("%s returned status %d", channel, resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		metrics.AlertDeliveryFailures.WithLabelValues(channel).Inc()
		logging.Warn().Err(err).Str("channel", channel).Msg("webhook delivery failed")
		return false
	}
	return true
}
