// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package alerting

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/vigil/internal/config"
)

func TestLogChannelAlwaysSucceeds(t *testing.T) {
	ch := NewLogChannel()
	if ch.Name() != "log" {
		t.Errorf("name = %s, want log", ch.Name())
	}
	ok := ch.Send(context.Background(), "operators", "subject", "message", PriorityHigh,
		map[string]string{"event_id": "se-1"})
	if !ok {
		t.Error("log channel must never fail")
	}
}

func TestWebhookChannelPostsPayload(t *testing.T) {
	var got webhookPayload
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(config.WebhookChannelConfig{
		Enabled: true,
		URL:     srv.URL,
		Headers: map[string]string{"Authorization": "Bearer token"},
	})

	ok := ch.Send(context.Background(), "operators", "HIGH threat detected: BRUTE_FORCE_ATTACK",
		"12 failed logins", PriorityHigh, map[string]string{"tenant_id": "tenant-a"})
	if !ok {
		t.Fatal("delivery to healthy endpoint failed")
	}

	if got.Source != "vigil" {
		t.Errorf("payload source = %s, want vigil", got.Source)
	}
	if got.Priority != PriorityHigh {
		t.Errorf("payload priority = %s", got.Priority)
	}
	if got.Metadata["tenant_id"] != "tenant-a" {
		t.Errorf("payload metadata = %v", got.Metadata)
	}
	if auth.Load() != "Bearer token" {
		t.Errorf("authorization header = %v", auth.Load())
	}
}

func TestWebhookChannelFailsOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(config.WebhookChannelConfig{Enabled: true, URL: srv.URL})
	if ch.Send(context.Background(), "operators", "s", "m", PriorityLow, nil) {
		t.Error("5xx response reported as success")
	}
}

func TestWebhookChannelEmptyURL(t *testing.T) {
	ch := NewWebhookChannel(config.WebhookChannelConfig{})
	if ch.Send(context.Background(), "operators", "s", "m", PriorityLow, nil) {
		t.Error("empty URL reported as success")
	}
}

func TestSlackChannelPostsText(t *testing.T) {
	var text atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		text.Store(payload["text"])
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewSlackChannel(config.SlackChannelConfig{Enabled: true, WebhookURL: srv.URL})
	ok := ch.Send(context.Background(), "#security", "CRITICAL threat detected: DATA_EXFILTRATION",
		"user exported 2000 MB", PriorityCritical, nil)
	if !ok {
		t.Fatal("delivery to healthy endpoint failed")
	}

	got, _ := text.Load().(string)
	if !strings.Contains(got, "DATA_EXFILTRATION") {
		t.Errorf("slack text = %q, missing event type", got)
	}
	if !strings.Contains(got, "#security") {
		t.Errorf("slack text = %q, missing recipient", got)
	}
}

func TestEmailChannelSendsMail(t *testing.T) {
	var sentTo []string
	var sentBody string
	ch := NewEmailChannel(config.EmailChannelConfig{
		Enabled:     true,
		SMTPServer:  "smtp.example.com",
		SMTPPort:    587,
		FromAddress: "vigil@example.com",
	})
	ch.sendMail = func(_ string, _ smtp.Auth, _ string, to []string, msg []byte) error {
		sentTo = to
		sentBody = string(msg)
		return nil
	}

	ok := ch.Send(context.Background(), "secops@example.com", "HIGH threat detected: BRUTE_FORCE_ATTACK",
		"12 failed logins", PriorityHigh, nil)
	if !ok {
		t.Fatal("email delivery failed")
	}
	if len(sentTo) != 1 || sentTo[0] != "secops@example.com" {
		t.Errorf("sent to %v", sentTo)
	}
	if !strings.Contains(sentBody, "Subject: [high]") {
		t.Errorf("body = %q, missing priority-tagged subject", sentBody)
	}
}

func TestEmailChannelReportsFailure(t *testing.T) {
	ch := NewEmailChannel(config.EmailChannelConfig{Enabled: true, SMTPServer: "smtp.example.com", SMTPPort: 587})
	ch.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}
	if ch.Send(context.Background(), "secops@example.com", "s", "m", PriorityLow, nil) {
		t.Error("SMTP error reported as success")
	}
}
