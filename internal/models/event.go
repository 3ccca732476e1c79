// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package models defines the canonical event types shared across the
// capture, detection, and alerting subsystems.
package models

import (
	"time"

	"github.com/goccy/go-json"
)

// SchemaVersion is the current canonical event schema version.
// Increment this when making breaking changes to AuditEvent.
const SchemaVersion = 1

// Source identifies which external feed produced an event.
type Source string

const (
	SourceAuditLog    Source = "audit_log"
	SourceSystemLog   Source = "system_log"
	SourceDatabaseLog Source = "database_log"
	SourceNetworkLog  Source = "network_log"
	SourceLiveMonitor Source = "live_monitor"
)

// Sources lists all known event sources.
var Sources = []Source{
	SourceAuditLog,
	SourceSystemLog,
	SourceDatabaseLog,
	SourceNetworkLog,
	SourceLiveMonitor,
}

// Status reports the outcome recorded on an audit event.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusDenied  Status = "denied"
)

// EventDetails is the typed payload attached to an AuditEvent. Known fields
// are first-class; anything source-specific the core does not inspect rides
// along in Extra.
type EventDetails struct {
	// Status is the recorded outcome of the action.
	Status Status `json:"status,omitempty"`

	// Reason carries a failure or denial reason, if any.
	Reason string `json:"reason,omitempty"`

	// TargetTenantID is set when the action touched a tenant other than
	// the actor's own (cross-tenant access indicator).
	TargetTenantID string `json:"target_tenant_id,omitempty"`

	// ExportBytes is the payload size for export/download actions.
	ExportBytes int64 `json:"export_bytes,omitempty"`

	// RecordCount is the number of records touched by the action.
	RecordCount int `json:"record_count,omitempty"`

	// UserAgent is the client user agent, when known.
	UserAgent string `json:"user_agent,omitempty"`

	// Extra holds source-specific fields the core carries but does not inspect.
	Extra json.RawMessage `json:"extra,omitempty"`
}

// AuditEvent is the canonical form of one audit/activity record.
// Events are normalized into this shape by the capture subsystem and are
// immutable once ingested; the core only reads them.
type AuditEvent struct {
	SchemaVersion int `json:"schema_version,omitempty"`

	// Identification
	ID       string `json:"id" validate:"required"`
	TenantID string `json:"tenant_id" validate:"required"`
	Source   Source `json:"source" validate:"required"`

	// Actor
	UserID    string `json:"user_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty" validate:"omitempty,ip"`

	// Action
	Action       string `json:"action" validate:"required"`
	ResourceType string `json:"resource_type" validate:"required"`
	ResourceID   string `json:"resource_id,omitempty"`

	Timestamp time.Time `json:"timestamp" validate:"required"`

	Details EventDetails `json:"details"`
}

// IsFailedLogin reports whether the event is a failed authentication attempt.
func (e *AuditEvent) IsFailedLogin() bool {
	return e.Action == "LOGIN" && e.Details.Status == StatusFailure
}

// IsExport reports whether the event is a data export action.
func (e *AuditEvent) IsExport() bool {
	switch e.Action {
	case "EXPORT", "DOWNLOAD", "BULK_READ":
		return true
	}
	return false
}

// IsCrossTenant reports whether the event touched a tenant other than the
// actor's own.
func (e *AuditEvent) IsCrossTenant() bool {
	return e.Details.TargetTenantID != "" && e.Details.TargetTenantID != e.TenantID
}

// sensitiveResourceTypes are resource types whose mutation feeds the
// behavioral privilege-escalation detector.
var sensitiveResourceTypes = map[string]struct{}{
	"role":        {},
	"permission":  {},
	"user":        {},
	"api_key":     {},
	"credential":  {},
	"tenant":      {},
	"audit_event": {},
}

// mutatingActions are the actions counted as mutations of a resource.
var mutatingActions = map[string]struct{}{
	"CREATE": {},
	"UPDATE": {},
	"DELETE": {},
	"GRANT":  {},
	"REVOKE": {},
	"ASSIGN": {},
}

// IsSensitiveMutation reports whether the event mutates a sensitive resource.
func (e *AuditEvent) IsSensitiveMutation() bool {
	if _, ok := sensitiveResourceTypes[e.ResourceType]; !ok {
		return false
	}
	_, ok := mutatingActions[e.Action]
	return ok
}

// Serialized returns the event rendered as JSON for pattern matching and
// audit trails. Errors are impossible for this type and are swallowed.
func (e *AuditEvent) Serialized() string {
	b, err := json.Marshal(e)
	if err != nil {
		return ""
	}
	return string(b)
}
