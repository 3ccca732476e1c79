// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package capture

import (
	"fmt"
	"time"

	"github.com/tomtom215/vigil/internal/models"
	"github.com/tomtom215/vigil/internal/validation"
)

const (
	// maxTimestampAge rejects events older than the retention horizon.
	maxTimestampAge = 30 * 24 * time.Hour

	// maxTimestampSkew tolerates clock drift on future timestamps.
	maxTimestampSkew = 5 * time.Minute
)

// EventValidator checks one aspect of a canonical event. A nil return means
// the check passed.
type EventValidator func(ev *models.AuditEvent) error

// defaultValidators is the ordered validator chain every event must pass.
func defaultValidators() []EventValidator {
	return []EventValidator{
		validateRequiredFields,
		validateTimestamp,
		validateFieldTypes,
	}
}

// validateRequiredFields checks structural requirements via the shared
// validator tags on AuditEvent.
func validateRequiredFields(ev *models.AuditEvent) error {
	if err := validation.ValidateStruct(ev); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// validateTimestamp bounds the event timestamp to [now-30d, now+5m].
func validateTimestamp(ev *models.AuditEvent) error {
	now := time.Now()
	if ev.Timestamp.IsZero() {
		return fmt.Errorf("validation failed: timestamp is missing")
	}
	if ev.Timestamp.Before(now.Add(-maxTimestampAge)) {
		return fmt.Errorf("validation failed: timestamp %s older than %s",
			ev.Timestamp.Format(time.RFC3339), maxTimestampAge)
	}
	if ev.Timestamp.After(now.Add(maxTimestampSkew)) {
		return fmt.Errorf("validation failed: timestamp %s too far in the future",
			ev.Timestamp.Format(time.RFC3339))
	}
	return nil
}

// validateFieldTypes rejects values a well-formed source can never emit.
func validateFieldTypes(ev *models.AuditEvent) error {
	switch ev.Source {
	case models.SourceAuditLog, models.SourceSystemLog, models.SourceDatabaseLog,
		models.SourceNetworkLog, models.SourceLiveMonitor:
	default:
		return fmt.Errorf("validation failed: unknown source %q", ev.Source)
	}

	switch ev.Details.Status {
	case "", models.StatusSuccess, models.StatusFailure, models.StatusDenied:
	default:
		return fmt.Errorf("validation failed: unknown status %q", ev.Details.Status)
	}

	if ev.Details.ExportBytes < 0 {
		return fmt.Errorf("validation failed: negative export_bytes %d", ev.Details.ExportBytes)
	}
	if ev.Details.RecordCount < 0 {
		return fmt.Errorf("validation failed: negative record_count %d", ev.Details.RecordCount)
	}
	return nil
}
