// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package detection

// BuiltinSignatures returns the default threat signature set, loaded at
// startup. Signatures are static configuration; nothing mutates them at
// runtime.
func BuiltinSignatures() []*Signature {
	return []*Signature{
		{
			ID:                  "sig-sqli",
			Name:                "SQL injection attempt",
			Category:            "injection",
			Method:              MethodRuleBased,
			EventType:           EventTypeSQLInjection,
			ConfidenceThreshold: 0.3,
			SeverityWeight:      2.0,
			Patterns: []string{
				`union\s+select`,
				`or\s+1\s*=\s*1`,
				`;\s*drop\s+table`,
				`'\s*or\s*'`,
				`sleep\s*\(\s*\d+\s*\)`,
			},
		},
		{
			ID:                  "sig-xss",
			Name:                "Cross-site scripting attempt",
			Category:            "injection",
			Method:              MethodRuleBased,
			EventType:           EventTypeXSS,
			ConfidenceThreshold: 0.3,
			SeverityWeight:      1.8,
			Patterns: []string{
				`<script[\s>]`,
				`javascript:`,
				`onerror\s*=`,
				`onload\s*=`,
			},
		},
		{
			ID:                  "sig-traversal",
			Name:                "Path traversal attempt",
			Category:            "injection",
			Method:              MethodRuleBased,
			EventType:           EventTypePathTraversal,
			ConfidenceThreshold: 0.3,
			SeverityWeight:      1.8,
			Patterns: []string{
				`\.\./\.\./`,
				`/etc/passwd`,
				`%2e%2e%2f`,
			},
		},
		{
			ID:                  "sig-bruteforce",
			Name:                "Brute force attack",
			Category:            "authentication",
			Method:              MethodStatistical,
			EventType:           EventTypeBruteForce,
			ConfidenceThreshold: 0.5,
			SeverityWeight:      0.7,
			StatisticalRules: StatisticalRules{
				TimeWindowSeconds:        300,
				FailureThreshold:         10,
				MaxFailuresPerHour:       10,
				UniqueUsernamesThreshold: 1,
			},
		},
		{
			ID:                  "sig-privesc",
			Name:                "Privilege escalation",
			Category:            "authorization",
			Method:              MethodBehavioral,
			EventType:           EventTypePrivilegeEscalation,
			ConfidenceThreshold: 0.5,
			SeverityWeight:      1.8,
			BehavioralIndicators: []string{
				IndicatorVolumeAnomaly,
				IndicatorCrossTenantAccess,
				IndicatorAdminKeyword,
			},
		},
		{
			ID:                  "sig-exfil",
			Name:                "Data exfiltration",
			Category:            "data_loss",
			Method:              MethodHybrid,
			EventType:           EventTypeDataExfiltration,
			ConfidenceThreshold: 0.5,
			SeverityWeight:      0.8,
			StatisticalRules: StatisticalRules{
				ExportVolumeBytes:    500 << 20, // 500 MB in one window
				ExportCountThreshold: 50,
			},
		},
	}
}
