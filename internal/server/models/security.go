package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// RiskLevel is the ordinal classification produced by the security scanner.
type RiskLevel string

const (
	RiskUnknown  RiskLevel = "unknown"
	RiskSafe     RiskLevel = "safe"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank orders levels: safe < medium < high < critical. Unknown ranks with safe.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	default:
		return 0
	}
}

// MaxRisk returns the higher of a and b.
func MaxRisk(a, b RiskLevel) RiskLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// SecurityReport is the scanner verdict for one chunk.
type SecurityReport struct {
	RiskLevel            RiskLevel `json:"risk_level"`
	Safe                 bool      `json:"safe"`
	Blocked              bool      `json:"blocked"`
	RequiresVerification bool      `json:"requires_verification"`
	Warnings             []string  `json:"warnings"`
	Threats              []string  `json:"threats"`
}

// NeedsAttention reports whether the verdict should be surfaced to the client.
func (r *SecurityReport) NeedsAttention() bool {
	return r != nil && (!r.Safe || r.RiskLevel == RiskUnknown || len(r.Warnings) > 0)
}

func (r SecurityReport) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *SecurityReport) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, r)
	case string:
		return json.Unmarshal([]byte(v), r)
	default:
		return errors.New("security report: unsupported scan source")
	}
}
