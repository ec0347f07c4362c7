// Package domain defines per-gateway attempt accounting. Attempts are stored
// as individual events so the rolling health window is computed from data,
// not decayed counters.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// GatewayAttempt is one terminal payment attempt on one provider.
type GatewayAttempt struct {
	ID            snowflake.ID `json:"id" gorm:"primaryKey"`
	Provider      string       `json:"provider" gorm:"type:text;not null;index:ix_gateway_attempts_provider"`
	Outcome       Outcome      `json:"outcome" gorm:"type:text;not null"`
	TransactionID snowflake.ID `json:"transaction_id" gorm:"not null"`
	CreatedAt     time.Time    `json:"created_at" gorm:"not null;index:ix_gateway_attempts_created_at"`
}

func (GatewayAttempt) TableName() string { return "gateway_attempts" }

type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthDown     HealthStatus = "down"
)

// Snapshot is the per-provider view served by the stats API: lifetime
// counters plus the rolling-window health signal.
type Snapshot struct {
	Provider          string       `json:"provider"`
	TotalAttempts     int64        `json:"total_attempts"`
	Successes         int64        `json:"successes"`
	Failures          int64        `json:"failures"`
	SuccessRate       float64      `json:"success_rate"`
	WindowAttempts    int64        `json:"window_attempts"`
	WindowSuccesses   int64        `json:"window_successes"`
	WindowSuccessRate float64      `json:"window_success_rate"`
	LastSuccessAt     *time.Time   `json:"last_success_at,omitempty"`
	LastFailureAt     *time.Time   `json:"last_failure_at,omitempty"`
	Health            HealthStatus `json:"health"`
}
