package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Reason classifies why a ledger event moved tickets.
type Reason string

const (
	ReasonSignupBonus Reason = "signup_bonus"
	ReasonDailyBonus  Reason = "daily_bonus"
	ReasonGenerate    Reason = "generate"
	ReasonRefund      Reason = "refund"
	ReasonPurchase    Reason = "purchase"
)

func (r Reason) Valid() bool {
	switch r {
	case ReasonSignupBonus, ReasonDailyBonus, ReasonGenerate, ReasonRefund, ReasonPurchase:
		return true
	default:
		return false
	}
}

// Account holds one user's ticket balance. Accounts are created lazily on
// first ledger touch and never hard-deleted.
type Account struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	ExternalID       string       `gorm:"type:text;not null;uniqueIndex:ux_accounts_external_id" json:"external_id"`
	Email            string       `gorm:"type:text" json:"email,omitempty"`
	Balance          int64        `gorm:"not null;default:0" json:"balance"`
	CustomerRef      string       `gorm:"type:text" json:"customer_ref,omitempty"`
	LastDailyClaimAt *time.Time   `json:"last_daily_claim_at,omitempty"`
	CreatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "accounts" }

// Event is the immutable record of a single balance delta. The token column
// is the ledger-wide idempotency key: one token, at most one event, ever.
type Event struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	Token     string            `gorm:"type:text;not null;uniqueIndex:ux_ledger_events_token" json:"token"`
	AccountID snowflake.ID      `gorm:"not null;index" json:"account_id"`
	Delta     int64             `gorm:"not null" json:"delta"`
	Reason    Reason            `gorm:"type:text;not null" json:"reason"`
	Metadata  datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Event) TableName() string { return "ledger_events" }
