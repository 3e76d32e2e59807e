package users

import (
	"strings"
	"time"
)

// RoleMember is the role granted to self-registered accounts.
const RoleMember = "member"

// Record captures the application-side role and approval state for an
// account held at the account provider. New signups start unapproved;
// downstream access control gates full access on the approved flag.
type Record struct {
	AccountID     string    `gorm:"column:account_id;primaryKey;size:190;not null"`
	Email         string    `gorm:"column:email;size:320;not null"`
	Role          string    `gorm:"column:role;size:32;not null"`
	Approved      bool      `gorm:"column:approved;not null;default:false"`
	Blocked       bool      `gorm:"column:blocked;not null;default:false"`
	CorrelationID string    `gorm:"column:correlation_id;size:64"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user records.
func (Record) TableName() string {
	return "users"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
