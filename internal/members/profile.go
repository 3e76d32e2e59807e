package members

import (
	"strings"
	"time"
)

// RoleMember is the role assigned to self-registered profiles.
const RoleMember = "member"

// Profile is the durable link between a Telegram identity and an account
// at the account provider. The unique index on telegram_id keeps a race
// between two concurrent signups from producing two profiles for one chat
// identity.
type Profile struct {
	ProfileID     string    `gorm:"column:profile_id;primaryKey;size:190;not null"`
	AccountID     string    `gorm:"column:account_id;size:190;not null;index"`
	TelegramID    string    `gorm:"column:telegram_id;size:64;not null;uniqueIndex:idx_member_telegram_id"`
	Name          string    `gorm:"column:name;size:320;not null"`
	Role          string    `gorm:"column:role;size:32;not null"`
	Grade         string    `gorm:"column:grade;size:64"`
	Matricule     *int64    `gorm:"column:matricule"`
	CorrelationID string    `gorm:"column:correlation_id;size:64"`
	JoinedAt      time.Time `gorm:"column:joined_at;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing membership profiles.
func (Profile) TableName() string {
	return "members"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
