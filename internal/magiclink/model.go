package magiclink

// KindAccess is the only token kind issued today. The column leaves room
// for additional kinds without a schema change.
const KindAccess = "access"

// MagicToken stores a single pending passwordless authentication attempt.
// Telegram user ids are stored as strings because they can exceed the safe
// integer range of downstream JSON consumers.
type MagicToken struct {
	RecordID         int64  `gorm:"column:record_id;primaryKey;autoIncrement"`
	Token            string `gorm:"column:token;size:64;not null;uniqueIndex:idx_magic_link_token"`
	Kind             string `gorm:"column:kind;size:32;not null"`
	TelegramID       string `gorm:"column:telegram_id;size:64;not null;index:idx_magic_link_telegram"`
	TelegramName     string `gorm:"column:telegram_name;size:320"`
	ExpiresAtSeconds int64  `gorm:"column:expires_at_s;not null"`
	Used             bool   `gorm:"column:used;not null;default:false"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (MagicToken) TableName() string {
	return "magic_link_tokens"
}
