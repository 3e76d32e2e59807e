package magiclink

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// TokenTTL is the fixed validity window for issued tokens.
	TokenTTL = 15 * time.Minute

	tokenEntropyBytes = 32
)

var (
	// ErrTokenNotFound indicates no token row matched, either because it never
	// existed or because it was already consumed.
	ErrTokenNotFound = errors.New("magiclink: token not found")
	// ErrTokenExpired indicates the token exists but its validity window passed.
	ErrTokenExpired = errors.New("magiclink: token expired")

	errMissingDatabase   = errors.New("magiclink: database handle is required")
	errMissingTelegramID = errors.New("magiclink: telegram id is required")
)

// StoreConfig describes the dependencies required by the token store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Store persists magic-link tokens. Every token is single-use: consumption is
// a conditional delete so a replayed claim observes the same not-found state
// as a token that never existed.
type Store struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewStore constructs the token store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Issue creates a fresh token for the given Telegram identity. Concurrent
// issuance for the same identity produces independent sibling tokens; each
// one authenticates signup on its own and expires on its own.
func (s *Store) Issue(ctx context.Context, telegramID, telegramName string) (MagicToken, error) {
	if strings.TrimSpace(telegramID) == "" {
		return MagicToken{}, errMissingTelegramID
	}

	value, err := generateToken()
	if err != nil {
		return MagicToken{}, fmt.Errorf("magiclink: generate token: %w", err)
	}

	now := s.clock().UTC()
	record := MagicToken{
		Token:            value,
		Kind:             KindAccess,
		TelegramID:       telegramID,
		TelegramName:     strings.TrimSpace(telegramName),
		ExpiresAtSeconds: now.Add(TokenTTL).Unix(),
		Used:             false,
		CreatedAtSeconds: now.Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return MagicToken{}, fmt.Errorf("magiclink: create token: %w", err)
	}

	s.logger.Info("magic link token issued",
		zap.String("telegram_id", telegramID),
		zap.Int64("expires_at_s", record.ExpiresAtSeconds))
	return record, nil
}

// Verify fetches a token and checks its validity window without consuming it.
func (s *Store) Verify(ctx context.Context, token string) (MagicToken, error) {
	record, err := s.find(ctx, token)
	if err != nil {
		return MagicToken{}, err
	}
	if s.clock().UTC().Unix() > record.ExpiresAtSeconds {
		return MagicToken{}, ErrTokenExpired
	}
	return record, nil
}

// Consume validates and atomically invalidates a token. The delete is
// conditional on the token column, so of two concurrent claims exactly one
// observes a deleted row and the other gets ErrTokenNotFound. An expired
// token is rejected without any write.
func (s *Store) Consume(ctx context.Context, token string) (MagicToken, error) {
	record, err := s.find(ctx, token)
	if err != nil {
		return MagicToken{}, err
	}
	if s.clock().UTC().Unix() > record.ExpiresAtSeconds {
		return MagicToken{}, ErrTokenExpired
	}

	result := s.db.WithContext(ctx).
		Where("token = ? AND used = ?", record.Token, false).
		Delete(&MagicToken{})
	if result.Error != nil {
		return MagicToken{}, fmt.Errorf("magiclink: consume token: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return MagicToken{}, ErrTokenNotFound
	}
	return record, nil
}

// DeleteExpired removes tokens whose validity window has passed. Expired
// tokens are already rejected at claim time; this only bounds storage growth.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at_s < ?", s.clock().UTC().Unix()).
		Delete(&MagicToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("magiclink: delete expired tokens: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *Store) find(ctx context.Context, token string) (MagicToken, error) {
	if strings.TrimSpace(token) == "" {
		return MagicToken{}, ErrTokenNotFound
	}
	var record MagicToken
	err := s.db.WithContext(ctx).Where("token = ?", token).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return MagicToken{}, ErrTokenNotFound
	}
	if err != nil {
		return MagicToken{}, fmt.Errorf("magiclink: find token: %w", err)
	}
	return record, nil
}

func generateToken() (string, error) {
	buf := make([]byte, tokenEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
