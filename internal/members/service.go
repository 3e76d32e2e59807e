package members

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrProfileNotFound indicates no profile links the requested identity.
	ErrProfileNotFound = errors.New("members: profile not found")
	// ErrProfileExists indicates another profile already links the Telegram
	// identity; the unique index rejected a concurrent duplicate.
	ErrProfileExists = errors.New("members: profile already exists for telegram id")

	errMissingDatabase   = errors.New("members: database connection required")
	errMissingTelegramID = errors.New("members: telegram id required")
	errMissingAccountID  = errors.New("members: account id required")
)

// ServiceConfig describes the dependencies required for profile management.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service manages membership profile rows.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the profile service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, clock: clock, idProvider: idProvider, logger: logger}, nil
}

// ResolveByTelegramID looks up the profile linked to a Telegram identity.
// It does not check whether the linked account still exists; that check
// belongs to the caller because it is the expensive, failure-prone step.
func (s *Service) ResolveByTelegramID(ctx context.Context, telegramID string) (Profile, error) {
	if normalize(telegramID) == "" {
		return Profile{}, errMissingTelegramID
	}
	var profile Profile
	err := s.db.WithContext(ctx).Where("telegram_id = ?", telegramID).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("members: resolve profile: %w", err)
	}
	return profile, nil
}

// CreateInput carries the fields collected during signup.
type CreateInput struct {
	AccountID     string
	TelegramID    string
	Name          string
	Grade         string
	Matricule     *int64
	CorrelationID string
}

// Create persists a new membership profile with the default member role.
func (s *Service) Create(ctx context.Context, input CreateInput) (Profile, error) {
	if normalize(input.AccountID) == "" {
		return Profile{}, errMissingAccountID
	}
	if normalize(input.TelegramID) == "" {
		return Profile{}, errMissingTelegramID
	}

	profileID, err := s.idProvider.NewID()
	if err != nil {
		return Profile{}, fmt.Errorf("members: new profile id: %w", err)
	}

	profile := Profile{
		ProfileID:     profileID,
		AccountID:     normalize(input.AccountID),
		TelegramID:    normalize(input.TelegramID),
		Name:          normalize(input.Name),
		Role:          RoleMember,
		Grade:         normalize(input.Grade),
		Matricule:     input.Matricule,
		CorrelationID: normalize(input.CorrelationID),
		JoinedAt:      s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&profile).Error; err != nil {
		if isUniqueViolation(err) {
			return Profile{}, ErrProfileExists
		}
		return Profile{}, fmt.Errorf("members: create profile: %w", err)
	}

	s.logger.Info("membership profile created",
		zap.String("profile_id", profile.ProfileID),
		zap.String("telegram_id", profile.TelegramID))
	return profile, nil
}

// Delete removes a profile row. Deleting an already-removed profile is not
// an error so orphan cleanup stays idempotent across repeated attempts.
func (s *Service) Delete(ctx context.Context, profileID string) error {
	if normalize(profileID) == "" {
		return ErrProfileNotFound
	}
	result := s.db.WithContext(ctx).Where("profile_id = ?", profileID).Delete(&Profile{})
	if result.Error != nil {
		return fmt.Errorf("members: delete profile: %w", result.Error)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
