package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrRecordNotFound indicates no record exists for the account.
	ErrRecordNotFound = errors.New("users: record not found")

	errMissingDatabase  = errors.New("users: database connection required")
	errMissingAccountID = errors.New("users: account id required")
	errMissingEmail     = errors.New("users: email required")
)

// ServiceConfig describes the dependencies required for user record management.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service manages role and approval records keyed by provider account id.
type Service struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewService constructs the user record service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, clock: clock}, nil
}

// Create writes a fresh, unapproved record for a newly provisioned account.
func (s *Service) Create(ctx context.Context, accountID, email, correlationID string) (Record, error) {
	if normalize(accountID) == "" {
		return Record{}, errMissingAccountID
	}
	if normalize(email) == "" {
		return Record{}, errMissingEmail
	}

	record := Record{
		AccountID:     normalize(accountID),
		Email:         normalize(email),
		Role:          RoleMember,
		Approved:      false,
		Blocked:       false,
		CorrelationID: normalize(correlationID),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return Record{}, fmt.Errorf("users: create record: %w", err)
	}
	return record, nil
}

// Get fetches the record for an account id.
func (s *Service) Get(ctx context.Context, accountID string) (Record, error) {
	if normalize(accountID) == "" {
		return Record{}, errMissingAccountID
	}
	var record Record
	err := s.db.WithContext(ctx).Where("account_id = ?", accountID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("users: get record: %w", err)
	}
	return record, nil
}
