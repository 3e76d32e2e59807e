package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jiwar-association/backend/internal/magiclink"
	"github.com/jiwar-association/backend/internal/members"
	"github.com/jiwar-association/backend/internal/provider"
	"go.uber.org/zap"
)

// LinkKind distinguishes the two outbound deep-link shapes.
type LinkKind string

const (
	// LinkKindLogin carries a provider-issued one-time secret.
	LinkKindLogin LinkKind = "login"
	// LinkKindSignup carries a magic token for passwordless signup.
	LinkKindSignup LinkKind = "signup"
)

var (
	errMissingProfiles  = errors.New("bridge: profiles service required")
	errMissingTokens    = errors.New("bridge: token store required")
	errMissingProvider  = errors.New("bridge: account provider required")
	errMissingAppOrigin = errors.New("bridge: app origin required")
)

// GrantMinter requests one-time login secrets from the account provider.
type GrantMinter interface {
	MintGrant(ctx context.Context, accountID string) (provider.Grant, error)
}

// AccessLink is the resolved outcome for one inbound access request: a deep
// link the chat user opens in a browser to complete authentication.
type AccessLink struct {
	Kind      LinkKind
	URL       string
	AccountID string
	Token     string
}

// ServiceConfig describes the collaborators of the access pipeline.
type ServiceConfig struct {
	Profiles  *members.Service
	Tokens    *magiclink.Store
	Provider  GrantMinter
	AppOrigin string
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Service runs the resolve, mint-or-issue pipeline. Each call is stateless
// and idempotent from the caller's perspective: repeated requests for the
// same identity simply produce fresh, independently valid links.
type Service struct {
	profiles  *members.Service
	tokens    *magiclink.Store
	provider  GrantMinter
	appOrigin string
	clock     func() time.Time
	logger    *zap.Logger
}

// NewService constructs the access pipeline service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Profiles == nil {
		return nil, errMissingProfiles
	}
	if cfg.Tokens == nil {
		return nil, errMissingTokens
	}
	if cfg.Provider == nil {
		return nil, errMissingProvider
	}
	appOrigin := strings.TrimRight(strings.TrimSpace(cfg.AppOrigin), "/")
	if appOrigin == "" {
		return nil, errMissingAppOrigin
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		profiles:  cfg.Profiles,
		tokens:    cfg.Tokens,
		provider:  cfg.Provider,
		appOrigin: appOrigin,
		clock:     clock,
		logger:    logger,
	}, nil
}

// HandleAccessRequest resolves a Telegram identity to either a login link,
// when a profile with a live account exists, or a signup link. A profile
// whose account no longer resolves at the provider is deleted before
// falling through to signup; cleanup failures are logged and the flow still
// proceeds, so the user is never blocked by a stale row.
func (s *Service) HandleAccessRequest(ctx context.Context, telegramID, displayName string) (AccessLink, error) {
	profile, err := s.profiles.ResolveByTelegramID(ctx, telegramID)
	if err == nil {
		link, minted, err := s.mintLoginLink(ctx, profile)
		if err != nil {
			return AccessLink{}, err
		}
		if minted {
			return link, nil
		}
		// Orphan path: fall through to signup with the stale row gone.
	} else if !errors.Is(err, members.ErrProfileNotFound) {
		return AccessLink{}, err
	}

	return s.issueSignupLink(ctx, telegramID, displayName)
}

func (s *Service) mintLoginLink(ctx context.Context, profile members.Profile) (AccessLink, bool, error) {
	grant, err := s.provider.MintGrant(ctx, profile.AccountID)
	if err != nil {
		if errors.Is(err, provider.ErrAccountNotFound) {
			s.reconcileOrphan(ctx, profile)
			return AccessLink{}, false, nil
		}
		return AccessLink{}, false, fmt.Errorf("bridge: mint grant: %w", err)
	}

	loginURL := fmt.Sprintf("%s/#/telegram-login?userId=%s&secret=%s",
		s.appOrigin, url.QueryEscape(profile.AccountID), url.QueryEscape(grant.Secret))
	s.logger.Info("login link minted",
		zap.String("telegram_id", profile.TelegramID),
		zap.String("account_id", profile.AccountID))
	return AccessLink{
		Kind:      LinkKindLogin,
		URL:       loginURL,
		AccountID: profile.AccountID,
	}, true, nil
}

func (s *Service) reconcileOrphan(ctx context.Context, profile members.Profile) {
	s.logger.Warn("orphan profile detected, deleting",
		zap.String("telegram_id", profile.TelegramID),
		zap.String("account_id", profile.AccountID),
		zap.String("profile_id", profile.ProfileID))
	if err := s.profiles.Delete(ctx, profile.ProfileID); err != nil {
		// Best effort: the same orphan path repeats on the next attempt.
		s.logger.Warn("orphan cleanup failed", zap.Error(err))
	}
}

func (s *Service) issueSignupLink(ctx context.Context, telegramID, displayName string) (AccessLink, error) {
	token, err := s.tokens.Issue(ctx, telegramID, displayName)
	if err != nil {
		return AccessLink{}, fmt.Errorf("bridge: issue signup token: %w", err)
	}

	signupURL := fmt.Sprintf("%s/#/telegram-signup?token=%s", s.appOrigin, url.QueryEscape(token.Token))
	return AccessLink{
		Kind:  LinkKindSignup,
		URL:   signupURL,
		Token: token.Token,
	}, nil
}
