package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jiwar-association/backend/internal/auth"
	"github.com/jiwar-association/backend/internal/magiclink"
	"github.com/jiwar-association/backend/internal/members"
	"github.com/jiwar-association/backend/internal/provider"
	"github.com/jiwar-association/backend/internal/users"
	"go.uber.org/zap"
)

const (
	claimBranchLogin  = "login"
	claimBranchSignup = "signup"

	landingPath = "/#/activities"

	// Synthesized addresses keep provider accounts clear of real mailboxes.
	emailDomain = "jiwar.local"

	passwordEntropyBytes = 32
)

type loginClaimPayload struct {
	AccountID string `json:"user_id"`
	Secret    string `json:"secret"`
}

type signupClaimPayload struct {
	Token     string `json:"token"`
	Name      string `json:"name"`
	Grade     string `json:"grade"`
	Matricule *int64 `json:"matricule"`
}

type claimResponsePayload struct {
	AccountID  string `json:"account_id"`
	Approved   bool   `json:"approved"`
	RedirectTo string `json:"redirect_to"`
}

// handleLoginClaim exchanges a provider-issued one-time secret for an
// application session. The claim is idempotent per account: an existing
// session for the same account short-circuits to success, a session for a
// different account is discarded first.
func (h *httpHandler) handleLoginClaim(c *gin.Context) {
	var request loginClaimPayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		strings.TrimSpace(request.AccountID) == "" || strings.TrimSpace(request.Secret) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if current, ok := h.currentSession(c); ok {
		if current == request.AccountID {
			h.metrics.RecordClaim(claimBranchLogin, "already_satisfied")
			c.JSON(http.StatusOK, claimResponsePayload{
				AccountID:  current,
				Approved:   h.approved(c, current),
				RedirectTo: landingPath,
			})
			return
		}
		// A device must not silently retain an unrelated session.
		h.clearSessionCookie(c)
	}

	_, err := h.provider.CreateSession(c.Request.Context(), request.AccountID, request.Secret)
	if err != nil && !errors.Is(err, provider.ErrSessionActive) {
		switch {
		case errors.Is(err, provider.ErrGrantInvalid):
			h.metrics.RecordClaim(claimBranchLogin, "grant_invalid")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "grant_invalid"})
		case errors.Is(err, provider.ErrAccountNotFound):
			h.metrics.RecordClaim(claimBranchLogin, "account_not_found")
			c.JSON(http.StatusNotFound, gin.H{"error": "account_not_found"})
		default:
			h.logger.Error("login exchange failed", zap.Error(err))
			h.metrics.RecordClaim(claimBranchLogin, "provider_error")
			c.JSON(http.StatusBadGateway, gin.H{"error": "provider_unavailable"})
		}
		return
	}

	if err := h.setSessionCookie(c, request.AccountID); err != nil {
		h.logger.Error("session issuance failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_issue_failed"})
		return
	}

	h.metrics.RecordClaim(claimBranchLogin, "success")
	c.JSON(http.StatusOK, claimResponsePayload{
		AccountID:  request.AccountID,
		Approved:   h.approved(c, request.AccountID),
		RedirectTo: landingPath,
	})
}

// handleSignupPrefill validates a magic token without consuming it and
// returns the display-name snapshot used to pre-fill the signup form.
func (h *httpHandler) handleSignupPrefill(c *gin.Context) {
	record, ok := h.verifyToken(c, c.Query("token"))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"telegram_id": record.TelegramID,
		"name":        record.TelegramName,
	})
}

// handleSignupClaim runs the signup branch: validate the token, provision
// the account identity, role record and membership profile (tagged with one
// correlation id), consume the token, establish the session.
func (h *httpHandler) handleSignupClaim(c *gin.Context) {
	var request signupClaimPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Token) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	record, ok := h.verifyToken(c, request.Token)
	if !ok {
		return
	}

	name := strings.TrimSpace(request.Name)
	if name == "" {
		name = record.TelegramName
	}

	accountID, err := uuid.NewV7()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signup_failed"})
		return
	}
	correlationID := uuid.NewString()
	email := fmt.Sprintf("telegram_%s@%s", record.TelegramID, emailDomain)
	password, err := generatePassword()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signup_failed"})
		return
	}

	account, err := h.provider.CreateAccount(c.Request.Context(), accountID.String(), email, password, name)
	if err != nil {
		if errors.Is(err, provider.ErrAccountConflict) {
			// Recovery needs administrative privileges; tell the user so
			// instead of a generic failure.
			h.metrics.RecordClaim(claimBranchSignup, "account_conflict")
			c.JSON(http.StatusConflict, gin.H{"error": "account_conflict"})
			return
		}
		h.logger.Error("account provisioning failed", zap.Error(err))
		h.metrics.RecordClaim(claimBranchSignup, "provider_error")
		c.JSON(http.StatusBadGateway, gin.H{"error": "provider_unavailable"})
		return
	}
	if account.ID == "" {
		account.ID = accountID.String()
	}

	// From here on the account exists at the provider. A failure below
	// leaves it without a profile; it stays inert until an administrator
	// intervenes, and the correlation id ties the partial rows together.
	if _, err := h.users.Create(c.Request.Context(), account.ID, email, correlationID); err != nil {
		h.logger.Error("user record creation failed",
			zap.String("correlation_id", correlationID), zap.Error(err))
		h.metrics.RecordClaim(claimBranchSignup, "record_error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signup_failed"})
		return
	}

	_, err = h.profiles.Create(c.Request.Context(), members.CreateInput{
		AccountID:     account.ID,
		TelegramID:    record.TelegramID,
		Name:          name,
		Grade:         strings.TrimSpace(request.Grade),
		Matricule:     request.Matricule,
		CorrelationID: correlationID,
	})
	if err != nil {
		if errors.Is(err, members.ErrProfileExists) {
			h.metrics.RecordClaim(claimBranchSignup, "profile_exists")
			c.JSON(http.StatusConflict, gin.H{"error": "account_conflict"})
			return
		}
		h.logger.Error("profile creation failed",
			zap.String("correlation_id", correlationID), zap.Error(err))
		h.metrics.RecordClaim(claimBranchSignup, "profile_error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signup_failed"})
		return
	}

	if _, err := h.tokens.Consume(c.Request.Context(), record.Token); err != nil {
		// A concurrent sibling claim may have consumed it first; the signup
		// itself already succeeded.
		h.logger.Warn("token consumption after signup failed", zap.Error(err))
	}

	if err := h.setSessionCookie(c, account.ID); err != nil {
		h.logger.Error("session issuance failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_issue_failed"})
		return
	}

	h.metrics.RecordClaim(claimBranchSignup, "success")
	c.JSON(http.StatusCreated, claimResponsePayload{
		AccountID:  account.ID,
		Approved:   false,
		RedirectTo: landingPath,
	})
}

// handleSessionIntrospect reports the session's account and approval state.
func (h *httpHandler) handleSessionIntrospect(c *gin.Context) {
	accountID, ok := h.currentSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	response := gin.H{"account_id": accountID, "approved": false, "blocked": false}
	record, err := h.users.Get(c.Request.Context(), accountID)
	if err == nil {
		response["approved"] = record.Approved
		response["blocked"] = record.Blocked
		response["role"] = record.Role
	} else if !errors.Is(err, users.ErrRecordNotFound) {
		h.logger.Warn("session introspection lookup failed", zap.Error(err))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) verifyToken(c *gin.Context, token string) (magiclink.MagicToken, bool) {
	record, err := h.tokens.Verify(c.Request.Context(), token)
	switch {
	case errors.Is(err, magiclink.ErrTokenNotFound):
		h.metrics.RecordClaim(claimBranchSignup, "token_not_found")
		c.JSON(http.StatusNotFound, gin.H{"error": "token_not_found"})
		return magiclink.MagicToken{}, false
	case errors.Is(err, magiclink.ErrTokenExpired):
		h.metrics.RecordClaim(claimBranchSignup, "token_expired")
		c.JSON(http.StatusGone, gin.H{"error": "token_expired"})
		return magiclink.MagicToken{}, false
	case err != nil:
		h.logger.Error("token verification failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signup_failed"})
		return magiclink.MagicToken{}, false
	}
	return record, true
}

func (h *httpHandler) currentSession(c *gin.Context) (string, bool) {
	cookie, err := c.Cookie(h.cookieName)
	if err != nil || cookie == "" {
		return "", false
	}
	accountID, err := h.sessions.Validate(cookie)
	if err != nil {
		if !errors.Is(err, auth.ErrExpiredSession) {
			h.logger.Debug("session cookie rejected", zap.Error(err))
		}
		return "", false
	}
	return accountID, true
}

func (h *httpHandler) setSessionCookie(c *gin.Context, accountID string) error {
	signed, expiresIn, err := h.sessions.Issue(accountID)
	if err != nil {
		return err
	}
	c.SetCookie(h.cookieName, signed, int(expiresIn), "/", "", false, true)
	return nil
}

func (h *httpHandler) clearSessionCookie(c *gin.Context) {
	c.SetCookie(h.cookieName, "", -1, "/", "", false, true)
}

func (h *httpHandler) approved(c *gin.Context, accountID string) bool {
	record, err := h.users.Get(c.Request.Context(), accountID)
	if err != nil {
		return false
	}
	return record.Approved && !record.Blocked
}

func generatePassword() (string, error) {
	buf := make([]byte, passwordEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
