package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/jiwar-association/backend/internal/auth"
	"github.com/jiwar-association/backend/internal/bridge"
	"github.com/jiwar-association/backend/internal/magiclink"
	"github.com/jiwar-association/backend/internal/members"
	"github.com/jiwar-association/backend/internal/provider"
	"github.com/jiwar-association/backend/internal/server"
	"github.com/jiwar-association/backend/internal/telegram"
	"github.com/jiwar-association/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	sessionSigningSecret = "integration-secret"
	sessionCookieName    = "jiwar_session"
	appOrigin            = "https://app.example.org"
	memberTelegramID     = int64(900100)
	jsonContentType      = "application/json"
)

// flowProvider stands in for the external account provider. It accepts every
// provisioning call and remembers which accounts exist so grants minted for
// them exchange successfully.
type flowProvider struct {
	accounts map[string]bool
	secrets  map[string]string
}

func newFlowProvider() *flowProvider {
	return &flowProvider{accounts: map[string]bool{}, secrets: map[string]string{}}
}

func (p *flowProvider) CreateAccount(_ context.Context, accountID, email, _, _ string) (provider.Account, error) {
	p.accounts[accountID] = true
	return provider.Account{ID: accountID, Email: email}, nil
}

func (p *flowProvider) MintGrant(_ context.Context, accountID string) (provider.Grant, error) {
	if !p.accounts[accountID] {
		return provider.Grant{}, provider.ErrAccountNotFound
	}
	secret := "secret-for-" + accountID
	p.secrets[secret] = accountID
	return provider.Grant{AccountID: accountID, Secret: secret}, nil
}

func (p *flowProvider) CreateSession(_ context.Context, accountID, secret string) (provider.Session, error) {
	if p.secrets[secret] != accountID {
		return provider.Session{}, provider.ErrGrantInvalid
	}
	delete(p.secrets, secret)
	return provider.Session{ID: "sess-" + accountID, AccountID: accountID}, nil
}

// linkSender records the last access link delivered to the chat.
type linkSender struct {
	lastURL string
}

func (s *linkSender) SendAccessMessage(_ context.Context, _ int64, _ string, button telegram.LinkButton) error {
	if button.URL != "" {
		s.lastURL = button.URL
	}
	return nil
}

func (s *linkSender) AnswerCallback(context.Context, string, string) error { return nil }

func (s *linkSender) DeleteMessage(context.Context, int64, int64) error { return nil }

func TestMembershipSignupAndLoginFlow(testContext *testing.T) {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:membership_flow?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&magiclink.MagicToken{}, &members.Profile{}, &users.Record{}); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}

	tokenStore, err := magiclink.NewStore(magiclink.StoreConfig{Database: db, Logger: zap.NewNop()})
	if err != nil {
		testContext.Fatalf("failed to build token store: %v", err)
	}
	profiles, err := members.NewService(members.ServiceConfig{Database: db, Logger: zap.NewNop()})
	if err != nil {
		testContext.Fatalf("failed to build profiles service: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to build users service: %v", err)
	}

	accountProvider := newFlowProvider()
	bridgeService, err := bridge.NewService(bridge.ServiceConfig{
		Profiles:  profiles,
		Tokens:    tokenStore,
		Provider:  accountProvider,
		AppOrigin: appOrigin,
		Logger:    zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build bridge service: %v", err)
	}

	sender := &linkSender{}
	dispatcher, err := telegram.NewDispatcher(telegram.DispatcherConfig{
		Bridge: bridgeService,
		Sender: sender,
		Logger: zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build dispatcher: %v", err)
	}

	sessions, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{
		SigningSecret: []byte(sessionSigningSecret),
		SessionTTL:    time.Hour,
	})
	if err != nil {
		testContext.Fatalf("failed to build session issuer: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Dispatcher: dispatcher,
		Tokens:     tokenStore,
		Profiles:   profiles,
		Users:      userService,
		Provider:   accountProvider,
		Sessions:   sessions,
		CookieName: sessionCookieName,
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	// First contact: the bot replies with a signup link carrying a token.
	postWebhookStart(testContext, testServer.URL)
	if !strings.Contains(sender.lastURL, "/#/telegram-signup?token=") {
		testContext.Fatalf("expected signup link, got %q", sender.lastURL)
	}
	signupToken := linkQueryParam(testContext, sender.lastURL, "token")

	// The signup form pre-fills from the token without consuming it.
	prefillResp, err := http.Get(testServer.URL + "/auth/telegram/signup?token=" + signupToken)
	if err != nil {
		testContext.Fatalf("prefill request failed: %v", err)
	}
	defer prefillResp.Body.Close()
	if prefillResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected prefill status: %d", prefillResp.StatusCode)
	}

	// Claiming the token provisions the full identity and starts a session.
	claimBody, _ := json.Marshal(map[string]any{
		"token": signupToken,
		"name":  "Amina Belkacem",
		"grade": "3B",
	})
	claimResp, err := http.Post(testServer.URL+"/auth/telegram/signup", jsonContentType, bytes.NewReader(claimBody))
	if err != nil {
		testContext.Fatalf("signup claim failed: %v", err)
	}
	defer claimResp.Body.Close()
	if claimResp.StatusCode != http.StatusCreated {
		testContext.Fatalf("unexpected signup status: %d", claimResp.StatusCode)
	}
	var claimResult struct {
		AccountID string `json:"account_id"`
	}
	if err := json.NewDecoder(claimResp.Body).Decode(&claimResult); err != nil {
		testContext.Fatalf("failed to decode signup response: %v", err)
	}
	sessionCookie := cookieNamed(testContext, claimResp.Cookies(), sessionCookieName)

	// The fresh session introspects as an unapproved member.
	introspectReq, _ := http.NewRequest(http.MethodGet, testServer.URL+"/auth/session", nil)
	introspectReq.AddCookie(sessionCookie)
	introspectResp, err := http.DefaultClient.Do(introspectReq)
	if err != nil {
		testContext.Fatalf("introspection request failed: %v", err)
	}
	defer introspectResp.Body.Close()
	var introspection struct {
		AccountID string `json:"account_id"`
		Approved  bool   `json:"approved"`
	}
	if err := json.NewDecoder(introspectResp.Body).Decode(&introspection); err != nil {
		testContext.Fatalf("failed to decode introspection: %v", err)
	}
	if introspection.AccountID != claimResult.AccountID || introspection.Approved {
		testContext.Fatalf("unexpected introspection %#v", introspection)
	}

	// Second contact: the identity is linked now, so the bot hands out a
	// login link with a one-time grant instead.
	postWebhookStart(testContext, testServer.URL)
	if !strings.Contains(sender.lastURL, "/#/telegram-login?") {
		testContext.Fatalf("expected login link, got %q", sender.lastURL)
	}
	loginBody, _ := json.Marshal(map[string]string{
		"user_id": linkQueryParam(testContext, sender.lastURL, "userId"),
		"secret":  linkQueryParam(testContext, sender.lastURL, "secret"),
	})
	loginResp, err := http.Post(testServer.URL+"/auth/telegram/login", jsonContentType, bytes.NewReader(loginBody))
	if err != nil {
		testContext.Fatalf("login claim failed: %v", err)
	}
	defer loginResp.Body.Close()
	if loginResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected login status: %d", loginResp.StatusCode)
	}
	cookieNamed(testContext, loginResp.Cookies(), sessionCookieName)

	// Replaying the same grant must fail the exchange.
	replayResp, err := http.Post(testServer.URL+"/auth/telegram/login", jsonContentType, bytes.NewReader(loginBody))
	if err != nil {
		testContext.Fatalf("replayed login claim failed: %v", err)
	}
	defer replayResp.Body.Close()
	if replayResp.StatusCode != http.StatusUnauthorized {
		testContext.Fatalf("unexpected replay status: %d", replayResp.StatusCode)
	}
}

func postWebhookStart(testContext *testing.T, baseURL string) {
	testContext.Helper()
	update := map[string]any{
		"message": map[string]any{
			"message_id": 1,
			"chat":       map[string]any{"id": memberTelegramID},
			"text":       "/start",
			"from":       map[string]any{"id": memberTelegramID, "first_name": "Amina"},
		},
	}
	body, _ := json.Marshal(update)
	resp, err := http.Post(baseURL+"/telegram/webhook", jsonContentType, bytes.NewReader(body))
	if err != nil {
		testContext.Fatalf("webhook request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected webhook status: %d", resp.StatusCode)
	}
}

func linkQueryParam(testContext *testing.T, link, key string) string {
	testContext.Helper()
	_, fragment, ok := strings.Cut(link, "/#")
	if !ok {
		testContext.Fatalf("link %q has no fragment", link)
	}
	parsed, err := url.Parse(fragment)
	if err != nil {
		testContext.Fatalf("failed to parse link fragment: %v", err)
	}
	value := parsed.Query().Get(key)
	if value == "" {
		testContext.Fatalf("link %q missing %q parameter", link, key)
	}
	return value
}

func cookieNamed(testContext *testing.T, cookies []*http.Cookie, name string) *http.Cookie {
	testContext.Helper()
	var found *http.Cookie
	for _, cookie := range cookies {
		if cookie.Name == name && cookie.Value != "" {
			found = cookie
		}
	}
	if found == nil {
		testContext.Fatalf("expected %s cookie", name)
	}
	return found
}
