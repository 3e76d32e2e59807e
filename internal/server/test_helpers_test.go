package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
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
	"github.com/jiwar-association/backend/internal/telegram"
	"github.com/jiwar-association/backend/internal/users"
	"gorm.io/gorm"
)

const testCookieName = "jiwar_session"

type fakeProvider struct {
	grants        map[string]provider.Grant
	mintErrs      map[string]error
	createErr     error
	sessionErr    error
	createdEmails []string
	sessionCalls  int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{grants: map[string]provider.Grant{}, mintErrs: map[string]error{}}
}

func (p *fakeProvider) MintGrant(_ context.Context, accountID string) (provider.Grant, error) {
	if err, ok := p.mintErrs[accountID]; ok {
		return provider.Grant{}, err
	}
	if grant, ok := p.grants[accountID]; ok {
		return grant, nil
	}
	return provider.Grant{}, provider.ErrAccountNotFound
}

func (p *fakeProvider) CreateAccount(_ context.Context, accountID, email, _, _ string) (provider.Account, error) {
	if p.createErr != nil {
		return provider.Account{}, p.createErr
	}
	p.createdEmails = append(p.createdEmails, email)
	return provider.Account{ID: accountID, Email: email}, nil
}

func (p *fakeProvider) CreateSession(_ context.Context, accountID, _ string) (provider.Session, error) {
	p.sessionCalls++
	if p.sessionErr != nil {
		return provider.Session{}, p.sessionErr
	}
	return provider.Session{ID: "sess-1", AccountID: accountID}, nil
}

type capturingSender struct {
	messages []telegram.LinkButton
	texts    []string
	deleted  []int64
}

func (s *capturingSender) SendAccessMessage(_ context.Context, _ int64, text string, button telegram.LinkButton) error {
	s.texts = append(s.texts, text)
	s.messages = append(s.messages, button)
	return nil
}

func (s *capturingSender) AnswerCallback(context.Context, string, string) error { return nil }

func (s *capturingSender) DeleteMessage(_ context.Context, _, messageID int64) error {
	s.deleted = append(s.deleted, messageID)
	return nil
}

type serverEnv struct {
	handler  http.Handler
	provider *fakeProvider
	sender   *capturingSender
	tokens   *magiclink.Store
	profiles *members.Service
	users    *users.Service
	sessions *auth.SessionIssuer
	db       *gorm.DB
	clock    *testClock
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newServerEnv(t *testing.T) *serverEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clock := &testClock{now: time.Unix(1700000000, 0).UTC()}

	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&magiclink.MagicToken{}, &members.Profile{}, &users.Record{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	profiles, err := members.NewService(members.ServiceConfig{Database: db, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to construct profiles service: %v", err)
	}
	tokens, err := magiclink.NewStore(magiclink.StoreConfig{Database: db, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to construct token store: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to construct users service: %v", err)
	}

	accountProvider := newFakeProvider()
	bridgeService, err := bridge.NewService(bridge.ServiceConfig{
		Profiles:  profiles,
		Tokens:    tokens,
		Provider:  accountProvider,
		AppOrigin: "https://app.example.org",
		Clock:     clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to construct bridge service: %v", err)
	}

	sender := &capturingSender{}
	dispatcher, err := telegram.NewDispatcher(telegram.DispatcherConfig{Bridge: bridgeService, Sender: sender})
	if err != nil {
		t.Fatalf("failed to construct dispatcher: %v", err)
	}

	sessions, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		SessionTTL:    time.Hour,
		Clock:         clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to construct session issuer: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Dispatcher: dispatcher,
		Tokens:     tokens,
		Profiles:   profiles,
		Users:      userService,
		Provider:   accountProvider,
		Sessions:   sessions,
		CookieName: testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	return &serverEnv{
		handler:  handler,
		provider: accountProvider,
		sender:   sender,
		tokens:   tokens,
		profiles: profiles,
		users:    userService,
		sessions: sessions,
		db:       db,
		clock:    clock,
	}
}

func (env *serverEnv) do(t *testing.T, method, path, body string, cookie string) *httptest.ResponseRecorder {
	t.Helper()

	var request *http.Request
	if body == "" {
		request = httptest.NewRequest(method, path, http.NoBody)
	} else {
		request = httptest.NewRequest(method, path, strings.NewReader(body))
		request.Header.Set("Content-Type", "application/json")
	}
	if cookie != "" {
		request.AddCookie(&http.Cookie{Name: testCookieName, Value: cookie})
	}

	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, request)
	return recorder
}

// sessionCookieValue returns the last session cookie in the response; the
// login handler may clear a stale cookie before setting the fresh one.
func sessionCookieValue(t *testing.T, recorder *httptest.ResponseRecorder) string {
	t.Helper()
	value := ""
	found := false
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == testCookieName {
			value = cookie.Value
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %s cookie in response", testCookieName)
	}
	return value
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return body
}
