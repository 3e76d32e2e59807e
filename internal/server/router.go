package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jiwar-association/backend/internal/auth"
	"github.com/jiwar-association/backend/internal/magiclink"
	"github.com/jiwar-association/backend/internal/members"
	"github.com/jiwar-association/backend/internal/provider"
	"github.com/jiwar-association/backend/internal/telegram"
	"github.com/jiwar-association/backend/internal/users"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	errMissingDispatcher = errors.New("webhook dispatcher dependency required")
	errMissingTokenStore = errors.New("token store dependency required")
	errMissingProfiles   = errors.New("profiles service dependency required")
	errMissingUsers      = errors.New("users service dependency required")
	errMissingProvider   = errors.New("account provider dependency required")
	errMissingSessions   = errors.New("session issuer dependency required")
	errMissingCookieName = errors.New("session cookie name required")
)

// AccountProvider is the provider surface the claim endpoints need.
type AccountProvider interface {
	CreateAccount(ctx context.Context, accountID, email, password, name string) (provider.Account, error)
	CreateSession(ctx context.Context, accountID, secret string) (provider.Session, error)
}

// ClaimMetrics records claim outcomes. Optional; a nil value disables recording.
type ClaimMetrics interface {
	RecordClaim(branch, outcome string)
}

type noopClaimMetrics struct{}

func (noopClaimMetrics) RecordClaim(string, string) {}

// Dependencies bundles the collaborators of the HTTP surface.
type Dependencies struct {
	Dispatcher     *telegram.Dispatcher
	Tokens         *magiclink.Store
	Profiles       *members.Service
	Users          *users.Service
	Provider       AccountProvider
	Sessions       *auth.SessionIssuer
	CookieName     string
	Metrics        ClaimMetrics
	MetricsHandler http.Handler
	Logger         *zap.Logger
}

// NewHTTPHandler wires the gin router for the webhook and claim endpoints.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Dispatcher == nil {
		return nil, errMissingDispatcher
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenStore
	}
	if deps.Profiles == nil {
		return nil, errMissingProfiles
	}
	if deps.Users == nil {
		return nil, errMissingUsers
	}
	if deps.Provider == nil {
		return nil, errMissingProvider
	}
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}
	if deps.CookieName == "" {
		return nil, errMissingCookieName
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	claimMetrics := deps.Metrics
	if claimMetrics == nil {
		claimMetrics = noopClaimMetrics{}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	handler := &httpHandler{
		dispatcher: deps.Dispatcher,
		tokens:     deps.Tokens,
		profiles:   deps.Profiles,
		users:      deps.Users,
		provider:   deps.Provider,
		sessions:   deps.Sessions,
		cookieName: deps.CookieName,
		metrics:    claimMetrics,
		logger:     logger,
		limiter:    newChatRateLimiter(rate.Limit(20.0/60.0), 5),
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	router.POST("/telegram/webhook", handler.handleWebhook)

	authGroup := router.Group("/auth")
	authGroup.POST("/telegram/login", handler.handleLoginClaim)
	authGroup.GET("/telegram/signup", handler.handleSignupPrefill)
	authGroup.POST("/telegram/signup", handler.handleSignupClaim)
	authGroup.GET("/session", handler.handleSessionIntrospect)

	return router, nil
}

type httpHandler struct {
	dispatcher *telegram.Dispatcher
	tokens     *magiclink.Store
	profiles   *members.Service
	users      *users.Service
	provider   AccountProvider
	sessions   *auth.SessionIssuer
	cookieName string
	metrics    ClaimMetrics
	logger     *zap.Logger
	limiter    *chatRateLimiter
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleWebhook acknowledges every well-formed update with 200; the Bot API
// retries non-200 responses, and a retried update would just re-run an
// already idempotent pipeline.
func (h *httpHandler) handleWebhook(c *gin.Context) {
	var update telegram.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	chatID, ok := updateChatID(update)
	if ok && !h.limiter.allow(chatID) {
		h.logger.Warn("webhook update dropped by rate limit", zap.Int64("chat_id", chatID))
		c.String(http.StatusOK, "OK")
		return
	}

	if err := h.dispatcher.HandleUpdate(c.Request.Context(), update); err != nil {
		// The user already received a terminal failure message; a non-200
		// here would only make Telegram redeliver the same update.
		h.logger.Error("webhook update handling failed", zap.Error(err))
	}
	c.String(http.StatusOK, "OK")
}

func updateChatID(update telegram.Update) (int64, bool) {
	switch {
	case update.Message != nil:
		return update.Message.Chat.ID, true
	case update.CallbackQuery != nil && update.CallbackQuery.Message != nil:
		return update.CallbackQuery.Message.Chat.ID, true
	default:
		return 0, false
	}
}
