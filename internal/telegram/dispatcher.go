package telegram

import (
	"context"
	"errors"

	"github.com/jiwar-association/backend/internal/bridge"
	"go.uber.org/zap"
)

const (
	commandStart       = "/start"
	callbackRefresh    = "refresh_link"
	startButtonText    = "🚀 الدخول إلى الموقع"
	refreshButtonText  = "🔄 تحديث الرابط"
	loginButtonText    = "🚀 الدخول إلى حسابي"
	signupButtonText   = "📝 إنشاء حساب جديد"
	callbackAnswerText = "جاري تحديث الرابط..."
	failureMessageText = "❌ حدث خطأ. يرجى المحاولة لاحقا."
)

var (
	errMissingBridge = errors.New("telegram: bridge service required")
	errMissingSender = errors.New("telegram: sender required")
)

// LinkButton is the link-bearing button attached to an outbound message.
type LinkButton struct {
	Text string
	URL  string
}

// Sender delivers outbound messages to the chat platform.
type Sender interface {
	SendAccessMessage(ctx context.Context, chatID int64, text string, button LinkButton) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
}

// Metrics records dispatcher outcomes. Implemented by the metrics collector;
// declared here so the dispatcher stays testable without a registry.
type Metrics interface {
	RecordUpdate(updateType string)
	RecordLink(kind string)
}

type noopMetrics struct{}

func (noopMetrics) RecordUpdate(string) {}
func (noopMetrics) RecordLink(string)   {}

// DispatcherConfig describes the collaborators of the webhook dispatcher.
type DispatcherConfig struct {
	Bridge  *bridge.Service
	Sender  Sender
	Metrics Metrics
	Logger  *zap.Logger
}

// Dispatcher routes inbound webhook updates into the access pipeline and
// sends the resulting deep link back to the chat. It keeps no state between
// updates; each one is processed independently.
type Dispatcher struct {
	bridge  *bridge.Service
	sender  Sender
	metrics Metrics
	logger  *zap.Logger
}

// NewDispatcher constructs the webhook dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Bridge == nil {
		return nil, errMissingBridge
	}
	if cfg.Sender == nil {
		return nil, errMissingSender
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{bridge: cfg.Bridge, sender: cfg.Sender, metrics: metrics, logger: logger}, nil
}

// HandleUpdate processes one inbound update. Unknown shapes are ignored so
// the webhook always acknowledges; Telegram retries non-200 responses.
func (d *Dispatcher) HandleUpdate(ctx context.Context, update Update) error {
	switch {
	case update.Message != nil:
		return d.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		return d.handleCallback(ctx, update.CallbackQuery)
	default:
		return nil
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, message *Message) error {
	if message.Text != commandStart && message.Text != startButtonText {
		return nil
	}
	if message.From == nil {
		return nil
	}
	d.metrics.RecordUpdate("start")
	return d.handleAccess(ctx, message.Chat.ID, *message.From)
}

func (d *Dispatcher) handleCallback(ctx context.Context, callback *CallbackQuery) error {
	if callback.Data != callbackRefresh || callback.Message == nil {
		return nil
	}
	d.metrics.RecordUpdate("refresh")

	if err := d.sender.AnswerCallback(ctx, callback.ID, callbackAnswerText); err != nil {
		d.logger.Warn("callback answer failed", zap.Error(err))
	}
	// Remove the stale link message; a failed delete never blocks the refresh.
	if err := d.sender.DeleteMessage(ctx, callback.Message.Chat.ID, callback.Message.MessageID); err != nil {
		d.logger.Warn("old message delete failed", zap.Error(err))
	}

	return d.handleAccess(ctx, callback.Message.Chat.ID, callback.From)
}

func (d *Dispatcher) handleAccess(ctx context.Context, chatID int64, from User) error {
	link, err := d.bridge.HandleAccessRequest(ctx, from.TelegramID(), from.FullName())
	if err != nil {
		d.logger.Error("access pipeline failed",
			zap.String("telegram_id", from.TelegramID()),
			zap.Error(err))
		if sendErr := d.sender.SendAccessMessage(ctx, chatID, failureMessageText, LinkButton{}); sendErr != nil {
			d.logger.Warn("failure notice delivery failed", zap.Error(sendErr))
		}
		return err
	}
	d.metrics.RecordLink(string(link.Kind))

	text, buttonText := accessTexts(link.Kind, from.FirstName)
	if err := d.sender.SendAccessMessage(ctx, chatID, text, LinkButton{Text: buttonText, URL: link.URL}); err != nil {
		d.logger.Error("access message delivery failed", zap.Error(err))
		return err
	}
	return nil
}

func accessTexts(kind bridge.LinkKind, firstName string) (string, string) {
	if kind == bridge.LinkKindLogin {
		text := "مرحباً " + firstName + "! 👋\n\n✅ تم العثور على حسابك\n\nاضغط على الزر أدناه للدخول إلى حسابك بشكل آمن."
		return text, loginButtonText
	}
	text := "مرحباً " + firstName + "! 👋\n\n📝 مرحباً بك في جمعية الجوار\n\nاضغط على الزر أدناه لإنشاء حسابك وإكمال التسجيل."
	return text, signupButtonText
}
