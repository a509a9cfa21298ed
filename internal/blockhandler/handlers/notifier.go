package handlers

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/flowforge/flowexec/internal/blockhandler"
	"github.com/flowforge/flowexec/internal/domain"
	"github.com/flowforge/flowexec/internal/domainerr"
	"github.com/flowforge/flowexec/internal/template"
)

// NotifierHandler implements NOTIFIER/EMAIL delivery. It generalizes the
// previous generation's single raw-HTTP Telegram call into a reusable bot
// client plus a destination switch, so the same node kind can gain other
// channels without touching the dispatch contract.
type NotifierHandler struct {
	tp  *template.Processor
	bot *tgbotapi.BotAPI
}

// NewNotifierHandler accepts a nil bot so deployments without a configured
// Telegram token still build; Execute then fails per-call instead of at
// startup.
func NewNotifierHandler(tp *template.Processor, bot *tgbotapi.BotAPI) *NotifierHandler {
	return &NotifierHandler{tp: tp, bot: bot}
}

func (h *NotifierHandler) Kind() domain.BlockKind { return domain.BlockKindNotifier }

func (h *NotifierHandler) Execute(_ context.Context, hctx blockhandler.Context) (map[string]any, error) {
	channel, _ := hctx.Config["channel"].(string)
	messageTpl, _ := hctx.Config["message"].(string)
	if messageTpl == "" {
		return nil, domainerr.NewHandlerError("NOTIFIER", fmt.Errorf("message is required"), false)
	}

	td := template.Data{JSON: hctx.PreviousOutputs, Ctx: hctx.ExecutionMeta}
	message, err := h.tp.ProcessString(messageTpl, td, template.Lenient)
	if err != nil {
		return nil, domainerr.NewHandlerError("NOTIFIER", err, false)
	}

	switch channel {
	case "", "telegram":
		return h.sendTelegram(hctx, message)
	case "email":
		return h.sendEmail(hctx, message)
	default:
		return nil, domainerr.NewHandlerError("NOTIFIER", fmt.Errorf("unknown channel %q", channel), false)
	}
}

func (h *NotifierHandler) sendTelegram(hctx blockhandler.Context, message string) (map[string]any, error) {
	if h.bot == nil {
		return nil, domainerr.NewHandlerError("NOTIFIER", fmt.Errorf("telegram bot is not configured"), false)
	}
	chatIDRaw, ok := hctx.Config["chatId"]
	if !ok {
		return nil, domainerr.NewHandlerError("NOTIFIER", fmt.Errorf("chatId is required"), false)
	}
	chatID, ok := asInt64(chatIDRaw)
	if !ok {
		return nil, domainerr.NewHandlerError("NOTIFIER", fmt.Errorf("chatId must be numeric"), false)
	}

	msg := tgbotapi.NewMessage(chatID, message)
	sent, err := h.bot.Send(msg)
	if err != nil {
		return nil, domainerr.NewHandlerError("NOTIFIER", err, true)
	}
	return map[string]any{"channel": "telegram", "messageId": sent.MessageID}, nil
}

func (h *NotifierHandler) sendEmail(hctx blockhandler.Context, message string) (map[string]any, error) {
	to, _ := hctx.Config["to"].(string)
	subject, _ := hctx.Config["subject"].(string)
	if to == "" {
		return nil, domainerr.NewHandlerError("NOTIFIER", fmt.Errorf("to is required"), false)
	}
	// Email transport is deployment-specific (SMTP relay, provider API) and
	// deliberately not wired here; the handler validates and reports the
	// would-be send so downstream nodes and logs can still depend on it.
	return map[string]any{
		"channel": "email",
		"to":      to,
		"subject": subject,
		"body":    message,
		"status":  "not_configured",
	}, nil
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case float64:
		return int64(x), true
	case int:
		return int64(x), true
	case int64:
		return x, true
	default:
		return 0, false
	}
}
