// Package bot превращает обновления чата в вызовы сервисов доступа и номеров.
package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/Dhoini/numgate/internal/domain"
	"github.com/Dhoini/numgate/internal/integration/telegram"
	"github.com/Dhoini/numgate/internal/scheduler"
	"github.com/Dhoini/numgate/internal/service"
	"github.com/Dhoini/numgate/pkg/logger"
)

// Config настройки диспетчера
type Config struct {
	AdminID      int64
	EphemeralTTL time.Duration
	NumberPrice  float64
	Currency     string
}

// Dispatcher направляет обновления обработчикам. Это единственное место, где
// ошибки обработчиков превращаются в сообщения пользователю, здесь же
// перехватываются паники.
type Dispatcher struct {
	api          API
	notifier     service.Notifier
	catalog      *domain.Catalog
	entitlements service.EntitlementService
	approvals    service.ApprovalService
	balances     service.BalanceService
	broker       service.BrokerService
	tasks        *scheduler.Registry
	cfg          Config
	log          *logger.Logger

	commands  map[string]HandlerFunc
	callbacks map[CallbackKind]HandlerFunc
	text      HandlerFunc
}

// NewDispatcher связывает обработчики и их проверки
func NewDispatcher(
	api API,
	catalog *domain.Catalog,
	entitlements service.EntitlementService,
	approvals service.ApprovalService,
	balances service.BalanceService,
	broker service.BrokerService,
	tasks *scheduler.Registry,
	cfg Config,
	log *logger.Logger,
) *Dispatcher {
	d := &Dispatcher{
		api:          api,
		notifier:     NewNotifier(api),
		catalog:      catalog,
		entitlements: entitlements,
		approvals:    approvals,
		balances:     balances,
		broker:       broker,
		tasks:        tasks,
		cfg:          cfg,
		log:          log,
	}

	entitled := RequireEntitlement(entitlements)
	provisioned := RequireSession(balances)

	d.commands = map[string]HandlerFunc{
		"start":     d.handleStart,
		"help":      d.handleHelp,
		"status":    d.handleStatus,
		"login":     Chain(d.handleLogin, entitled),
		"logout":    d.handleLogout,
		"buy":       Chain(d.handleBuy, entitled, provisioned),
		"mynumbers": Chain(d.handleMyNumbers, entitled),
	}
	d.callbacks = map[CallbackKind]HandlerFunc{
		CallbackPlan:      d.handlePlan,
		CallbackApprove:   d.handleDecision,
		CallbackCancel:    d.handleDecision,
		CallbackLogin:     Chain(d.handleLoginButton, entitled),
		CallbackNumber:    Chain(d.handleNumber, entitled, provisioned),
		CallbackBuyNumber: Chain(d.handleBuyNumber, entitled, provisioned),
		CallbackMessages:  Chain(d.handleMessages, entitled, provisioned),
	}
	d.text = Chain(d.handleCredentialText, entitled)

	return d
}

// Notifier возвращает notifier диспетчера
func (d *Dispatcher) Notifier() service.Notifier {
	return d.notifier
}

// Handle обрабатывает одно обновление. Не паникует и не возвращает ошибку: сбои
// сообщаются пользователю и пишутся в лог.
func (d *Dispatcher) Handle(ctx context.Context, update telegram.Update) {
	req, handler, ok := d.route(ctx, update)
	if !ok {
		return
	}

	err := d.safeCall(ctx, handler, req)
	if req.CallbackID != "" {
		answer := ""
		if err != nil {
			answer = shortAnswer(err)
		}
		if aerr := d.api.AnswerCallbackQuery(ctx, req.CallbackID, answer); aerr != nil {
			d.log.Debugw("Failed to answer callback", "user_id", req.UserID, "error", aerr)
		}
	}
	if err == nil {
		return
	}

	d.logFailure(update, req, err)
	if errors.Is(err, domain.ErrMalformedCallback) || errors.Is(err, domain.ErrAlreadyDecided) {
		// Ответа на callback достаточно
		return
	}
	if _, serr := d.notifier.Send(ctx, req.ChatID, userMessage(err)); serr != nil {
		d.log.Warnw("Failed to send error message", "user_id", req.UserID, "error", serr)
	}
}

func (d *Dispatcher) route(ctx context.Context, update telegram.Update) (*Request, HandlerFunc, bool) {
	switch {
	case update.CallbackQuery != nil:
		q := update.CallbackQuery
		req := &Request{UserID: q.From.ID, ChatID: q.From.ID, User: q.From, CallbackID: q.ID}
		if q.Message != nil {
			req.ChatID = q.Message.Chat.ID
			req.MessageID = q.Message.MessageID
		}

		cb, err := ParseCallback(q.Data)
		if err != nil {
			return req, func(context.Context, *Request) error { return err }, true
		}
		req.Callback = &cb
		return req, d.callbacks[cb.Kind], true

	case update.Message != nil && update.Message.From != nil:
		m := update.Message
		req := &Request{UserID: m.From.ID, ChatID: m.Chat.ID, User: *m.From, MessageID: m.MessageID, Text: m.Text}

		if cmd, args, ok := parseCommand(m.Text); ok {
			handler, known := d.commands[cmd]
			if !known {
				handler = d.handleHelp
			}
			req.Command, req.Args = cmd, args
			return req, handler, true
		}
		if strings.TrimSpace(m.Text) != "" && d.balances.AwaitingCredential(ctx, req.UserID) {
			return req, d.text, true
		}
		return nil, nil, false
	}

	return nil, nil, false
}

func (d *Dispatcher) safeCall(ctx context.Context, h HandlerFunc, req *Request) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Errorw("Handler panicked", "user_id", req.UserID, "panic", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h(ctx, req)
}

func (d *Dispatcher) logFailure(update telegram.Update, req *Request, err error) {
	kv := []interface{}{"update_id", update.UpdateID, "user_id", req.UserID, "command", req.Command, "error", err}
	if req.Callback != nil {
		kv = append(kv, "callback", req.Callback.Kind.String())
	}
	if expected(err) {
		d.log.Infow("Request rejected", kv...)
		return
	}
	d.log.Errorw("Request failed", kv...)
}

// ephemeral удаляет сообщение по истечении заданного TTL
func (d *Dispatcher) ephemeral(chatID int64, messageID int) {
	if d.tasks == nil || d.cfg.EphemeralTTL <= 0 || messageID == 0 {
		return
	}
	key := fmt.Sprintf("ephemeral:%d:%d", chatID, messageID)
	d.tasks.Schedule(key, d.cfg.EphemeralTTL, func(ctx context.Context) {
		if err := d.notifier.Delete(ctx, chatID, messageID); err != nil {
			d.log.Debugw("Failed to delete ephemeral message", "chat_id", chatID, "message_id", messageID, "error", err)
		}
	})
}

func expected(err error) bool {
	for _, target := range []error{
		domain.ErrNoAccess, domain.ErrSessionNotVerified, domain.ErrInvalidCredential,
		domain.ErrAlreadyUsed, domain.ErrAlreadyDecided, domain.ErrInsufficientBalance,
		domain.ErrAlreadyTaken, domain.ErrMalformedCallback, domain.ErrUnauthorized,
		domain.ErrPlanNotFound, domain.ErrNotFound, domain.ErrInvalidInput,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrNoAccess):
		return "You don't have an active subscription ♻️\nUse /start to choose a plan."
	case errors.Is(err, domain.ErrSessionNotVerified):
		return "Please /login with your Account SID and Auth Token first."
	case errors.Is(err, domain.ErrInvalidCredential):
		return "❌ Login failed. Check your Account SID and Auth Token and try again."
	case errors.Is(err, domain.ErrAlreadyUsed):
		return "You have already used your free trial. Please choose another plan."
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "❌ Insufficient balance to buy this number."
	case errors.Is(err, domain.ErrAlreadyTaken):
		return "That number is no longer available. Use /buy to search again."
	case errors.Is(err, domain.ErrBackend):
		return "The provider is not responding right now. Please try again later."
	case errors.Is(err, domain.ErrUnauthorized):
		return "You are not allowed to do that."
	case errors.Is(err, domain.ErrPlanNotFound):
		return "Unknown plan. Use /start to see the available plans."
	case errors.Is(err, domain.ErrNotFound):
		return "Nothing found for that request."
	case errors.Is(err, domain.ErrInvalidInput):
		return "That input was not understood. Use /help to see the commands."
	default:
		return "Something went wrong. Please try again later."
	}
}

func shortAnswer(err error) string {
	switch {
	case errors.Is(err, domain.ErrMalformedCallback):
		return "Unknown action"
	case errors.Is(err, domain.ErrAlreadyDecided):
		return "Already handled"
	case errors.Is(err, domain.ErrUnauthorized):
		return "Not allowed"
	default:
		return "Failed"
	}
}
