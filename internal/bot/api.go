package bot

import (
	"context"
	"time"

	"github.com/Dhoini/numgate/internal/integration/telegram"
	"github.com/Dhoini/numgate/internal/service"
)

// API часть Bot API, которой управляет бот
type API interface {
	SendMessage(ctx context.Context, chatID int64, text string, keyboard *telegram.InlineKeyboardMarkup) (int, error)
	EditMessageText(ctx context.Context, chatID int64, messageID int, text string) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	AnswerCallbackQuery(ctx context.Context, queryID, text string) error
	GetUpdates(ctx context.Context, offset int, timeout time.Duration) ([]telegram.Update, error)
}

// Notifier адаптирует Bot API к service.Notifier
type Notifier struct {
	api API
}

// NewNotifier создает notifier, отправляющий через api
func NewNotifier(api API) *Notifier {
	return &Notifier{api: api}
}

func (n *Notifier) Send(ctx context.Context, chatID int64, text string) (int, error) {
	return n.api.SendMessage(ctx, chatID, text, nil)
}

func (n *Notifier) SendWithButtons(ctx context.Context, chatID int64, text string, rows [][]service.Button) (int, error) {
	return n.api.SendMessage(ctx, chatID, text, keyboard(rows))
}

func (n *Notifier) Edit(ctx context.Context, chatID int64, messageID int, text string) error {
	return n.api.EditMessageText(ctx, chatID, messageID, text)
}

func (n *Notifier) Delete(ctx context.Context, chatID int64, messageID int) error {
	return n.api.DeleteMessage(ctx, chatID, messageID)
}

func keyboard(rows [][]service.Button) *telegram.InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}
	kb := &telegram.InlineKeyboardMarkup{InlineKeyboard: make([][]telegram.InlineKeyboardButton, 0, len(rows))}
	for _, row := range rows {
		out := make([]telegram.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			out = append(out, telegram.InlineKeyboardButton{Text: b.Text, CallbackData: b.Data})
		}
		kb.InlineKeyboard = append(kb.InlineKeyboard, out)
	}
	return kb
}
