package bot

import (
	"context"
	"strings"

	"github.com/Dhoini/numgate/internal/domain"
	"github.com/Dhoini/numgate/internal/integration/telegram"
)

// Request обновление, сведенное к тому, что нужно обработчикам
type Request struct {
	UserID    int64
	ChatID    int64
	User      telegram.User
	MessageID int

	// Command заполнен для slash команд, без слэша и суффикса бота
	Command string
	Args    []string
	Text    string

	// Callback заполнен для нажатий кнопок
	Callback   *Callback
	CallbackID string

	// Session заполняется в RequireSession
	Session domain.ProvisioningSession
}

// Requester описывает отправителя для заявок
func (r *Request) Requester() domain.Requester {
	return domain.Requester{UserID: r.UserID, Username: r.User.Username, FullName: r.User.FullName()}
}

// HandlerFunc обрабатывает один запрос
type HandlerFunc func(ctx context.Context, req *Request) error

// Middleware оборачивает обработчик
type Middleware func(next HandlerFunc) HandlerFunc

// Chain применяет middleware так, что первый в списке выполняется первым
func Chain(h HandlerFunc, mws ...Middleware) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// parseCommand разбирает "/buy@numgate_bot 415" на "buy" и ["415"]
func parseCommand(text string) (string, []string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text)
	cmd := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	if cmd == "" {
		return "", nil, false
	}
	return strings.ToLower(cmd), fields[1:], true
}
