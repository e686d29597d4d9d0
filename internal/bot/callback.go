package bot

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Dhoini/numgate/internal/domain"
	"github.com/google/uuid"
)

// CallbackKind тип декодированной нагрузки кнопки
type CallbackKind int

const (
	CallbackPlan CallbackKind = iota + 1
	CallbackApprove
	CallbackCancel
	CallbackNumber
	CallbackBuyNumber
	CallbackMessages
	CallbackLogin
)

func (k CallbackKind) String() string {
	switch k {
	case CallbackPlan:
		return "plan"
	case CallbackApprove:
		return "approve"
	case CallbackCancel:
		return "cancel"
	case CallbackNumber:
		return "number"
	case CallbackBuyNumber:
		return "buy_number"
	case CallbackMessages:
		return "message"
	case CallbackLogin:
		return "login"
	default:
		return "unknown"
	}
}

// Callback нагрузка кнопки, декодированная один раз на входе. Заполненные поля
// зависят от Kind:
//
//	plan_<key>                       PlanKey
//	approve_<requestId>              RequestID
//	approve_<userId>[_<planOrSecs>]  UserID, PlanRef
//	cancel_<requestId>               RequestID
//	cancel_<userId>[_<planOrSecs>]   UserID, PlanRef
//	number_<n>, buy_number_<n>       Number
//	message_<n>                      Number
//	login
type Callback struct {
	Kind      CallbackKind
	PlanKey   string
	RequestID uuid.UUID
	UserID    int64
	PlanRef   string
	Number    string
}

// Decision сопоставляет callback approve/cancel с решением
func (c Callback) Decision() domain.Decision {
	if c.Kind == CallbackApprove {
		return domain.DecisionApprove
	}
	return domain.DecisionCancel
}

// ParseCallback декодирует нагрузку. Неизвестные префиксы и некорректное тело
// возвращают ErrMalformedCallback.
func ParseCallback(data string) (Callback, error) {
	data = strings.TrimSpace(data)

	switch {
	case data == "login":
		return Callback{Kind: CallbackLogin}, nil

	case strings.HasPrefix(data, "plan_"):
		key := strings.TrimPrefix(data, "plan_")
		if key == "" {
			return Callback{}, malformed(data)
		}
		return Callback{Kind: CallbackPlan, PlanKey: key}, nil

	case strings.HasPrefix(data, "approve_"):
		return parseDecision(CallbackApprove, strings.TrimPrefix(data, "approve_"), data)

	case strings.HasPrefix(data, "cancel_"):
		return parseDecision(CallbackCancel, strings.TrimPrefix(data, "cancel_"), data)

	// buy_number_ проверяем раньше number_
	case strings.HasPrefix(data, "buy_number_"):
		return parseNumber(CallbackBuyNumber, strings.TrimPrefix(data, "buy_number_"), data)

	case strings.HasPrefix(data, "number_"):
		return parseNumber(CallbackNumber, strings.TrimPrefix(data, "number_"), data)

	case strings.HasPrefix(data, "message_"):
		return parseNumber(CallbackMessages, strings.TrimPrefix(data, "message_"), data)
	}

	return Callback{}, malformed(data)
}

// Encode возвращает строковую форму c
func (c Callback) Encode() string {
	switch c.Kind {
	case CallbackLogin:
		return "login"
	case CallbackPlan:
		return "plan_" + c.PlanKey
	case CallbackApprove, CallbackCancel:
		if c.RequestID != uuid.Nil {
			return c.Kind.String() + "_" + c.RequestID.String()
		}
		s := c.Kind.String() + "_" + strconv.FormatInt(c.UserID, 10)
		if c.PlanRef != "" {
			s += "_" + c.PlanRef
		}
		return s
	case CallbackNumber, CallbackBuyNumber, CallbackMessages:
		return c.Kind.String() + "_" + c.Number
	default:
		return ""
	}
}

func parseDecision(kind CallbackKind, body, raw string) (Callback, error) {
	if id, err := uuid.Parse(body); err == nil {
		return Callback{Kind: kind, RequestID: id}, nil
	}

	userPart, planRef, _ := strings.Cut(body, "_")
	userID, err := strconv.ParseInt(userPart, 10, 64)
	if err != nil || userID <= 0 {
		return Callback{}, malformed(raw)
	}
	return Callback{Kind: kind, UserID: userID, PlanRef: planRef}, nil
}

func parseNumber(kind CallbackKind, number, raw string) (Callback, error) {
	if number == "" {
		return Callback{}, malformed(raw)
	}
	for i, r := range number {
		if r >= '0' && r <= '9' {
			continue
		}
		if r == '+' && i == 0 {
			continue
		}
		return Callback{}, malformed(raw)
	}
	return Callback{Kind: kind, Number: number}, nil
}

func malformed(raw string) error {
	return fmt.Errorf("%w: %q", domain.ErrMalformedCallback, raw)
}
