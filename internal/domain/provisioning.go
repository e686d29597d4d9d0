package domain

import (
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Credential пара идентификатор/секрет аккаунта, которую пользователь присылает
// при входе.
type Credential struct {
	AccountSID string `validate:"required,startswith=AC,len=34"`
	AuthToken  string `validate:"required,min=16"`
}

// ProvisioningSession связывает пользователя с аккаунтом провайдера. При
// повторном входе заменяется целиком и сохраняется только с Verified = true.
type ProvisioningSession struct {
	UserID      int64      `json:"user_id"`
	Credential  Credential `json:"-"`
	DisplayName string     `json:"display_name"`
	Verified    bool       `json:"verified"`
	VerifiedAt  time.Time  `json:"verified_at"`
}

// AccountInfo идентификационные данные аккаунта провайдера.
type AccountInfo struct {
	SID          string
	FriendlyName string
	Status       string
}

// Money сумма с ISO кодом валюты.
type Money struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// Profile результат успешного входа. Показываются только DisplayName и
// приведенный баланс, ничего из этого не сохраняется.
type Profile struct {
	DisplayName string  `json:"display_name"`
	Balance     Money   `json:"balance"`
	Source      Money   `json:"source"`
	Rate        float64 `json:"rate"`
}

// CandidateNumber номер из результатов поиска провайдера.
type CandidateNumber struct {
	PhoneNumber  string  `json:"phone_number"`
	FriendlyName string  `json:"friendly_name"`
	Locality     string  `json:"locality,omitempty"`
	Region       string  `json:"region,omitempty"`
	AreaCode     string  `json:"area_code,omitempty"`
	Cost         float64 `json:"cost"`
}

// OwnedNumber номер, который сейчас принадлежит аккаунту.
type OwnedNumber struct {
	SID         string
	PhoneNumber string
}

// PurchaseOrder то, что брокер просит купить у провайдера.
type PurchaseOrder struct {
	PhoneNumber       string
	SmsURL            string
	StatusCallbackURL string
}

// PurchasedNumber ответ провайдера о покупке.
type PurchasedNumber struct {
	SID         string
	PhoneNumber string
}

// Resource купленный номер, привязанный ровно к одному владельцу. OwnerUserID
// не меняется, освобождение останавливает маршрутизацию, но не передает номер
// другому.
type Resource struct {
	ID             uuid.UUID  `json:"id"`
	OwnerUserID    int64      `json:"owner_user_id"`
	PhoneNumber    string     `json:"phone_number"`
	BackendSID     string     `json:"backend_sid"`
	AccountSID     string     `json:"account_sid"`
	CostAtPurchase Money      `json:"cost_at_purchase"`
	PurchasedAt    time.Time  `json:"purchased_at"`
	ReleasedAt     *time.Time `json:"released_at,omitempty"`
}

// Active сообщает, нужно ли маршрутизировать входящие события номера.
func (r Resource) Active() bool {
	return r.ReleasedAt == nil
}

// InboundMessage текст, полученный купленным номером.
type InboundMessage struct {
	To   string `form:"To" validate:"required"`
	From string `form:"From" validate:"required"`
	Body string `form:"Body"`

	// OwnerHint id пользователя из пути callback, ноль если его нет.
	OwnerHint int64 `form:"-"`

	// Signature подпись, которой провайдер подписал callback
	Signature CallbackSignature `form:"-"`
}

// CallbackSignature подпись провайдера вместе с URL и полями формы, которые она
// покрывает.
type CallbackSignature struct {
	Value string
	URL   string
	Form  url.Values
}

// Message запись из журнала сообщений провайдера.
type Message struct {
	From     string
	To       string
	Body     string
	DateSent time.Time
}
