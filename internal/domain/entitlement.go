package domain

import "time"

// Entitlement окно доступа пользователя. TrialUsed однажды выставленный не
// сбрасывается, sweeper очищает только ExpiresAt.
type Entitlement struct {
	UserID    int64      `json:"user_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	TrialUsed bool       `json:"trial_used"`
	PlanKey   string     `json:"plan_key,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ActiveAt сообщает, открыто ли окно в момент now. Окно открыто строго до
// ExpiresAt.
func (e Entitlement) ActiveAt(now time.Time) bool {
	return e.ExpiresAt != nil && e.ExpiresAt.After(now)
}

// LapsedAt сообщает, что окно существует и к моменту now истекло.
func (e Entitlement) LapsedAt(now time.Time) bool {
	return e.ExpiresAt != nil && !e.ExpiresAt.After(now)
}
