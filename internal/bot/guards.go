package bot

import (
	"context"

	"github.com/Dhoini/numgate/internal/domain"
	"github.com/Dhoini/numgate/internal/service"
)

// RequireEntitlement отклоняет запросы пользователей без активного доступа
func RequireEntitlement(entitlements service.EntitlementService) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if !entitlements.HasAccess(ctx, req.UserID) {
				return domain.ErrNoAccess
			}
			return next(ctx, req)
		}
	}
}

// RequireSession загружает в запрос проверенную сессию пользователя
func RequireSession(balances service.BalanceService) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			session, err := balances.Session(ctx, req.UserID)
			if err != nil {
				return err
			}
			req.Session = session
			return next(ctx, req)
		}
	}
}
