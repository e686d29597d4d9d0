package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Dhoini/numgate/internal/domain"
	"github.com/Dhoini/numgate/internal/metrics"
	"github.com/Dhoini/numgate/pkg/logger"
	"github.com/google/uuid"
)

// ApprovalService ведет протокол решения по платным тарифам между пользователем
// и администратором
type ApprovalService interface {
	Submit(ctx context.Context, requester domain.Requester, planKey string) (domain.ApprovalRequest, error)
	Decide(ctx context.Context, actorID int64, requestID uuid.UUID, decision domain.Decision) (domain.ApprovalRequest, error)
	DecideLatest(ctx context.Context, actorID, userID int64, planKeyOrSeconds string, decision domain.Decision) (domain.ApprovalRequest, error)
	Pending(ctx context.Context) ([]domain.ApprovalRequest, error)
}

// ApprovalConfig настройки протокола заявок
type ApprovalConfig struct {
	AdminID             int64
	PaymentInstructions string
}

type approvalService struct {
	repo         ApprovalRepository
	entitlements EntitlementService
	catalog      *domain.Catalog
	notifier     Notifier
	clock        Clock
	events       EventPublisher
	metrics      metrics.ProvisioningMetrics
	cfg          ApprovalConfig
	log          *logger.Logger
}

// NewApprovalService создает координатор заявок
func NewApprovalService(
	repo ApprovalRepository,
	entitlements EntitlementService,
	catalog *domain.Catalog,
	notifier Notifier,
	clock Clock,
	events EventPublisher,
	m metrics.ProvisioningMetrics,
	cfg ApprovalConfig,
	log *logger.Logger,
) ApprovalService {
	return &approvalService{
		repo:         repo,
		entitlements: entitlements,
		catalog:      catalog,
		notifier:     notifier,
		clock:        clock,
		events:       events,
		metrics:      m,
		cfg:          cfg,
		log:          log,
	}
}

// Submit сохраняет ожидающую заявку на платный тариф, отправляет пользователю
// инструкции по оплате, а администратору кнопки решения. Ошибки уведомлений
// пишутся в лог, заявка остается ожидающей.
func (s *approvalService) Submit(ctx context.Context, requester domain.Requester, planKey string) (domain.ApprovalRequest, error) {
	plan, ok := s.catalog.Get(planKey)
	if !ok || plan.IsTrial {
		s.log.Warnw("Approval requested for unknown or trial plan", "user_id", requester.UserID, "plan", planKey)
		return domain.ApprovalRequest{}, domain.ErrPlanNotFound
	}

	req, err := s.repo.Create(ctx, domain.ApprovalRequest{
		UserID:    requester.UserID,
		Username:  requester.Username,
		FullName:  requester.FullName,
		PlanKey:   plan.Key,
		Status:    domain.ApprovalStatusPending,
		CreatedAt: s.clock.Now(),
	})
	if err != nil {
		s.log.Errorw("Failed to create approval request", "user_id", requester.UserID, "error", err)
		return domain.ApprovalRequest{}, err
	}
	s.log.Infow("Approval request created", "request_id", req.ID, "user_id", req.UserID, "plan", plan.Key)
	s.metrics.IncApprovalSubmitted(plan.Key)

	if _, err := s.notifier.Send(ctx, requester.UserID, s.instructions(plan)); err != nil {
		s.log.Warnw("Failed to send payment instructions", "user_id", requester.UserID, "error", err)
	}

	rows := [][]Button{{
		{Text: "✅ Approve", Data: "approve_" + req.ID.String()},
		{Text: "❌ Cancel", Data: "cancel_" + req.ID.String()},
	}}
	msgID, err := s.notifier.SendWithButtons(ctx, s.cfg.AdminID, adminRequestText(req, plan), rows)
	if err != nil {
		s.log.Errorw("Failed to notify administrator", "request_id", req.ID, "error", err)
		return req, nil
	}
	if err := s.repo.SetAdminMessage(ctx, req.ID, msgID); err != nil {
		s.log.Warnw("Failed to record admin message", "request_id", req.ID, "error", err)
	} else {
		req.AdminMessageID = msgID
	}

	return req, nil
}

// Decide применяет решение администратора один раз. Эффект имеет только первый
// вызов для заявки, последующие возвращают ErrAlreadyDecided и никого не
// уведомляют.
func (s *approvalService) Decide(ctx context.Context, actorID int64, requestID uuid.UUID, decision domain.Decision) (domain.ApprovalRequest, error) {
	if actorID != s.cfg.AdminID {
		s.log.Warnw("Decision from non-admin rejected", "actor_id", actorID, "request_id", requestID)
		return domain.ApprovalRequest{}, domain.ErrUnauthorized
	}
	if !decision.Valid() {
		return domain.ApprovalRequest{}, domain.ErrInvalidInput
	}

	req, err := s.repo.Transition(ctx, requestID, decision, s.clock.Now())
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyDecided) {
			s.log.Infow("Duplicate decision ignored", "request_id", requestID, "status", req.Status)
		} else {
			s.log.Warnw("Decision on unknown request", "request_id", requestID, "error", err)
		}
		return req, err
	}

	s.log.Infow("Approval request decided", "request_id", req.ID, "user_id", req.UserID, "decision", decision)
	s.metrics.IncApprovalDecided(string(decision))

	var notice string
	if decision == domain.DecisionApprove {
		notice = s.applyApproval(ctx, req)
	} else {
		notice = fmt.Sprintf("Your %s subscription request was cancelled.", s.planLabel(req.PlanKey))
	}

	if _, err := s.notifier.Send(ctx, req.UserID, notice); err != nil {
		s.log.Warnw("Failed to notify requester", "request_id", req.ID, "user_id", req.UserID, "error", err)
	}
	if req.AdminMessageID != 0 {
		if err := s.notifier.Edit(ctx, s.cfg.AdminID, req.AdminMessageID, decidedAdminText(req, s.planLabel(req.PlanKey))); err != nil {
			s.log.Warnw("Failed to update admin message", "request_id", req.ID, "error", err)
		}
	}

	publishEvent(ctx, s.events, s.clock, s.log, domain.Event{
		Type:   domain.EventApprovalDecided,
		UserID: req.UserID,
		Attributes: map[string]string{
			"request_id": req.ID.String(),
			"plan":       req.PlanKey,
			"status":     string(req.Status),
		},
	})

	return req, nil
}

// DecideLatest находит самую новую ожидающую заявку userID и принимает по ней
// решение. Непустой planKeyOrSeconds сужает поиск.
func (s *approvalService) DecideLatest(ctx context.Context, actorID, userID int64, planKeyOrSeconds string, decision domain.Decision) (domain.ApprovalRequest, error) {
	if actorID != s.cfg.AdminID {
		s.log.Warnw("Decision from non-admin rejected", "actor_id", actorID, "user_id", userID)
		return domain.ApprovalRequest{}, domain.ErrUnauthorized
	}

	planKey := ""
	if planKeyOrSeconds != "" {
		plan, ok := s.catalog.Resolve(planKeyOrSeconds)
		if !ok {
			return domain.ApprovalRequest{}, domain.ErrPlanNotFound
		}
		planKey = plan.Key
	}

	req, err := s.repo.LatestPending(ctx, userID, planKey)
	if err != nil {
		s.log.Infow("No pending request to decide", "user_id", userID, "plan", planKey)
		return domain.ApprovalRequest{}, err
	}

	return s.Decide(ctx, actorID, req.ID, decision)
}

func (s *approvalService) Pending(ctx context.Context) ([]domain.ApprovalRequest, error) {
	return s.repo.ListPending(ctx)
}

func (s *approvalService) applyApproval(ctx context.Context, req domain.ApprovalRequest) string {
	plan, ok := s.catalog.Get(req.PlanKey)
	if !ok {
		s.log.Errorw("Approved request references unknown plan", "request_id", req.ID, "plan", req.PlanKey)
		return "Your payment was approved, but the plan is no longer offered. Please contact support."
	}

	ent, err := s.entitlements.GrantPaid(ctx, req.UserID, plan)
	if err != nil {
		s.log.Errorw("Failed to grant approved plan", "request_id", req.ID, "error", err)
		return "Your payment was approved, but activation failed. Please contact support."
	}

	return fmt.Sprintf("Your %s subscription has been activated! ✅\nActive until %s.",
		plan.Label, ent.ExpiresAt.Format("2006-01-02 15:04:05"))
}

func (s *approvalService) planLabel(key string) string {
	if plan, ok := s.catalog.Get(key); ok {
		return plan.Label
	}
	return key
}

func (s *approvalService) instructions(plan domain.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You selected: %s\nPrice: %.2f %s\n\n", plan.Label, plan.Price, plan.Currency)
	if s.cfg.PaymentInstructions != "" {
		b.WriteString(s.cfg.PaymentInstructions)
		b.WriteString("\n\n")
	}
	b.WriteString("Your request was sent to the administrator. You will be notified once it is reviewed.")
	return b.String()
}

func adminRequestText(req domain.ApprovalRequest, plan domain.Plan) string {
	username := req.Username
	if username == "" {
		username = "-"
	} else {
		username = "@" + username
	}
	return fmt.Sprintf("🔔 New subscription request\n\nName: %s\nUsername: %s\nUser ID: %d\nPlan: %s\nPrice: %.2f %s",
		req.FullName, username, req.UserID, plan.Label, plan.Price, plan.Currency)
}

func decidedAdminText(req domain.ApprovalRequest, planLabel string) string {
	mark := "✅ Approved"
	if req.Status == domain.ApprovalStatusCancelled {
		mark = "❌ Cancelled"
	}
	return fmt.Sprintf("%s: %s subscription for %s\nUser ID: %d", mark, planLabel, req.FullName, req.UserID)
}
