package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Dhoini/numgate/internal/domain"
	"github.com/Dhoini/numgate/internal/service"
	"github.com/google/uuid"
)

const (
	timeLayout = "2006-01-02 15:04:05"

	helpText = "Available commands:\n" +
		"/start - subscription status and plans\n" +
		"/status - your subscription and login state\n" +
		"/login <sid> <token> - connect your provisioning account\n" +
		"/logout - disconnect your provisioning account\n" +
		"/buy [area code] - search and buy a number\n" +
		"/mynumbers - numbers you own\n" +
		"/help - this message"

	credentialPrompt = "Send your Account SID and Auth Token separated by a space:\n\nAC... token"
)

func (d *Dispatcher) handleStart(ctx context.Context, req *Request) error {
	ent, err := d.entitlements.Get(ctx, req.UserID)
	if err == nil && ent.ExpiresAt != nil && d.entitlements.HasAccess(ctx, req.UserID) {
		_, err := d.notifier.Send(ctx, req.ChatID, fmt.Sprintf(
			"Welcome %s! Your subscription is active until %s ✅\nUse /login to connect your account.",
			req.User.FullName(), ent.ExpiresAt.Format(timeLayout)))
		return err
	}

	rows := make([][]service.Button, 0, len(d.catalog.All()))
	for _, p := range d.catalog.All() {
		rows = append(rows, []service.Button{{Text: p.Label, Data: Callback{Kind: CallbackPlan, PlanKey: p.Key}.Encode()}})
	}
	_, err = d.notifier.SendWithButtons(ctx, req.ChatID,
		"You don't have an active subscription ♻️\nChoose a plan below to get started ✅", rows)
	return err
}

func (d *Dispatcher) handleHelp(ctx context.Context, req *Request) error {
	_, err := d.notifier.Send(ctx, req.ChatID, helpText)
	return err
}

func (d *Dispatcher) handleStatus(ctx context.Context, req *Request) error {
	var b strings.Builder

	ent, err := d.entitlements.Get(ctx, req.UserID)
	switch {
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return err
	case err == nil && ent.ExpiresAt != nil && d.entitlements.HasAccess(ctx, req.UserID):
		fmt.Fprintf(&b, "Subscription: active until %s", ent.ExpiresAt.Format(timeLayout))
	default:
		b.WriteString("Subscription: none")
	}
	if ent.TrialUsed {
		b.WriteString("\nFree trial: used")
	} else {
		b.WriteString("\nFree trial: available")
	}

	if session, err := d.balances.Session(ctx, req.UserID); err == nil {
		fmt.Fprintf(&b, "\nAccount: %s", session.DisplayName)
	} else {
		b.WriteString("\nAccount: not logged in")
	}

	_, err = d.notifier.Send(ctx, req.ChatID, b.String())
	return err
}

func (d *Dispatcher) handlePlan(ctx context.Context, req *Request) error {
	plan, ok := d.catalog.Get(req.Callback.PlanKey)
	if !ok {
		return domain.ErrPlanNotFound
	}

	if plan.IsTrial {
		ent, err := d.entitlements.GrantTrial(ctx, req.UserID)
		if err != nil {
			return err
		}
		_, err = d.notifier.Send(ctx, req.ChatID, fmt.Sprintf(
			"Your %s free trial is active until %s ✅\nUse /login to connect your account.",
			plan.Duration, ent.ExpiresAt.Format(timeLayout)))
		return err
	}

	_, err := d.approvals.Submit(ctx, req.Requester(), plan.Key)
	return err
}

func (d *Dispatcher) handleDecision(ctx context.Context, req *Request) error {
	cb := req.Callback
	if cb.RequestID != uuid.Nil {
		_, err := d.approvals.Decide(ctx, req.UserID, cb.RequestID, cb.Decision())
		return err
	}
	_, err := d.approvals.DecideLatest(ctx, req.UserID, cb.UserID, cb.PlanRef, cb.Decision())
	return err
}

func (d *Dispatcher) handleLogin(ctx context.Context, req *Request) error {
	if len(req.Args) >= 2 {
		return d.login(ctx, req, req.Args[0], req.Args[1])
	}
	return d.promptCredential(ctx, req)
}

func (d *Dispatcher) handleLogout(ctx context.Context, req *Request) error {
	if err := d.balances.Logout(ctx, req.UserID); err != nil {
		return err
	}
	d.log.Infow("Provisioning session closed", "user_id", req.UserID)
	_, err := d.notifier.Send(ctx, req.ChatID, "Logged out. Use /login to connect again.")
	return err
}

func (d *Dispatcher) handleLoginButton(ctx context.Context, req *Request) error {
	return d.promptCredential(ctx, req)
}

func (d *Dispatcher) promptCredential(ctx context.Context, req *Request) error {
	d.balances.AwaitCredential(ctx, req.UserID)
	_, err := d.notifier.Send(ctx, req.ChatID, credentialPrompt)
	return err
}

func (d *Dispatcher) handleCredentialText(ctx context.Context, req *Request) error {
	fields := strings.Fields(req.Text)
	if len(fields) != 2 {
		_, err := d.notifier.Send(ctx, req.ChatID, "Invalid format. "+credentialPrompt)
		return err
	}
	return d.login(ctx, req, fields[0], fields[1])
}

func (d *Dispatcher) login(ctx context.Context, req *Request, sid, token string) error {
	// В сообщении лежит auth token
	if req.MessageID != 0 {
		if err := d.notifier.Delete(ctx, req.ChatID, req.MessageID); err != nil {
			d.log.Debugw("Failed to delete credential message", "user_id", req.UserID, "error", err)
		}
	}

	profile, err := d.balances.Login(ctx, req.UserID, sid, token)
	if err != nil {
		return err
	}

	text := fmt.Sprintf("✅ Logged in as %s\nBalance: %.2f %s", profile.DisplayName, profile.Balance.Amount, profile.Balance.Currency)
	if profile.Source.Currency != "" && profile.Source.Currency != profile.Balance.Currency {
		text += fmt.Sprintf(" (%.2f %s)", profile.Source.Amount, profile.Source.Currency)
	}
	text += "\n\nUse /buy [area code] to get a number."
	_, err = d.notifier.Send(ctx, req.ChatID, text)
	return err
}

func (d *Dispatcher) handleBuy(ctx context.Context, req *Request) error {
	areaCode := ""
	if len(req.Args) > 0 {
		areaCode = req.Args[0]
	}

	found, err := d.broker.Search(ctx, req.Session, areaCode)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		_, err := d.notifier.Send(ctx, req.ChatID, "No numbers found. Try another area code.")
		return err
	}

	rows := make([][]service.Button, 0, len(found))
	for _, c := range found {
		label := c.PhoneNumber
		if c.Locality != "" {
			label += " · " + c.Locality
		}
		rows = append(rows, []service.Button{{Text: label, Data: Callback{Kind: CallbackNumber, Number: c.PhoneNumber}.Encode()}})
	}
	msgID, err := d.notifier.SendWithButtons(ctx, req.ChatID, fmt.Sprintf("Found %d numbers. Pick one:", len(found)), rows)
	if err != nil {
		return err
	}
	d.ephemeral(req.ChatID, msgID)
	return nil
}

func (d *Dispatcher) handleNumber(ctx context.Context, req *Request) error {
	number := req.Callback.Number
	rows := [][]service.Button{{{Text: "🛒 Buy", Data: Callback{Kind: CallbackBuyNumber, Number: number}.Encode()}}}
	msgID, err := d.notifier.SendWithButtons(ctx, req.ChatID,
		fmt.Sprintf("Buy %s for %.2f %s?", number, d.cfg.NumberPrice, d.cfg.Currency), rows)
	if err != nil {
		return err
	}
	d.ephemeral(req.ChatID, msgID)
	return nil
}

func (d *Dispatcher) handleBuyNumber(ctx context.Context, req *Request) error {
	res, err := d.broker.Purchase(ctx, req.Session, req.Callback.Number)
	if err != nil {
		return err
	}

	rows := [][]service.Button{{{Text: "📨 Messages", Data: Callback{Kind: CallbackMessages, Number: res.PhoneNumber}.Encode()}}}
	_, err = d.notifier.SendWithButtons(ctx, req.ChatID,
		fmt.Sprintf("✅ Number purchased: %s\nIncoming SMS will be forwarded here.", res.PhoneNumber), rows)
	return err
}

func (d *Dispatcher) handleMessages(ctx context.Context, req *Request) error {
	msgs, err := d.broker.RecentMessages(ctx, req.Session, req.Callback.Number)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		_, err := d.notifier.Send(ctx, req.ChatID, "No messages yet for "+req.Callback.Number)
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Messages for %s:\n", req.Callback.Number)
	for _, m := range msgs {
		fmt.Fprintf(&b, "\n%s  %s\n%s\n", m.DateSent.Format(timeLayout), m.From, m.Body)
	}
	_, err = d.notifier.Send(ctx, req.ChatID, b.String())
	return err
}

func (d *Dispatcher) handleMyNumbers(ctx context.Context, req *Request) error {
	owned, err := d.broker.Owned(ctx, req.UserID)
	if err != nil {
		return err
	}
	if len(owned) == 0 {
		_, err := d.notifier.Send(ctx, req.ChatID, "You don't own any numbers yet. Use /buy to get one.")
		return err
	}

	rows := make([][]service.Button, 0, len(owned))
	for _, r := range owned {
		rows = append(rows, []service.Button{{Text: "📨 " + r.PhoneNumber, Data: Callback{Kind: CallbackMessages, Number: r.PhoneNumber}.Encode()}})
	}
	_, err = d.notifier.SendWithButtons(ctx, req.ChatID, fmt.Sprintf("Your numbers (%d):", len(owned)), rows)
	return err
}
