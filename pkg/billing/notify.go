package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dreamforge-ai/dreamforge/pkg/email"
)

// Notifier receives dunning-relevant transitions. Implementations must not
// block: ApplyEvent calls these inline after the canonical write.
type Notifier interface {
	PaymentFailed(sub *Subscription)
	SubscriptionCanceled(sub *Subscription)
}

// EmailNotifier sends dunning emails through the transactional mailer.
// Delivery is fire-and-forget; a lost email never fails a state transition.
type EmailNotifier struct {
	users  UserStore
	sender email.EmailSender
	log    *slog.Logger
}

// NewEmailNotifier wires dunning notifications.
func NewEmailNotifier(users UserStore, sender email.EmailSender, log *slog.Logger) *EmailNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &EmailNotifier{users: users, sender: sender, log: log}
}

func (n *EmailNotifier) PaymentFailed(sub *Subscription) {
	n.send(sub, "Your payment didn't go through",
		fmt.Sprintf("<p>We couldn't renew your %s plan. Please update your payment method to keep generating designs.</p>", sub.PlanID),
		"billing-payment-failed")
}

func (n *EmailNotifier) SubscriptionCanceled(sub *Subscription) {
	n.send(sub, "Your subscription has ended",
		fmt.Sprintf("<p>Your %s plan is now canceled. Your designs stay yours; generation limits return to the free tier.</p>", sub.PlanID),
		"billing-canceled")
}

func (n *EmailNotifier) send(sub *Subscription, subject, body, tag string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		user, err := n.users.Get(ctx, sub.UserID)
		if err != nil {
			n.log.ErrorContext(ctx, "dunning email skipped, user lookup failed",
				slog.String("user_id", sub.UserID.String()), slog.Any("error", err))
			return
		}

		err = n.sender.SendEmail(ctx, email.SendEmailParams{
			SendTo:   user.Email,
			Subject:  subject,
			BodyHTML: body,
			Tag:      tag,
		})
		if err != nil {
			n.log.ErrorContext(ctx, "dunning email delivery failed",
				slog.String("user_id", sub.UserID.String()),
				slog.String("tag", tag),
				slog.Any("error", err))
		}
	}()
}
