package auth

import (
	"context"
)

// AccountNotifier composes account emails and hands them to a Mailer.
// Send failures come back as mail dispatch errors and are not retried.
type AccountNotifier struct {
	composer *MailComposer
	mailer   Mailer
	logger   Logger
}

// NewAccountNotifier composes account mails and hands them to mailer
func NewAccountNotifier(composer *MailComposer, mailer Mailer, logger Logger) *AccountNotifier {
	return &AccountNotifier{
		composer: composer,
		mailer:   mailer,
		logger:   normalizeLogger(logger),
	}
}

func (n *AccountNotifier) SendVerification(ctx context.Context, identity *Identity, token string) error {
	msg, err := n.composer.VerificationMessage(identity, token)
	if err != nil {
		return err
	}
	return n.send(ctx, msg)
}

func (n *AccountNotifier) SendPasswordReset(ctx context.Context, identity *Identity, token string) error {
	msg, err := n.composer.PasswordResetMessage(identity, token)
	if err != nil {
		return err
	}
	return n.send(ctx, msg)
}

func (n *AccountNotifier) send(ctx context.Context, msg Message) error {
	if err := n.mailer.Send(ctx, msg); err != nil {
		n.logger.Error("mail dispatch to %s failed: %s", maskEmail(msg.To), err)
		return NewMailDispatchError(err, msg.To)
	}
	return nil
}
