package auth

import (
	"context"
	"embed"
	"fmt"
	"strings"
	"sync"

	"github.com/flosch/pongo2/v6"
)

const DefaultMailFrom = "SoLearn <noreply@solearn.co>"

//go:embed data/mail
var mailTemplatesFS embed.FS

// Message is an outbound email request
type Message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html,omitempty"`
}

// Mailer hands a message to the delivery collaborator. Implementations
// must not retry: a failure is reported to the caller.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// MailerFunc adapts a function to the Mailer interface.
type MailerFunc func(ctx context.Context, msg Message) error

func (f MailerFunc) Send(ctx context.Context, msg Message) error {
	if f == nil {
		return nil
	}
	return f(ctx, msg)
}

// LogMailer prints messages instead of delivering them
type LogMailer struct {
	logger Logger
}

// NewLogMailer returns a Mailer that only logs what it would send
func NewLogMailer(logger Logger) *LogMailer {
	return &LogMailer{logger: normalizeLogger(logger)}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info("mail to=%s subject=%q\n%s", msg.To, msg.Subject, msg.Text)
	return nil
}

// MailComposer renders verification and reset messages from the embedded
// pongo2 templates.
type MailComposer struct {
	from    string
	appURL  string
	set     *pongo2.TemplateSet
	once    sync.Once
	tpls    map[string]*pongo2.Template
	loadErr error
}

// NewMailComposer falls back to DefaultMailFrom for a blank from. Links are
// built on appURL.
func NewMailComposer(from, appURL string) *MailComposer {
	if strings.TrimSpace(from) == "" {
		from = DefaultMailFrom
	}
	loader := pongo2.NewFSLoader(mailTemplatesFS)
	return &MailComposer{
		from:   from,
		appURL: strings.TrimRight(appURL, "/"),
		set:    pongo2.NewSet("mail", loader),
	}
}

// VerificationMessage builds the email verification message for identity
func (c *MailComposer) VerificationMessage(identity *Identity, token string) (Message, error) {
	return c.compose("verify_email", "Verify your SoLearn email", identity, c.appURL+"/verify-email/"+token)
}

// PasswordResetMessage builds the password reset message for identity
func (c *MailComposer) PasswordResetMessage(identity *Identity, token string) (Message, error) {
	return c.compose("reset_password", "Reset your SoLearn password", identity, c.appURL+"/reset-password/"+token)
}

func (c *MailComposer) compose(name, subject string, identity *Identity, link string) (Message, error) {
	if err := c.load(); err != nil {
		return Message{}, err
	}

	data := pongo2.Context{
		"username": identity.Username,
		"link":     link,
	}

	text, err := c.tpls[name+".txt"].Execute(data)
	if err != nil {
		return Message{}, fmt.Errorf("render %s text: %w", name, err)
	}

	html, err := c.tpls[name+".html"].Execute(data)
	if err != nil {
		return Message{}, fmt.Errorf("render %s html: %w", name, err)
	}

	return Message{
		From:    c.from,
		To:      identity.Email,
		Subject: subject,
		Text:    text,
		HTML:    html,
	}, nil
}

func (c *MailComposer) load() error {
	c.once.Do(func() {
		c.tpls = make(map[string]*pongo2.Template)
		for _, name := range []string{
			"verify_email.txt", "verify_email.html",
			"reset_password.txt", "reset_password.html",
		} {
			tpl, err := c.set.FromFile("data/mail/" + name)
			if err != nil {
				c.loadErr = fmt.Errorf("load mail template %s: %w", name, err)
				return
			}
			c.tpls[name] = tpl
		}
	})
	return c.loadErr
}
