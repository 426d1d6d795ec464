package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"agency_calls_backend/platform/config"

	"github.com/slack-go/slack"
	gomail "github.com/wneessen/go-mail"
)

// SlackMessenger posts digests to one channel.
type SlackMessenger struct {
	client  *slack.Client
	channel string
}

// NewSlackMessenger creates a Slack messenger from config.
func NewSlackMessenger(cfg config.SlackConfig) *SlackMessenger {
	return &SlackMessenger{
		client:  slack.New(cfg.GetSlackBotToken()),
		channel: cfg.GetSlackDigestChannel(),
	}
}

func (s *SlackMessenger) SendDigest(ctx context.Context, d Digest) error {
	text := fmt.Sprintf("*%s*\n```%s```", d.Subject, d.Body)
	if _, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	return nil
}

// EmailMessenger sends digests over SMTP.
type EmailMessenger struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       []string
}

// NewEmailMessenger creates an SMTP messenger from config.
func NewEmailMessenger(cfg config.SMTPConfig) *EmailMessenger {
	return &EmailMessenger{
		host:     cfg.GetSMTPHost(),
		port:     cfg.GetSMTPPort(),
		username: cfg.GetSMTPUsername(),
		password: cfg.GetSMTPPassword(),
		from:     cfg.GetDigestEmailFrom(),
		to:       cfg.GetDigestEmailTo(),
	}
}

func (e *EmailMessenger) SendDigest(ctx context.Context, d Digest) error {
	msg := gomail.NewMsg()
	if err := msg.From(e.from); err != nil {
		return fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(e.to...); err != nil {
		return fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(d.Subject)
	msg.SetBodyString(gomail.TypeTextPlain, d.Body)

	opts := []gomail.Option{
		gomail.WithPort(e.port),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15 * time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	}
	if e.username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(e.username),
			gomail.WithPassword(e.password),
		)
	}

	client, err := gomail.NewClient(e.host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// MultiMessenger sends to every messenger and succeeds if any of them did.
type MultiMessenger []Messenger

func (m MultiMessenger) SendDigest(ctx context.Context, d Digest) error {
	if len(m) == 0 {
		return errors.New("no digest messenger configured")
	}
	var errs []error
	delivered := false
	for _, messenger := range m {
		if err := messenger.SendDigest(ctx, d); err != nil {
			errs = append(errs, err)
			continue
		}
		delivered = true
	}
	if delivered {
		return nil
	}
	return errors.Join(errs...)
}

// NewMessenger builds the messenger set enabled in config.
func NewMessenger(slackCfg config.SlackConfig, smtpCfg config.SMTPConfig) MultiMessenger {
	var m MultiMessenger
	if slackCfg.IsSlackEnabled() {
		m = append(m, NewSlackMessenger(slackCfg))
	}
	if smtpCfg.IsSMTPEnabled() {
		m = append(m, NewEmailMessenger(smtpCfg))
	}
	return m
}
