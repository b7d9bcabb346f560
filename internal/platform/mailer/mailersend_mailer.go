package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/mailersend/mailersend-go"
)

type MailerSendClient struct {
	client  *mailersend.Mailersend
	from    mailersend.From
	enabled bool
}

func NewMailerSend(apiKey, fromName, fromEmail string) *MailerSendClient {
	m := &MailerSendClient{
		enabled: apiKey != "" && fromEmail != "",
		from: mailersend.From{
			Name:  fromName,
			Email: fromEmail,
		},
	}

	if m.enabled {
		m.client = mailersend.NewMailersend(apiKey)
	}

	return m
}

func (m *MailerSendClient) SendAccessRevokedEmail(toEmail string) error {
	if !m.enabled {
		return fmt.Errorf("MailerSend not configured")
	}

	subject := "Your premium access has been paused"
	html := `
		<h2>Premium access paused</h2>
		<p>We couldn't confirm an active payment for your subscription, so your
		premium role in the community has been removed.</p>
		<p>Once your payment method is updated, run <strong>/checkpayment</strong>
		in the community to restore your access immediately.</p>
		<p>If you believe this is a mistake, reply to this email.</p>
	`
	text := "We couldn't confirm an active payment, so your premium role has been removed.\n\n" +
		"Update your payment method and run /checkpayment in the community to restore access."

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := m.client.Email.NewMessage()
	msg.SetFrom(m.from)
	msg.SetRecipients([]mailersend.Recipient{{Email: toEmail}})
	msg.SetSubject(subject)
	msg.SetText(text)
	msg.SetHTML(html)

	_, err := m.client.Email.Send(ctx, msg)
	return err
}
