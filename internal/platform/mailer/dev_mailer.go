package mailer

import (
	"github.com/rolesync/rolesync/pkg/logger"
)

type DevMailer struct{}

func NewDevMailer() *DevMailer {
	return &DevMailer{}
}

func (d *DevMailer) SendAccessRevokedEmail(toEmail string) error {
	logger.Info("📧 [DEV MAIL] Access Revoked Email",
		"to", toEmail,
		"subject", "Your premium access has been paused",
	)
	return nil
}
