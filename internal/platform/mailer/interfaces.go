package mailer

type Service interface {
	SendAccessRevokedEmail(toEmail string) error
}
