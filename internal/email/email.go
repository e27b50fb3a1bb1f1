// Package email sends the usage threshold notice, the only transactional
// mail Formwell delivers.
package email

import "context"

// EmailService delivers threshold notices.
type EmailService interface {
	SendThresholdEmail(ctx context.Context, to, name string, notice ThresholdNotice) error
}

// Email is one rendered message.
type Email struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
}

// ThresholdNotice is what a user is told when a dimension crosses 80% or 100%.
type ThresholdNotice struct {
	PlanName  string
	Dimension string // unit label, e.g. "submissions"
	Threshold int
	Usage     int64
	Limit     int64
	Month     string // YYYY-MM
	Message   string
}

// Exhausted reports whether the notice is for a fully used limit.
func (n ThresholdNotice) Exhausted() bool {
	return n.Threshold >= 100
}

// SMTPConfig mirrors the SMTP_* environment settings. Empty credentials
// skip AUTH, which is what Mailhog expects.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

const (
	DefaultFromEmail = "noreply@formwell.app"
	DefaultFromName  = "Formwell"
)
