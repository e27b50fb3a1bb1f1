package email

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strings"
	texttemplate "text/template"
	"time"
)

//go:embed templates
var templateFS embed.FS

// SMTPEmailService sends mail through any SMTP relay: Mailhog in
// development, Postmark in production.
type SMTPEmailService struct {
	config  SMTPConfig
	baseURL string
	html    *htmltemplate.Template
	text    *texttemplate.Template
	logger  *slog.Logger

	// sendMail is smtp.SendMail outside tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPEmailService parses the embedded templates. baseURL is the public
// origin used for links.
func NewSMTPEmailService(config SMTPConfig, baseURL string, logger *slog.Logger) (*SMTPEmailService, error) {
	if config.From == "" {
		config.From = DefaultFromEmail
	}
	if config.FromName == "" {
		config.FromName = DefaultFromName
	}

	funcs := map[string]any{"currentYear": func() int { return time.Now().Year() }}

	html, err := htmltemplate.New("email").Funcs(funcs).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse html templates: %w", err)
	}
	text, err := texttemplate.New("email").Funcs(funcs).ParseFS(templateFS, "templates/*.txt")
	if err != nil {
		return nil, fmt.Errorf("parse text templates: %w", err)
	}

	return &SMTPEmailService{
		config:   config,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		html:     html,
		text:     text,
		logger:   logger.With("component", "email"),
		sendMail: smtp.SendMail,
	}, nil
}

// SendThresholdEmail renders and sends a usage threshold notice.
func (s *SMTPEmailService) SendThresholdEmail(ctx context.Context, to, name string, notice ThresholdNotice) error {
	msg, err := s.thresholdEmail(to, name, notice)
	if err != nil {
		return err
	}
	return s.send(ctx, msg)
}

func (s *SMTPEmailService) thresholdEmail(to, name string, notice ThresholdNotice) (Email, error) {
	if name == "" {
		name = "there"
	}
	data := map[string]any{
		"Name":     name,
		"Notice":   notice,
		"UsageURL": s.baseURL + "/api/usage",
	}

	var htmlBody, textBody bytes.Buffer
	if err := s.html.ExecuteTemplate(&htmlBody, "threshold.html", data); err != nil {
		return Email{}, fmt.Errorf("render threshold html: %w", err)
	}
	if err := s.text.ExecuteTemplate(&textBody, "threshold.txt", data); err != nil {
		return Email{}, fmt.Errorf("render threshold text: %w", err)
	}

	subject := fmt.Sprintf("You've used %d%% of your %s limit", notice.Threshold, notice.Dimension)
	if notice.Exhausted() {
		subject = fmt.Sprintf("You've reached your %s limit", notice.Dimension)
	}

	return Email{
		To:       to,
		Subject:  subject,
		HTMLBody: htmlBody.String(),
		TextBody: textBody.String(),
	}, nil
}

// send delivers msg. net/smtp takes no context, so ctx is only checked
// before dialing.
func (s *SMTPEmailService) send(ctx context.Context, msg Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := s.buildMessage(msg)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if s.config.Username != "" && s.config.Password != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	if err := s.sendMail(addr, auth, s.config.From, []string{msg.To}, raw); err != nil {
		s.logger.Error("Failed to send email", "to", msg.To, "subject", msg.Subject, "error", err)
		return fmt.Errorf("send email: %w", err)
	}

	s.logger.Info("Email sent", "to", msg.To, "subject", msg.Subject)
	return nil
}

// buildMessage renders msg as multipart/alternative with the text part
// first. Headers are RFC 2047 encoded so non-ASCII names survive.
func (s *SMTPEmailService) buildMessage(msg Email) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	parts := []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=utf-8", msg.TextBody},
		{"text/html; charset=utf-8", msg.HTMLBody},
	}
	for _, p := range parts {
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {p.contentType}})
		if err != nil {
			return nil, fmt.Errorf("create mime part: %w", err)
		}
		if _, err := w.Write([]byte(p.content)); err != nil {
			return nil, fmt.Errorf("write mime part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close mime writer: %w", err)
	}

	from := mail.Address{Name: s.config.FromName, Address: s.config.From}

	var out bytes.Buffer
	fmt.Fprintf(&out, "From: %s\r\n", from.String())
	fmt.Fprintf(&out, "To: %s\r\n", msg.To)
	fmt.Fprintf(&out, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&out, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	out.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&out, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary())
	out.Write(body.Bytes())

	return out.Bytes(), nil
}

var _ EmailService = (*SMTPEmailService)(nil)
