package email

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *SMTPEmailService {
	t.Helper()
	s, err := NewSMTPEmailService(SMTPConfig{Host: "localhost", Port: 1025}, "https://app.formwell.test/", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return s
}

func TestThresholdEmail(t *testing.T) {
	s := newTestService(t)

	tests := []struct {
		name        string
		notice      ThresholdNotice
		wantSubject string
		wantHTML    string
	}{
		{
			name:        "warning",
			notice:      ThresholdNotice{Dimension: "submissions", Threshold: 80, Usage: 80, Limit: 100, Month: "2026-03", Message: "You have used 80 of 100 submissions."},
			wantSubject: "You've used 80% of your submissions limit",
			wantHTML:    "You have used 80% of your submissions limit for 2026-03.",
		},
		{
			name:        "exhausted",
			notice:      ThresholdNotice{Dimension: "forms", Threshold: 100, Usage: 3, Limit: 3, Month: "2026-03", Message: "You have used all 3 forms."},
			wantSubject: "You've reached your forms limit",
			wantHTML:    "You have reached your forms limit for 2026-03.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := s.thresholdEmail("ada@example.com", "Ada", tt.notice)
			require.NoError(t, err)

			assert.Equal(t, tt.wantSubject, msg.Subject)
			assert.Contains(t, msg.HTMLBody, tt.wantHTML)
			assert.Contains(t, msg.HTMLBody, "https://app.formwell.test/api/usage")
			assert.Contains(t, msg.TextBody, tt.notice.Message)
			assert.Contains(t, msg.TextBody, "Hi Ada,")
		})
	}
}

func TestThresholdEmail_EscapesName(t *testing.T) {
	s := newTestService(t)

	msg, err := s.thresholdEmail("x@example.com", "<script>", ThresholdNotice{Threshold: 80, Dimension: "forms"})
	require.NoError(t, err)
	assert.NotContains(t, msg.HTMLBody, "<script>")
	assert.Contains(t, msg.HTMLBody, "&lt;script&gt;")
}

func TestBuildMessage(t *testing.T) {
	s := newTestService(t)

	raw, err := s.buildMessage(Email{To: "ada@example.com", Subject: "Hello", TextBody: "plain", HTMLBody: "<p>html</p>"})
	require.NoError(t, err)
	msg := string(raw)

	assert.True(t, strings.HasPrefix(msg, "From: \"Formwell\" <noreply@formwell.app>\r\n"), msg)
	assert.Contains(t, msg, "To: ada@example.com\r\n")
	assert.Contains(t, msg, "Subject: Hello\r\n")
	assert.Contains(t, msg, "multipart/alternative")
	assert.Less(t, strings.Index(msg, "plain"), strings.Index(msg, "<p>html</p>"), "text part comes first")
	assert.True(t, strings.HasSuffix(msg, "--\r\n"))
}

func TestBuildMessage_EncodesNonASCIISubject(t *testing.T) {
	s := newTestService(t)

	raw, err := s.buildMessage(Email{To: "zoe@example.com", Subject: "Zoë, you've reached your forms limit"})
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Subject: =?utf-8?q?")
}

func TestSend_DeliversThroughRelay(t *testing.T) {
	s := newTestService(t)
	s.config.Username, s.config.Password = "postmark", "token"

	var gotAddr, gotFrom string
	var gotTo []string
	var gotAuth smtp.Auth
	var gotMsg []byte
	s.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotFrom, gotTo, gotMsg = addr, a, from, to, msg
		return nil
	}

	err := s.SendThresholdEmail(context.Background(), "ada@example.com", "Ada", ThresholdNotice{Dimension: "forms", Threshold: 100, Month: "2026-03"})
	require.NoError(t, err)

	assert.Equal(t, "localhost:1025", gotAddr)
	assert.NotNil(t, gotAuth)
	assert.Equal(t, DefaultFromEmail, gotFrom)
	assert.Equal(t, []string{"ada@example.com"}, gotTo)
	assert.Contains(t, string(gotMsg), "You have reached your forms limit for 2026-03.")
}

func TestSend_RelayError(t *testing.T) {
	s := newTestService(t)
	relayErr := errors.New("421 service not available")
	s.sendMail = func(string, smtp.Auth, string, []string, []byte) error { return relayErr }

	err := s.SendThresholdEmail(context.Background(), "ada@example.com", "", ThresholdNotice{Threshold: 80})
	assert.ErrorIs(t, err, relayErr)
}

func TestSend_CanceledContext(t *testing.T) {
	s := newTestService(t)
	s.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("relay must not be dialed after cancellation")
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.SendThresholdEmail(ctx, "ada@example.com", "Ada", ThresholdNotice{Threshold: 80})
	assert.ErrorIs(t, err, context.Canceled)
}
