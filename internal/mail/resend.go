package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"time"

	univote_errors "univote/pkg/errors"
)

const (
	DefaultResendURL = "https://api.resend.com/emails"
	DefaultFrom      = "UniVote <onboarding@resend.dev>"
	verifySubject    = "Verify Your Vote - Code Inside"
)

var verifyTemplate = template.Must(template.New("verify").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1.0"></head>
<body style="margin:0;padding:0;font-family:Arial,sans-serif;background-color:#f5f5f5;">
  <table width="100%" cellpadding="0" cellspacing="0" style="padding:40px 0;">
    <tr><td align="center">
      <table width="600" cellpadding="0" cellspacing="0" style="background-color:#ffffff;border-radius:12px;">
        <tr><td style="padding:40px;">
          <h1 style="margin:0;font-size:32px;color:#667eea;text-align:center;">UniVote</h1>
          <h2 style="font-size:24px;color:#333;text-align:center;">Verify Your Vote</h2>
          <p style="font-size:16px;color:#666;">Hello,</p>
          <p style="font-size:16px;color:#666;">You're voting on: <strong style="color:#333;">{{.PollTitle}}</strong></p>
          <p style="font-size:16px;color:#666;text-align:center;">Enter this verification code to confirm your vote:</p>
          <div style="background:#667eea;color:white;padding:30px;text-align:center;font-size:42px;font-weight:bold;letter-spacing:12px;border-radius:12px;">{{.Code}}</div>
          <p style="font-size:14px;color:#999;text-align:center;">This code expires in <strong>{{.Minutes}} minutes</strong></p>
          <p style="font-size:14px;color:#856404;"><strong>Security Note:</strong> Never share this code with anyone. UniVote staff will never ask for your verification code.</p>
          <p style="font-size:12px;color:#999;text-align:center;">If you didn't request this code, please ignore this email.</p>
        </td></tr>
      </table>
    </td></tr>
  </table>
</body>
</html>
`))

type ResendConfig struct {
	APIKey  string
	From    string
	URL     string
	Timeout time.Duration
}

// ResendSender posts verification emails to the Resend HTTP API.
type ResendSender struct {
	cfg    ResendConfig
	client *http.Client
}

func NewResendSender(cfg ResendConfig) *ResendSender {
	if cfg.URL == "" {
		cfg.URL = DefaultResendURL
	}
	if cfg.From == "" {
		cfg.From = DefaultFrom
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &ResendSender{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type resendResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

func (s *ResendSender) SendVerificationCode(ctx context.Context, msg VerificationEmail) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if s.cfg.APIKey == "" {
		return fmt.Errorf("%w: resend api key not configured", univote_errors.ErrServiceUnavailable)
	}

	minutes := int(msg.ExpiresIn.Minutes())
	if minutes <= 0 {
		minutes = 5
	}
	var html bytes.Buffer
	if err := verifyTemplate.Execute(&html, struct {
		PollTitle string
		Code      string
		Minutes   int
	}{msg.PollTitle, msg.Code, minutes}); err != nil {
		return fmt.Errorf("render verification email: %w", err)
	}

	body, err := json.Marshal(resendRequest{
		From:    s.cfg.From,
		To:      []string{msg.To},
		Subject: verifySubject,
		HTML:    html.String(),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: resend request failed: %v", univote_errors.ErrTransient, err)
	}
	defer resp.Body.Close()

	var out resendResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if out.Message == "" {
			out.Message = "failed to send email"
		}
		return fmt.Errorf("resend returned %d: %s", resp.StatusCode, out.Message)
	}
	return nil
}
