// Package notify sends job completion email through the SendGrid v3 REST
// API.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nemadiversity/pipeline/internal/pkg/envutil"
	"github.com/nemadiversity/pipeline/internal/pkg/logger"
)

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

type Message struct {
	ToEmail string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

type Config struct {
	APIKey    string
	BaseURL   string
	FromEmail string
	FromName  string
	Timeout   time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		APIKey:    envutil.Get("SENDGRID_API_KEY", ""),
		BaseURL:   envutil.Get("SENDGRID_BASE_URL", "https://api.sendgrid.com"),
		FromEmail: envutil.Get("SENDGRID_FROM_EMAIL", ""),
		FromName:  envutil.Get("SENDGRID_FROM_NAME", ""),
		Timeout:   time.Duration(envutil.Int("SENDGRID_TIMEOUT_SECONDS", 30)) * time.Second,
	}
}

type sendGridMailer struct {
	log        *logger.Logger
	cfg        Config
	httpClient *http.Client
}

func NewSendGridMailer(log *logger.Logger, cfg Config) (Mailer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing SENDGRID_API_KEY")
	}
	if strings.TrimSpace(cfg.FromEmail) == "" {
		return nil, fmt.Errorf("missing SENDGRID_FROM_EMAIL")
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &sendGridMailer{
		log:        log.With("client", "SendGridMailer"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type emailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type mailSendRequest struct {
	Personalizations []personalization `json:"personalizations"`
	From             emailAddress      `json:"from"`
	Subject          string            `json:"subject"`
	Content          []mailContent     `json:"content"`
}

type personalization struct {
	To []emailAddress `json:"to"`
}

type mailContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func (m *sendGridMailer) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.ToEmail) == "" {
		return fmt.Errorf("recipient email required")
	}
	if strings.TrimSpace(msg.Subject) == "" {
		return fmt.Errorf("subject required")
	}

	contents := []mailContent{}
	if t := strings.TrimSpace(msg.Text); t != "" {
		contents = append(contents, mailContent{Type: "text/plain", Value: t})
	}
	if h := strings.TrimSpace(msg.HTML); h != "" {
		contents = append(contents, mailContent{Type: "text/html", Value: h})
	}
	if len(contents) == 0 {
		return fmt.Errorf("text or HTML content required")
	}

	wire := mailSendRequest{
		Personalizations: []personalization{{To: []emailAddress{{Email: msg.ToEmail, Name: msg.ToName}}}},
		From:             emailAddress{Email: m.cfg.FromEmail, Name: m.cfg.FromName},
		Subject:          msg.Subject,
		Content:          contents,
	}

	attempt := func() error {
		status, body, err := m.post(ctx, "/v3/mail/send", wire)
		if err != nil {
			return err
		}
		if status >= 200 && status < 300 {
			return nil
		}
		err = fmt.Errorf("sendgrid http %d: %s", status, truncate(body, 500))
		// 429 and 5xx are worth another try; everything else is our fault
		if status == http.StatusTooManyRequests || status >= 500 {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		return err
	}
	return nil
}

func (m *sendGridMailer) post(ctx context.Context, path string, body any) (int, string, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return 0, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+path, &buf)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp.StatusCode, "", readErr
	}
	return resp.StatusCode, string(raw), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
