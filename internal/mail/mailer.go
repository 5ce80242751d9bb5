package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"pipecrm/internal/config"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Message is one outbound email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	From    string `json:"from,omitempty"`
}

// Mailer is the outbound email collaborator. The actual provider (Gmail API,
// SES, ...) sits behind the relay; this service only speaks to the relay.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// RelayMailer posts messages as JSON to a configured HTTP relay endpoint.
type RelayMailer struct {
	url    string
	from   string
	client *http.Client
	logger *logrus.Logger
}

func NewRelayMailer(cfg *config.Config, logger *logrus.Logger) *RelayMailer {
	if logger == nil {
		logger = logrus.New()
	}
	timeout := cfg.Mail.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RelayMailer{
		url:  cfg.Mail.RelayURL,
		from: fmt.Sprintf("%s <%s>", cfg.Mail.FromName, cfg.Mail.FromEmail),
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

func (m *RelayMailer) Send(ctx context.Context, msg Message) error {
	if m.url == "" {
		// No relay configured; log and drop rather than failing the caller.
		m.logger.WithFields(logrus.Fields{
			"to":      msg.To,
			"subject": msg.Subject,
		}).Info("mail relay not configured, dropping message")
		return nil
	}
	if msg.From == "" {
		msg.From = m.from
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("mail relay: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("mail relay returned %d", resp.StatusCode)
	}
	return nil
}
