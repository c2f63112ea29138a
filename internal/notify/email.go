package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tripwire/internal/domain"

	"github.com/nats-io/nats.go"
)

const DefaultEmailSubject = "alerts.email"

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subj string, data []byte) error
}

// EmailMessage is the job an external mailer consumes.
type EmailMessage struct {
	To           string              `json:"to"`
	Subject      string              `json:"subject"`
	Body         string              `json:"body"`
	Notification domain.Notification `json:"notification"`
}

// EmailSender enqueues email jobs on NATS; delivery is the mailer's concern.
type EmailSender struct {
	pub     Publisher
	subject string
}

func NewEmailSender(pub Publisher, subject string) *EmailSender {
	if subject == "" {
		subject = DefaultEmailSubject
	}
	return &EmailSender{pub: pub, subject: subject}
}

func (s *EmailSender) Send(ctx context.Context, alert domain.Alert, n domain.Notification) error {
	if alert.Contact.Email == "" {
		return ErrNoRecipient
	}
	data, err := json.Marshal(EmailMessage{
		To:           alert.Contact.Email,
		Subject:      n.Title,
		Body:         text(n),
		Notification: n,
	})
	if err != nil {
		return err
	}
	if err := s.pub.Publish(s.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", s.subject, err)
	}
	return nil
}

// ConnectNATS dials the broker used for email jobs.
func ConnectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("tripwire"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}
