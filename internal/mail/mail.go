// Package mail builds and delivers the result and failure notifications sent
// to task submitters.
package mail

import (
	"bytes"
	"fmt"
	"io"

	"gopkg.in/gomail.v2"

	"github.com/npsg-lab/simq/domain"
	"github.com/npsg-lab/simq/internal/config"
)

// Attachment is one named artifact included in an outbound message.
type Attachment struct {
	Name string
	Data []byte
}

// Message is a fully assembled outbound mail.
type Message struct {
	To          string
	Subject     string
	Body        string
	Attachments []Attachment
}

// Sender delivers messages. Send blocks until the transport accepts the
// message or fails.
type Sender interface {
	Send(msg *Message) error
}

// SMTPSender is the gomail-backed Sender used in production.
type SMTPSender struct {
	cfg config.MailConfig
}

// NewSMTPSender creates a Sender over the configured SMTP transport.
func NewSMTPSender(cfg config.MailConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

// Send implements Sender. Each call dials a fresh SMTP connection; result
// mail volume is low enough that connection reuse is not worth the
// bookkeeping.
func (s *SMTPSender) Send(msg *Message) error {
	m := gomail.NewMessage()
	from := s.cfg.FromAddress
	if s.cfg.FromName != "" {
		from = m.FormatAddress(s.cfg.FromAddress, s.cfg.FromName)
	}
	m.SetHeader("From", from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)
	for _, att := range msg.Attachments {
		data := att.Data
		m.Attach(att.Name, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		}))
	}

	d := gomail.NewDialer(s.cfg.SMTPHost, s.cfg.SMTPPort, s.cfg.Username, s.cfg.Password)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send mail to %s: %w", msg.To, err)
	}
	return nil
}

// ResultMessage assembles the success notification for a finished task: a
// report with the model blurb and parameter table, plus the model's named
// result artifacts.
func ResultMessage(task *domain.Task, spec *domain.ModelSpec, attachments []Attachment) *Message {
	var body bytes.Buffer
	fmt.Fprintf(&body, "Hello,\n\n")
	fmt.Fprintf(&body, "This email address recently requested a run of %s (%s, version %s).\n",
		spec.FullName, spec.ShortName, spec.Version)
	fmt.Fprintf(&body, "We are happy to report that the run succeeded. The result files are\nattached to this message.\n\n")
	if spec.Subtitle != "" {
		fmt.Fprintf(&body, "%s\n\n", spec.Subtitle)
	}
	body.WriteString(ParameterTable(task, spec))

	report := Attachment{Name: "report.txt", Data: body.Bytes()}
	return &Message{
		To:          task.EmailAddress,
		Subject:     fmt.Sprintf("Model run results: %s", spec.FullName),
		Body:        body.String(),
		Attachments: append([]Attachment{report}, attachments...),
	}
}

// FailureMessage assembles the notification sent when a task fails.
func FailureMessage(task *domain.Task, modelName string) *Message {
	body := fmt.Sprintf(`Hello,

This email address recently requested a run of the model %q. We are sorry
to report that the run failed. You are welcome to resubmit your request;
if the failure persists, please contact the site operators.
`, modelName)
	return &Message{
		To:      task.EmailAddress,
		Subject: fmt.Sprintf("Model run failed: %s", modelName),
		Body:    body,
	}
}

// ParameterTable renders the task's parameter assignment as an aligned,
// human-readable table in the model's declared parameter order.
func ParameterTable(task *domain.Task, spec *domain.ModelSpec) string {
	var out bytes.Buffer
	out.WriteString("Parameters:\n")
	for _, p := range spec.Parameters {
		v, ok := task.Parameters[p.Name]
		if !ok {
			continue
		}
		desc := p.Description
		if desc == "" {
			desc = p.Name
		}
		fmt.Fprintf(&out, "  %-40s %s\n", desc, v.DisplayString(p.Units))
	}
	return out.String()
}
