// Package smtp delivers onboarding notifications as HTML email.
package smtp

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/goliatone/go-onboarding"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Config holds the SMTP relay settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Dispatcher implements onboarding.NotificationDispatcher. Every workflow
// maps to the template of the same name; a template defines "subject" and
// renders the body.
type Dispatcher struct {
	cfg         Config
	templates   map[string]*template.Template
	templatesFS fs.FS
	send        SendFunc
	logger      onboarding.Logger
}

var _ onboarding.NotificationDispatcher = (*Dispatcher)(nil)

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithSendFunc replaces smtp.SendMail.
func WithSendFunc(send SendFunc) Option {
	return func(d *Dispatcher) {
		if send != nil {
			d.send = send
		}
	}
}

// WithLogger sets the logger used for delivery failures.
func WithLogger(logger onboarding.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithTemplates overrides the embedded templates with the *.html files of
// fsys.
func WithTemplates(fsys fs.FS) Option {
	return func(d *Dispatcher) {
		d.templatesFS = fsys
	}
}

// NewDispatcher parses the templates and returns a dispatcher.
func NewDispatcher(cfg Config, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		cfg:  cfg,
		send: smtp.SendMail,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}

	fsys := d.templatesFS
	if fsys == nil {
		sub, err := fs.Sub(templatesFS, "templates")
		if err != nil {
			return nil, err
		}
		fsys = sub
	}

	templates, err := parseTemplates(fsys)
	if err != nil {
		return nil, err
	}
	d.templates = templates

	return d, nil
}

func parseTemplates(fsys fs.FS) (map[string]*template.Template, error) {
	names, err := fs.Glob(fsys, "*.html")
	if err != nil {
		return nil, err
	}

	templates := make(map[string]*template.Template, len(names))
	for _, name := range names {
		tmpl, err := template.ParseFS(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("smtp: failed to parse template %s: %w", name, err)
		}
		templates[strings.TrimSuffix(name, ".html")] = tmpl
	}
	return templates, nil
}

// Trigger renders the workflow template and sends it to recipientEmail.
// Failures are logged and reported as false.
func (d *Dispatcher) Trigger(ctx context.Context, workflow, recipientID, recipientEmail string, payload map[string]any) bool {
	if err := d.Send(ctx, workflow, recipientEmail, payload); err != nil {
		if d.logger != nil {
			d.logger.Error("failed to send notification",
				"workflow", workflow,
				"recipient_id", recipientID,
				"error", err,
			)
		}
		return false
	}
	return true
}

// Send renders and delivers one message.
func (d *Dispatcher) Send(ctx context.Context, workflow, to string, payload map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("smtp: recipient is required")
	}

	subject, body, err := d.Render(workflow, payload)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if d.cfg.Username != "" {
		auth = smtp.PlainAuth("", d.cfg.Username, d.cfg.Password, d.cfg.Host)
	}

	addr := net.JoinHostPort(d.cfg.Host, strconv.Itoa(d.cfg.Port))
	return d.send(addr, auth, d.cfg.From, []string{to}, buildMessage(d.cfg.From, to, subject, body))
}

// Render returns the subject and HTML body for workflow.
func (d *Dispatcher) Render(workflow string, payload map[string]any) (string, string, error) {
	tmpl, ok := d.templates[workflow]
	if !ok {
		return "", "", fmt.Errorf("smtp: no template for workflow %q", workflow)
	}

	var subject bytes.Buffer
	if tmpl.Lookup("subject") != nil {
		if err := tmpl.ExecuteTemplate(&subject, "subject", payload); err != nil {
			return "", "", fmt.Errorf("smtp: failed to render subject: %w", err)
		}
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, payload); err != nil {
		return "", "", fmt.Errorf("smtp: failed to render body: %w", err)
	}

	return strings.TrimSpace(subject.String()), strings.TrimSpace(body.String()), nil
}

func buildMessage(from, to, subject, body string) []byte {
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	msg.WriteString(body)
	return msg.Bytes()
}
