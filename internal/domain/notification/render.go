package notification

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"io"
	"text/template"

	"bract/internal/shared/messages"
)

// Renderer turns a Reminder into message text.
type Renderer struct {
	subject   *template.Template
	body      *htmltemplate.Template
	pushTitle *template.Template
	pushBody  *template.Template
}

type templateData struct {
	Merchant     string
	Amount       string
	DueDate      string
	DaysUntilDue int
	Frequency    string
}

func NewRenderer(m *messages.Messages) (*Renderer, error) {
	subject, err := template.New("subject").Parse(m.EmailSubject)
	if err != nil {
		return nil, fmt.Errorf("invalid email subject template: %w", err)
	}
	body, err := htmltemplate.New("body").Parse(m.EmailBody)
	if err != nil {
		return nil, fmt.Errorf("invalid email body template: %w", err)
	}
	pushTitle, err := template.New("push_title").Parse(m.Push.Title)
	if err != nil {
		return nil, fmt.Errorf("invalid push title template: %w", err)
	}
	pushBody, err := template.New("push_body").Parse(m.Push.Body)
	if err != nil {
		return nil, fmt.Errorf("invalid push body template: %w", err)
	}
	return &Renderer{subject: subject, body: body, pushTitle: pushTitle, pushBody: pushBody}, nil
}

// Email renders the subject and HTML body for a reminder.
func (r *Renderer) Email(rem Reminder) (subject, body string, err error) {
	data := dataFor(rem)
	if subject, err = execute(r.subject, data); err != nil {
		return "", "", err
	}
	if body, err = execute(r.body, data); err != nil {
		return "", "", err
	}
	return subject, body, nil
}

// Push renders the notification title and body for a reminder.
func (r *Renderer) Push(rem Reminder) (title, body string, err error) {
	data := dataFor(rem)
	if title, err = execute(r.pushTitle, data); err != nil {
		return "", "", err
	}
	if body, err = execute(r.pushBody, data); err != nil {
		return "", "", err
	}
	return title, body, nil
}

func dataFor(r Reminder) templateData {
	return templateData{
		Merchant:     r.Stream.DisplayName(),
		Amount:       r.Stream.LastAmount.String(),
		DueDate:      r.Occurrence.String(),
		DaysUntilDue: r.DaysUntilDue(),
		Frequency:    string(r.Stream.Frequency),
	}
}

type executor interface {
	Execute(w io.Writer, data any) error
}

func execute(t executor, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
