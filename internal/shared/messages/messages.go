package messages

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type MessageText struct {
	Title string `yaml:"title"`
	Body  string `yaml:"body"`
}

// Messages holds the reminder templates. Fields use Go template syntax and
// see .Merchant, .Amount, .DueDate, .DaysUntilDue and .Frequency.
type Messages struct {
	EmailSubject string      `yaml:"email_subject"`
	EmailBody    string      `yaml:"email_body"`
	Push         MessageText `yaml:"push"`
}

// Default returns the built-in reminder templates.
func Default() *Messages {
	return &Messages{
		EmailSubject: "Subscription Reminder: {{.Merchant}} due {{.DueDate}}",
		EmailBody:    defaultEmailBody,
		Push: MessageText{
			Title: "{{.Merchant}} renews soon",
			Body:  "{{.Amount}} will be charged on {{.DueDate}}.",
		},
	}
}

// Load reads YAML template overrides from path on top of the defaults.
// An empty path yields the defaults.
func Load(path string) (*Messages, error) {
	m := Default()
	if path == "" {
		return m, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read messages file: %w", err)
	}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse messages file: %w", err)
	}
	return m, nil
}

const defaultEmailBody = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Subscription Reminder</title></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
  <h1 style="color: #2c3e50;">Upcoming payment</h1>
  <p>Your <strong>{{.Merchant}}</strong> subscription is due {{if eq .DaysUntilDue 0}}today{{else if eq .DaysUntilDue 1}}tomorrow{{else}}in {{.DaysUntilDue}} days{{end}}.</p>
  <table style="width: 100%; border-collapse: collapse;">
    <tr><td style="padding: 8px 0;">Service</td><td style="padding: 8px 0; text-align: right;">{{.Merchant}}</td></tr>
    <tr><td style="padding: 8px 0;">Amount</td><td style="padding: 8px 0; text-align: right;">{{.Amount}}</td></tr>
    <tr><td style="padding: 8px 0;">Due date</td><td style="padding: 8px 0; text-align: right;">{{.DueDate}}</td></tr>
  </table>
  <p style="font-size: 12px; color: #7f8c8d;">You are receiving this because you set a reminder for this subscription.</p>
</body>
</html>
`
