package notify

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/alert"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/config"
)

// TimestampLayout formats record times in rendered messages
const TimestampLayout = "2006-01-02 15:04:05"

var defaultTemplates = map[alert.Severity]config.AlertTemplate{
	alert.SeverityLow: {
		Subject: "Low severity alert: {{.RuleName}}",
		Body:    "Low severity event detected:\nRule: {{.RuleName}}\nDescription: {{.Description}}\nTime: {{.Timestamp}}\nLocation: {{.Location}}",
	},
	alert.SeverityMedium: {
		Subject: "Medium severity alert: {{.RuleName}}",
		Body:    "Medium severity event detected:\nRule: {{.RuleName}}\nDescription: {{.Description}}\nTime: {{.Timestamp}}\nLocation: {{.Location}}\n\nPlease review and respond soon.",
	},
	alert.SeverityHigh: {
		Subject: "High severity alert: {{.RuleName}}",
		Body:    "High severity event detected:\nRule: {{.RuleName}}\nDescription: {{.Description}}\nTime: {{.Timestamp}}\nLocation: {{.Location}}\n\nPlease review and respond immediately!",
	},
}

// templateData is what subject and body templates see
type templateData struct {
	RuleName    string
	Description string
	Timestamp   string
	Location    string
	Severity    string
	AlertType   string
	Confidence  float64
}

type pair struct {
	subject *template.Template
	body    *template.Template
}

// Templates renders alert records per severity
type Templates struct {
	bySeverity map[alert.Severity]pair
}

// NewTemplates parses the built-in templates with overrides applied on top
func NewTemplates(overrides map[string]config.AlertTemplate) (*Templates, error) {
	t := &Templates{bySeverity: make(map[alert.Severity]pair)}
	for sev, def := range defaultTemplates {
		tmpl := def
		if o, ok := overrides[string(sev)]; ok {
			if o.Subject != "" {
				tmpl.Subject = o.Subject
			}
			if o.Body != "" {
				tmpl.Body = o.Body
			}
		}

		subject, err := template.New(string(sev) + "-subject").Parse(tmpl.Subject)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s subject template: %w", sev, err)
		}
		body, err := template.New(string(sev) + "-body").Parse(tmpl.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s body template: %w", sev, err)
		}
		t.bySeverity[sev] = pair{subject: subject, body: body}
	}
	return t, nil
}

// Render returns the subject and body for a record. Unknown severities use
// the low templates; missing fields get placeholder text.
func (t *Templates) Render(record alert.Record) (string, string) {
	p, ok := t.bySeverity[record.Severity]
	if !ok {
		p = t.bySeverity[alert.SeverityLow]
	}

	data := templateData{
		RuleName:    orDefault(record.RuleName, "Unknown rule"),
		Description: orDefault(record.Description, "No description"),
		Location:    orDefault(record.Location, "Unknown location"),
		Severity:    string(record.Severity),
		AlertType:   record.AlertType,
		Confidence:  record.Confidence,
	}
	if !record.Timestamp.IsZero() {
		data.Timestamp = record.Timestamp.Format(TimestampLayout)
	}

	return execute(p.subject, data), execute(p.body, data)
}

func execute(tmpl *template.Template, data templateData) string {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Sprintf("%s (template error: %v)", data.RuleName, err)
	}
	return buf.String()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
