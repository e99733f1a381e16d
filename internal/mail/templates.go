package mail

import (
	"bytes"
	"fmt"
	"text/template"
	"time"
)

var (
	applicationReceivedTmpl = template.Must(template.New("application_received").Parse(
		`Hello {{.RecruiterName}},

{{.CandidateName}} ({{.CandidateEmail}}) just applied for {{.JobTitle}}.
{{- if .FitScore}}
Estimated fit score: {{printf "%.0f" .FitScore}}/100
{{- end}}

Review the application: {{.ReviewURL}}

Interviewly
`))

	interviewScheduledTmpl = template.Must(template.New("interview_scheduled").Parse(
		`Hello {{.CandidateName}},

Your interview for {{.JobTitle}} at {{.CompanyName}} has been scheduled.
{{- if .Start}}
When: {{.Start}}
{{- end}}
{{- if .MeetingURL}}
Join here: {{.MeetingURL}}
{{- end}}
{{- if .AIInterview}}
This is an AI-led interview. Find a quiet place and allow about 30 minutes.
{{- end}}

Good luck!
Interviewly
`))
)

// ApplicationReceived 通知招聘者收到新申请。
type ApplicationReceived struct {
	RecruiterEmail string
	RecruiterName  string
	CandidateName  string
	CandidateEmail string
	JobTitle       string
	FitScore       float64
	ReviewURL      string
}

func (d ApplicationReceived) Message() (Message, error) {
	if d.RecruiterName == "" {
		d.RecruiterName = "there"
	}
	text, err := render(applicationReceivedTmpl, d)
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      d.RecruiterEmail,
		ToName:  d.RecruiterName,
		Subject: fmt.Sprintf("New application for %s: %s", d.JobTitle, d.CandidateName),
		Text:    text,
	}, nil
}

// InterviewScheduled tells a candidate about a scheduled interview.
type InterviewScheduled struct {
	CandidateEmail string
	CandidateName  string
	JobTitle       string
	CompanyName    string
	StartsAt       *time.Time
	MeetingURL     string
	AIInterview    bool
}

func (d InterviewScheduled) Message() (Message, error) {
	data := struct {
		InterviewScheduled
		Start string
	}{InterviewScheduled: d}
	if d.StartsAt != nil {
		data.Start = d.StartsAt.UTC().Format("Mon, 02 Jan 2006 15:04 MST")
	}
	text, err := render(interviewScheduledTmpl, data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      d.CandidateEmail,
		ToName:  d.CandidateName,
		Subject: fmt.Sprintf("Interview scheduled: %s at %s", d.JobTitle, d.CompanyName),
		Text:    text,
	}, nil
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}
