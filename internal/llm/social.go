package llm

import (
	"context"
	"fmt"
	"strings"
)

// JobPosting is the input of GenerateSocialPost.
type JobPosting struct {
	Title          string
	CompanyName    string
	Location       string
	EmploymentType string
	Description    string
	MinSalary      *int
	MaxSalary      *int
	Currency       string
	URL            string
}

// SocialPost is a ready-to-share job announcement.
type SocialPost struct {
	Text string `json:"text"`
	Link string `json:"link"`
}

const socialSignature = "\n\n---\nPosted via Interviewly - AI-Powered Hiring Platform"

// GenerateSocialPost writes a LinkedIn-style post ending with the apply link.
func (s *Service) GenerateSocialPost(ctx context.Context, job JobPosting) SocialPost {
	details := []string{"Position: " + job.Title}
	if job.CompanyName != "" {
		details = append(details, "Company: "+job.CompanyName)
	}
	if job.Location != "" {
		details = append(details, "Location: "+job.Location)
	}
	if job.EmploymentType != "" {
		details = append(details, "Type: "+strings.ReplaceAll(job.EmploymentType, "_", " "))
	}
	if salary := salaryRange(job.MinSalary, job.MaxSalary, job.Currency); salary != "" {
		details = append(details, "Salary: "+salary)
	}

	desc := truncate(job.Description, 500)
	if len([]rune(job.Description)) > 500 {
		desc += "..."
	}
	prompt := fmt.Sprintf(`You are a professional social media content creator specializing in job postings.
Create an engaging, professional social media post for this job opportunity:

%s

Job Description:
%s

Requirements:
- The post should be engaging and professional
- Include relevant hashtags (3-5 hashtags)
- Make it compelling to attract qualified candidates
- Keep it concise (150-250 words for LinkedIn, shorter for Twitter)
- Include a call-to-action
- Use an enthusiastic but professional tone
- Highlight key benefits or unique aspects of the role

Format the post as plain text (no markdown). Include hashtags at the end.
Return ONLY the post text, nothing else.`, strings.Join(details, "\n"), desc)

	req := Prompt("You are an expert social media content creator. Create engaging, professional job postings for LinkedIn, Twitter, and other platforms.", prompt)
	text := ""
	if resp, ok := s.complete(ctx, FeatureSocialPost, req); ok {
		text = strings.TrimSpace(resp.Text)
	}
	if text == "" {
		text = fallbackPost(job)
	}

	link := job.URL
	if link == "" {
		link = "https://interviewly.com/jobs/" + strings.ReplaceAll(strings.ToLower(job.Title), " ", "-")
	}
	if !strings.Contains(text, link) {
		text += "\n\n🔗 Apply now: " + link
	}
	text += socialSignature
	return SocialPost{Text: strings.TrimSpace(text), Link: link}
}

func fallbackPost(job JobPosting) string {
	var b strings.Builder
	b.WriteString("🚀 We're hiring! " + job.Title)
	if job.CompanyName != "" {
		b.WriteString(" at " + job.CompanyName)
	}
	if job.Location != "" {
		b.WriteString(" (" + job.Location + ")")
	}
	if job.EmploymentType != "" {
		b.WriteString(" - " + strings.ReplaceAll(job.EmploymentType, "_", " "))
	}
	b.WriteString("\n\nJoin our team and make an impact! Apply now to learn more about this exciting opportunity.")
	b.WriteString("\n\n#Hiring #Jobs #CareerOpportunity")
	if tag := strings.NewReplacer(" ", "", "-", "").Replace(job.Title); tag != "" {
		b.WriteString(" #" + tag)
	}
	return b.String()
}

func salaryRange(minSalary, maxSalary *int, currency string) string {
	if currency == "" {
		currency = "USD"
	}
	switch {
	case minSalary != nil && maxSalary != nil:
		return fmt.Sprintf("%s - %s %s", thousands(*minSalary), thousands(*maxSalary), currency)
	case minSalary != nil:
		return fmt.Sprintf("%s+ %s", thousands(*minSalary), currency)
	case maxSalary != nil:
		return fmt.Sprintf("Up to %s %s", thousands(*maxSalary), currency)
	}
	return ""
}

// thousands formats 85000 as "85,000".
func thousands(n int) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
